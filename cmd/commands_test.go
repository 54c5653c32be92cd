package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

func TestListBoundaries(t *testing.T) {
	c := testConfig(t, "http://unused")

	var out bytes.Buffer
	require.NoError(t, listBoundaries(context.Background(), &out, initBoundaries(c), "Uganda"))
	assert.Contains(t, out.String(), "uganda: 2 regions")
	assert.Contains(t, out.String(), "Jinja\n")
	assert.Contains(t, out.String(), "Kampala\n")
}

func TestListBoundaries_MissingFile(t *testing.T) {
	c := testConfig(t, "http://unused")

	err := listBoundaries(context.Background(), &bytes.Buffer{}, initBoundaries(c), "Kenya")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNoBoundaryFile))
}

type flakyStore struct {
	migrateErrs []error
	calls       int
	stubStore
}

type stubStore struct{}

func (stubStore) Replace(context.Context, *model.PredictionDocument) error { return nil }
func (stubStore) Find(context.Context, string) ([]model.PredictionDocument, error) {
	return nil, nil
}
func (stubStore) Latest(context.Context) ([]model.PredictionDocument, error) { return nil, nil }
func (stubStore) Close() error                                                { return nil }

func (f *flakyStore) Migrate(context.Context) error {
	f.calls++
	if f.calls <= len(f.migrateErrs) {
		return f.migrateErrs[f.calls-1]
	}
	return nil
}

func TestMigrateStore_RetriesUntilReady(t *testing.T) {
	c := testConfig(t, "http://unused")
	c.Retry.MaxAttempts = 3

	st := &flakyStore{migrateErrs: []error{errors.New("connection refused"), errors.New("connection refused")}}
	require.NoError(t, migrateStore(context.Background(), c, st))
	assert.Equal(t, 3, st.calls)
}

func TestMigrateStore_GivesUp(t *testing.T) {
	c := testConfig(t, "http://unused")
	c.Retry.MaxAttempts = 2

	st := &flakyStore{migrateErrs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	require.Error(t, migrateStore(context.Background(), c, st))
	assert.Equal(t, 2, st.calls)
}

func TestMigrateStore_ConfigurationNotRetried(t *testing.T) {
	c := testConfig(t, "http://unused")
	c.Retry.MaxAttempts = 5

	st := &flakyStore{migrateErrs: []error{model.ErrConfiguration}}
	require.Error(t, migrateStore(context.Background(), c, st))
	assert.Equal(t, 1, st.calls)
}

func TestInitStore_SQLite(t *testing.T) {
	c := testConfig(t, "http://unused")
	st, err := initStore(context.Background(), c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	_, err = os.Stat(filepath.Clean(c.Store.DatabaseURL))
	assert.NoError(t, err)
}

func TestInitAirQo_RequiresToken(t *testing.T) {
	c := testConfig(t, "http://unused")
	c.AirQo.Token = ""
	_, err := initAirQo(c)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}
