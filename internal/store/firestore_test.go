package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmulatorFirestore connects to the emulator named by FIRESTORE_EMULATOR_HOST,
// using a fresh collection per test.
func newEmulatorFirestore(t *testing.T) *FirestoreStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	s, err := NewFirestore(context.Background(), "heatmap-test", "predictions_"+uuid.NewString()[:8], "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func TestFirestore_ReplaceRoundTrip(t *testing.T) {
	s := newEmulatorFirestore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Replace(ctx, testDoc(uuid.NewString(), "Kampala", t0)))
	second := testDoc(uuid.NewString(), "Kampala", t0.Add(time.Hour))
	require.NoError(t, s.Replace(ctx, second))
	require.NoError(t, s.Replace(ctx, testDoc(uuid.NewString(), "Jinja", t0)))

	docs, err := s.Find(ctx, "Kampala")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, second.ID, docs[0].ID)
	assert.True(t, second.CreatedAt.Equal(docs[0].CreatedAt))
	assert.Equal(t, second.Values, docs[0].Values)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "Jinja", latest[0].AirQloud)
}
