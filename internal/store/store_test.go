package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

func ptr(v float64) *float64 { return &v }

func testDoc(id, airqloud string, createdAt time.Time) *model.PredictionDocument {
	return &model.PredictionDocument{
		ID:         id,
		AirQloud:   airqloud,
		AirQloudID: model.AirQloudID("uganda", airqloud),
		CreatedAt:  createdAt,
		Values: []model.PredictionPoint{
			{Latitude: 0.31, Longitude: 32.58, PredictedValue: ptr(35.2)},
			{Latitude: 0.33, Longitude: 32.61},
		},
	}
}

type slowStore struct {
	ResultStore
	active  atomic.Int32
	overlap atomic.Bool
}

func (s *slowStore) Replace(_ context.Context, _ *model.PredictionDocument) error {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	time.Sleep(5 * time.Millisecond)
	s.active.Add(-1)
	return nil
}

func TestSerialized_SameKeyNeverOverlaps(t *testing.T) {
	inner := &slowStore{}
	s := NewSerialized(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Replace(context.Background(), testDoc("x", "Kampala", time.Now())))
		}()
	}
	wg.Wait()

	assert.False(t, inner.overlap.Load())
	assert.Empty(t, s.locks, "locks released after use")
}

type blockingStore struct {
	ResultStore
	entered chan string
	release chan struct{}
}

func (b *blockingStore) Replace(_ context.Context, doc *model.PredictionDocument) error {
	b.entered <- doc.AirQloud
	<-b.release
	return nil
}

func TestSerialized_DifferentKeysRunConcurrently(t *testing.T) {
	inner := &blockingStore{entered: make(chan string, 2), release: make(chan struct{})}
	s := NewSerialized(inner)

	var wg sync.WaitGroup
	for _, city := range []string{"Kampala", "Jinja"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Replace(context.Background(), testDoc(city, city, time.Now()))
		}()
	}

	got := map[string]bool{}
	for range 2 {
		select {
		case city := <-inner.entered:
			got[city] = true
		case <-time.After(2 * time.Second):
			t.Fatal("second key blocked by first")
		}
	}
	close(inner.release)
	wg.Wait()
	assert.Len(t, got, 2)
}

func TestLatestPerAirQloud(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	docs := []model.PredictionDocument{
		*testDoc("a1", "Kampala", t0),
		*testDoc("b1", "Jinja", t0.Add(time.Hour)),
		*testDoc("a2", "Kampala", t0.Add(2*time.Hour)),
	}
	got := latestPerAirQloud(docs)
	require.Len(t, got, 2)
	assert.Equal(t, "b1", got[0].ID)
	assert.Equal(t, "a2", got[1].ID)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mongodb"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestOpen_MissingSettings(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: DriverPostgres})
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = Open(context.Background(), Options{Driver: DriverFirestore})
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = Open(context.Background(), Options{Driver: DriverMongo})
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}
