package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

// newTestMongo connects to the server named by HEATMAP_TEST_MONGO_URI, using a
// fresh collection per test.
func newTestMongo(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("HEATMAP_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("HEATMAP_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := NewMongo(ctx, uri, "heatmap_test", "predictions_"+uuid.NewString()[:8])
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() {
		_ = s.coll.Drop(context.Background())
		s.Close() //nolint:errcheck
	})
	return s
}

func TestMongo_ReplaceRoundTrip(t *testing.T) {
	s := newTestMongo(t)
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
	assert.Equal(t, "Kampala", latest[1].AirQloud)
}

func TestMongo_FindUnknownIsEmpty(t *testing.T) {
	s := newTestMongo(t)
	docs, err := s.Find(context.Background(), "Nowhere")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIsStandalone(t *testing.T) {
	standalone := mongo.CommandError{
		Code:    codeIllegalOperation,
		Message: "Transaction numbers are only allowed on a replica set member or mongos",
	}
	assert.True(t, isStandalone(standalone))
	assert.True(t, isStandalone(eris.Wrap(standalone, "mongo: replace")))

	assert.False(t, isStandalone(nil))
	assert.False(t, isStandalone(errors.New("boom")))
	assert.False(t, isStandalone(mongo.CommandError{Code: 11000}))
}

func TestNewMongoFromClient_Defaults(t *testing.T) {
	client, err := mongo.NewClient()
	require.NoError(t, err)

	s := NewMongoFromClient(client, "", "")
	assert.Equal(t, DefaultMongoDatabase, s.coll.Database().Name())
	assert.Equal(t, Collection, s.coll.Name())
}
