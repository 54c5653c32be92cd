package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

type fakeStore struct {
	docs []model.PredictionDocument
	err  error
}

func (f *fakeStore) Find(_ context.Context, airqloud string) ([]model.PredictionDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.PredictionDocument
	for _, d := range f.docs {
		if d.AirQloud == airqloud {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) Latest(_ context.Context) ([]model.PredictionDocument, error) {
	return f.docs, f.err
}

func ptr(v float64) *float64 { return &v }

var created = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func sampleDocs() []model.PredictionDocument {
	return []model.PredictionDocument{
		{
			ID: "a", AirQloud: "Kampala", AirQloudID: "uganda_kampala", CreatedAt: created,
			Values: []model.PredictionPoint{
				{Latitude: 0.3, Longitude: 32.5, PredictedValue: ptr(41.2)},
				{Latitude: 0.31, Longitude: 32.51, PredictedValue: nil},
			},
		},
		{
			ID: "b", AirQloud: "Nairobi", AirQloudID: "kenya_nairobi", CreatedAt: created,
			Values: []model.PredictionPoint{
				{Latitude: -1.28, Longitude: 36.82, PredictedValue: ptr(18)},
			},
		},
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, NewServer(&fakeStore{}, Options{}), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHeatmap_AllAirQlouds(t *testing.T) {
	rec := get(t, NewServer(&fakeStore{docs: sampleDocs()}, Options{}), "/api/v1/heatmap")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var points []HeatmapPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 2)
	assert.Equal(t, HeatmapPoint{Latitude: 0.3, Longitude: 32.5, PM25: 41.2, Timestamp: created, City: "Kampala"}, points[0])
	assert.Equal(t, "Nairobi", points[1].City)
}

func TestHeatmap_FilterIgnoresCase(t *testing.T) {
	rec := get(t, NewServer(&fakeStore{docs: sampleDocs()}, Options{}), "/api/v1/heatmap?airqloud=nairobi")
	require.Equal(t, http.StatusOK, rec.Code)

	var points []HeatmapPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(t, "Nairobi", points[0].City)
}

func TestHeatmap_DefaultFilter(t *testing.T) {
	srv := NewServer(&fakeStore{docs: sampleDocs()}, Options{AirQlouds: []string{"KAMPALA"}})

	var points []HeatmapPoint
	rec := get(t, srv, "/api/v1/heatmap")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(t, "Kampala", points[0].City)

	// An explicit filter wins over the default.
	rec = get(t, srv, "/api/v1/heatmap?airqloud=Nairobi&airqloud=Kampala")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	assert.Len(t, points, 2)
}

func TestHeatmap_NotFound(t *testing.T) {
	rec := get(t, NewServer(&fakeStore{docs: sampleDocs()}, Options{}), "/api/v1/heatmap?airqloud=Lagos")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"no heatmap data"}`, rec.Body.String())
}

func TestHeatmap_StoreError(t *testing.T) {
	rec := get(t, NewServer(&fakeStore{err: errors.New("down")}, Options{}), "/api/v1/heatmap")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "down")
}

func TestPredictions(t *testing.T) {
	srv := NewServer(&fakeStore{docs: sampleDocs()}, Options{})

	rec := get(t, srv, "/api/v1/predictions/Kampala")
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []model.PredictionDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
	require.Len(t, docs[0].Values, 2)
	assert.Nil(t, docs[0].Values[1].PredictedValue)

	rec = get(t, srv, "/api/v1/predictions/Lagos")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictions_StoreError(t *testing.T) {
	rec := get(t, NewServer(&fakeStore{err: errors.New("down")}, Options{}), "/api/v1/predictions/Kampala")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORS(t *testing.T) {
	srv := NewServer(&fakeStore{docs: sampleDocs()}, Options{AllowedOrigins: []string{"https://airqo.net"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://airqo.net")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "https://airqo.net", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestFlatten_SkipsUndefined(t *testing.T) {
	points := Flatten(sampleDocs()[:1])
	require.Len(t, points, 1)
	assert.InDelta(t, 41.2, points[0].PM25, 1e-9)
	assert.Empty(t, Flatten(nil))
}
