// Package api serves stored prediction surfaces over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// Store is the read side of the result store.
type Store interface {
	Find(ctx context.Context, airqloud string) ([]model.PredictionDocument, error)
	Latest(ctx context.Context) ([]model.PredictionDocument, error)
}

// Options configure the server.
type Options struct {
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
	// AirQlouds is the default heatmap filter when a request names none.
	AirQlouds []string
}

// HeatmapPoint is one flattened grid point of the latest heatmap.
type HeatmapPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	PM25      float64   `json:"pm2_5"`
	Timestamp time.Time `json:"timestamp"`
	City      string    `json:"city"`
}

// Server routes read requests to a Store.
type Server struct {
	store     Store
	airqlouds []string
	router    chi.Router
}

// NewServer builds the router.
func NewServer(st Store, opts Options) *Server {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{store: st, airqlouds: opts.AirQlouds, router: chi.NewRouter()}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/heatmap", s.handleHeatmap)
		r.Get("/predictions/{airqloud}", s.handlePredictions)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHeatmap returns the latest document of each requested airqloud,
// flattened to points. Points without a value are left out.
func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	wanted := r.URL.Query()["airqloud"]
	if len(wanted) == 0 {
		wanted = s.airqlouds
	}

	docs, err := s.store.Latest(r.Context())
	if err != nil {
		zap.L().Error("api: load latest predictions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load predictions")
		return
	}

	docs = filterAirQlouds(docs, wanted)
	points := Flatten(docs)
	if len(points) == 0 {
		writeError(w, http.StatusNotFound, "no heatmap data")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	airqloud, err := url.PathUnescape(chi.URLParam(r, "airqloud"))
	if err != nil || airqloud == "" {
		writeError(w, http.StatusBadRequest, "invalid airqloud")
		return
	}

	docs, err := s.store.Find(r.Context(), airqloud)
	if err != nil {
		zap.L().Error("api: find predictions", zap.String("airqloud", airqloud), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load predictions")
		return
	}
	if len(docs) == 0 {
		writeError(w, http.StatusNotFound, "no predictions for "+airqloud)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// Flatten turns documents into heatmap points, skipping undefined values.
func Flatten(docs []model.PredictionDocument) []HeatmapPoint {
	var out []HeatmapPoint
	for _, d := range docs {
		for _, v := range d.Values {
			if v.PredictedValue == nil {
				continue
			}
			out = append(out, HeatmapPoint{
				Latitude:  v.Latitude,
				Longitude: v.Longitude,
				PM25:      *v.PredictedValue,
				Timestamp: d.CreatedAt,
				City:      d.AirQloud,
			})
		}
	}
	return out
}

// filterAirQlouds keeps documents whose airqloud matches one of names,
// ignoring case. No names keeps everything.
func filterAirQlouds(docs []model.PredictionDocument, names []string) []model.PredictionDocument {
	if len(names) == 0 {
		return docs
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[model.FoldKey(n)] = true
	}
	var out []model.PredictionDocument
	for _, d := range docs {
		if keep[model.FoldKey(d.AirQloud)] {
			out = append(out, d)
		}
	}
	return out
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
