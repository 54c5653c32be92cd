// Package store persists prediction documents. Every backend replaces all
// documents of an airqloud atomically.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// Collection is the table or collection holding prediction documents.
const Collection = "idw_model_predictions"

// ResultStore persists prediction documents keyed by airqloud.
type ResultStore interface {
	// Replace deletes every document with doc.AirQloud and inserts doc as one
	// atomic operation.
	Replace(ctx context.Context, doc *model.PredictionDocument) error
	// Find returns the documents of an airqloud, newest first.
	Find(ctx context.Context, airqloud string) ([]model.PredictionDocument, error)
	// Latest returns the newest document of every airqloud, ordered by airqloud.
	Latest(ctx context.Context) ([]model.PredictionDocument, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Serialized wraps a ResultStore so that Replace calls for the same airqloud
// never overlap within this process.
type Serialized struct {
	ResultStore

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewSerialized wraps s.
func NewSerialized(s ResultStore) *Serialized {
	return &Serialized{ResultStore: s, locks: make(map[string]*keyLock)}
}

// Replace holds the airqloud's lock for the duration of the underlying Replace.
func (s *Serialized) Replace(ctx context.Context, doc *model.PredictionDocument) error {
	unlock := s.lock(doc.AirQloud)
	defer unlock()
	return s.ResultStore.Replace(ctx, doc)
}

func (s *Serialized) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// latestPerAirQloud keeps the newest document of each airqloud and orders the
// result by airqloud.
func latestPerAirQloud(docs []model.PredictionDocument) []model.PredictionDocument {
	newest := make(map[string]int, len(docs))
	for i, d := range docs {
		j, ok := newest[d.AirQloud]
		if !ok || d.CreatedAt.After(docs[j].CreatedAt) {
			newest[d.AirQloud] = i
		}
	}
	out := make([]model.PredictionDocument, 0, len(newest))
	for _, i := range newest {
		out = append(out, docs[i])
	}
	sort.Slice(out, func(a, b int) bool { return out[a].AirQloud < out[b].AirQloud })
	return out
}

func newestFirst(docs []model.PredictionDocument) {
	sort.SliceStable(docs, func(a, b int) bool { return docs[a].CreatedAt.After(docs[b].CreatedAt) })
}
