package store

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// FirestoreStore implements ResultStore on a Firestore collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestore connects to Firestore. When credentialsFile is empty the
// default application credentials (or FIRESTORE_EMULATOR_HOST) are used.
func NewFirestore(ctx context.Context, projectID, collection, credentialsFile string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, eris.Wrapf(err, "firestore: create client for %s", projectID)
	}
	return NewFirestoreFromClient(client, collection), nil
}

// NewFirestoreFromClient wraps an existing client.
func NewFirestoreFromClient(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = Collection
	}
	return &FirestoreStore{client: client, collection: collection}
}

// Migrate is a no-op; Firestore collections are created on first write.
func (s *FirestoreStore) Migrate(context.Context) error { return nil }

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) Replace(ctx context.Context, doc *model.PredictionDocument) error {
	col := s.client.Collection(s.collection)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads must precede writes inside a transaction.
		snaps, err := tx.Documents(col.Where("airqloud", "==", doc.AirQloud)).GetAll()
		if err != nil {
			return eris.Wrapf(err, "firestore: query %s", doc.AirQloud)
		}
		for _, snap := range snaps {
			if err := tx.Delete(snap.Ref); err != nil {
				return eris.Wrapf(err, "firestore: delete %s", snap.Ref.ID)
			}
		}
		return tx.Create(col.Doc(doc.ID), doc)
	})
	return eris.Wrapf(err, "firestore: replace %s", doc.AirQloud)
}

func (s *FirestoreStore) Find(ctx context.Context, airqloud string) ([]model.PredictionDocument, error) {
	snaps, err := s.client.Collection(s.collection).Where("airqloud", "==", airqloud).Documents(ctx).GetAll()
	if err != nil {
		return nil, eris.Wrapf(err, "firestore: find %s", airqloud)
	}
	docs, err := decodeSnapshots(snaps)
	if err != nil {
		return nil, err
	}
	newestFirst(docs)
	return docs, nil
}

func (s *FirestoreStore) Latest(ctx context.Context) ([]model.PredictionDocument, error) {
	snaps, err := s.client.Collection(s.collection).OrderBy("created_at", firestore.Desc).Documents(ctx).GetAll()
	if err != nil {
		return nil, eris.Wrap(err, "firestore: latest")
	}
	docs, err := decodeSnapshots(snaps)
	if err != nil {
		return nil, err
	}
	return latestPerAirQloud(docs), nil
}

func decodeSnapshots(snaps []*firestore.DocumentSnapshot) ([]model.PredictionDocument, error) {
	docs := make([]model.PredictionDocument, 0, len(snaps))
	for _, snap := range snaps {
		var d model.PredictionDocument
		if err := snap.DataTo(&d); err != nil {
			return nil, eris.Wrapf(err, "firestore: decode %s", snap.Ref.ID)
		}
		d.ID = snap.Ref.ID
		d.CreatedAt = d.CreatedAt.UTC()
		docs = append(docs, d)
	}
	return docs, nil
}
