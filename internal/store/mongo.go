package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// DefaultMongoDatabase is the database the heatmap frontend reads.
const DefaultMongoDatabase = "airqo_netmanager_staging"

// codeIllegalOperation is returned by a standalone server for transactions.
const codeIllegalOperation = 20

// MongoStore implements ResultStore on a MongoDB collection using the
// document layout the heatmap frontend aggregates over.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo connects to uri and pings the server.
func NewMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, eris.Wrap(err, "mongo: ping")
	}
	return NewMongoFromClient(client, database, collection), nil
}

// NewMongoFromClient wraps an existing client.
func NewMongoFromClient(client *mongo.Client, database, collection string) *MongoStore {
	if database == "" {
		database = DefaultMongoDatabase
	}
	if collection == "" {
		collection = Collection
	}
	return &MongoStore{client: client, coll: client.Database(database).Collection(collection)}
}

// Migrate creates the airqloud/created_at index used by Find and Latest.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "airqloud", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("airqloud_created_at"),
	})
	return eris.Wrap(err, "mongo: create index")
}

func (s *MongoStore) Close() error {
	return eris.Wrap(s.client.Disconnect(context.Background()), "mongo: disconnect")
}

// Replace runs delete and insert in one transaction. A standalone server has
// no transactions, so there the new document is inserted before the old ones
// are deleted and readers never see the airqloud empty.
func (s *MongoStore) Replace(ctx context.Context, doc *model.PredictionDocument) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return eris.Wrap(err, "mongo: start session")
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.coll.DeleteMany(sc, bson.M{"airqloud": doc.AirQloud}); err != nil {
			return nil, err
		}
		_, err := s.coll.InsertOne(sc, doc)
		return nil, err
	})
	if isStandalone(err) {
		zap.L().Debug("mongo: transactions unsupported, replacing without one",
			zap.String("airqloud", doc.AirQloud))
		err = s.replaceOrdered(ctx, doc)
	}
	return eris.Wrapf(err, "mongo: replace %s", doc.AirQloud)
}

func (s *MongoStore) replaceOrdered(ctx context.Context, doc *model.PredictionDocument) error {
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return err
	}
	_, err := s.coll.DeleteMany(ctx, bson.M{"airqloud": doc.AirQloud, "_id": bson.M{"$ne": doc.ID}})
	return err
}

func isStandalone(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(codeIllegalOperation)
}

func (s *MongoStore) Find(ctx context.Context, airqloud string) ([]model.PredictionDocument, error) {
	cur, err := s.coll.Find(ctx, bson.M{"airqloud": airqloud},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, eris.Wrapf(err, "mongo: find %s", airqloud)
	}
	return decodeCursor(ctx, cur)
}

// Latest groups by airqloud keeping the newest document, as the frontend does.
func (s *MongoStore) Latest(ctx context.Context) ([]model.PredictionDocument, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$airqloud"},
			{Key: "latest", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$latest"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "airqloud", Value: 1}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, eris.Wrap(err, "mongo: latest")
	}
	return decodeCursor(ctx, cur)
}

func decodeCursor(ctx context.Context, cur *mongo.Cursor) ([]model.PredictionDocument, error) {
	docs := make([]model.PredictionDocument, 0)
	if err := cur.All(ctx, &docs); err != nil {
		return nil, eris.Wrap(err, "mongo: decode")
	}
	for i := range docs {
		docs[i].CreatedAt = docs[i].CreatedAt.UTC()
	}
	return docs, nil
}
