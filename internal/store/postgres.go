package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/airqo-platform/heatmap-cli/internal/db"
	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// PostgresStore implements ResultStore on PostgreSQL with PostGIS. Grid points
// are kept as JSONB for readers and as a MultiPoint geometry for spatial queries.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects to PostgreSQL.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS idw_model_predictions (
	id          TEXT PRIMARY KEY,
	airqloud    TEXT NOT NULL,
	airqloud_id TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	points      JSONB NOT NULL,
	geom        geometry(MultiPoint, 4326)
);

CREATE INDEX IF NOT EXISTS idx_idw_model_predictions_airqloud ON idw_model_predictions(airqloud, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_idw_model_predictions_geom ON idw_model_predictions USING GIST (geom);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Replace runs delete-then-insert in one transaction. A transaction-scoped
// advisory lock on the airqloud serializes writers across processes.
func (s *PostgresStore) Replace(ctx context.Context, doc *model.PredictionDocument) error {
	points, err := json.Marshal(doc.Values)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal points")
	}
	shape, err := multiPointEWKB(doc.Values)
	if err != nil {
		return err
	}

	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doc.AirQloud); err != nil {
			return eris.Wrapf(err, "postgres: lock %s", doc.AirQloud)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM idw_model_predictions WHERE airqloud = $1`, doc.AirQloud); err != nil {
			return eris.Wrapf(err, "postgres: delete %s", doc.AirQloud)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO idw_model_predictions (id, airqloud, airqloud_id, created_at, points, geom)
			 VALUES ($1, $2, $3, $4, $5, ST_GeomFromEWKB($6))`,
			doc.ID, doc.AirQloud, doc.AirQloudID, doc.CreatedAt.UTC(), points, shape,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert %s", doc.AirQloud)
		}
		return nil
	})
	return eris.Wrapf(err, "postgres: replace %s", doc.AirQloud)
}

func (s *PostgresStore) Find(ctx context.Context, airqloud string) ([]model.PredictionDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, airqloud, airqloud_id, created_at, points FROM idw_model_predictions
		 WHERE airqloud = $1 ORDER BY created_at DESC`, airqloud)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find %s", airqloud)
	}
	return collectDocuments(rows)
}

func (s *PostgresStore) Latest(ctx context.Context) ([]model.PredictionDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (airqloud) id, airqloud, airqloud_id, created_at, points
		 FROM idw_model_predictions ORDER BY airqloud, created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest")
	}
	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]model.PredictionDocument, error) {
	defer rows.Close()

	var docs []model.PredictionDocument
	for rows.Next() {
		var d model.PredictionDocument
		var points []byte
		if err := rows.Scan(&d.ID, &d.AirQloud, &d.AirQloudID, &d.CreatedAt, &points); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		d.CreatedAt = d.CreatedAt.UTC()
		if err := json.Unmarshal(points, &d.Values); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal points of %s", d.ID)
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: iterate documents")
}

// multiPointEWKB encodes the grid as an SRID 4326 MultiPoint. An empty grid
// encodes as nil so the geometry column stays NULL.
func multiPointEWKB(points []model.PredictionPoint) ([]byte, error) {
	if len(points) == 0 {
		return nil, nil
	}
	flat := make([]float64, 0, 2*len(points))
	for _, p := range points {
		flat = append(flat, p.Longitude, p.Latitude)
	}
	mp := geom.NewMultiPointFlat(geom.XY, flat).SetSRID(4326)
	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode multipoint")
	}
	return data, nil
}
