package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// SQLiteStore implements ResultStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS idw_model_predictions (
	id          TEXT PRIMARY KEY,
	airqloud    TEXT NOT NULL,
	airqloud_id TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	points      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_idw_model_predictions_airqloud ON idw_model_predictions(airqloud);
CREATE INDEX IF NOT EXISTS idx_idw_model_predictions_created_at ON idw_model_predictions(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Replace(ctx context.Context, doc *model.PredictionDocument) error {
	points, err := json.Marshal(doc.Values)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal points")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM idw_model_predictions WHERE airqloud = ?`, doc.AirQloud,
	); err != nil {
		return eris.Wrapf(err, "sqlite: delete %s", doc.AirQloud)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO idw_model_predictions (id, airqloud, airqloud_id, created_at, points) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.AirQloud, doc.AirQloudID, doc.CreatedAt.UTC(), string(points),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert %s", doc.AirQloud)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) Find(ctx context.Context, airqloud string) ([]model.PredictionDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, airqloud, airqloud_id, created_at, points FROM idw_model_predictions
		 WHERE airqloud = ? ORDER BY created_at DESC`, airqloud)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find %s", airqloud)
	}
	return scanDocuments(rows)
}

func (s *SQLiteStore) Latest(ctx context.Context) ([]model.PredictionDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, airqloud, airqloud_id, created_at, points FROM idw_model_predictions
		 ORDER BY airqloud, created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest")
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	return latestPerAirQloud(docs), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocuments(rows *sql.Rows) ([]model.PredictionDocument, error) {
	defer rows.Close()

	var docs []model.PredictionDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}

func scanDocument(row scannable) (*model.PredictionDocument, error) {
	var d model.PredictionDocument
	var points string
	if err := row.Scan(&d.ID, &d.AirQloud, &d.AirQloudID, &d.CreatedAt, &points); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}
	d.CreatedAt = d.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(points), &d.Values); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal points of %s", d.ID)
	}
	return &d, nil
}
