package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/db"
	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// Drivers accepted by Open.
const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
	DriverMongo     = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Driver           string
	DatabaseURL      string
	FirestoreProject string
	Database         string
	Collection       string
	CredentialsFile  string
	Pool             *db.PoolConfig
}

// Open creates the backend named by opts.Driver, wrapped in Serialized.
func Open(ctx context.Context, opts Options) (*Serialized, error) {
	var (
		s   ResultStore
		err error
	)
	switch strings.ToLower(opts.Driver) {
	case DriverSQLite, "":
		dsn := opts.DatabaseURL
		if dsn == "" {
			dsn = "heatmap.db"
		}
		s, err = NewSQLite(dsn)
	case DriverPostgres:
		if opts.DatabaseURL == "" {
			return nil, eris.Wrap(model.ErrConfiguration, "store: postgres requires store.database_url")
		}
		s, err = NewPostgres(ctx, opts.DatabaseURL, opts.Pool)
	case DriverFirestore:
		if opts.FirestoreProject == "" {
			return nil, eris.Wrap(model.ErrConfiguration, "store: firestore requires store.firestore_project")
		}
		s, err = NewFirestore(ctx, opts.FirestoreProject, opts.Collection, opts.CredentialsFile)
	case DriverMongo:
		if opts.DatabaseURL == "" {
			return nil, eris.Wrap(model.ErrConfiguration, "store: mongo requires store.database_url")
		}
		s, err = NewMongo(ctx, opts.DatabaseURL, opts.Database, opts.Collection)
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "store: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: open %s", opts.Driver)
	}

	zap.L().Debug("store: opened", zap.String("driver", opts.Driver))
	return NewSerialized(s), nil
}
