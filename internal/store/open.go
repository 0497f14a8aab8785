package store

import (
	"context"
	"fmt"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the Store for driver. path is used by SQLite, dsn by
// PostgreSQL.
func Open(ctx context.Context, driver, path, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(path)
	case DriverPostgres:
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
