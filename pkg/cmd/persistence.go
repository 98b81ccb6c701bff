package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence/file"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence/postgresql"
)

// NewPersistence opens the store named by databaseURL. postgres:// and
// postgresql:// URLs select PostgreSQL; file:// or a bare path selects the
// file store. The returned *sql.DB is nil for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, *sql.DB, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, nil, err
		}

		return store, store.DB(), nil
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil, nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
