package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deskflowhq/deskflow/pkg/persistence"
	"github.com/deskflowhq/deskflow/pkg/persistence/memory"
	"github.com/deskflowhq/deskflow/pkg/persistence/postgres"
)

// NewPersistence selects the storage backend from the database URL
// scheme. An empty URL or "memory://" keeps everything in process;
// "postgres://" connects to PostgreSQL and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgres.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize PostgreSQL persistence: %w", err))
		}

		return p
	default:
		return memory.NewPersistence()
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	return provider
}
