package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stride-run/stride/pkg/checkpoint"
)

// NewCheckpointStore picks a checkpoint backend from the database URL. An
// empty URL keeps run history in process memory only.
func NewCheckpointStore(ctx context.Context, logger *slog.Logger, databaseURL string) (checkpoint.Store, error) {
	switch {
	case databaseURL == "":
		return checkpoint.NewMemoryStore(), nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return checkpoint.NewPostgresStore(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store URL: %s", databaseURL)
	}
}
