package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stride-run/stride/pkg/ratelimit"
)

// NewRateLimiter picks a limiter backend from the URL scheme. An empty URL
// selects the in-process memory backend.
func NewRateLimiter(ctx context.Context, logger *slog.Logger, url string) (ratelimit.Limiter, error) {
	switch {
	case url == "":
		return ratelimit.NewMemoryLimiter(), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return ratelimit.NewRedisLimiter(ctx, logger, url)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return ratelimit.NewSQLLimiter(ctx, logger, url)
	default:
		return nil, fmt.Errorf("unsupported rate limiter URL: %s", url)
	}
}
