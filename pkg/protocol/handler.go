// Package protocol defines the interfaces and contracts between the workflow
// engine and its pluggable collaborators.
package protocol

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stride-run/stride/pkg/models"
)

// ErrProviderThrottled is returned (possibly wrapped) by handlers when the
// upstream provider signals explicit throttling, e.g. an HTTP 429. The
// dispatcher uses it to shed load adaptively.
var ErrProviderThrottled = errors.New("provider throttled request")

// Handler executes one step against a snapshot of the execution context and
// returns the step's output mapping. A handler that consumed billable
// resources reports them under the "resource_units" output key.
type Handler interface {
	Execute(ctx context.Context, step *models.Step, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
}

// HandlerFactory creates handler instances and describes the step type it
// serves.
type HandlerFactory interface {
	Create(config map[string]any) (Handler, error)
	ID() models.StepType
	Name() string
	Description() string
	Schema() map[string]any
}

// ResourceUnitsKey is the output key under which handlers report consumed
// resource units (tokens, credits) for budget accounting.
const ResourceUnitsKey = "resource_units"

// ResourceUnits extracts the reported resource units from a handler output,
// tolerating the numeric types JSON decoding produces.
func ResourceUnits(output map[string]any) int {
	switch v := output[ResourceUnitsKey].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
