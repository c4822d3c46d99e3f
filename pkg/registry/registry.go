// Package registry maps step types to handler factories. The step type set
// is closed; executing a workflow that names an unregistered type is a
// definition error, not a retryable condition.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/protocol"
)

// ErrUnknownStepType reports a step type with no registered factory.
var ErrUnknownStepType = errors.New("unknown step type")

// Registry holds the handler factories available to the executor.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[models.StepType]protocol.HandlerFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[models.StepType]protocol.HandlerFactory),
	}
}

// Register adds a factory under its declared step type, replacing any
// previous registration for that type.
func (r *Registry) Register(factory protocol.HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
	r.logger.Debug("Registered step handler factory", "step_type", factory.ID())
}

// CreateHandler instantiates a handler for the step type with the given
// configuration.
func (r *Registry) CreateHandler(ctx context.Context, stepType models.StepType, config map[string]any) (protocol.Handler, error) {
	r.mu.RLock()
	factory, exists := r.factories[stepType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepType, stepType)
	}

	handler, err := factory.Create(config)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to create step handler", "step_type", stepType, "error", err)

		return nil, fmt.Errorf("failed to create handler for step type %s: %w", stepType, err)
	}

	return handler, nil
}

// Contains reports whether a factory is registered for the step type.
func (r *Registry) Contains(stepType models.StepType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[stepType]

	return exists
}

// StepTypes lists the registered step types.
func (r *Registry) StepTypes() []models.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.StepType, 0, len(r.factories))
	for stepType := range r.factories {
		types = append(types, stepType)
	}

	return types
}
