package protocol

import (
	"context"
	"log/slog"
)

type TriggerCallback func(ctx context.Context, data map[string]any) error

// Trigger is an external run initiator (schedule, webhook). Triggers deliver
// invocations through the callback; they never touch engine internals.
type Trigger interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
	Validate() error
}

type TriggerFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Trigger, error)
	ID() string
}
