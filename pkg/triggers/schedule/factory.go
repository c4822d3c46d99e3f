package schedule

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/stride-run/stride/pkg/protocol"
)

var ErrConfigNil = errors.New("config cannot be nil")

func NewFactory() protocol.TriggerFactory {
	return &Factory{}
}

type Factory struct{}

func (f *Factory) ID() string {
	return "schedule"
}

func (f *Factory) Create(config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	trigger, err := NewTrigger(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule trigger: %w", err)
	}

	return trigger, nil
}
