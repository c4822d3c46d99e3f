// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	"github.com/stride-run/stride/pkg/handlers/model"
	"github.com/stride-run/stride/pkg/handlers/shell"
	"github.com/stride-run/stride/pkg/handlers/transform"
	"github.com/stride-run/stride/pkg/protocol"
	"github.com/stride-run/stride/pkg/registry"
)

// NewRegistry builds a handler registry with every native step type
// registered. The model client backs all model steps.
func NewRegistry(logger *slog.Logger, client protocol.ModelClient) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.Register(shell.NewFactory())
	reg.Register(transform.NewFactory())
	reg.Register(model.NewFactory(client))

	return reg
}
