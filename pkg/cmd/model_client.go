package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/stride-run/stride/pkg/providers/httpmodel"
)

// providersEnvVar holds a JSON object mapping provider names to their
// endpoint configuration, for example:
//
//	{"openai": {"base_url": "https://api.openai.com/v1", "api_key": "..."}}
const providersEnvVar = "STRIDE_MODEL_PROVIDERS"

// NewModelClient builds the HTTP model client from STRIDE_MODEL_PROVIDERS.
// With the variable unset the client is created empty and every model step
// fails with an unknown-provider error.
func NewModelClient(logger *slog.Logger) (*httpmodel.Client, error) {
	providers := make(map[string]httpmodel.ProviderConfig)

	if raw := os.Getenv(providersEnvVar); raw != "" {
		if err := json.Unmarshal([]byte(raw), &providers); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", providersEnvVar, err)
		}
	}

	return httpmodel.NewClient(providers, logger), nil
}
