package models

// StepType is the closed set of executable step kinds. Handler dispatch is
// keyed by this type so an unknown value is a fatal, non-retryable error.
type StepType string

const (
	StepTypeShell     StepType = "shell"
	StepTypeTransform StepType = "transform"
	StepTypeModel     StepType = "model"
	StepTypeParallel  StepType = "parallel"
)

// StepTypes lists every valid step type, in no particular order.
var StepTypes = []StepType{StepTypeShell, StepTypeTransform, StepTypeModel, StepTypeParallel}

func (t StepType) Valid() bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}

	return false
}

// FailurePolicy decides what happens to the rest of the workflow when a step
// exhausts its retries.
type FailurePolicy string

const (
	FailureAbort FailurePolicy = "abort" // stop scheduling further steps
	FailureSkip  FailurePolicy = "skip"  // leave outputs absent, continue
)

// Step is one unit of work in a workflow. Fixed at load time and read-only
// during a run.
type Step struct {
	ID             string         `json:"id"                        yaml:"id"              validate:"required"`
	Name           string         `json:"name,omitempty"            yaml:"name,omitempty"`
	Type           StepType       `json:"type"                      yaml:"type"            validate:"required"`
	Params         map[string]any `json:"params,omitempty"          yaml:"params,omitempty"`
	Role           string         `json:"role,omitempty"            yaml:"role,omitempty"`
	Condition      string         `json:"condition,omitempty"       yaml:"condition,omitempty"`
	MaxRetries     int            `json:"max_retries"               yaml:"max_retries"     validate:"gte=0"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"gte=0"`
	OnFailure      FailurePolicy  `json:"on_failure,omitempty"      yaml:"on_failure,omitempty"`
	Outputs        []string       `json:"outputs,omitempty"         yaml:"outputs,omitempty"`
	EstimatedUnits int            `json:"estimated_units,omitempty" yaml:"estimated_units,omitempty"`
	Branches       []*Branch      `json:"branches,omitempty"        yaml:"branches,omitempty" validate:"dive"`
}

// FailurePolicyOrDefault returns the configured policy, defaulting to abort.
func (s *Step) FailurePolicyOrDefault() FailurePolicy {
	if s.OnFailure == "" {
		return FailureAbort
	}

	return s.OnFailure
}

// Branch is one concurrently-dispatched sub-step of a parallel step. Each
// branch is tagged with the provider key its rate-limit slot is drawn from.
type Branch struct {
	ID       string         `json:"id"                 yaml:"id"       validate:"required"`
	Provider string         `json:"provider,omitempty" yaml:"provider,omitempty"`
	Type     StepType       `json:"type"               yaml:"type"     validate:"required"`
	Params   map[string]any `json:"params,omitempty"   yaml:"params,omitempty"`
}

// DefaultProvider is the quota key used for branches that do not name one.
const DefaultProvider = "default"

// ProviderOrDefault returns the branch's provider key, defaulting to
// DefaultProvider.
func (b *Branch) ProviderOrDefault() string {
	if b.Provider == "" {
		return DefaultProvider
	}

	return b.Provider
}
