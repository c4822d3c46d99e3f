package contracts

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type compiledContract struct {
	contract Contract
	input    *gojsonschema.Schema
	output   *gojsonschema.Schema
}

// Validator checks step inputs and outputs against role contracts. It
// implements protocol.ContractValidator.
type Validator struct {
	logger *slog.Logger

	mu        sync.RWMutex
	contracts map[Role]*compiledContract
}

// NewValidator builds a validator preloaded with the standard contracts.
func NewValidator(logger *slog.Logger) (*Validator, error) {
	v := &Validator{
		logger:    logger.With("module", "contracts"),
		contracts: make(map[Role]*compiledContract),
	}

	for _, contract := range StandardContracts() {
		if err := v.Register(contract); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// Register compiles and adds a contract, replacing any existing contract for
// the same role.
func (v *Validator) Register(contract Contract) error {
	input, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(contract.InputSchema))
	if err != nil {
		return fmt.Errorf("failed to compile input schema for role %s: %w", contract.Role, err)
	}

	output, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(contract.OutputSchema))
	if err != nil {
		return fmt.Errorf("failed to compile output schema for role %s: %w", contract.Role, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.contracts[contract.Role] = &compiledContract{
		contract: contract,
		input:    input,
		output:   output,
	}

	return nil
}

func (v *Validator) lookup(role string) (*compiledContract, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	compiled, exists := v.contracts[Role(role)]
	if !exists {
		return nil, fmt.Errorf("unknown role: %s", role)
	}

	return compiled, nil
}

// ValidateInput checks a step's input document against the role's input
// schema and verifies the required context keys are present.
func (v *Validator) ValidateInput(role string, input map[string]any, ectx map[string]any) error {
	compiled, err := v.lookup(role)
	if err != nil {
		return err
	}

	var problems []string

	for _, key := range compiled.contract.RequiredContext {
		if _, exists := ectx[key]; !exists {
			problems = append(problems, fmt.Sprintf("missing required context key %q", key))
		}
	}

	schemaProblems, err := validateDocument(compiled.input, input)
	if err != nil {
		return fmt.Errorf("failed to validate input for role %s: %w", role, err)
	}

	problems = append(problems, schemaProblems...)

	if len(problems) > 0 {
		return &Violation{Role: Role(role), Direction: "input", Problems: problems}
	}

	return nil
}

// ValidateOutput checks a step's output document against the role's output
// schema.
func (v *Validator) ValidateOutput(role string, output map[string]any) error {
	compiled, err := v.lookup(role)
	if err != nil {
		return err
	}

	problems, err := validateDocument(compiled.output, output)
	if err != nil {
		return fmt.Errorf("failed to validate output for role %s: %w", role, err)
	}

	if len(problems) > 0 {
		return &Violation{Role: Role(role), Direction: "output", Problems: problems}
	}

	return nil
}

// Roles lists the roles with a registered contract.
func (v *Validator) Roles() []Role {
	v.mu.RLock()
	defer v.mu.RUnlock()

	roles := make([]Role, 0, len(v.contracts))
	for role := range v.contracts {
		roles = append(roles, role)
	}

	return roles
}

func validateDocument(schema *gojsonschema.Schema, document map[string]any) ([]string, error) {
	if document == nil {
		document = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, err
	}

	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		problems = append(problems, resultError.String())
	}

	return problems, nil
}
