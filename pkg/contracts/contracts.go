// Package contracts defines role-based handoff contracts between workflow
// steps and validates step inputs and outputs against them with JSON Schema.
package contracts

import (
	"fmt"
	"strings"
)

// Role identifies a standard agent role with a predefined contract.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleBuilder  Role = "builder"
	RoleTester   Role = "tester"
	RoleReviewer Role = "reviewer"
)

// Contract describes the structured handoff for one role: what the step must
// receive, what it must produce, and which execution context keys must exist
// before it runs.
type Contract struct {
	Role            Role
	Description     string
	InputSchema     map[string]any
	OutputSchema    map[string]any
	RequiredContext []string
}

// Violation reports a contract check failure. Violations are definition
// errors, not transient faults; the executor fails the step without retry.
type Violation struct {
	Role      Role
	Direction string // "input" or "output"
	Problems  []string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("contract violation for role %s (%s): %s",
		v.Role, v.Direction, strings.Join(v.Problems, "; "))
}
