package contracts

// Standard contracts for the planner, builder, tester and reviewer roles.
// Custom contracts can be registered on a Validator alongside these.

var PlannerContract = Contract{
	Role:        RolePlanner,
	Description: "Plans implementation by breaking down requests into tasks",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"request", "context"},
		"properties": map[string]any{
			"request": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"context": map[string]any{
				"type": "object",
			},
			"constraints": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	},
	OutputSchema: map[string]any{
		"type":     "object",
		"required": []string{"tasks", "architecture", "success_criteria"},
		"properties": map[string]any{
			"tasks": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":     "object",
					"required": []string{"id", "description", "dependencies"},
					"properties": map[string]any{
						"id":          map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"dependencies": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"estimated_complexity": map[string]any{
							"type": "string",
							"enum": []string{"low", "medium", "high"},
						},
					},
				},
			},
			"architecture": map[string]any{"type": "string"},
			"success_criteria": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
			},
			"risks": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	},
	RequiredContext: []string{"codebase_summary"},
}

var BuilderContract = Contract{
	Role:        RoleBuilder,
	Description: "Implements code based on the plan",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"plan", "task_id"},
		"properties": map[string]any{
			"plan":    map[string]any{"type": "object"},
			"task_id": map[string]any{"type": "string"},
			"previous_attempts": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
			"feedback": map[string]any{"type": "string"},
		},
	},
	OutputSchema: map[string]any{
		"type":     "object",
		"required": []string{"code", "files_created", "status"},
		"properties": map[string]any{
			"code": map[string]any{"type": "string"},
			"files_created": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"files_modified": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"status": map[string]any{
				"type": "string",
				"enum": []string{"complete", "partial", "blocked"},
			},
			"notes": map[string]any{"type": "string"},
			"dependencies_added": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	},
	RequiredContext: []string{"plan"},
}

var TesterContract = Contract{
	Role:        RoleTester,
	Description: "Tests the implemented code",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"code", "success_criteria"},
		"properties": map[string]any{
			"code": map[string]any{"type": "string"},
			"files": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"success_criteria": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
			},
			"test_types": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "string",
					"enum": []string{"unit", "integration", "e2e"},
				},
			},
		},
	},
	OutputSchema: map[string]any{
		"type":     "object",
		"required": []string{"passed", "tests_run", "results"},
		"properties": map[string]any{
			"passed":       map[string]any{"type": "boolean"},
			"tests_run":    map[string]any{"type": "integer", "minimum": 0},
			"tests_passed": map[string]any{"type": "integer", "minimum": 0},
			"tests_failed": map[string]any{"type": "integer", "minimum": 0},
			"results": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"name", "passed"},
					"properties": map[string]any{
						"name":                 map[string]any{"type": "string"},
						"passed":               map[string]any{"type": "boolean"},
						"error":                map[string]any{"type": "string"},
						"feedback_for_builder": map[string]any{"type": "string"},
					},
				},
			},
			"coverage": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 100,
			},
			"recommendations": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	},
	RequiredContext: []string{"code", "success_criteria"},
}

var ReviewerContract = Contract{
	Role:        RoleReviewer,
	Description: "Reviews code quality and approves for merge",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"code", "plan", "test_results"},
		"properties": map[string]any{
			"code":         map[string]any{"type": "string"},
			"plan":         map[string]any{"type": "object"},
			"test_results": map[string]any{"type": "object"},
			"review_focus": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	},
	OutputSchema: map[string]any{
		"type":     "object",
		"required": []string{"approved", "score", "findings"},
		"properties": map[string]any{
			"approved": map[string]any{"type": "boolean"},
			"score": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 10,
			},
			"findings": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"severity", "category", "description"},
					"properties": map[string]any{
						"severity": map[string]any{
							"type": "string",
							"enum": []string{"critical", "major", "minor", "suggestion"},
						},
						"category":      map[string]any{"type": "string"},
						"description":   map[string]any{"type": "string"},
						"line_number":   map[string]any{"type": "integer"},
						"suggested_fix": map[string]any{"type": "string"},
					},
				},
			},
			"summary":             map[string]any{"type": "string"},
			"requires_rework":     map[string]any{"type": "boolean"},
			"rework_instructions": map[string]any{"type": "string"},
		},
	},
	RequiredContext: []string{"code", "plan", "test_results"},
}

// StandardContracts lists the contracts every validator starts with.
func StandardContracts() []Contract {
	return []Contract{PlannerContract, BuilderContract, TesterContract, ReviewerContract}
}
