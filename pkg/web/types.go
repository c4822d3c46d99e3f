// Package web provides HTTP request and response types for the workflow API.
package web

import "encoding/json"

// RunWorkflowRequest represents the request body for executing a workflow.
// The workflow field carries the full definition, as YAML or JSON.
type RunWorkflowRequest struct {
	Workflow   json.RawMessage `json:"workflow"    validate:"required"`
	Inputs     map[string]any  `json:"inputs"`
	ResumeFrom string          `json:"resume_from"`
}

// ValidateWorkflowResponse summarizes a definition that passed validation.
type ValidateWorkflowResponse struct {
	Valid bool   `json:"valid"`
	Name  string `json:"name"`
	Steps int    `json:"steps"`
}
