// Package events defines event types and structures for workflow lifecycle
// notifications.
package events

import (
	"time"
)

type EventType string

// Topic carries every workflow lifecycle event.
const Topic = "stride.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"

	StepFinishedEvent EventType = "step.finished"
	StepFailedEvent   EventType = "step.failed"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	WorkflowName string         `json:"workflow_name"`
	RunID        string         `json:"run_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type WorkflowExecutionStarted struct {
	BaseEvent

	Inputs map[string]any `json:"inputs,omitempty"`
}

func (w WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	Status     string         `json:"status"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	TotalUnits int            `json:"total_units"`
	DurationMS int64          `json:"duration_ms"`
}

func (w WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

func (w WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

type StepFinished struct {
	BaseEvent

	StepID        string `json:"step_id"`
	Status        string `json:"status"`
	Retries       int    `json:"retries"`
	ResourceUnits int    `json:"resource_units"`
	DurationMS    int64  `json:"duration_ms"`
}

func (s StepFinished) GetType() EventType {
	return StepFinishedEvent
}

type StepFailed struct {
	BaseEvent

	StepID     string `json:"step_id"`
	Error      string `json:"error"`
	Retries    int    `json:"retries"`
	DurationMS int64  `json:"duration_ms"`
}

func (s StepFailed) GetType() EventType {
	return StepFailedEvent
}
