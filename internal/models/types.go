package models

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks the lifecycle of workflow executions and speculative tasks.
// Terminal states are final; there are no transitions out of them.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Intent is produced by the upstream classifier. Only Name is trusted as a
// workflow-selection key.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Entity is an opaque tag attached to an utterance. Order-insensitive,
// duplicates allowed.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// SpeculativeIntent is a predicted future intent with its confidence score.
type SpeculativeIntent struct {
	Intent                string  `json:"intent"`
	Confidence            float64 `json:"confidence"`
	EstimatedCompletionMs int64   `json:"estimated_completion_time_ms,omitempty"`
}

// Action is a structured instruction for the client (display suggestions,
// request a location, show sources). Shapes vary per workflow.
type Action map[string]interface{}

// WorkflowResult is what every workflow execution yields. The engine boundary
// always produces one, degraded or not.
type WorkflowResult struct {
	ResponseText    string                 `json:"response_text"`
	Actions         []Action               `json:"actions"`
	Data            map[string]interface{} `json:"data"`
	WorkflowID      string                 `json:"workflow_id,omitempty"`
	ExecutionTimeMs float64                `json:"execution_time_ms,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

type WorkflowExecution struct {
	ID              string          `json:"workflow_id"`
	Intent          string          `json:"intent"`
	Status          Status          `json:"status"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	ExecutionTimeMs *float64        `json:"execution_time_ms,omitempty"`
	Result          *WorkflowResult `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}

type SpeculativeTask struct {
	ID         string                 `json:"task_id"`
	Intent     string                 `json:"intent"`
	Confidence float64                `json:"confidence"`
	Status     Status                 `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Hit        bool                   `json:"hit"`
}

// SpeculativeResult is the bookkeeping answer returned by
// ExecuteSpeculativeWorkflows: either a placeholder for a task it started or
// a full result served from cache.
type SpeculativeResult struct {
	TaskID                string                 `json:"task_id,omitempty"`
	Intent                string                 `json:"intent"`
	Confidence            float64                `json:"confidence"`
	Status                string                 `json:"status,omitempty"`
	Result                map[string]interface{} `json:"result,omitempty"`
	FromCache             bool                   `json:"from_cache,omitempty"`
	EstimatedCompletionMs int64                  `json:"estimated_completion_ms,omitempty"`
}

// IntentResult is the event published by the intent classifier.
type IntentResult struct {
	Type               string              `json:"type,omitempty"`
	ConnectionID       string              `json:"connection_id"`
	SessionID          string              `json:"session_id,omitempty"`
	Text               string              `json:"text"`
	IsFinal            bool                `json:"is_final"`
	Intent             Intent              `json:"intent"`
	Entities           []Entity            `json:"entities"`
	SpeculativeIntents []SpeculativeIntent `json:"speculative_intents,omitempty"`
}

// OrchestratorResponse is the combined event published downstream after an
// intent result has been processed.
type OrchestratorResponse struct {
	Type               string              `json:"type"`
	ConnectionID       string              `json:"connection_id"`
	SessionID          string              `json:"session_id,omitempty"`
	WorkflowResult     *WorkflowResult     `json:"workflow_result"`
	SpeculativeResults []SpeculativeResult `json:"speculative_results"`
	IsFinal            bool                `json:"is_final"`
}

const ResponseTypeOrchestrator = "orchestrator_response"

// ConversationRequest is the synchronous API entry point payload.
type ConversationRequest struct {
	Text      string                 `json:"text" binding:"required"`
	Intent    Intent                 `json:"intent" binding:"required"`
	Entities  []Entity               `json:"entities"`
	SessionID string                 `json:"session_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

type ConversationResponse struct {
	ResponseText    string                 `json:"response_text"`
	Actions         []Action               `json:"actions"`
	Data            map[string]interface{} `json:"data"`
	WorkflowID      string                 `json:"workflow_id,omitempty"`
	ExecutionTimeMs float64                `json:"execution_time_ms"`
}

type ServiceHealth struct {
	ServiceName    string    `json:"service_name"`
	Status         string    `json:"status"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	BreakerState   string    `json:"breaker_state"`
	LastCheck      time.Time `json:"last_check"`
}

func GenerateWorkflowID() string {
	return uuid.New().String()
}

func GenerateTaskID() string {
	return uuid.New().String()
}
