package services

import (
	"context"
	"sync"
	"time"

	"aria-orchestrator/internal/config"
	"aria-orchestrator/internal/models"
	"aria-orchestrator/internal/pkg/logger"
)

// WorkflowRequest carries everything a workflow body needs to run.
type WorkflowRequest struct {
	WorkflowID string
	Intent     string
	Text       string
	Entities   []models.Entity
	SessionID  string
}

// WorkflowFunc is the shape of every registered workflow body.
type WorkflowFunc func(ctx context.Context, client *ServiceClient, request *WorkflowRequest) (*models.WorkflowResult, error)

const apologyResponse = "I apologize, but I encountered an error processing your request."

const executionTimesWindowSize = 1000

// WorkflowEngine selects a workflow by intent name, runs it with a deadline,
// and tracks the lifecycle of every execution. ExecuteWorkflow never returns
// a nil result: failures degrade to an apology response.
type WorkflowEngine struct {
	serviceClient *ServiceClient
	logger        *logger.Logger
	cfg           config.WorkflowConfig

	mu             sync.RWMutex
	workflows      map[string]WorkflowFunc
	executions     map[string]*models.WorkflowExecution
	executionTimes []float64
	totalExecuted  int64
}

func NewWorkflowEngine(serviceClient *ServiceClient, cfg config.WorkflowConfig, log *logger.Logger) *WorkflowEngine {
	engine := &WorkflowEngine{
		serviceClient: serviceClient,
		logger:        log,
		cfg:           cfg,
		workflows:     make(map[string]WorkflowFunc),
		executions:    make(map[string]*models.WorkflowExecution),
	}

	engine.registerBuiltinWorkflows()

	log.Info("Workflow engine initialized",
		"workflows", len(engine.workflows),
		"timeout", cfg.Timeout.String(),
		"retention", cfg.RetentionPeriod.String())

	return engine
}

// RegisterWorkflow binds an intent name to a workflow body. Later
// registrations replace earlier ones.
func (engine *WorkflowEngine) RegisterWorkflow(intent string, fn WorkflowFunc) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	engine.workflows[intent] = fn
}

// ExecuteWorkflow runs the workflow registered for the intent, falling back
// to the default workflow for unknown intents. The returned result is never
// nil; unexpected failures yield the apology response with the error recorded.
func (engine *WorkflowEngine) ExecuteWorkflow(ctx context.Context, intent, text string, entities []models.Entity, sessionID string) *models.WorkflowResult {
	workflowID := models.GenerateWorkflowID()
	startTime := time.Now()

	fn := engine.resolveWorkflow(intent)

	execution := &models.WorkflowExecution{
		ID:        workflowID,
		Intent:    intent,
		Status:    models.StatusPending,
		StartTime: startTime,
	}

	workflowCtx, cancel := context.WithTimeout(ctx, engine.cfg.Timeout)
	defer cancel()

	engine.mu.Lock()
	engine.executions[workflowID] = execution
	engine.mu.Unlock()

	engine.logger.LogWorkflow(workflowID, sessionID, "workflow_started", 0, nil)

	engine.mu.Lock()
	if execution.Status == models.StatusPending {
		execution.Status = models.StatusRunning
	}
	engine.mu.Unlock()

	request := &WorkflowRequest{
		WorkflowID: workflowID,
		Intent:     intent,
		Text:       text,
		Entities:   entities,
		SessionID:  sessionID,
	}

	result, err := fn(workflowCtx, engine.serviceClient, request)
	duration := time.Since(startTime)

	if err != nil || result == nil {
		failure := models.NewInternalError(models.CodeWorkflowFailed, "Workflow execution failed")
		if err != nil {
			failure = failure.WithCause(err)
		}
		result = &models.WorkflowResult{
			ResponseText: apologyResponse,
			Actions:      []models.Action{},
			Data:         map[string]interface{}{"intent": intent},
			Error:        failure.Error(),
		}
		engine.finishExecution(workflowID, models.StatusFailed, result, duration, failure)
		engine.logger.LogWorkflow(workflowID, sessionID, "workflow_failed", duration, failure)
	} else {
		engine.finishExecution(workflowID, models.StatusCompleted, result, duration, nil)
		engine.logger.LogWorkflow(workflowID, sessionID, "workflow_completed", duration, nil)
	}

	result.WorkflowID = workflowID
	result.ExecutionTimeMs = float64(duration.Milliseconds())

	return result
}

func (engine *WorkflowEngine) resolveWorkflow(intent string) WorkflowFunc {
	engine.mu.RLock()
	defer engine.mu.RUnlock()

	if fn, exists := engine.workflows[intent]; exists {
		return fn
	}
	return engine.workflows[intentDefault]
}

// finishExecution records the terminal state of a workflow. A concurrently
// cancelled execution keeps its cancelled status.
func (engine *WorkflowEngine) finishExecution(workflowID string, status models.Status, result *models.WorkflowResult, duration time.Duration, err error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	engine.totalExecuted++
	engine.executionTimes = append(engine.executionTimes, float64(duration.Milliseconds()))
	if len(engine.executionTimes) > executionTimesWindowSize {
		engine.executionTimes = engine.executionTimes[len(engine.executionTimes)-executionTimesWindowSize:]
	}

	execution, exists := engine.executions[workflowID]
	if !exists {
		return
	}

	endTime := time.Now()
	executionMs := float64(duration.Milliseconds())
	execution.EndTime = &endTime
	execution.ExecutionTimeMs = &executionMs
	execution.Result = result

	if !execution.Status.IsTerminal() {
		execution.Status = status
		if err != nil {
			execution.Error = err.Error()
		}
	}

	// Terminal records stay queryable until the retention period expires.
	time.AfterFunc(engine.cfg.RetentionPeriod, func() {
		engine.mu.Lock()
		delete(engine.executions, workflowID)
		engine.mu.Unlock()
	})
}

// CancelWorkflow marks a pending or running workflow cancelled and reports
// whether a cancellation happened. Terminal workflows report false; unknown
// IDs report not found. Cancellation is bookkeeping only: in-flight
// downstream calls run to completion and their results land against the
// cancelled status.
func (engine *WorkflowEngine) CancelWorkflow(workflowID string) (bool, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	execution, exists := engine.executions[workflowID]
	if !exists {
		return false, models.ErrWorkflowNotFound.WithMetadata("workflow_id", workflowID)
	}

	if execution.Status.IsTerminal() {
		return false, nil
	}

	execution.Status = models.StatusCancelled
	engine.logger.Info("Workflow cancelled", "workflow_id", workflowID)
	return true, nil
}

// GetWorkflowStatus returns a snapshot of one execution.
func (engine *WorkflowEngine) GetWorkflowStatus(workflowID string) (*models.WorkflowExecution, error) {
	engine.mu.RLock()
	defer engine.mu.RUnlock()

	execution, exists := engine.executions[workflowID]
	if !exists {
		return nil, models.ErrWorkflowNotFound.WithMetadata("workflow_id", workflowID)
	}

	snapshot := *execution
	return &snapshot, nil
}

// AvailableWorkflows lists the registered intent names.
func (engine *WorkflowEngine) AvailableWorkflows() []string {
	engine.mu.RLock()
	defer engine.mu.RUnlock()

	names := make([]string, 0, len(engine.workflows))
	for name := range engine.workflows {
		names = append(names, name)
	}
	return names
}

func (engine *WorkflowEngine) ActiveCount() int {
	engine.mu.RLock()
	defer engine.mu.RUnlock()

	active := 0
	for _, execution := range engine.executions {
		if !execution.Status.IsTerminal() {
			active++
		}
	}
	return active
}

func (engine *WorkflowEngine) TotalExecuted() int64 {
	engine.mu.RLock()
	defer engine.mu.RUnlock()
	return engine.totalExecuted
}

// AverageExecutionTime reports the mean duration (ms) over the recent window.
func (engine *WorkflowEngine) AverageExecutionTime() float64 {
	engine.mu.RLock()
	defer engine.mu.RUnlock()

	if len(engine.executionTimes) == 0 {
		return 0.0
	}

	var sum float64
	for _, sample := range engine.executionTimes {
		sum += sample
	}
	return sum / float64(len(engine.executionTimes))
}

func (engine *WorkflowEngine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_executed":        engine.TotalExecuted(),
		"active_workflows":      engine.ActiveCount(),
		"avg_execution_time_ms": engine.AverageExecutionTime(),
		"available_workflows":   engine.AvailableWorkflows(),
	}
}
