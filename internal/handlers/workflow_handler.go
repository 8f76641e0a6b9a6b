package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"aria-orchestrator/internal/models"
	"aria-orchestrator/internal/pkg/logger"
)

// WorkflowExecutor is the engine surface the HTTP layer depends on.
type WorkflowExecutor interface {
	ExecuteWorkflow(ctx context.Context, intent, text string, entities []models.Entity, sessionID string) *models.WorkflowResult
	GetWorkflowStatus(workflowID string) (*models.WorkflowExecution, error)
	CancelWorkflow(workflowID string) (bool, error)
	AvailableWorkflows() []string
	ActiveCount() int
	Stats() map[string]interface{}
}

// SpeculativeInspector exposes the speculative bookkeeping the HTTP layer
// reports on.
type SpeculativeInspector interface {
	ActiveTaskCount() int
	Stats() map[string]interface{}
}

// ServiceInspector exposes downstream health and latency reporting.
type ServiceInspector interface {
	CheckAllServices(ctx context.Context) map[string]models.ServiceHealth
	AverageResponseTimes() map[string]float64
}

// BusChecker reports event bus connectivity.
type BusChecker interface {
	HealthCheck(ctx context.Context) error
}

type WorkflowHandler struct {
	engine   WorkflowExecutor
	executor SpeculativeInspector
	client   ServiceInspector
	bus      BusChecker
	logger   *logger.Logger
}

func NewWorkflowHandler(engine WorkflowExecutor, executor SpeculativeInspector, client ServiceInspector, bus BusChecker, log *logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		engine:   engine,
		executor: executor,
		client:   client,
		bus:      bus,
		logger:   log,
	}
}

func (handler *WorkflowHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/conversation", handler.ProcessConversation)
	router.POST("/execute-workflow", handler.ExecuteWorkflow)
	router.GET("/workflows", handler.GetAvailableWorkflows)
	router.GET("/workflow-status/:id", handler.GetWorkflowStatus)
	router.POST("/cancel-workflow/:id", handler.CancelWorkflow)
	router.GET("/health", handler.HealthCheck)
	router.GET("/stats", handler.GetStats)
}

// ProcessConversation runs the workflow for a confirmed utterance and
// returns the shaped conversation response.
func (handler *WorkflowHandler) ProcessConversation(c *gin.Context) {
	var request models.ConversationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result := handler.engine.ExecuteWorkflow(
		c.Request.Context(), request.Intent.Name, request.Text, request.Entities, request.SessionID)

	c.JSON(http.StatusOK, models.ConversationResponse{
		ResponseText:    result.ResponseText,
		Actions:         result.Actions,
		Data:            result.Data,
		WorkflowID:      result.WorkflowID,
		ExecutionTimeMs: result.ExecutionTimeMs,
	})
}

type executeWorkflowRequest struct {
	Intent    models.Intent   `json:"intent" binding:"required"`
	Entities  []models.Entity `json:"entities"`
	Text      string          `json:"text"`
	SessionID string          `json:"session_id"`
}

// ExecuteWorkflow runs a workflow directly and returns the raw result.
func (handler *WorkflowHandler) ExecuteWorkflow(c *gin.Context) {
	var request executeWorkflowRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result := handler.engine.ExecuteWorkflow(
		c.Request.Context(), request.Intent.Name, request.Text, request.Entities, request.SessionID)

	c.JSON(http.StatusOK, result)
}

func (handler *WorkflowHandler) GetAvailableWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workflows": handler.engine.AvailableWorkflows()})
}

func (handler *WorkflowHandler) GetWorkflowStatus(c *gin.Context) {
	workflowID := c.Param("id")

	execution, err := handler.engine.GetWorkflowStatus(workflowID)
	if err != nil {
		if models.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found", "workflow_id": workflowID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get workflow status"})
		return
	}

	c.JSON(http.StatusOK, execution)
}

func (handler *WorkflowHandler) CancelWorkflow(c *gin.Context) {
	workflowID := c.Param("id")

	cancelled, err := handler.engine.CancelWorkflow(workflowID)
	if err != nil {
		if models.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found", "workflow_id": workflowID})
			return
		}
		handler.logger.WithError(err).Error("Failed to cancel workflow", "workflow_id", workflowID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel workflow"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled, "workflow_id": workflowID})
}

// HealthCheck reports orchestrator, bus, and downstream service health.
func (handler *WorkflowHandler) HealthCheck(c *gin.Context) {
	status := "healthy"

	busStatus := "healthy"
	if err := handler.bus.HealthCheck(c.Request.Context()); err != nil {
		busStatus = "unhealthy"
		status = "degraded"
	}

	serviceHealth := handler.client.CheckAllServices(c.Request.Context())
	for _, health := range serviceHealth {
		if health.Status != "healthy" {
			status = "degraded"
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"service":           "orchestrator",
		"redis":             busStatus,
		"services":          serviceHealth,
		"active_workflows":  handler.engine.ActiveCount(),
		"speculative_tasks": handler.executor.ActiveTaskCount(),
	})
}

// GetStats reports engine, speculative, and latency counters.
func (handler *WorkflowHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"workflow_engine":       handler.engine.Stats(),
		"speculative_execution": handler.executor.Stats(),
		"service_latencies_ms":  handler.client.AverageResponseTimes(),
	})
}
