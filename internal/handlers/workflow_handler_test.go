package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"aria-orchestrator/internal/config"
	"aria-orchestrator/internal/handlers"
	"aria-orchestrator/internal/models"
	"aria-orchestrator/internal/pkg/logger"
)

type MockEngine struct {
	statusErr    error
	cancelErr    error
	notCancelled bool
}

func (m *MockEngine) ExecuteWorkflow(ctx context.Context, intent, text string, entities []models.Entity, sessionID string) *models.WorkflowResult {
	return &models.WorkflowResult{
		ResponseText:    "Hello! How can I assist you today?",
		Actions:         []models.Action{},
		Data:            map[string]interface{}{"intent": intent},
		WorkflowID:      "test-workflow-123",
		ExecutionTimeMs: 12,
	}
}

func (m *MockEngine) GetWorkflowStatus(workflowID string) (*models.WorkflowExecution, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return &models.WorkflowExecution{
		ID:     workflowID,
		Intent: "greeting",
		Status: models.StatusCompleted,
	}, nil
}

func (m *MockEngine) CancelWorkflow(workflowID string) (bool, error) {
	if m.cancelErr != nil {
		return false, m.cancelErr
	}
	return !m.notCancelled, nil
}

func (m *MockEngine) AvailableWorkflows() []string {
	return []string{"greeting", "question", "default"}
}

func (m *MockEngine) ActiveCount() int { return 2 }

func (m *MockEngine) Stats() map[string]interface{} {
	return map[string]interface{}{"total_executed": 5}
}

type MockExecutor struct{}

func (m *MockExecutor) ActiveTaskCount() int { return 1 }

func (m *MockExecutor) Stats() map[string]interface{} {
	return map[string]interface{}{"hit_rate": 0.5}
}

type MockClient struct{}

func (m *MockClient) CheckAllServices(ctx context.Context) map[string]models.ServiceHealth {
	return map[string]models.ServiceHealth{
		"rag": {ServiceName: "rag", Status: "healthy", BreakerState: "closed"},
	}
}

func (m *MockClient) AverageResponseTimes() map[string]float64 {
	return map[string]float64{"rag": 42.0}
}

type MockBus struct {
	err error
}

func (m *MockBus) HealthCheck(ctx context.Context) error { return m.err }

func setupTestRouter(t *testing.T, engine *MockEngine) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testLogger, err := logger.New(config.LogConfig{
		Level:  "error",
		Format: "json",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	handler := handlers.NewWorkflowHandler(engine, &MockExecutor{}, &MockClient{}, &MockBus{}, testLogger)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router
}

func TestProcessConversation(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{})

	requestBody := models.ConversationRequest{
		Text:      "hello",
		Intent:    models.Intent{Name: "greeting", Confidence: 0.99},
		SessionID: "session-1",
	}

	jsonBody, _ := json.Marshal(requestBody)
	req, _ := http.NewRequest("POST", "/conversation", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response models.ConversationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.WorkflowID != "test-workflow-123" {
		t.Errorf("unexpected workflow ID: %q", response.WorkflowID)
	}
}

func TestProcessConversationRejectsInvalidBody(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{})

	req, _ := http.NewRequest("POST", "/conversation", bytes.NewBufferString(`{"text": ""}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestExecuteWorkflowEndpoint(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{})

	body := `{"intent": {"name": "greeting", "confidence": 0.9}, "text": "hi"}`
	req, _ := http.NewRequest("POST", "/execute-workflow", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestGetAvailableWorkflows(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{})

	req, _ := http.NewRequest("GET", "/workflows", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response["workflows"]) != 3 {
		t.Errorf("expected 3 workflows, got %v", response["workflows"])
	}
}

func TestGetWorkflowStatus(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{})

	req, _ := http.NewRequest("GET", "/workflow-status/test-workflow-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestGetWorkflowStatusNotFound(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{statusErr: models.ErrWorkflowNotFound})

	req, _ := http.NewRequest("GET", "/workflow-status/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestCancelWorkflow(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{})

	req, _ := http.NewRequest("POST", "/cancel-workflow/test-workflow-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["cancelled"] != true {
		t.Errorf("expected cancelled=true, got %v", response["cancelled"])
	}
}

func TestCancelWorkflowAlreadyTerminal(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{notCancelled: true})

	req, _ := http.NewRequest("POST", "/cancel-workflow/test-workflow-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["cancelled"] != false {
		t.Errorf("expected cancelled=false for terminal workflow, got %v", response["cancelled"])
	}
}

func TestCancelWorkflowNotFound(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{cancelErr: models.ErrWorkflowNotFound})

	req, _ := http.NewRequest("POST", "/cancel-workflow/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{})

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", response["status"])
	}
	if response["service"] != "orchestrator" {
		t.Errorf("expected orchestrator service name, got %v", response["service"])
	}
}

func TestGetStats(t *testing.T) {
	router := setupTestRouter(t, &MockEngine{})

	req, _ := http.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	for _, section := range []string{"workflow_engine", "speculative_execution", "service_latencies_ms"} {
		if _, exists := response[section]; !exists {
			t.Errorf("expected %q section in stats", section)
		}
	}
}
