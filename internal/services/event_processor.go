package services

import (
	"context"
	"encoding/json"
	"sync"

	"aria-orchestrator/internal/models"
	"aria-orchestrator/internal/pkg/logger"
)

// EventProcessor consumes intent results from the bus, fans out into the
// main workflow and speculative prefetches, and publishes one combined
// response per event.
type EventProcessor struct {
	redisService        *RedisService
	workflowEngine      *WorkflowEngine
	speculativeExecutor *SpeculativeExecutor
	logger              *logger.Logger
}

func NewEventProcessor(redisService *RedisService, workflowEngine *WorkflowEngine, speculativeExecutor *SpeculativeExecutor, log *logger.Logger) *EventProcessor {
	return &EventProcessor{
		redisService:        redisService,
		workflowEngine:      workflowEngine,
		speculativeExecutor: speculativeExecutor,
		logger:              log,
	}
}

// Run subscribes to the intent channel and processes events until the
// context is cancelled. Each message gets its own goroutine so one slow
// workflow never blocks the stream.
func (processor *EventProcessor) Run(ctx context.Context) error {
	pubsub := processor.redisService.SubscribeIntentResults(ctx)
	defer pubsub.Close()

	processor.logger.Info("Event processor started")

	channel := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			processor.logger.Info("Event processor stopping")
			return ctx.Err()
		case message, open := <-channel:
			if !open {
				processor.logger.Warn("Intent subscription closed")
				return nil
			}
			go processor.processMessage(ctx, message.Payload)
		}
	}
}

func (processor *EventProcessor) processMessage(ctx context.Context, payload string) {
	defer func() {
		if r := recover(); r != nil {
			processor.logger.Error("Recovered from panic while processing intent result", "panic", r)
		}
	}()

	var event models.IntentResult
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		processor.logger.WithError(err).Error("Failed to decode intent result")
		return
	}

	if event.ConnectionID == "" {
		processor.logger.Warn("Missing connection_id in intent result, dropping")
		return
	}

	processor.logger.Info("Processing intent result",
		"connection_id", event.ConnectionID,
		"intent", event.Intent.Name,
		"is_final", event.IsFinal)

	var workflowResult *models.WorkflowResult
	speculativeResults := []models.SpeculativeResult{}

	// A fresh speculative prefetch with a usable response answers a final
	// utterance without re-running the workflow.
	if event.IsFinal {
		if cached := processor.speculativeExecutor.GetCachedResult(event.Intent.Name, event.Entities, event.SessionID); cached != nil {
			if response := cachedResponseText(cached); response != "" {
				workflowResult = &models.WorkflowResult{
					ResponseText: response,
					Actions:      []models.Action{},
					Data:         cached,
				}
				processor.logger.Info("Served workflow from speculative cache",
					"connection_id", event.ConnectionID,
					"intent", event.Intent.Name)
			}
		}
	}

	var wg sync.WaitGroup

	if workflowResult == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workflowResult = processor.workflowEngine.ExecuteWorkflow(
				ctx, event.Intent.Name, event.Text, event.Entities, event.SessionID)
		}()
	}

	if !event.IsFinal && len(event.SpeculativeIntents) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			speculativeResults = processor.speculativeExecutor.ExecuteSpeculativeWorkflows(
				ctx, event.SpeculativeIntents, event.Entities, event.SessionID)
		}()
	}

	wg.Wait()

	response := &models.OrchestratorResponse{
		ConnectionID:       event.ConnectionID,
		SessionID:          event.SessionID,
		WorkflowResult:     workflowResult,
		SpeculativeResults: speculativeResults,
		IsFinal:            event.IsFinal,
	}

	if err := processor.redisService.PublishOrchestratorResponse(ctx, response); err != nil {
		processor.logger.WithError(err).Error("Failed to publish orchestrator response",
			"connection_id", event.ConnectionID)
	}
}

func cachedResponseText(cached map[string]interface{}) string {
	if response, ok := cached["response"].(string); ok {
		return response
	}
	return ""
}
