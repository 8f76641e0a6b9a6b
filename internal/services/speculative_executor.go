package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"aria-orchestrator/internal/config"
	"aria-orchestrator/internal/models"
	"aria-orchestrator/internal/pkg/logger"
)

type cacheEntry struct {
	Result     map[string]interface{}
	Intent     string
	Confidence float64
	CreatedAt  time.Time
}

// SpeculativeExecutor prefetches likely follow-up work in the background and
// caches the results so a confirmed intent can be answered instantly.
type SpeculativeExecutor struct {
	serviceClient *ServiceClient
	logger        *logger.Logger
	cfg           config.SpeculativeConfig

	mu            sync.RWMutex
	activeTasks   map[string]*models.SpeculativeTask
	inflight      map[string]string // cache key -> task ID while running
	cache         map[string]*cacheEntry
	totalExecuted int64
	totalHits     int64

	done chan struct{}
	once sync.Once
}

func NewSpeculativeExecutor(serviceClient *ServiceClient, cfg config.SpeculativeConfig, log *logger.Logger) *SpeculativeExecutor {
	executor := &SpeculativeExecutor{
		serviceClient: serviceClient,
		logger:        log,
		cfg:           cfg,
		activeTasks:   make(map[string]*models.SpeculativeTask),
		inflight:      make(map[string]string),
		cache:         make(map[string]*cacheEntry),
		done:          make(chan struct{}),
	}

	go executor.sweepLoop()

	log.Info("Speculative executor initialized",
		"enabled", cfg.Enabled,
		"prefetch_threshold", cfg.PrefetchThreshold,
		"max_tasks", cfg.MaxTasks,
		"task_timeout", cfg.Timeout.String())

	return executor
}

// ExecuteSpeculativeWorkflows starts background prefetches for predicted
// intents above the confidence threshold. It returns immediately with one
// bookkeeping entry per accepted prediction: either a processing placeholder
// or a completed result served from cache.
func (executor *SpeculativeExecutor) ExecuteSpeculativeWorkflows(ctx context.Context, speculativeIntents []models.SpeculativeIntent, entities []models.Entity, sessionID string) []models.SpeculativeResult {
	results := []models.SpeculativeResult{}

	if !executor.cfg.Enabled {
		return results
	}

	for _, predicted := range speculativeIntents {
		if predicted.Confidence < executor.cfg.PrefetchThreshold {
			continue
		}

		cacheKey := executor.cacheKey(predicted.Intent, entities, sessionID)

		executor.mu.Lock()
		if entry, cached := executor.cache[cacheKey]; cached && time.Since(entry.CreatedAt) < executor.cfg.CacheTTL {
			executor.mu.Unlock()
			results = append(results, models.SpeculativeResult{
				Intent:     predicted.Intent,
				Confidence: entry.Confidence,
				Status:     string(models.StatusCompleted),
				Result:     entry.Result,
				FromCache:  true,
			})
			continue
		}

		if _, running := executor.inflight[cacheKey]; running {
			executor.mu.Unlock()
			continue
		}

		if executor.runningCountLocked() >= executor.cfg.MaxTasks {
			executor.mu.Unlock()
			executor.logger.Debug("Max speculative tasks reached, skipping", "intent", predicted.Intent)
			continue
		}

		task := &models.SpeculativeTask{
			ID:         models.GenerateTaskID(),
			Intent:     predicted.Intent,
			Confidence: predicted.Confidence,
			Status:     models.StatusRunning,
			CreatedAt:  time.Now(),
		}
		executor.activeTasks[task.ID] = task
		executor.inflight[cacheKey] = task.ID
		executor.mu.Unlock()

		go executor.runTask(task, cacheKey, entities, sessionID)

		estimatedMs := predicted.EstimatedCompletionMs
		if estimatedMs <= 0 {
			estimatedMs = 1000
		}

		results = append(results, models.SpeculativeResult{
			TaskID:                task.ID,
			Intent:                predicted.Intent,
			Confidence:            predicted.Confidence,
			Status:                "processing",
			EstimatedCompletionMs: estimatedMs,
		})
	}

	return results
}

func (executor *SpeculativeExecutor) runningCountLocked() int {
	running := 0
	for _, task := range executor.activeTasks {
		if task.Status == models.StatusRunning {
			running++
		}
	}
	return running
}

// runTask executes the prefetch with its own deadline, detached from the
// lifetime of the triggering event.
func (executor *SpeculativeExecutor) runTask(task *models.SpeculativeTask, cacheKey string, entities []models.Entity, sessionID string) {
	taskCtx, cancel := context.WithTimeout(context.Background(), executor.cfg.Timeout)
	defer cancel()

	result, err := executor.prefetch(taskCtx, task.Intent, entities, sessionID)

	executor.mu.Lock()
	defer executor.mu.Unlock()

	delete(executor.inflight, cacheKey)

	if task.Status == models.StatusCancelled {
		return
	}

	if err != nil {
		task.Status = models.StatusFailed
		if taskCtx.Err() == context.DeadlineExceeded {
			timeout := models.NewTimeoutError(models.CodeSpeculationTimeout,
				fmt.Sprintf("Speculative workflow for %s timed out", task.Intent)).WithCause(err)
			executor.logger.Warn("Speculative workflow timed out",
				"task_id", task.ID, "intent", task.Intent, "error", timeout.Error())
		} else {
			executor.logger.Error("Speculative workflow failed",
				"task_id", task.ID, "intent", task.Intent, "error", err.Error())
		}
		return
	}

	task.Status = models.StatusCompleted
	task.Result = result
	executor.cache[cacheKey] = &cacheEntry{
		Result:     result,
		Intent:     task.Intent,
		Confidence: task.Confidence,
		CreatedAt:  time.Now(),
	}
	executor.totalExecuted++

	executor.logger.Debug("Speculative workflow completed",
		"task_id", task.ID, "intent", task.Intent)
}

func (executor *SpeculativeExecutor) prefetch(ctx context.Context, intent string, entities []models.Entity, sessionID string) (map[string]interface{}, error) {
	switch intent {
	case intentQuestion:
		return executor.prefetchQuestion(ctx, entities)
	case intentWeather:
		return executor.prefetchWeather(entities)
	case intentNavigation:
		return executor.prefetchNavigation(entities)
	case intentBooking:
		return executor.prefetchBooking(entities)
	case intentShopping:
		return executor.prefetchShopping(entities)
	default:
		return executor.prefetchGeneric(ctx, intent, entities)
	}
}

func (executor *SpeculativeExecutor) prefetchQuestion(ctx context.Context, entities []models.Entity) (map[string]interface{}, error) {
	terms := make([]string, 0, len(entities))
	for _, entity := range entities {
		terms = append(terms, entity.Text)
	}

	ragResult, err := executor.serviceClient.CallRAG(ctx, strings.Join(terms, " "), entities, 3)
	if err != nil {
		return nil, err
	}

	sources := ragResult["sources"]
	if sources == nil {
		sources = []interface{}{}
	}

	return map[string]interface{}{
		"type":     "question_prefetch",
		"context":  stringField(ragResult, "context"),
		"sources":  sources,
		"entities": entitiesPayload(entities),
	}, nil
}

func (executor *SpeculativeExecutor) prefetchWeather(entities []models.Entity) (map[string]interface{}, error) {
	location := extractLocation(entities)
	if location == "" {
		location = "current_location"
	}

	return map[string]interface{}{
		"type":     "weather_prefetch",
		"location": location,
		"data": map[string]interface{}{
			"temperature": "72°F",
			"condition":   "sunny",
			"forecast":    "Partly cloudy later",
		},
	}, nil
}

func (executor *SpeculativeExecutor) prefetchNavigation(entities []models.Entity) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":        "navigation_prefetch",
		"destination": extractLocation(entities),
		"routes": []map[string]interface{}{
			{"type": "driving", "duration": "15 mins", "distance": "5.2 miles"},
			{"type": "walking", "duration": "45 mins", "distance": "2.1 miles"},
		},
	}, nil
}

func (executor *SpeculativeExecutor) prefetchBooking(entities []models.Entity) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type": "booking_prefetch",
		"options": []map[string]interface{}{
			{"name": "Restaurant A", "time": "7:00 PM", "price": "$50"},
			{"name": "Restaurant B", "time": "8:00 PM", "price": "$75"},
		},
		"entities": entitiesPayload(entities),
	}, nil
}

func (executor *SpeculativeExecutor) prefetchShopping(entities []models.Entity) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":    "shopping_prefetch",
		"product": extractProduct(entities),
		"results": []map[string]interface{}{
			{"name": "Product A", "price": "$29.99", "rating": 4.5},
			{"name": "Product B", "price": "$39.99", "rating": 4.2},
		},
	}, nil
}

func (executor *SpeculativeExecutor) prefetchGeneric(ctx context.Context, intent string, entities []models.Entity) (map[string]interface{}, error) {
	llmResult, err := executor.serviceClient.CallLLM(ctx,
		fmt.Sprintf("Prepare response for %s intent", intent), "", entities, 200)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"type":     "generic_prefetch",
		"intent":   intent,
		"response": stringField(llmResult, "response"),
		"entities": entitiesPayload(entities),
	}, nil
}

// GetCachedResult returns a fresh cached prefetch for the signature, marking
// it as a hit. Stale entries are ignored until the sweeper removes them.
func (executor *SpeculativeExecutor) GetCachedResult(intent string, entities []models.Entity, sessionID string) map[string]interface{} {
	cacheKey := executor.cacheKey(intent, entities, sessionID)

	executor.mu.Lock()
	defer executor.mu.Unlock()

	entry, cached := executor.cache[cacheKey]
	if !cached || time.Since(entry.CreatedAt) >= executor.cfg.CacheTTL {
		return nil
	}

	executor.totalHits++
	for _, task := range executor.activeTasks {
		if task.Intent == intent && !task.Hit {
			task.Hit = true
			break
		}
	}

	return entry.Result
}

// cacheKey derives a deterministic signature from intent, entity set, and
// session. Entities are sorted so their order never changes the key.
func (executor *SpeculativeExecutor) cacheKey(intent string, entities []models.Entity, sessionID string) string {
	pairs := make([]string, 0, len(entities))
	for _, entity := range entities {
		pairs = append(pairs, entity.Label+":"+entity.Text)
	}
	sort.Strings(pairs)

	if sessionID == "" {
		sessionID = "anonymous"
	}

	sum := sha256.Sum256([]byte(intent + "|" + strings.Join(pairs, "|") + "|" + sessionID))
	return hex.EncodeToString(sum[:])
}

func (executor *SpeculativeExecutor) sweepLoop() {
	ticker := time.NewTicker(executor.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-executor.done:
			return
		case <-ticker.C:
			executor.sweep()
		}
	}
}

func (executor *SpeculativeExecutor) sweep() {
	cutoff := time.Now().Add(-executor.cfg.TaskTTL)

	executor.mu.Lock()
	defer executor.mu.Unlock()

	expiredTasks := 0
	for taskID, task := range executor.activeTasks {
		if task.CreatedAt.Before(cutoff) {
			delete(executor.activeTasks, taskID)
			expiredTasks++
		}
	}

	expiredCache := 0
	for key, entry := range executor.cache {
		if entry.CreatedAt.Before(cutoff) {
			delete(executor.cache, key)
			expiredCache++
		}
	}

	if expiredTasks > 0 || expiredCache > 0 {
		executor.logger.Debug("Cleaned up expired speculative data",
			"tasks", expiredTasks, "cache", expiredCache)
	}
}

// HitRate reports hits over executed prefetches.
func (executor *SpeculativeExecutor) HitRate() float64 {
	executor.mu.RLock()
	defer executor.mu.RUnlock()

	if executor.totalExecuted == 0 {
		return 0.0
	}
	return float64(executor.totalHits) / float64(executor.totalExecuted)
}

func (executor *SpeculativeExecutor) ActiveTaskCount() int {
	executor.mu.RLock()
	defer executor.mu.RUnlock()
	return executor.runningCountLocked()
}

func (executor *SpeculativeExecutor) TotalExecuted() int64 {
	executor.mu.RLock()
	defer executor.mu.RUnlock()
	return executor.totalExecuted
}

// CancelAllTasks marks every running task cancelled. In-flight goroutines
// notice the cancelled status and discard their results.
func (executor *SpeculativeExecutor) CancelAllTasks() {
	executor.mu.Lock()
	defer executor.mu.Unlock()

	for _, task := range executor.activeTasks {
		if task.Status == models.StatusRunning {
			task.Status = models.StatusCancelled
		}
	}
	executor.inflight = make(map[string]string)
}

// Close stops the sweeper and cancels outstanding tasks.
func (executor *SpeculativeExecutor) Close() {
	executor.once.Do(func() {
		close(executor.done)
	})
	executor.CancelAllTasks()
}

func (executor *SpeculativeExecutor) Stats() map[string]interface{} {
	executor.mu.RLock()
	defer executor.mu.RUnlock()

	hitRate := 0.0
	if executor.totalExecuted > 0 {
		hitRate = float64(executor.totalHits) / float64(executor.totalExecuted)
	}

	return map[string]interface{}{
		"enabled":        executor.cfg.Enabled,
		"total_executed": executor.totalExecuted,
		"total_hits":     executor.totalHits,
		"hit_rate":       hitRate,
		"active_tasks":   executor.runningCountLocked(),
		"cache_entries":  len(executor.cache),
	}
}
