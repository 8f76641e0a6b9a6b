package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"aria-orchestrator/internal/config"
	"aria-orchestrator/internal/models"
	"aria-orchestrator/internal/pkg/logger"
)

// ServiceClient performs HTTP calls to named downstream services. Every
// service gets its own circuit breaker and rolling latency window; failures
// against one service never affect another.
type ServiceClient struct {
	httpClient *http.Client
	logger     *logger.Logger
	breakerCfg config.BreakerConfig
	timeout    time.Duration
	retries    int

	mu        sync.RWMutex
	services  map[string]string
	breakers  map[string]*gobreaker.CircuitBreaker
	latencies map[string]*latencyWindow
}

const latencyWindowSize = 100

type latencyWindow struct {
	mu      sync.Mutex
	samples []float64
}

func (window *latencyWindow) record(sample float64) {
	window.mu.Lock()
	defer window.mu.Unlock()

	window.samples = append(window.samples, sample)
	if len(window.samples) > latencyWindowSize {
		window.samples = window.samples[len(window.samples)-latencyWindowSize:]
	}
}

func (window *latencyWindow) average() float64 {
	window.mu.Lock()
	defer window.mu.Unlock()

	if len(window.samples) == 0 {
		return 0.0
	}

	var sum float64
	for _, sample := range window.samples {
		sum += sample
	}
	return sum / float64(len(window.samples))
}

func NewServiceClient(servicesCfg config.ServicesConfig, breakerCfg config.BreakerConfig, log *logger.Logger) *ServiceClient {
	client := &ServiceClient{
		httpClient: &http.Client{Timeout: servicesCfg.Timeout},
		logger:     log,
		breakerCfg: breakerCfg,
		timeout:    servicesCfg.Timeout,
		retries:    servicesCfg.RetryAttempts,
		services:   make(map[string]string),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		latencies:  make(map[string]*latencyWindow),
	}

	for name, baseURL := range servicesCfg.ServiceURLs() {
		client.RegisterService(name, baseURL)
	}

	log.Info("Service client initialized",
		"services", len(client.services),
		"failure_threshold", breakerCfg.FailureThreshold,
		"cooldown", breakerCfg.CooldownPeriod.String(),
		"call_timeout", servicesCfg.Timeout.String())

	return client
}

// RegisterService adds (or replaces) a downstream service and gives it a
// fresh breaker and latency window.
func (client *ServiceClient) RegisterService(name, baseURL string) {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     client.breakerCfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(client.breakerCfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			client.logger.Warn("Circuit breaker state changed",
				"service", name, "from", from.String(), "to", to.String())
		},
	})

	client.mu.Lock()
	defer client.mu.Unlock()
	client.services[name] = strings.TrimRight(baseURL, "/")
	client.breakers[name] = breaker
	client.latencies[name] = &latencyWindow{}
}

func (client *ServiceClient) lookup(service string) (string, *gobreaker.CircuitBreaker, *latencyWindow, error) {
	client.mu.RLock()
	defer client.mu.RUnlock()

	baseURL, exists := client.services[service]
	if !exists {
		return "", nil, nil, models.NewValidationError(models.CodeUnknownService,
			fmt.Sprintf("Service %q is not registered", service))
	}
	return baseURL, client.breakers[service], client.latencies[service], nil
}

// Call issues one HTTP request to a named service, honoring its circuit
// breaker and recording timing. The decoded JSON body is returned on success.
func (client *ServiceClient) Call(ctx context.Context, service, endpoint, method string, payload map[string]interface{}) (map[string]interface{}, error) {
	baseURL, breaker, window, err := client.lookup(service)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()

	result, err := breaker.Execute(func() (interface{}, error) {
		return client.doRequest(ctx, baseURL, endpoint, method, payload)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, models.NewUnavailableError(models.CodeCircuitOpen,
				fmt.Sprintf("Circuit breaker open for %s", service)).WithCause(err)
		}

		client.logger.LogService(service, endpoint, time.Since(startTime), map[string]interface{}{
			"method": method,
		}, err)
		return nil, err
	}

	window.record(float64(time.Since(startTime).Milliseconds()))

	client.logger.LogService(service, endpoint, time.Since(startTime), map[string]interface{}{
		"method": method,
	}, nil)

	return result.(map[string]interface{}), nil
}

func (client *ServiceClient) doRequest(ctx context.Context, baseURL, endpoint, method string, payload map[string]interface{}) (map[string]interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	targetURL := baseURL + endpoint

	var body io.Reader
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodDelete:
		if len(payload) > 0 {
			query := url.Values{}
			for key, value := range payload {
				query.Set(key, fmt.Sprintf("%v", value))
			}
			targetURL += "?" + query.Encode()
		}
	case http.MethodPost, http.MethodPut:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, models.NewInternalError("SERIALIZATION_FAILED", "Failed to encode request payload").WithCause(err)
		}
		body = bytes.NewReader(encoded)
	default:
		return nil, models.NewInternalError("UNSUPPORTED_METHOD", fmt.Sprintf("Unsupported HTTP method: %s", method))
	}

	req, err := http.NewRequestWithContext(callCtx, strings.ToUpper(method), targetURL, body)
	if err != nil {
		return nil, models.NewInternalError("REQUEST_BUILD_FAILED", "Failed to build request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.httpClient.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, models.NewTimeoutError(models.CodeServiceTimeout,
				fmt.Sprintf("Call to %s timed out", targetURL)).WithCause(err)
		}
		return nil, models.NewUnavailableError(models.CodeServiceUnavailable,
			fmt.Sprintf("Call to %s failed", targetURL)).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, models.NewUnavailableError(models.CodeServiceUnavailable,
			fmt.Sprintf("Unexpected status %d from %s", resp.StatusCode, targetURL)).
			WithMetadata("status_code", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewUnavailableError(models.CodeServiceUnavailable, "Failed to read response body").WithCause(err)
	}

	decoded := make(map[string]interface{})
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, models.NewExternalError("INVALID_RESPONSE", "Failed to decode response body").WithCause(err)
		}
	}

	return decoded, nil
}

// RetryWithBackoff wraps Call with exponential backoff (2^attempt seconds).
// A CircuitOpen failure is permanent: the breaker already decided the
// service is down, so retrying immediately would be pointless.
func (client *ServiceClient) RetryWithBackoff(ctx context.Context, service, endpoint, method string, payload map[string]interface{}, maxRetries int) (map[string]interface{}, error) {
	if maxRetries <= 0 {
		maxRetries = client.retries
	}

	attempt := 0
	operation := func() (map[string]interface{}, error) {
		attempt++
		result, err := client.Call(ctx, service, endpoint, method, payload)
		if err != nil {
			if models.IsCircuitOpen(err) {
				return nil, backoff.Permanent(err)
			}
			client.logger.Warn("Retrying service call",
				"service", service, "endpoint", endpoint, "attempt", attempt)
			return nil, err
		}
		return result, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.Multiplier = 2
	expo.RandomizationFactor = 0

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(maxRetries)))
}

// CallRAG queries the retrieval service for context relevant to a query.
func (client *ServiceClient) CallRAG(ctx context.Context, query string, entities []models.Entity, limit int) (map[string]interface{}, error) {
	if limit <= 0 {
		limit = 5
	}
	return client.Call(ctx, "rag", "/search", http.MethodPost, map[string]interface{}{
		"query":    query,
		"entities": entitiesPayload(entities),
		"limit":    limit,
	})
}

// CallLLM requests text generation from the language-model service.
func (client *ServiceClient) CallLLM(ctx context.Context, prompt, promptContext string, entities []models.Entity, maxTokens int) (map[string]interface{}, error) {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return client.Call(ctx, "llm", "/generate", http.MethodPost, map[string]interface{}{
		"prompt":     prompt,
		"context":    promptContext,
		"entities":   entitiesPayload(entities),
		"max_tokens": maxTokens,
	})
}

// CallTTS requests speech synthesis for a piece of text.
func (client *ServiceClient) CallTTS(ctx context.Context, text, voice, language string) (map[string]interface{}, error) {
	if voice == "" {
		voice = "default"
	}
	if language == "" {
		language = "en"
	}
	return client.Call(ctx, "tts", "/synthesize", http.MethodPost, map[string]interface{}{
		"text":     text,
		"voice":    voice,
		"language": language,
	})
}

// CallAnalytics records an event with the analytics service.
func (client *ServiceClient) CallAnalytics(ctx context.Context, eventType string, data map[string]interface{}, sessionID string) (map[string]interface{}, error) {
	return client.Call(ctx, "analytics", "/events", http.MethodPost, map[string]interface{}{
		"event_type": eventType,
		"data":       data,
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func entitiesPayload(entities []models.Entity) []map[string]interface{} {
	payload := make([]map[string]interface{}, 0, len(entities))
	for _, entity := range entities {
		payload = append(payload, map[string]interface{}{
			"text":  entity.Text,
			"label": entity.Label,
		})
	}
	return payload
}

// CheckServiceHealth issues a GET /health probe against one service.
func (client *ServiceClient) CheckServiceHealth(ctx context.Context, service string) models.ServiceHealth {
	startTime := time.Now()

	health := models.ServiceHealth{
		ServiceName:  service,
		LastCheck:    time.Now(),
		BreakerState: client.BreakerState(service),
	}

	if _, err := client.Call(ctx, service, "/health", http.MethodGet, nil); err != nil {
		health.Status = "unhealthy"
		return health
	}

	health.Status = "healthy"
	health.ResponseTimeMs = float64(time.Since(startTime).Milliseconds())
	return health
}

// CheckAllServices probes every registered service concurrently.
func (client *ServiceClient) CheckAllServices(ctx context.Context) map[string]models.ServiceHealth {
	client.mu.RLock()
	names := make([]string, 0, len(client.services))
	for name := range client.services {
		names = append(names, name)
	}
	client.mu.RUnlock()

	results := make(map[string]models.ServiceHealth, len(names))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			health := client.CheckServiceHealth(ctx, service)

			resultsMu.Lock()
			results[service] = health
			resultsMu.Unlock()
		}(name)
	}

	wg.Wait()
	return results
}

// BreakerState reports the breaker state for a service ("closed", "open",
// "half-open"), or "unknown" for unregistered names.
func (client *ServiceClient) BreakerState(service string) string {
	client.mu.RLock()
	breaker, exists := client.breakers[service]
	client.mu.RUnlock()

	if !exists {
		return "unknown"
	}

	switch breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerFailures reports the consecutive failure count for a service.
func (client *ServiceClient) BreakerFailures(service string) int {
	client.mu.RLock()
	breaker, exists := client.breakers[service]
	client.mu.RUnlock()

	if !exists {
		return 0
	}
	return int(breaker.Counts().ConsecutiveFailures)
}

// AverageResponseTimes reports the mean latency (ms) of the rolling window
// per service.
func (client *ServiceClient) AverageResponseTimes() map[string]float64 {
	client.mu.RLock()
	defer client.mu.RUnlock()

	averages := make(map[string]float64, len(client.latencies))
	for name, window := range client.latencies {
		averages[name] = window.average()
	}
	return averages
}
