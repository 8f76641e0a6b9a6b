package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"aria-orchestrator/internal/config"
	"aria-orchestrator/internal/models"
	"aria-orchestrator/internal/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(config.LogConfig{
		Level:  "error",
		Format: "json",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func newTestClient(t *testing.T, threshold int, cooldown time.Duration) *ServiceClient {
	t.Helper()

	return NewServiceClient(
		config.ServicesConfig{
			Timeout:       2 * time.Second,
			RetryAttempts: 3,
		},
		config.BreakerConfig{
			FailureThreshold: threshold,
			CooldownPeriod:   cooldown,
		},
		newTestLogger(t),
	)
}

func TestCallUnknownService(t *testing.T) {
	client := newTestClient(t, 5, time.Minute)

	_, err := client.Call(context.Background(), "nonexistent", "/anything", http.MethodGet, nil)
	if err == nil {
		t.Fatal("expected error for unknown service")
	}
	if !models.HasCode(err, models.CodeUnknownService) {
		t.Errorf("expected UNKNOWN_SERVICE error, got %v", err)
	}
}

func TestCallDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response": "hello", "confidence": 0.9}`))
	}))
	defer server.Close()

	client := newTestClient(t, 5, time.Minute)
	client.RegisterService("echo", server.URL)

	result, err := client.Call(context.Background(), "echo", "/test", http.MethodPost, map[string]interface{}{"input": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["response"] != "hello" {
		t.Errorf("expected response field, got %v", result)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, 3, time.Minute)
	client.RegisterService("flaky", server.URL)

	for i := 0; i < 3; i++ {
		_, err := client.Call(context.Background(), "flaky", "/op", http.MethodGet, nil)
		if err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
		if models.IsCircuitOpen(err) {
			t.Fatalf("call %d: breaker opened too early", i)
		}
	}

	if state := client.BreakerState("flaky"); state != "open" {
		t.Errorf("expected open breaker, got %q", state)
	}

	_, err := client.Call(context.Background(), "flaky", "/op", http.MethodGet, nil)
	if !models.IsCircuitOpen(err) {
		t.Errorf("expected CIRCUIT_OPEN error, got %v", err)
	}
}

func TestBreakerOpenSkipsRequest(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, 2, time.Minute)
	client.RegisterService("flaky", server.URL)

	client.Call(context.Background(), "flaky", "/op", http.MethodGet, nil)
	client.Call(context.Background(), "flaky", "/op", http.MethodGet, nil)

	before := requests.Load()
	client.Call(context.Background(), "flaky", "/op", http.MethodGet, nil)
	if requests.Load() != before {
		t.Error("open breaker should reject without issuing a request")
	}
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.Write([]byte(`{"ok": true}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, 2, 50*time.Millisecond)
	client.RegisterService("flaky", server.URL)

	client.Call(context.Background(), "flaky", "/op", http.MethodGet, nil)
	client.Call(context.Background(), "flaky", "/op", http.MethodGet, nil)

	if state := client.BreakerState("flaky"); state != "open" {
		t.Fatalf("expected open breaker, got %q", state)
	}

	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)

	if _, err := client.Call(context.Background(), "flaky", "/op", http.MethodGet, nil); err != nil {
		t.Fatalf("expected trial request to succeed, got %v", err)
	}

	if state := client.BreakerState("flaky"); state != "closed" {
		t.Errorf("expected closed breaker after recovery, got %q", state)
	}
}

func TestRetryWithBackoffDoesNotRetryOpenBreaker(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, 1, time.Minute)
	client.RegisterService("flaky", server.URL)

	// One failure trips the breaker.
	client.Call(context.Background(), "flaky", "/op", http.MethodGet, nil)

	start := time.Now()
	_, err := client.RetryWithBackoff(context.Background(), "flaky", "/op", http.MethodGet, nil, 3)
	elapsed := time.Since(start)

	if !models.IsCircuitOpen(err) {
		t.Fatalf("expected CIRCUIT_OPEN error, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("open breaker should fail fast, took %v", elapsed)
	}
	if requests.Load() != 1 {
		t.Errorf("expected no additional requests after breaker opened, got %d", requests.Load())
	}
}

func TestCheckAllServices(t *testing.T) {
	healthyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer healthyServer.Close()

	unhealthyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthyServer.Close()

	client := newTestClient(t, 5, time.Minute)
	client.RegisterService("good", healthyServer.URL)
	client.RegisterService("bad", unhealthyServer.URL)

	health := client.CheckAllServices(context.Background())

	if health["good"].Status != "healthy" {
		t.Errorf("expected good service healthy, got %q", health["good"].Status)
	}
	if health["bad"].Status != "unhealthy" {
		t.Errorf("expected bad service unhealthy, got %q", health["bad"].Status)
	}
}

func TestAverageResponseTimesTracksRegisteredServices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, 5, time.Minute)
	client.RegisterService("echo", server.URL)

	if _, err := client.Call(context.Background(), "echo", "/op", http.MethodGet, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	averages := client.AverageResponseTimes()
	if _, exists := averages["echo"]; !exists {
		t.Error("expected latency entry for registered service")
	}
}
