package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"aria-orchestrator/internal/config"
	"aria-orchestrator/internal/models"
	"aria-orchestrator/internal/pkg/logger"
)

// RedisService owns the pub/sub event bus: intent results arrive on one
// channel, combined orchestrator responses leave on another.
type RedisService struct {
	client *redis.Client
	logger *logger.Logger
	config config.RedisConfig
}

func NewRedisService(cfg config.RedisConfig, log *logger.Logger) (*RedisService, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout

	service := &RedisService{
		client: redis.NewClient(opt),
		logger: log,
		config: cfg,
	}

	if err := service.testConnection(); err != nil {
		return nil, err
	}

	log.Info("Redis service initialized",
		"url", cfg.URL,
		"intent_channel", cfg.IntentChannel,
		"response_channel", cfg.ResponseChannel,
		"pool_size", cfg.PoolSize)

	return service, nil
}

func (service *RedisService) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := service.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connection to Redis failed: %w", err)
	}
	return nil
}

// SubscribeIntentResults subscribes to the intent channel. The returned
// PubSub stays open until closed by the caller.
func (service *RedisService) SubscribeIntentResults(ctx context.Context) *redis.PubSub {
	return service.client.Subscribe(ctx, service.config.IntentChannel)
}

// PublishOrchestratorResponse publishes the combined response event for the
// gateway to forward to the client connection.
func (service *RedisService) PublishOrchestratorResponse(ctx context.Context, response *models.OrchestratorResponse) error {
	response.Type = models.ResponseTypeOrchestrator

	payload, err := json.Marshal(response)
	if err != nil {
		return models.NewInternalError("SERIALIZATION_FAILED", "Failed to encode orchestrator response").WithCause(err)
	}

	if err := service.client.Publish(ctx, service.config.ResponseChannel, payload).Err(); err != nil {
		return models.NewExternalError("PUBLISH_FAILED", "Failed to publish orchestrator response").WithCause(err)
	}

	service.logger.Debug("Published orchestrator response",
		"connection_id", response.ConnectionID,
		"channel", service.config.ResponseChannel)

	return nil
}

func (service *RedisService) HealthCheck(ctx context.Context) error {
	return service.client.Ping(ctx).Err()
}

func (service *RedisService) Close() error {
	service.logger.Info("Closing Redis service")
	return service.client.Close()
}
