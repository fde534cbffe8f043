package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xuai/navigator/pkg/redisclient"
)

// InvalidateChannel carries cache-drop notices between navigator processes.
const InvalidateChannel = "catalog:invalidate"

type invalidateMessage struct {
	Source    string    `json:"source"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisService Redis-backed coordination between instances
type RedisService struct {
	client     *redisclient.Client
	instanceID string
	logger     *slog.Logger

	mu        sync.RWMutex
	isHealthy bool
}

// RedisServiceConfig Redis service settings
type RedisServiceConfig struct {
	Addr          string
	Password      string
	DB            int
	OnStateChange func(old, new redisclient.ConnectionState)
	Logger        *slog.Logger
}

// NewRedisService connects to Redis. Connection failures are retried in the background.
func NewRedisService(cfg *RedisServiceConfig) (*RedisService, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	svc := &RedisService{
		instanceID: uuid.New().String(),
		logger:     logger.With("component", "redis_service"),
	}

	rc := redisclient.DefaultConfig(cfg.Addr)
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	rc.Logger = logger
	rc.OnStateChange = func(old, new redisclient.ConnectionState) {
		svc.mu.Lock()
		svc.isHealthy = new == redisclient.StateConnected
		svc.mu.Unlock()

		if cfg.OnStateChange != nil {
			cfg.OnStateChange(old, new)
		}
	}
	svc.client = redisclient.New(rc)

	return svc, nil
}

// IsHealthy Redis connection state
func (s *RedisService) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isHealthy
}

// State connection state of the underlying client, e.g. "reconnecting".
func (s *RedisService) State() string {
	return s.client.State().String()
}

// Client underlying resilient client
func (s *RedisService) Client() *redisclient.Client {
	return s.client
}

// InstanceID identifies this process in invalidate messages.
func (s *RedisService) InstanceID() string {
	return s.instanceID
}

// PublishInvalidate asks other instances to drop their catalog cache.
func (s *RedisService) PublishInvalidate(ctx context.Context, reason string) error {
	data, err := json.Marshal(invalidateMessage{
		Source:    s.instanceID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, InvalidateChannel, data); err != nil {
		return fmt.Errorf("failed to publish invalidate: %w", err)
	}
	return nil
}

// SubscribeInvalidate calls fn for every invalidate notice sent by another instance.
func (s *RedisService) SubscribeInvalidate(ctx context.Context, fn func(reason string)) error {
	return s.client.Subscribe(ctx, InvalidateChannel, func(payload string) {
		s.handleInvalidate(payload, fn)
	})
}

func (s *RedisService) handleInvalidate(payload string, fn func(reason string)) {
	var msg invalidateMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		s.logger.Warn("ignoring malformed invalidate message", "error", err)
		return
	}
	if msg.Source == s.instanceID {
		return
	}
	s.logger.Info("catalog invalidated by peer", "source", msg.Source, "reason", msg.Reason)
	fn(msg.Reason)
}

// Close Redis service shutdown
func (s *RedisService) Close() error {
	return s.client.Close()
}
