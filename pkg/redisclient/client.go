// Package redisclient wraps go-redis with reconnect, a circuit breaker and
// automatic resubscription so Redis can drop out without taking the
// catalog down with it.
package redisclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned while Redis is disconnected or the circuit is open.
var ErrUnavailable = errors.New("redis unavailable")

// ConnectionState connection state
type ConnectionState int

const (
	StateConnected ConnectionState = iota
	StateDisconnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// CircuitState circuit breaker state
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// Config client settings
type Config struct {
	Addr     string
	Password string
	DB       int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration

	HealthInterval time.Duration

	OnStateChange func(old, new ConnectionState)
	Logger        *slog.Logger
}

// DefaultConfig returns the settings used by the server.
func DefaultConfig(addr string) *Config {
	return &Config{
		Addr:              addr,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		FailureThreshold:  5,
		SuccessThreshold:  2,
		OpenTimeout:       30 * time.Second,
		HealthInterval:    5 * time.Second,
	}
}

// ZEntry one sorted set member with its score
type ZEntry struct {
	Member string
	Score  float64
}

// Client Redis client that survives outages
type Client struct {
	config *Config
	rdb    *redis.Client
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	stateMu   sync.RWMutex
	connState ConnectionState

	circuitMu    sync.Mutex
	circuitState CircuitState
	failureCount int
	successCount int
	lastFailure  time.Time

	subMu         sync.Mutex
	subscriptions map[string]*subscription
	reconnecting  bool
}

type subscription struct {
	channel string
	handler func(payload string)
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
}

// New creates the client. A failed first ping does not fail construction:
// the client keeps reconnecting in the background.
func New(cfg *Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		config:        cfg,
		logger:        logger.With("component", "redis"),
		ctx:           ctx,
		cancel:        cancel,
		connState:     StateDisconnected,
		circuitState:  CircuitClosed,
		subscriptions: make(map[string]*subscription),
		rdb: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}),
	}

	if err := c.ping(); err != nil {
		c.logger.Warn("initial redis ping failed, reconnecting in background", "addr", cfg.Addr, "error", err)
		c.startReconnect()
	} else {
		c.setState(StateConnected)
	}

	if cfg.HealthInterval > 0 {
		go c.healthLoop()
	}
	return c
}

func (c *Client) ping() error {
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) setState(state ConnectionState) {
	c.stateMu.Lock()
	old := c.connState
	c.connState = state
	c.stateMu.Unlock()

	if old != state {
		c.logger.Info("redis connection state changed", "from", old.String(), "to", state.String())
		if c.config.OnStateChange != nil {
			c.config.OnStateChange(old, state)
		}
	}
}

// State current connection state
func (c *Client) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.connState
}

func (c *Client) startReconnect() {
	c.subMu.Lock()
	if c.reconnecting {
		c.subMu.Unlock()
		return
	}
	c.reconnecting = true
	c.subMu.Unlock()

	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	defer func() {
		c.subMu.Lock()
		c.reconnecting = false
		c.subMu.Unlock()
	}()

	c.setState(StateReconnecting)
	backoff := c.config.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := c.ping()
		if err == nil {
			c.setState(StateConnected)
			c.resetCircuit()
			c.dropSubscriptionConns()
			return
		}
		c.logger.Debug("redis reconnect failed", "attempt", attempt, "error", err)

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * c.config.BackoffMultiplier)
		if backoff > c.config.MaxBackoff {
			backoff = c.config.MaxBackoff
		}
	}
}

func (c *Client) healthLoop() {
	ticker := time.NewTicker(c.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			if err := c.ping(); err != nil {
				c.recordFailure(err)
				c.setState(StateDisconnected)
				c.startReconnect()
			}
		}
	}
}

func (c *Client) recordFailure(err error) {
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()

	c.failureCount++
	c.successCount = 0
	c.lastFailure = time.Now()

	if c.circuitState == CircuitHalfOpen ||
		(c.circuitState == CircuitClosed && c.failureCount >= c.config.FailureThreshold) {
		c.circuitState = CircuitOpen
		c.logger.Warn("redis circuit opened", "failures", c.failureCount, "error", err)
	}
}

func (c *Client) recordSuccess() {
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()

	switch c.circuitState {
	case CircuitHalfOpen:
		c.successCount++
		if c.successCount >= c.config.SuccessThreshold {
			c.circuitState = CircuitClosed
			c.failureCount = 0
			c.successCount = 0
		}
	case CircuitClosed:
		c.failureCount = 0
	}
}

func (c *Client) resetCircuit() {
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()
	c.circuitState = CircuitClosed
	c.failureCount = 0
	c.successCount = 0
}

func (c *Client) allow() bool {
	if c.State() != StateConnected {
		return false
	}
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()

	switch c.circuitState {
	case CircuitOpen:
		if time.Since(c.lastFailure) > c.config.OpenTimeout {
			c.circuitState = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// do runs fn when the circuit allows it and feeds the result back into the breaker.
// redis.Nil counts as success.
func (c *Client) do(fn func() error) error {
	if !c.allow() {
		return ErrUnavailable
	}
	err := fn()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.recordFailure(err)
		return err
	}
	c.recordSuccess()
	return err
}

// Healthy reports whether commands are currently sent to Redis.
func (c *Client) Healthy() bool {
	if c.State() != StateConnected {
		return false
	}
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()
	return c.circuitState != CircuitOpen
}

// Get returns the value of key, or redis.Nil when it is missing.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := c.do(func() error {
		var err error
		out, err = c.rdb.Get(ctx, key).Result()
		return err
	})
	return out, err
}

// IncrWithTTL increments key and sets its expiry when it is new.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := c.do(func() error {
		pipe := c.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		n = incr.Val()
		return nil
	})
	return n, err
}

// PFAddWithTTL adds members to a HyperLogLog and sets its expiry when it is new.
func (c *Client) PFAddWithTTL(ctx context.Context, key string, ttl time.Duration, members ...any) error {
	return c.do(func() error {
		pipe := c.rdb.TxPipeline()
		pipe.PFAdd(ctx, key, members...)
		pipe.ExpireNX(ctx, key, ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (c *Client) PFCount(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := c.do(func() error {
		var err error
		n, err = c.rdb.PFCount(ctx, keys...).Result()
		return err
	})
	return n, err
}

// ZIncrBy bumps member in the sorted set key and refreshes the key's expiry.
func (c *Client) ZIncrBy(ctx context.Context, key string, incr float64, member string, ttl time.Duration) error {
	return c.do(func() error {
		pipe := c.rdb.TxPipeline()
		pipe.ZIncrBy(ctx, key, incr, member)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// ZTop returns the n highest scored members of key.
func (c *Client) ZTop(ctx context.Context, key string, n int) ([]ZEntry, error) {
	var out []ZEntry
	err := c.do(func() error {
		zs, err := c.rdb.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
		if err != nil {
			return err
		}
		out = make([]ZEntry, 0, len(zs))
		for _, z := range zs {
			member, _ := z.Member.(string)
			out = append(out, ZEntry{Member: member, Score: z.Score})
		}
		return nil
	})
	return out, err
}

// Publish sends payload on channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.do(func() error { return c.rdb.Publish(ctx, channel, payload).Err() })
}

// Subscribe delivers messages on channel to handler until ctx is done or
// Unsubscribe is called. Lost subscriptions are re-established.
func (c *Client) Subscribe(ctx context.Context, channel string, handler func(payload string)) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if _, ok := c.subscriptions[channel]; ok {
		return fmt.Errorf("already subscribed to channel: %s", channel)
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{channel: channel, handler: handler, cancel: cancel}
	c.subscriptions[channel] = sub

	go c.subscribeLoop(subCtx, sub)
	return nil
}

func (c *Client) subscribeLoop(ctx context.Context, sub *subscription) {
	backoff := c.config.InitialBackoff
	for {
		for c.State() != StateConnected {
			select {
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}

		pubsub := c.rdb.Subscribe(ctx, sub.channel)
		c.subMu.Lock()
		sub.pubsub = pubsub
		c.subMu.Unlock()

		ch := pubsub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				sub.handler(msg.Payload)
				backoff = c.config.InitialBackoff
			}
		}
		_ = pubsub.Close()
		c.logger.Warn("subscription lost, resubscribing", "channel", sub.channel)

		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * c.config.BackoffMultiplier)
		if backoff > c.config.MaxBackoff {
			backoff = c.config.MaxBackoff
		}
	}
}

// dropSubscriptionConns closes the live pubsub connections so every
// subscribeLoop resubscribes on the fresh connection.
func (c *Client) dropSubscriptionConns() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subscriptions {
		if sub.pubsub != nil {
			_ = sub.pubsub.Close()
		}
	}
}

func (c *Client) Unsubscribe(channel string) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, ok := c.subscriptions[channel]
	if !ok {
		return fmt.Errorf("not subscribed to channel: %s", channel)
	}
	sub.cancel()
	if sub.pubsub != nil {
		_ = sub.pubsub.Close()
	}
	delete(c.subscriptions, channel)
	return nil
}

// Close stops background loops and closes every subscription.
func (c *Client) Close() error {
	c.cancel()

	c.subMu.Lock()
	for _, sub := range c.subscriptions {
		sub.cancel()
		if sub.pubsub != nil {
			_ = sub.pubsub.Close()
		}
	}
	c.subscriptions = make(map[string]*subscription)
	c.subMu.Unlock()

	return c.rdb.Close()
}
