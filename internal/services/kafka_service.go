package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventType catalog event type
type EventType string

const (
	EventToolCreated      EventType = "tool.created"
	EventToolUpdated      EventType = "tool.updated"
	EventToolDeleted      EventType = "tool.deleted"
	EventToolSubmitted    EventType = "tool.submitted"
	EventToolApproved     EventType = "tool.approved"
	EventCategoryCreated  EventType = "category.created"
	EventCategoryUpdated  EventType = "category.updated"
	EventCategoryDeleted  EventType = "category.deleted"
	EventCrawlerCompleted EventType = "crawler.completed"
)

// DefaultEventTopic topic used when none is configured
const DefaultEventTopic = "navigator.catalog.events"

// CatalogEvent one catalog change
type CatalogEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	EntityID  int64     `json:"entityId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCatalogEvent stamps an event with a fresh id and the current time.
func NewCatalogEvent(t EventType, entityID int64, payload any) CatalogEvent {
	return CatalogEvent{
		ID:        uuid.New().String(),
		Type:      t,
		EntityID:  entityID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// EventPublisher delivers catalog events.
type EventPublisher interface {
	Publish(ctx context.Context, ev CatalogEvent) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, CatalogEvent) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaService publishes catalog events to a Kafka topic
type KafkaService struct {
	brokers           []string
	topic             string
	numPartitions     int
	replicationFactor int
	retentionMs       int64
	writer            messageWriter
	logger            *slog.Logger
}

// KafkaServiceConfig Kafka service settings
type KafkaServiceConfig struct {
	Brokers           []string
	Topic             string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
	Logger            *slog.Logger
}

// NewKafkaService creates the service. Brokers fall back to KAFKA_BROKERS.
func NewKafkaService(cfg *KafkaServiceConfig) *KafkaService {
	if cfg == nil {
		cfg = &KafkaServiceConfig{}
	}

	brokers := cfg.Brokers
	if len(brokers) == 0 {
		if env := os.Getenv("KAFKA_BROKERS"); env != "" {
			brokers = strings.Split(env, ",")
		} else {
			brokers = []string{"localhost:9092"}
		}
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultEventTopic
	}
	numPartitions := cfg.NumPartitions
	if numPartitions <= 0 {
		numPartitions = 3
	}
	replicationFactor := cfg.ReplicationFactor
	if replicationFactor <= 0 {
		replicationFactor = 1
	}
	retentionMs := cfg.RetentionMs
	if retentionMs <= 0 {
		retentionMs = 7 * 24 * 60 * 60 * 1000 // 7 days
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &KafkaService{
		brokers:           brokers,
		topic:             topic,
		numPartitions:     numPartitions,
		replicationFactor: replicationFactor,
		retentionMs:       retentionMs,
		logger:            logger.With("component", "kafka"),
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish writes the event keyed by entity id so one entity's events stay ordered.
func (s *KafkaService) Publish(ctx context.Context, ev CatalogEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.EntityID, 10)),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	s.logger.Debug("event published", "type", ev.Type, "entity_id", ev.EntityID)
	return nil
}

// EnsureTopic creates the event topic through the controller broker unless it exists.
func (s *KafkaService) EnsureTopic(ctx context.Context) error {
	if len(s.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	if ok, _ := s.TopicExists(ctx); ok {
		return nil
	}

	s.logger.Info("Creating Kafka topic", "topic", s.topic, "brokers", s.brokers)

	conn, err := kafka.DialContext(ctx, "tcp", s.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka: %w", err)
	}
	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to connect to controller: %w", err)
	}
	defer func() { _ = controllerConn.Close() }()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             s.topic,
		NumPartitions:     s.numPartitions,
		ReplicationFactor: s.replicationFactor,
		ConfigEntries: []kafka.ConfigEntry{
			{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(s.retentionMs, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	s.logger.Info("Kafka topic created", "topic", s.topic)
	return nil
}

// TopicExists reports whether the event topic has partitions.
func (s *KafkaService) TopicExists(ctx context.Context) (bool, error) {
	conn, err := kafka.DialContext(ctx, "tcp", s.brokers[0])
	if err != nil {
		return false, fmt.Errorf("failed to connect to kafka: %w", err)
	}
	defer func() { _ = conn.Close() }()

	partitions, err := conn.ReadPartitions(s.topic)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

func (s *KafkaService) Topic() string {
	return s.topic
}

func (s *KafkaService) Brokers() []string {
	return s.brokers
}

func (s *KafkaService) Close() error {
	return s.writer.Close()
}
