package mq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/shaiso/Armada/internal/domain"
)

// DefaultPublishTimeout — таймаут публикации одного события.
const DefaultPublishTimeout = 5 * time.Second

// EventPublisher — то, что умеет публиковать события флота.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev domain.Event) error
}

// EventSink пересылает события флота в armada.events.
// Ошибки публикации логируются и не доходят до источника события.
type EventSink struct {
	pub     EventPublisher
	timeout time.Duration
	logger  *slog.Logger
}

// NewEventSink создаёт EventSink.
func NewEventSink(pub EventPublisher, logger *slog.Logger) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{
		pub:     pub,
		timeout: DefaultPublishTimeout,
		logger:  logger.With("component", "mq"),
	}
}

// Emit публикует событие.
func (s *EventSink) Emit(ctx context.Context, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.pub.PublishEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event",
			"event_id", ev.ID.String(),
			"kind", string(ev.Kind),
			"node_id", ev.NodeID,
			"error", err,
		)
	}
}

// MessageWriter — часть kafka.Writer, нужная KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig — конфигурация KafkaSink.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// BatchTimeout — сколько writer копит сообщения перед отправкой.
	BatchTimeout time.Duration
}

// NewKafkaWriter создаёт kafka.Writer для потока событий.
// Ключ сообщения — ID узла, поэтому события одного узла попадают
// в одну партицию и сохраняют порядок.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 100 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batch,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// KafkaSink пишет события флота в топик Kafka.
type KafkaSink struct {
	w       MessageWriter
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafkaSink создаёт KafkaSink поверх writer.
func NewKafkaSink(w MessageWriter, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{
		w:       w,
		timeout: DefaultPublishTimeout,
		logger:  logger.With("component", "kafka"),
	}
}

// Emit сериализует событие и пишет его в топик.
func (s *KafkaSink) Emit(ctx context.Context, ev domain.Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to encode event", "event_id", ev.ID.String(), "error", err)
		return
	}

	key := ev.NodeID
	if key == "" {
		key = string(ev.Component)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err = s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "component", Value: []byte(ev.Component)},
		},
	})
	if err != nil {
		s.logger.Warn("failed to write event",
			"event_id", ev.ID.String(),
			"kind", string(ev.Kind),
			"error", err,
		)
	}
}

// Close закрывает writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
