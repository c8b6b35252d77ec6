package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Armada/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeEvent   MessageType = "fleet.event"
	MessageTypeCommand MessageType = "fleet.command"
)

// CommandType — команда оператора.
type CommandType string

// Команды.
const (
	CommandRetry  CommandType = "retry"
	CommandStop   CommandType = "stop"
	CommandDeploy CommandType = "deploy"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// CommandPayload — команда оператора над узлом или флотом.
type CommandPayload struct {
	Command CommandType `json:"command"`

	// NodeID — целевой узел (пусто для deploy).
	NodeID string `json:"node_id,omitempty"`

	// RequestedBy — кто отправил команду (для аудита).
	RequestedBy string `json:"requested_by,omitempty"`
}

// Validate проверяет команду.
func (p CommandPayload) Validate() error {
	switch p.Command {
	case CommandRetry, CommandStop:
		if p.NodeID == "" {
			return fmt.Errorf("command %s requires node_id", p.Command)
		}
	case CommandDeploy:
	default:
		return fmt.Errorf("unknown command %q", p.Command)
	}
	return nil
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishEvent публикует событие флота в armada.events.
// ID сообщения совпадает с ID события, чтобы подписчики могли дедуплицировать.
func (p *Publisher) PublishEvent(ctx context.Context, ev domain.Event) error {
	msg := &Message{
		ID:        ev.ID.String(),
		Type:      MessageTypeEvent,
		Payload:   ev,
		Timestamp: ev.Timestamp,
	}

	return p.Publish(ctx, ExchangeEvents, EventRoutingKey(ev), msg)
}

// PublishCommand публикует команду оператора в fleet.commands.
// Потребитель: Deployer.
func (p *Publisher) PublishCommand(ctx context.Context, cmd CommandPayload) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeCommand,
		Payload:   cmd,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeCommands, RoutingKeyCommand, msg)
}
