package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Armada/internal/domain"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeEvents   Exchange = "armada.events"
	ExchangeCommands Exchange = "armada.commands"
	ExchangeDLQ      Exchange = "armada.dlq"
)

// Queues — имена очередей.
const (
	QueueFleetCommands Queue = "fleet.commands"
	QueueDLQCommands   Queue = "dlq.commands"
)

// Routing keys.
const (
	RoutingKeyCommand     RoutingKey = "command"
	RoutingKeyDLQCommands RoutingKey = "commands"
)

// EventRoutingKey возвращает ключ маршрутизации события: "<component>.<kind>".
// Подписчики armada.events фильтруют по нему, например "guard.*".
func EventRoutingKey(ev domain.Event) RoutingKey {
	return RoutingKey(string(ev.Component) + "." + string(ev.Kind))
}

// SetupTopology объявляет обменники, очереди и привязки.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, "topic"},
		{ExchangeCommands, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQCommands),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// Неразбираемые команды уходят в DLQ
		{QueueFleetCommands, dlqArgs},
		{QueueDLQCommands, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueFleetCommands, RoutingKeyCommand, ExchangeCommands},
		{QueueDLQCommands, RoutingKeyDLQCommands, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Armada RabbitMQ Topology:

    armada.events (topic)
    └── <component>.<kind>, e.g. lifecycle.transition, guard.alert
            Consumers bind their own queues

    armada.commands (direct)
    └── fleet.commands [routing: command]
            Consumer: Deployer (retry / stop / deploy)
            DLQ: dlq.commands

    armada.dlq (direct)
    └── dlq.commands [routing: commands]
            Manual processing
  `
}
