// Package mq связывает Armada с брокерами сообщений.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий и команд
//   - consumer.go   — потребление команд оператора
//   - sink.go       — events.Sink поверх RabbitMQ и Kafka
//
// Типы сообщений:
//   - fleet.event   — событие флота (переход, тик guard, отчёт здоровья)
//   - fleet.command — команда оператора: retry, stop, deploy
//
// Exchanges:
//   - armada.events   — события, routing key "<component>.<kind>"
//   - armada.commands — команды, очередь fleet.commands
//   - armada.dlq      — неразбираемые команды
package mq
