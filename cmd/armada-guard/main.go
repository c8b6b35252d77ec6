// Armada Guard — агент реконсиляции resolver-конфигурации внутри контейнера.
//
// Guard каждые ARMADA_GUARD_INTERVAL:
//   - Читает /etc/resolv.conf и проверяет DNS-пробы (кворум)
//   - При дрейфе перезаписывает файл, восстанавливает immutable-бит
//     и выполняет команду перезапуска резолвера
//   - Публикует события guard в RabbitMQ и Kafka (если настроены)
//
// Логи пишутся в stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Armada/internal/config"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/guard"
	"github.com/shaiso/Armada/internal/mq"
	"github.com/shaiso/Armada/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLoggerTo(os.Stderr)

	cfg, err := config.LoadGuard()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting armada-guard", "node_id", cfg.NodeID, "resolv_conf", cfg.ResolvConf)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sinks := []events.Sink{events.NewLogSink(logger)}
	var closers []func()

	// RabbitMQ (опционально)
	if cfg.Brokers.RabbitMQURL != "" {
		conn, err := mq.NewConnection(cfg.Brokers.RabbitMQURL, "armada-guard-"+cfg.NodeID, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, events are logged only", "error", err)
		} else {
			defer conn.Close()
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			async := events.NewAsync(mq.NewEventSink(mq.NewPublisher(conn, logger), logger), 0, logger)
			closers = append(closers, async.Close)
			sinks = append(sinks, async)
		}
	}

	// Kafka (опционально)
	if len(cfg.Brokers.KafkaBrokers) > 0 {
		kafkaSink := mq.NewKafkaSink(mq.NewKafkaWriter(mq.KafkaConfig{
			Brokers: cfg.Brokers.KafkaBrokers,
			Topic:   cfg.Brokers.KafkaEventsTopic,
		}), logger)
		async := events.NewAsync(kafkaSink, 0, logger)
		closers = append(closers, async.Close, func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("failed to close kafka writer", "error", err)
			}
		})
		sinks = append(sinks, async)
	}

	g := guard.New(guard.Config{
		NodeID:           cfg.NodeID,
		Spec:             cfg.ResolverSpec(),
		Target:           guard.NewFileTarget(cfg.ResolvConf, cfg.Loop.ProbeTimeout),
		Sink:             events.Join(sinks...),
		Policy:           cfg.Retry.Policy(),
		Interval:         cfg.Loop.Interval,
		ProbeTimeout:     cfg.Loop.ProbeTimeout,
		FailureThreshold: cfg.Loop.FailureThreshold,
		Logger:           logger,
	})

	if err := g.Run(ctx); err != nil {
		logger.Error("guard failed", "error", err)
	}

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}

	rec := g.Record()
	logger.Info("armada-guard stopped",
		"node_id", cfg.NodeID,
		"state", string(rec.State),
		"ticks", rec.Ticks,
		"consecutive_failures", rec.ConsecutiveFailures,
	)
}
