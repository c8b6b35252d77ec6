// Armada Deployer — разворачивает флот и держит его в рабочем состоянии.
//
// Deployer:
//   - Загружает топологию флота и проводит узлы в топологическом порядке
//   - Запускает guard-цикл resolver-конфигурации на каждом HEALTHY узле
//   - Периодически проверяет здоровье флота по cron-расписанию
//   - Принимает команды оператора через HTTP API и очередь fleet.commands
//   - Публикует события в PostgreSQL, RabbitMQ и Kafka (если настроены)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shaiso/Armada/internal/api"
	"github.com/shaiso/Armada/internal/config"
	"github.com/shaiso/Armada/internal/engine"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/guard"
	"github.com/shaiso/Armada/internal/health"
	"github.com/shaiso/Armada/internal/mq"
	"github.com/shaiso/Armada/internal/orchestrator"
	"github.com/shaiso/Armada/internal/repo"
	"github.com/shaiso/Armada/internal/runtime"
	"github.com/shaiso/Armada/internal/runtime/incus"
	"github.com/shaiso/Armada/internal/runtime/sim"
	"github.com/shaiso/Armada/internal/scheduler"
	"github.com/shaiso/Armada/internal/telemetry"
)

// recentEvents — сколько событий хранится в памяти без БД.
const recentEvents = 2048

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting armada-deployer")

	cfg, err := config.LoadDeployer()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Топология проверяется до любых действий с узлами.
	spec, err := engine.LoadTopology(cfg.Topology)
	if err != nil {
		logger.Error("failed to load topology", "path", cfg.Topology, "error", err)
		os.Exit(1)
	}
	if _, err := engine.BuildTopology(spec); err != nil {
		logger.Error("invalid topology, nothing deployed", "path", cfg.Topology, "error", err)
		os.Exit(1)
	}
	logger.Info("topology loaded", "name", spec.Name, "nodes", len(spec.Nodes))

	metrics := telemetry.NewMetrics()
	recorder := events.NewRecorder(recentEvents)
	records := guard.NewRecordStore()

	sinks := []events.Sink{events.NewLogSink(logger), metrics, recorder}
	var closers []func()

	// PostgreSQL (опционально)
	var eventLister api.EventLister = api.RecorderEvents{Recorder: recorder}
	var deployments api.DeploymentLister
	var history orchestrator.DeploymentStore

	if cfg.DBURL != "" {
		pool, err := repo.NewPool(ctx, cfg.DBURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := repo.Migrate(ctx, pool); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected")

		eventRepo := repo.NewEventRepo(pool)
		deploymentRepo := repo.NewDeploymentRepo(pool)

		dbSink := events.NewAsync(repo.NewEventSink(eventRepo, repo.NewRecordRepo(pool), records, logger), 0, logger)
		closers = append(closers, dbSink.Close)
		sinks = append(sinks, dbSink)

		eventLister = eventRepo
		deployments = deploymentRepo
		history = deploymentRepo
	} else {
		logger.Info("DB_URL not set, running with in-memory state only")
	}

	// RabbitMQ (опционально)
	var mqConn *mq.Connection
	var publisher *mq.Publisher
	if cfg.Brokers.RabbitMQURL != "" {
		mqConn, err = mq.NewConnection(cfg.Brokers.RabbitMQURL, "armada-deployer", logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, commands are accepted over HTTP only", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}

			publisher = mq.NewPublisher(mqConn, logger)
			mqSink := events.NewAsync(mq.NewEventSink(publisher, logger), 0, logger)
			closers = append(closers, mqSink.Close)
			sinks = append(sinks, mqSink)
		}
	}

	// Kafka (опционально)
	if len(cfg.Brokers.KafkaBrokers) > 0 {
		writer := mq.NewKafkaWriter(mq.KafkaConfig{
			Brokers: cfg.Brokers.KafkaBrokers,
			Topic:   cfg.Brokers.KafkaEventsTopic,
		})
		kafkaSink := mq.NewKafkaSink(writer, logger)
		async := events.NewAsync(kafkaSink, 0, logger)
		closers = append(closers, async.Close, func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("failed to close kafka writer", "error", err)
			}
		})
		sinks = append(sinks, async)
		logger.Info("kafka event stream enabled", "brokers", cfg.Brokers.KafkaBrokers, "topic", cfg.Brokers.KafkaEventsTopic)
	}

	sink := events.Join(sinks...)

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		logger.Error("failed to create runtime", "error", err)
		os.Exit(1)
	}

	var guards *guard.Supervisor
	if cfg.GuardEnabled {
		guards = guard.NewSupervisor(guard.SupervisorConfig{
			Store:            records,
			Sink:             sink,
			Policy:           cfg.Retry.Policy(),
			Interval:         cfg.Guard.Interval,
			ProbeTimeout:     cfg.Guard.ProbeTimeout,
			FailureThreshold: cfg.Guard.FailureThreshold,
			Logger:           logger,
		})
	}

	orch := orchestrator.New(orchestrator.Config{
		Runtime:           rt,
		Sink:              sink,
		Guards:            guards,
		GuardProbeTimeout: cfg.Guard.ProbeTimeout,
		InstancePrefix:    cfg.InstancePrefix,
		Policy:            cfg.Retry.Policy(),
		ReadyTimeout:      cfg.ReadyTimeout,
		DependencyTimeout: cfg.DependencyTimeout,
		MaxParallel:       cfg.MaxParallel,
		History:           history,
		Logger:            logger,
	})

	reporter := health.New(health.Config{
		Runtime:      rt,
		Alerts:       records,
		InstanceName: orch.InstanceName,
		NodeTimeout:  cfg.HealthTimeout,
		Logger:       logger,
	})

	var wg sync.WaitGroup

	// Первый деплой
	if cfg.DeployOnStart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := orch.Deploy(ctx, spec)
			if err != nil {
				logger.Error("initial deployment failed", "error", err)
				return
			}
			if !res.Succeeded() {
				logger.Warn("initial deployment finished with failed nodes", "failed", res.Failed)
			}
		}()
	} else {
		if _, err := orch.Load(spec); err != nil {
			logger.Error("failed to load topology", "error", err)
			os.Exit(1)
		}
		logger.Info("ARMADA_DEPLOY_ON_START=false, waiting for operator commands")
	}

	// Очередь команд
	var consumer *mq.Consumer
	if mqConn != nil {
		consumer = mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue:   mq.QueueFleetCommands,
			Handler: orch.HandleCommand,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("command consumer stopped", "error", err)
			}
		}()
	}

	// Плановые проверки здоровья
	sched, err := scheduler.New(scheduler.Config{
		Schedule: cfg.HealthSchedule,
		Fleet:    orch,
		Reporter: reporter,
		Sink:     sink,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("invalid health schedule", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	// HTTP: /healthz, /metrics и API оператора
	handler := api.NewHandler(api.Config{
		Fleet:       orch,
		Health:      reporter,
		Events:      eventLister,
		Deployments: deployments,
		Commands:    commandPublisher(publisher),
		Metrics:     metrics,
		Logger:      logger,
	})

	startTime := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", metrics.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	sched.Stop()
	if consumer != nil {
		consumer.Stop()
	}
	wg.Wait()

	// Контейнеры продолжают работать, останавливаются только guard-циклы.
	orch.Shutdown()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}

	logger.Info("armada-deployer stopped")
}

// newRuntime создаёт runtime-бэкенд по ARMADA_RUNTIME.
func newRuntime(cfg *config.Deployer, logger *slog.Logger) (runtime.Adapter, error) {
	switch cfg.Runtime {
	case config.RuntimeIncus:
		return incus.New(incus.Config{Binary: cfg.IncusBin, Logger: logger}), nil
	case config.RuntimeSim:
		logger.Warn("using simulated runtime, no containers will be created")
		return sim.New(sim.Config{}), nil
	default:
		return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
}

// commandPublisher возвращает nil-интерфейс, если RabbitMQ не подключён.
func commandPublisher(p *mq.Publisher) api.CommandPublisher {
	if p == nil {
		return nil
	}
	return p
}
