package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/engine"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/orchestrator"
)

// DefaultSchedule — расписание проверок по умолчанию.
const DefaultSchedule = "@every 1m"

const defaultSweepTimeout = 2 * time.Minute

// TopologySource отдаёт загруженную топологию.
type TopologySource interface {
	Topology() (*engine.Topology, error)
}

// HealthReporter строит снимок здоровья флота.
type HealthReporter interface {
	Report(ctx context.Context, spec *domain.TopologySpec) []domain.HealthCheckResult
}

// Config — конфигурация Scheduler.
type Config struct {
	// Schedule — cron-выражение или дескриптор (@every 1m).
	Schedule string

	Fleet    TopologySource
	Reporter HealthReporter

	// Sink получает health_report на каждый узел.
	Sink events.Sink

	// Timeout — ограничение на одну проверку флота.
	Timeout time.Duration

	Logger *slog.Logger
}

// Scheduler — периодические проверки здоровья флота по cron.
type Scheduler struct {
	schedule cron.Schedule
	expr     string
	fleet    TopologySource
	reporter HealthReporter
	sink     events.Sink
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New создаёт Scheduler. Невалидное расписание — ошибка.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	schedule, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSweepTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		schedule: schedule,
		expr:     cfg.Schedule,
		fleet:    cfg.Fleet,
		reporter: cfg.Reporter,
		sink:     cfg.Sink,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With("component", "scheduler"),
	}, nil
}

// Start запускает проверки по расписанию. Пропускает запуск,
// если предыдущая проверка ещё идёт.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return
	}

	logger := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("health sweep failed", "error", err)
		}
	}))
	s.cron.Start()

	s.logger.Info("health sweeps scheduled", "schedule", s.expr, "next", s.schedule.Next(time.Now()))
}

// Stop останавливает расписание и ждёт текущую проверку.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("health sweeps stopped")
}

// Sweep выполняет одну проверку флота и публикует health_report по каждому узлу.
// Пока топология не загружена, проверка пропускается.
func (s *Scheduler) Sweep(ctx context.Context) ([]domain.HealthCheckResult, error) {
	topo, err := s.fleet.Topology()
	if errors.Is(err, orchestrator.ErrNoTopology) {
		s.logger.Debug("health sweep skipped: no topology loaded")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get topology: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	results := s.reporter.Report(ctx, topo.Spec)

	unhealthy := make([]string, 0)
	for _, res := range results {
		if !res.Healthy() {
			unhealthy = append(unhealthy, res.NodeID)
		}
		s.sink.Emit(ctx, reportEvent(res))
	}

	s.logger.Info("health sweep completed",
		"nodes", len(results),
		"unhealthy", unhealthy,
		"duration", time.Since(start),
	)
	return results, nil
}

func reportEvent(res domain.HealthCheckResult) domain.Event {
	ev := domain.NewEvent(res.NodeID, domain.ComponentHealth, domain.EventHealthReport).
		WithDetail("healthy", res.Healthy()).
		WithDetail("reachable", res.Reachable).
		WithDetail("service_active", res.ServiceActive).
		WithDetail("alerting", res.Alerting)
	if res.Address != "" {
		ev = ev.WithDetail("address", res.Address)
	}
	if res.Error != "" {
		ev = ev.WithDetail("error", res.Error)
	}
	return ev
}
