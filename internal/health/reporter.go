// Package health — Fleet Health Reporter: on-demand снимок состояния флота.
//
// Report параллельно опрашивает каждый узел через runtime
// (адрес, exec, активность сервиса) с таймаутом на узел, так что
// один недоступный узел не задерживает весь отчёт. Состояния не хранит.
package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/roles"
	"github.com/shaiso/Armada/internal/runtime"
)

// Значения по умолчанию.
const (
	DefaultNodeTimeout    = 10 * time.Second
	DefaultMaxConcurrency = 8
)

// AlertSource сообщает, находится ли guard узла в состоянии алерта.
type AlertSource interface {
	Alerting(nodeID string) bool
}

// Config — конфигурация репортера.
type Config struct {
	// Runtime — адаптер runtime контейнеров.
	Runtime runtime.Adapter

	// Plugins — плагины ролей (для проверки активности сервиса).
	Plugins *roles.Registry

	// Alerts — источник алертов guard (может быть nil).
	Alerts AlertSource

	// InstanceName отображает ID узла в имя контейнера (nil — совпадают).
	InstanceName func(nodeID string) string

	// NodeTimeout — таймаут проверки одного узла.
	NodeTimeout time.Duration

	// MaxConcurrency — сколько узлов проверяется одновременно.
	MaxConcurrency int

	// Logger — логгер.
	Logger *slog.Logger
}

// Reporter — агрегатор здоровья флота.
type Reporter struct {
	rt             runtime.Adapter
	plugins        *roles.Registry
	alerts         AlertSource
	instanceName   func(string) string
	nodeTimeout    time.Duration
	maxConcurrency int
	logger         *slog.Logger
}

// New создаёт репортер.
func New(cfg Config) *Reporter {
	if cfg.Plugins == nil {
		cfg.Plugins = roles.Builtin()
	}
	if cfg.InstanceName == nil {
		cfg.InstanceName = func(id string) string { return id }
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = DefaultNodeTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Reporter{
		rt:             cfg.Runtime,
		plugins:        cfg.Plugins,
		alerts:         cfg.Alerts,
		instanceName:   cfg.InstanceName,
		nodeTimeout:    cfg.NodeTimeout,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         cfg.Logger.With("component", "health"),
	}
}

// Report проверяет все узлы топологии. Результаты — в порядке объявления узлов.
func (r *Reporter) Report(ctx context.Context, spec *domain.TopologySpec) []domain.HealthCheckResult {
	if spec == nil {
		return nil
	}

	results := make([]domain.HealthCheckResult, len(spec.Nodes))

	var eg errgroup.Group
	eg.SetLimit(r.maxConcurrency)

	for i := range spec.Nodes {
		node := &spec.Nodes[i]
		eg.Go(func() error {
			results[i] = r.Check(ctx, node)
			return nil
		})
	}
	_ = eg.Wait()

	unhealthy := 0
	for _, res := range results {
		if !res.Healthy() {
			unhealthy++
		}
	}
	r.logger.Debug("fleet health report", "nodes", len(results), "unhealthy", unhealthy)

	return results
}

// Check проверяет один узел с таймаутом NodeTimeout.
func (r *Reporter) Check(ctx context.Context, node *domain.Node) domain.HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, r.nodeTimeout)
	defer cancel()

	res := domain.HealthCheckResult{
		NodeID:    node.ID,
		Role:      node.Role,
		CheckedAt: time.Now(),
	}
	if r.alerts != nil {
		res.Alerting = r.alerts.Alerting(node.ID)
	}

	instance := r.instanceName(node.ID)

	addr, err := r.rt.QueryAddress(ctx, instance)
	if err != nil {
		res.Error = describe(ctx, err)
		return res
	}
	res.Address = addr

	sh := runtime.Bind(r.rt, instance)
	if _, err := sh.Run(ctx, "true"); err != nil {
		res.Error = describe(ctx, err)
		return res
	}
	res.Reachable = addr != ""
	if !res.Reachable {
		res.Error = "no address assigned"
		return res
	}

	plugin, err := r.plugins.Get(node.Role)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	active, err := plugin.Active(ctx, sh)
	if err != nil {
		res.Error = describe(ctx, err)
		return res
	}
	res.ServiceActive = active
	if !active {
		res.Error = "service " + plugin.ServiceUnit() + " is not active"
	}

	return res
}

func describe(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "health check timed out: " + err.Error()
	}
	return err.Error()
}
