package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/engine"
	"github.com/shaiso/Armada/internal/mq"
	"github.com/shaiso/Armada/internal/orchestrator"
	"github.com/shaiso/Armada/internal/repo"
	"github.com/shaiso/Armada/internal/telemetry"
)

// Fleet — операции оркестратора, доступные через API.
type Fleet interface {
	Topology() (*engine.Topology, error)
	NodeStates() ([]orchestrator.NodeStatus, error)
	NodeState(nodeID string) (orchestrator.NodeStatus, error)
	LastDeployment() (*orchestrator.FleetDeployResult, bool)
	Redeploy(ctx context.Context) (*orchestrator.FleetDeployResult, error)
	Retry(ctx context.Context, nodeID string) (orchestrator.NodeResult, error)
	Stop(ctx context.Context, nodeID string) error
	Reconciliation(nodeID string) (domain.ReconciliationRecord, error)
}

// HealthReporter строит снимок здоровья флота.
type HealthReporter interface {
	Report(ctx context.Context, spec *domain.TopologySpec) []domain.HealthCheckResult
}

// EventLister выбирает события по фильтру.
type EventLister interface {
	List(ctx context.Context, filter repo.EventFilter) ([]domain.Event, error)
}

// DeploymentLister выбирает историю деплоев.
type DeploymentLister interface {
	List(ctx context.Context, limit int) ([]*orchestrator.FleetDeployResult, error)
}

// CommandPublisher ставит команды оператора в очередь.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd mq.CommandPayload) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	fleet       Fleet
	health      HealthReporter
	events      EventLister
	deployments DeploymentLister
	commands    CommandPublisher
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Fleet  Fleet
	Health HealthReporter

	// Events — журнал событий (nil — эндпоинт событий отвечает 404).
	Events EventLister

	// Deployments — история деплоев (nil — только последний деплой в памяти).
	Deployments DeploymentLister

	// Commands — очередь команд. Если задана, deploy/retry/stop ставятся
	// в очередь, а не выполняются в запросе (кроме ?wait=true).
	Commands CommandPublisher

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		fleet:       cfg.Fleet,
		health:      cfg.Health,
		events:      cfg.Events,
		deployments: cfg.Deployments,
		commands:    cfg.Commands,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "api"),
	}
}
