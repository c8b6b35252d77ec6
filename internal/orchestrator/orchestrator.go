package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/engine"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/guard"
	"github.com/shaiso/Armada/internal/lifecycle"
	"github.com/shaiso/Armada/internal/policy"
	"github.com/shaiso/Armada/internal/registry"
	"github.com/shaiso/Armada/internal/roles"
	"github.com/shaiso/Armada/internal/runtime"
	"github.com/shaiso/Armada/internal/telemetry"
)

// Значения по умолчанию.
const (
	defaultMaxParallel  = 4
	defaultProbeTimeout = 5 * time.Second
)

// Config — конфигурация Orchestrator.
type Config struct {
	// Runtime — адаптер runtime контейнеров.
	Runtime runtime.Adapter

	// Registry — реестр адресов (nil — новый).
	Registry *registry.Registry

	// Plugins — плагины ролей (nil — встроенные).
	Plugins *roles.Registry

	// Sink — получатель событий.
	Sink events.Sink

	// Guards — супервизор guard-циклов (nil — guard не запускается).
	Guards *guard.Supervisor

	// GuardProbeTimeout — таймаут пробы guard внутри контейнера.
	GuardProbeTimeout time.Duration

	// InstancePrefix — префикс имён контейнеров (по умолчанию "<имя топологии>-").
	InstancePrefix string

	// Policy — политика повторов шагов провижининга.
	Policy policy.RetryPolicy

	// Таймауты шагов контроллера (0 — значения по умолчанию).
	ReadyTimeout      time.Duration
	ReadyPoll         time.Duration
	AddressTimeout    time.Duration
	DependencyTimeout time.Duration

	// MaxParallel — сколько независимых узлов провижинится одновременно.
	MaxParallel int

	// History — журнал деплоев (может быть nil).
	History DeploymentStore

	// Logger — логгер.
	Logger *slog.Logger
}

// DeploymentStore сохраняет отчёты деплоев.
type DeploymentStore interface {
	SaveDeployment(ctx context.Context, res *FleetDeployResult) error
}

// Orchestrator разворачивает флот в топологическом порядке.
//
// Orchestrator — центральный компонент деплойера, который:
//   - Строит граф зависимостей и отвергает некорректную топологию до любых действий
//   - Запускает узлы, как только все их зависимости HEALTHY
//   - Провижинит независимые ветви параллельно (до MaxParallel)
//   - Блокирует транзитивных зависимых упавшего узла (fail-forward)
//   - Перенастраивает HEALTHY зависимых при смене адреса узла
//   - Реализует DependencyGate для контроллеров узлов
type Orchestrator struct {
	rt                runtime.Adapter
	registry          *registry.Registry
	plugins           *roles.Registry
	sink              events.Sink
	guards            *guard.Supervisor
	guardProbeTimeout time.Duration
	instancePrefix    string
	policy            policy.RetryPolicy
	readyTimeout      time.Duration
	readyPoll         time.Duration
	addressTimeout    time.Duration
	dependencyTimeout time.Duration
	maxParallel       int
	history           DeploymentStore
	logger            *slog.Logger
	baseLogger        *slog.Logger // без component: контроллеры добавляют свой

	mu          sync.RWMutex
	topology    *engine.Topology
	controllers map[string]*lifecycle.Controller
	blocked     map[string]*BlockedByDependencyError
	last        *FleetDeployResult
	deploying   bool
	stopped     bool

	// Lifecycle
	baseCtx    context.Context
	cancelFunc context.CancelFunc
	unwatch    func()
	wg         sync.WaitGroup
}

// New создаёт Orchestrator и подписывается на изменения адресов.
func New(cfg Config) *Orchestrator {
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Plugins == nil {
		cfg.Plugins = roles.Builtin()
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = policy.Default()
	}
	if cfg.GuardProbeTimeout <= 0 {
		cfg.GuardProbeTimeout = defaultProbeTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		rt:                cfg.Runtime,
		registry:          cfg.Registry,
		plugins:           cfg.Plugins,
		sink:              cfg.Sink,
		guards:            cfg.Guards,
		guardProbeTimeout: cfg.GuardProbeTimeout,
		instancePrefix:    cfg.InstancePrefix,
		policy:            cfg.Policy,
		readyTimeout:      cfg.ReadyTimeout,
		readyPoll:         cfg.ReadyPoll,
		addressTimeout:    cfg.AddressTimeout,
		dependencyTimeout: cfg.DependencyTimeout,
		maxParallel:       cfg.MaxParallel,
		history:           cfg.History,
		logger:            telemetry.WithComponent(cfg.Logger, "orchestrator"),
		baseLogger:        cfg.Logger,
		controllers:       make(map[string]*lifecycle.Controller),
		blocked:           make(map[string]*BlockedByDependencyError),
		baseCtx:           ctx,
		cancelFunc:        cancel,
	}

	o.unwatch = o.registry.Watch(o.onEndpointChanged)

	return o
}

// Registry возвращает реестр адресов.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Topology возвращает загруженную топологию.
func (o *Orchestrator) Topology() (*engine.Topology, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.topology == nil {
		return nil, ErrNoTopology
	}
	return o.topology, nil
}

// Load строит граф по описанию флота и создаёт контроллеры узлов.
//
// Контроллеры узлов, уже известных оркестратору, сохраняются вместе с их
// состоянием. Ошибка топологии (цикл, неизвестная зависимость) ничего не меняет.
func (o *Orchestrator) Load(spec *domain.TopologySpec) (*engine.Topology, error) {
	topo, err := engine.BuildTopology(spec)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return nil, ErrOrchestratorStopped
	}

	controllers := make(map[string]*lifecycle.Controller, topo.Size())
	for _, node := range topo.Nodes() {
		if existing, ok := o.controllers[node.ID]; ok {
			controllers[node.ID] = existing
			continue
		}

		ctrl, err := o.newController(spec, node)
		if err != nil {
			return nil, err
		}
		controllers[node.ID] = ctrl
	}

	o.topology = topo
	o.controllers = controllers
	return topo, nil
}

func (o *Orchestrator) newController(spec *domain.TopologySpec, node *domain.Node) (*lifecycle.Controller, error) {
	plugin, err := o.plugins.Get(node.Role)
	if err != nil {
		return nil, engine.NewValidationError(node.ID, "role", err.Error(), err)
	}

	return lifecycle.New(lifecycle.Config{
		Node:              node,
		InstanceName:      o.instanceName(spec, node.ID),
		Image:             spec.ImageFor(node),
		Runtime:           o.rt,
		Registry:          o.registry,
		Plugin:            plugin,
		Sink:              o.sink,
		Policy:            o.policy,
		ReadyTimeout:      o.readyTimeout,
		ReadyPoll:         o.readyPoll,
		AddressTimeout:    o.addressTimeout,
		DependencyTimeout: o.dependencyTimeout,
		Gate:              o,
		OnHealthy:         o.onNodeHealthy(spec.ResolverFor(node)),
		OnRemoving:        o.onNodeRemoving,
		Logger:            o.baseLogger,
	}), nil
}

func (o *Orchestrator) instanceName(spec *domain.TopologySpec, nodeID string) string {
	prefix := o.instancePrefix
	if prefix == "" && spec.Name != "" {
		prefix = spec.Name + "-"
	}
	return prefix + nodeID
}

// InstanceName возвращает имя контейнера узла.
func (o *Orchestrator) InstanceName(nodeID string) string {
	o.mu.RLock()
	topo := o.topology
	o.mu.RUnlock()

	if topo == nil {
		return o.instancePrefix + nodeID
	}
	return o.instanceName(topo.Spec, nodeID)
}

// onNodeHealthy передаёт HEALTHY узел guard-циклу.
func (o *Orchestrator) onNodeHealthy(resolver domain.ResolverSpec) lifecycle.HealthyHook {
	return func(_ context.Context, nodeID string, sh runtime.Shell) {
		if o.guards == nil {
			return
		}
		if err := o.guards.Start(nodeID, resolver, guard.NewExecTarget(sh, o.guardProbeTimeout)); err != nil {
			if errors.Is(err, guard.ErrGuardRunning) {
				return
			}
			o.logger.Warn("failed to start guard", "node_id", nodeID, "error", err)
		}
	}
}

// onNodeRemoving останавливает guard узла.
func (o *Orchestrator) onNodeRemoving(nodeID string) {
	if o.guards != nil {
		o.guards.Stop(nodeID)
	}
}

// Deploy загружает топологию и разворачивает весь флот.
//
// Ошибки топологии возвращаются до любых действий с узлами. Провал
// отдельного узла не прерывает деплой: его транзитивные зависимые
// получают BlockedByDependencyError, независимые ветви продолжаются.
func (o *Orchestrator) Deploy(ctx context.Context, spec *domain.TopologySpec) (*FleetDeployResult, error) {
	if err := o.beginDeploy(); err != nil {
		return nil, err
	}
	defer o.endDeploy()

	topo, err := o.Load(spec)
	if err != nil {
		o.logger.Error("invalid topology, nothing deployed", "error", err)
		return nil, err
	}

	return o.deploy(ctx, topo)
}

// Redeploy повторяет деплой уже загруженной топологии.
// HEALTHY узлы не трогаются, FAILED и заблокированные провижинятся заново.
func (o *Orchestrator) Redeploy(ctx context.Context) (*FleetDeployResult, error) {
	topo, err := o.Topology()
	if err != nil {
		return nil, err
	}
	if err := o.beginDeploy(); err != nil {
		return nil, err
	}
	defer o.endDeploy()

	return o.deploy(ctx, topo)
}

func (o *Orchestrator) beginDeploy() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return ErrOrchestratorStopped
	}
	if o.deploying {
		return ErrDeployInProgress
	}
	o.deploying = true
	return nil
}

func (o *Orchestrator) endDeploy() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deploying = false
}

func (o *Orchestrator) deploy(ctx context.Context, topo *engine.Topology) (*FleetDeployResult, error) {
	state := NewDeployState(topo, nil)
	logger := telemetry.WithDeployID(o.logger, state.ID.String())

	order := make([]string, 0, topo.Size())
	for _, n := range topo.TopologicalOrder() {
		order = append(order, n.ID)
	}

	logger.Info("fleet deployment started",
		"topology", topo.Spec.Name,
		"nodes", topo.Size(),
		"order", order,
		"max_parallel", o.maxParallel,
	)
	o.emit(ctx, "", domain.EventDeployStarted, "deploy_id", state.ID.String(), "nodes", topo.Size())

	o.schedule(ctx, state)

	result := state.Report(time.Now())

	o.mu.Lock()
	o.last = result
	o.mu.Unlock()

	if o.history != nil {
		if err := o.history.SaveDeployment(context.WithoutCancel(ctx), result); err != nil {
			logger.Warn("failed to save deployment report", "error", err)
		}
	}

	logger.Info("fleet deployment finished",
		"duration", result.Duration(),
		"failed", result.Failed,
	)
	o.emit(ctx, "", domain.EventDeployFinished,
		"deploy_id", state.ID.String(),
		"failed", result.Failed,
		"duration_ms", result.Duration().Milliseconds(),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

type nodeOutcome struct {
	nodeID string
	result lifecycle.Result
}

// schedule провижинит узлы области деплоя, как только их зависимости
// становятся HEALTHY. Возвращается, когда все узлы области получили итог.
func (o *Orchestrator) schedule(ctx context.Context, state *DeployState) {
	outcomes := make(chan nodeOutcome)
	inflight := 0

	for {
		if ctx.Err() == nil {
			for _, v := range state.GetReadyNodes() {
				if inflight >= o.maxParallel {
					break
				}

				ctrl := o.controller(v.ID)
				state.MarkRunning(v.ID)
				inflight++

				go func() {
					outcomes <- nodeOutcome{nodeID: ctrl.NodeID(), result: o.provision(ctx, ctrl)}
				}()
			}
		}

		if inflight == 0 {
			break
		}

		out := <-outcomes
		inflight--
		o.record(ctx, state, out)
	}

	// узлы без итога: деплой прерван или зависимость вне области не HEALTHY
	for _, id := range state.Pending() {
		if err := ctx.Err(); err != nil {
			state.MarkFailed(id, NodeResult{
				State: o.controller(id).State(),
				Err:   fmt.Errorf("%w: %w", ErrDeployCancelled, err),
			})
			continue
		}
		dep := o.firstUnhealthyDependency(state.Topology, id)
		var cause error
		if c := o.controller(dep); c != nil {
			cause = c.LastError()
		}
		o.block(ctx, state, id, dep, cause)
	}
}

// provision выбирает операцию по состоянию узла: FAILED узел
// повторяется, для остальных Provision (HEALTHY — no-op).
func (o *Orchestrator) provision(ctx context.Context, ctrl *lifecycle.Controller) lifecycle.Result {
	if ctrl.State() == domain.StateFailed {
		return ctrl.Retry(ctx)
	}
	return ctrl.Provision(ctx)
}

// record обрабатывает итог узла.
func (o *Orchestrator) record(ctx context.Context, state *DeployState, out nodeOutcome) {
	res := NodeResult{
		State:      out.result.State,
		Err:        out.result.Err,
		InstanceID: out.result.InstanceID,
		Resolved:   out.result.Resolved,
	}

	if res.State == domain.StateHealthy && res.Err == nil {
		state.MarkCompleted(out.nodeID, res)
		o.mu.Lock()
		delete(o.blocked, out.nodeID)
		o.mu.Unlock()
		return
	}

	if res.Err == nil {
		res.Err = fmt.Errorf("node %s ended in state %s", out.nodeID, res.State)
	}
	state.MarkFailed(out.nodeID, res)

	o.logger.Warn("node failed, blocking dependents",
		"node_id", out.nodeID,
		"state", string(res.State),
		"error", res.Err,
	)

	for _, dep := range state.Topology.TransitiveDependents(out.nodeID) {
		if !state.InScope(dep) || state.IsFinished(dep) || state.IsRunning(dep) {
			continue
		}
		o.block(ctx, state, dep, out.nodeID, res.Err)
	}
}

// block помечает узел заблокированным упавшей зависимостью.
func (o *Orchestrator) block(ctx context.Context, state *DeployState, nodeID, dependency string, cause error) {
	blockErr := &BlockedByDependencyError{NodeID: nodeID, Dependency: dependency, Err: cause}

	state.MarkFailed(nodeID, NodeResult{
		State:   domain.StateFailed,
		Err:     blockErr,
		Blocked: true,
	})

	o.mu.Lock()
	o.blocked[nodeID] = blockErr
	o.mu.Unlock()

	o.emit(ctx, nodeID, domain.EventNodeBlocked, "dependency", dependency)
}

func (o *Orchestrator) firstUnhealthyDependency(topo *engine.Topology, nodeID string) string {
	for _, dep := range topo.Node(nodeID).DependsOn {
		if ctrl := o.controller(dep); ctrl != nil && ctrl.State() != domain.StateHealthy {
			return dep
		}
	}
	return ""
}

// Retry повторяет провижининг узла из FAILED или ABSENT.
//
// Если узел становится HEALTHY, заблокированные им зависимые
// провижинятся следом в топологическом порядке.
func (o *Orchestrator) Retry(ctx context.Context, nodeID string) (NodeResult, error) {
	topo, err := o.Topology()
	if err != nil {
		return NodeResult{}, err
	}
	ctrl := o.controller(nodeID)
	if ctrl == nil {
		return NodeResult{}, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	switch st := ctrl.State(); {
	case st == domain.StateHealthy:
		return NodeResult{State: domain.StateHealthy, InstanceID: ctrl.InstanceID(), Resolved: ctrl.Resolved()}, nil
	case st.IsInProgress():
		return NodeResult{State: st}, fmt.Errorf("%w: %s", lifecycle.ErrAlreadyProvisioning, nodeID)
	case st == domain.StateRemoving:
		return NodeResult{State: st}, fmt.Errorf("%w: %s is being removed", lifecycle.ErrInvalidTransition, nodeID)
	}

	scope := []string{nodeID}
	for _, dep := range topo.TransitiveDependents(nodeID) {
		if o.isBlocked(dep) {
			scope = append(scope, dep)
		}
	}

	state := NewDeployState(topo, scope)
	state.Prime(func(id string) bool {
		c := o.controller(id)
		return c != nil && c.State() == domain.StateHealthy
	})

	o.logger.Info("retrying node", "node_id", nodeID, "scope", scope)
	o.schedule(ctx, state)

	res, _ := state.Result(nodeID)
	return res, nil
}

// Stop останавливает узел и удаляет его контейнер.
func (o *Orchestrator) Stop(ctx context.Context, nodeID string) error {
	ctrl := o.controller(nodeID)
	if ctrl == nil {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	o.mu.Lock()
	delete(o.blocked, nodeID)
	o.mu.Unlock()

	return ctrl.Stop(ctx)
}

// AwaitHealthy реализует lifecycle.DependencyGate.
//
// FAILED, REMOVING и ABSENT зависимости проваливают ожидание сразу;
// зависимость в процессе провижининга ждётся до timeout.
func (o *Orchestrator) AwaitHealthy(ctx context.Context, nodeID string, timeout time.Duration) error {
	ctrl := o.controller(nodeID)
	if ctrl == nil {
		return &lifecycle.DependencyNotHealthyError{Dependency: nodeID, Err: ErrUnknownNode}
	}
	if blockErr := o.blockedErr(nodeID); blockErr != nil && ctrl.State() != domain.StateHealthy {
		return &lifecycle.DependencyNotHealthyError{Dependency: nodeID, State: domain.StateFailed, Err: blockErr}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	st, err := ctrl.WaitUntil(ctx, func(st domain.LifecycleState) bool {
		return st == domain.StateHealthy || !st.IsInProgress()
	})
	if err != nil {
		return &lifecycle.DependencyNotHealthyError{Dependency: nodeID, State: st, Err: err}
	}
	if st != domain.StateHealthy {
		return &lifecycle.DependencyNotHealthyError{Dependency: nodeID, State: st, Err: ctrl.LastError()}
	}
	return nil
}

// onEndpointChanged перенастраивает HEALTHY прямых зависимых узла,
// чей адрес изменился.
func (o *Orchestrator) onEndpointChanged(previous, current domain.Endpoint) {
	if previous.IsZero() {
		return
	}

	o.mu.RLock()
	topo := o.topology
	stopped := o.stopped
	o.mu.RUnlock()
	if topo == nil || stopped {
		return
	}

	o.logger.Info("endpoint changed",
		"node_id", current.NodeID,
		"previous", previous.Address,
		"current", current.Address,
	)

	for _, dep := range topo.Dependents(current.NodeID) {
		ctrl := o.controller(dep)
		if ctrl == nil || ctrl.State() != domain.StateHealthy {
			continue
		}

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			changed, err := ctrl.Reconfigure(o.baseCtx)
			if err != nil {
				o.logger.Warn("reconfigure failed", "node_id", ctrl.NodeID(), "error", err)
				return
			}
			if changed {
				o.logger.Info("dependent reconfigured", "node_id", ctrl.NodeID(), "dependency", current.NodeID)
			}
		}()
	}
}

// NodeStatus — текущее состояние узла флота.
type NodeStatus struct {
	NodeID     string                `json:"node_id"`
	Role       domain.Role           `json:"role"`
	State      domain.LifecycleState `json:"state"`
	DependsOn  []string              `json:"depends_on,omitempty"`
	InstanceID string                `json:"instance_id,omitempty"`
	Address    string                `json:"address,omitempty"`
	Blocked    bool                  `json:"blocked,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// NodeStates возвращает состояние всех узлов в топологическом порядке.
func (o *Orchestrator) NodeStates() ([]NodeStatus, error) {
	topo, err := o.Topology()
	if err != nil {
		return nil, err
	}

	out := make([]NodeStatus, 0, topo.Size())
	for _, n := range topo.TopologicalOrder() {
		st, err := o.NodeState(n.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// NodeState возвращает состояние одного узла.
func (o *Orchestrator) NodeState(nodeID string) (NodeStatus, error) {
	ctrl := o.controller(nodeID)
	if ctrl == nil {
		return NodeStatus{}, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	node := ctrl.Node()
	st := NodeStatus{
		NodeID:     nodeID,
		Role:       node.Role,
		State:      ctrl.State(),
		DependsOn:  node.DependsOn,
		InstanceID: ctrl.InstanceID(),
	}
	if addr, err := o.registry.Address(nodeID); err == nil {
		st.Address = addr
	}
	if err := ctrl.LastError(); err != nil {
		st.Error = err.Error()
	}
	if blockErr := o.blockedErr(nodeID); blockErr != nil && (st.State == domain.StateAbsent || st.State == domain.StateFailed) {
		st.State = domain.StateFailed
		st.Blocked = true
		st.Error = blockErr.Error()
	}
	return st, nil
}

// LastDeployment возвращает отчёт последнего деплоя.
func (o *Orchestrator) LastDeployment() (*FleetDeployResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last, o.last != nil
}

// Reconciliation возвращает запись guard узла.
func (o *Orchestrator) Reconciliation(nodeID string) (domain.ReconciliationRecord, error) {
	if o.controller(nodeID) == nil {
		return domain.ReconciliationRecord{}, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	if o.guards == nil {
		return domain.ReconciliationRecord{}, fmt.Errorf("%w: guard is disabled for node %s", ErrNoReconciliation, nodeID)
	}
	rec, ok := o.guards.Store().Get(nodeID)
	if !ok {
		return domain.ReconciliationRecord{}, fmt.Errorf("%w: node %s", ErrNoReconciliation, nodeID)
	}
	return rec, nil
}

// Shutdown останавливает guard-циклы и фоновые перенастройки.
// Контейнеры узлов продолжают работать.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.logger.Info("stopping orchestrator...")

	o.unwatch()
	o.cancelFunc()
	o.wg.Wait()

	if o.guards != nil {
		o.guards.Shutdown()
	}

	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) controller(nodeID string) *lifecycle.Controller {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.controllers[nodeID]
}

func (o *Orchestrator) isBlocked(nodeID string) bool {
	return o.blockedErr(nodeID) != nil
}

func (o *Orchestrator) blockedErr(nodeID string) *BlockedByDependencyError {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.blocked[nodeID]
}

func (o *Orchestrator) emit(ctx context.Context, nodeID string, kind domain.EventKind, kv ...any) {
	ev := domain.NewEvent(nodeID, domain.ComponentOrchestrator, kind)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ev = ev.WithDetail(key, kv[i+1])
	}
	o.sink.Emit(context.WithoutCancel(ctx), ev)
}
