// Package lifecycle ведёт один узел флота по его машине состояний.
//
//	ABSENT → LAUNCHING → WAITING_READY → BASE_PROVISIONING →
//	SERVICE_INSTALLING → CONFIGURING → HEALTHY
//
// Любой шаг может закончиться FAILED. Каждый шаг выполняется
// с политикой повторов; каждый переход порождает событие.
// Состояние узла принадлежит только его Controller: остальные
// компоненты читают его через State/WaitUntil.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/engine"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/policy"
	"github.com/shaiso/Armada/internal/registry"
	"github.com/shaiso/Armada/internal/roles"
	"github.com/shaiso/Armada/internal/runtime"
	"github.com/shaiso/Armada/internal/telemetry"
)

// Значения по умолчанию.
const (
	defaultReadyTimeout      = 2 * time.Minute
	defaultReadyPoll         = 2 * time.Second
	defaultAddressTimeout    = time.Minute
	defaultDependencyTimeout = 10 * time.Minute
	defaultRemoveTimeout     = time.Minute
)

// DefaultReadinessCommand — маркер готовности контейнера: systemd закончил загрузку.
var DefaultReadinessCommand = []string{"sh", "-c", "systemctl is-system-running 2>/dev/null | grep -Eq '^(running|degraded)$'"}

// DependencyGate блокируется, пока узел не станет HEALTHY.
// Реализуется оркестратором; возвращает *DependencyNotHealthyError,
// если зависимость провалилась или удаляется.
type DependencyGate interface {
	AwaitHealthy(ctx context.Context, nodeID string, timeout time.Duration) error
}

// HealthyHook вызывается после перехода узла в HEALTHY.
type HealthyHook func(ctx context.Context, nodeID string, sh runtime.Shell)

// RemovingHook вызывается при переходе узла в REMOVING, до остановки контейнера.
type RemovingHook func(nodeID string)

// Config — конфигурация контроллера.
type Config struct {
	// Node — узел флота.
	Node *domain.Node

	// InstanceName — имя контейнера (по умолчанию Node.ID).
	InstanceName string

	// Image — образ контейнера.
	Image string

	// Runtime — адаптер runtime контейнеров.
	Runtime runtime.Adapter

	// Registry — реестр адресов.
	Registry *registry.Registry

	// Plugin — плагин роли узла.
	Plugin roles.Plugin

	// Sink — получатель событий.
	Sink events.Sink

	// Policy — политика повторов каждого шага.
	Policy policy.RetryPolicy

	// ReadyTimeout — сколько ждать маркер готовности за одну попытку.
	ReadyTimeout time.Duration

	// ReadyPoll — интервал опроса готовности и адреса.
	ReadyPoll time.Duration

	// AddressTimeout — сколько ждать адрес за одну попытку.
	AddressTimeout time.Duration

	// DependencyTimeout — сколько ждать, пока зависимости станут HEALTHY.
	DependencyTimeout time.Duration

	// ReadinessCommand — команда-маркер готовности (по умолчанию DefaultReadinessCommand).
	ReadinessCommand []string

	// Gate — проверка состояния зависимостей (может быть nil).
	Gate DependencyGate

	// OnHealthy — хук передачи узла guard-циклу.
	OnHealthy HealthyHook

	// OnRemoving — хук остановки guard-цикла.
	OnRemoving RemovingHook

	// Logger — логгер.
	Logger *slog.Logger
}

// Result — итог провижининга узла.
type Result struct {
	NodeID     string                `json:"node_id"`
	State      domain.LifecycleState `json:"state"`
	Err        error                 `json:"-"`
	InstanceID string                `json:"instance_id,omitempty"`
	Resolved   map[string]string     `json:"resolved,omitempty"`
}

// Controller ведёт один узел от ABSENT до HEALTHY или FAILED.
type Controller struct {
	node     *domain.Node
	instance string
	image    string
	rt       runtime.Adapter
	registry *registry.Registry
	plugin   roles.Plugin
	sink     events.Sink
	policy   policy.RetryPolicy
	gate     DependencyGate

	readyTimeout      time.Duration
	readyPoll         time.Duration
	addressTimeout    time.Duration
	dependencyTimeout time.Duration
	readinessCmd      []string

	onHealthy  HealthyHook
	onRemoving RemovingHook
	logger     *slog.Logger

	// opMu сериализует Provision/Stop/Reconfigure.
	opMu sync.Mutex

	mu         sync.RWMutex
	state      domain.LifecycleState
	instanceID string
	resolved   map[string]string
	lastErr    error
	changed    chan struct{}
	cancelOp   context.CancelFunc
}

// New создаёт контроллер узла в состоянии ABSENT.
func New(cfg Config) *Controller {
	if cfg.InstanceName == "" {
		cfg.InstanceName = cfg.Node.ID
	}
	if cfg.Image == "" {
		cfg.Image = domain.DefaultImage
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = policy.Default()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = defaultReadyPoll
	}
	if cfg.AddressTimeout <= 0 {
		cfg.AddressTimeout = defaultAddressTimeout
	}
	if cfg.DependencyTimeout <= 0 {
		cfg.DependencyTimeout = defaultDependencyTimeout
	}
	if len(cfg.ReadinessCommand) == 0 {
		cfg.ReadinessCommand = DefaultReadinessCommand
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Controller{
		node:              cfg.Node,
		instance:          cfg.InstanceName,
		image:             cfg.Image,
		rt:                cfg.Runtime,
		registry:          cfg.Registry,
		plugin:            cfg.Plugin,
		sink:              cfg.Sink,
		policy:            cfg.Policy,
		gate:              cfg.Gate,
		readyTimeout:      cfg.ReadyTimeout,
		readyPoll:         cfg.ReadyPoll,
		addressTimeout:    cfg.AddressTimeout,
		dependencyTimeout: cfg.DependencyTimeout,
		readinessCmd:      cfg.ReadinessCommand,
		onHealthy:         cfg.OnHealthy,
		onRemoving:        cfg.OnRemoving,
		logger:            telemetry.WithNodeID(telemetry.WithComponent(cfg.Logger, "lifecycle"), cfg.Node.ID),
		state:             domain.StateAbsent,
		changed:           make(chan struct{}),
	}
}

// NodeID возвращает ID узла.
func (c *Controller) NodeID() string {
	return c.node.ID
}

// Node возвращает определение узла.
func (c *Controller) Node() *domain.Node {
	return c.node
}

// State возвращает текущее состояние узла.
func (c *Controller) State() domain.LifecycleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError возвращает ошибку, с которой узел перешёл в FAILED.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// InstanceID возвращает имя контейнера, если он создан.
func (c *Controller) InstanceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instanceID
}

// Shell возвращает Shell контейнера узла.
func (c *Controller) Shell() runtime.Shell {
	id := c.InstanceID()
	if id == "" {
		id = c.instance
	}
	return runtime.Bind(c.rt, id)
}

// Resolved возвращает копию применённой конфигурации.
func (c *Controller) Resolved() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.resolved)
}

// Result возвращает текущий итог провижининга.
func (c *Controller) Result() Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resultLocked()
}

func (c *Controller) resultLocked() Result {
	return Result{
		NodeID:     c.node.ID,
		State:      c.state,
		Err:        c.lastErr,
		InstanceID: c.instanceID,
		Resolved:   maps.Clone(c.resolved),
	}
}

// WaitUntil блокируется, пока состояние узла не удовлетворит pred.
func (c *Controller) WaitUntil(ctx context.Context, pred func(domain.LifecycleState) bool) (domain.LifecycleState, error) {
	for {
		c.mu.RLock()
		st, ch := c.state, c.changed
		c.mu.RUnlock()

		if pred(st) {
			return st, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Provision доводит узел до HEALTHY.
//
// Для узла в HEALTHY — no-op, шаги установки не повторяются.
// Для узла в FAILED возвращает сохранённую ошибку: повторный
// провижининг выполняется только явной командой Retry.
func (c *Controller) Provision(ctx context.Context) Result {
	return c.provision(ctx, false)
}

// Retry повторяет провижининг узла из FAILED (или ABSENT после Stop).
func (c *Controller) Retry(ctx context.Context) Result {
	return c.provision(ctx, true)
}

func (c *Controller) provision(ctx context.Context, retry bool) Result {
	c.mu.Lock()
	if c.cancelOp != nil {
		res := c.resultLocked()
		c.mu.Unlock()
		res.Err = ErrAlreadyProvisioning
		return res
	}
	opCtx, cancel := context.WithCancel(ctx)
	c.cancelOp = cancel
	c.mu.Unlock()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelOp = nil
		c.mu.Unlock()
		cancel()
	}()

	switch st := c.State(); {
	case st == domain.StateHealthy:
		c.logger.Debug("node already healthy, provision is a no-op")
		return c.Result()
	case st == domain.StateFailed && !retry:
		return c.Result()
	case st != domain.StateAbsent && st != domain.StateFailed:
		res := c.Result()
		res.Err = fmt.Errorf("%w: cannot provision from %s", ErrInvalidTransition, st)
		return res
	}

	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()

	start := time.Now()
	if err := c.run(opCtx); err != nil {
		c.fail(ctx, err)
		c.logger.Warn("node provisioning failed",
			"duration", time.Since(start),
			"error", err,
		)
		return c.Result()
	}

	c.logger.Info("node healthy", "duration", time.Since(start))
	return c.Result()
}

// run выполняет все шаги провижининга.
func (c *Controller) run(ctx context.Context) error {
	// 1. LAUNCHING
	if err := c.transition(ctx, domain.StateLaunching, 0); err != nil {
		return err
	}

	var instanceID string
	attempts, err := policy.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		id, err := c.rt.CreateAndStart(ctx, runtime.NodeSpec{
			NodeID:       c.node.ID,
			InstanceName: c.instance,
			Image:        c.image,
		})
		if err != nil {
			return err
		}
		instanceID = id
		return nil
	}, c.onRetry(StepLaunch))
	if err != nil {
		return &ProvisionStepError{NodeID: c.node.ID, Step: StepLaunch, Attempts: attempts, Err: err}
	}

	c.mu.Lock()
	c.instanceID = instanceID
	c.mu.Unlock()
	sh := runtime.Bind(c.rt, instanceID)

	// 2. WAITING_READY: маркер готовности, затем адрес
	if err := c.transition(ctx, domain.StateWaitingReady, attempts); err != nil {
		return err
	}

	attempts, err = policy.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		return policy.PollUntil(ctx, c.readyPoll, c.readyTimeout, func(ctx context.Context) (bool, error) {
			_, err := sh.Run(ctx, c.readinessCmd...)
			return err == nil, nil
		})
	}, c.onRetry(StepLaunch))
	if err != nil {
		return &LaunchTimeoutError{NodeID: c.node.ID, Timeout: c.readyTimeout, Attempts: attempts, Err: err}
	}

	var address string
	attempts, err = policy.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		return policy.PollUntil(ctx, c.readyPoll, c.addressTimeout, func(ctx context.Context) (bool, error) {
			addr, err := c.rt.QueryAddress(ctx, instanceID)
			if err != nil {
				c.logger.Debug("query address failed", "error", err)
				return false, nil
			}
			address = addr
			return addr != "", nil
		})
	}, c.onRetry(StepLaunch))
	if err != nil {
		return &EndpointDiscoveryError{NodeID: c.node.ID, Attempts: attempts, Err: err}
	}

	ep, changed, err := c.registry.Put(c.node.ID, address)
	if err != nil {
		return &EndpointDiscoveryError{NodeID: c.node.ID, Attempts: attempts, Err: err}
	}
	c.logger.Info("endpoint discovered", "address", ep.Address, "changed", changed)

	// 3. BASE_PROVISIONING
	if err := c.transition(ctx, domain.StateBaseProvisioning, attempts); err != nil {
		return err
	}
	attempts, err = c.step(ctx, StepBase, func(ctx context.Context) error {
		return c.plugin.InstallBase(ctx, sh)
	})
	if err != nil {
		return err
	}

	// 4. SERVICE_INSTALLING
	if err := c.transition(ctx, domain.StateServiceInstalling, attempts); err != nil {
		return err
	}
	static := c.staticConfig()
	attempts, err = c.step(ctx, StepService, func(ctx context.Context) error {
		return c.plugin.InstallService(ctx, sh, static)
	})
	if err != nil {
		return err
	}

	// 5. CONFIGURING — только когда все зависимости HEALTHY
	if err := c.awaitDependencies(ctx); err != nil {
		return err
	}
	if err := c.transition(ctx, domain.StateConfiguring, attempts); err != nil {
		return err
	}

	var resolved map[string]string
	attempts, err = c.step(ctx, StepConfigure, func(ctx context.Context) error {
		cfg, err := engine.RenderConfig(c.node.DesiredConfig, c.registry.Address)
		if err != nil {
			return err
		}
		if err := c.plugin.Configure(ctx, sh, cfg); err != nil {
			return err
		}
		resolved = cfg
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.resolved = resolved
	c.mu.Unlock()

	// 6. Запуск сервиса и HEALTHY
	attempts, err = c.step(ctx, StepStart, func(ctx context.Context) error {
		return c.plugin.Start(ctx, sh)
	})
	if err != nil {
		return err
	}

	if err := c.transition(ctx, domain.StateHealthy, attempts); err != nil {
		return err
	}

	if c.onHealthy != nil {
		c.onHealthy(context.WithoutCancel(ctx), c.node.ID, sh)
	}

	return nil
}

// step выполняет шаг с политикой повторов и оборачивает ошибку в *ProvisionStepError.
func (c *Controller) step(ctx context.Context, step Step, fn func(ctx context.Context) error) (int, error) {
	attempts, err := policy.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		return fn(ctx)
	}, c.onRetry(step))
	if err != nil {
		return attempts, &ProvisionStepError{NodeID: c.node.ID, Step: step, Attempts: attempts, Err: err}
	}
	return attempts, nil
}

// onRetry логирует неудачную попытку шага.
func (c *Controller) onRetry(step Step) policy.RetryHook {
	return func(attempt int, err error) {
		c.logger.Warn("provision step failed, retrying",
			"step", string(step),
			"attempt", attempt,
			"error", err,
		)
	}
}

// awaitDependencies ждёт, пока все зависимости станут HEALTHY и их адреса будут известны.
func (c *Controller) awaitDependencies(ctx context.Context) error {
	for _, dep := range c.node.DependsOn {
		if c.gate != nil {
			if err := c.gate.AwaitHealthy(ctx, dep, c.dependencyTimeout); err != nil {
				var dnh *DependencyNotHealthyError
				if errors.As(err, &dnh) {
					return &DependencyNotHealthyError{NodeID: c.node.ID, Dependency: dep, State: dnh.State, Err: dnh.Err}
				}
				return &DependencyNotHealthyError{NodeID: c.node.ID, Dependency: dep, Err: err}
			}
		}

		if _, err := c.registry.WaitFor(ctx, dep, c.dependencyTimeout); err != nil {
			return &DependencyNotHealthyError{NodeID: c.node.ID, Dependency: dep, Err: err}
		}
	}
	return nil
}

// staticConfig возвращает значения desired_config, не зависящие от адресов.
// Они доступны плагину уже на этапе установки сервиса.
func (c *Controller) staticConfig() map[string]string {
	out := make(map[string]string, len(c.node.DesiredConfig))
	for k, tmpl := range c.node.DesiredConfig {
		if len(engine.Placeholders(tmpl)) > 0 {
			continue
		}
		v, err := engine.Render(tmpl, nil)
		if err != nil {
			continue
		}
		out[k] = v
	}
	return out
}

// Reconfigure заново рендерит desired_config по текущим адресам
// и применяет его, если результат изменился.
//
// Вызывается оркестратором, когда адрес зависимости поменялся.
// Узел остаётся в HEALTHY.
func (c *Controller) Reconfigure(ctx context.Context) (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() != domain.StateHealthy {
		return false, ErrNotHealthy
	}

	cfg, err := engine.RenderConfig(c.node.DesiredConfig, c.registry.Address)
	if err != nil {
		return false, fmt.Errorf("render config: %w", err)
	}

	previous := c.Resolved()
	if maps.Equal(previous, cfg) {
		return false, nil
	}

	sh := c.Shell()
	attempts, err := c.step(ctx, StepConfigure, func(ctx context.Context) error {
		if err := c.plugin.Configure(ctx, sh, cfg); err != nil {
			return err
		}
		return c.plugin.Start(ctx, sh)
	})
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.resolved = cfg
	c.mu.Unlock()

	changedKeys := make([]string, 0)
	for k, v := range cfg {
		if previous[k] != v {
			changedKeys = append(changedKeys, k)
		}
	}

	ev := domain.NewEvent(c.node.ID, domain.ComponentLifecycle, domain.EventReconfigured)
	ev.Attempt = attempts
	c.sink.Emit(ctx, ev.WithDetail("changed_keys", changedKeys))
	c.logger.Info("node reconfigured", "changed_keys", changedKeys)

	return true, nil
}

// Stop переводит узел в REMOVING, останавливает guard и удаляет контейнер.
// Идущий провижининг отменяется.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.RLock()
	cancel := c.cancelOp
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == domain.StateAbsent {
		return nil
	}

	if err := c.transition(ctx, domain.StateRemoving, 0); err != nil {
		return err
	}

	if c.onRemoving != nil {
		c.onRemoving(c.node.ID)
	}

	id := c.InstanceID()
	if id == "" {
		id = c.instance
	}

	// Удаление не прерывается отменой ctx вызывающего, чтобы не оставить полуудалённый контейнер
	rmCtx, rmCancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRemoveTimeout)
	defer rmCancel()

	attempts, err := policy.Do(rmCtx, c.policy, func(ctx context.Context, attempt int) error {
		if err := c.rt.Stop(ctx, id); err != nil {
			return err
		}
		return c.rt.Destroy(ctx, id)
	}, c.onRetry(StepRemove))

	c.registry.Delete(c.node.ID)

	if err != nil {
		stepErr := &ProvisionStepError{NodeID: c.node.ID, Step: StepRemove, Attempts: attempts, Err: err}
		c.fail(ctx, stepErr)
		return stepErr
	}

	c.mu.Lock()
	c.instanceID = ""
	c.resolved = nil
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("node removed")
	return c.transition(ctx, domain.StateAbsent, attempts)
}

// fail переводит узел в FAILED и запоминает ошибку.
func (c *Controller) fail(ctx context.Context, err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	if c.State() == domain.StateFailed {
		return
	}
	if terr := c.transitionWithDetail(ctx, domain.StateFailed, 0, err); terr != nil {
		c.logger.Error("failed to mark node as failed", "error", terr)
	}
}

// transition выполняет переход состояния и публикует событие.
func (c *Controller) transition(ctx context.Context, to domain.LifecycleState, attempt int) error {
	return c.transitionWithDetail(ctx, to, attempt, nil)
}

func (c *Controller) transitionWithDetail(ctx context.Context, to domain.LifecycleState, attempt int, cause error) error {
	c.mu.Lock()
	from := c.state
	if !from.CanTransitionTo(to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.state = to
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	ev := domain.NewEvent(c.node.ID, domain.ComponentLifecycle, domain.EventTransition)
	ev.FromState = from
	ev.ToState = to
	ev.Attempt = attempt
	if cause != nil {
		ev = ev.WithDetail("error", cause.Error())
	}

	// событие публикуется даже при отменённом ctx
	c.sink.Emit(context.WithoutCancel(ctx), ev)

	c.logger.Debug("state transition",
		"from_state", string(from),
		"to_state", string(to),
		"attempt", attempt,
	)

	return nil
}
