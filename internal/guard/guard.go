// Package guard — Reconciliation Guard: непрерывный цикл, который
// держит resolver-конфигурацию узла в желаемом состоянии.
//
// Каждый тик:
//  1. Observe — читает resolv.conf и опрашивает внешние резолверы
//     (нужен кворум успешных проб, одиночный сбой не меняет состояние).
//  2. Compare — сравнивает наблюдаемое с желаемым.
//  3. Correct — атомарно перезаписывает файл, выставляет флаг
//     неизменяемости, перезапускает локальный resolver.
//  4. Record — обновляет ReconciliationRecord.
//
// Состояния: CONVERGED ⇄ DRIFTED.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/policy"
	"github.com/shaiso/Armada/internal/telemetry"
)

// Значения по умолчанию (каденс исходного resolver-watcher).
const (
	DefaultInterval          = 30 * time.Second
	DefaultProbeTimeout      = 5 * time.Second
	DefaultFailureThreshold  = 3
	defaultCorrectionTimeout = time.Minute
)

// Config — конфигурация guard одного узла.
type Config struct {
	// NodeID — узел, за которым следит guard.
	NodeID string

	// Spec — желаемая resolver-конфигурация.
	Spec domain.ResolverSpec

	// Target — доступ к конфигурации узла.
	Target Target

	// Store — хранилище записей (nil — собственное).
	Store *RecordStore

	// Sink — получатель событий.
	Sink events.Sink

	// Policy — политика повторов коррекции.
	Policy policy.RetryPolicy

	// Interval — период тиков.
	Interval time.Duration

	// ProbeTimeout — таймаут одной пробы.
	ProbeTimeout time.Duration

	// FailureThreshold — после скольких неудачных тиков подряд поднимается алерт.
	FailureThreshold int

	// CorrectionTimeout — сколько может длиться одна запись коррекции.
	CorrectionTimeout time.Duration

	// Logger — логгер.
	Logger *slog.Logger
}

// Observation — то, что guard увидел на узле.
type Observation struct {
	Config    string
	ConfigErr error

	Immutable      bool
	ImmutableKnown bool

	ProbesOK    int
	ProbesTotal int

	ResolveChecked bool
	ResolveErr     error
}

// Guard — цикл реконсиляции одного узла.
type Guard struct {
	nodeID            string
	spec              domain.ResolverSpec
	desired           string
	target            Target
	store             *RecordStore
	sink              events.Sink
	policy            policy.RetryPolicy
	interval          time.Duration
	probeTimeout      time.Duration
	failureThreshold  int
	correctionTimeout time.Duration
	logger            *slog.Logger

	// tickMu сериализует тики.
	tickMu sync.Mutex
}

// New создаёт guard.
func New(cfg Config) *Guard {
	if cfg.Store == nil {
		cfg.Store = NewRecordStore()
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = policy.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CorrectionTimeout <= 0 {
		cfg.CorrectionTimeout = defaultCorrectionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	spec := cfg.Spec.WithDefaults()

	return &Guard{
		nodeID:            cfg.NodeID,
		spec:              spec,
		desired:           spec.Render(),
		target:            cfg.Target,
		store:             cfg.Store,
		sink:              cfg.Sink,
		policy:            cfg.Policy,
		interval:          cfg.Interval,
		probeTimeout:      cfg.ProbeTimeout,
		failureThreshold:  cfg.FailureThreshold,
		correctionTimeout: cfg.CorrectionTimeout,
		logger:            telemetry.WithNodeID(telemetry.WithComponent(cfg.Logger, "guard"), cfg.NodeID),
	}
}

// NodeID возвращает узел guard.
func (g *Guard) NodeID() string {
	return g.nodeID
}

// Desired возвращает желаемое содержимое resolv.conf.
func (g *Guard) Desired() string {
	return g.desired
}

// Record возвращает текущую запись реконсиляции.
func (g *Guard) Record() domain.ReconciliationRecord {
	rec, ok := g.store.Get(g.nodeID)
	if !ok {
		return domain.ReconciliationRecord{NodeID: g.nodeID, State: domain.GuardConverged}
	}
	return rec
}

// Run выполняет тики до отмены ctx. Первый тик — сразу.
func (g *Guard) Run(ctx context.Context) error {
	g.logger.Info("guard started",
		"interval", g.interval,
		"quorum", g.spec.Quorum,
		"probe_targets", g.spec.ProbeTargets,
	)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		if _, err := g.Tick(ctx); err != nil && ctx.Err() == nil {
			g.logger.Warn("guard tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			g.logger.Info("guard stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick выполняет один цикл observe → compare → correct → record.
//
// Возвращает *DriftCorrectionError, если дрейф не удалось исправить.
// Ошибка не фатальна: следующий тик попробует снова.
func (g *Guard) Tick(ctx context.Context) (domain.ReconciliationRecord, error) {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()

	if err := ctx.Err(); err != nil {
		return g.Record(), err
	}

	rec := g.Record()
	prevState := rec.State
	prevAlerting := rec.Alerting

	rec.Ticks++
	rec.LastCheckedAt = time.Now()
	rec.CorrectiveActionApplied = false

	obs := g.Observe(ctx)
	if err := ctx.Err(); err != nil {
		return g.Record(), err
	}
	reasons := g.Compare(obs)

	var tickErr error

	if len(reasons) == 0 {
		rec.State = domain.GuardConverged
		rec.DriftDetected = false
		rec.ConsecutiveFailures = 0
		rec.Alerting = false
		rec.LastError = ""
	} else {
		rec.DriftDetected = true
		g.emit(ctx, domain.EventDriftDetected, 0, "reasons", reasons, "from_guard_state", string(prevState))
		g.logger.Info("drift detected", "reasons", reasons)

		attempts, err := g.correctAndVerify(ctx)
		if err == nil {
			rec.State = domain.GuardConverged
			rec.CorrectiveActionApplied = true
			rec.ConsecutiveFailures = 0
			rec.Alerting = false
			rec.LastError = ""
			g.emit(ctx, domain.EventDriftCorrected, attempts, "reasons", reasons)
			g.logger.Info("drift corrected", "attempts", attempts)
		} else {
			if ctx.Err() != nil {
				return g.Record(), ctx.Err()
			}
			tickErr = &DriftCorrectionError{NodeID: g.nodeID, Reasons: reasons, Attempts: attempts, Err: err}

			// считаются только повторы DRIFTED → DRIFTED
			if prevState == domain.GuardDrifted {
				rec.ConsecutiveFailures++
			} else {
				rec.ConsecutiveFailures = 0
			}
			rec.State = domain.GuardDrifted
			rec.Alerting = rec.ConsecutiveFailures >= g.failureThreshold
			rec.LastError = tickErr.Error()
			g.emit(ctx, domain.EventCorrectionFailed, attempts,
				"error", err.Error(),
				"consecutive_failures", rec.ConsecutiveFailures,
			)
		}
	}

	rec.NodeID = g.nodeID
	g.store.Put(rec)

	if rec.Alerting && !prevAlerting {
		g.emit(ctx, domain.EventGuardAlert, 0,
			"consecutive_failures", rec.ConsecutiveFailures,
			"threshold", g.failureThreshold,
		)
		g.logger.Error("guard alert raised",
			"consecutive_failures", rec.ConsecutiveFailures,
			"error", rec.LastError,
		)
	} else if !rec.Alerting && prevAlerting {
		g.logger.Info("guard alert cleared")
	}

	g.emit(ctx, domain.EventGuardTick, 0,
		"state", string(rec.State),
		"probes_ok", obs.ProbesOK,
		"probes_total", obs.ProbesTotal,
		"corrected", rec.CorrectiveActionApplied,
	)

	return rec, tickErr
}

// Observe читает конфигурацию и выполняет пробы связности.
func (g *Guard) Observe(ctx context.Context) Observation {
	var obs Observation

	obs.Config, obs.ConfigErr = g.target.ReadConfig(ctx)

	if immutable, err := g.target.Immutable(ctx); err == nil {
		obs.Immutable = immutable
		obs.ImmutableKnown = true
	} else {
		g.logger.Debug("immutable flag unavailable", "error", err)
	}

	obs.ProbesOK, obs.ProbesTotal = g.probe(ctx)

	if obs.ProbesOK >= g.spec.Quorum && g.spec.ProbeName != "" {
		obs.ResolveChecked = true
		rctx, cancel := context.WithTimeout(ctx, g.probeTimeout)
		obs.ResolveErr = g.target.Resolve(rctx, g.spec.ProbeName)
		cancel()
	}

	return obs
}

// probe опрашивает все цели параллельно, каждая со своим таймаутом.
func (g *Guard) probe(ctx context.Context) (ok, total int) {
	var passed atomic.Int32
	var eg errgroup.Group

	for _, addr := range g.spec.ProbeTargets {
		eg.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, g.probeTimeout)
			defer cancel()

			if err := g.target.Probe(pctx, addr, g.spec.ProbeName); err != nil {
				g.logger.Debug("probe failed", "target", addr, "error", err)
				return nil
			}
			passed.Add(1)
			return nil
		})
	}
	_ = eg.Wait()

	return int(passed.Load()), len(g.spec.ProbeTargets)
}

// Compare возвращает причины дрейфа (пусто — CONVERGED).
func (g *Guard) Compare(obs Observation) []DriftReason {
	var reasons []DriftReason

	switch {
	case obs.ConfigErr != nil:
		reasons = append(reasons, ReasonConfigUnreadable)
	case domain.NormalizeResolvConf(obs.Config) != domain.NormalizeResolvConf(g.desired):
		reasons = append(reasons, ReasonConfigMismatch)
	}

	if obs.ImmutableKnown && obs.Immutable != g.spec.Immutable {
		reasons = append(reasons, ReasonImmutableFlag)
	}

	if obs.ProbesOK < g.spec.Quorum {
		reasons = append(reasons, ReasonProbeQuorum)
	} else if obs.ResolveChecked && obs.ResolveErr != nil {
		reasons = append(reasons, ReasonResolution)
	}

	return reasons
}

// correctAndVerify применяет желаемую конфигурацию и проверяет результат.
func (g *Guard) correctAndVerify(ctx context.Context) (int, error) {
	return policy.Do(ctx, g.policy, func(ctx context.Context, attempt int) error {
		if err := g.correct(ctx); err != nil {
			return err
		}

		remaining := g.Compare(g.Observe(ctx))
		switch {
		case len(remaining) == 0:
			return nil
		case len(remaining) == 1 && remaining[0] == ReasonProbeQuorum:
			return ErrQuorumNotReached
		default:
			return fmt.Errorf("drift persists after correction: %v", remaining)
		}
	}, func(attempt int, err error) {
		g.logger.Warn("drift correction failed, retrying", "attempt", attempt, "error", err)
	})
}

// correct атомарно перезаписывает resolv.conf.
// Запись не прерывается отменой ctx: файл всегда остаётся целым.
func (g *Guard) correct(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.correctionTimeout)
	defer cancel()

	// неизменяемый файл нельзя заменить
	if immutable, err := g.target.Immutable(wctx); err == nil && immutable {
		if err := g.target.SetImmutable(wctx, false); err != nil {
			return fmt.Errorf("clear immutable flag: %w", err)
		}
	}

	if err := g.target.WriteConfig(wctx, g.desired); err != nil {
		return fmt.Errorf("write resolver config: %w", err)
	}

	if g.spec.Immutable {
		if err := g.target.SetImmutable(wctx, true); err != nil {
			if !errors.Is(err, ErrImmutableUnsupported) {
				return fmt.Errorf("set immutable flag: %w", err)
			}
			g.logger.Debug("immutable flag not supported, skipping")
		}
	}

	if len(g.spec.RestartCommand) > 0 {
		if err := g.target.Exec(wctx, g.spec.RestartCommand); err != nil {
			return fmt.Errorf("restart resolver: %w", err)
		}
	}

	return nil
}

func (g *Guard) emit(ctx context.Context, kind domain.EventKind, attempt int, kv ...any) {
	ev := domain.NewEvent(g.nodeID, domain.ComponentGuard, kind)
	ev.Attempt = attempt
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ev = ev.WithDetail(key, kv[i+1])
	}
	g.sink.Emit(context.WithoutCancel(ctx), ev)
}
