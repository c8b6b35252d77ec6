package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/policy"
)

// SupervisorConfig — общие параметры guard-циклов флота.
type SupervisorConfig struct {
	Store            *RecordStore
	Sink             events.Sink
	Policy           policy.RetryPolicy
	Interval         time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int
	Logger           *slog.Logger
}

type runningGuard struct {
	guard  *Guard
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor запускает по одному guard-циклу на каждый HEALTHY узел
// и останавливает его, когда узел уходит в REMOVING.
type Supervisor struct {
	cfg    SupervisorConfig
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	guards map[string]*runningGuard
	wg     sync.WaitGroup
}

// NewSupervisor создаёт супервизор.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Store == nil {
		cfg.Store = NewRecordStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:    cfg,
		base:   base,
		cancel: cancel,
		guards: make(map[string]*runningGuard),
	}
}

// Store возвращает хранилище записей реконсиляции.
func (s *Supervisor) Store() *RecordStore {
	return s.cfg.Store
}

// Start запускает guard узла в отдельной горутине.
func (s *Supervisor) Start(nodeID string, spec domain.ResolverSpec, target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.base.Err() != nil {
		return fmt.Errorf("start guard for %s: %w", nodeID, s.base.Err())
	}
	if _, ok := s.guards[nodeID]; ok {
		return fmt.Errorf("%w: %s", ErrGuardRunning, nodeID)
	}

	g := New(Config{
		NodeID:           nodeID,
		Spec:             spec,
		Target:           target,
		Store:            s.cfg.Store,
		Sink:             s.cfg.Sink,
		Policy:           s.cfg.Policy,
		Interval:         s.cfg.Interval,
		ProbeTimeout:     s.cfg.ProbeTimeout,
		FailureThreshold: s.cfg.FailureThreshold,
		Logger:           s.cfg.Logger,
	})

	ctx, cancel := context.WithCancel(s.base)
	rg := &runningGuard{guard: g, cancel: cancel, done: make(chan struct{})}
	s.guards[nodeID] = rg

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(rg.done)
		_ = g.Run(ctx)
	}()

	return nil
}

// Stop останавливает guard узла и ждёт завершения текущего тика.
// Запись реконсиляции остаётся в Store: узел по-прежнему входит во флот,
// а повторный Start продолжает ту же запись.
func (s *Supervisor) Stop(nodeID string) {
	s.mu.Lock()
	rg, ok := s.guards[nodeID]
	delete(s.guards, nodeID)
	s.mu.Unlock()

	if !ok {
		return
	}

	rg.cancel()
	<-rg.done
}

// Guard возвращает guard узла, если он запущен.
func (s *Supervisor) Guard(nodeID string) (*Guard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rg, ok := s.guards[nodeID]
	if !ok {
		return nil, false
	}
	return rg.guard, true
}

// Running возвращает отсортированный список узлов с запущенным guard.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.guards))
	for id := range s.guards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Shutdown останавливает все guard-циклы и ждёт их завершения.
func (s *Supervisor) Shutdown() {
	s.cancel()

	s.mu.Lock()
	s.guards = make(map[string]*runningGuard)
	s.mu.Unlock()

	s.wg.Wait()
}
