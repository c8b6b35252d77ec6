package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/engine"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/guard"
	"github.com/shaiso/Armada/internal/lifecycle"
	"github.com/shaiso/Armada/internal/mq"
	"github.com/shaiso/Armada/internal/policy"
	"github.com/shaiso/Armada/internal/runtime"
	"github.com/shaiso/Armada/internal/runtime/sim"
)

// --- Fixtures ---

func fleetSpec() *domain.TopologySpec {
	return &domain.TopologySpec{
		Name: "veza",
		Nodes: []domain.Node{
			{ID: "db", Role: domain.RoleDatabase},
			{ID: "cache", Role: domain.RoleCache},
			{
				ID:        "backend",
				Role:      domain.RoleAPIBackend,
				DependsOn: []string{"db", "cache"},
				DesiredConfig: map[string]string{
					"DATABASE_URL": "postgres://veza@{{endpoint(db)}}:5432/veza",
					"REDIS_URL":    "redis://{{endpoint(cache)}}:6379",
				},
			},
			{
				ID:        "lb",
				Role:      domain.RoleLoadBalancer,
				DependsOn: []string{"backend"},
				DesiredConfig: map[string]string{
					"BACKEND": "{{endpoint(backend)}}:8080",
				},
			},
		},
	}
}

func inst(nodeID string) string {
	return "veza-" + nodeID
}

func newTestOrchestrator(s *sim.Simulator, rec *events.Recorder, mutate func(*Config)) *Orchestrator {
	cfg := Config{
		Runtime:           s,
		Sink:              rec,
		Policy:            policy.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
		ReadyTimeout:      200 * time.Millisecond,
		ReadyPoll:         time.Millisecond,
		AddressTimeout:    200 * time.Millisecond,
		DependencyTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func transitionAt(rec *events.Recorder, nodeID string, to domain.LifecycleState) (time.Time, bool) {
	for _, ev := range rec.Events() {
		if ev.NodeID == nodeID && ev.Kind == domain.EventTransition && ev.ToState == to {
			return ev.Timestamp, true
		}
	}
	return time.Time{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- Deploy Tests ---

func TestOrchestrator_Deploy_AllHealthy(t *testing.T) {
	s := sim.New(sim.Config{AddressDelay: 2})
	rec := events.NewRecorder(0)
	o := newTestOrchestrator(s, rec, nil)
	defer o.Shutdown()

	res, err := o.Deploy(context.Background(), fleetSpec())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("expected success, failed: %v", res.Failed)
	}
	if len(res.PerNode) != 4 {
		t.Fatalf("expected 4 node results, got %d", len(res.PerNode))
	}
	for id, nr := range res.PerNode {
		if nr.State != domain.StateHealthy {
			t.Errorf("node %s: expected HEALTHY, got %s (%s)", id, nr.State, nr.Error)
		}
	}

	dbAddr, err := o.Registry().Address("db")
	if err != nil {
		t.Fatalf("db address: %v", err)
	}
	cacheAddr, err := o.Registry().Address("cache")
	if err != nil {
		t.Fatalf("cache address: %v", err)
	}

	resolved := res.PerNode["backend"].Resolved
	if want := "postgres://veza@" + dbAddr + ":5432/veza"; resolved["DATABASE_URL"] != want {
		t.Errorf("DATABASE_URL = %q, want %q", resolved["DATABASE_URL"], want)
	}
	if want := "redis://" + cacheAddr + ":6379"; resolved["REDIS_URL"] != want {
		t.Errorf("REDIS_URL = %q, want %q", resolved["REDIS_URL"], want)
	}

	backendHealthy, ok := transitionAt(rec, "backend", domain.StateHealthy)
	if !ok {
		t.Fatal("no HEALTHY transition for backend")
	}
	lbLaunch, ok := s.FirstCall("launch", inst("lb"))
	if !ok {
		t.Fatal("lb was never launched")
	}
	if lbLaunch.Before(backendHealthy) {
		t.Errorf("lb launched at %s before backend became healthy at %s", lbLaunch, backendHealthy)
	}

	for _, dep := range []string{"db", "cache"} {
		depHealthy, _ := transitionAt(rec, dep, domain.StateHealthy)
		backendLaunch, _ := s.FirstCall("launch", inst("backend"))
		if backendLaunch.Before(depHealthy) {
			t.Errorf("backend launched before %s became healthy", dep)
		}
	}

	if len(res.Order) != 4 || res.Order[3] != "lb" {
		t.Errorf("unexpected launch order: %v", res.Order)
	}

	started := rec.Filter(func(ev domain.Event) bool { return ev.Kind == domain.EventDeployStarted })
	finished := rec.Filter(func(ev domain.Event) bool { return ev.Kind == domain.EventDeployFinished })
	if len(started) != 1 || len(finished) != 1 {
		t.Errorf("expected one deploy_started and one deploy_finished, got %d/%d", len(started), len(finished))
	}

	last, ok := o.LastDeployment()
	if !ok || last.ID != res.ID {
		t.Error("expected last deployment to be recorded")
	}
}

func TestOrchestrator_Deploy_FailurePropagation(t *testing.T) {
	s := sim.New(sim.Config{})
	s.FailLaunch(inst("db"), -1, errors.New("image not found"))
	rec := events.NewRecorder(0)
	o := newTestOrchestrator(s, rec, nil)
	defer o.Shutdown()

	res, err := o.Deploy(context.Background(), fleetSpec())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if res.Succeeded() {
		t.Fatal("expected deployment with failures")
	}

	wantFailed := []string{"db", "backend", "lb"}
	if strings.Join(res.Failed, ",") != strings.Join(wantFailed, ",") {
		t.Errorf("Failed = %v, want %v", res.Failed, wantFailed)
	}

	db := res.PerNode["db"]
	if db.State != domain.StateFailed || !strings.Contains(db.Error, "image not found") {
		t.Errorf("unexpected db result: %+v", db)
	}
	if got := s.CountOp("launch", inst("db")); got != 3 {
		t.Errorf("expected 3 launch attempts, got %d", got)
	}

	for _, id := range []string{"backend", "lb"} {
		nr := res.PerNode[id]
		if nr.State != domain.StateFailed || !nr.Blocked {
			t.Errorf("%s: expected blocked FAILED, got %+v", id, nr)
		}
		var blockErr *BlockedByDependencyError
		if !errors.As(nr.Err, &blockErr) {
			t.Errorf("%s: expected BlockedByDependencyError, got %v", id, nr.Err)
			continue
		}
		if blockErr.Dependency != "db" {
			t.Errorf("%s: expected blocking dependency db, got %s", id, blockErr.Dependency)
		}
		if s.CountOp("launch", inst(id)) != 0 {
			t.Errorf("%s must never be launched", id)
		}
	}

	if res.PerNode["cache"].State != domain.StateHealthy {
		t.Errorf("independent cache must be HEALTHY, got %+v", res.PerNode["cache"])
	}

	st, err := o.NodeState("backend")
	if err != nil {
		t.Fatalf("NodeState: %v", err)
	}
	if st.State != domain.StateFailed || !st.Blocked {
		t.Errorf("expected backend reported as blocked FAILED, got %+v", st)
	}

	blocked := rec.Filter(func(ev domain.Event) bool { return ev.Kind == domain.EventNodeBlocked })
	if len(blocked) != 2 {
		t.Errorf("expected 2 node_blocked events, got %d", len(blocked))
	}
}

func TestOrchestrator_Deploy_Cycle(t *testing.T) {
	s := sim.New(sim.Config{})
	o := newTestOrchestrator(s, events.NewRecorder(0), nil)
	defer o.Shutdown()

	spec := &domain.TopologySpec{
		Name: "veza",
		Nodes: []domain.Node{
			{ID: "a", Role: domain.RoleCache, DependsOn: []string{"b"}},
			{ID: "b", Role: domain.RoleCache, DependsOn: []string{"a"}},
		},
	}

	res, err := o.Deploy(context.Background(), spec)
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	var cycleErr *engine.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(s.Calls()) != 0 {
		t.Errorf("expected no runtime calls, got %d", len(s.Calls()))
	}
	if _, err := o.Topology(); !errors.Is(err, ErrNoTopology) {
		t.Errorf("invalid topology must not be loaded, got %v", err)
	}
}

func TestOrchestrator_Deploy_UnknownDependency(t *testing.T) {
	s := sim.New(sim.Config{})
	o := newTestOrchestrator(s, events.NewRecorder(0), nil)
	defer o.Shutdown()

	spec := &domain.TopologySpec{
		Nodes: []domain.Node{{ID: "backend", Role: domain.RoleAPIBackend, DependsOn: []string{"ghost"}}},
	}

	if _, err := o.Deploy(context.Background(), spec); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
	if len(s.Calls()) != 0 {
		t.Error("expected no runtime calls")
	}
}

func TestOrchestrator_Deploy_InProgress(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	s := sim.New(sim.Config{
		ExecHandler: func(instanceID string, cmd []string) (runtime.ExecResult, bool, error) {
			if instanceID == inst("db") && strings.Contains(strings.Join(cmd, " "), "apt-get update") {
				<-release
			}
			return runtime.ExecResult{}, false, nil
		},
	})
	o := newTestOrchestrator(s, events.NewRecorder(0), nil)
	defer o.Shutdown()
	defer once.Do(func() { close(release) })

	done := make(chan error, 1)
	go func() {
		_, err := o.Deploy(context.Background(), fleetSpec())
		done <- err
	}()

	waitFor(t, "db base provisioning", func() bool {
		st, err := o.NodeState("db")
		return err == nil && st.State == domain.StateBaseProvisioning
	})

	if _, err := o.Deploy(context.Background(), fleetSpec()); !errors.Is(err, ErrDeployInProgress) {
		t.Errorf("expected ErrDeployInProgress, got %v", err)
	}
	if _, err := o.Retry(context.Background(), "db"); !errors.Is(err, lifecycle.ErrAlreadyProvisioning) {
		t.Errorf("expected ErrAlreadyProvisioning, got %v", err)
	}

	once.Do(func() { close(release) })
	if err := <-done; err != nil {
		t.Fatalf("first deploy: %v", err)
	}
}

func TestOrchestrator_Deploy_Cancelled(t *testing.T) {
	s := sim.New(sim.Config{})
	o := newTestOrchestrator(s, events.NewRecorder(0), nil)
	defer o.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Deploy(ctx, fleetSpec())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.Failed) != 4 {
		t.Errorf("expected all nodes unfinished, got %v", res.Failed)
	}
	if !errors.Is(res.PerNode["db"].Err, ErrDeployCancelled) {
		t.Errorf("expected ErrDeployCancelled, got %v", res.PerNode["db"].Err)
	}
}

// --- Retry / Stop Tests ---

func TestOrchestrator_Retry_ReprovisionsBlockedDependents(t *testing.T) {
	s := sim.New(sim.Config{})
	s.FailLaunch(inst("db"), -1, errors.New("image not found"))
	o := newTestOrchestrator(s, events.NewRecorder(0), nil)
	defer o.Shutdown()

	if _, err := o.Deploy(context.Background(), fleetSpec()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	s.FailLaunch(inst("db"), 0, nil)

	res, err := o.Retry(context.Background(), "db")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if res.State != domain.StateHealthy {
		t.Fatalf("expected db HEALTHY after retry, got %+v", res)
	}

	states, err := o.NodeStates()
	if err != nil {
		t.Fatalf("NodeStates: %v", err)
	}
	for _, st := range states {
		if st.State != domain.StateHealthy || st.Blocked {
			t.Errorf("node %s: expected HEALTHY, got %+v", st.NodeID, st)
		}
	}

	if got := s.CountOp("launch", inst("cache")); got != 1 {
		t.Errorf("healthy cache must not be relaunched, got %d launches", got)
	}
}

func TestOrchestrator_Retry_UnknownNode(t *testing.T) {
	o := newTestOrchestrator(sim.New(sim.Config{}), events.NewRecorder(0), nil)
	defer o.Shutdown()

	if _, err := o.Retry(context.Background(), "db"); !errors.Is(err, ErrNoTopology) {
		t.Errorf("expected ErrNoTopology, got %v", err)
	}
	if _, err := o.Deploy(context.Background(), fleetSpec()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if _, err := o.Retry(context.Background(), "ghost"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestOrchestrator_StopAndRetry(t *testing.T) {
	s := sim.New(sim.Config{})
	o := newTestOrchestrator(s, events.NewRecorder(0), nil)
	defer o.Shutdown()

	if _, err := o.Deploy(context.Background(), fleetSpec()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if err := o.Stop(context.Background(), "lb"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st, _ := o.NodeState("lb")
	if st.State != domain.StateAbsent {
		t.Errorf("expected ABSENT after stop, got %s", st.State)
	}
	if s.Exists(inst("lb")) {
		t.Error("lb container must be destroyed")
	}
	if _, err := o.Registry().Address("lb"); err == nil {
		t.Error("lb endpoint must be removed")
	}

	res, err := o.Retry(context.Background(), "lb")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if res.State != domain.StateHealthy {
		t.Errorf("expected lb HEALTHY after retry, got %+v", res)
	}

	if err := o.Stop(context.Background(), "ghost"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

// --- Dependency gate / endpoint change ---

func TestOrchestrator_AwaitHealthy(t *testing.T) {
	s := sim.New(sim.Config{})
	s.FailLaunch(inst("db"), -1, nil)
	o := newTestOrchestrator(s, events.NewRecorder(0), nil)
	defer o.Shutdown()

	if _, err := o.Deploy(context.Background(), fleetSpec()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if err := o.AwaitHealthy(context.Background(), "cache", time.Second); err != nil {
		t.Errorf("cache is healthy, got %v", err)
	}

	var depErr *lifecycle.DependencyNotHealthyError
	if err := o.AwaitHealthy(context.Background(), "db", time.Second); !errors.As(err, &depErr) || depErr.State != domain.StateFailed {
		t.Errorf("expected failed dependency error for db, got %v", err)
	}

	if err := o.AwaitHealthy(context.Background(), "backend", time.Second); !errors.As(err, &depErr) {
		t.Errorf("expected dependency error for blocked backend, got %v", err)
	} else {
		var blockErr *BlockedByDependencyError
		if !errors.As(err, &blockErr) {
			t.Errorf("expected blocked cause, got %v", err)
		}
	}

	if err := o.AwaitHealthy(context.Background(), "ghost", time.Second); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestOrchestrator_EndpointChange_ReconfiguresDependents(t *testing.T) {
	s := sim.New(sim.Config{})
	rec := events.NewRecorder(0)
	o := newTestOrchestrator(s, rec, nil)
	defer o.Shutdown()

	if _, err := o.Deploy(context.Background(), fleetSpec()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if _, _, err := o.Registry().Put("db", "10.99.0.200"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	waitFor(t, "backend reconfigured", func() bool {
		return len(rec.Filter(func(ev domain.Event) bool {
			return ev.NodeID == "backend" && ev.Kind == domain.EventReconfigured
		})) == 1
	})

	st, _ := o.NodeState("backend")
	if st.State != domain.StateHealthy {
		t.Errorf("reconfigured backend must stay HEALTHY, got %s", st.State)
	}

	for _, ev := range rec.Events() {
		if ev.NodeID == "lb" && ev.Kind == domain.EventReconfigured {
			t.Error("lb does not depend on db and must not be reconfigured")
		}
	}
}

func TestOrchestrator_RestartedNode_ReconfiguresDependents(t *testing.T) {
	s := sim.New(sim.Config{})
	rec := events.NewRecorder(0)
	o := newTestOrchestrator(s, rec, nil)
	defer o.Shutdown()

	if _, err := o.Deploy(context.Background(), fleetSpec()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	before, err := o.Registry().Address("db")
	if err != nil {
		t.Fatalf("db address: %v", err)
	}

	if err := o.Stop(context.Background(), "db"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	res, err := o.Retry(context.Background(), "db")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if res.State != domain.StateHealthy {
		t.Fatalf("expected db HEALTHY after retry, got %+v", res)
	}

	after, err := o.Registry().Address("db")
	if err != nil {
		t.Fatalf("db address: %v", err)
	}
	if after == before {
		t.Fatalf("restarted container must get a new address, still %s", after)
	}

	want := "postgres://veza@" + after + ":5432/veza"
	waitFor(t, "backend re-rendered with new db address", func() bool {
		return o.controller("backend").Resolved()["DATABASE_URL"] == want
	})

	st, _ := o.NodeState("backend")
	if st.State != domain.StateHealthy {
		t.Errorf("backend must stay HEALTHY, got %s", st.State)
	}
}

// --- Logging ---

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestOrchestrator_ControllerLogsCarrySingleComponent(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	o := newTestOrchestrator(sim.New(sim.Config{}), events.NewRecorder(0), func(cfg *Config) {
		cfg.Logger = logger
	})
	defer o.Shutdown()

	if _, err := o.Deploy(context.Background(), fleetSpec()); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	var lifecycleLines int
	for _, line := range out.Lines() {
		if n := strings.Count(line, "component="); n > 1 {
			t.Errorf("duplicate component key: %s", line)
		}
		if strings.Contains(line, "component=lifecycle") {
			lifecycleLines++
		}
	}
	if lifecycleLines == 0 {
		t.Error("expected controller log lines")
	}
}

// --- Guard wiring ---

func TestOrchestrator_GuardFollowsLifecycle(t *testing.T) {
	s := sim.New(sim.Config{})
	guards := guard.NewSupervisor(guard.SupervisorConfig{
		Policy:   policy.RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond},
		Interval: time.Hour,
	})
	o := newTestOrchestrator(s, events.NewRecorder(0), func(cfg *Config) {
		cfg.Guards = guards
		cfg.GuardProbeTimeout = time.Second
	})
	defer o.Shutdown()

	if _, err := o.Deploy(context.Background(), fleetSpec()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if got := guards.Running(); strings.Join(got, ",") != "backend,cache,db,lb" {
		t.Errorf("expected guards for all nodes, got %v", got)
	}

	waitFor(t, "cache guard record", func() bool {
		_, err := o.Reconciliation("cache")
		return err == nil
	})

	if err := o.Stop(context.Background(), "cache"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for _, id := range guards.Running() {
		if id == "cache" {
			t.Error("guard for stopped node must be stopped")
		}
	}
	if rec, err := o.Reconciliation("cache"); err != nil || rec.Ticks == 0 {
		t.Errorf("record of stopped node must be kept, got %+v (%v)", rec, err)
	}

	if _, err := o.Reconciliation("ghost"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

// --- Command handling ---

func commandDelivery(payload any) *mq.Delivery {
	return &mq.Delivery{Message: mq.Message{ID: "msg-1", Type: mq.MessageTypeCommand, Payload: payload}}
}

func TestOrchestrator_HandleCommand(t *testing.T) {
	s := sim.New(sim.Config{})
	o := newTestOrchestrator(s, events.NewRecorder(0), nil)
	defer o.Shutdown()

	ctx := context.Background()
	if _, err := o.Deploy(ctx, fleetSpec()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	err := o.HandleCommand(ctx, commandDelivery(map[string]any{"command": "stop", "node_id": "lb"}))
	if err != nil {
		t.Fatalf("stop command: %v", err)
	}
	if st, _ := o.NodeState("lb"); st.State != domain.StateAbsent {
		t.Errorf("expected lb ABSENT, got %s", st.State)
	}

	err = o.HandleCommand(ctx, commandDelivery(mq.CommandPayload{Command: mq.CommandRetry, NodeID: "lb"}))
	if err != nil {
		t.Fatalf("retry command: %v", err)
	}
	if st, _ := o.NodeState("lb"); st.State != domain.StateHealthy {
		t.Errorf("expected lb HEALTHY, got %s", st.State)
	}

	if err := o.HandleCommand(ctx, commandDelivery(mq.CommandPayload{Command: mq.CommandDeploy})); err != nil {
		t.Errorf("deploy command: %v", err)
	}

	err = o.HandleCommand(ctx, commandDelivery(mq.CommandPayload{Command: mq.CommandRetry, NodeID: "ghost"}))
	if !mq.IsRejected(err) {
		t.Errorf("unknown node must be rejected, got %v", err)
	}

	err = o.HandleCommand(ctx, commandDelivery(map[string]any{"command": "reboot"}))
	if !mq.IsRejected(err) {
		t.Errorf("unknown command must be rejected, got %v", err)
	}
}
