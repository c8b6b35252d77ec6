package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/engine"
)

func buildTopology(t *testing.T) *engine.Topology {
	t.Helper()
	topo, err := engine.BuildTopology(fleetSpec())
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	return topo
}

func readyIDs(s *DeployState) map[string]bool {
	out := make(map[string]bool)
	for _, v := range s.GetReadyNodes() {
		out[v.ID] = true
	}
	return out
}

// --- DeployState Tests ---

func TestNewDeployState_FullScope(t *testing.T) {
	s := NewDeployState(buildTopology(t), nil)

	for _, id := range []string{"db", "cache", "backend", "lb"} {
		if !s.InScope(id) {
			t.Errorf("%s should be in scope", id)
		}
	}
	if got := s.Stats().PendingNodes; got != 4 {
		t.Errorf("expected 4 pending, got %d", got)
	}
}

func TestDeployState_GetReadyNodes(t *testing.T) {
	s := NewDeployState(buildTopology(t), nil)

	ready := readyIDs(s)
	if len(ready) != 2 || !ready["db"] || !ready["cache"] {
		t.Fatalf("expected db and cache ready, got %v", ready)
	}

	s.MarkRunning("db")
	s.MarkRunning("cache")
	if len(s.GetReadyNodes()) != 0 {
		t.Error("running nodes must not be ready again")
	}

	s.MarkCompleted("db", NodeResult{State: domain.StateHealthy})
	if len(s.GetReadyNodes()) != 0 {
		t.Error("backend must wait for cache")
	}

	s.MarkCompleted("cache", NodeResult{State: domain.StateHealthy})
	ready = readyIDs(s)
	if len(ready) != 1 || !ready["backend"] {
		t.Errorf("expected backend ready, got %v", ready)
	}
}

func TestDeployState_MarkFailed(t *testing.T) {
	s := NewDeployState(buildTopology(t), nil)
	s.MarkRunning("db")
	s.MarkFailed("db", NodeResult{State: domain.StateFailed, Err: errors.New("boom")})

	res, ok := s.Result("db")
	if !ok || res.Error != "boom" {
		t.Errorf("expected error text filled, got %+v", res)
	}
	if !s.IsFinished("db") || s.IsRunning("db") {
		t.Error("failed node must be finished and not running")
	}
	if ready := readyIDs(s); ready["db"] {
		t.Error("failed node must not be ready again")
	}
}

func TestDeployState_ScopeAndPrime(t *testing.T) {
	s := NewDeployState(buildTopology(t), []string{"backend", "lb"})

	if s.InScope("db") {
		t.Error("db must be outside scope")
	}
	if len(s.GetReadyNodes()) != 0 {
		t.Error("nothing is ready before dependencies are primed")
	}

	s.Prime(func(id string) bool { return id == "db" || id == "cache" })

	ready := readyIDs(s)
	if len(ready) != 1 || !ready["backend"] {
		t.Errorf("expected backend ready after priming, got %v", ready)
	}
	if got := s.Pending(); len(got) != 2 {
		t.Errorf("expected 2 pending scoped nodes, got %v", got)
	}
}

func TestDeployState_Report(t *testing.T) {
	s := NewDeployState(buildTopology(t), nil)
	for _, id := range []string{"db", "cache", "backend"} {
		s.MarkRunning(id)
		s.MarkCompleted(id, NodeResult{State: domain.StateHealthy})
	}
	s.MarkRunning("lb")
	s.MarkFailed("lb", NodeResult{State: domain.StateFailed, Err: errors.New("haproxy failed")})

	if !s.IsComplete() {
		t.Error("expected deployment complete")
	}

	finished := s.StartedAt.Add(time.Second)
	rep := s.Report(finished)

	if rep.Succeeded() {
		t.Error("report with failed node must not succeed")
	}
	if len(rep.Failed) != 1 || rep.Failed[0] != "lb" {
		t.Errorf("unexpected failed list: %v", rep.Failed)
	}
	if rep.Duration() != time.Second {
		t.Errorf("unexpected duration %s", rep.Duration())
	}
	if rep.Topology != "veza" {
		t.Errorf("unexpected topology name %q", rep.Topology)
	}
	if len(rep.Order) != 4 || rep.Order[0] != "db" {
		t.Errorf("unexpected order %v", rep.Order)
	}

	stats := s.Stats()
	if stats.CompletedNodes != 3 || stats.FailedNodes != 1 || stats.PendingNodes != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
