package health

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/runtime"
	"github.com/shaiso/Armada/internal/runtime/sim"
)

// hangingAdapter зависает на exec в указанном контейнере.
type hangingAdapter struct {
	*sim.Simulator
	hang string
}

func (a *hangingAdapter) Exec(ctx context.Context, id string, cmd []string) (runtime.ExecResult, error) {
	if id == a.hang {
		<-ctx.Done()
		return runtime.ExecResult{}, ctx.Err()
	}
	return a.Simulator.Exec(ctx, id, cmd)
}

type alertSet map[string]bool

func (a alertSet) Alerting(nodeID string) bool { return a[nodeID] }

func launch(t *testing.T, s *sim.Simulator, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := s.CreateAndStart(context.Background(), runtime.NodeSpec{NodeID: id, InstanceName: id}); err != nil {
			t.Fatalf("launch %s: %v", id, err)
		}
	}
}

func testTopology() *domain.TopologySpec {
	return &domain.TopologySpec{
		Name: "test",
		Nodes: []domain.Node{
			{ID: "db", Role: domain.RoleDatabase},
			{ID: "cache", Role: domain.RoleCache},
			{ID: "backend", Role: domain.RoleAPIBackend, DependsOn: []string{"db", "cache"}},
			{ID: "lb", Role: domain.RoleLoadBalancer, DependsOn: []string{"backend"}},
		},
	}
}

func TestReporter_Report(t *testing.T) {
	s := sim.New(sim.Config{})
	launch(t, s, "db", "backend", "lb")
	s.FailExec("backend", "is-active", -1, runtime.ExecResult{Stdout: "inactive", ExitCode: 3})

	r := New(Config{
		Runtime: s,
		Alerts:  alertSet{"lb": true},
	})

	results := r.Report(context.Background(), testTopology())
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	byID := make(map[string]domain.HealthCheckResult)
	for i, res := range results {
		if res.NodeID != testTopology().Nodes[i].ID {
			t.Errorf("result %d out of declaration order: %s", i, res.NodeID)
		}
		byID[res.NodeID] = res
	}

	db := byID["db"]
	if !db.Healthy() || db.Address == "" || db.Role != domain.RoleDatabase {
		t.Errorf("expected healthy db, got %+v", db)
	}

	cache := byID["cache"]
	if cache.Reachable || cache.Error == "" {
		t.Errorf("expected unreachable cache with error, got %+v", cache)
	}

	backend := byID["backend"]
	if !backend.Reachable || backend.ServiceActive {
		t.Errorf("expected reachable backend with inactive service, got %+v", backend)
	}
	if !strings.Contains(backend.Error, "veza-backend-api") {
		t.Errorf("expected unit name in error, got %q", backend.Error)
	}

	lb := byID["lb"]
	if !lb.Reachable || !lb.ServiceActive || !lb.Alerting || lb.Healthy() {
		t.Errorf("expected alerting lb to be unhealthy, got %+v", lb)
	}
}

func TestReporter_PerNodeTimeout(t *testing.T) {
	s := sim.New(sim.Config{})
	launch(t, s, "db", "cache", "backend", "lb")
	adapter := &hangingAdapter{Simulator: s, hang: "cache"}

	r := New(Config{
		Runtime:     adapter,
		NodeTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	results := r.Report(context.Background(), testTopology())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("report stalled for %s", elapsed)
	}

	for _, res := range results {
		switch res.NodeID {
		case "cache":
			if res.Reachable || !strings.Contains(res.Error, "timed out") {
				t.Errorf("expected timed out cache, got %+v", res)
			}
		default:
			if !res.Healthy() {
				t.Errorf("expected %s healthy, got %+v", res.NodeID, res)
			}
		}
	}
}

func TestReporter_InstanceName(t *testing.T) {
	s := sim.New(sim.Config{})
	launch(t, s, "veza-db")

	r := New(Config{
		Runtime:      s,
		InstanceName: func(id string) string { return "veza-" + id },
	})

	res := r.Check(context.Background(), &domain.Node{ID: "db", Role: domain.RoleDatabase})
	if !res.Healthy() {
		t.Errorf("expected healthy node through prefixed instance, got %+v", res)
	}
}

func TestReporter_NilTopology(t *testing.T) {
	r := New(Config{Runtime: sim.New(sim.Config{})})
	if got := r.Report(context.Background(), nil); got != nil {
		t.Errorf("expected nil report, got %v", got)
	}
}
