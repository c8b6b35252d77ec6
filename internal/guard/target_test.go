package guard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/runtime"
	"github.com/shaiso/Armada/internal/runtime/sim"
)

type scriptedShell struct {
	calls   [][]string
	respond func(cmd []string) (runtime.ExecResult, error)
}

func (s *scriptedShell) Run(_ context.Context, cmd ...string) (runtime.ExecResult, error) {
	s.calls = append(s.calls, cmd)
	if s.respond != nil {
		return s.respond(cmd)
	}
	return runtime.ExecResult{}, nil
}

func TestParseLsattr(t *testing.T) {
	if !parseLsattr("----i---------e------- /etc/resolv.conf\n") {
		t.Error("expected immutable flag")
	}
	if parseLsattr("--------------e------- /etc/resolv.conf\n") {
		t.Error("expected mutable file")
	}
	if parseLsattr("") {
		t.Error("expected empty output to mean mutable")
	}
}

func TestExecTarget_Commands(t *testing.T) {
	sh := &scriptedShell{respond: func(cmd []string) (runtime.ExecResult, error) {
		switch cmd[0] {
		case "cat":
			return runtime.ExecResult{Stdout: "nameserver 8.8.8.8\n"}, nil
		case "lsattr":
			return runtime.ExecResult{Stdout: "----i--------- /etc/resolv.conf"}, nil
		case "dig":
			return runtime.ExecResult{Stdout: "151.101.2.132\n"}, nil
		}
		return runtime.ExecResult{}, nil
	}}
	target := NewExecTarget(sh, 3*time.Second)
	ctx := context.Background()

	content, err := target.ReadConfig(ctx)
	if err != nil || content != "nameserver 8.8.8.8\n" {
		t.Errorf("unexpected read: %q (%v)", content, err)
	}

	immutable, err := target.Immutable(ctx)
	if err != nil || !immutable {
		t.Errorf("expected immutable, got %v (%v)", immutable, err)
	}

	if err := target.SetImmutable(ctx, false); err != nil {
		t.Fatal(err)
	}
	last := sh.calls[len(sh.calls)-1]
	if strings.Join(last, " ") != "chattr -i /etc/resolv.conf" {
		t.Errorf("unexpected chattr call: %v", last)
	}

	if err := target.Probe(ctx, "1.1.1.1", "deb.debian.org"); err != nil {
		t.Errorf("unexpected probe error: %v", err)
	}
	last = sh.calls[len(sh.calls)-1]
	if strings.Join(last, " ") != "dig +short +time=3 +tries=1 @1.1.1.1 deb.debian.org" {
		t.Errorf("unexpected dig call: %v", last)
	}

	if err := target.Probe(ctx, "9.9.9.9", ""); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
	last = sh.calls[len(sh.calls)-1]
	if last[0] != "ping" || last[len(last)-1] != "9.9.9.9" {
		t.Errorf("unexpected ping call: %v", last)
	}

	if err := target.WriteConfig(ctx, "nameserver 1.1.1.1\n"); err != nil {
		t.Fatal(err)
	}
	last = sh.calls[len(sh.calls)-1]
	if last[0] != "sh" || !strings.Contains(last[2], "mv -f") {
		t.Errorf("expected atomic write script, got %v", last)
	}
}

func TestExecTarget_ProbeEmptyAnswer(t *testing.T) {
	sh := &scriptedShell{}
	target := NewExecTarget(sh, time.Second)

	if err := target.Probe(context.Background(), "8.8.8.8", "deb.debian.org"); err == nil {
		t.Error("expected error for empty answer")
	}
}

func TestExecTarget_CommandFailure(t *testing.T) {
	sh := &scriptedShell{respond: func(cmd []string) (runtime.ExecResult, error) {
		res := runtime.ExecResult{Stderr: "getent: not found", ExitCode: 2}
		return res, res.Err(cmd)
	}}
	target := NewExecTarget(sh, time.Second)

	err := target.Resolve(context.Background(), "deb.debian.org")
	var cmdErr *runtime.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.ExitCode != 2 {
		t.Errorf("expected CommandError, got %v", err)
	}
}

func TestExecTarget_SimulatorConvergesAfterOneCorrection(t *testing.T) {
	s := sim.New(sim.Config{})
	ctx := context.Background()
	id, err := s.CreateAndStart(ctx, runtime.NodeSpec{NodeID: "db"})
	if err != nil {
		t.Fatal(err)
	}

	spec := domain.DefaultResolverSpec()
	spec.Immutable = true
	g := newTestGuard(NewExecTarget(runtime.Bind(s, id), time.Second), spec, nil)

	got, err := g.Tick(ctx)
	if err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if got.State != domain.GuardConverged || !got.CorrectiveActionApplied {
		t.Fatalf("expected CONVERGED after correction, got %+v", got)
	}
	if content, ok := s.File(id, DefaultResolvConf); !ok || content != g.Desired() {
		t.Errorf("expected desired config in container, got %q (%v)", content, ok)
	}

	got, err = g.Tick(ctx)
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if got.State != domain.GuardConverged || got.DriftDetected || got.CorrectiveActionApplied {
		t.Errorf("expected clean second tick, got %+v", got)
	}
	if got.ConsecutiveFailures != 0 || got.Alerting {
		t.Errorf("expected no failures, got %+v", got)
	}

	// внешняя правка поверх флага i
	s.WriteFile(id, DefaultResolvConf, "nameserver 10.0.0.1\n")
	got, err = g.Tick(ctx)
	if err != nil || !got.CorrectiveActionApplied || got.State != domain.GuardConverged {
		t.Errorf("expected drift corrected again, got %+v (%v)", got, err)
	}
}

func TestFileTarget_ReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	target := NewFileTarget(path, time.Second)
	ctx := context.Background()

	content, err := target.ReadConfig(ctx)
	if err != nil || content != "" {
		t.Errorf("expected empty content for missing file, got %q (%v)", content, err)
	}

	desired := domain.DefaultResolverSpec().Render()
	if err := target.WriteConfig(ctx, desired); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != desired {
		t.Errorf("unexpected file content: %q", data)
	}

	content, err = target.ReadConfig(ctx)
	if err != nil || content != desired {
		t.Errorf("unexpected read back: %q (%v)", content, err)
	}

	// временных файлов не остаётся
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only resolv.conf in dir, got %d entries", len(entries))
	}
}

func TestFileTarget_WriteCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	target := NewFileTarget(path, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := target.WriteConfig(ctx, "nameserver 1.1.1.1\n"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected no file written")
	}
}

func TestFileTarget_Exec(t *testing.T) {
	target := NewFileTarget(filepath.Join(t.TempDir(), "resolv.conf"), time.Second)

	if err := target.Exec(context.Background(), []string{"true"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := target.Exec(context.Background(), []string{"false"}); err == nil {
		t.Error("expected error from false")
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	store := NewRecordStore()
	s := NewSupervisor(SupervisorConfig{
		Store:    store,
		Interval: 5 * time.Millisecond,
	})
	defer s.Shutdown()

	target := newFakeTarget(domain.DefaultResolverSpec().Render())
	if err := s.Start("db", domain.ResolverSpec{}, target); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start("db", domain.ResolverSpec{}, target); !errors.Is(err, ErrGuardRunning) {
		t.Errorf("expected ErrGuardRunning, got %v", err)
	}
	if got := s.Running(); len(got) != 1 || got[0] != "db" {
		t.Errorf("unexpected running guards: %v", got)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, ok := store.Get("db"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("guard never recorded a tick")
		case <-time.After(time.Millisecond):
		}
	}

	s.Stop("db")
	if len(s.Running()) != 0 {
		t.Errorf("expected no running guards, got %v", s.Running())
	}
	kept, ok := store.Get("db")
	if !ok {
		t.Fatal("record must survive stop")
	}
	if kept.Ticks == 0 || kept.NodeID != "db" {
		t.Errorf("unexpected record after stop: %+v", kept)
	}

	// повторный запуск продолжает ту же запись
	if err := s.Start("db", domain.ResolverSpec{}, target); err != nil {
		t.Fatalf("restart: %v", err)
	}
	deadline = time.After(5 * time.Second)
	for {
		if rec, _ := store.Get("db"); rec.Ticks > kept.Ticks {
			break
		}
		select {
		case <-deadline:
			t.Fatal("restarted guard never ticked")
		case <-time.After(time.Millisecond):
		}
	}
	s.Stop("db")

	// Stop несуществующего — no-op
	s.Stop("missing")
}

func TestSupervisor_StartAfterShutdown(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{})
	s.Shutdown()

	if err := s.Start("db", domain.ResolverSpec{}, newFakeTarget("")); err == nil {
		t.Error("expected error after shutdown")
	}
}
