package incus

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Armada/internal/runtime"
)

const listRunning = `[{"name":"armada-postgres","status":"Running","state":{"network":{
 "eth0":{"addresses":[
   {"family":"inet6","address":"fd42::1","scope":"global"},
   {"family":"inet","address":"10.10.0.5","scope":"global"}]},
 "lo":{"addresses":[{"family":"inet","address":"127.0.0.1","scope":"local"}]}}}}]`

// fakeRunner записывает вызовы и отвечает по первому аргументу подкоманды.
type fakeRunner struct {
	calls     [][]string
	responses map[string]string
	codes     map[string]int
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	sub := args[0]
	if sub == "--project" {
		sub = args[2]
	}
	if code := f.codes[sub]; code != 0 {
		return "", "boom: " + sub, code, nil
	}
	return f.responses[sub], "", 0, nil
}

func (f *fakeRunner) called(sub string) bool {
	for _, c := range f.calls {
		if len(c) > 1 && c[1] == sub {
			return true
		}
	}
	return false
}

func TestAdapter_QueryAddress(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{"list": listRunning}}
	a := New(Config{Runner: f.run})

	addr, err := a.QueryAddress(context.Background(), "armada-postgres")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "10.10.0.5" {
		t.Errorf("expected 10.10.0.5, got %s", addr)
	}
}

func TestAdapter_QueryAddressNoAddressYet(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{
		"list": `[{"name":"armada-postgres","status":"Running","state":{"network":{"eth0":{"addresses":[]}}}}]`,
	}}
	a := New(Config{Runner: f.run})

	addr, err := a.QueryAddress(context.Background(), "armada-postgres")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "" {
		t.Errorf("expected empty address, got %s", addr)
	}
}

func TestAdapter_QueryAddressMissing(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{"list": `[]`}}
	a := New(Config{Runner: f.run})

	_, err := a.QueryAddress(context.Background(), "ghost")
	if !errors.Is(err, runtime.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestAdapter_CreateAndStartLaunches(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{"list": `[]`}}
	a := New(Config{Runner: f.run})

	id, err := a.CreateAndStart(context.Background(), runtime.NodeSpec{
		NodeID: "postgres", InstanceName: "armada-postgres", Image: "images:debian/12",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "armada-postgres" {
		t.Errorf("unexpected id %s", id)
	}
	if !f.called("launch") {
		t.Error("expected incus launch")
	}
}

func TestAdapter_CreateAndStartExistingRunning(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{"list": listRunning}}
	a := New(Config{Runner: f.run})

	if _, err := a.CreateAndStart(context.Background(), runtime.NodeSpec{InstanceName: "armada-postgres"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.called("launch") || f.called("start") {
		t.Error("running instance must not be relaunched")
	}
}

func TestAdapter_ExecReturnsExitCode(t *testing.T) {
	f := &fakeRunner{codes: map[string]int{"exec": 2}}
	a := New(Config{Runner: f.run, Project: "veza"})

	res, err := a.Exec(context.Background(), "armada-postgres", []string{"false"})
	if err != nil {
		t.Fatalf("non-zero exit must not be an Exec error: %v", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("expected exit code 2, got %d", res.ExitCode)
	}

	last := strings.Join(f.calls[len(f.calls)-1], " ")
	if last != "incus --project veza exec armada-postgres -- false" {
		t.Errorf("unexpected command line: %s", last)
	}
}

func TestAdapter_LaunchFailureSurfacesOutput(t *testing.T) {
	f := &fakeRunner{
		responses: map[string]string{"list": `[]`},
		codes:     map[string]int{"launch": 1},
	}
	a := New(Config{Runner: f.run})

	_, err := a.CreateAndStart(context.Background(), runtime.NodeSpec{InstanceName: "x", Image: "img"})
	var cmdErr *runtime.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *runtime.CommandError, got %v", err)
	}
	if !strings.Contains(cmdErr.Output, "boom: launch") {
		t.Errorf("tool output must be preserved, got %q", cmdErr.Output)
	}
}

func TestAdapter_DestroyMissingIsNoop(t *testing.T) {
	f := &fakeRunner{responses: map[string]string{"list": `[]`}}
	a := New(Config{Runner: f.run})

	if err := a.Destroy(context.Background(), "ghost"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if f.called("delete") {
		t.Error("delete must not be called for missing instance")
	}
}
