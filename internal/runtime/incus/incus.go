// Package incus реализует runtime.Adapter через CLI incus.
package incus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/shaiso/Armada/internal/runtime"
)

// defaultBinary — имя CLI по умолчанию.
const defaultBinary = "incus"

// defaultInterface — интерфейс, с которого читается адрес.
const defaultInterface = "eth0"

// Runner выполняет внешнюю команду и возвращает её вывод и код выхода.
// err != nil только если команду не удалось запустить.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)

// Config — конфигурация адаптера.
type Config struct {
	// Binary — путь к CLI incus.
	Binary string

	// Project — проект incus (пусто — проект по умолчанию).
	Project string

	// Interface — сетевой интерфейс, адрес которого считается адресом узла.
	Interface string

	// Runner — исполнитель команд (по умолчанию os/exec).
	Runner Runner

	// Logger — логгер.
	Logger *slog.Logger
}

// Adapter — runtime.Adapter поверх incus.
type Adapter struct {
	binary  string
	project string
	iface   string
	run     Runner
	logger  *slog.Logger
}

// New создаёт адаптер.
func New(cfg Config) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.Interface == "" {
		cfg.Interface = defaultInterface
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		binary:  cfg.Binary,
		project: cfg.Project,
		iface:   cfg.Interface,
		run:     cfg.Runner,
		logger:  cfg.Logger.With("component", "incus"),
	}
}

// execRunner запускает команду через os/exec.
func execRunner(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		return stdout.String(), stderr.String(), -1, err
	}
	return stdout.String(), stderr.String(), 0, nil
}

// incus выполняет подкоманду incus. Ненулевой код выхода превращается в *runtime.CommandError.
func (a *Adapter) incus(ctx context.Context, args ...string) (string, error) {
	if a.project != "" {
		args = append([]string{"--project", a.project}, args...)
	}

	stdout, stderr, code, err := a.run(ctx, a.binary, args...)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", a.binary, err)
	}

	res := runtime.ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: code}
	if err := res.Err(append([]string{a.binary}, args...)); err != nil {
		return stdout, err
	}
	return stdout, nil
}

// instance — часть вывода `incus list --format json`, которая нам нужна.
type instance struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	State  *struct {
		Network map[string]struct {
			Addresses []struct {
				Family  string `json:"family"`
				Address string `json:"address"`
				Scope   string `json:"scope"`
			} `json:"addresses"`
		} `json:"network"`
	} `json:"state"`
}

// lookup возвращает описание контейнера или nil, если его нет.
func (a *Adapter) lookup(ctx context.Context, name string) (*instance, error) {
	out, err := a.incus(ctx, "list", "^"+name+"$", "--format", "json")
	if err != nil {
		return nil, err
	}

	var list []instance
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		return nil, fmt.Errorf("parse incus list output: %w", err)
	}
	for i := range list {
		if list[i].Name == name {
			return &list[i], nil
		}
	}
	return nil, nil
}

// CreateAndStart создаёт контейнер (incus launch) или запускает существующий.
func (a *Adapter) CreateAndStart(ctx context.Context, spec runtime.NodeSpec) (string, error) {
	name := spec.InstanceName
	if name == "" {
		name = spec.NodeID
	}

	inst, err := a.lookup(ctx, name)
	if err != nil {
		return "", err
	}

	switch {
	case inst == nil:
		a.logger.Info("launching instance", "instance", name, "image", spec.Image)
		if _, err := a.incus(ctx, "launch", spec.Image, name); err != nil {
			return "", err
		}
	case !strings.EqualFold(inst.Status, "Running"):
		a.logger.Info("starting existing instance", "instance", name, "status", inst.Status)
		if _, err := a.incus(ctx, "start", name); err != nil {
			return "", err
		}
	default:
		a.logger.Debug("instance already running", "instance", name)
	}

	return name, nil
}

// Exec выполняет команду в контейнере (incus exec name -- cmd...).
func (a *Adapter) Exec(ctx context.Context, instanceID string, cmd []string) (runtime.ExecResult, error) {
	args := append([]string{"exec", instanceID, "--"}, cmd...)
	if a.project != "" {
		args = append([]string{"--project", a.project}, args...)
	}

	stdout, stderr, code, err := a.run(ctx, a.binary, args...)
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("run %s: %w", a.binary, err)
	}
	return runtime.ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: code}, nil
}

// QueryAddress возвращает глобальный IPv4-адрес интерфейса или "".
func (a *Adapter) QueryAddress(ctx context.Context, instanceID string) (string, error) {
	inst, err := a.lookup(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if inst == nil {
		return "", fmt.Errorf("%w: %s", runtime.ErrInstanceNotFound, instanceID)
	}
	return inst.address(a.iface), nil
}

// address извлекает адрес интерфейса из состояния контейнера.
func (i *instance) address(iface string) string {
	if i.State == nil {
		return ""
	}
	nic, ok := i.State.Network[iface]
	if !ok {
		return ""
	}
	for _, addr := range nic.Addresses {
		if addr.Family == "inet" && addr.Scope == "global" {
			return addr.Address
		}
	}
	return ""
}

// Stop останавливает контейнер.
func (a *Adapter) Stop(ctx context.Context, instanceID string) error {
	inst, err := a.lookup(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst == nil || !strings.EqualFold(inst.Status, "Running") {
		return nil
	}
	_, err = a.incus(ctx, "stop", instanceID)
	return err
}

// Destroy удаляет контейнер принудительно.
func (a *Adapter) Destroy(ctx context.Context, instanceID string) error {
	inst, err := a.lookup(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst == nil {
		return nil
	}
	a.logger.Info("deleting instance", "instance", instanceID)
	_, err = a.incus(ctx, "delete", instanceID, "--force")
	return err
}
