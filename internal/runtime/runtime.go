// Package runtime описывает границу с системой контейнеров.
//
// Adapter — тонкий интерфейс над runtime (create, start, stop, destroy,
// exec, query-address). Все вызовы считаются ненадёжными удалёнными
// операциями: вызывающий код оборачивает их в политику повторов.
//
// Реализации:
//   - incus — через CLI incus (os/exec)
//   - sim   — детерминированный симулятор для тестов и dry-run
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInstanceNotFound — контейнер не существует.
var ErrInstanceNotFound = errors.New("instance not found")

// NodeSpec — что нужно runtime, чтобы создать контейнер узла.
type NodeSpec struct {
	// NodeID — узел флота.
	NodeID string

	// InstanceName — имя контейнера в runtime.
	InstanceName string

	// Image — образ контейнера.
	Image string
}

// ExecResult — результат выполнения команды в контейнере.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output возвращает stdout и stderr вместе, как их увидел бы оператор.
func (r ExecResult) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Err возвращает *CommandError для ненулевого кода выхода.
func (r ExecResult) Err(cmd []string) error {
	if r.ExitCode == 0 {
		return nil
	}
	return &CommandError{Command: cmd, ExitCode: r.ExitCode, Output: r.Output()}
}

// CommandError — команда в контейнере завершилась с ошибкой.
// Output содержит вывод инструмента без изменений.
type CommandError struct {
	Command  []string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("command %q exited with code %d", strings.Join(e.Command, " "), e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", strings.Join(e.Command, " "), e.ExitCode, out)
}

// Adapter — граница с runtime контейнеров.
type Adapter interface {
	// CreateAndStart создаёт и запускает контейнер. Если контейнер
	// уже существует, запускает его и возвращает тот же instanceID.
	CreateAndStart(ctx context.Context, spec NodeSpec) (string, error)

	// Exec выполняет команду в контейнере.
	// Ненулевой код выхода не является ошибкой Exec.
	Exec(ctx context.Context, instanceID string, cmd []string) (ExecResult, error)

	// QueryAddress возвращает текущий адрес контейнера или "" если его ещё нет.
	QueryAddress(ctx context.Context, instanceID string) (string, error)

	// Stop останавливает контейнер.
	Stop(ctx context.Context, instanceID string) error

	// Destroy удаляет контейнер. Отсутствующий контейнер — не ошибка.
	Destroy(ctx context.Context, instanceID string) error
}

// Shell — выполнение команд в одном конкретном контейнере.
// Передаётся в плагины ролей и в guard, чтобы они не знали об instanceID.
type Shell interface {
	// Run выполняет команду и возвращает *CommandError при ненулевом коде выхода.
	Run(ctx context.Context, cmd ...string) (ExecResult, error)
}

// Bind связывает Adapter с конкретным контейнером.
func Bind(adapter Adapter, instanceID string) *InstanceShell {
	return &InstanceShell{adapter: adapter, instanceID: instanceID}
}

// InstanceShell — Shell поверх Adapter.Exec.
type InstanceShell struct {
	adapter    Adapter
	instanceID string
}

// InstanceID возвращает имя контейнера.
func (s *InstanceShell) InstanceID() string {
	return s.instanceID
}

// Run выполняет команду в контейнере.
func (s *InstanceShell) Run(ctx context.Context, cmd ...string) (ExecResult, error) {
	res, err := s.adapter.Exec(ctx, s.instanceID, cmd)
	if err != nil {
		return res, fmt.Errorf("exec in %s: %w", s.instanceID, err)
	}
	return res, res.Err(cmd)
}

// Script выполняет shell-скрипт через sh -c.
func Script(ctx context.Context, sh Shell, script string) (ExecResult, error) {
	return sh.Run(ctx, "sh", "-c", script)
}
