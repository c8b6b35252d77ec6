package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shaiso/Armada/internal/roles"
	"github.com/shaiso/Armada/internal/runtime"
)

// DefaultResolvConf — путь к resolver-конфигурации.
const DefaultResolvConf = "/etc/resolv.conf"

// Target — то, за чьей resolver-конфигурацией следит guard.
//
// Реализации:
//   - ExecTarget — контейнер узла через runtime.Shell (из деплойера)
//   - FileTarget — локальная машина (агент armada-guard внутри контейнера)
type Target interface {
	// ReadConfig возвращает текущее содержимое resolv.conf.
	ReadConfig(ctx context.Context) (string, error)

	// WriteConfig атомарно заменяет resolv.conf (запись во временный файл и rename).
	WriteConfig(ctx context.Context, content string) error

	// Immutable сообщает, установлен ли флаг неизменяемости.
	Immutable(ctx context.Context) (bool, error)

	// SetImmutable устанавливает или снимает флаг неизменяемости.
	SetImmutable(ctx context.Context, on bool) error

	// Probe проверяет связность с внешним резолвером addr, резолвя name через него.
	Probe(ctx context.Context, addr, name string) error

	// Resolve резолвит name через системную конфигурацию.
	Resolve(ctx context.Context, name string) error

	// Exec выполняет вспомогательную команду (перезапуск resolver-процесса).
	Exec(ctx context.Context, cmd []string) error
}

// ExecTarget — Target поверх runtime.Shell контейнера.
type ExecTarget struct {
	Shell runtime.Shell

	// Path — путь к resolv.conf (по умолчанию DefaultResolvConf).
	Path string

	// ProbeTimeout — таймаут одной пробы внутри контейнера.
	ProbeTimeout time.Duration
}

// NewExecTarget создаёт ExecTarget.
func NewExecTarget(sh runtime.Shell, probeTimeout time.Duration) *ExecTarget {
	return &ExecTarget{Shell: sh, Path: DefaultResolvConf, ProbeTimeout: probeTimeout}
}

func (t *ExecTarget) path() string {
	if t.Path == "" {
		return DefaultResolvConf
	}
	return t.Path
}

func (t *ExecTarget) probeSeconds() string {
	secs := int(t.ProbeTimeout / time.Second)
	if secs < 1 {
		secs = 2
	}
	return fmt.Sprint(secs)
}

// ReadConfig читает resolv.conf через cat.
func (t *ExecTarget) ReadConfig(ctx context.Context) (string, error) {
	res, err := t.Shell.Run(ctx, "cat", t.path())
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// WriteConfig пишет resolv.conf через временный файл и mv.
func (t *ExecTarget) WriteConfig(ctx context.Context, content string) error {
	return roles.WriteFileAtomic(ctx, t.Shell, t.path(), content)
}

// Immutable разбирает вывод lsattr.
func (t *ExecTarget) Immutable(ctx context.Context) (bool, error) {
	res, err := t.Shell.Run(ctx, "lsattr", "-d", t.path())
	if err != nil {
		return false, err
	}
	return parseLsattr(res.Stdout), nil
}

// parseLsattr проверяет флаг i в первом поле вывода lsattr ("----i---------e------- /etc/resolv.conf").
func parseLsattr(out string) bool {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return false
	}
	return strings.ContainsRune(fields[0], 'i')
}

// SetImmutable вызывает chattr.
func (t *ExecTarget) SetImmutable(ctx context.Context, on bool) error {
	flag := "-i"
	if on {
		flag = "+i"
	}
	_, err := t.Shell.Run(ctx, "chattr", flag, t.path())
	return err
}

// Probe запрашивает name у резолвера addr через dig, без name — ping.
func (t *ExecTarget) Probe(ctx context.Context, addr, name string) error {
	secs := t.probeSeconds()
	if name == "" {
		_, err := t.Shell.Run(ctx, "ping", "-c", "1", "-W", secs, addr)
		return err
	}

	res, err := t.Shell.Run(ctx, "dig", "+short", "+time="+secs, "+tries=1", "@"+addr, name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return fmt.Errorf("resolver %s returned no answer for %s", addr, name)
	}
	return nil
}

// Resolve проверяет системный резолвинг через getent.
func (t *ExecTarget) Resolve(ctx context.Context, name string) error {
	_, err := t.Shell.Run(ctx, "getent", "hosts", name)
	return err
}

// Exec выполняет команду в контейнере.
func (t *ExecTarget) Exec(ctx context.Context, cmd []string) error {
	_, err := t.Shell.Run(ctx, cmd...)
	return err
}
