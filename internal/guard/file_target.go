package guard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// FileTarget — Target локальной машины: guard-агент внутри контейнера.
type FileTarget struct {
	// Path — путь к resolv.conf (по умолчанию DefaultResolvConf).
	Path string

	// ProbeTimeout — таймаут одной пробы.
	ProbeTimeout time.Duration
}

// NewFileTarget создаёт FileTarget.
func NewFileTarget(path string, probeTimeout time.Duration) *FileTarget {
	if path == "" {
		path = DefaultResolvConf
	}
	return &FileTarget{Path: path, ProbeTimeout: probeTimeout}
}

// ReadConfig читает файл. Отсутствующий файл — пустое содержимое.
func (t *FileTarget) ReadConfig(ctx context.Context) (string, error) {
	data, err := os.ReadFile(t.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteConfig пишет файл атомарно через renameio: читатель видит
// либо старое, либо новое содержимое целиком.
func (t *FileTarget) WriteConfig(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := renameio.WriteFile(t.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", t.Path, err)
	}
	return nil
}

// Immutable читает FS_IMMUTABLE_FL через ioctl.
func (t *FileTarget) Immutable(ctx context.Context) (bool, error) {
	return getImmutable(t.Path)
}

// SetImmutable устанавливает или снимает FS_IMMUTABLE_FL через ioctl.
func (t *FileTarget) SetImmutable(ctx context.Context, on bool) error {
	return setImmutable(t.Path, on)
}

// Probe резолвит name напрямую через DNS-сервер addr.
func (t *FileTarget) Probe(ctx context.Context, addr, name string) error {
	timeout := t.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	if name == "" {
		conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", net.JoinHostPort(addr, "53"))
		if err != nil {
			return err
		}
		return conn.Close()
	}

	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, network, net.JoinHostPort(addr, "53"))
		},
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := r.LookupHost(ctx, name)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolver %s returned no answer for %s", addr, name)
	}
	return nil
}

// Resolve резолвит name через системный резолвер.
func (t *FileTarget) Resolve(ctx context.Context, name string) error {
	timeout := t.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := net.DefaultResolver.LookupHost(ctx, name)
	return err
}

// Exec запускает локальную команду.
func (t *FileTarget) Exec(ctx context.Context, cmd []string) error {
	if len(cmd) == 0 {
		return nil
	}
	out, err := exec.CommandContext(ctx, cmd[0], cmd[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(cmd, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
