// Package roles содержит плагины установки сервисов по ролям узлов.
//
// Плагин роли знает, какие пакеты нужны узлу, как собрать и установить
// его сервис и как применить отрендеренную конфигурацию. Для ядра
// плагин непрозрачен: важны только успех/ошибка и вывод инструментов.
package roles

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/runtime"
)

// ErrUnknownRole — для роли нет плагина.
var ErrUnknownRole = errors.New("no plugin for role")

// ConfigDir — каталог, куда пишется конфигурация сервисов.
const ConfigDir = "/etc/armada"

// Plugin — установка и настройка сервиса одной роли.
type Plugin interface {
	// Role возвращает роль, которую обслуживает плагин.
	Role() domain.Role

	// ServiceUnit возвращает имя systemd-юнита сервиса.
	ServiceUnit() string

	// InstallBase ставит общие для всех узлов пакеты. Идемпотентна.
	InstallBase(ctx context.Context, sh runtime.Shell) error

	// InstallService ставит или собирает сервис роли.
	InstallService(ctx context.Context, sh runtime.Shell, cfg map[string]string) error

	// Configure применяет отрендеренную конфигурацию узла.
	Configure(ctx context.Context, sh runtime.Shell, cfg map[string]string) error

	// Start запускает (или перезапускает) долгоживущий сервис.
	Start(ctx context.Context, sh runtime.Shell) error

	// Active проверяет, что сервис запущен.
	Active(ctx context.Context, sh runtime.Shell) (bool, error)
}

// baseScript — пакеты, нужные каждому узлу флота.
const baseScript = `set -e
export DEBIAN_FRONTEND=noninteractive
apt-get update -q
apt-get install -y -q ca-certificates curl gnupg e2fsprogs iputils-ping dnsutils
mkdir -p ` + ConfigDir

// ScriptPlugin — плагин, описанный shell-скриптами.
type ScriptPlugin struct {
	// RoleName — роль.
	RoleName domain.Role

	// Unit — systemd-юнит сервиса.
	Unit string

	// Service — скрипт установки/сборки сервиса.
	Service string

	// PostConfigure — скрипт, выполняемый после записи env-файла (может быть пустым).
	PostConfigure string

	// Defaults — значения конфигурации по умолчанию (перекрываются desired_config).
	Defaults map[string]string
}

// Role возвращает роль плагина.
func (p *ScriptPlugin) Role() domain.Role { return p.RoleName }

// ServiceUnit возвращает имя systemd-юнита.
func (p *ScriptPlugin) ServiceUnit() string { return p.Unit }

// EnvFile возвращает путь к env-файлу роли.
func (p *ScriptPlugin) EnvFile() string {
	return ConfigDir + "/" + string(p.RoleName) + ".env"
}

// InstallBase ставит общие пакеты.
func (p *ScriptPlugin) InstallBase(ctx context.Context, sh runtime.Shell) error {
	_, err := runtime.Script(ctx, sh, baseScript)
	return err
}

// InstallService выполняет скрипт установки сервиса.
// Переменные конфигурации доступны скрипту как переменные окружения.
func (p *ScriptPlugin) InstallService(ctx context.Context, sh runtime.Shell, cfg map[string]string) error {
	if p.Service == "" {
		return nil
	}
	_, err := runtime.Script(ctx, sh, exportLines(p.merge(cfg))+p.Service)
	return err
}

// Configure атомарно пишет env-файл роли и выполняет PostConfigure.
func (p *ScriptPlugin) Configure(ctx context.Context, sh runtime.Shell, cfg map[string]string) error {
	merged := p.merge(cfg)
	if err := WriteFileAtomic(ctx, sh, p.EnvFile(), RenderEnv(merged)); err != nil {
		return err
	}
	if p.PostConfigure == "" {
		return nil
	}
	_, err := runtime.Script(ctx, sh, exportLines(merged)+p.PostConfigure)
	return err
}

// Start включает и перезапускает юнит.
func (p *ScriptPlugin) Start(ctx context.Context, sh runtime.Shell) error {
	if _, err := sh.Run(ctx, "systemctl", "enable", p.Unit); err != nil {
		return err
	}
	_, err := sh.Run(ctx, "systemctl", "restart", p.Unit)
	return err
}

// Active проверяет состояние юнита через systemctl is-active.
func (p *ScriptPlugin) Active(ctx context.Context, sh runtime.Shell) (bool, error) {
	_, err := sh.Run(ctx, "systemctl", "is-active", "--quiet", p.Unit)
	if err == nil {
		return true, nil
	}
	var cmdErr *runtime.CommandError
	if errors.As(err, &cmdErr) {
		return false, nil
	}
	return false, err
}

// merge накладывает cfg поверх Defaults.
func (p *ScriptPlugin) merge(cfg map[string]string) map[string]string {
	out := make(map[string]string, len(p.Defaults)+len(cfg))
	for k, v := range p.Defaults {
		out[k] = v
	}
	for k, v := range cfg {
		out[k] = v
	}
	return out
}

// RenderEnv рендерит конфигурацию в формате systemd EnvironmentFile,
// ключи отсортированы.
func RenderEnv(cfg map[string]string) string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + "=" + quoteEnv(cfg[k]) + "\n")
	}
	return b.String()
}

func quoteEnv(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"'$\\#") {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`).Replace(v) + `"`
	}
	return v
}

// exportLines возвращает строки export для скрипта.
func exportLines(cfg map[string]string) string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString("export " + k + "=" + shellQuote(cfg[k]) + "\n")
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WriteFileAtomic пишет файл в контейнере через временный файл и mv.
// Содержимое передаётся в base64, чтобы не зависеть от экранирования.
func WriteFileAtomic(ctx context.Context, sh runtime.Shell, path, content string) error {
	tmp := path + ".armada-tmp"
	enc := base64.StdEncoding.EncodeToString([]byte(content))
	script := fmt.Sprintf("set -e\nmkdir -p \"$(dirname %s)\"\nprintf '%%s' %s | base64 -d > %s\nmv -f %s %s",
		shellQuote(path), shellQuote(enc), shellQuote(tmp), shellQuote(tmp), shellQuote(path))
	_, err := runtime.Script(ctx, sh, script)
	return err
}

// Registry — реестр плагинов по ролям.
type Registry struct {
	mu      sync.RWMutex
	plugins map[domain.Role]Plugin
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[domain.Role]Plugin)}
}

// Register регистрирует плагин (перезаписывает существующий для той же роли).
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Role()] = p
}

// Get возвращает плагин роли.
func (r *Registry) Get(role domain.Role) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return p, nil
}

// Roles возвращает зарегистрированные роли.
func (r *Registry) Roles() []domain.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Role, 0, len(r.plugins))
	for role := range r.plugins {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
