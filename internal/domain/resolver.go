package domain

import (
	"bufio"
	"strings"
)

// ResolverSpec — желаемая resolver-конфигурация узла (/etc/resolv.conf).
type ResolverSpec struct {
	// Nameservers — DNS-серверы в порядке приоритета.
	Nameservers []string `json:"nameservers,omitempty" yaml:"nameservers,omitempty"`

	// Search — домены поиска.
	Search []string `json:"search,omitempty" yaml:"search,omitempty"`

	// Options — опции resolver (например, "timeout:2").
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`

	// Immutable — помечать файл неизменяемым после записи (chattr +i).
	Immutable bool `json:"immutable,omitempty" yaml:"immutable,omitempty"`

	// ProbeTargets — внешние резолверы для проверки связности.
	ProbeTargets []string `json:"probe_targets,omitempty" yaml:"probe_targets,omitempty"`

	// ProbeName — имя, которое резолвится при проверке связности.
	ProbeName string `json:"probe_name,omitempty" yaml:"probe_name,omitempty"`

	// Quorum — сколько проб должно пройти, чтобы узел считался связным.
	Quorum int `json:"quorum,omitempty" yaml:"quorum,omitempty"`

	// RestartCommand — команда перезапуска локального resolver-процесса
	// после коррекции (пусто — не перезапускать).
	RestartCommand []string `json:"restart_command,omitempty" yaml:"restart_command,omitempty"`
}

// Значения по умолчанию (из исходного resolver-watcher).
var (
	defaultNameservers  = []string{"8.8.8.8", "8.8.4.4", "1.1.1.1"}
	defaultProbeTargets = []string{"8.8.8.8", "1.1.1.1", "9.9.9.9"}
)

const (
	defaultProbeName = "deb.debian.org"
	defaultQuorum    = 2
)

// DefaultResolverSpec возвращает resolver-конфигурацию по умолчанию.
func DefaultResolverSpec() ResolverSpec {
	return ResolverSpec{}.WithDefaults()
}

// WithDefaults заполняет незаданные поля значениями по умолчанию.
func (r ResolverSpec) WithDefaults() ResolverSpec {
	out := r.Clone()
	if len(out.Nameservers) == 0 {
		out.Nameservers = append([]string(nil), defaultNameservers...)
	}
	if len(out.ProbeTargets) == 0 {
		out.ProbeTargets = append([]string(nil), defaultProbeTargets...)
	}
	if out.ProbeName == "" {
		out.ProbeName = defaultProbeName
	}
	if out.Quorum <= 0 {
		out.Quorum = min(defaultQuorum, len(out.ProbeTargets))
	}
	if out.Quorum > len(out.ProbeTargets) {
		out.Quorum = len(out.ProbeTargets)
	}
	return out
}

// Clone возвращает глубокую копию.
func (r ResolverSpec) Clone() ResolverSpec {
	out := r
	out.Nameservers = append([]string(nil), r.Nameservers...)
	out.Search = append([]string(nil), r.Search...)
	out.Options = append([]string(nil), r.Options...)
	out.ProbeTargets = append([]string(nil), r.ProbeTargets...)
	out.RestartCommand = append([]string(nil), r.RestartCommand...)
	return out
}

// Render возвращает содержимое resolv.conf для этой конфигурации.
func (r ResolverSpec) Render() string {
	var b strings.Builder
	b.WriteString("# Managed by armada. Local edits are reverted.\n")
	if len(r.Search) > 0 {
		b.WriteString("search " + strings.Join(r.Search, " ") + "\n")
	}
	for _, ns := range r.Nameservers {
		b.WriteString("nameserver " + ns + "\n")
	}
	if len(r.Options) > 0 {
		b.WriteString("options " + strings.Join(r.Options, " ") + "\n")
	}
	return b.String()
}

// NormalizeResolvConf приводит содержимое resolv.conf к канонической форме
// для сравнения: без комментариев, пустых строк и лишних пробелов.
func NormalizeResolvConf(content string) string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		lines = append(lines, strings.Join(strings.Fields(line), " "))
	}
	return strings.Join(lines, "\n")
}
