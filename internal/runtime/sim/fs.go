package sim

import (
	"encoding/base64"
	"regexp"

	"github.com/shaiso/Armada/internal/runtime"
)

// DNSAnswer — адрес, который dig возвращает для любого имени.
const DNSAnswer = "192.0.2.10"

// Модель файлов понимает только атомарную запись из roles.WriteFileAtomic:
// base64 во временный файл и mv поверх целевого.
var (
	writeRe = regexp.MustCompile(`printf '%s' '([A-Za-z0-9+/=]*)' \| base64 -d > '([^']+)'`)
	moveRe  = regexp.MustCompile(`mv -f '([^']+)' '([^']+)'`)
)

// File возвращает содержимое файла в контейнере.
func (s *Simulator) File(instanceID, path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return "", false
	}
	content, ok := inst.files[path]
	return content, ok
}

// WriteFile подменяет файл в контейнере в обход guard (внешний дрейф).
func (s *Simulator) WriteFile(instanceID, path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[instanceID]; ok {
		inst.files[path] = content
	}
}

// builtin исполняет команды, для которых у симулятора есть модель.
// Остальные команды успешны с пустым выводом.
func (s *Simulator) builtin(instanceID string, cmd []string) runtime.ExecResult {
	if len(cmd) == 0 {
		return runtime.ExecResult{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return runtime.ExecResult{}
	}

	switch cmd[0] {
	case "cat":
		if len(cmd) != 2 {
			return runtime.ExecResult{}
		}
		content, ok := inst.files[cmd[1]]
		if !ok {
			return runtime.ExecResult{ExitCode: 1, Stderr: "cat: " + cmd[1] + ": No such file or directory"}
		}
		return runtime.ExecResult{Stdout: content}

	case "sh":
		if len(cmd) == 3 && cmd[1] == "-c" {
			return inst.script(cmd[2])
		}

	case "lsattr":
		path := cmd[len(cmd)-1]
		flags := "--------------e-------"
		if inst.immutable[path] {
			flags = "----i---------e-------"
		}
		return runtime.ExecResult{Stdout: flags + " " + path + "\n"}

	case "chattr":
		if len(cmd) == 3 {
			switch cmd[1] {
			case "+i":
				inst.immutable[cmd[2]] = true
			case "-i":
				delete(inst.immutable, cmd[2])
			}
		}

	case "dig":
		return runtime.ExecResult{Stdout: DNSAnswer + "\n"}
	}

	return runtime.ExecResult{}
}

// script применяет записи и переносы файлов из shell-скрипта.
func (inst *instance) script(src string) runtime.ExecResult {
	for _, m := range writeRe.FindAllStringSubmatch(src, -1) {
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return runtime.ExecResult{ExitCode: 1, Stderr: "base64: invalid input"}
		}
		inst.files[m[2]] = string(data)
	}

	for _, m := range moveRe.FindAllStringSubmatch(src, -1) {
		from, to := m[1], m[2]
		if inst.immutable[to] {
			return runtime.ExecResult{
				ExitCode: 1,
				Stderr:   "mv: cannot move '" + from + "' to '" + to + "': Operation not permitted",
			}
		}
		content, ok := inst.files[from]
		if !ok {
			return runtime.ExecResult{ExitCode: 1, Stderr: "mv: cannot stat '" + from + "': No such file or directory"}
		}
		inst.files[to] = content
		delete(inst.files, from)
	}
	return runtime.ExecResult{}
}
