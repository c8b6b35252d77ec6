// Package sim — детерминированный симулятор runtime контейнеров.
//
// Используется в тестах и в режиме ARMADA_RUNTIME=sim (dry-run):
// контейнеры живут в памяти, адрес назначается после заданного числа
// опросов, а сбои инжектируются явно.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/Armada/internal/runtime"
)

// ErrNotRunning — команда отправлена в остановленный контейнер.
var ErrNotRunning = errors.New("instance is not running")

// ExecHandler переопределяет результат команды.
// handled=false означает встроенное поведение: модель файлов и DNS,
// для прочих команд успех с пустым выводом.
type ExecHandler func(instanceID string, cmd []string) (res runtime.ExecResult, handled bool, err error)

// Config — параметры симулятора.
type Config struct {
	// AddressDelay — сколько вызовов QueryAddress вернут пустой адрес после запуска.
	AddressDelay int

	// Subnet — префикс адресов: адреса выдаются как Subnet + N.
	Subnet string

	// ExecLatency — искусственная задержка каждой команды.
	ExecLatency time.Duration

	// ExecHandler — пользовательская обработка команд.
	ExecHandler ExecHandler
}

// Call — записанный вызов симулятора.
type Call struct {
	Op       string
	Instance string
	Command  []string
	At       time.Time
}

type instance struct {
	name     string
	running  bool
	address  string
	polls    int
	launched time.Time

	files     map[string]string
	immutable map[string]bool
}

type execFailure struct {
	match string
	res   runtime.ExecResult
	times int // <0 — всегда
}

// Simulator — реализация runtime.Adapter в памяти.
type Simulator struct {
	mu        sync.Mutex
	cfg       Config
	instances map[string]*instance
	nextAddr  int
	calls     []Call

	launchFailures map[string]int // <0 — всегда
	launchErr      map[string]error
	execFailures   map[string][]*execFailure
}

// New создаёт симулятор.
func New(cfg Config) *Simulator {
	if cfg.Subnet == "" {
		cfg.Subnet = "10.99.0."
	}
	return &Simulator{
		cfg:            cfg,
		instances:      make(map[string]*instance),
		nextAddr:       10,
		launchFailures: make(map[string]int),
		launchErr:      make(map[string]error),
		execFailures:   make(map[string][]*execFailure),
	}
}

// FailLaunch заставляет CreateAndStart для instanceID падать times раз (times < 0 — всегда).
func (s *Simulator) FailLaunch(instanceID string, times int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = errors.New("simulated launch failure")
	}
	s.launchFailures[instanceID] = times
	s.launchErr[instanceID] = err
}

// FailExec заставляет команды, содержащие match, возвращать res
// times раз (times < 0 — всегда).
func (s *Simulator) FailExec(instanceID, match string, times int, res runtime.ExecResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.ExitCode == 0 {
		res.ExitCode = 1
	}
	s.execFailures[instanceID] = append(s.execFailures[instanceID], &execFailure{match: match, res: res, times: times})
}

// SetAddress меняет адрес контейнера (например, после рестарта).
func (s *Simulator) SetAddress(instanceID, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[instanceID]; ok {
		inst.address = address
		inst.polls = s.cfg.AddressDelay
	}
}

// Running возвращает true, если контейнер запущен.
func (s *Simulator) Running(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	return ok && inst.running
}

// Exists возвращает true, если контейнер создан.
func (s *Simulator) Exists(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.instances[instanceID]
	return ok
}

// Calls возвращает копию журнала вызовов.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Commands возвращает команды, выполненные в контейнере.
func (s *Simulator) Commands(instanceID string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]string
	for _, c := range s.calls {
		if c.Op == "exec" && c.Instance == instanceID {
			out = append(out, c.Command)
		}
	}
	return out
}

// CountOp возвращает количество вызовов op для контейнера.
func (s *Simulator) CountOp(op, instanceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op && c.Instance == instanceID {
			n++
		}
	}
	return n
}

// FirstCall возвращает время первого вызова op для контейнера.
func (s *Simulator) FirstCall(op, instanceID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.Op == op && c.Instance == instanceID {
			return c.At, true
		}
	}
	return time.Time{}, false
}

func (s *Simulator) record(op, instanceID string, cmd []string) {
	s.calls = append(s.calls, Call{
		Op:       op,
		Instance: instanceID,
		Command:  append([]string(nil), cmd...),
		At:       time.Now(),
	})
}

// CreateAndStart создаёт контейнер или запускает существующий.
func (s *Simulator) CreateAndStart(ctx context.Context, spec runtime.NodeSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := spec.InstanceName
	if name == "" {
		name = spec.NodeID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("launch", name, nil)

	if n, ok := s.launchFailures[name]; ok && n != 0 {
		if n > 0 {
			s.launchFailures[name] = n - 1
		}
		return "", s.launchErr[name]
	}

	inst, ok := s.instances[name]
	if !ok {
		inst = &instance{
			name:      name,
			address:   fmt.Sprintf("%s%d", s.cfg.Subnet, s.nextAddr),
			files:     make(map[string]string),
			immutable: make(map[string]bool),
		}
		s.nextAddr++
		s.instances[name] = inst
	}
	if !inst.running {
		inst.running = true
		inst.polls = s.cfg.AddressDelay
		inst.launched = time.Now()
	}
	return name, nil
}

// Exec выполняет команду в контейнере.
func (s *Simulator) Exec(ctx context.Context, instanceID string, cmd []string) (runtime.ExecResult, error) {
	if s.cfg.ExecLatency > 0 {
		t := time.NewTimer(s.cfg.ExecLatency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return runtime.ExecResult{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return runtime.ExecResult{}, err
	}

	s.mu.Lock()
	s.record("exec", instanceID, cmd)
	inst, ok := s.instances[instanceID]
	if !ok {
		s.mu.Unlock()
		return runtime.ExecResult{}, fmt.Errorf("%w: %s", runtime.ErrInstanceNotFound, instanceID)
	}
	if !inst.running {
		s.mu.Unlock()
		return runtime.ExecResult{}, fmt.Errorf("%w: %s", ErrNotRunning, instanceID)
	}

	line := strings.Join(cmd, " ")
	for _, f := range s.execFailures[instanceID] {
		if f.times != 0 && strings.Contains(line, f.match) {
			if f.times > 0 {
				f.times--
			}
			res := f.res
			s.mu.Unlock()
			return res, nil
		}
	}
	handler := s.cfg.ExecHandler
	s.mu.Unlock()

	if handler != nil {
		if res, handled, err := handler(instanceID, cmd); handled {
			return res, err
		}
	}
	return s.builtin(instanceID, cmd), nil
}

// QueryAddress возвращает адрес после AddressDelay опросов.
func (s *Simulator) QueryAddress(ctx context.Context, instanceID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("query_address", instanceID, nil)

	inst, ok := s.instances[instanceID]
	if !ok {
		return "", fmt.Errorf("%w: %s", runtime.ErrInstanceNotFound, instanceID)
	}
	if !inst.running {
		return "", nil
	}
	if inst.polls > 0 {
		inst.polls--
		return "", nil
	}
	return inst.address, nil
}

// Stop останавливает контейнер.
func (s *Simulator) Stop(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("stop", instanceID, nil)
	if inst, ok := s.instances[instanceID]; ok {
		inst.running = false
	}
	return nil
}

// Destroy удаляет контейнер.
func (s *Simulator) Destroy(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("destroy", instanceID, nil)
	delete(s.instances, instanceID)
	return nil
}
