package orchestrator

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/engine"
)

// NodeResult — итог узла в рамках одного деплоя.
type NodeResult struct {
	State      domain.LifecycleState `json:"state"`
	Error      string                `json:"error,omitempty"`
	Err        error                 `json:"-"`
	Blocked    bool                  `json:"blocked,omitempty"`
	InstanceID string                `json:"instance_id,omitempty"`
	Resolved   map[string]string     `json:"resolved,omitempty"`
}

// FleetDeployResult — отчёт о деплое флота.
// Содержит каждый узел области деплоя, в том числе провалившиеся.
type FleetDeployResult struct {
	ID         uuid.UUID             `json:"id"`
	Topology   string                `json:"topology,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	PerNode    map[string]NodeResult `json:"per_node"`

	// Failed — упавшие узлы в порядке объявления.
	Failed []string `json:"failed"`

	// Order — порядок, в котором узлы запускались.
	Order []string `json:"order"`
}

// Succeeded возвращает true, если все узлы HEALTHY.
func (r *FleetDeployResult) Succeeded() bool {
	return len(r.Failed) == 0
}

// Duration возвращает длительность деплоя.
func (r *FleetDeployResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// DeployState — состояние одного деплоя в памяти.
//
// Создаётся на каждый Deploy/Retry и отслеживает, какие узлы
// области деплоя запущены, завершены или провалились.
type DeployState struct {
	ID        uuid.UUID
	Topology  *engine.Topology
	StartedAt time.Time

	// scope — узлы, которые этот деплой должен провести; остальные
	// участвуют только как уже готовые зависимости.
	scope map[string]bool

	completed map[string]bool
	running   map[string]bool
	failed    map[string]bool
	outside   map[string]bool

	results map[string]NodeResult
	order   []string

	mu sync.RWMutex
}

// NewDeployState создаёт состояние деплоя. scope == nil — все узлы топологии.
func NewDeployState(topo *engine.Topology, scope []string) *DeployState {
	s := &DeployState{
		ID:        uuid.New(),
		Topology:  topo,
		StartedAt: time.Now(),
		scope:     make(map[string]bool),
		completed: make(map[string]bool),
		running:   make(map[string]bool),
		failed:    make(map[string]bool),
		outside:   make(map[string]bool),
		results:   make(map[string]NodeResult),
	}

	if scope == nil {
		for _, n := range topo.Nodes() {
			s.scope[n.ID] = true
		}
	} else {
		for _, id := range scope {
			s.scope[id] = true
		}
	}

	for _, n := range topo.Nodes() {
		if !s.scope[n.ID] {
			s.outside[n.ID] = true
		}
	}

	return s
}

// Prime отмечает готовые узлы вне области деплоя как завершённые зависимости.
func (s *DeployState) Prime(healthy func(nodeID string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.outside {
		if healthy(id) {
			s.completed[id] = true
		}
	}
}

// InScope проверяет, входит ли узел в область деплоя.
func (s *DeployState) InScope(nodeID string) bool {
	return s.scope[nodeID]
}

// GetReadyNodes возвращает узлы области, все зависимости которых HEALTHY.
func (s *DeployState) GetReadyNodes() []*engine.Vertex {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := make(map[string]bool, len(s.failed)+len(s.outside))
	for id := range s.failed {
		skip[id] = true
	}
	for id := range s.outside {
		skip[id] = true
	}
	return s.Topology.GetReadyNodes(s.completed, s.running, skip)
}

// MarkRunning помечает узел как запущенный.
func (s *DeployState) MarkRunning(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running[nodeID] = true
	s.order = append(s.order, nodeID)
}

// MarkCompleted помечает узел как HEALTHY.
func (s *DeployState) MarkCompleted(nodeID string, res NodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, nodeID)
	s.completed[nodeID] = true
	s.results[nodeID] = res
}

// MarkFailed помечает узел как провалившийся.
func (s *DeployState) MarkFailed(nodeID string, res NodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, nodeID)
	s.failed[nodeID] = true
	if res.Err != nil && res.Error == "" {
		res.Error = res.Err.Error()
	}
	s.results[nodeID] = res
}

// IsFinished проверяет, получил ли узел итог.
func (s *DeployState) IsFinished(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed[nodeID] || s.failed[nodeID]
}

// IsRunning проверяет, выполняется ли узел.
func (s *DeployState) IsRunning(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running[nodeID]
}

// Pending возвращает узлы области без итога, в порядке объявления.
func (s *DeployState) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, n := range s.Topology.Nodes() {
		if s.scope[n.ID] && !s.completed[n.ID] && !s.failed[n.ID] && !s.running[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

// IsComplete проверяет, что все узлы области получили итог.
func (s *DeployState) IsComplete() bool {
	return len(s.Pending()) == 0 && s.Stats().RunningNodes == 0
}

// Result возвращает итог узла.
func (s *DeployState) Result(nodeID string) (NodeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[nodeID]
	return res, ok
}

// Stats возвращает статистику деплоя.
func (s *DeployState) Stats() DeployStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	completed := 0
	failed := 0
	for id := range s.scope {
		if s.completed[id] {
			completed++
		}
		if s.failed[id] {
			failed++
		}
	}

	total := len(s.scope)
	return DeployStats{
		TotalNodes:     total,
		CompletedNodes: completed,
		RunningNodes:   len(s.running),
		FailedNodes:    failed,
		PendingNodes:   total - completed - failed - len(s.running),
	}
}

// Report собирает FleetDeployResult.
func (s *DeployState) Report(finishedAt time.Time) *FleetDeployResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := &FleetDeployResult{
		ID:         s.ID,
		StartedAt:  s.StartedAt,
		FinishedAt: finishedAt,
		PerNode:    make(map[string]NodeResult, len(s.scope)),
		Failed:     []string{},
		Order:      slices.Clone(s.order),
	}
	if s.Topology.Spec != nil {
		res.Topology = s.Topology.Spec.Name
	}

	for _, n := range s.Topology.Nodes() {
		if !s.scope[n.ID] {
			continue
		}
		nr := s.results[n.ID]
		res.PerNode[n.ID] = nr
		if nr.State != domain.StateHealthy {
			res.Failed = append(res.Failed, n.ID)
		}
	}
	return res
}

// DeployStats — статистика деплоя.
type DeployStats struct {
	TotalNodes     int `json:"total_nodes"`
	CompletedNodes int `json:"completed_nodes"`
	RunningNodes   int `json:"running_nodes"`
	FailedNodes    int `json:"failed_nodes"`
	PendingNodes   int `json:"pending_nodes"`
}
