package engine

import (
	"slices"

	"github.com/shaiso/Armada/internal/domain"
)

// Vertex — узел флота в графе зависимостей.
type Vertex struct {
	// Node — определение узла из топологии.
	Node *domain.Node

	// ID — идентификатор узла.
	ID string

	// Index — позиция узла в порядке объявления.
	Index int

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — вершины, от которых зависит эта вершина.
	DependsOn []*Vertex

	// Dependents — вершины, которые зависят от этой вершины.
	Dependents []*Vertex
}

// Topology — граф зависимостей флота.
//
// Строится один раз при старте и дальше не изменяется,
// поэтому безопасен для конкурентного чтения.
type Topology struct {
	// Spec — исходное описание флота.
	Spec *domain.TopologySpec

	// Vertices — все вершины (nodeID → Vertex).
	Vertices map[string]*Vertex

	// RootVertices — вершины без зависимостей, в порядке объявления.
	RootVertices []*Vertex

	// Order — топологически отсортированный список вершин.
	Order []*Vertex

	declared []*Vertex
}

// BuildTopology валидирует описание флота и строит граф зависимостей.
//
// Возвращает *ValidationError / *UnknownDependencyError для некорректного
// описания и *CycleError при наличии цикла.
func BuildTopology(spec *domain.TopologySpec) (*Topology, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	t := &Topology{
		Spec:     spec,
		Vertices: make(map[string]*Vertex, len(spec.Nodes)),
		declared: make([]*Vertex, 0, len(spec.Nodes)),
	}

	// Первый проход: создаём все вершины
	for i := range spec.Nodes {
		node := &spec.Nodes[i]
		v := &Vertex{
			Node:       node,
			ID:         node.ID,
			Index:      i,
			DependsOn:  make([]*Vertex, 0, len(node.DependsOn)),
			Dependents: make([]*Vertex, 0),
		}
		t.Vertices[node.ID] = v
		t.declared = append(t.declared, v)
	}

	// Второй проход: связываем вершины по зависимостям
	for _, v := range t.declared {
		for _, depID := range v.Node.DependsOn {
			dep, ok := t.Vertices[depID]
			if !ok {
				return nil, &UnknownDependencyError{NodeID: v.ID, Dependency: depID}
			}
			addEdge(dep, v)
		}
	}

	for _, v := range t.declared {
		if v.InDegree == 0 {
			t.RootVertices = append(t.RootVertices, v)
		}
	}

	order, err := sortVertices(t.declared)
	if err != nil {
		return nil, err
	}
	t.Order = order

	return t, nil
}

// TopologicalOrder возвращает узлы в порядке развёртывания.
//
// Каждый узел встречается ровно один раз и идёт раньше всех узлов,
// которые от него зависят. Среди одновременно готовых узлов порядок
// определяется порядком объявления.
func TopologicalOrder(nodes []domain.Node) ([]*domain.Node, error) {
	t, err := BuildTopology(&domain.TopologySpec{Nodes: nodes})
	if err != nil {
		return nil, err
	}
	return t.TopologicalOrder(), nil
}

// TopologicalOrder возвращает узлы графа в порядке развёртывания.
func (t *Topology) TopologicalOrder() []*domain.Node {
	out := make([]*domain.Node, len(t.Order))
	for i, v := range t.Order {
		out[i] = v.Node
	}
	return out
}

// addEdge добавляет ребро from → to.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func addEdge(from, to *Vertex) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// sortVertices выполняет топологическую сортировку (алгоритм Кана).
// Готовые вершины извлекаются в порядке объявления.
func sortVertices(declared []*Vertex) ([]*Vertex, error) {
	inDegree := make(map[string]int, len(declared))
	for _, v := range declared {
		inDegree[v.ID] = v.InDegree
	}

	// Очередь готовых вершин, упорядоченная по Index
	queue := make([]*Vertex, 0)
	for _, v := range declared {
		if v.InDegree == 0 {
			queue = append(queue, v)
		}
	}

	order := make([]*Vertex, 0, len(declared))

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, v)

		for _, dependent := range v.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = insertByIndex(queue, dependent)
			}
		}
	}

	// Если не все вершины обработаны — есть цикл
	if len(order) != len(declared) {
		return nil, &CycleError{Path: findCycle(declared, inDegree)}
	}

	return order, nil
}

// insertByIndex вставляет вершину в очередь, сохраняя порядок объявления.
func insertByIndex(queue []*Vertex, v *Vertex) []*Vertex {
	pos, _ := slices.BinarySearchFunc(queue, v.Index, func(e *Vertex, idx int) int {
		return e.Index - idx
	})
	return slices.Insert(queue, pos, v)
}

// findCycle находит один цикл среди вершин, не попавших в порядок.
// Возвращает путь, в котором первый узел повторяется в конце.
func findCycle(declared []*Vertex, inDegree map[string]int) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(declared))
	stack := make([]string, 0)

	var visit func(v *Vertex) []string
	visit = func(v *Vertex) []string {
		color[v.ID] = grey
		stack = append(stack, v.ID)
		for _, dep := range v.DependsOn {
			if inDegree[dep.ID] == 0 {
				continue // вершина отсортирована, в цикле не участвует
			}
			switch color[dep.ID] {
			case grey:
				start := slices.Index(stack, dep.ID)
				path := append([]string(nil), stack[start:]...)
				slices.Reverse(path)
				return append([]string{dep.ID}, path...)
			case white:
				if p := visit(dep); p != nil {
					return p
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[v.ID] = black
		return nil
	}

	for _, v := range declared {
		if inDegree[v.ID] > 0 && color[v.ID] == white {
			if p := visit(v); p != nil {
				return p
			}
		}
	}
	return nil
}

// GetReadyNodes возвращает вершины, готовые к провижинингу, в порядке объявления.
//
// Вершина готова, если:
// - Все её зависимости завершены (в completed)
// - Сама вершина ещё не завершена, не в процессе и не провалена
func (t *Topology) GetReadyNodes(completed, running, failed map[string]bool) []*Vertex {
	ready := make([]*Vertex, 0)

	for _, v := range t.declared {
		if completed[v.ID] || running[v.ID] || failed[v.ID] {
			continue
		}

		allDepsCompleted := true
		for _, dep := range v.DependsOn {
			if !completed[dep.ID] {
				allDepsCompleted = false
				break
			}
		}

		if allDepsCompleted {
			ready = append(ready, v)
		}
	}

	return ready
}

// TransitiveDependents возвращает все узлы, которые прямо или косвенно
// зависят от nodeID, в топологическом порядке.
func (t *Topology) TransitiveDependents(nodeID string) []string {
	start, ok := t.Vertices[nodeID]
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	stack := append([]*Vertex(nil), start.Dependents...)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		stack = append(stack, v.Dependents...)
	}

	out := make([]string, 0, len(seen))
	for _, v := range t.Order {
		if seen[v.ID] {
			out = append(out, v.ID)
		}
	}
	return out
}

// Dependents возвращает ID прямых зависимых узлов в порядке объявления.
func (t *Topology) Dependents(nodeID string) []string {
	v, ok := t.Vertices[nodeID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(v.Dependents))
	for _, d := range v.Dependents {
		out = append(out, d.ID)
	}
	slices.SortFunc(out, func(a, b string) int {
		return t.Vertices[a].Index - t.Vertices[b].Index
	})
	return out
}

// Node возвращает узел по ID или nil.
func (t *Topology) Node(id string) *domain.Node {
	if v, ok := t.Vertices[id]; ok {
		return v.Node
	}
	return nil
}

// Nodes возвращает узлы в порядке объявления.
func (t *Topology) Nodes() []*domain.Node {
	out := make([]*domain.Node, len(t.declared))
	for i, v := range t.declared {
		out[i] = v.Node
	}
	return out
}

// Size возвращает количество узлов в графе.
func (t *Topology) Size() int {
	return len(t.declared)
}

// IsComplete проверяет, все ли узлы завершены.
func (t *Topology) IsComplete(completed map[string]bool) bool {
	for _, v := range t.declared {
		if !completed[v.ID] {
			return false
		}
	}
	return true
}
