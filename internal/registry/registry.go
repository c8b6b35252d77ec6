// Package registry хранит текущие сетевые адреса узлов флота.
//
// Registry — единственное место, где живут обнаруженные адреса.
// Lifecycle Controller пишет адрес после WAITING_READY, оркестратор
// и guard читают его через Get/WaitFor.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Armada/internal/domain"
)

// ErrEmptyAddress — попытка записать пустой адрес.
var ErrEmptyAddress = errors.New("endpoint address is empty")

// NotFoundError — адрес узла ещё не известен.
type NotFoundError struct {
	NodeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("endpoint for node %s not found", e.NodeID)
}

// TimeoutError — адрес узла не появился за отведённое время.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("endpoint for node %s not available after %s", e.NodeID, e.Timeout)
}

// ChangeFunc вызывается, когда адрес уже известного узла изменился.
// Узел, перезапущенный после Delete, сравнивается с последним адресом до остановки.
type ChangeFunc func(previous, current domain.Endpoint)

// Registry — потокобезопасная map nodeID → Endpoint.
// Семантика last-writer-wins для каждого ключа.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]domain.Endpoint
	retired   map[string]domain.Endpoint
	waiters   map[string]chan struct{}
	watchers  map[int]ChangeFunc
	nextWatch int
	now       func() time.Time
}

// New создаёт пустой реестр.
func New() *Registry {
	return &Registry{
		endpoints: make(map[string]domain.Endpoint),
		retired:   make(map[string]domain.Endpoint),
		waiters:   make(map[string]chan struct{}),
		watchers:  make(map[int]ChangeFunc),
		now:       time.Now,
	}
}

// Put записывает адрес узла.
//
// Возвращает записанный endpoint и true, если адрес уже был известен
// (в том числе до Delete) и изменился. Подписчики Watch уведомляются
// только об изменениях.
func (r *Registry) Put(nodeID, address string) (domain.Endpoint, bool, error) {
	if address == "" {
		return domain.Endpoint{}, false, ErrEmptyAddress
	}

	ep := domain.Endpoint{
		NodeID:       nodeID,
		Address:      address,
		DiscoveredAt: r.now(),
	}

	r.mu.Lock()
	prev, existed := r.endpoints[nodeID]
	if !existed {
		prev, existed = r.retired[nodeID]
		delete(r.retired, nodeID)
	}
	r.endpoints[nodeID] = ep

	// Будим всех, кто ждёт этот узел
	if ch, ok := r.waiters[nodeID]; ok {
		close(ch)
		delete(r.waiters, nodeID)
	}

	changed := existed && prev.Address != address
	var watchers []ChangeFunc
	if changed {
		watchers = r.watcherList()
	}
	r.mu.Unlock()

	for _, fn := range watchers {
		fn(prev, ep)
	}

	return ep, changed, nil
}

// Get возвращает адрес узла или *NotFoundError.
func (r *Registry) Get(nodeID string) (domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[nodeID]
	if !ok {
		return domain.Endpoint{}, &NotFoundError{NodeID: nodeID}
	}
	return ep, nil
}

// Address возвращает только адрес узла.
// Удобно для передачи в engine.Render как EndpointLookup.
func (r *Registry) Address(nodeID string) (string, error) {
	ep, err := r.Get(nodeID)
	if err != nil {
		return "", err
	}
	return ep.Address, nil
}

// WaitFor блокируется, пока адрес узла не появится.
//
// Возвращает *TimeoutError, если адрес не появился за timeout,
// и ctx.Err() при отмене контекста. timeout <= 0 означает ожидание
// без собственного таймаута (только по ctx).
func (r *Registry) WaitFor(ctx context.Context, nodeID string, timeout time.Duration) (domain.Endpoint, error) {
	r.mu.Lock()
	if ep, ok := r.endpoints[nodeID]; ok {
		r.mu.Unlock()
		return ep, nil
	}
	ch, ok := r.waiters[nodeID]
	if !ok {
		ch = make(chan struct{})
		r.waiters[nodeID] = ch
	}
	r.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ch:
		return r.Get(nodeID)
	case <-timer:
		return domain.Endpoint{}, &TimeoutError{NodeID: nodeID, Timeout: timeout}
	case <-ctx.Done():
		return domain.Endpoint{}, ctx.Err()
	}
}

// Delete удаляет адрес узла (узел остановлен).
// Последний адрес запоминается: следующий Put сравнивается с ним.
func (r *Registry) Delete(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.endpoints[nodeID]; ok {
		r.retired[nodeID] = ep
		delete(r.endpoints, nodeID)
	}
}

// Snapshot возвращает копию всех известных адресов, отсортированную по nodeID.
func (r *Registry) Snapshot() []domain.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Watch подписывает fn на изменения адресов.
// fn вызывается синхронно из Put, вне блокировки реестра.
// Возвращает функцию отписки.
func (r *Registry) Watch(fn ChangeFunc) func() {
	r.mu.Lock()
	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

// watcherList возвращает подписчиков в порядке подписки. Вызывается под r.mu.
func (r *Registry) watcherList() []ChangeFunc {
	keys := make([]int, 0, len(r.watchers))
	for k := range r.watchers {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([]ChangeFunc, len(keys))
	for i, k := range keys {
		out[i] = r.watchers[k]
	}
	return out
}
