package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shaiso/Armada/internal/domain"
)

// defaultBuffer — размер очереди Async по умолчанию.
const defaultBuffer = 1024

// Async доставляет события медленным подписчикам (брокер, БД)
// в отдельной горутине, чтобы не тормозить провижининг.
// При переполнении очереди событие отбрасывается с предупреждением.
type Async struct {
	next   Sink
	queue  chan domain.Event
	logger *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsync создаёт Async и запускает горутину доставки.
func NewAsync(next Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Async{
		next:   next,
		queue:  make(chan domain.Event, buffer),
		logger: logger,
	}

	a.wg.Add(1)
	go a.loop()

	return a
}

func (a *Async) loop() {
	defer a.wg.Done()
	for ev := range a.queue {
		a.next.Emit(context.Background(), ev)
	}
}

// Emit ставит событие в очередь.
func (a *Async) Emit(_ context.Context, ev domain.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return
	}

	select {
	case a.queue <- ev:
	default:
		a.logger.Warn("event queue full, dropping event",
			"node_id", ev.NodeID,
			"kind", string(ev.Kind),
		)
	}
}

// Close дожидается доставки накопленных событий.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	a.wg.Wait()
}
