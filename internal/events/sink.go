// Package events доставляет структурированные события флота подписчикам.
//
// Каждый переход состояния узла и каждый тик guard порождает domain.Event.
// Sink — точка расширения: логи, метрики, брокер сообщений, БД.
// Ошибка одного подписчика не влияет на остальных и не прерывает
// провижининг: события best-effort.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shaiso/Armada/internal/domain"
)

// Sink — получатель событий.
type Sink interface {
	Emit(ctx context.Context, ev domain.Event)
}

// SinkFunc — адаптер функции к Sink.
type SinkFunc func(ctx context.Context, ev domain.Event)

// Emit вызывает f.
func (f SinkFunc) Emit(ctx context.Context, ev domain.Event) {
	f(ctx, ev)
}

// Discard — Sink, который ничего не делает.
var Discard Sink = SinkFunc(func(context.Context, domain.Event) {})

// Multi рассылает событие всем sinks по очереди.
type Multi []Sink

// Emit отправляет событие каждому sink.
func (m Multi) Emit(ctx context.Context, ev domain.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Join собирает sinks в один, пропуская nil.
func Join(sinks ...Sink) Sink {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// LogSink пишет события в slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink создаёт LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit логирует событие. Алерты и провалы — на уровне WARN.
func (s *LogSink) Emit(ctx context.Context, ev domain.Event) {
	attrs := []any{
		"event_id", ev.ID.String(),
		"node_id", ev.NodeID,
		"component", string(ev.Component),
		"kind", string(ev.Kind),
	}
	if ev.FromState != "" || ev.ToState != "" {
		attrs = append(attrs, "from_state", string(ev.FromState), "to_state", string(ev.ToState))
	}
	if ev.Attempt > 0 {
		attrs = append(attrs, "attempt", ev.Attempt)
	}
	for k, v := range ev.Detail {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	switch {
	case ev.Kind == domain.EventGuardAlert,
		ev.Kind == domain.EventCorrectionFailed,
		ev.Kind == domain.EventNodeBlocked,
		ev.ToState == domain.StateFailed:
		level = slog.LevelWarn
	case ev.Kind == domain.EventGuardTick:
		level = slog.LevelDebug
	}

	s.logger.Log(ctx, level, "fleet event", attrs...)
}

// Recorder запоминает события в памяти. Используется в тестах и в API.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
	limit  int
}

// NewRecorder создаёт Recorder, хранящий не более limit последних событий
// (limit <= 0 — без ограничения).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Emit сохраняет событие.
func (r *Recorder) Emit(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append([]domain.Event(nil), r.events[len(r.events)-r.limit:]...)
	}
}

// Events возвращает копию сохранённых событий.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter возвращает события, удовлетворяющие условию.
func (r *Recorder) Filter(match func(domain.Event) bool) []domain.Event {
	var out []domain.Event
	for _, ev := range r.Events() {
		if match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Transitions возвращает последовательность ToState переходов узла.
func (r *Recorder) Transitions(nodeID string) []domain.LifecycleState {
	var out []domain.LifecycleState
	for _, ev := range r.Events() {
		if ev.NodeID == nodeID && ev.Kind == domain.EventTransition {
			out = append(out, ev.ToState)
		}
	}
	return out
}
