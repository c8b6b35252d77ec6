package repo

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Armada/internal/domain"
)

const sinkWriteTimeout = 5 * time.Second

// EventStore — то, куда сохраняются события.
type EventStore interface {
	Insert(ctx context.Context, ev domain.Event) error
}

// RecordWriter — то, куда сохраняются записи реконсиляции.
type RecordWriter interface {
	Upsert(ctx context.Context, rec domain.ReconciliationRecord) error
}

// RecordSource отдаёт текущую запись guard узла.
type RecordSource interface {
	Get(nodeID string) (domain.ReconciliationRecord, bool)
}

// EventSink сохраняет события флота и после каждого тика guard
// сохраняет свежую запись реконсиляции узла.
type EventSink struct {
	events  EventStore
	records RecordWriter
	source  RecordSource
	logger  *slog.Logger
}

// NewEventSink создаёт EventSink. records и source могут быть nil.
func NewEventSink(events EventStore, records RecordWriter, source RecordSource, logger *slog.Logger) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{
		events:  events,
		records: records,
		source:  source,
		logger:  logger.With("component", "repo"),
	}
}

// Emit сохраняет событие. Ошибки БД логируются.
func (s *EventSink) Emit(ctx context.Context, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkWriteTimeout)
	defer cancel()

	if err := s.events.Insert(ctx, ev); err != nil {
		s.logger.Warn("failed to persist event", "event_id", ev.ID.String(), "kind", string(ev.Kind), "error", err)
	}

	if ev.Kind != domain.EventGuardTick || s.records == nil || s.source == nil {
		return
	}
	rec, ok := s.source.Get(ev.NodeID)
	if !ok {
		return
	}
	if err := s.records.Upsert(ctx, rec); err != nil {
		s.logger.Warn("failed to persist reconciliation record", "node_id", ev.NodeID, "error", err)
	}
}
