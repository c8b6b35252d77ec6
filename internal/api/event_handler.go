package api

import (
	"context"
	"net/http"
	"time"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/repo"
)

// ListEvents возвращает события флота, новые первыми.
// GET /api/v1/events?node_id=...&component=...&kind=...&since=...&limit=...
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		NotFound(w, "event log is disabled")
		return
	}

	q := r.URL.Query()
	filter := repo.EventFilter{
		NodeID:    q.Get("node_id"),
		Component: domain.EventComponent(q.Get("component")),
		Kind:      domain.EventKind(q.Get("kind")),
	}

	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			BadRequest(w, "invalid since: expected RFC3339 timestamp")
			return
		}
		filter.Since = t
	}

	limit, err := parseLimit(r, 100)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	filter.Limit = limit

	list, err := h.events.List(r.Context(), filter)
	if HandleFleetError(w, h.logger, err) {
		return
	}
	if list == nil {
		list = []domain.Event{}
	}
	List(w, list, len(list))
}

// RecorderEvents отдаёт события из кольцевого буфера в памяти,
// когда журнал в БД не настроен.
type RecorderEvents struct {
	Recorder *events.Recorder
}

// List реализует EventLister.
func (e RecorderEvents) List(_ context.Context, filter repo.EventFilter) ([]domain.Event, error) {
	all := e.Recorder.Events()

	var out []domain.Event
	for i := len(all) - 1; i >= 0; i-- {
		ev := all[i]
		if filter.NodeID != "" && ev.NodeID != filter.NodeID {
			continue
		}
		if filter.Component != "" && ev.Component != filter.Component {
			continue
		}
		if filter.Kind != "" && ev.Kind != filter.Kind {
			continue
		}
		if !filter.Since.IsZero() && ev.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
