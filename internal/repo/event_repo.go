package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Armada/internal/domain"
)

const (
	eventsTable = "fleet_events"

	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventRepo — журнал событий флота.
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo создаёт новый EventRepo.
func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Insert сохраняет событие. Повторная вставка того же ID игнорируется.
func (r *EventRepo) Insert(ctx context.Context, ev domain.Event) error {
	var detail []byte
	if len(ev.Detail) > 0 {
		var err error
		detail, err = json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
	}

	query := `
		INSERT INTO fleet_events (id, node_id, component, kind, ts, from_state, to_state, attempt, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		ev.ID,
		nullString(ev.NodeID),
		string(ev.Component),
		string(ev.Kind),
		ev.Timestamp,
		nullString(string(ev.FromState)),
		nullString(string(ev.ToState)),
		ev.Attempt,
		detail,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventFilter — параметры выборки событий. Пустые поля не фильтруют.
type EventFilter struct {
	NodeID    string
	Component domain.EventComponent
	Kind      domain.EventKind
	Since     time.Time
	Limit     int
}

// List возвращает события по фильтру, новые первыми.
func (r *EventRepo) List(ctx context.Context, filter EventFilter) ([]domain.Event, error) {
	sql, args, err := buildEventQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func buildEventQuery(filter EventFilter) (string, []any, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	limit = min(limit, maxEventLimit)

	q := squirrel.Select(
		"id", "node_id", "component", "kind", "ts",
		"from_state", "to_state", "attempt", "detail",
	).From(eventsTable)

	if filter.NodeID != "" {
		q = q.Where(squirrel.Eq{"node_id": filter.NodeID})
	}
	if filter.Component != "" {
		q = q.Where(squirrel.Eq{"component": string(filter.Component)})
	}
	if filter.Kind != "" {
		q = q.Where(squirrel.Eq{"kind": string(filter.Kind)})
	}
	if !filter.Since.IsZero() {
		q = q.Where(squirrel.GtOrEq{"ts": filter.Since})
	}

	return q.OrderBy("ts DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
}

func scanEvent(rows pgx.Rows) (domain.Event, error) {
	var (
		ev                 domain.Event
		nodeID             *string
		fromState, toState *string
		component, kind    string
		detail             []byte
	)

	err := rows.Scan(
		&ev.ID,
		&nodeID,
		&component,
		&kind,
		&ev.Timestamp,
		&fromState,
		&toState,
		&ev.Attempt,
		&detail,
	)
	if err != nil {
		return domain.Event{}, fmt.Errorf("scan event: %w", err)
	}

	ev.Component = domain.EventComponent(component)
	ev.Kind = domain.EventKind(kind)
	if nodeID != nil {
		ev.NodeID = *nodeID
	}
	if fromState != nil {
		ev.FromState = domain.LifecycleState(*fromState)
	}
	if toState != nil {
		ev.ToState = domain.LifecycleState(*toState)
	}
	if detail != nil {
		if err := json.Unmarshal(detail, &ev.Detail); err != nil {
			return domain.Event{}, fmt.Errorf("unmarshal detail: %w", err)
		}
	}
	return ev, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
