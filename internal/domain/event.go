package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventComponent — компонент, который породил событие.
type EventComponent string

const (
	ComponentLifecycle    EventComponent = "lifecycle"
	ComponentOrchestrator EventComponent = "orchestrator"
	ComponentGuard        EventComponent = "guard"
	ComponentHealth       EventComponent = "health"
)

// EventKind — тип события.
type EventKind string

const (
	// Lifecycle
	EventTransition   EventKind = "transition"
	EventReconfigured EventKind = "reconfigured"

	// Orchestrator
	EventDeployStarted  EventKind = "deploy_started"
	EventDeployFinished EventKind = "deploy_finished"
	EventNodeBlocked    EventKind = "node_blocked"

	// Guard
	EventGuardTick        EventKind = "tick"
	EventDriftDetected    EventKind = "drift_detected"
	EventDriftCorrected   EventKind = "drift_corrected"
	EventCorrectionFailed EventKind = "correction_failed"
	EventGuardAlert       EventKind = "alert"

	// Health
	EventHealthReport EventKind = "health_report"
)

// Event — структурированное событие для внешних подписчиков
// (логи, метрики, CLI, брокер сообщений).
type Event struct {
	// ID — уникальный идентификатор события.
	ID uuid.UUID `json:"id"`

	// NodeID — узел, к которому относится событие (пусто для событий флота).
	NodeID string `json:"node_id,omitempty"`

	// Component — источник события.
	Component EventComponent `json:"component"`

	// Kind — тип события.
	Kind EventKind `json:"kind"`

	// Timestamp — время события.
	Timestamp time.Time `json:"timestamp"`

	// FromState/ToState — только для EventTransition.
	FromState LifecycleState `json:"from_state,omitempty"`
	ToState   LifecycleState `json:"to_state,omitempty"`

	// Attempt — номер попытки шага, на котором произошёл переход.
	Attempt int `json:"attempt,omitempty"`

	// Detail — произвольные детали события.
	Detail map[string]any `json:"detail,omitempty"`
}

// NewEvent создаёт событие с новым ID и текущим временем.
func NewEvent(nodeID string, component EventComponent, kind EventKind) Event {
	return Event{
		ID:        uuid.New(),
		NodeID:    nodeID,
		Component: component,
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// WithDetail добавляет деталь к событию.
func (e Event) WithDetail(key string, value any) Event {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}
