package domain

import "time"

// ReconciliationRecord — состояние guard-цикла одного узла.
//
// Создаётся при первом тике guard, обновляется каждый тик
// и не удаляется, пока узел существует во флоте.
type ReconciliationRecord struct {
	// NodeID — узел, к которому относится запись.
	NodeID string `json:"node_id"`

	// State — CONVERGED или DRIFTED по итогам последнего тика.
	State GuardState `json:"state"`

	// LastCheckedAt — время последнего тика.
	LastCheckedAt time.Time `json:"last_checked_at"`

	// DriftDetected — был ли обнаружен дрейф на последнем тике.
	DriftDetected bool `json:"drift_detected"`

	// CorrectiveActionApplied — была ли применена коррекция на последнем тике.
	CorrectiveActionApplied bool `json:"corrective_action_applied"`

	// ConsecutiveFailures — число повторных неудачных тиков DRIFTED → DRIFTED.
	// Первый неудачный тик после CONVERGED оставляет 0; успешный тик сбрасывает в 0.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// Ticks — общее число выполненных тиков.
	Ticks int `json:"ticks"`

	// Alerting — ConsecutiveFailures достиг порога алерта.
	Alerting bool `json:"alerting"`

	// LastError — текст последней ошибки коррекции.
	LastError string `json:"last_error,omitempty"`
}

// HealthCheckResult — результат on-demand проверки узла.
// Не сохраняется, живёт только в рамках отчёта.
type HealthCheckResult struct {
	NodeID    string    `json:"node_id"`
	Role      Role      `json:"role"`
	CheckedAt time.Time `json:"checked_at"`

	// Reachable — контейнер отвечает на exec и имеет адрес.
	Reachable bool `json:"reachable"`

	// ServiceActive — systemd-юнит сервиса роли активен.
	ServiceActive bool `json:"service_active"`

	// Address — текущий адрес узла (если известен).
	Address string `json:"address,omitempty"`

	// Alerting — guard узла находится в состоянии алерта.
	Alerting bool `json:"alerting,omitempty"`

	// Error — причина, по которой проверка не прошла.
	Error string `json:"error,omitempty"`
}

// Healthy возвращает true, если узел доступен, сервис активен и нет алерта.
func (r HealthCheckResult) Healthy() bool {
	return r.Reachable && r.ServiceActive && !r.Alerting
}
