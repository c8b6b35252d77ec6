package domain

import "time"

// Endpoint — сетевой адрес узла, назначенный runtime после запуска.
//
// Записывается Lifecycle Controller'ом после WAITING_READY.
// Может быть перезаписан после рестарта узла (адрес может смениться).
type Endpoint struct {
	// NodeID — узел, которому принадлежит адрес.
	NodeID string `json:"node_id"`

	// Address — IP-адрес узла.
	Address string `json:"address"`

	// DiscoveredAt — когда адрес был обнаружен.
	DiscoveredAt time.Time `json:"discovered_at"`
}

// IsZero возвращает true для пустого endpoint.
func (e Endpoint) IsZero() bool {
	return e.Address == ""
}
