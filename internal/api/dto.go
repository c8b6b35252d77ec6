package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/mq"
	"github.com/shaiso/Armada/internal/orchestrator"
)

// Fleet DTOs

// FleetNodesResponse — состояние всех узлов флота.
type FleetNodesResponse struct {
	Topology string                        `json:"topology"`
	Nodes    []orchestrator.NodeStatus     `json:"nodes"`
	Summary  map[domain.LifecycleState]int `json:"summary"`
}

// FleetNodesFromStatuses собирает ответ и сводку по состояниям.
func FleetNodesFromStatuses(topology string, nodes []orchestrator.NodeStatus) FleetNodesResponse {
	summary := make(map[domain.LifecycleState]int)
	for _, n := range nodes {
		summary[n.State]++
	}
	return FleetNodesResponse{Topology: topology, Nodes: nodes, Summary: summary}
}

// DeploymentResponse — отчёт о деплое флота.
type DeploymentResponse struct {
	ID         uuid.UUID                          `json:"id"`
	Topology   string                             `json:"topology,omitempty"`
	StartedAt  time.Time                          `json:"started_at"`
	FinishedAt time.Time                          `json:"finished_at"`
	DurationMS int64                              `json:"duration_ms"`
	Succeeded  bool                               `json:"succeeded"`
	Order      []string                           `json:"order"`
	Failed     []string                           `json:"failed"`
	PerNode    map[string]orchestrator.NodeResult `json:"per_node"`
}

// DeploymentFromResult конвертирует FleetDeployResult в DeploymentResponse.
func DeploymentFromResult(r *orchestrator.FleetDeployResult) DeploymentResponse {
	return DeploymentResponse{
		ID:         r.ID,
		Topology:   r.Topology,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMS: r.Duration().Milliseconds(),
		Succeeded:  r.Succeeded(),
		Order:      r.Order,
		Failed:     r.Failed,
		PerNode:    r.PerNode,
	}
}

// FleetHealthResponse — снимок здоровья флота.
type FleetHealthResponse struct {
	Healthy      bool                       `json:"healthy"`
	Total        int                        `json:"total"`
	HealthyNodes int                        `json:"healthy_nodes"`
	Nodes        []domain.HealthCheckResult `json:"nodes"`
}

// FleetHealthFromResults считает итог по результатам проверок.
func FleetHealthFromResults(results []domain.HealthCheckResult) FleetHealthResponse {
	resp := FleetHealthResponse{Total: len(results), Nodes: results}
	for _, r := range results {
		if r.Healthy() {
			resp.HealthyNodes++
		}
	}
	resp.Healthy = resp.Total > 0 && resp.HealthyNodes == resp.Total
	return resp
}

// Command DTOs

// CommandRequest — необязательное тело POST-команд.
type CommandRequest struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// CommandResponse — команда поставлена в очередь.
type CommandResponse struct {
	Command     mq.CommandType `json:"command"`
	NodeID      string         `json:"node_id,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
	Status      string         `json:"status"`
}

// RetryResponse — итог повторного провижининга узла.
type RetryResponse struct {
	NodeID string                  `json:"node_id"`
	Result orchestrator.NodeResult `json:"result"`
}
