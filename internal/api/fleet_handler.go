package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/shaiso/Armada/internal/mq"
)

// ListNodes возвращает состояние всех узлов в топологическом порядке.
// GET /api/v1/fleet/nodes
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	topo, err := h.fleet.Topology()
	if HandleFleetError(w, h.logger, err) {
		return
	}

	nodes, err := h.fleet.NodeStates()
	if HandleFleetError(w, h.logger, err) {
		return
	}

	Success(w, FleetNodesFromStatuses(topo.Spec.Name, nodes))
}

// GetDeployment возвращает отчёт последнего деплоя.
// GET /api/v1/fleet/deployment
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	res, ok := h.fleet.LastDeployment()
	if !ok {
		NotFound(w, "no deployment has run yet")
		return
	}
	Success(w, DeploymentFromResult(res))
}

// ListDeployments возвращает историю деплоев.
// GET /api/v1/fleet/deployments?limit=...
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	if h.deployments == nil {
		NotFound(w, "deployment history is disabled")
		return
	}

	limit, err := parseLimit(r, 20)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	history, err := h.deployments.List(r.Context(), limit)
	if HandleFleetError(w, h.logger, err) {
		return
	}

	result := make([]DeploymentResponse, len(history))
	for i, res := range history {
		result[i] = DeploymentFromResult(res)
	}
	List(w, result, len(result))
}

// Deploy запускает деплой загруженной топологии.
// POST /api/v1/fleet/deploy?wait=true
//
// С очередью команд деплой ставится в очередь (202), без неё
// или с wait=true выполняется в запросе и возвращает отчёт.
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCommandRequest(r)
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if h.queued(r) {
		h.enqueue(w, r, mq.CommandPayload{Command: mq.CommandDeploy, RequestedBy: req.RequestedBy})
		return
	}

	// Деплой не прерывается обрывом соединения клиента.
	res, err := h.fleet.Redeploy(context.WithoutCancel(r.Context()))
	if HandleFleetError(w, h.logger, err) {
		return
	}

	h.logger.Info("deploy requested through api",
		"deploy_id", res.ID.String(),
		"failed", res.Failed,
		"requested_by", req.RequestedBy,
	)
	Success(w, DeploymentFromResult(res))
}

// FleetHealth возвращает снимок здоровья флота.
// GET /api/v1/fleet/health
func (h *Handler) FleetHealth(w http.ResponseWriter, r *http.Request) {
	topo, err := h.fleet.Topology()
	if HandleFleetError(w, h.logger, err) {
		return
	}

	Success(w, FleetHealthFromResults(h.health.Report(r.Context(), topo.Spec)))
}

// queued проверяет, нужно ли ставить команду в очередь вместо выполнения.
func (h *Handler) queued(r *http.Request) bool {
	if h.commands == nil {
		return false
	}
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return !wait
}

// enqueue публикует команду и отвечает 202.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, cmd mq.CommandPayload) {
	if err := cmd.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if err := h.commands.PublishCommand(r.Context(), cmd); err != nil {
		h.logger.Error("failed to publish command", "command", string(cmd.Command), "node_id", cmd.NodeID, "error", err)
		Unavailable(w, "command queue is unavailable")
		return
	}

	Accepted(w, CommandResponse{
		Command:     cmd.Command,
		NodeID:      cmd.NodeID,
		RequestedBy: cmd.RequestedBy,
		Status:      "queued",
	})
}

// decodeCommandRequest читает необязательное тело команды.
func decodeCommandRequest(r *http.Request) (CommandRequest, error) {
	var req CommandRequest
	if r.Body == nil {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

// parseLimit читает параметр limit (положительное целое).
func parseLimit(r *http.Request, def int) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}
