package api

import (
	"context"
	"net/http"

	"github.com/shaiso/Armada/internal/mq"
)

// GetNode возвращает состояние узла.
// GET /api/v1/nodes/{id}
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	st, err := h.fleet.NodeState(r.PathValue("id"))
	if HandleFleetError(w, h.logger, err) {
		return
	}
	Success(w, st)
}

// RetryNode повторяет провижининг узла из FAILED или ABSENT.
// POST /api/v1/nodes/{id}/retry?wait=true
func (h *Handler) RetryNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	req, err := decodeCommandRequest(r)
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Неизвестный узел отвергается до постановки в очередь.
	if _, err := h.fleet.NodeState(nodeID); HandleFleetError(w, h.logger, err) {
		return
	}

	if h.queued(r) {
		h.enqueue(w, r, mq.CommandPayload{Command: mq.CommandRetry, NodeID: nodeID, RequestedBy: req.RequestedBy})
		return
	}

	res, err := h.fleet.Retry(context.WithoutCancel(r.Context()), nodeID)
	if HandleFleetError(w, h.logger, err) {
		return
	}

	h.logger.Info("retry requested through api",
		"node_id", nodeID,
		"state", string(res.State),
		"requested_by", req.RequestedBy,
	)
	Success(w, RetryResponse{NodeID: nodeID, Result: res})
}

// StopNode останавливает узел и удаляет его контейнер.
// POST /api/v1/nodes/{id}/stop?wait=true
func (h *Handler) StopNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	req, err := decodeCommandRequest(r)
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if _, err := h.fleet.NodeState(nodeID); HandleFleetError(w, h.logger, err) {
		return
	}

	if h.queued(r) {
		h.enqueue(w, r, mq.CommandPayload{Command: mq.CommandStop, NodeID: nodeID, RequestedBy: req.RequestedBy})
		return
	}

	if err := h.fleet.Stop(context.WithoutCancel(r.Context()), nodeID); HandleFleetError(w, h.logger, err) {
		return
	}

	st, err := h.fleet.NodeState(nodeID)
	if HandleFleetError(w, h.logger, err) {
		return
	}

	h.logger.Info("stop requested through api", "node_id", nodeID, "requested_by", req.RequestedBy)
	Success(w, st)
}

// GetReconciliation возвращает запись guard узла.
// GET /api/v1/nodes/{id}/reconciliation
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.fleet.Reconciliation(r.PathValue("id"))
	if HandleFleetError(w, h.logger, err) {
		return
	}
	Success(w, rec)
}
