package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Armada/internal/domain"
	"github.com/shaiso/Armada/internal/engine"
	"github.com/shaiso/Armada/internal/events"
	"github.com/shaiso/Armada/internal/lifecycle"
	"github.com/shaiso/Armada/internal/mq"
	"github.com/shaiso/Armada/internal/orchestrator"
	"github.com/shaiso/Armada/internal/telemetry"
)

type fakeFleet struct {
	topo        *engine.Topology
	nodes       []orchestrator.NodeStatus
	last        *orchestrator.FleetDeployResult
	redeployErr error
	retryErr    error
	records     map[string]domain.ReconciliationRecord

	redeploys int
	retried   []string
	stopped   []string
}

func newFakeFleet(t *testing.T) *fakeFleet {
	t.Helper()
	topo, err := engine.BuildTopology(&domain.TopologySpec{
		Name: "veza",
		Nodes: []domain.Node{
			{ID: "db", Role: domain.RoleDatabase},
			{ID: "backend", Role: domain.RoleAPIBackend, DependsOn: []string{"db"}},
		},
	})
	if err != nil {
		t.Fatalf("build topology: %v", err)
	}
	return &fakeFleet{
		topo: topo,
		nodes: []orchestrator.NodeStatus{
			{NodeID: "db", Role: domain.RoleDatabase, State: domain.StateHealthy, Address: "10.0.0.2"},
			{NodeID: "backend", Role: domain.RoleAPIBackend, State: domain.StateFailed, Error: "boom"},
		},
		records: make(map[string]domain.ReconciliationRecord),
	}
}

func (f *fakeFleet) Topology() (*engine.Topology, error) {
	if f.topo == nil {
		return nil, orchestrator.ErrNoTopology
	}
	return f.topo, nil
}

func (f *fakeFleet) NodeStates() ([]orchestrator.NodeStatus, error) {
	return f.nodes, nil
}

func (f *fakeFleet) NodeState(nodeID string) (orchestrator.NodeStatus, error) {
	for _, n := range f.nodes {
		if n.NodeID == nodeID {
			return n, nil
		}
	}
	return orchestrator.NodeStatus{}, fmt.Errorf("%w: %s", orchestrator.ErrUnknownNode, nodeID)
}

func (f *fakeFleet) LastDeployment() (*orchestrator.FleetDeployResult, bool) {
	return f.last, f.last != nil
}

func (f *fakeFleet) Redeploy(context.Context) (*orchestrator.FleetDeployResult, error) {
	f.redeploys++
	if f.redeployErr != nil {
		return nil, f.redeployErr
	}
	start := time.Now()
	f.last = &orchestrator.FleetDeployResult{
		ID:         uuid.New(),
		Topology:   "veza",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		PerNode: map[string]orchestrator.NodeResult{
			"db":      {State: domain.StateHealthy},
			"backend": {State: domain.StateFailed, Error: "boom"},
		},
		Failed: []string{"backend"},
		Order:  []string{"db", "backend"},
	}
	return f.last, nil
}

func (f *fakeFleet) Retry(_ context.Context, nodeID string) (orchestrator.NodeResult, error) {
	if _, err := f.NodeState(nodeID); err != nil {
		return orchestrator.NodeResult{}, err
	}
	if f.retryErr != nil {
		return orchestrator.NodeResult{}, f.retryErr
	}
	f.retried = append(f.retried, nodeID)
	return orchestrator.NodeResult{State: domain.StateHealthy, InstanceID: "veza-" + nodeID}, nil
}

func (f *fakeFleet) Stop(_ context.Context, nodeID string) error {
	f.stopped = append(f.stopped, nodeID)
	for i := range f.nodes {
		if f.nodes[i].NodeID == nodeID {
			f.nodes[i].State = domain.StateAbsent
		}
	}
	return nil
}

func (f *fakeFleet) Reconciliation(nodeID string) (domain.ReconciliationRecord, error) {
	if _, err := f.NodeState(nodeID); err != nil {
		return domain.ReconciliationRecord{}, err
	}
	rec, ok := f.records[nodeID]
	if !ok {
		return domain.ReconciliationRecord{}, fmt.Errorf("%w: node %s", orchestrator.ErrNoReconciliation, nodeID)
	}
	return rec, nil
}

type fakeReporter struct {
	results []domain.HealthCheckResult
}

func (r fakeReporter) Report(context.Context, *domain.TopologySpec) []domain.HealthCheckResult {
	return r.results
}

type fakePublisher struct {
	commands []mq.CommandPayload
	err      error
}

func (p *fakePublisher) PublishCommand(_ context.Context, cmd mq.CommandPayload) error {
	if p.err != nil {
		return p.err
	}
	p.commands = append(p.commands, cmd)
	return nil
}

func newServer(cfg Config) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(cfg).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) ErrorCode {
	t.Helper()
	var out ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return out.Error.Code
}

func TestHandler_ListNodes(t *testing.T) {
	mux := newServer(Config{Fleet: newFakeFleet(t)})

	rec := do(t, mux, http.MethodGet, "/api/v1/fleet/nodes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	resp := decode[FleetNodesResponse](t, rec)
	if resp.Topology != "veza" {
		t.Errorf("expected topology veza, got %q", resp.Topology)
	}
	if len(resp.Nodes) != 2 || resp.Nodes[0].NodeID != "db" {
		t.Errorf("unexpected nodes: %+v", resp.Nodes)
	}
	if resp.Summary[domain.StateHealthy] != 1 || resp.Summary[domain.StateFailed] != 1 {
		t.Errorf("unexpected summary: %v", resp.Summary)
	}
}

func TestHandler_ListNodes_NoTopology(t *testing.T) {
	fleet := newFakeFleet(t)
	fleet.topo = nil
	mux := newServer(Config{Fleet: fleet})

	rec := do(t, mux, http.MethodGet, "/api/v1/fleet/nodes", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != ErrCodeInvalidState {
		t.Errorf("expected %s, got %s", ErrCodeInvalidState, code)
	}
}

func TestHandler_GetDeployment(t *testing.T) {
	fleet := newFakeFleet(t)
	mux := newServer(Config{Fleet: fleet})

	if rec := do(t, mux, http.MethodGet, "/api/v1/fleet/deployment", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any deployment, got %d", rec.Code)
	}

	fleet.Redeploy(context.Background())

	rec := do(t, mux, http.MethodGet, "/api/v1/fleet/deployment", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[DeploymentResponse](t, rec)
	if resp.Succeeded || len(resp.Failed) != 1 || resp.Failed[0] != "backend" {
		t.Errorf("unexpected report: %+v", resp)
	}
	if resp.DurationMS != 1500 {
		t.Errorf("expected duration 1500ms, got %d", resp.DurationMS)
	}
}

func TestHandler_Deploy_Sync(t *testing.T) {
	fleet := newFakeFleet(t)
	mux := newServer(Config{Fleet: fleet})

	rec := do(t, mux, http.MethodPost, "/api/v1/fleet/deploy", `{"requested_by":"ops"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if fleet.redeploys != 1 {
		t.Errorf("expected 1 redeploy, got %d", fleet.redeploys)
	}
	resp := decode[DeploymentResponse](t, rec)
	if len(resp.Order) != 2 {
		t.Errorf("expected order of 2 nodes, got %v", resp.Order)
	}
}

func TestHandler_Deploy_InProgress(t *testing.T) {
	fleet := newFakeFleet(t)
	fleet.redeployErr = orchestrator.ErrDeployInProgress
	mux := newServer(Config{Fleet: fleet})

	rec := do(t, mux, http.MethodPost, "/api/v1/fleet/deploy", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_Deploy_Queued(t *testing.T) {
	fleet := newFakeFleet(t)
	pub := &fakePublisher{}
	mux := newServer(Config{Fleet: fleet, Commands: pub})

	rec := do(t, mux, http.MethodPost, "/api/v1/fleet/deploy", `{"requested_by":"ops"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if fleet.redeploys != 0 {
		t.Errorf("queued deploy must not run in request")
	}
	if len(pub.commands) != 1 || pub.commands[0].Command != mq.CommandDeploy || pub.commands[0].RequestedBy != "ops" {
		t.Errorf("unexpected published commands: %+v", pub.commands)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/fleet/deploy?wait=true", "")
	if rec.Code != http.StatusOK || fleet.redeploys != 1 {
		t.Errorf("expected synchronous deploy with wait=true, got %d (redeploys=%d)", rec.Code, fleet.redeploys)
	}
}

func TestHandler_Deploy_QueueUnavailable(t *testing.T) {
	mux := newServer(Config{Fleet: newFakeFleet(t), Commands: &fakePublisher{err: mq.ErrNoChannel}})

	rec := do(t, mux, http.MethodPost, "/api/v1/fleet/deploy", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandler_Deploy_BadBody(t *testing.T) {
	mux := newServer(Config{Fleet: newFakeFleet(t)})

	rec := do(t, mux, http.MethodPost, "/api/v1/fleet/deploy", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_RetryNode(t *testing.T) {
	fleet := newFakeFleet(t)
	mux := newServer(Config{Fleet: fleet})

	rec := do(t, mux, http.MethodPost, "/api/v1/nodes/backend/retry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	resp := decode[RetryResponse](t, rec)
	if resp.NodeID != "backend" || resp.Result.State != domain.StateHealthy {
		t.Errorf("unexpected retry response: %+v", resp)
	}
	if len(fleet.retried) != 1 {
		t.Errorf("expected one retry, got %v", fleet.retried)
	}
}

func TestHandler_RetryNode_Unknown(t *testing.T) {
	pub := &fakePublisher{}
	mux := newServer(Config{Fleet: newFakeFleet(t), Commands: pub})

	rec := do(t, mux, http.MethodPost, "/api/v1/nodes/ghost/retry", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if len(pub.commands) != 0 {
		t.Errorf("unknown node must not be queued, got %+v", pub.commands)
	}
}

func TestHandler_RetryNode_AlreadyProvisioning(t *testing.T) {
	fleet := newFakeFleet(t)
	fleet.retryErr = fmt.Errorf("%w: backend", lifecycle.ErrAlreadyProvisioning)
	mux := newServer(Config{Fleet: fleet})

	rec := do(t, mux, http.MethodPost, "/api/v1/nodes/backend/retry", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_RetryNode_Queued(t *testing.T) {
	pub := &fakePublisher{}
	mux := newServer(Config{Fleet: newFakeFleet(t), Commands: pub})

	rec := do(t, mux, http.MethodPost, "/api/v1/nodes/backend/retry", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	resp := decode[CommandResponse](t, rec)
	if resp.Command != mq.CommandRetry || resp.NodeID != "backend" || resp.Status != "queued" {
		t.Errorf("unexpected command response: %+v", resp)
	}
}

func TestHandler_StopNode(t *testing.T) {
	fleet := newFakeFleet(t)
	mux := newServer(Config{Fleet: fleet})

	rec := do(t, mux, http.MethodPost, "/api/v1/nodes/db/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	st := decode[orchestrator.NodeStatus](t, rec)
	if st.State != domain.StateAbsent {
		t.Errorf("expected ABSENT after stop, got %s", st.State)
	}
	if len(fleet.stopped) != 1 || fleet.stopped[0] != "db" {
		t.Errorf("unexpected stops: %v", fleet.stopped)
	}
}

func TestHandler_GetReconciliation(t *testing.T) {
	fleet := newFakeFleet(t)
	mux := newServer(Config{Fleet: fleet})

	if rec := do(t, mux, http.MethodGet, "/api/v1/nodes/db/reconciliation", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without record, got %d", rec.Code)
	}

	fleet.records["db"] = domain.ReconciliationRecord{NodeID: "db", State: domain.GuardDrifted, ConsecutiveFailures: 2}

	rec := do(t, mux, http.MethodGet, "/api/v1/nodes/db/reconciliation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[domain.ReconciliationRecord](t, rec)
	if got.State != domain.GuardDrifted || got.ConsecutiveFailures != 2 {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestHandler_FleetHealth(t *testing.T) {
	reporter := fakeReporter{results: []domain.HealthCheckResult{
		{NodeID: "db", Reachable: true, ServiceActive: true},
		{NodeID: "backend", Reachable: true, ServiceActive: false, Error: "inactive"},
	}}
	mux := newServer(Config{Fleet: newFakeFleet(t), Health: reporter})

	rec := do(t, mux, http.MethodGet, "/api/v1/fleet/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[FleetHealthResponse](t, rec)
	if resp.Healthy || resp.Total != 2 || resp.HealthyNodes != 1 {
		t.Errorf("unexpected health summary: %+v", resp)
	}
}

func TestHandler_ListEvents(t *testing.T) {
	recorder := events.NewRecorder(0)
	base := time.Now().Add(-time.Minute)
	for i, node := range []string{"db", "backend", "db"} {
		ev := domain.NewEvent(node, domain.ComponentLifecycle, domain.EventTransition)
		ev.Timestamp = base.Add(time.Duration(i) * time.Second)
		ev.Attempt = i + 1
		recorder.Emit(context.Background(), ev)
	}
	mux := newServer(Config{Fleet: newFakeFleet(t), Events: RecorderEvents{Recorder: recorder}})

	rec := do(t, mux, http.MethodGet, "/api/v1/events?node_id=db", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := decode[[]domain.Event](t, rec)
	if len(list) != 2 {
		t.Fatalf("expected 2 db events, got %d", len(list))
	}
	if list[0].Attempt != 3 {
		t.Errorf("expected newest event first, got attempt %d", list[0].Attempt)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/events?limit=1", "")
	if list := decode[[]domain.Event](t, rec); len(list) != 1 {
		t.Errorf("expected limit to apply, got %d events", len(list))
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/events?since=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid since, got %d", rec.Code)
	}
}

func TestHandler_ListEvents_Disabled(t *testing.T) {
	mux := newServer(Config{Fleet: newFakeFleet(t)})

	if rec := do(t, mux, http.MethodGet, "/api/v1/events", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestInstrument_CountsRequests(t *testing.T) {
	m := telemetry.NewMetrics()
	mux := newServer(Config{Fleet: newFakeFleet(t), Metrics: m})

	do(t, mux, http.MethodGet, "/api/v1/fleet/nodes", "")
	do(t, mux, http.MethodGet, "/api/v1/nodes/ghost/reconciliation", "")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "armada_api_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var code string
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "code" {
					code = lp.GetValue()
				}
			}
			counts[code] = metric.GetCounter().GetValue()
		}
	}
	if counts["200"] != 1 || counts["404"] != 1 {
		t.Errorf("unexpected request counts: %v", counts)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
