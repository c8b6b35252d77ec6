package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// NodeResponse — состояние узла из API.
type NodeResponse struct {
	NodeID     string   `json:"node_id"`
	Role       string   `json:"role"`
	State      string   `json:"state"`
	DependsOn  []string `json:"depends_on,omitempty"`
	InstanceID string   `json:"instance_id,omitempty"`
	Address    string   `json:"address,omitempty"`
	Blocked    bool     `json:"blocked,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// FleetNodesResponse — состояние флота из API.
type FleetNodesResponse struct {
	Topology string         `json:"topology"`
	Nodes    []NodeResponse `json:"nodes"`
	Summary  map[string]int `json:"summary"`
}

// NodeResult — итог узла в отчёте деплоя.
type NodeResult struct {
	State      string            `json:"state"`
	Error      string            `json:"error,omitempty"`
	Blocked    bool              `json:"blocked,omitempty"`
	InstanceID string            `json:"instance_id,omitempty"`
	Resolved   map[string]string `json:"resolved,omitempty"`
}

// DeploymentResponse — отчёт о деплое из API.
type DeploymentResponse struct {
	ID         string                `json:"id"`
	Topology   string                `json:"topology,omitempty"`
	StartedAt  string                `json:"started_at"`
	FinishedAt string                `json:"finished_at"`
	DurationMS int64                 `json:"duration_ms"`
	Succeeded  bool                  `json:"succeeded"`
	Order      []string              `json:"order"`
	Failed     []string              `json:"failed"`
	PerNode    map[string]NodeResult `json:"per_node"`
}

// HealthCheckResult — результат проверки узла из API.
type HealthCheckResult struct {
	NodeID        string `json:"node_id"`
	Role          string `json:"role"`
	CheckedAt     string `json:"checked_at"`
	Reachable     bool   `json:"reachable"`
	ServiceActive bool   `json:"service_active"`
	Address       string `json:"address,omitempty"`
	Alerting      bool   `json:"alerting,omitempty"`
	Error         string `json:"error,omitempty"`
}

// FleetHealthResponse — снимок здоровья флота из API.
type FleetHealthResponse struct {
	Healthy      bool                `json:"healthy"`
	Total        int                 `json:"total"`
	HealthyNodes int                 `json:"healthy_nodes"`
	Nodes        []HealthCheckResult `json:"nodes"`
}

// ReconciliationRecord — запись guard узла из API.
type ReconciliationRecord struct {
	NodeID                  string `json:"node_id"`
	State                   string `json:"state"`
	LastCheckedAt           string `json:"last_checked_at"`
	DriftDetected           bool   `json:"drift_detected"`
	CorrectiveActionApplied bool   `json:"corrective_action_applied"`
	ConsecutiveFailures     int    `json:"consecutive_failures"`
	Ticks                   int    `json:"ticks"`
	Alerting                bool   `json:"alerting"`
	LastError               string `json:"last_error,omitempty"`
}

// EventResponse — событие из API.
type EventResponse struct {
	ID        string         `json:"id"`
	NodeID    string         `json:"node_id,omitempty"`
	Component string         `json:"component"`
	Kind      string         `json:"kind"`
	Timestamp string         `json:"timestamp"`
	FromState string         `json:"from_state,omitempty"`
	ToState   string         `json:"to_state,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// CommandResponse — команда поставлена в очередь.
type CommandResponse struct {
	Command     string `json:"command"`
	NodeID      string `json:"node_id,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
	Status      string `json:"status"`
}

// RetryResponse — итог повторного провижининга.
type RetryResponse struct {
	NodeID string     `json:"node_id"`
	Result NodeResult `json:"result"`
}

// --- Request types ---

// CommandRequest — тело POST-команд.
type CommandRequest struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// ListEventsOpts — параметры фильтрации событий.
type ListEventsOpts struct {
	NodeID    string
	Component string
	Kind      string
	Since     time.Time
	Limit     int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API деплойера.
type Client struct {
	baseURL     string
	requestedBy string
	httpClient  *http.Client
}

// NewClient создаёт клиент для API. requestedBy попадает в команды оператора.
func NewClient(baseURL, requestedBy string) *Client {
	return &Client{
		baseURL:     baseURL,
		requestedBy: requestedBy,
		httpClient: &http.Client{
			// Синхронный деплой длится минуты.
			Timeout: 30 * time.Minute,
		},
	}
}

// --- Fleet ---

// ListNodes возвращает состояние всех узлов.
func (c *Client) ListNodes() (*FleetNodesResponse, error) {
	var fleet FleetNodesResponse
	err := c.get("/api/v1/fleet/nodes", &fleet)
	return &fleet, err
}

// LastDeployment возвращает отчёт последнего деплоя.
func (c *Client) LastDeployment() (*DeploymentResponse, error) {
	var dep DeploymentResponse
	err := c.get("/api/v1/fleet/deployment", &dep)
	return &dep, err
}

// ListDeployments возвращает историю деплоев.
func (c *Client) ListDeployments(limit int) ([]DeploymentResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var deps []DeploymentResponse
	err := c.list("/api/v1/fleet/deployments", params, &deps)
	return deps, err
}

// Deploy запускает деплой флота. Если деплойер работает с очередью
// команд и wait=false, возвращается только подтверждение постановки.
func (c *Client) Deploy(wait bool) (*DeploymentResponse, *CommandResponse, error) {
	var dep DeploymentResponse
	queued, err := c.command("/api/v1/fleet/deploy", wait, &dep)
	if err != nil || queued != nil {
		return nil, queued, err
	}
	return &dep, nil, nil
}

// FleetHealth возвращает снимок здоровья флота.
func (c *Client) FleetHealth() (*FleetHealthResponse, error) {
	var health FleetHealthResponse
	err := c.get("/api/v1/fleet/health", &health)
	return &health, err
}

// --- Nodes ---

// GetNode возвращает состояние узла.
func (c *Client) GetNode(id string) (*NodeResponse, error) {
	var node NodeResponse
	err := c.get("/api/v1/nodes/"+url.PathEscape(id), &node)
	return &node, err
}

// RetryNode повторяет провижининг узла.
func (c *Client) RetryNode(id string, wait bool) (*RetryResponse, *CommandResponse, error) {
	var res RetryResponse
	queued, err := c.command("/api/v1/nodes/"+url.PathEscape(id)+"/retry", wait, &res)
	if err != nil || queued != nil {
		return nil, queued, err
	}
	return &res, nil, nil
}

// StopNode останавливает узел.
func (c *Client) StopNode(id string, wait bool) (*NodeResponse, *CommandResponse, error) {
	var node NodeResponse
	queued, err := c.command("/api/v1/nodes/"+url.PathEscape(id)+"/stop", wait, &node)
	if err != nil || queued != nil {
		return nil, queued, err
	}
	return &node, nil, nil
}

// Reconciliation возвращает запись guard узла.
func (c *Client) Reconciliation(id string) (*ReconciliationRecord, error) {
	var rec ReconciliationRecord
	err := c.get("/api/v1/nodes/"+url.PathEscape(id)+"/reconciliation", &rec)
	return &rec, err
}

// --- Events ---

// ListEvents возвращает события, новые первыми.
func (c *Client) ListEvents(opts ListEventsOpts) ([]EventResponse, error) {
	params := url.Values{}
	if opts.NodeID != "" {
		params.Set("node_id", opts.NodeID)
	}
	if opts.Component != "" {
		params.Set("component", opts.Component)
	}
	if opts.Kind != "" {
		params.Set("kind", opts.Kind)
	}
	if !opts.Since.IsZero() {
		params.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var evs []EventResponse
	err := c.list("/api/v1/events", params, &evs)
	return evs, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}
	return decodeData(resp.Body, result)
}

// command отправляет POST-команду. При 202 возвращает подтверждение
// постановки в очередь, иначе декодирует результат в result.
func (c *Client) command(path string, wait bool, result any) (*CommandResponse, error) {
	if wait {
		path += "?wait=true"
	}

	resp, err := c.do(http.MethodPost, path, CommandRequest{RequestedBy: c.requestedBy})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusAccepted {
		var queued CommandResponse
		if err := decodeData(resp.Body, &queued); err != nil {
			return nil, err
		}
		return &queued, nil
	}
	return nil, decodeData(resp.Body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func decodeData(r io.Reader, result any) error {
	var dr dataResponse
	if err := json.NewDecoder(r).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
