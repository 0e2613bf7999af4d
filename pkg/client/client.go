// Package client provides a Go client for the lattice HTTP API.
//
// It covers item ingestion (routed or into a given node), node management
// (create, inspect, compress, link), search and routing, maintenance and
// statistics. Errors returned by the server surface as *APIError.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sanonone/lattice/pkg/lattice"
	"github.com/sanonone/lattice/pkg/node"
)

// APIError represents an error returned by the API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Item is an item to store.
type Item struct {
	ID        string          `json:"id,omitempty"`
	Embedding []float64       `json:"embedding"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Score     *float64        `json:"score,omitempty"`
}

// Task represents an asynchronous operation on the server.
type Task struct {
	ID     string          `json:"id"`
	Kind   string          `json:"kind"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	client *Client
}

// Client talks to one lattice server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for baseURL (e.g. "http://localhost:9191"). token may
// be empty when the server runs without authentication.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// jsonRequest executes a request against the API. It handles JSON
// serialization, authentication and error decoding.
func (c *Client) jsonRequest(method, endpoint string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("invalid JSON response for %s %s: %w", method, endpoint, err)
	}
	return nil
}

// Health reports whether the server answers /healthz.
func (c *Client) Health() error {
	return c.jsonRequest(http.MethodGet, "/healthz", nil, nil)
}

// --- Items ---

// AddItem stores item in the best matching node and returns its id.
func (c *Client) AddItem(item Item) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.jsonRequest(http.MethodPost, "/items", item, &resp)
	return resp.ID, err
}

// AddItemToNode stores item in the given node.
func (c *Client) AddItemToNode(nodeID string, item Item) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.jsonRequest(http.MethodPost, "/nodes/"+url.PathEscape(nodeID)+"/items", item, &resp)
	return resp.ID, err
}

// --- Nodes ---

// CreateNode creates an empty node and returns its id.
func (c *Client) CreateNode() (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.jsonRequest(http.MethodPost, "/nodes", nil, &resp)
	return resp.ID, err
}

// ListNodes returns the status of every live node.
func (c *Client) ListNodes() ([]lattice.NodeStatus, error) {
	var resp struct {
		Nodes []lattice.NodeStatus `json:"nodes"`
	}
	err := c.jsonRequest(http.MethodGet, "/nodes", nil, &resp)
	return resp.Nodes, err
}

// GetNode returns the metadata of one node.
func (c *Client) GetNode(nodeID string) (*node.Meta, error) {
	var meta node.Meta
	if err := c.jsonRequest(http.MethodGet, "/nodes/"+url.PathEscape(nodeID), nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Compress attempts compression of a node. A nil threshold uses the server's
// configured one.
func (c *Client) Compress(nodeID string, threshold *float64) (*node.CompressResult, error) {
	body := struct {
		Threshold *float64 `json:"threshold,omitempty"`
	}{threshold}
	var res node.CompressResult
	if err := c.jsonRequest(http.MethodPost, "/nodes/"+url.PathEscape(nodeID)+"/compress", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AddSemanticLink upserts a weighted edge from one node to another.
func (c *Client) AddSemanticLink(from, to string, weight float64) error {
	body := map[string]any{"target": to, "weight": weight}
	return c.jsonRequest(http.MethodPost, "/nodes/"+url.PathEscape(from)+"/links/semantic", body, nil)
}

// AddTemporalLink records a co-occurrence of two nodes.
func (c *Client) AddTemporalLink(from, to string) error {
	body := map[string]any{"target": to}
	return c.jsonRequest(http.MethodPost, "/nodes/"+url.PathEscape(from)+"/links/temporal", body, nil)
}

// Neighbors returns the semantic neighbors of a node with weight >= minWeight.
func (c *Client) Neighbors(nodeID string, minWeight float64) ([]node.Neighbor, error) {
	endpoint := "/nodes/" + url.PathEscape(nodeID) + "/neighbors?min_weight=" + strconv.FormatFloat(minWeight, 'f', -1, 64)
	var resp struct {
		Neighbors []node.Neighbor `json:"neighbors"`
	}
	err := c.jsonRequest(http.MethodGet, endpoint, nil, &resp)
	return resp.Neighbors, err
}

// --- Queries ---

type searchRequest struct {
	Embedding []float64 `json:"embedding"`
	TopK      int       `json:"top_k,omitempty"`
}

// Search returns the topK best items for query (topK <= 0 uses the server
// default).
func (c *Client) Search(query []float64, topK int) ([]lattice.Hit, error) {
	var resp struct {
		Results []lattice.Hit `json:"results"`
	}
	err := c.jsonRequest(http.MethodPost, "/search", searchRequest{query, topK}, &resp)
	return resp.Results, err
}

// Route returns the topK nodes whose centroids best match query.
func (c *Client) Route(query []float64, topK int) ([]lattice.Route, error) {
	var resp struct {
		Routes []lattice.Route `json:"routes"`
	}
	err := c.jsonRequest(http.MethodPost, "/route", searchRequest{query, topK}, &resp)
	return resp.Routes, err
}

// --- Administration ---

// Stats returns the lattice totals.
func (c *Client) Stats() (*lattice.Stats, error) {
	var st lattice.Stats
	if err := c.jsonRequest(http.MethodGet, "/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Maintenance runs one maintenance tick synchronously.
func (c *Client) Maintenance() (*lattice.MaintenanceReport, error) {
	var report lattice.MaintenanceReport
	if err := c.jsonRequest(http.MethodPost, "/maintenance", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// MaintenanceAsync starts a maintenance tick in the background and returns
// its Task.
func (c *Client) MaintenanceAsync() (*Task, error) {
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := c.jsonRequest(http.MethodPost, "/maintenance?async=true", nil, &resp); err != nil {
		return nil, err
	}
	return &Task{ID: resp.TaskID, Status: "started", client: c}, nil
}

// GetTaskStatus retrieves the status of a long-running task.
func (c *Client) GetTaskStatus(taskID string) (*Task, error) {
	var task Task
	if err := c.jsonRequest(http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return nil, err
	}
	task.client = c
	return &task, nil
}

// Refresh updates the task's status by querying the server.
func (t *Task) Refresh() error {
	if t.client == nil {
		return fmt.Errorf("client is not associated with the task")
	}
	updated, err := t.client.GetTaskStatus(t.ID)
	if err != nil {
		return err
	}
	t.Kind = updated.Kind
	t.Status = updated.Status
	t.Result = updated.Result
	t.Error = updated.Error
	return nil
}

// Wait blocks until the task is completed, checking its status at regular intervals.
func (t *Task) Wait(interval, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return fmt.Errorf("timeout exceeded while waiting for task %s", t.ID)
		case <-ticker.C:
			if err := t.Refresh(); err != nil {
				return err
			}
			switch t.Status {
			case "completed":
				return nil
			case "failed":
				return fmt.Errorf("task %s failed with error: %s", t.ID, t.Error)
			case "running", "started":
			default:
				return fmt.Errorf("unknown task status: %s", t.Status)
			}
		}
	}
}
