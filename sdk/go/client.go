package proclinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal procline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set; servers
	// only accept it with legacy actor headers enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Process represents the API process model.
type Process struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Stage struct {
	ID         string `json:"id"`
	ProcessID  string `json:"process_id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Steps      []Step `json:"steps,omitempty"`
}

type Step struct {
	ID         string  `json:"id"`
	StageID    string  `json:"stage_id"`
	Name       string  `json:"name"`
	OrderIndex int     `json:"order_index"`
	Status     string  `json:"status"`
	Progress   int     `json:"progress"`
	Fields     []Field `json:"fields,omitempty"`
}

type Field struct {
	ID              string   `json:"id"`
	StepID          string   `json:"step_id"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Status          string   `json:"status"`
	OrderIndex      int      `json:"order_index"`
	Content         string   `json:"content,omitempty"`
	DossierFieldIDs []string `json:"dossier_field_ids,omitempty"`
	TaskID          string   `json:"task_id,omitempty"`
	TaskStatus      string   `json:"task_status,omitempty"`
	Items           []Item   `json:"items,omitempty"`
	// Done is only set on fields read through Tree.
	Done *bool `json:"done,omitempty"`
}

// Item is an entry of a task_list field.
type Item struct {
	ID         string `json:"id"`
	FieldID    string `json:"field_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	OrderIndex int    `json:"order_index"`
}

type Tree struct {
	Process Process `json:"process"`
	Stages  []Stage `json:"stages"`
}

// State is a status/progress pair reported by a cascade.
type State struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// Cascade reports the aggregates recomputed after a change.
type Cascade struct {
	FieldID   string   `json:"field_id,omitempty"`
	StepID    string   `json:"step_id,omitempty"`
	StageID   string   `json:"stage_id,omitempty"`
	ProcessID string   `json:"process_id,omitempty"`
	Step      State    `json:"step"`
	Stage     State    `json:"stage"`
	Process   State    `json:"process"`
	Persisted []string `json:"persisted"`
}

// Change is the result of a field mutation.
type Change struct {
	Field      Field     `json:"field"`
	Cascade    Cascade   `json:"cascade"`
	Dependents []Cascade `json:"dependents,omitempty"`
}

// Call is one step of a drag commit plan.
type Call struct {
	Op          string   `json:"op"`
	Kind        string   `json:"kind"`
	ItemID      string   `json:"item_id,omitempty"`
	From        string   `json:"from,omitempty"`
	ContainerID string   `json:"container_id"`
	OrderedIDs  []string `json:"ordered_ids"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProcessID  string         `json:"process_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code is the machine readable code of the
// error envelope when the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateProcess creates a process, seeding unless active is set.
func (c *Client) CreateProcess(ctx context.Context, name string, active bool) (Process, error) {
	body := map[string]any{"name": name, "active": active}
	var resp Process
	err := c.do(ctx, http.MethodPost, "processes", body, &resp)
	return resp, err
}

// ActivateProcess ends seeding.
func (c *Client) ActivateProcess(ctx context.Context, processID string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("processes/%s/activate", url.PathEscape(processID)), nil, &resp)
	return resp, err
}

func (c *Client) AddStage(ctx context.Context, processID, name string) (Stage, error) {
	var resp Stage
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("processes/%s/stages", url.PathEscape(processID)), map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) AddStep(ctx context.Context, stageID, name string) (Step, error) {
	var resp Step
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("stages/%s/steps", url.PathEscape(stageID)), map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) AddField(ctx context.Context, stepID, name, fieldType string) (Field, error) {
	var resp Field
	body := map[string]any{"name": name, "type": fieldType}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("steps/%s/fields", url.PathEscape(stepID)), body, &resp)
	return resp, err
}

// SetFieldStatus closes, reopens or skips a field.
func (c *Client) SetFieldStatus(ctx context.Context, fieldID, status string) (Change, error) {
	var resp Change
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("fields/%s/status", url.PathEscape(fieldID)), map[string]any{"status": status}, &resp)
	return resp, err
}

// SetDossierFields replaces the fields a dossier aggregates.
func (c *Client) SetDossierFields(ctx context.Context, fieldID string, refs []string) (Change, error) {
	var resp Change
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("fields/%s/dossier", url.PathEscape(fieldID)), map[string]any{"field_ids": refs}, &resp)
	return resp, err
}

// Tree returns the full process tree.
func (c *Client) Tree(ctx context.Context, processID string) (Tree, error) {
	var resp Tree
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("processes/%s/tree", url.PathEscape(processID)), nil, &resp)
	return resp, err
}

// Reorder rewrites the order of the kind items held by containerID.
func (c *Client) Reorder(ctx context.Context, kind, containerID string, orderedIDs []string) (Tree, error) {
	var resp Tree
	endpoint := fmt.Sprintf("containers/%s/%s/reorder", url.PathEscape(kind), url.PathEscape(containerID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"ordered_ids": orderedIDs}, &resp)
	return resp, err
}

// Commit persists a drag plan computed by a client.
func (c *Client) Commit(ctx context.Context, processID string, calls []Call) (Tree, error) {
	var resp Tree
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("processes/%s/commit", url.PathEscape(processID)), map[string]any{"calls": calls}, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, processID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := fmt.Sprintf("processes/%s/events", url.PathEscape(processID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
