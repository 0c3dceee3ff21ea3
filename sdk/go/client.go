package courierlinesdk

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

// Client is a minimal Courierline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API prefix, e.g. http://host:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API delivery task model (partial).
type Task struct {
	ID             int64   `json:"id"`
	BranchID       int64   `json:"branch_id"`
	ProductID      *int64  `json:"product_id,omitempty"`
	ShipmentID     *int64  `json:"shipment_id,omitempty"`
	DeliveryUserID *int64  `json:"delivery_user_id,omitempty"`
	Priority       string  `json:"priority"`
	Status         string  `json:"status"`
	ScheduledDate  string  `json:"scheduled_date,omitempty"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

type TaskHistory struct {
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	CreatedBy int64  `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

// Assignment is the body of a single or batch assignment.
// Set ProductID or ShipmentID for AssignTask; ProductIDs/ShipmentIDs for BatchAssign.
type Assignment struct {
	DeliveryUserID int64   `json:"delivery_user_id"`
	ProductID      int64   `json:"product_id,omitempty"`
	ShipmentID     int64   `json:"shipment_id,omitempty"`
	ProductIDs     []int64 `json:"product_ids,omitempty"`
	ShipmentIDs    []int64 `json:"shipment_ids,omitempty"`
	LocationID     int64   `json:"location_id,omitempty"`
	Priority       string  `json:"priority,omitempty"`
	ScheduledDate  string  `json:"scheduled_date,omitempty"`
	Instructions   string  `json:"instructions,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

type TaskQuery struct {
	Statuses       []string
	Priority       string
	DeliveryUserID int64
	Limit          int
	Cursor         string
}

type TaskPage struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Tracking is the public view of a shipment.
type Tracking struct {
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
	RecipientName  string `json:"recipient_name"`
	UpdatedAt      string `json:"updated_at"`
	History        []struct {
		Status    string `json:"status"`
		Location  string `json:"location,omitempty"`
		Notes     string `json:"notes,omitempty"`
		CreatedAt string `json:"created_at"`
	} `json:"history"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// AssignTask assigns one product or shipment to a delivery user.
func (c *Client) AssignTask(ctx context.Context, a Assignment) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", a, &resp)
	return resp, err
}

// BatchAssign creates one task per product and shipment, all or nothing.
func (c *Client) BatchAssign(ctx context.Context, a Assignment) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodPost, "tasks/batch", a, &resp)
	return resp.Tasks, err
}

func (c *Client) UpdateTaskStatus(ctx context.Context, taskID int64, status, notes string) (Task, error) {
	var resp Task
	body := map[string]string{"status": status}
	if notes != "" {
		body["notes"] = notes
	}
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%d/status", taskID), body, &resp)
	return resp, err
}

// ListTasks returns one page of tasks, most urgent first.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) (TaskPage, error) {
	v := url.Values{}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.Priority != "" {
		v.Set("priority", q.Priority)
	}
	if q.DeliveryUserID > 0 {
		v.Set("delivery_user_id", fmt.Sprint(q.DeliveryUserID))
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	endpoint := "tasks"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) TaskHistory(ctx context.Context, taskID int64) ([]TaskHistory, error) {
	var resp []TaskHistory
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d/history", taskID), nil, &resp)
	return resp, err
}

// Track looks up a shipment by tracking number. No credentials are needed.
func (c *Client) Track(ctx context.Context, trackingNumber string) (Tracking, error) {
	var resp Tracking
	err := c.do(ctx, http.MethodGet, "track/"+url.PathEscape(trackingNumber), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
