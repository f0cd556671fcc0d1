package solardesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal SolarDesk HTTP API client.
type Client struct {
	BaseURL    string
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

// Task represents the API task model.
type Task struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customer_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Deadline     time.Time `json:"deadline"`
	Priority     string    `json:"priority"`
	CustomerName string    `json:"customer_name"`
	IsOverdue    bool      `json:"is_overdue"`
	DaysOverdue  *int      `json:"days_overdue,omitempty"`
	Stage        string    `json:"stage"`
}

// Document is uploaded document metadata.
type Document struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploaded_at"`
	URL        string `json:"url"`
}

type TimelineEvent struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// Customer represents the API customer model.
type Customer struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	Email        string          `json:"email"`
	Address      string          `json:"address"`
	SystemType   string          `json:"system_type"`
	KWSize       float64         `json:"kw_size"`
	PanelCompany string          `json:"panel_company"`
	Stage        string          `json:"stage"`
	Notes        string          `json:"notes"`
	Tasks        []Task          `json:"tasks"`
	Documents    []Document      `json:"documents"`
	Timeline     []TimelineEvent `json:"timeline"`
}

// Filters narrows customer listings and the dashboard.
type Filters struct {
	PanelCompany string
	MinKW        *float64
	MaxKW        *float64
	Stage        string
}

func (f Filters) values() url.Values {
	v := url.Values{}
	if f.PanelCompany != "" {
		v.Set("panel_company", f.PanelCompany)
	}
	if f.MinKW != nil {
		v.Set("min_kw", strconv.FormatFloat(*f.MinKW, 'f', -1, 64))
	}
	if f.MaxKW != nil {
		v.Set("max_kw", strconv.FormatFloat(*f.MaxKW, 'f', -1, 64))
	}
	if f.Stage != "" {
		v.Set("stage", f.Stage)
	}
	return v
}

type Stats struct {
	TotalCustomers         int     `json:"total_customers"`
	CompletedInstallations int     `json:"completed_installations"`
	PendingKSEB            int     `json:"pending_kseb"`
	PendingMNRE            int     `json:"pending_mnre"`
	TotalKW                float64 `json:"total_kw"`
}

type Report struct {
	Stats
	AvgSystemSize float64 `json:"avg_system_size"`
}

type Dashboard struct {
	Stats             Stats  `json:"stats"`
	TodayTasks        []Task `json:"today_tasks"`
	OverdueTasks      []Task `json:"overdue_tasks"`
	HighPriorityTasks []Task `json:"high_priority_tasks"`
	ActiveFilters     []struct {
		Key   string `json:"key"`
		Label string `json:"label"`
	} `json:"active_filters"`
}

// NotificationStatus reports the deadline scheduler state.
type NotificationStatus struct {
	State     string     `json:"state"`
	Consent   string     `json:"consent"`
	Interval  string     `json:"interval"`
	Lookahead string     `json:"lookahead"`
	Notified  int        `json:"notified"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
}

// CycleResult summarises an on-demand deadline check.
type CycleResult struct {
	Evaluated int `json:"evaluated"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Customers lists customers matching filters and an optional search query.
func (c *Client) Customers(ctx context.Context, f Filters, query string) ([]Customer, error) {
	v := f.values()
	if query != "" {
		v.Set("q", query)
	}
	var resp struct {
		Items []Customer `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/customers", v), nil, &resp)
	return resp.Items, err
}

// Customer fetches one customer with tasks, documents and timeline.
func (c *Client) Customer(ctx context.Context, id string) (Customer, error) {
	var resp Customer
	err := c.do(ctx, http.MethodGet, "v0/customers/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreateCustomer creates a customer. Stage defaults server-side.
func (c *Client) CreateCustomer(ctx context.Context, in Customer) (Customer, error) {
	body := map[string]any{
		"name":          in.Name,
		"phone":         in.Phone,
		"email":         in.Email,
		"address":       in.Address,
		"system_type":   in.SystemType,
		"kw_size":       in.KWSize,
		"panel_company": in.PanelCompany,
		"stage":         in.Stage,
		"notes":         in.Notes,
	}
	var resp Customer
	err := c.do(ctx, http.MethodPost, "v0/customers", body, &resp)
	return resp, err
}

// SetStage moves a customer to another stage.
func (c *Client) SetStage(ctx context.Context, id, stage string) (Customer, error) {
	var resp Customer
	err := c.do(ctx, http.MethodPatch, "v0/customers/"+url.PathEscape(id)+"/stage", map[string]any{"stage": stage}, &resp)
	return resp, err
}

// Tasks lists tasks ordered by sortKey ("deadline" or "priority").
func (c *Client) Tasks(ctx context.Context, sortKey string) ([]Task, error) {
	v := url.Values{}
	if sortKey != "" {
		v.Set("sort", sortKey)
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/tasks", v), nil, &resp)
	return resp.Items, err
}

func (c *Client) Dashboard(ctx context.Context, f Filters) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, withQuery("v0/dashboard", f.values()), nil, &resp)
	return resp, err
}

func (c *Client) Reports(ctx context.Context) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "v0/reports", nil, &resp)
	return resp, err
}

// Search runs the global customer search.
func (c *Client) Search(ctx context.Context, query string) ([]Customer, error) {
	var resp struct {
		Items []Customer `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/search", url.Values{"q": {query}}), nil, &resp)
	return resp.Items, err
}

// NotificationStatus returns the deadline scheduler status.
func (c *Client) NotificationStatus(ctx context.Context) (NotificationStatus, error) {
	var resp NotificationStatus
	err := c.do(ctx, http.MethodGet, "v0/notifications", nil, &resp)
	return resp, err
}

// SetConsent records a consent decision: granted, denied or dismissed.
func (c *Client) SetConsent(ctx context.Context, decision string) (NotificationStatus, error) {
	var resp NotificationStatus
	err := c.do(ctx, http.MethodPut, "v0/notifications/consent", map[string]any{"decision": decision}, &resp)
	return resp, err
}

// CheckDeadlines runs one scheduler cycle on the server.
func (c *Client) CheckDeadlines(ctx context.Context) (CycleResult, error) {
	var resp CycleResult
	err := c.do(ctx, http.MethodPost, "v0/notifications/check", nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/events", v), nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, v url.Values) string {
	if len(v) == 0 {
		return endpoint
	}
	return endpoint + "?" + v.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
