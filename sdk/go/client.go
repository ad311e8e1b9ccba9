package inspectlinesdk

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

// Client is a minimal Inspectline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Form represents the API form model.
type Form struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	TemplateID     string         `json:"template_id"`
	TemplateName   string         `json:"template_name"`
	MetaData       map[string]any `json:"meta_data,omitempty"`
	InspectionData map[string]any `json:"inspection_data,omitempty"`
	Status         string         `json:"status"`
	Creator        string         `json:"creator"`
	CreatorName    string         `json:"creator_name,omitempty"`
	CreatorEmail   string         `json:"creator_email,omitempty"`
	AssignedTo     *string        `json:"assigned_to,omitempty"`
	ReviewedBy     *string        `json:"reviewed_by,omitempty"`
	ReviewComment  *string        `json:"review_comment,omitempty"`
	SubmittedAt    *string        `json:"submitted_at,omitempty"`
	ReviewedAt     *string        `json:"reviewed_at,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// SaveFormInput carries the writable fields for Save.
type SaveFormInput struct {
	ID             string         `json:"id,omitempty"`
	Type           string         `json:"type"`
	TemplateID     string         `json:"template_id,omitempty"`
	TemplateName   string         `json:"template_name,omitempty"`
	MetaData       map[string]any `json:"meta_data,omitempty"`
	InspectionData map[string]any `json:"inspection_data,omitempty"`
	Status         string         `json:"status,omitempty"`
}

type formEnvelope struct {
	Success bool   `json:"success"`
	Data    Form   `json:"data"`
	Message string `json:"message,omitempty"`
}

// OperateResult reports a completed lifecycle transition.
type OperateResult struct {
	Form      Form   `json:"form"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Action    string `json:"action"`
}

type operateEnvelope struct {
	Success bool          `json:"success"`
	Data    OperateResult `json:"data"`
	Message string        `json:"message,omitempty"`
}

// Pagination describes 1-indexed list page arithmetic.
type Pagination struct {
	Current    int `json:"current"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// FormPage is a page of the forms listing.
type FormPage struct {
	Items      []Form     `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// ListFormsOptions filter the forms listing.
type ListFormsOptions struct {
	Status   string
	ViewMode string
	Page     int
	PageSize int
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// Me is the server-derived identity of the caller.
type Me struct {
	UID    string `json:"uid"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	Source string `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SaveForm creates or updates a form.
func (c *Client) SaveForm(ctx context.Context, input SaveFormInput) (Form, error) {
	var resp formEnvelope
	err := c.do(ctx, http.MethodPost, "v0/forms/save", input, &resp)
	return resp.Data, err
}

// Operate applies a lifecycle action (submit, approve, decline, assign).
func (c *Client) Operate(ctx context.Context, formID, action, comment string) (OperateResult, error) {
	body := map[string]any{"action": action}
	if comment != "" {
		body["comment"] = comment
	}
	var resp operateEnvelope
	endpoint := fmt.Sprintf("v0/forms/%s/operate", url.PathEscape(formID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Data, err
}

// GetForm fetches a form by id.
func (c *Client) GetForm(ctx context.Context, id string) (Form, error) {
	var resp Form
	endpoint := fmt.Sprintf("v0/forms/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListForms returns the page of forms visible to the caller.
func (c *Client) ListForms(ctx context.Context, opts ListFormsOptions) (FormPage, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.ViewMode != "" {
		q.Set("view_mode", opts.ViewMode)
	}
	if opts.Page > 0 {
		q.Set("page", fmt.Sprintf("%d", opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", fmt.Sprintf("%d", opts.PageSize))
	}
	endpoint := "v0/forms"
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var resp FormPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// FormEvents returns the event log for a form, newest first.
func (c *Client) FormEvents(ctx context.Context, formID string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/forms/%s/events", url.PathEscape(formID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Me returns the derived identity for the configured credentials.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
