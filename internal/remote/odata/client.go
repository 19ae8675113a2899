// Package odata talks to archives exposing an OData product/order API, as used by
// long-term archive services.
package odata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/remote"
)

// Statuses is the order vocabulary of the OData order API.
var Statuses = remote.StatusMap{
	"queued":      domain.JobStatusRunning,
	"in_progress": domain.JobStatusRunning,
	"completed":   domain.JobStatusCompleted,
	"failed":      domain.JobStatusFailed,
	"cancelled":   domain.JobStatusFailed,
}

// Config holds connection settings for an OData archive.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Token    string
	Timeout  time.Duration
}

// Client implements remote.Adapter over HTTP.
type Client struct {
	client *resty.Client
}

// New creates an OData adapter. Bearer auth is used when a token is set, basic auth otherwise.
func New(cfg Config) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	switch {
	case cfg.Token != "":
		client.SetAuthToken(cfg.Token)
	case cfg.Username != "":
		client.SetBasicAuth(cfg.Username, cfg.Password)
	}
	return &Client{client: client}
}

// Name returns the adapter kind.
func (c *Client) Name() string { return "odata" }

// Close is a no-op; the HTTP client holds no long lived resources.
func (c *Client) Close() error { return nil }

type product struct {
	ID            string `json:"Id"`
	Name          string `json:"Name"`
	ContentLength int64  `json:"ContentLength"`
	Online        bool   `json:"Online"`
}

type productList struct {
	Value []product `json:"value"`
}

type order struct {
	ID                string     `json:"Id"`
	Status            string     `json:"Status"`
	StatusMessage     string     `json:"StatusMessage"`
	EstimatedDate     *time.Time `json:"EstimatedDate"`
	SubmissionDate    *time.Time `json:"SubmissionDate"`
	CompletedDate     *time.Time `json:"CompletedDate"`
	ProductIdentifier string     `json:"ProductId"`
}

type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *odataError) describe(resp *resty.Response) string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return fmt.Sprintf("status %d", resp.StatusCode())
}

// Submit looks the product up by name. Online products are reported as available;
// otherwise a retrieval order is placed.
func (c *Client) Submit(ctx context.Context, req remote.SubmitRequest) (*remote.JobHandle, error) {
	p, err := c.lookup(ctx, req.RemoteID)
	if err != nil {
		return nil, err
	}
	if p.Online {
		return &remote.JobHandle{
			RemoteID:  p.ID,
			Status:    domain.JobStatusRunning,
			Message:   "product online",
			Available: true,
		}, nil
	}

	var o order
	var apiErr odataError
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{}).
		SetResult(&o).
		SetError(&apiErr).
		Post(fmt.Sprintf("/Products(%s)/OData.CSC.Order", p.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to submit order: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("order rejected: %s", apiErr.describe(resp))
	}
	if o.ID == "" {
		return nil, fmt.Errorf("order response has no id")
	}
	return c.handle(&o, p.ID), nil
}

func (c *Client) lookup(ctx context.Context, name string) (*product, error) {
	var list productList
	var apiErr odataError
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("$filter", fmt.Sprintf("Name eq '%s'", strings.ReplaceAll(name, "'", "''"))).
		SetResult(&list).
		SetError(&apiErr).
		Get("/Products")
	if err != nil {
		return nil, fmt.Errorf("failed to look up product: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("product lookup failed: %s", apiErr.describe(resp))
	}
	if len(list.Value) == 0 {
		return nil, fmt.Errorf("product %s not found on remote", name)
	}
	return &list.Value[0], nil
}

// PollStatus fetches an order and translates its status.
func (c *Client) PollStatus(ctx context.Context, jobID string) (*remote.JobHandle, error) {
	var o order
	var apiErr odataError
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&o).
		SetError(&apiErr).
		Get(fmt.Sprintf("/Orders(%s)", jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to poll order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return &remote.JobHandle{JobID: jobID, Status: domain.JobStatusFailed, Message: "order unknown to remote"}, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("order poll failed: %s", apiErr.describe(resp))
	}
	return c.handle(&o, o.ProductIdentifier), nil
}

func (c *Client) handle(o *order, productID string) *remote.JobHandle {
	status, note := Statuses.Translate(o.Status)
	msg := o.StatusMessage
	if note != "" {
		msg = note
	}
	return &remote.JobHandle{
		JobID:               o.ID,
		RemoteID:            productID,
		Status:              status,
		EstimatedCompletion: o.EstimatedDate,
		Message:             msg,
	}
}

// Download streams the product of a completed order, or of an online product when no
// order was needed.
func (c *Client) Download(ctx context.Context, job *remote.JobHandle) (io.ReadCloser, int64, error) {
	var path string
	switch {
	case job.JobID != "":
		path = fmt.Sprintf("/Orders(%s)/Product/$value", job.JobID)
	case job.RemoteID != "":
		path = fmt.Sprintf("/Products(%s)/$value", job.RemoteID)
	default:
		return nil, 0, fmt.Errorf("job handle has neither order nor product id")
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "application/octet-stream").
		Get(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open download: %w", err)
	}
	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		body.Close()
		return nil, 0, fmt.Errorf("download failed: status %d", resp.StatusCode())
	}
	return body, resp.RawResponse.ContentLength, nil
}

var _ remote.Adapter = (*Client)(nil)
