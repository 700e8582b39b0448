package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/types"
)

const (
	// DefaultPollTimeout is how long the server may hold a poll open
	DefaultPollTimeout = 30 * time.Second

	// DefaultRetryCount bounds retries of status and report uploads
	DefaultRetryCount = 3

	// DefaultRetryWait is the fixed wait between upload retries
	DefaultRetryWait = 2 * time.Second

	// DefaultPollGrace is added to the poll window to bound a poll
	// request, so a server that never answers surfaces as a transport
	// error instead of stalling the agent
	DefaultPollGrace = 15 * time.Second

	// DefaultRequestTimeout bounds every other request
	DefaultRequestTimeout = 30 * time.Second
)

// Client talks to the coordination server on behalf of one host
type Client struct {
	hostname    string
	pollTimeout time.Duration
	pollGrace   time.Duration

	// poller carries no retries; the agent loop owns poll backoff
	poller *resty.Client
	sender *resty.Client

	// streamer has no timeout, event streams stay open
	streamer *resty.Client
}

// Option configures a Client
type Option func(*Client)

// WithPollTimeout sets the long-poll window requested from the server
func WithPollTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithPollGrace sets how long past the poll window a poll may take
// before it is abandoned
func WithPollGrace(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollGrace = d
		}
	}
}

// WithRetry overrides the upload retry policy
func WithRetry(count int, wait time.Duration) Option {
	return func(c *Client) {
		c.sender.SetRetryCount(count).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(wait)
	}
}

// commandResponse is the body of a delivered command
type commandResponse struct {
	Command types.Command `json:"command"`
}

// apiError is the body the server sends on failure
type apiError struct {
	Error string `json:"error"`
}

// NewClient creates a client for serverURL acting as hostname
func NewClient(serverURL, hostname string, opts ...Option) *Client {
	c := &Client{
		hostname:    hostname,
		pollTimeout: DefaultPollTimeout,
		pollGrace:   DefaultPollGrace,
		poller: resty.New().
			SetBaseURL(serverURL).
			SetHeader("Content-Type", "application/json"),
		streamer: resty.New().
			SetBaseURL(serverURL),
		sender: resty.New().
			SetBaseURL(serverURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(DefaultRequestTimeout).
			SetRetryCount(DefaultRetryCount).
			SetRetryWaitTime(DefaultRetryWait).
			SetRetryMaxWaitTime(DefaultRetryWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
			}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.poller.SetTimeout(c.pollTimeout + c.pollGrace)
	return c
}

// Hostname returns the host this client reports as
func (c *Client) Hostname() string {
	return c.hostname
}

// Poll blocks until the server delivers a command or the poll window
// lapses, in which case it returns types.CommandTimeout
func (c *Client) Poll(ctx context.Context) (types.Command, error) {
	var body commandResponse
	resp, err := c.poller.R().
		SetContext(ctx).
		SetQueryParam("timeout", strconv.Itoa(int(c.pollTimeout/time.Second))).
		SetResult(&body).
		SetError(&apiError{}).
		Get("/api/v1/agents/" + url.PathEscape(c.hostname) + "/command")
	if err != nil {
		return "", &types.TransportError{Op: "poll", Err: err}
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		if !body.Command.Valid() {
			return "", &types.TransportError{Op: "poll", Err: fmt.Errorf("unknown command %q", body.Command)}
		}
		return body.Command, nil
	case http.StatusNoContent, http.StatusRequestTimeout:
		return types.CommandTimeout, nil
	default:
		return "", &types.TransportError{Op: "poll", Err: statusError(resp)}
	}
}

// SendStatus posts a control-loop state transition
func (c *Client) SendStatus(ctx context.Context, status types.AgentStatus) error {
	update := types.StatusUpdate{
		Hostname: c.hostname,
		Date:     time.Now().UTC(),
		Status:   status,
	}
	return c.post(ctx, "status", "/api/v1/status", update)
}

// SendReport posts a deployment report carrying an encoded snapshot
func (c *Client) SendReport(ctx context.Context, reason types.ReportReason, content string) error {
	report := types.Report{
		Hostname: c.hostname,
		Date:     time.Now().UTC(),
		Reason:   reason,
		Content:  content,
	}
	return c.post(ctx, "report", "/api/v1/reports", report)
}

// Enqueue queues a command for host. Used by operators, not agents.
func (c *Client) Enqueue(ctx context.Context, host string, cmd types.Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("invalid command %q", cmd)
	}
	return c.post(ctx, "enqueue", "/api/v1/agents/"+url.PathEscape(host)+"/command", commandResponse{Command: cmd})
}

// ListAgents returns the latest status of every host the server knows
func (c *Client) ListAgents(ctx context.Context) ([]types.StatusUpdate, error) {
	var agents []types.StatusUpdate
	resp, err := c.sender.R().
		SetContext(ctx).
		SetResult(&agents).
		SetError(&apiError{}).
		Get("/api/v1/agents")
	if err != nil {
		return nil, &types.TransportError{Op: "list agents", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &types.TransportError{Op: "list agents", Err: statusError(resp)}
	}
	return agents, nil
}

// ListReports returns the stored reports of host, newest first
func (c *Client) ListReports(ctx context.Context, host string) ([]types.Report, error) {
	var reports []types.Report
	resp, err := c.sender.R().
		SetContext(ctx).
		SetResult(&reports).
		SetError(&apiError{}).
		Get("/api/v1/agents/" + url.PathEscape(host) + "/reports")
	if err != nil {
		return nil, &types.TransportError{Op: "list reports", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &types.TransportError{Op: "list reports", Err: statusError(resp)}
	}
	return reports, nil
}

// Events follows the server event stream, calling fn for every event,
// until ctx is cancelled or the server ends the stream. An empty host
// follows every host.
func (c *Client) Events(ctx context.Context, host string, fn func(events.Event)) error {
	req := c.streamer.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if host != "" {
		req.SetQueryParam("host", host)
	}
	resp, err := req.Get("/api/v1/events")
	if err != nil {
		return &types.TransportError{Op: "events", Err: err}
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return &types.TransportError{Op: "events", Err: fmt.Errorf("server responded %d", resp.StatusCode())}
	}

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		var ev events.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return &types.TransportError{Op: "events", Err: fmt.Errorf("decode event: %w", err)}
		}
		fn(ev)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return &types.TransportError{Op: "events", Err: err}
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, body interface{}) error {
	resp, err := c.sender.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&apiError{}).
		Post(path)
	if err != nil {
		return &types.TransportError{Op: op, Err: err}
	}
	if resp.IsError() {
		return &types.TransportError{Op: op, Err: statusError(resp)}
	}
	return nil
}

func statusError(resp *resty.Response) error {
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		return fmt.Errorf("server responded %d: %s", resp.StatusCode(), e.Error)
	}
	return fmt.Errorf("server responded %d", resp.StatusCode())
}
