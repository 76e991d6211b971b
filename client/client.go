// Package client talks to the Task Collaborator over its JSON REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskmaster/board"
	"taskmaster/domain"
)

const (
	tracerName = "taskmaster/client"
	// IdempotencyHeader carries the client generated key of a create call.
	IdempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 4 << 10
)

var (
	_ board.Collaborator = (*Client)(nil)
	_ board.ChangeFeed   = (*Client)(nil)
)

// Client wraps http.Client with the collaborator calls.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
	Logger  *log.Logger
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{},
		Logger:  log.StandardLogger(),
	}
}

// FetchAll returns every task visible to the caller. Records that fail to
// decode, e.g. with an unknown status, are skipped and logged.
func (c *Client) FetchAll(ctx context.Context) ([]domain.Task, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, "fetch tasks", http.MethodGet, "/tasks", nil, nil, &raw); err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(raw))
	for i, r := range raw {
		var t domain.Task
		if err := sonic.ConfigStd.Unmarshal(r, &t); err != nil {
			c.logger().WithFields(log.Fields{"index": i}).WithError(err).Warn("skipping invalid task record")
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (c *Client) Get(ctx context.Context, id int64) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "get task", http.MethodGet, taskPath(id, ""), nil, nil, &t)
	return t, err
}

func (c *Client) Update(ctx context.Context, id int64, u domain.TaskUpdate) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "update task", http.MethodPut, taskPath(id, ""), u, nil, &t)
	return t, err
}

// Create sends a new task with a fresh idempotency key, so a retried request
// is not applied twice.
func (c *Client) Create(ctx context.Context, in domain.TaskCreate) (domain.Task, error) {
	return c.CreateWithKey(ctx, uuid.NewString(), in)
}

func (c *Client) CreateWithKey(ctx context.Context, key string, in domain.TaskCreate) (domain.Task, error) {
	var t domain.Task
	hdr := http.Header{}
	hdr.Set(IdempotencyHeader, key)
	err := c.do(ctx, "create task", http.MethodPost, "/tasks", in, hdr, &t)
	return t, err
}

func (c *Client) Cancel(ctx context.Context, id int64, reason string) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "cancel task", http.MethodPost, taskPath(id, "/cancel"), domain.CancelRequest{Reason: reason}, nil, &t)
	return t, err
}

func (c *Client) Assign(ctx context.Context, id, userID int64) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "assign user", http.MethodPost, taskPath(id, "/assign"), domain.AssignRequest{UserID: userID}, nil, &t)
	return t, err
}

func (c *Client) AssignMany(ctx context.Context, id int64, userIDs []int64) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "assign users", http.MethodPost, taskPath(id, "/assign-multiple"), domain.AssignManyRequest{UserIDs: userIDs}, nil, &t)
	return t, err
}

func (c *Client) Unassign(ctx context.Context, id, userID int64) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "unassign user", http.MethodPost, taskPath(id, "/unassign"), domain.AssignRequest{UserID: userID}, nil, &t)
	return t, err
}

func (c *Client) AddChecklistItem(ctx context.Context, id int64, item domain.ChecklistItem) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "add checklist item", http.MethodPost, taskPath(id, "/checklist/add"), item, nil, &t)
	return t, err
}

func (c *Client) UpdateChecklistItem(ctx context.Context, id int64, index int, text *string, completed *bool) (domain.Task, error) {
	var t domain.Task
	body := domain.ChecklistUpdateRequest{Index: index, Text: text, Completed: completed}
	err := c.do(ctx, "update checklist item", http.MethodPut, taskPath(id, "/checklist/update"), body, nil, &t)
	return t, err
}

func (c *Client) RemoveChecklistItem(ctx context.Context, id int64, index int) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "remove checklist item", http.MethodDelete, taskPath(id, "/checklist/remove"), domain.ChecklistRemoveRequest{Index: index}, nil, &t)
	return t, err
}

func taskPath(id int64, suffix string) string {
	return "/tasks/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) logger() *log.Logger {
	if c.Logger == nil {
		return log.StandardLogger()
	}
	return c.Logger
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	return req, nil
}

// do sends one JSON request inside a client span and decodes a 2xx response
// into out.
func (c *Client) do(ctx context.Context, op, method, path string, body any, hdr http.Header, out any) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "collaborator."+strings.ReplaceAll(op, " ", "_"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.target", path),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	var rdr io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return &RequestError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		rdr = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, rdr)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger().WithFields(log.Fields{
			"op":     op,
			"status": resp.StatusCode,
			"path":   path,
		}).Debug("collaborator call rejected")
		return &RequestError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
