// Package client talks to the remote Query Service over HTTP.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"recordscope/internal/interfaces"
	"recordscope/internal/types"
)

// RequestIDHeader carries a per-call correlation id
const RequestIDHeader = "X-Request-ID"

// Client implements interfaces.QueryService with resty
type Client struct {
	http *resty.Client
}

var _ interfaces.QueryService = (*Client)(nil)

// New creates a client for the service at baseURL. The timeout bounds every call.
func New(baseURL string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		rc.SetTimeout(timeout)
	}
	return NewWithResty(rc)
}

// NewWithResty wraps an existing resty client
func NewWithResty(rc *resty.Client) *Client {
	rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if req.Header.Get(RequestIDHeader) == "" {
			req.SetHeader(RequestIDHeader, uuid.NewString())
		}
		return nil
	})
	return &Client{http: rc}
}

// Resty exposes the underlying client
func (c *Client) Resty() *resty.Client {
	return c.http
}

// filterResponse is the envelope of a filter call; rows are decoded per kind
type filterResponse struct {
	Data       []json.RawMessage `json:"data"`
	Pagination types.Pagination  `json:"pagination"`
}

// Filter implements interfaces.QueryService
func (c *Client) Filter(ctx context.Context, kind types.RecordKind, req interfaces.FilterRequest) (types.ResultPage, error) {
	schema, ok := types.SchemaFor(kind)
	if !ok {
		return types.ResultPage{}, types.NewValidationError("kind", "unknown record kind %q", kind)
	}

	fallback := fmt.Sprintf("failed to query %s", kind)
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any(req)).
		Post(schema.FilterPath)
	if err := check(res, err, fallback); err != nil {
		return types.ResultPage{}, err
	}

	var body filterResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return types.ResultPage{}, &types.QueryError{StatusCode: res.StatusCode(), Message: fallback + ": malformed response", Err: err}
	}

	records := make([]types.Record, 0, len(body.Data))
	for i, raw := range body.Data {
		record, err := decodeRecord(kind, raw)
		if err != nil {
			return types.ResultPage{}, &types.QueryError{
				StatusCode: res.StatusCode(),
				Message:    fmt.Sprintf("%s: malformed record at index %d", fallback, i),
				Err:        err,
			}
		}
		records = append(records, record)
	}

	log.Debug().Str("kind", string(kind)).Int("records", len(records)).Int("total", body.Pagination.TotalRecords).Msg("filter call completed")
	return types.ResultPage{Records: records, Pagination: body.Pagination}, nil
}

func decodeRecord(kind types.RecordKind, raw json.RawMessage) (types.Record, error) {
	switch kind {
	case types.KindEvents:
		var e types.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return types.Record{}, err
		}
		return types.EventRecord(e), nil
	case types.KindLogs:
		var l types.Log
		if err := json.Unmarshal(raw, &l); err != nil {
			return types.Record{}, err
		}
		return types.LogRecord(l), nil
	}
	return types.Record{}, fmt.Errorf("unknown record kind %q", kind)
}

// CreateComment implements interfaces.QueryService
func (c *Client) CreateComment(ctx context.Context, draft types.CommentDraft) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(draft).
		Post("/comments")
	return check(res, err, "failed to create comment")
}

// ListComments implements interfaces.QueryService
func (c *Client) ListComments(ctx context.Context, eventID int64) ([]types.Comment, error) {
	fallback := fmt.Sprintf("failed to load comments for event %d", eventID)
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", fmt.Sprint(eventID)).
		Get("/events/{id}/comments")
	if err := check(res, err, fallback); err != nil {
		return nil, err
	}

	raw, err := unwrapData(res.Body())
	if err != nil {
		return nil, &types.QueryError{StatusCode: res.StatusCode(), Message: fallback + ": malformed response", Err: err}
	}
	var comments []types.Comment
	if err := json.Unmarshal(raw, &comments); err != nil {
		return nil, &types.QueryError{StatusCode: res.StatusCode(), Message: fallback + ": malformed response", Err: err}
	}
	for i := range comments {
		if comments[i].EventID == 0 {
			comments[i].EventID = eventID
		}
	}
	return comments, nil
}

// ListUsers implements interfaces.QueryService
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	return c.list(ctx, "/users", "username")
}

// ListTimezones implements interfaces.QueryService
func (c *Client) ListTimezones(ctx context.Context) ([]string, error) {
	return c.list(ctx, "/timezones", "timezone")
}

// ListAlarms implements interfaces.QueryService
func (c *Client) ListAlarms(ctx context.Context) ([]string, error) {
	return c.list(ctx, "/alarms", "name")
}

// Ping implements interfaces.QueryService
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.http.R().SetContext(ctx).Get("/health")
	return check(res, err, "query service unavailable")
}

// list loads a flat option list. Items may be strings or objects carrying nameField.
func (c *Client) list(ctx context.Context, path, nameField string) ([]string, error) {
	fallback := fmt.Sprintf("failed to load %s", strings.TrimPrefix(path, "/"))
	res, err := c.http.R().SetContext(ctx).Get(path)
	if err := check(res, err, fallback); err != nil {
		return nil, err
	}

	raw, err := unwrapData(res.Body())
	if err != nil {
		return nil, &types.QueryError{StatusCode: res.StatusCode(), Message: fallback + ": malformed response", Err: err}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &types.QueryError{StatusCode: res.StatusCode(), Message: fallback + ": malformed response", Err: err}
	}

	values := make([]string, 0, len(items))
	for _, item := range items {
		var name string
		if json.Unmarshal(item, &name) == nil {
			values = append(values, name)
			continue
		}
		var obj map[string]any
		if json.Unmarshal(item, &obj) != nil {
			continue
		}
		for _, key := range []string{nameField, "name", "value"} {
			if v, ok := obj[key].(string); ok && v != "" {
				values = append(values, v)
				break
			}
		}
	}
	return types.StringSet(values), nil
}

// unwrapData returns the "data" member of an object body, or the body itself
func unwrapData(body []byte) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		return json.RawMessage(trimmed), nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return json.RawMessage("[]"), nil
	}
	return envelope.Data, nil
}

// check converts transport failures and non-2xx responses to *QueryError
func check(res *resty.Response, err error, fallback string) error {
	if err != nil {
		log.Warn().Err(err).Msg(fallback)
		return &types.QueryError{Message: fmt.Sprintf("%s: %v", fallback, err), Err: err}
	}
	if res.IsSuccess() {
		return nil
	}

	message := errorMessage(res.Body())
	if message == "" {
		message = fmt.Sprintf("%s (HTTP %d)", fallback, res.StatusCode())
	}
	log.Warn().Int("status", res.StatusCode()).Str("url", res.Request.URL).Msg(message)
	return &types.QueryError{
		StatusCode: res.StatusCode(),
		Message:    message,
		Err:        fmt.Errorf("unexpected status %s", http.StatusText(res.StatusCode())),
	}
}

// errorMessage extracts detail, error or message from an error envelope
func errorMessage(body []byte) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "error", "message"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
		// Validation details may arrive as a list of objects carrying "msg"
		var details []struct {
			Msg string `json:"msg"`
		}
		if json.Unmarshal(raw, &details) == nil && len(details) > 0 && details[0].Msg != "" {
			return details[0].Msg
		}
	}
	return ""
}
