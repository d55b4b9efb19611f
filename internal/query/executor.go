// Package query turns filter criteria into Query Service requests and owns
// the page of records currently on display.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"recordscope/internal/interfaces"
	"recordscope/internal/metrics"
	"recordscope/internal/preset"
	"recordscope/internal/types"
)

// RequestTimeLayout is the timestamp form the Query Service expects
const RequestTimeLayout = "2006-01-02 15:04:05.00"

// Request body keys shared by every kind
const (
	fieldGreaterThan = "greater_than_timestamp"
	fieldLessThan    = "less_than_timestamp"
	fieldTimezone    = "timezone"
	fieldPage        = "page"
	fieldLimit       = "limit"
)

// ErrSuperseded is returned when a newer request was issued before this one completed
var ErrSuperseded = errors.New("query superseded by a newer request")

// Executor issues filter queries for one record kind; the latest request always wins
type Executor struct {
	schema  types.Schema
	service interfaces.QueryService
	clock   func() time.Time
	detect  func() string

	mu        sync.Mutex
	override  string
	seq       uint64
	displayed types.ResultPage
	lastErr   error
}

// Option customizes an Executor
type Option func(*Executor)

// WithClock overrides the wall clock used to re-resolve named presets
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithTimezoneDetector overrides environment timezone detection
func WithTimezoneDetector(detect func() string) Option {
	return func(e *Executor) {
		if detect != nil {
			e.detect = detect
		}
	}
}

// WithTimezoneOverride sets an explicit timezone that beats the persisted one
func WithTimezoneOverride(tz string) Option {
	return func(e *Executor) {
		e.override = tz
	}
}

// NewExecutor creates an executor for schema
func NewExecutor(schema types.Schema, service interfaces.QueryService, opts ...Option) *Executor {
	e := &Executor{
		schema:    schema,
		service:   service,
		clock:     time.Now,
		detect:    preset.DetectTimezone,
		displayed: types.EmptyPage(types.DefaultLimit),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kind returns the record kind of the executor
func (e *Executor) Kind() types.RecordKind {
	return e.schema.Kind
}

// SetTimezoneOverride replaces the explicit timezone; empty disables it
func (e *Executor) SetTimezoneOverride(tz string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.override = tz
}

// Timezone returns the effective timezone for criteria: override, persisted, detected
func (e *Executor) Timezone(c types.FilterCriteria) string {
	e.mu.Lock()
	override := e.override
	e.mu.Unlock()
	return preset.ResolveTimezone(e.detect, override, c.Timezone)
}

// BuildRequest renders criteria as a request body; empty dimensions are omitted
func (e *Executor) BuildRequest(c types.FilterCriteria) interfaces.FilterRequest {
	tz := e.Timezone(c)
	req := interfaces.FilterRequest{fieldTimezone: tz}

	if field, ok := e.schema.PayloadFields[types.DimUsernames]; ok && len(c.Usernames) > 0 {
		req[field] = append([]string(nil), c.Usernames...)
	}
	if field, ok := e.schema.PayloadFields[types.DimPriorities]; ok && len(c.Priorities) > 0 {
		req[field] = append([]int(nil), c.Priorities...)
	}
	if field, ok := e.schema.PayloadFields[types.DimCriticities]; ok && len(c.Criticities) > 0 {
		req[field] = append([]int(nil), c.Criticities...)
	}
	if field, ok := e.schema.PayloadFields[types.DimAlarmNames]; ok && len(c.AlarmNames) > 0 {
		req[field] = append([]string(nil), c.AlarmNames...)
	}

	// Named presets slide with the clock; custom windows are sent verbatim
	start, end := c.Start, c.End
	now := preset.NaiveNow(e.clock(), preset.Location(tz))
	if window, ok := preset.Resolve(c.Preset, now); ok {
		start, end = &window.Start, &window.End
	}
	if start != nil {
		req[fieldGreaterThan] = start.Format(RequestTimeLayout)
	}
	if end != nil {
		req[fieldLessThan] = end.Format(RequestTimeLayout)
	}

	page, limit := c.Page, c.Limit
	if page < 1 {
		page = types.DefaultPage
	}
	if limit < 1 {
		limit = types.DefaultLimit
	}
	req[fieldPage] = page
	req[fieldLimit] = limit
	return req
}

// Execute queries the service and replaces the displayed page.
// A failure leaves an empty page with the requested limit and returns a *QueryError.
func (e *Executor) Execute(ctx context.Context, c types.FilterCriteria) (types.ResultPage, error) {
	req := e.BuildRequest(c)
	limit := req[fieldLimit].(int)
	kind := string(e.schema.Kind)

	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	started := time.Now()
	page, err := e.service.Filter(ctx, e.schema.Kind, req)
	metrics.Get().RecordQuery(kind, time.Since(started), err)

	e.mu.Lock()
	defer e.mu.Unlock()

	if seq != e.seq {
		metrics.Get().RecordSuperseded(kind)
		log.Debug().Str("kind", kind).Uint64("seq", seq).Uint64("latest", e.seq).Msg("discarding superseded query response")
		return types.ResultPage{}, ErrSuperseded
	}

	if err != nil {
		queryErr := asQueryError(err, e.schema.Kind)
		e.displayed = types.EmptyPage(limit)
		e.lastErr = queryErr
		metrics.Get().UpdateDisplayed(kind, 0)
		log.Warn().Err(err).Str("kind", kind).Msg("query failed")
		return e.displayed, queryErr
	}

	page = normalize(page, req[fieldPage].(int), limit)
	e.displayed = page
	e.lastErr = nil
	metrics.Get().UpdateDisplayed(kind, len(page.Records))
	return page, nil
}

// Current returns the displayed page and the error of the latest query
func (e *Executor) Current() (types.ResultPage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	page := e.displayed
	page.Records = append([]types.Record{}, e.displayed.Records...)
	return page, e.lastErr
}

// normalize fills pagination fields the service left out
func normalize(page types.ResultPage, requestedPage, limit int) types.ResultPage {
	if page.Records == nil {
		page.Records = []types.Record{}
	}
	p := &page.Pagination
	if p.Page < 1 {
		p.Page = requestedPage
	}
	if p.Limit < 1 {
		p.Limit = limit
	}
	if p.TotalPages == 0 && p.TotalRecords > 0 {
		p.TotalPages = (p.TotalRecords + p.Limit - 1) / p.Limit
	}
	return page
}

// asQueryError wraps err as a *QueryError with a kind-specific fallback message
func asQueryError(err error, kind types.RecordKind) *types.QueryError {
	var queryErr *types.QueryError
	if errors.As(err, &queryErr) {
		if queryErr.Message == "" {
			queryErr.Message = fmt.Sprintf("failed to query %s", kind)
		}
		return queryErr
	}
	return &types.QueryError{
		Message: fmt.Sprintf("failed to query %s: %v", kind, err),
		Err:     err,
	}
}
