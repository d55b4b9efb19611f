// Package fake provides an in-memory QueryService for tests.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"recordscope/internal/interfaces"
	"recordscope/internal/types"
)

// FilterFunc answers one filter call
type FilterFunc func(ctx context.Context, kind types.RecordKind, req interfaces.FilterRequest) (types.ResultPage, error)

// QueryService records every call and serves events, logs and comments held in memory
type QueryService struct {
	mu sync.Mutex

	Events    []types.Event
	Logs      []types.Log
	Comments  map[int64][]types.Comment
	Users     []string
	Timezones []string
	Alarms    []string

	// FilterHook overrides the default in-memory filtering when set
	FilterHook FilterFunc
	// FilterErr, CommentErr and PingErr force failures
	FilterErr  error
	CommentErr error
	PingErr    error

	Requests      []interfaces.FilterRequest
	CreatedDrafts []types.CommentDraft
	OptionLoads   int
	nextCommentID int64
}

var _ interfaces.QueryService = (*QueryService)(nil)

// New creates an empty fake
func New() *QueryService {
	return &QueryService{
		Comments:      make(map[int64][]types.Comment),
		Users:         []string{"alice", "bob"},
		Timezones:     []string{"UTC", "Europe/Paris"},
		Alarms:        []string{"HighPressure", "LowLevel"},
		nextCommentID: 1,
	}
}

// Filter implements interfaces.QueryService
func (f *QueryService) Filter(ctx context.Context, kind types.RecordKind, req interfaces.FilterRequest) (types.ResultPage, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, copyRequest(req))
	hook := f.FilterHook
	failure := f.FilterErr
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx, kind, req)
	}
	if failure != nil {
		return types.ResultPage{}, failure
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var all []types.Record
	switch kind {
	case types.KindEvents:
		for _, e := range f.Events {
			e.HasComments = e.HasComments || len(f.Comments[e.ID]) > 0
			if matchesEvent(e, req) {
				all = append(all, types.EventRecord(e))
			}
		}
	case types.KindLogs:
		for _, l := range f.Logs {
			if matchesLog(l, req) {
				all = append(all, types.LogRecord(l))
			}
		}
	}
	return Paginate(all, intValue(req["page"], 1), intValue(req["limit"], types.DefaultLimit)), nil
}

// CreateComment implements interfaces.QueryService
func (f *QueryService) CreateComment(ctx context.Context, draft types.CommentDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreatedDrafts = append(f.CreatedDrafts, draft)
	if f.CommentErr != nil {
		return f.CommentErr
	}
	if draft.EventID == nil {
		return nil
	}
	comment := types.Comment{
		ID:        f.nextCommentID,
		Timestamp: types.Timestamp{Time: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		Message:   draft.Message,
		EventID:   *draft.EventID,
	}
	f.nextCommentID++
	f.Comments[*draft.EventID] = append(f.Comments[*draft.EventID], comment)
	return nil
}

// ListComments implements interfaces.QueryService
func (f *QueryService) ListComments(ctx context.Context, eventID int64) ([]types.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Comment(nil), f.Comments[eventID]...), nil
}

// ListUsers implements interfaces.QueryService
func (f *QueryService) ListUsers(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OptionLoads++
	return append([]string(nil), f.Users...), nil
}

// ListTimezones implements interfaces.QueryService
func (f *QueryService) ListTimezones(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OptionLoads++
	return append([]string(nil), f.Timezones...), nil
}

// ListAlarms implements interfaces.QueryService
func (f *QueryService) ListAlarms(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OptionLoads++
	return append([]string(nil), f.Alarms...), nil
}

// Ping implements interfaces.QueryService
func (f *QueryService) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PingErr
}

// RequestCount returns how many filter calls were made
func (f *QueryService) RequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

// LastRequest returns the most recent filter body
func (f *QueryService) LastRequest() interfaces.FilterRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Requests) == 0 {
		return nil
	}
	return f.Requests[len(f.Requests)-1]
}

// Paginate slices records the way the Query Service does
func Paginate(all []types.Record, page, limit int) types.ResultPage {
	if limit <= 0 {
		limit = types.DefaultLimit
	}
	total := len(all)
	totalPages := (total + limit - 1) / limit
	if page < 1 {
		page = 1
	}

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	records := append([]types.Record{}, all[start:end]...)
	return types.ResultPage{
		Records: records,
		Pagination: types.Pagination{
			Page:         page,
			Limit:        limit,
			TotalRecords: total,
			TotalPages:   totalPages,
			HasNext:      page < totalPages,
			HasPrev:      page > 1,
		},
	}
}

// ErrUnavailable is a ready-made transport failure
var ErrUnavailable = errors.New("query service unavailable")

func matchesEvent(e types.Event, req interfaces.FilterRequest) bool {
	if users, ok := req["usernames"].([]string); ok {
		if e.User == nil || !containsString(users, e.User.Username) {
			return false
		}
	}
	if priorities, ok := req["priorities"].([]int); ok {
		if e.Priority == nil || !containsInt(priorities, *e.Priority) {
			return false
		}
	}
	if criticities, ok := req["criticities"].([]int); ok {
		if e.Criticity == nil || !containsInt(criticities, *e.Criticity) {
			return false
		}
	}
	return true
}

func matchesLog(l types.Log, req interfaces.FilterRequest) bool {
	if users, ok := req["usernames"].([]string); ok {
		if l.User == nil || !containsString(users, l.User.Username) {
			return false
		}
	}
	if alarms, ok := req["alarm_names"].([]string); ok {
		if l.Alarm == nil || !containsString(alarms, l.Alarm.Name) {
			return false
		}
	}
	return true
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func intValue(v any, fallback int) int {
	if n, ok := v.(int); ok {
		return n
	}
	return fallback
}

func copyRequest(req interfaces.FilterRequest) interfaces.FilterRequest {
	out := make(interfaces.FilterRequest, len(req))
	for k, v := range req {
		out[k] = v
	}
	return out
}
