package interfaces

import (
	"context"

	"recordscope/internal/types"
)

// FilterRequest is the body sent to a kind's filter endpoint.
// Keys for empty dimensions are never present.
type FilterRequest map[string]any

// QueryService is the remote collaborator that owns the records
type QueryService interface {
	// Filter runs one filtered, paginated query for kind
	Filter(ctx context.Context, kind types.RecordKind, req FilterRequest) (types.ResultPage, error)

	// CreateComment attaches a new comment to an event
	CreateComment(ctx context.Context, draft types.CommentDraft) error

	// ListComments returns the comments attached to an event
	ListComments(ctx context.Context, eventID int64) ([]types.Comment, error)

	// ListUsers returns the selectable usernames
	ListUsers(ctx context.Context) ([]string, error)

	// ListTimezones returns the valid timezone identifiers
	ListTimezones(ctx context.Context) ([]string, error)

	// ListAlarms returns the selectable alarm names
	ListAlarms(ctx context.Context) ([]string, error)

	// Ping checks that the service is reachable
	Ping(ctx context.Context) error
}
