// Package annotation drives the comment workflow attached to displayed events.
package annotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"recordscope/internal/interfaces"
	"recordscope/internal/metrics"
	"recordscope/internal/types"
)

// State is a workflow state
type State string

const (
	StateIdle               State = "idle"
	StateContextMenuOpen    State = "context_menu_open"
	StateCommentModalOpen   State = "comment_modal_open"
	StateSubmitting         State = "submitting"
	StateCommentsViewerOpen State = "comments_viewer_open"
)

// ErrInvalidTransition is returned when an action does not apply to the current state
var ErrInvalidTransition = errors.New("invalid annotation transition")

// Point is the cursor position a context menu was opened at
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Snapshot is a read-only view of the workflow
type Snapshot struct {
	State    State           `json:"state"`
	RecordID int64           `json:"record_id,omitempty"`
	Position Point           `json:"position"`
	Comments []types.Comment `json:"comments,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// RefreshFunc re-runs the active query after a comment was stored
type RefreshFunc func(ctx context.Context) error

// Workflow is the annotation state machine of the events view
type Workflow struct {
	service  interfaces.QueryService
	refresh  RefreshFunc
	validate *validator.Validate

	mu       sync.Mutex
	state    State
	recordID int64
	position Point
	comments []types.Comment
	errMsg   string
}

// New creates an idle workflow; refresh may be nil
func New(service interfaces.QueryService, refresh RefreshFunc) *Workflow {
	return &Workflow{
		service:  service,
		refresh:  refresh,
		validate: validator.New(),
		state:    StateIdle,
	}
}

// Snapshot returns the current state
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		State:    w.state,
		RecordID: w.recordID,
		Position: w.position,
		Comments: append([]types.Comment(nil), w.comments...),
		Error:    w.errMsg,
	}
}

// OpenContextMenu captures the clicked event and cursor position
func (w *Workflow) OpenContextMenu(recordID int64, at Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.expect("context-menu", StateIdle); err != nil {
		return err
	}
	w.state = StateContextMenuOpen
	w.recordID = recordID
	w.position = at
	w.errMsg = ""
	return nil
}

// AddComment opens the comment modal for the captured event
func (w *Workflow) AddComment() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.expect("add-comment", StateContextMenuOpen); err != nil {
		return err
	}
	w.state = StateCommentModalOpen
	return nil
}

// Escape dismisses whatever is open; ignored while submitting
func (w *Workflow) Escape() error {
	return w.dismiss("escape")
}

// OutsideClick dismisses whatever is open; ignored while submitting
func (w *Workflow) OutsideClick() error {
	return w.dismiss("outside-click")
}

func (w *Workflow) dismiss(action string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateSubmitting, StateIdle:
		return nil
	case StateCommentsViewerOpen:
		w.comments = nil
	}
	log.Debug().Str("action", action).Str("from", string(w.state)).Msg("annotation dismissed")
	w.reset()
	return nil
}

// Submit validates draft and stores it against the captured event.
// On success the workflow returns to idle and the active query is refreshed;
// on failure the modal stays open with the error.
func (w *Workflow) Submit(ctx context.Context, draft types.CommentDraft) error {
	w.mu.Lock()
	if err := w.expect("submit", StateCommentModalOpen); err != nil {
		w.mu.Unlock()
		return err
	}

	draft.Message = strings.TrimSpace(draft.Message)
	draft.Description = strings.TrimSpace(draft.Description)
	draft.Classification = strings.TrimSpace(draft.Classification)
	if err := w.check(draft); err != nil {
		w.errMsg = err.Error()
		w.mu.Unlock()
		return err
	}

	recordID := w.recordID
	draft.EventID = &recordID
	w.state = StateSubmitting
	w.errMsg = ""
	w.mu.Unlock()

	err := w.service.CreateComment(ctx, draft)
	metrics.Get().RecordComment(err)

	w.mu.Lock()
	if err != nil {
		w.state = StateCommentModalOpen
		w.errMsg = types.DisplayMessage(err)
		w.mu.Unlock()
		log.Warn().Err(err).Int64("event_id", recordID).Msg("comment submission failed")
		return err
	}
	w.reset()
	w.mu.Unlock()

	log.Info().Int64("event_id", recordID).Msg("comment submitted")
	if w.refresh == nil {
		return nil
	}
	return w.refresh(ctx)
}

// ViewComments opens the comments viewer of an event and loads its comments
func (w *Workflow) ViewComments(ctx context.Context, eventID int64) error {
	w.mu.Lock()
	if err := w.expect("view-comments", StateIdle); err != nil {
		w.mu.Unlock()
		return err
	}
	w.state = StateCommentsViewerOpen
	w.recordID = eventID
	w.comments = nil
	w.errMsg = ""
	w.mu.Unlock()

	comments, err := w.service.ListComments(ctx, eventID)

	w.mu.Lock()
	defer w.mu.Unlock()
	// The viewer may have been closed while loading
	if w.state != StateCommentsViewerOpen || w.recordID != eventID {
		return nil
	}
	if err != nil {
		w.errMsg = types.DisplayMessage(err)
		return err
	}
	w.comments = comments
	return nil
}

// CloseComments closes the comments viewer
func (w *Workflow) CloseComments() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.expect("close-comments", StateCommentsViewerOpen); err != nil {
		return err
	}
	w.comments = nil
	w.reset()
	return nil
}

func (w *Workflow) expect(action string, want State) error {
	if w.state != want {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, w.state)
	}
	return nil
}

func (w *Workflow) reset() {
	w.state = StateIdle
	w.recordID = 0
	w.position = Point{}
	w.errMsg = ""
}

// check runs struct validation and converts the first failure to a ValidationError
func (w *Workflow) check(draft types.CommentDraft) error {
	err := w.validate.Struct(draft)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewValidationError("comment", "%v", err)
	}

	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return types.NewValidationError(field, "%s is required", field)
	case "max":
		return types.NewValidationError(field, "%s must be at most %s characters", field, fe.Param())
	}
	return types.NewValidationError(field, "%s is invalid", field)
}
