package query

import (
	"context"
	"errors"

	"recordscope/internal/filterstate"
	"recordscope/internal/metrics"
	"recordscope/internal/types"
)

// State is the paging position of the displayed page
type State struct {
	Page         int `json:"page"`
	Limit        int `json:"limit"`
	TotalRecords int `json:"total_records"`
	TotalPages   int `json:"total_pages"`
}

// Controller moves between pages and page sizes, persisting the position in the filter store
type Controller struct {
	store    *filterstate.Store
	executor *Executor
}

// NewController binds a filter store to an executor of the same kind
func NewController(store *filterstate.Store, executor *Executor) *Controller {
	return &Controller{store: store, executor: executor}
}

// State returns the position reported by the latest displayed page
func (c *Controller) State() State {
	page, _ := c.executor.Current()
	return State{
		Page:         page.Pagination.Page,
		Limit:        page.Pagination.Limit,
		TotalRecords: page.Pagination.TotalRecords,
		TotalPages:   page.Pagination.TotalPages,
	}
}

// ChangePage moves to page n. Out-of-range pages are ignored and issue no request.
func (c *Controller) ChangePage(ctx context.Context, n int) (bool, error) {
	state := c.State()
	if n < 1 || n > state.TotalPages {
		metrics.Get().RecordPaginationNoop(string(c.executor.Kind()))
		return false, nil
	}
	if err := c.store.SetPage(n); err != nil {
		return false, err
	}
	return true, c.execute(ctx)
}

// ChangeLimit sets the page size and returns to the first page. Non-positive sizes are ignored.
func (c *Controller) ChangeLimit(ctx context.Context, n int) (bool, error) {
	if n <= 0 {
		metrics.Get().RecordPaginationNoop(string(c.executor.Kind()))
		return false, nil
	}
	first := types.DefaultPage
	if err := c.store.Apply(filterstate.Patch{Limit: &n, Page: &first}); err != nil {
		return false, err
	}
	return true, c.execute(ctx)
}

// ApplyFilters commits patch, returns to the first page and executes.
// A rejected patch returns its ValidationError without a request.
func (c *Controller) ApplyFilters(ctx context.Context, patch filterstate.Patch) error {
	first := types.DefaultPage
	patch.Page = &first
	if err := c.store.Apply(patch); err != nil {
		return err
	}
	return c.execute(ctx)
}

// Refresh re-executes with the active filters and page
func (c *Controller) Refresh(ctx context.Context) error {
	return c.execute(ctx)
}

// Clear resets the filters to their defaults and executes
func (c *Controller) Clear(ctx context.Context) error {
	c.store.Clear()
	return c.execute(ctx)
}

// execute runs the active filters. A failed query displays page 1, so the
// stored page follows it.
func (c *Controller) execute(ctx context.Context) error {
	_, err := c.executor.Execute(ctx, c.store.Get())
	var queryErr *types.QueryError
	if errors.As(err, &queryErr) && c.store.Get().Page != types.DefaultPage {
		_ = c.store.SetPage(types.DefaultPage)
	}
	return err
}
