package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"recordscope/internal/annotation"
	"recordscope/internal/export"
	"recordscope/internal/filterstate"
	"recordscope/internal/interfaces"
	"recordscope/internal/query"
	"recordscope/internal/types"
)

// Options are the selectable values offered by a view's filter inputs
type Options struct {
	Users     []string `json:"users" yaml:"users"`
	Timezones []string `json:"timezones" yaml:"timezones"`
	Alarms    []string `json:"alarms,omitempty" yaml:"alarms,omitempty"`
}

// Snapshot is what a view currently displays
type Snapshot struct {
	Kind       types.RecordKind     `json:"kind"`
	Records    []types.Record       `json:"records"`
	Pagination types.Pagination     `json:"pagination"`
	Filters    types.FilterCriteria `json:"filters"`
	Error      string               `json:"error,omitempty"`
}

// ViewConfig tunes a RecordView
type ViewConfig struct {
	DefaultLimit     int
	ExportCeiling    int
	TimezoneOverride string
	Clock            func() time.Time
}

// RecordView is the list view of one record kind, parametrized by its schema
type RecordView struct {
	schema      types.Schema
	service     interfaces.QueryService
	store       *filterstate.Store
	executor    *query.Executor
	controller  *query.Controller
	exporter    *export.Exporter
	annotations *annotation.Workflow

	optionsMu sync.RWMutex
	options   Options
	loaded    bool
}

// NewRecordView wires the filter store, executor, pagination, export and,
// for annotatable kinds, the comment workflow of one view
func NewRecordView(schema types.Schema, service interfaces.QueryService, backend interfaces.StateStore, cfg ViewConfig) *RecordView {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	store := filterstate.New(schema, backend,
		filterstate.WithClock(clock),
		filterstate.WithDefaultLimit(cfg.DefaultLimit),
		filterstate.WithTimezoneOverride(cfg.TimezoneOverride))
	executor := query.NewExecutor(schema, service,
		query.WithClock(clock),
		query.WithTimezoneOverride(cfg.TimezoneOverride))

	v := &RecordView{
		schema:     schema,
		service:    service,
		store:      store,
		executor:   executor,
		controller: query.NewController(store, executor),
		exporter: export.NewExporter(schema, executor, service,
			export.WithCeiling(cfg.ExportCeiling),
			export.WithClock(clock)),
	}
	if schema.Annotatable {
		v.annotations = annotation.New(service, v.controller.Refresh)
	}
	return v
}

// Kind returns the record kind of the view
func (v *RecordView) Kind() types.RecordKind {
	return v.schema.Kind
}

// Schema returns the view schema
func (v *RecordView) Schema() types.Schema {
	return v.schema
}

// Activate loads the filter options and runs the query for the persisted filters
func (v *RecordView) Activate(ctx context.Context) error {
	optionsErr := v.loadOptions(ctx)
	if optionsErr != nil {
		log.Warn().Err(optionsErr).Str("kind", string(v.schema.Kind)).Msg("failed to load filter options")
	}
	if err := v.controller.Refresh(ctx); err != nil {
		return err
	}
	return optionsErr
}

// loadOptions fetches every option source of the schema concurrently
func (v *RecordView) loadOptions(ctx context.Context) error {
	var (
		mu   sync.Mutex
		opts Options
	)
	g, gctx := errgroup.WithContext(ctx)

	for _, source := range v.schema.Options {
		g.Go(func() error {
			var (
				values []string
				err    error
			)
			switch source {
			case types.OptionUsers:
				values, err = v.service.ListUsers(gctx)
			case types.OptionTimezones:
				values, err = v.service.ListTimezones(gctx)
			case types.OptionAlarms:
				values, err = v.service.ListAlarms(gctx)
			default:
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", source, err)
			}

			mu.Lock()
			defer mu.Unlock()
			switch source {
			case types.OptionUsers:
				opts.Users = values
			case types.OptionTimezones:
				opts.Timezones = values
			case types.OptionAlarms:
				opts.Alarms = values
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	v.optionsMu.Lock()
	v.options = opts
	v.loaded = true
	v.optionsMu.Unlock()
	return nil
}

// Options returns the loaded options, loading them on first use
func (v *RecordView) Options(ctx context.Context) (Options, error) {
	v.optionsMu.RLock()
	opts, loaded := v.options, v.loaded
	v.optionsMu.RUnlock()
	if loaded {
		return opts, nil
	}

	if err := v.loadOptions(ctx); err != nil {
		return Options{}, err
	}
	v.optionsMu.RLock()
	defer v.optionsMu.RUnlock()
	return v.options, nil
}

// Snapshot returns the displayed page, the active filters and the last error message
func (v *RecordView) Snapshot() Snapshot {
	page, err := v.executor.Current()
	return Snapshot{
		Kind:       v.schema.Kind,
		Records:    page.Records,
		Pagination: page.Pagination,
		Filters:    v.store.Get(),
		Error:      types.DisplayMessage(err),
	}
}

// Filters returns the active filter criteria
func (v *RecordView) Filters() types.FilterCriteria {
	return v.store.Get()
}

// ApplyFilters commits an edit of the filters and re-queries from page 1
func (v *RecordView) ApplyFilters(ctx context.Context, patch filterstate.Patch) error {
	return v.controller.ApplyFilters(ctx, patch)
}

// ClearFilters resets the filters to their defaults and re-queries
func (v *RecordView) ClearFilters(ctx context.Context) error {
	return v.controller.Clear(ctx)
}

// ChangePage moves to page n; out-of-range pages are ignored
func (v *RecordView) ChangePage(ctx context.Context, n int) (bool, error) {
	return v.controller.ChangePage(ctx, n)
}

// ChangeLimit sets the page size; non-positive sizes are ignored
func (v *RecordView) ChangeLimit(ctx context.Context, n int) (bool, error) {
	return v.controller.ChangeLimit(ctx, n)
}

// Refresh re-runs the active query
func (v *RecordView) Refresh(ctx context.Context) error {
	return v.controller.Refresh(ctx)
}

// Paging returns the pagination state
func (v *RecordView) Paging() query.State {
	return v.controller.State()
}

// SetTimezoneOverride sets the explicit timezone used for queries
func (v *RecordView) SetTimezoneOverride(tz string) {
	v.store.SetTimezoneOverride(tz)
	v.executor.SetTimezoneOverride(tz)
}

// Export produces a CSV of the active filters
func (v *RecordView) Export(ctx context.Context) (*export.File, error) {
	return v.exporter.Export(ctx, v.store.Get())
}

// ExportComments produces a CSV of one event's comments
func (v *RecordView) ExportComments(ctx context.Context, eventID int64) (*export.File, error) {
	if !v.schema.Annotatable {
		return nil, types.NewValidationError("kind", "%s carry no comments", v.schema.Kind)
	}
	return v.exporter.ExportComments(ctx, eventID)
}

// Comments loads one event's comments
func (v *RecordView) Comments(ctx context.Context, eventID int64) ([]types.Comment, error) {
	if !v.schema.Annotatable {
		return nil, types.NewValidationError("kind", "%s carry no comments", v.schema.Kind)
	}
	return v.service.ListComments(ctx, eventID)
}

// Annotations returns the comment workflow, nil for kinds that cannot be annotated
func (v *RecordView) Annotations() *annotation.Workflow {
	return v.annotations
}
