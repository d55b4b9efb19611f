// Package export serializes filtered records and event comments to CSV.
package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"recordscope/internal/interfaces"
	"recordscope/internal/metrics"
	"recordscope/internal/query"
	"recordscope/internal/types"
)

// DateLayout is the date stamp used in export filenames
const DateLayout = "2006-01-02"

// File is one produced CSV document
type File struct {
	Name      string           `json:"name"`
	Kind      types.RecordKind `json:"kind"`
	Rows      int              `json:"rows"`
	Truncated bool             `json:"truncated"`
	Data      []byte           `json:"-"`
}

// EscapeField quotes a field containing a comma, double quote, CR or LF, doubling inner quotes
func EscapeField(field string) string {
	if !strings.ContainsAny(field, ",\"\r\n") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// Encode renders a header row followed by rows, each terminated by a newline
func Encode(headers []string, rows [][]string) []byte {
	var buf bytes.Buffer
	writeRow(&buf, headers)
	for _, row := range rows {
		writeRow(&buf, row)
	}
	return buf.Bytes()
}

func writeRow(buf *bytes.Buffer, fields []string) {
	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(EscapeField(field))
	}
	buf.WriteByte('\n')
}

// Exporter produces CSV files for one record kind
type Exporter struct {
	schema   types.Schema
	executor *query.Executor
	service  interfaces.QueryService
	ceiling  int
	clock    func() time.Time
}

// Option customizes an Exporter
type Option func(*Exporter)

// WithCeiling sets the maximum number of rows fetched for one export
func WithCeiling(ceiling int) Option {
	return func(e *Exporter) {
		if ceiling > 0 {
			e.ceiling = ceiling
		}
	}
}

// WithClock overrides the clock used for filename dates
func WithClock(clock func() time.Time) Option {
	return func(e *Exporter) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewExporter creates an exporter. The executor only builds request bodies;
// export queries never replace the displayed page.
func NewExporter(schema types.Schema, executor *query.Executor, service interfaces.QueryService, opts ...Option) *Exporter {
	e := &Exporter{
		schema:   schema,
		executor: executor,
		service:  service,
		ceiling:  types.DefaultExportCeiling,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ceiling returns the configured row ceiling
func (e *Exporter) Ceiling() int {
	return e.ceiling
}

// Export re-issues the active query as a single page of up to the ceiling and renders it
func (e *Exporter) Export(ctx context.Context, criteria types.FilterCriteria) (*File, error) {
	kind := string(e.schema.Kind)

	criteria.Page = 1
	criteria.Limit = e.ceiling
	req := e.executor.BuildRequest(criteria)

	page, err := e.service.Filter(ctx, e.schema.Kind, req)
	if err != nil {
		metrics.Get().RecordExportError(kind)
		return nil, &types.ExportError{
			Message: fmt.Sprintf("failed to export %s: %s", kind, types.DisplayMessage(err)),
			Err:     err,
		}
	}
	if len(page.Records) == 0 {
		metrics.Get().RecordExportError(kind)
		return nil, &types.ExportError{Message: types.MsgNoDataToExport}
	}

	rows := make([][]string, 0, len(page.Records))
	for _, record := range page.Records {
		rows = append(rows, e.schema.Row(record))
	}

	truncated := page.Pagination.TotalRecords > e.ceiling || len(page.Records) > e.ceiling
	if len(rows) > e.ceiling {
		rows = rows[:e.ceiling]
	}
	if truncated {
		log.Warn().Str("kind", kind).Int("total", page.Pagination.TotalRecords).Int("ceiling", e.ceiling).Msg("export truncated at ceiling")
	}

	metrics.Get().RecordExport(kind, len(rows), truncated)
	return &File{
		Name:      fmt.Sprintf("%s_%s.csv", e.schema.ExportPrefix, e.clock().Format(DateLayout)),
		Kind:      e.schema.Kind,
		Rows:      len(rows),
		Truncated: truncated,
		Data:      Encode(e.schema.Headers(), rows),
	}, nil
}

// ExportComments renders the comments of one event
func (e *Exporter) ExportComments(ctx context.Context, eventID int64) (*File, error) {
	comments, err := e.service.ListComments(ctx, eventID)
	if err != nil {
		metrics.Get().RecordExportError("comments")
		return nil, &types.ExportError{
			Message: fmt.Sprintf("failed to export comments: %s", types.DisplayMessage(err)),
			Err:     err,
		}
	}
	if len(comments) == 0 {
		metrics.Get().RecordExportError("comments")
		return nil, &types.ExportError{Message: types.MsgNoDataToExport}
	}

	rows := make([][]string, 0, len(comments))
	for _, comment := range comments {
		rows = append(rows, types.CommentRow(comment))
	}

	metrics.Get().RecordExport("comments", len(rows), false)
	return &File{
		Name: fmt.Sprintf("event_comments_%d_%s.csv", eventID, e.clock().Format(DateLayout)),
		Kind: types.KindEvents,
		Rows: len(rows),
		Data: Encode(types.CommentHeaders, rows),
	}, nil
}

