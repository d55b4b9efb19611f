package types

import (
	"strconv"
	"time"
)

// Dimension names a filterable set-valued field
type Dimension string

const (
	DimUsernames   Dimension = "usernames"
	DimPriorities  Dimension = "priorities"
	DimCriticities Dimension = "criticities"
	DimAlarmNames  Dimension = "alarm_names"
)

// OptionSource names a list loaded once per view activation
type OptionSource string

const (
	OptionUsers     OptionSource = "users"
	OptionTimezones OptionSource = "timezones"
	OptionAlarms    OptionSource = "alarms"
)

// Column is one CSV export column
type Column struct {
	Header string
	Value  func(Record) string
}

// Schema parametrizes the generic record view for one kind
type Schema struct {
	Kind       RecordKind
	FilterPath string
	// PayloadFields maps each supported dimension to its request body key
	PayloadFields map[Dimension]string
	Options       []OptionSource
	Columns       []Column
	ExportPrefix  string
	Annotatable   bool
}

// Supports reports whether the kind can be filtered on dim
func (s Schema) Supports(dim Dimension) bool {
	_, ok := s.PayloadFields[dim]
	return ok
}

// Headers returns the CSV header row
func (s Schema) Headers() []string {
	headers := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		headers[i] = col.Header
	}
	return headers
}

// Row renders record in column order; a record of another kind renders as empty cells
func (s Schema) Row(record Record) []string {
	out := make([]string, len(s.Columns))
	switch {
	case s.Kind == KindEvents && record.Event != nil:
	case s.Kind == KindLogs && record.Log != nil:
	default:
		return out
	}
	for i, col := range s.Columns {
		out[i] = col.Value(record)
	}
	return out
}

// CSVTimeLayout is how timestamps render in exported files
const CSVTimeLayout = "2006-01-02 15:04:05"

var eventsSchema = Schema{
	Kind:       KindEvents,
	FilterPath: "/events/filter",
	PayloadFields: map[Dimension]string{
		DimUsernames:   "usernames",
		DimPriorities:  "priorities",
		DimCriticities: "criticities",
	},
	Options:      []OptionSource{OptionUsers, OptionTimezones},
	ExportPrefix: "events",
	Annotatable:  true,
	Columns: []Column{
		{"ID", func(r Record) string { return strconv.FormatInt(r.Event.ID, 10) }},
		{"Timestamp", func(r Record) string { return formatTime(r.Event.Timestamp.Time) }},
		{"Message", func(r Record) string { return r.Event.Message }},
		{"Description", func(r Record) string { return r.Event.Description }},
		{"Classification", func(r Record) string { return r.Event.Classification }},
		{"Priority", func(r Record) string { return formatOptInt(r.Event.Priority) }},
		{"Criticity", func(r Record) string { return formatOptInt(r.Event.Criticity) }},
		{"User", func(r Record) string { return formatUser(r.Event.User) }},
		{"Has Comments", func(r Record) string { return strconv.FormatBool(r.Event.Commented()) }},
	},
}

var logsSchema = Schema{
	Kind:       KindLogs,
	FilterPath: "/logs/filter",
	PayloadFields: map[Dimension]string{
		DimUsernames:  "usernames",
		DimAlarmNames: "alarm_names",
	},
	Options:      []OptionSource{OptionUsers, OptionTimezones, OptionAlarms},
	ExportPrefix: "logs",
	Columns: []Column{
		{"ID", func(r Record) string { return strconv.FormatInt(r.Log.ID, 10) }},
		{"Timestamp", func(r Record) string { return formatTime(r.Log.Timestamp.Time) }},
		{"Message", func(r Record) string { return r.Log.Message }},
		{"Description", func(r Record) string { return r.Log.Description }},
		{"Classification", func(r Record) string { return r.Log.Classification }},
		{"User", func(r Record) string { return formatUser(r.Log.User) }},
		{"Alarm", func(r Record) string {
			if r.Log.Alarm == nil {
				return ""
			}
			return r.Log.Alarm.Name
		}},
		{"Event ID", func(r Record) string {
			if r.Log.Event == nil {
				return ""
			}
			return strconv.FormatInt(r.Log.Event.ID, 10)
		}},
	},
}

// CommentHeaders is the header row of a per-event comments export
var CommentHeaders = []string{"ID", "Timestamp", "User", "Message", "Description", "Classification", "Event ID"}

// CommentRow renders a comment in CommentHeaders order
func CommentRow(c Comment) []string {
	return []string{
		strconv.FormatInt(c.ID, 10),
		formatTime(c.Timestamp.Time),
		formatUser(c.User),
		c.Message,
		c.Description,
		c.Classification,
		strconv.FormatInt(c.EventID, 10),
	}
}

// SchemaFor returns the schema of kind
func SchemaFor(kind RecordKind) (Schema, bool) {
	switch kind {
	case KindEvents:
		return eventsSchema, true
	case KindLogs:
		return logsSchema, true
	}
	return Schema{}, false
}

// Schemas returns every known schema
func Schemas() []Schema {
	return []Schema{eventsSchema, logsSchema}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(CSVTimeLayout)
}

func formatOptInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatUser(u *UserRef) string {
	if u == nil {
		return ""
	}
	return u.Username
}
