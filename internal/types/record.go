package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecordKind identifies one of the two independent list views
type RecordKind string

const (
	KindEvents RecordKind = "events"
	KindLogs   RecordKind = "logs"
)

// Valid reports whether k is a known record kind
func (k RecordKind) Valid() bool {
	return k == KindEvents || k == KindLogs
}

// timestampFormats are tried in order when decoding server timestamps
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Timestamp is a time.Time that accepts the formats the Query Service emits
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses s using the first matching known format
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, format := range timestampFormats {
		if ts, err := time.Parse(format, s); err == nil {
			return Timestamp{ts}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if raw == "" {
		*t = Timestamp{}
		return nil
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// UserRef is the authoring user of a record or comment
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// AlarmRef is a log's back-reference to the alarm that raised it
type AlarmRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EventRef is a log's read-only back-reference to an event
type EventRef struct {
	ID      int64  `json:"id"`
	Message string `json:"message,omitempty"`
}

// Event is a system event row
type Event struct {
	ID             int64     `json:"id"`
	Timestamp      Timestamp `json:"timestamp"`
	Message        string    `json:"message"`
	Description    string    `json:"description,omitempty"`
	Classification string    `json:"classification,omitempty"`
	Priority       *int      `json:"priority,omitempty"`
	Criticity      *int      `json:"criticity,omitempty"`
	User           *UserRef  `json:"user,omitempty"`
	HasComments    bool      `json:"has_comments"`
	CommentCount   int       `json:"comment_count,omitempty"`
}

// Commented reports whether the event carries at least one comment
func (e *Event) Commented() bool {
	return e.HasComments || e.CommentCount > 0
}

// Log is an operational log row
type Log struct {
	ID             int64     `json:"id"`
	Timestamp      Timestamp `json:"timestamp"`
	Message        string    `json:"message"`
	Description    string    `json:"description,omitempty"`
	Classification string    `json:"classification,omitempty"`
	User           *UserRef  `json:"user,omitempty"`
	Alarm          *AlarmRef `json:"alarm,omitempty"`
	Event          *EventRef `json:"event,omitempty"`
}

// Record is a displayed row: exactly one of Event or Log is set, matching Kind
type Record struct {
	Kind  RecordKind `json:"kind"`
	Event *Event     `json:"event,omitempty"`
	Log   *Log       `json:"log,omitempty"`
}

// EventRecord wraps an event
func EventRecord(e Event) Record {
	return Record{Kind: KindEvents, Event: &e}
}

// LogRecord wraps a log
func LogRecord(l Log) Record {
	return Record{Kind: KindLogs, Log: &l}
}

// ID returns the identifier of the wrapped row
func (r Record) ID() int64 {
	switch {
	case r.Event != nil:
		return r.Event.ID
	case r.Log != nil:
		return r.Log.ID
	}
	return 0
}

// Time returns the timestamp of the wrapped row
func (r Record) Time() time.Time {
	switch {
	case r.Event != nil:
		return r.Event.Timestamp.Time
	case r.Log != nil:
		return r.Log.Timestamp.Time
	}
	return time.Time{}
}

// Message returns the message of the wrapped row
func (r Record) Message() string {
	switch {
	case r.Event != nil:
		return r.Event.Message
	case r.Log != nil:
		return r.Log.Message
	}
	return ""
}

// Comment is a user-authored annotation attached to an event
type Comment struct {
	ID             int64     `json:"id"`
	Timestamp      Timestamp `json:"timestamp"`
	User           *UserRef  `json:"user,omitempty"`
	Message        string    `json:"message"`
	Description    string    `json:"description,omitempty"`
	Classification string    `json:"classification,omitempty"`
	EventID        int64     `json:"event_id"`
}

// CommentDraft is the user input for a new comment
type CommentDraft struct {
	Message        string `json:"message" validate:"required,max=4000"`
	Description    string `json:"description,omitempty" validate:"max=4000"`
	Classification string `json:"classification,omitempty" validate:"max=255"`
	EventID        *int64 `json:"event_id,omitempty"`
}

// Pagination is the server-reported paging state of a result
type Pagination struct {
	Page         int  `json:"page"`
	Limit        int  `json:"limit"`
	TotalRecords int  `json:"total_records"`
	TotalPages   int  `json:"total_pages"`
	HasNext      bool `json:"has_next"`
	HasPrev      bool `json:"has_prev"`
}

// ResultPage is one page of records as returned by the Query Service
type ResultPage struct {
	Records    []Record   `json:"records"`
	Pagination Pagination `json:"pagination"`
}

// EmptyPage is the consistent state left behind by a failed query
func EmptyPage(limit int) ResultPage {
	return ResultPage{
		Records:    []Record{},
		Pagination: Pagination{Page: 1, Limit: limit},
	}
}
