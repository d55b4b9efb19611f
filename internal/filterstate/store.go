// Package filterstate holds the filter dimensions of one record kind and
// mirrors every change to a durable key-value store.
package filterstate

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"recordscope/internal/interfaces"
	"recordscope/internal/metrics"
	"recordscope/internal/preset"
	"recordscope/internal/types"
)

// Persisted keys, namespaced per kind as "<kind>.<key>"
const (
	keyPage        = "page"
	keyLimit       = "limit"
	keyUsernames   = "usernames"
	keyPriorities  = "priorities"
	keyCriticities = "criticities"
	keyAlarmNames  = "alarm_names"
	keyPreset      = "preset"
	keyStart       = "start"
	keyEnd         = "end"
	keyTimezone    = "timezone"
)

var allKeys = []string{
	keyPage, keyLimit, keyUsernames, keyPriorities, keyCriticities,
	keyAlarmNames, keyPreset, keyStart, keyEnd, keyTimezone,
}

// TimeLayout is the persisted form of start/end (minute precision)
const TimeLayout = "2006-01-02T15:04"

// Store is the filter state of one record kind
type Store struct {
	mu           sync.RWMutex
	schema       types.Schema
	backend      interfaces.StateStore
	clock        func() time.Time
	defaultLimit int
	override     string
	criteria     types.FilterCriteria
}

// Option customizes a Store
type Option func(*Store)

// WithClock overrides the wall clock used for presets and clamping
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithDefaultLimit sets the page size used when nothing is persisted
func WithDefaultLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.defaultLimit = limit
		}
	}
}

// WithTimezoneOverride sets an explicit timezone that beats the persisted one
// when resolving "now"
func WithTimezoneOverride(tz string) Option {
	return func(s *Store) {
		s.override = tz
	}
}

// New creates a store for schema and loads its persisted state
func New(schema types.Schema, backend interfaces.StateStore, opts ...Option) *Store {
	s := &Store{
		schema:       schema,
		backend:      backend,
		clock:        time.Now,
		defaultLimit: types.DefaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.criteria = s.load()
	return s
}

// Kind returns the record kind this store belongs to
func (s *Store) Kind() types.RecordKind {
	return s.schema.Kind
}

// Get returns a copy of the current criteria
func (s *Store) Get() types.FilterCriteria {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.criteria.Clone()
}

// SetTimezoneOverride replaces the explicit timezone; empty disables it
func (s *Store) SetTimezoneOverride(tz string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = tz
}

// Now returns the naive wall clock in the store's effective timezone
func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.naiveNow(s.criteria.Timezone)
}

// naiveNow resolves "now" in the override, then tz, then the detected zone.
// Callers hold s.mu.
func (s *Store) naiveNow(tz string) time.Time {
	zone := preset.ResolveTimezone(nil, s.override, tz)
	return preset.NaiveNow(s.clock(), preset.Location(zone))
}

// Apply validates patch against the current state and commits it atomically.
// Nothing changes when any field is rejected.
func (s *Store) Apply(patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.criteria.Clone()
	if err := s.apply(&next, patch); err != nil {
		return err
	}
	s.criteria = next
	s.persist(patch.keys())
	return nil
}

// SetUsernames replaces the selected usernames
func (s *Store) SetUsernames(values []string) error {
	return s.Apply(Patch{Usernames: &values})
}

// SetPriorities replaces the selected priorities
func (s *Store) SetPriorities(values []int) error {
	return s.Apply(Patch{Priorities: &values})
}

// SetCriticities replaces the selected criticities
func (s *Store) SetCriticities(values []int) error {
	return s.Apply(Patch{Criticities: &values})
}

// SetAlarmNames replaces the selected alarm names
func (s *Store) SetAlarmNames(values []string) error {
	return s.Apply(Patch{AlarmNames: &values})
}

// SetPreset selects a preset; named presets store their resolved window
func (s *Store) SetPreset(p types.PresetRange) error {
	return s.Apply(Patch{Preset: &p})
}

// SetStart edits the window start and switches to the custom preset
func (s *Store) SetStart(start time.Time) error {
	return s.Apply(Patch{Start: &start})
}

// SetEnd edits the window end, clamped to now, and switches to the custom preset
func (s *Store) SetEnd(end time.Time) error {
	return s.Apply(Patch{End: &end})
}

// SetWindow edits both ends of the window at once and switches to the custom preset
func (s *Store) SetWindow(start, end time.Time) error {
	return s.Apply(Patch{Start: &start, End: &end})
}

// SetTimezone selects a timezone; empty means environment detection
func (s *Store) SetTimezone(tz string) error {
	return s.Apply(Patch{Timezone: &tz})
}

// SetPage stores the current page
func (s *Store) SetPage(page int) error {
	return s.Apply(Patch{Page: &page})
}

// SetLimit stores the page size
func (s *Store) SetLimit(limit int) error {
	return s.Apply(Patch{Limit: &limit})
}

// Clear resets every dimension to its default and re-derives the Last Hour window
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.criteria = s.defaults("")
	for _, key := range allKeys {
		err := s.backend.Remove(s.key(key))
		metrics.Get().RecordStateWrite(err)
		if err != nil {
			log.Warn().Err(err).Str("kind", string(s.schema.Kind)).Str("key", key).Msg("failed to remove filter state")
		}
	}
	s.persist([]string{keyPage, keyLimit, keyPreset, keyStart, keyEnd})
}

// defaults returns the initial criteria, resolving Last Hour in timezone tz
func (s *Store) defaults(tz string) types.FilterCriteria {
	criteria := types.FilterCriteria{
		Preset:   types.DefaultPreset,
		Timezone: tz,
		Page:     types.DefaultPage,
		Limit:    s.defaultLimit,
	}
	if window, ok := preset.Resolve(types.DefaultPreset, s.naiveNow(tz)); ok {
		criteria.Start = &window.Start
		criteria.End = &window.End
	}
	return criteria
}

func (s *Store) key(name string) string {
	return string(s.schema.Kind) + "." + name
}

// persist writes keys from the current criteria; failures are logged and swallowed
func (s *Store) persist(keys []string) {
	c := s.criteria
	for _, key := range keys {
		var (
			value  string
			remove bool
		)

		switch key {
		case keyPage:
			value = strconv.Itoa(c.Page)
		case keyLimit:
			value = strconv.Itoa(c.Limit)
		case keyUsernames:
			value, remove = encodeStrings(c.Usernames)
		case keyPriorities:
			value, remove = encodeInts(c.Priorities)
		case keyCriticities:
			value, remove = encodeInts(c.Criticities)
		case keyAlarmNames:
			value, remove = encodeStrings(c.AlarmNames)
		case keyPreset:
			value = string(c.Preset)
		case keyStart:
			value, remove = encodeTime(c.Start)
		case keyEnd:
			value, remove = encodeTime(c.End)
		case keyTimezone:
			value, remove = c.Timezone, c.Timezone == ""
		default:
			continue
		}

		var err error
		if remove {
			err = s.backend.Remove(s.key(key))
		} else {
			err = s.backend.Set(s.key(key), value)
		}
		metrics.Get().RecordStateWrite(err)
		if err != nil {
			log.Warn().Err(err).Str("kind", string(s.schema.Kind)).Str("key", key).Msg("failed to persist filter state")
		}
	}
}

// load builds the criteria from persisted values; malformed values fall back to defaults
func (s *Store) load() types.FilterCriteria {
	tz := s.readString(keyTimezone)
	if !preset.ValidTimezone(tz) {
		tz = ""
	}
	c := s.defaults(tz)

	if page, ok := parseInt(s.readString(keyPage)); ok && page >= 1 {
		c.Page = page
	}
	if limit, ok := parseInt(s.readString(keyLimit)); ok && limit > 0 {
		c.Limit = limit
	}

	if s.schema.Supports(types.DimUsernames) {
		c.Usernames = decodeStrings(s.readString(keyUsernames))
	}
	if s.schema.Supports(types.DimPriorities) {
		c.Priorities = decodeSeverities(s.readString(keyPriorities))
	}
	if s.schema.Supports(types.DimCriticities) {
		c.Criticities = decodeSeverities(s.readString(keyCriticities))
	}
	if s.schema.Supports(types.DimAlarmNames) {
		c.AlarmNames = decodeStrings(s.readString(keyAlarmNames))
	}

	p := types.PresetRange(s.readString(keyPreset))
	if !p.Valid() {
		return c
	}
	c.Preset = p

	now := s.naiveNow(tz)
	if window, ok := preset.Resolve(p, now); ok {
		c.Start, c.End = &window.Start, &window.End
		return c
	}

	// Custom: the stored window is used verbatim when it is well-formed
	start, startOK := decodeTime(s.readString(keyStart))
	end, endOK := decodeTime(s.readString(keyEnd))
	if startOK && endOK && start.After(end) {
		c.Preset = types.DefaultPreset
		return c
	}
	c.Start, c.End = nil, nil
	if startOK {
		c.Start = &start
	}
	if endOK {
		end = preset.ClampEnd(end, now)
		c.End = &end
	}
	return c
}

func (s *Store) readString(name string) string {
	value, ok, err := s.backend.Get(s.key(name))
	if err != nil {
		log.Warn().Err(err).Str("kind", string(s.schema.Kind)).Str("key", name).Msg("failed to read filter state")
		return ""
	}
	if !ok {
		return ""
	}
	return value
}

// parseInt parses a base-10 integer
func parseInt(s string) (int, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	out := types.StringSet(values)
	if len(out) == 0 {
		return nil
	}
	return out
}

// decodeSeverities accepts JSON numbers and numeric strings, dropping anything outside 0–5
func decodeSeverities(raw string) []int {
	if raw == "" {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}

	values := make([]int, 0, len(items))
	for _, item := range items {
		var n int
		if err := json.Unmarshal(item, &n); err != nil {
			var str string
			if json.Unmarshal(item, &str) != nil {
				continue
			}
			parsed, ok := parseInt(str)
			if !ok {
				continue
			}
			n = parsed
		}
		if types.ValidSeverity(n) {
			values = append(values, n)
		}
	}
	out := types.IntSet(values)
	if len(out) == 0 {
		return nil
	}
	return out
}

func decodeTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(TimeLayout, raw)
	if err != nil {
		parsed, perr := types.ParseTimestamp(raw)
		if perr != nil {
			return time.Time{}, false
		}
		ts = parsed.Time
	}
	return preset.Naive(ts), true
}

func encodeStrings(values []string) (string, bool) {
	if len(values) == 0 {
		return "", true
	}
	data, _ := json.Marshal(values)
	return string(data), false
}

func encodeInts(values []int) (string, bool) {
	if len(values) == 0 {
		return "", true
	}
	data, _ := json.Marshal(values)
	return string(data), false
}

func encodeTime(t *time.Time) (string, bool) {
	if t == nil {
		return "", true
	}
	return t.Format(TimeLayout), false
}
