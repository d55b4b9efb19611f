package types

import (
	"sort"
	"time"
)

// PresetRange is a named shorthand for a relative time window
type PresetRange string

const (
	PresetLastHour    PresetRange = "last_hour"
	PresetLast6Hours  PresetRange = "last_6_hours"
	PresetLast12Hours PresetRange = "last_12_hours"
	PresetLastDay     PresetRange = "last_day"
	PresetLastWeek    PresetRange = "last_week"
	PresetLastMonth   PresetRange = "last_month"
	PresetCustom      PresetRange = "custom"
)

// AllPresets lists every preset in display order
var AllPresets = []PresetRange{
	PresetLastHour,
	PresetLast6Hours,
	PresetLast12Hours,
	PresetLastDay,
	PresetLastWeek,
	PresetLastMonth,
	PresetCustom,
}

// Valid reports whether p is a known preset token
func (p PresetRange) Valid() bool {
	for _, known := range AllPresets {
		if p == known {
			return true
		}
	}
	return false
}

// Severity bounds shared by priorities and criticities
const (
	MinSeverity = 0
	MaxSeverity = 5
)

// Defaults applied when nothing has been persisted yet
const (
	DefaultPage          = 1
	DefaultLimit         = 20
	DefaultPreset        = PresetLastHour
	DefaultExportCeiling = 10000
)

// FilterCriteria is the full set of filter dimensions for one record kind
type FilterCriteria struct {
	Usernames   []string    `json:"usernames,omitempty"`
	Priorities  []int       `json:"priorities,omitempty"`
	Criticities []int       `json:"criticities,omitempty"`
	AlarmNames  []string    `json:"alarm_names,omitempty"`
	Preset      PresetRange `json:"preset"`
	Start       *time.Time  `json:"start,omitempty"`
	End         *time.Time  `json:"end,omitempty"`
	Timezone    string      `json:"timezone,omitempty"`
	Page        int         `json:"page"`
	Limit       int         `json:"limit"`
}

// Clone returns a deep copy so callers never share slices with the store
func (c FilterCriteria) Clone() FilterCriteria {
	out := c
	out.Usernames = append([]string(nil), c.Usernames...)
	out.Priorities = append([]int(nil), c.Priorities...)
	out.Criticities = append([]int(nil), c.Criticities...)
	out.AlarmNames = append([]string(nil), c.AlarmNames...)
	if c.Start != nil {
		start := *c.Start
		out.Start = &start
	}
	if c.End != nil {
		end := *c.End
		out.End = &end
	}
	return out
}

// StringSet deduplicates and sorts values, dropping empty strings
func StringSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// IntSet deduplicates and sorts values
func IntSet(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// ValidSeverity reports whether v is a valid priority or criticity
func ValidSeverity(v int) bool {
	return v >= MinSeverity && v <= MaxSeverity
}
