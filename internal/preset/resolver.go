// Package preset resolves named time-range presets against wall-clock time.
package preset

import (
	"fmt"
	"strings"
	"time"

	"recordscope/internal/types"
)

// durations maps every named preset to the window it covers
var durations = map[types.PresetRange]time.Duration{
	types.PresetLastHour:    time.Hour,
	types.PresetLast6Hours:  6 * time.Hour,
	types.PresetLast12Hours: 12 * time.Hour,
	types.PresetLastDay:     24 * time.Hour,
	types.PresetLastWeek:    7 * 24 * time.Hour,
	types.PresetLastMonth:   30 * 24 * time.Hour,
}

// Window is a resolved time window
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the fixed duration of p; ok is false for custom and unknown presets
func Duration(p types.PresetRange) (time.Duration, bool) {
	d, ok := durations[p]
	return d, ok
}

// Resolve maps a named preset to [now-duration, now].
// Custom is not resolvable: its window comes verbatim from stored state.
func Resolve(p types.PresetRange, now time.Time) (Window, bool) {
	d, ok := Duration(p)
	if !ok {
		return Window{}, false
	}
	return Window{Start: now.Add(-d), End: now}, true
}

// ClampEnd keeps a user-edited end time from pointing into the future
func ClampEnd(end, now time.Time) time.Time {
	if end.After(now) {
		return now
	}
	return end
}

// ParseRange accepts preset tokens in their stored form or in common spellings
// such as "last-hour", "LastHour" or "1h".
func ParseRange(token string) (types.PresetRange, error) {
	normalized := strings.ToLower(strings.TrimSpace(token))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	if p := types.PresetRange(normalized); p.Valid() {
		return p, nil
	}

	aliases := map[string]types.PresetRange{
		"lasthour":    types.PresetLastHour,
		"1h":          types.PresetLastHour,
		"last6hours":  types.PresetLast6Hours,
		"6h":          types.PresetLast6Hours,
		"last12hours": types.PresetLast12Hours,
		"12h":         types.PresetLast12Hours,
		"lastday":     types.PresetLastDay,
		"24h":         types.PresetLastDay,
		"1d":          types.PresetLastDay,
		"lastweek":    types.PresetLastWeek,
		"7d":          types.PresetLastWeek,
		"1w":          types.PresetLastWeek,
		"lastmonth":   types.PresetLastMonth,
		"30d":         types.PresetLastMonth,
	}
	if p, ok := aliases[strings.ReplaceAll(normalized, "_", "")]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown preset %q", token)
}

// NaiveNow returns the wall clock of now in loc with the zone stripped.
// Filter windows are local-naive: the server interprets them in the request's timezone.
func NaiveNow(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Naive(now.In(loc))
}

// Naive drops the zone of t, keeping its wall clock
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
