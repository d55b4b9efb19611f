package filterstate

import (
	"strings"
	"time"

	"recordscope/internal/preset"
	"recordscope/internal/types"
)

// Patch is a partial edit of FilterCriteria; nil fields are left untouched
type Patch struct {
	Usernames   *[]string
	Priorities  *[]int
	Criticities *[]int
	AlarmNames  *[]string
	Preset      *types.PresetRange
	Start       *time.Time
	End         *time.Time
	Timezone    *string
	Page        *int
	Limit       *int
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return len(p.keys()) == 0
}

// keys lists the persisted keys touched by the patch
func (p Patch) keys() []string {
	var keys []string
	if p.Usernames != nil {
		keys = append(keys, keyUsernames)
	}
	if p.Priorities != nil {
		keys = append(keys, keyPriorities)
	}
	if p.Criticities != nil {
		keys = append(keys, keyCriticities)
	}
	if p.AlarmNames != nil {
		keys = append(keys, keyAlarmNames)
	}
	if p.Timezone != nil {
		keys = append(keys, keyTimezone)
	}
	if p.Preset != nil || p.Start != nil || p.End != nil {
		keys = append(keys, keyPreset, keyStart, keyEnd)
	}
	if p.Page != nil {
		keys = append(keys, keyPage)
	}
	if p.Limit != nil {
		keys = append(keys, keyLimit)
	}
	return keys
}

// apply mutates next in place; next must be a private copy
func (s *Store) apply(next *types.FilterCriteria, p Patch) error {
	// Timezone first: it defines "now" for preset resolution and clamping
	if p.Timezone != nil {
		tz := strings.TrimSpace(*p.Timezone)
		if tz != "" && !preset.ValidTimezone(tz) {
			return types.NewValidationError("timezone", "unknown timezone %q", tz)
		}
		next.Timezone = tz
	}

	if p.Usernames != nil {
		if err := s.requireDimension(types.DimUsernames, len(*p.Usernames)); err != nil {
			return err
		}
		next.Usernames = nilIfEmpty(types.StringSet(trimAll(*p.Usernames)))
	}
	if p.AlarmNames != nil {
		if err := s.requireDimension(types.DimAlarmNames, len(*p.AlarmNames)); err != nil {
			return err
		}
		next.AlarmNames = nilIfEmpty(types.StringSet(trimAll(*p.AlarmNames)))
	}
	if p.Priorities != nil {
		values, err := s.severities(types.DimPriorities, *p.Priorities)
		if err != nil {
			return err
		}
		next.Priorities = values
	}
	if p.Criticities != nil {
		values, err := s.severities(types.DimCriticities, *p.Criticities)
		if err != nil {
			return err
		}
		next.Criticities = values
	}

	now := s.naiveNow(next.Timezone)

	if p.Preset != nil {
		if !p.Preset.Valid() {
			return types.NewValidationError("preset", "unknown preset %q", string(*p.Preset))
		}
		next.Preset = *p.Preset
		if window, ok := preset.Resolve(*p.Preset, now); ok {
			next.Start, next.End = &window.Start, &window.End
		}
	}

	if p.Start != nil || p.End != nil {
		next.Preset = types.PresetCustom
		if p.Start != nil {
			start := preset.Naive(*p.Start).Truncate(time.Minute)
			next.Start = &start
		}
		if p.End != nil {
			end := preset.ClampEnd(preset.Naive(*p.End).Truncate(time.Minute), now)
			next.End = &end
		}
		if next.Start != nil && next.End != nil && next.Start.After(*next.End) {
			return types.NewValidationError("start", "start %s is after end %s",
				next.Start.Format(TimeLayout), next.End.Format(TimeLayout))
		}
	}

	if p.Page != nil {
		if *p.Page < 1 {
			return types.NewValidationError("page", "page must be at least 1, got %d", *p.Page)
		}
		next.Page = *p.Page
	}
	if p.Limit != nil {
		if *p.Limit <= 0 {
			return types.NewValidationError("limit", "limit must be positive, got %d", *p.Limit)
		}
		next.Limit = *p.Limit
	}
	return nil
}

// requireDimension rejects non-empty selections on a dimension the kind does not have
func (s *Store) requireDimension(dim types.Dimension, selected int) error {
	if selected > 0 && !s.schema.Supports(dim) {
		return types.NewValidationError(string(dim), "%s cannot be filtered on %s", s.schema.Kind, dim)
	}
	return nil
}

func (s *Store) severities(dim types.Dimension, values []int) ([]int, error) {
	if err := s.requireDimension(dim, len(values)); err != nil {
		return nil, err
	}
	for _, v := range values {
		if !types.ValidSeverity(v) {
			return nil, types.NewValidationError(string(dim), "value %d outside %d-%d", v, types.MinSeverity, types.MaxSeverity)
		}
	}
	return nilIfEmpty(types.IntSet(values)), nil
}

func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func nilIfEmpty[T any](values []T) []T {
	if len(values) == 0 {
		return nil
	}
	return values
}
