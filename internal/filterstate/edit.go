package filterstate

import (
	"time"

	"recordscope/internal/preset"
	"recordscope/internal/types"
)

// Edit is the wire form of a Patch as received from the local API or CLI flags.
// Times are accepted in TimeLayout or any server timestamp form; presets accept the aliases
// understood by preset.ParseRange.
type Edit struct {
	Usernames   *[]string `json:"usernames,omitempty" yaml:"usernames"`
	Priorities  *[]int    `json:"priorities,omitempty" yaml:"priorities"`
	Criticities *[]int    `json:"criticities,omitempty" yaml:"criticities"`
	AlarmNames  *[]string `json:"alarm_names,omitempty" yaml:"alarm_names"`
	Preset      *string   `json:"preset,omitempty" yaml:"preset"`
	Start       *string   `json:"start,omitempty" yaml:"start"`
	End         *string   `json:"end,omitempty" yaml:"end"`
	Timezone    *string   `json:"timezone,omitempty" yaml:"timezone"`
	Page        *int      `json:"page,omitempty" yaml:"page"`
	Limit       *int      `json:"limit,omitempty" yaml:"limit"`
}

// ToPatch parses the textual fields of the edit
func (e Edit) ToPatch() (Patch, error) {
	patch := Patch{
		Usernames:   e.Usernames,
		Priorities:  e.Priorities,
		Criticities: e.Criticities,
		AlarmNames:  e.AlarmNames,
		Timezone:    e.Timezone,
		Page:        e.Page,
		Limit:       e.Limit,
	}

	if e.Preset != nil {
		p, err := preset.ParseRange(*e.Preset)
		if err != nil {
			return Patch{}, types.NewValidationError("preset", "%v", err)
		}
		patch.Preset = &p
	}

	var err error
	if patch.Start, err = parseEditTime("start", e.Start); err != nil {
		return Patch{}, err
	}
	if patch.End, err = parseEditTime("end", e.End); err != nil {
		return Patch{}, err
	}
	return patch, nil
}

func parseEditTime(field string, raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	ts, ok := decodeTime(*raw)
	if !ok {
		return nil, types.NewValidationError(field, "invalid time %q, expected %s", *raw, TimeLayout)
	}
	return &ts, nil
}
