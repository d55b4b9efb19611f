package filterstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordscope/internal/storage"
	"recordscope/internal/types"
)

func strPtr(s string) *string { return &s }

func TestEdit_ToPatch(t *testing.T) {
	users := []string{"alice"}
	limit := 50
	patch, err := Edit{
		Usernames: &users,
		Preset:    strPtr("6h"),
		Start:     strPtr("2024-05-10T09:15"),
		End:       strPtr("2024-05-10T12:00:00Z"),
		Limit:     &limit,
	}.ToPatch()
	require.NoError(t, err)

	require.NotNil(t, patch.Preset)
	assert.Equal(t, types.PresetLast6Hours, *patch.Preset)
	assert.Equal(t, time.Date(2024, 5, 10, 9, 15, 0, 0, time.UTC), *patch.Start)
	assert.Equal(t, time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC), *patch.End)
	assert.Equal(t, &users, patch.Usernames)
	assert.Equal(t, 50, *patch.Limit)
	assert.Nil(t, patch.Priorities)
}

func TestEdit_ToPatchRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		edit  Edit
		field string
	}{
		{"unknown preset", Edit{Preset: strPtr("fortnight")}, "preset"},
		{"bad start", Edit{Start: strPtr("yesterday")}, "start"},
		{"bad end", Edit{End: strPtr("10/05/2024")}, "end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.edit.ToPatch()
			var validationErr *types.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestEdit_EmptyEditChangesNothing(t *testing.T) {
	patch, err := Edit{}.ToPatch()
	require.NoError(t, err)
	assert.True(t, patch.Empty())
}

func TestEdit_AppliedStartSwitchesToCustom(t *testing.T) {
	store := newStore(t, types.KindEvents, storage.NewMemoryStore())

	patch, err := Edit{Start: strPtr("2024-05-10T10:00")}.ToPatch()
	require.NoError(t, err)
	require.NoError(t, store.Apply(patch))

	c := store.Get()
	assert.Equal(t, types.PresetCustom, c.Preset)
	assert.Equal(t, time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC), *c.Start)
}
