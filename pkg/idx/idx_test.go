package idx

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_Unique(t *testing.T) {
	seen := make(map[ID]struct{})
	for range 1000 {
		id := New()
		require.False(t, id.IsZero())
		_, dup := seen[id]
		require.False(t, dup, "duplicate id generated: %s", id)
		seen[id] = struct{}{}
	}
}

func TestNew_Sortable(t *testing.T) {
	ids := make([]string, 0, 100)
	for range 100 {
		ids = append(ids, New().String())
	}

	// Monotonic entropy means generation order is lexical order.
	require.True(t, sort.StringsAreSorted(ids))
}

func TestNewAt_EmbedsTime(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := NewAt(at)
	require.WithinDuration(t, at, id.Time(), time.Millisecond)
}

func TestParse(t *testing.T) {
	valid := New().String()

	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"valid ulid", valid, true},
		{"valid with whitespace", "  " + valid + "  ", true},
		{"empty", "", false},
		{"garbage", "not-a-ulid", false},
		{"too short", valid[:10], false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Parse(tt.input)
			if tt.ok {
				require.NoError(t, err)
				require.False(t, id.IsZero())
			} else {
				require.ErrorIs(t, err, ErrInvalid)
				require.True(t, id.IsZero())
			}
		})
	}
}

func TestMustParse_Panics(t *testing.T) {
	require.Panics(t, func() { MustParse("bogus") })
}
