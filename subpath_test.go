package fastls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubPath(t *testing.T) {
	tests := []struct {
		sub   string
		steps []Step
	}{
		{"", nil},
		{"name", []Step{{Name: "name"}}},
		{"items[2].name", []Step{{Name: "items"}, {Index: 2, IsIndex: true}, {Name: "name"}}},
		{"[1]", []Step{{Index: 1, IsIndex: true, Bare: true}}},
		{"[1].x", []Step{{Index: 1, IsIndex: true, Bare: true}, {Name: "x"}}},
		{"a[0][1]", []Step{{Name: "a"}, {Index: 0, IsIndex: true}, {Index: 1, IsIndex: true}}},
		{"a.[3]", []Step{{Name: "a"}, {Index: 3, IsIndex: true, Bare: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.sub, func(t *testing.T) {
			steps, err := ParseSubPath(tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.steps, steps)
			assert.Equal(t, tt.sub, FormatSubPath(steps))
		})
	}
}

func TestParseSubPath_Invalid(t *testing.T) {
	for _, sub := range []string{"a..b", ".a", "a.", "a[", "a[x]", "a[-1]", "a[+1]", "a[]", "a]b", "a[1]b", "a[1048576]", "items[1000000000]", "a[99999999999999999999]"} {
		t.Run(sub, func(t *testing.T) {
			_, err := ParseSubPath(sub)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestParseSubPath_MaxIndex(t *testing.T) {
	steps, err := ParseSubPath("a[1048575]")
	require.NoError(t, err)
	assert.Equal(t, []Step{{Name: "a"}, {Index: MaxArrayIndex, IsIndex: true}}, steps)
}
