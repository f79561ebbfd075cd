package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFloat(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0.00010000", 0.0001, false},
		{"-0.00375", -0.00375, false},
		{"47000.00", 47000, false},
		{" 1.5 ", 1.5, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFloat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.InDelta(t, tt.want, got, 1e-12, "input %q", tt.in)
	}
}

func TestFloatCellFromStringEmptyIsNull(t *testing.T) {
	c, err := FloatCellFromString("")
	require.NoError(t, err)
	assert.True(t, c.IsNull())

	c, err = FloatCellFromString("0")
	require.NoError(t, err)
	assert.False(t, c.IsNull())
	v, ok := c.Float()
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
}
