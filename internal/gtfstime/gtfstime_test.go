package gtfstime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplay(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"25:10:00", "01:10:00"},
		{"23:59:59", "23:59:59"},
		{"24:00:00", "00:00:00"},
		{"00:00:00", "00:00:00"},
		{"7:05:09", "07:05:09"},
		{"8:5:9", "08:05:09"},
		{"30:15:00", "06:15:00"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Display(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDisplay_Malformed(t *testing.T) {
	for _, raw := range []string{"12:00", "ab:00:00", "12:00:00:00", "-1:00:00", "12::00"} {
		_, err := Display(raw)
		assert.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed for %q, got %v", raw, err)
	}
}

func TestParse_KeepsRawUnchanged(t *testing.T) {
	tm, err := Parse("25:10:00")
	require.NoError(t, err)
	assert.Equal(t, Time{Display: "01:10:00", Raw: "25:10:00"}, tm)
}
