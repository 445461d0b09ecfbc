package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10.50", 1050, false},
		{"10.5", 1050, false},
		{"10", 1000, false},
		{"0.01", 1, false},
		{"1234567.89", 123456789, false},
		{"10.505", 0, true},
		{"0", 0, true},
		{"-1.00", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"46116860184273879.03", MaxAmount, false},
		{"46116860184273879.04", 0, true},
		{"184467440737095526.16", 0, true},
		{"1e30", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "10.50", FormatAmount(1050))
	assert.Equal(t, "0.01", FormatAmount(1))
	assert.Equal(t, "0.00", FormatAmount(0))
	assert.Equal(t, "-2.00", FormatAmount(-200))
}

func TestValidationError_Is(t *testing.T) {
	err := Invalid("amount", "must be positive")
	assert.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "validation failed: amount: must be positive")
}
