package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateReply(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantScore float64
		wantValid bool
	}{
		{
			name:      "well formed reply",
			content:   "Thanks for reaching out. The sync is on Thursday.",
			wantScore: 1.0,
			wantValid: true,
		},
		{
			name:      "empty",
			content:   "",
			wantScore: 0,
			wantValid: false,
		},
		{
			name:      "whitespace only",
			content:   "   \n\t  ",
			wantScore: 0,
			wantValid: false,
		},
		{
			name:      "too short with sentence",
			content:   "Yes.",
			wantScore: 0.4,
			wantValid: false,
		},
		{
			name:      "too short without sentence",
			content:   "maybe",
			wantScore: 0.2,
			wantValid: false,
		},
		{
			name:      "long enough but no sentence terminator",
			content:   "this reply just trails off without ever ending",
			wantScore: 0.8,
			wantValid: true,
		},
		{
			name:      "overlong",
			content:   strings.Repeat("All work and no play. ", 500),
			wantScore: 0.8,
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateReply(tt.content, 0.5)
			assert.InDelta(t, tt.wantScore, result.Score, 1e-9)
			assert.Equal(t, tt.wantValid, result.IsValid)
			if tt.wantScore < 1.0 {
				assert.NotEmpty(t, result.Issues)
			} else {
				assert.Empty(t, result.Issues)
			}
		})
	}
}

func TestValidateReplyThreshold(t *testing.T) {
	// The same draft flips validity as the threshold moves.
	content := "this reply just trails off without ever ending"

	assert.True(t, ValidateReply(content, 0.5).IsValid)
	assert.False(t, ValidateReply(content, 0.9).IsValid)
}

func TestScoreNeverNegative(t *testing.T) {
	result := ValidateReply("", 0.5)
	assert.GreaterOrEqual(t, result.Score, 0.0)
}
