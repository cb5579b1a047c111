package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJudgment(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		matched    bool
		confidence float64
		wantErr    bool
	}{
		{
			name:       "yes with high confidence",
			content:    `("judgment"<||>yes<||>0.85)##` + "\n<|COMPLETE|>",
			matched:    true,
			confidence: 0.85,
		},
		{
			name:       "no with confidence",
			content:    `("judgment"<||>no<||>0.9)##` + "\n<|COMPLETE|>",
			matched:    false,
			confidence: 0.9,
		},
		{
			name:       "tolerates missing completion marker",
			content:    `("judgment"<||>yes<||>0.7)##`,
			matched:    true,
			confidence: 0.7,
		},
		{
			name:       "tolerates surrounding prose",
			content:    "Here is my answer:\n(\"judgment\"<||>yes<||>0.6)##\n<|COMPLETE|>",
			matched:    true,
			confidence: 0.6,
		},
		{
			name:    "rejects non yes/no verdict",
			content: `("judgment"<||>maybe<||>0.5)##<|COMPLETE|>`,
			wantErr: true,
		},
		{
			name:    "rejects out of range confidence",
			content: `("judgment"<||>yes<||>1.2)##<|COMPLETE|>`,
			wantErr: true,
		},
		{
			name:    "rejects missing tuple",
			content: "I cannot judge this.",
			wantErr: true,
		},
		{
			name:    "rejects wrong tuple type",
			content: `("field"<||>yes<||>0.8)##<|COMPLETE|>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseJudgment(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.matched, res.Matched)
			assert.InDelta(t, tt.confidence, res.Confidence, 1e-9)
		})
	}
}
