package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeLive, false},
		{"live", ModeLive, false},
		{" Preparation ", ModePreparation, false},
		{"batch", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err)
			assert.True(t, IsErrorCode(err, ErrInvalidRequest))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, ModeLive, Mode("").OrDefault())
}

func TestSafetyLevel_OrderAndMax(t *testing.T) {
	assert.True(t, SafetyClear < SafetyCaution)
	assert.True(t, SafetyCaution < SafetyEscalate)
	assert.Equal(t, SafetyEscalate, SafetyCaution.Max(SafetyEscalate))
	assert.Equal(t, SafetyEscalate, SafetyEscalate.Max(SafetyClear))
	assert.Equal(t, SafetyClear, SafetyClear.Max(SafetyClear))
}

func TestSafetyLevel_JSON(t *testing.T) {
	b, err := json.Marshal(Analysis{Safety: SafetyCaution})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"safety":"caution"`)

	var a Analysis
	require.NoError(t, json.Unmarshal([]byte(`{"safety":"ESCALATE"}`), &a))
	assert.Equal(t, SafetyEscalate, a.Safety)

	assert.Error(t, json.Unmarshal([]byte(`{"safety":"unknown"}`), &a))
}

func TestEvidence_Key(t *testing.T) {
	a := Evidence{Source: "guide.pdf", SectionPath: []string{"운동", "유산소"}}
	b := Evidence{Source: "guide.pdf", SectionPath: []string{"운동", "유산소"}, Score: 0.1}
	c := Evidence{Source: "guide.pdf", SectionPath: []string{"운동유산소"}}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}
