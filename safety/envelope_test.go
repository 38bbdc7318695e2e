package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/counselflow/types"
)

func TestBuildEnvelope(t *testing.T) {
	clear := BuildEnvelope(types.SafetyClear)
	assert.Nil(t, clear.Annotation())
	assert.Empty(t, clear.AnswerOverride)

	caution := BuildEnvelope(types.SafetyCaution)
	require.NotNil(t, caution.Annotation())
	assert.Equal(t, "의학적 주의가 필요한 내용", caution.BannerTitle)
	assert.Empty(t, caution.AnswerOverride)

	esc := BuildEnvelope(types.SafetyEscalate)
	ann := esc.Annotation()
	require.NotNil(t, ann)
	assert.Equal(t, types.SafetyEscalate, ann.Level)
	assert.Equal(t, EscalationOverride, esc.AnswerOverride)
	assert.Contains(t, esc.AnswerOverride, MandatoryPhrase)
}

func TestEnvelope_AppendGuidance(t *testing.T) {
	env := BuildEnvelope(types.SafetyCaution)

	got := env.AppendGuidance("주 3회 걷기를 권장합니다.")
	assert.True(t, strings.HasSuffix(got, env.EscalationCopy))
	assert.Contains(t, got, "권장합니다. 의학적")

	got = env.AppendGuidance("주 3회 걷기를 권장합니다")
	assert.Contains(t, got, "권장합니다. 의학적")

	// idempotent
	assert.Equal(t, got, env.AppendGuidance(got))

	assert.Equal(t, "answer", BuildEnvelope(types.SafetyClear).AppendGuidance("answer"))
}

func TestRatchet(t *testing.T) {
	r := NewRatchet(types.SafetyCaution, false, nil)
	assert.Equal(t, types.SafetyCaution, r.Raise(types.SafetyClear))
	assert.Equal(t, types.SafetyEscalate, r.Observe(types.StageSynthesizing, types.SafetyEscalate))

	assert.PanicsWithError(t,
		"[SAFETY_ESCALATION_CONFLICT] stage Synthesizing reported clear after escalate",
		func() { r.Observe(types.StageSynthesizing, types.SafetyClear) })

	prod := NewRatchet(types.SafetyCaution, true, nil)
	assert.NotPanics(t, func() {
		assert.Equal(t, types.SafetyEscalate, prod.Observe(types.StageMerging, types.SafetyClear))
	})
	assert.Equal(t, types.SafetyEscalate, prod.Level())
}
