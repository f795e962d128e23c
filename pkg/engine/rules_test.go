package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/turnhub/pkg/domain"
)

func TestRuleTable_DirectAutomationWins(t *testing.T) {
	rt, err := NewRuleTable()
	require.NoError(t, err)

	lane, err := rt.Evaluate(domain.IntentGetCurrentWeather, domain.Dimensions{})
	require.NoError(t, err)
	assert.Equal(t, domain.LaneDirectAuto, lane)
}

func TestRuleTable_ApprovalGated(t *testing.T) {
	rt, err := NewRuleTable()
	require.NoError(t, err)

	lane, err := rt.Evaluate(domain.IntentSendEmail, domain.Dimensions{})
	require.NoError(t, err)
	assert.Equal(t, domain.LaneApprovalGated, lane)
}

func TestRuleTable_FallsBackToLLMReply(t *testing.T) {
	rt, err := NewRuleTable()
	require.NoError(t, err)

	lane, err := rt.Evaluate(domain.IntentGeneralChat, domain.Dimensions{})
	require.NoError(t, err)
	assert.Equal(t, domain.LaneLLMReply, lane)
}

func TestNeedsSequentialRewrite(t *testing.T) {
	cases := []struct {
		name string
		dims domain.Dimensions
		want bool
	}{
		{"professional and medium creative", domain.Dimensions{ProfessionalToneRequired: true, CreativeRequirement: "med"}, true},
		{"professional and high creative", domain.Dimensions{ProfessionalToneRequired: true, CreativeRequirement: "high"}, true},
		{"professional but no creative", domain.Dimensions{ProfessionalToneRequired: true, CreativeRequirement: "none"}, false},
		{"creative but not professional", domain.Dimensions{ProfessionalToneRequired: false, CreativeRequirement: "high"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NeedsSequentialRewrite(tc.dims))
		})
	}
}
