package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/turnhub/pkg/domain"
)

func TestIsConfirmation(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"send", true},
		{"yes", true},
		{"go ahead", true},
		{"ok", true},
		{"yes please send it", true},
		{"no, wait", false},
		{"what's my inbox look like", false},
		{"send it to bob@example.com", false}, // email token disqualifies
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsConfirmation(tc.text), "text=%q", tc.text)
	}
}

func TestIsRejection(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"no", true},
		{"cancel", true},
		{"never mind", true},
		{"stop that", true},
		{"send it", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRejection(tc.text), "text=%q", tc.text)
	}
}

func TestEnterAndPending(t *testing.T) {
	p := New("", nil)
	decision := domain.IntentDecision{
		IntentTag:  domain.IntentSendEmail,
		Parameters: map[string]interface{}{"recipient_name": "Alex", "subject": "Report", "body": "See attached."},
	}

	preview := p.Enter("s1", decision)
	require.NotNil(t, preview.Action)
	assert.Contains(t, preview.PreviewText, "Alex")
	assert.Contains(t, preview.PreviewText, "Report")

	pending := p.Pending("s1")
	require.NotNil(t, pending)
	assert.Equal(t, domain.IntentSendEmail, pending.IntentTag)
}

func TestPending_ExpiresAfterWindow(t *testing.T) {
	p := New("", nil)
	p.Enter("s1", domain.IntentDecision{IntentTag: domain.IntentSendEmail})

	p.mu.Lock()
	p.pending["s1"].CreatedAt = time.Now().Add(-31 * time.Minute)
	p.mu.Unlock()

	assert.Nil(t, p.Pending("s1"))
}

func TestConfirm_NoPendingAction(t *testing.T) {
	p := New("", nil)
	_, err := p.Confirm(context.Background(), "missing", "user")
	assert.Error(t, err)
}

func TestConfirm_ExpiredAction(t *testing.T) {
	p := New("", nil)
	p.Enter("s1", domain.IntentDecision{IntentTag: domain.IntentSendEmail})
	p.mu.Lock()
	p.pending["s1"].CreatedAt = time.Now().Add(-31 * time.Minute)
	p.mu.Unlock()

	_, err := p.Confirm(context.Background(), "s1", "user")
	assert.Error(t, err)
}

func TestConfirm_NoWebhookConfigured(t *testing.T) {
	p := New("", nil)
	p.Enter("s1", domain.IntentDecision{IntentTag: domain.IntentSendEmail})

	result, err := p.Confirm(context.Background(), "s1", "user")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Nil(t, p.Pending("s1"))
}

func TestReject(t *testing.T) {
	p := New("", nil)
	p.Enter("s1", domain.IntentDecision{IntentTag: domain.IntentSendEmail})

	assert.True(t, p.Reject("s1"))
	assert.Nil(t, p.Pending("s1"))
	assert.False(t, p.Reject("s1"))
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	p := New("", nil)
	p.Enter("fresh", domain.IntentDecision{IntentTag: domain.IntentSendEmail})
	p.Enter("stale", domain.IntentDecision{IntentTag: domain.IntentSendEmail})

	p.mu.Lock()
	p.pending["stale"].CreatedAt = time.Now().Add(-31 * time.Minute)
	p.mu.Unlock()

	removed := p.Sweep()
	assert.Equal(t, 1, removed)
	assert.NotNil(t, p.Pending("fresh"))

	p.mu.Lock()
	_, staleStillThere := p.pending["stale"]
	p.mu.Unlock()
	assert.False(t, staleStillThere)
}
