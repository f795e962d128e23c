package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sipeed/turnhub/pkg/domain"
)

func TestMatchStage1_NoMatch(t *testing.T) {
	tag, conf, ok := matchStage1("what do you think about the meaning of life")
	assert.False(t, ok)
	assert.Equal(t, domain.IntentTag(""), tag)
	assert.Zero(t, conf)
}

func TestMatchStage1_EmptyInput(t *testing.T) {
	_, _, ok := matchStage1("   ")
	assert.False(t, ok)
}

func TestMatchStage1_PatternFamilies(t *testing.T) {
	cases := []struct {
		name string
		text string
		tag  domain.IntentTag
	}{
		{"gmail inbox", "can you check my gmail inbox", domain.IntentCheckGmailInbox},
		{"gmail unread", "any unread emails?", domain.IntentCheckGmailUnread},
		{"gmail summarize", "summarize my emails from today", domain.IntentSummarizeGmailEmails},
		{"gmail search", "search my email for invoices", domain.IntentSearchGmailEmails},
		{"gmail categorize", "categorize my emails", domain.IntentCategorizeGmailEmails},
		{"linkedin notifications", "show my linkedin notifications", domain.IntentCheckLinkedInNotifications},
		{"linkedin job alerts", "check linkedin job alerts", domain.IntentLinkedInJobAlerts},
		{"scrape price", "scrape the price of this laptop", domain.IntentScrapePrice},
		{"scrape product listings", "scrape product listings from this site", domain.IntentScrapeProductListings},
		{"website updates", "check website updates for this page", domain.IntentCheckWebsiteUpdates},
		{"monitor competitors", "monitor competitors pricing", domain.IntentMonitorCompetitors},
		{"scrape news", "scrape news articles about ai", domain.IntentScrapeNewsArticles},
		{"weather current", "what's the weather today", domain.IntentGetCurrentWeather},
		{"weather forecast", "is it going to rain tomorrow", domain.IntentGetWeatherForecast},
		{"air quality", "what's the aqi right now", domain.IntentGetAirQualityIndex},
		{"weather alerts", "any weather alerts nearby", domain.IntentGetWeatherAlerts},
		{"sun times", "what time is sunset", domain.IntentGetSunTimes},
		{"web search", "search best pizza places nearby", domain.IntentWebSearch},
		{"send email", "send an email to my manager", domain.IntentSendEmail},
		{"create event", "schedule a meeting with the team", domain.IntentCreateEvent},
		{"add todo", "add a todo to buy milk", domain.IntentAddTodo},
		{"set reminder", "remind me to call mom", domain.IntentSetReminder},
		{"post prompt package", "generate a social post prompt package for launch", domain.IntentGeneratePostPromptPackage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tag, conf, ok := matchStage1(tc.text)
			assert.True(t, ok, "expected a match for %q", tc.text)
			assert.Equal(t, tc.tag, tag)
			assert.Greater(t, conf, 0.0)
		})
	}
}

func TestMatchStage1_HighestConfidenceWins(t *testing.T) {
	// "search my email for invoices" matches both the generic web-search
	// pattern (0.8) and the gmail-search pattern (0.9); the higher
	// confidence rule must win regardless of table order.
	tag, conf, ok := matchStage1("search my email for invoices")
	assert.True(t, ok)
	assert.Equal(t, domain.IntentSearchGmailEmails, tag)
	assert.Equal(t, 0.9, conf)
}
