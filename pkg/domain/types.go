// Package domain holds the core data model shared by every pipeline
// component: turns, intent decisions, pending actions, context envelopes,
// and semantic facts.
package domain

import "time"

// RoutingLane is the downstream execution path an IntentDecision selects.
type RoutingLane string

const (
	LaneDirectAuto     RoutingLane = "direct_auto"
	LaneLLMReply       RoutingLane = "llm_reply"
	LaneApprovalGated  RoutingLane = "approval_gated"
)

// IntentTag is a symbol from the closed intent catalogue.
type IntentTag string

const (
	IntentGeneralChat                IntentTag = "general_chat"
	IntentSendEmail                  IntentTag = "send_email"
	IntentCreateEvent                IntentTag = "create_event"
	IntentAddTodo                    IntentTag = "add_todo"
	IntentSetReminder                IntentTag = "set_reminder"
	IntentGeneratePostPromptPackage  IntentTag = "generate_post_prompt_package"
	IntentWebSearch                  IntentTag = "web_search"
	IntentCheckGmailInbox            IntentTag = "check_gmail_inbox"
	IntentCheckGmailUnread           IntentTag = "check_gmail_unread"
	IntentEmailInboxCheck            IntentTag = "email_inbox_check"
	IntentSummarizeGmailEmails       IntentTag = "summarize_gmail_emails"
	IntentSearchGmailEmails          IntentTag = "search_gmail_emails"
	IntentCategorizeGmailEmails      IntentTag = "categorize_gmail_emails"
	IntentGmailSmartActions          IntentTag = "gmail_smart_actions"
	IntentCheckLinkedInNotifications IntentTag = "check_linkedin_notifications"
	IntentLinkedInJobAlerts          IntentTag = "linkedin_job_alerts"
	IntentScrapePrice                IntentTag = "scrape_price"
	IntentScrapeProductListings      IntentTag = "scrape_product_listings"
	IntentScrapeNewsArticles         IntentTag = "scrape_news_articles"
	IntentCheckWebsiteUpdates        IntentTag = "check_website_updates"
	IntentMonitorCompetitors         IntentTag = "monitor_competitors"
	IntentGetCurrentWeather          IntentTag = "get_current_weather"
	IntentGetWeatherForecast         IntentTag = "get_weather_forecast"
	IntentGetAirQualityIndex         IntentTag = "get_air_quality_index"
	IntentGetWeatherAlerts           IntentTag = "get_weather_alerts"
	IntentGetSunTimes                IntentTag = "get_sun_times"
	IntentCreativeWriting            IntentTag = "creative_writing"
	IntentMemoryOperation            IntentTag = "memory_operation"
)

// DirectAutomationSet is the closed set of tags the dispatcher runs without
// approval.
var DirectAutomationSet = map[IntentTag]bool{
	IntentCheckGmailInbox:            true,
	IntentCheckGmailUnread:           true,
	IntentEmailInboxCheck:            true,
	IntentSummarizeGmailEmails:       true,
	IntentSearchGmailEmails:          true,
	IntentCategorizeGmailEmails:      true,
	IntentGmailSmartActions:          true,
	IntentCheckLinkedInNotifications: true,
	IntentLinkedInJobAlerts:          true,
	IntentScrapePrice:                true,
	IntentScrapeProductListings:      true,
	IntentScrapeNewsArticles:         true,
	IntentCheckWebsiteUpdates:        true,
	IntentMonitorCompetitors:         true,
	IntentGetCurrentWeather:          true,
	IntentGetWeatherForecast:         true,
	IntentGetAirQualityIndex:         true,
	IntentGetWeatherAlerts:           true,
	IntentGetSunTimes:                true,
	IntentWebSearch:                  true,
}

// ApprovalGatedSet is the closed set of tags requiring confirmation.
var ApprovalGatedSet = map[IntentTag]bool{
	IntentSendEmail:                 true,
	IntentGeneratePostPromptPackage: true,
}

// Turn is one inbound utterance plus its produced reply.
// Immutable once written; ordered by CreatedAt within a session.
type Turn struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Channel        string    `json:"channel"`
	UserText       string    `json:"user_text"`
	AIText         string    `json:"ai_text"`
	Intent         IntentTag `json:"intent"`
	Routing        RoutingLane `json:"routing"`
	NeedsApproval  bool      `json:"needs_approval"`
	CreatedAt      time.Time `json:"created_at"`
}

// Dimensions holds the eight stage-2 classification axes.
type Dimensions struct {
	EmotionalComplexity       string `json:"emotional_complexity"`        // low, med, high
	ProfessionalToneRequired  bool   `json:"professional_tone_required"`
	CreativeRequirement       string `json:"creative_requirement"`        // none, low, med, high
	TechnicalComplexity       string `json:"technical_complexity"`        // simple, moderate, complex
	ResponseLength            string `json:"response_length"`            // short, med, long
	EngagementLevel           string `json:"engagement_level"`            // informational, conversational, interactive
	ContextDependency         string `json:"context_dependency"`          // none, session, historical
	ReasoningType             string `json:"reasoning_type"`              // logical, emotional, creative, analytical
}

// IntentDecision is the classifier's output for one turn.
type IntentDecision struct {
	IntentTag   IntentTag              `json:"intent_tag"`
	Parameters  map[string]interface{} `json:"parameters"`
	Confidence  float64                `json:"confidence"`
	RoutingLane RoutingLane            `json:"routing_lane"`
	Explanation string                 `json:"explanation"`
	Dimensions  Dimensions             `json:"dimensions"`
}

// PendingAction is a not-yet-confirmed side-effectful payload, keyed by
// session_id; at most one per session.
type PendingAction struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	IntentTag   IntentTag              `json:"intent_tag"`
	Fields      map[string]interface{} `json:"fields"`
	PreviewText string                 `json:"preview_text"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Expired reports whether the pending action has outlived its 30-minute
// confirmation window.
func (p *PendingAction) Expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > 30*time.Minute
}

// ContextEnvelope is the object written to the context store.
type ContextEnvelope struct {
	SessionID string                 `json:"session_id"`
	UserID    string                 `json:"user_id"`
	IntentTag IntentTag              `json:"intent_tag"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// AppendedResult is an addendum written after the initial envelope.
// Source identifies what produced it.
type AppendedResult struct {
	SessionID string                 `json:"session_id"`
	AppendID  string                 `json:"append_id"`
	Source    string                 `json:"source"` // engine, tool, approval, external_agent
	Output    map[string]interface{} `json:"output"`
	CreatedAt time.Time              `json:"created_at"`
}

// SemanticFact is a deduplicated personal fact/preference about a user.
type SemanticFact struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"` // normalised lowercase phrase
	Category        string    `json:"category"`
	Confidence      float64   `json:"confidence"`
	SourceUtterance string    `json:"source_utterance"`
	SessionID       string    `json:"session_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// FactCategory enumerates SemanticFact.Category values.
const (
	CategoryIdentity      = "identity"
	CategoryPreferences   = "preferences"
	CategoryRelationships = "relationships"
	CategoryFacts         = "facts"
	CategorySkills        = "skills"
	CategoryGoals         = "goals"
	CategoryStyle         = "style"
)
