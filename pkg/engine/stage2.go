package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/providers"
)

const intentTaxonomyPreamble = `You classify user messages for a conversational assistant gateway.
Return ONLY a JSON object: {"intent_tag": string, "parameters": object,
"confidence": number between 0 and 1}.
intent_tag must be exactly one of: general_chat, send_email, create_event,
add_todo, set_reminder, generate_post_prompt_package, web_search,
check_gmail_inbox, check_gmail_unread, email_inbox_check,
summarize_gmail_emails, search_gmail_emails, categorize_gmail_emails,
gmail_smart_actions, check_linkedin_notifications, linkedin_job_alerts,
scrape_price, scrape_product_listings, scrape_news_articles,
check_website_updates, monitor_competitors, get_current_weather,
get_weather_forecast, get_air_quality_index, get_weather_alerts,
get_sun_times, creative_writing, memory_operation.
parameters should capture any slots mentioned (e.g. location, recipient_name,
subject, body, days). If nothing else applies, use general_chat.`

const slotExtractionPrompt = `The message below has already been classified as intent "%s". Extract
any parameters it mentions (e.g. location, recipient_name, subject, body,
days) as a JSON object under the key "parameters". Do not change or
restate the intent. If nothing applies, return {"parameters": {}}.

Message: %s`

const dimensionsPrompt = `Given the user's message and its intent tag, score these eight dimensions
and return ONLY a JSON object with these exact keys:
{"emotional_complexity": "low|med|high",
 "professional_tone_required": true|false,
 "creative_requirement": "none|low|med|high",
 "technical_complexity": "simple|moderate|complex",
 "response_length": "short|med|long",
 "engagement_level": "informational|conversational|interactive",
 "context_dependency": "none|session|historical",
 "reasoning_type": "logical|emotional|creative|analytical"}

Intent: %s
Message: %s`

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func extractJSONObject(s string) string {
	if m := jsonObjectPattern.FindString(s); m != "" {
		return m
	}
	return "{}"
}

type stage1Response struct {
	IntentTag  string                 `json:"intent_tag"`
	Parameters map[string]interface{} `json:"parameters"`
	Confidence float64                `json:"confidence"`
}

// classifyRemote calls the fast-structured provider for the tag + slots,
// retrying once with a stricter system message on malformed JSON before
// falling back to general_chat.
func classifyRemote(ctx context.Context, provider providers.LLMProvider, model, text string) (domain.IntentTag, map[string]interface{}, float64, error) {
	resp, err := provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: intentTaxonomyPreamble},
		{Role: "user", Content: text},
	}, nil, model, map[string]interface{}{"temperature": 0.0, "response_format_json": true})
	if err == nil {
		if tag, params, conf, ok := parseStage1(resp.Content); ok {
			return tag, params, conf, nil
		}
	}

	// Retry once with a stricter system message.
	resp, err = provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: intentTaxonomyPreamble + "\nRespond with JSON ONLY. No prose, no markdown fences."},
		{Role: "user", Content: text},
	}, nil, model, map[string]interface{}{"temperature": 0.0, "response_format_json": true})
	if err != nil {
		return "", nil, 0, fmt.Errorf("stage1 classify: %w", err)
	}
	if tag, params, conf, ok := parseStage1(resp.Content); ok {
		return tag, params, conf, nil
	}

	logger.WarnCF("engine", "stage1 classifier returned malformed JSON twice, falling back to general_chat", nil)
	return domain.IntentGeneralChat, map[string]interface{}{}, 0.5, nil
}

func parseStage1(content string) (domain.IntentTag, map[string]interface{}, float64, bool) {
	var parsed stage1Response
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &parsed); err != nil || parsed.IntentTag == "" {
		return "", nil, 0, false
	}
	return domain.IntentTag(parsed.IntentTag), parsed.Parameters, parsed.Confidence, true
}

type slotResponse struct {
	Parameters map[string]interface{} `json:"parameters"`
}

// extractSlots is consulted after a stage-1 pattern-table hit to enrich
// Parameters; it never revisits the intent tag, only fills in the slots
// the pattern table itself can't capture (location, recipient_name,
// subject, body, days, ...). Failures degrade to an empty parameter set
// rather than blocking the already-decided tag.
func extractSlots(ctx context.Context, provider providers.LLMProvider, model string, tag domain.IntentTag, text string) map[string]interface{} {
	resp, err := provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: fmt.Sprintf(slotExtractionPrompt, tag, text)},
	}, nil, model, map[string]interface{}{"temperature": 0.0, "response_format_json": true})
	if err != nil {
		return map[string]interface{}{}
	}

	var parsed slotResponse
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &parsed); err != nil || parsed.Parameters == nil {
		return map[string]interface{}{}
	}
	return parsed.Parameters
}

// scoreDimensions calls the fast-structured provider for the eight
// dimension axes, falling back to per-tag-family defaults on any failure.
func scoreDimensions(ctx context.Context, provider providers.LLMProvider, model string, tag domain.IntentTag, text string) domain.Dimensions {
	resp, err := provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: fmt.Sprintf(dimensionsPrompt, tag, text)},
	}, nil, model, map[string]interface{}{"temperature": 0.0, "response_format_json": true})
	if err != nil {
		return defaultDimensions(tag)
	}

	var dims domain.Dimensions
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &dims); err != nil {
		return defaultDimensions(tag)
	}
	return fillDimensionDefaults(dims, tag)
}

// defaultDimensions returns sensible per-tag-family defaults when the
// dimension classifier is unavailable.
func defaultDimensions(tag domain.IntentTag) domain.Dimensions {
	if domain.DirectAutomationSet[tag] {
		return domain.Dimensions{
			EmotionalComplexity: "low", CreativeRequirement: "none",
			TechnicalComplexity: "simple", ResponseLength: "short",
			EngagementLevel: "informational", ContextDependency: "none",
			ReasoningType: "logical",
		}
	}
	if domain.ApprovalGatedSet[tag] {
		return domain.Dimensions{
			EmotionalComplexity: "low", ProfessionalToneRequired: true,
			CreativeRequirement: "low", TechnicalComplexity: "simple",
			ResponseLength: "med", EngagementLevel: "conversational",
			ContextDependency: "session", ReasoningType: "logical",
		}
	}
	return domain.Dimensions{
		EmotionalComplexity: "med", CreativeRequirement: "low",
		TechnicalComplexity: "simple", ResponseLength: "med",
		EngagementLevel: "conversational", ContextDependency: "session",
		ReasoningType: "emotional",
	}
}

// fillDimensionDefaults patches any empty field left by a partial LLM response.
func fillDimensionDefaults(dims domain.Dimensions, tag domain.IntentTag) domain.Dimensions {
	def := defaultDimensions(tag)
	if dims.EmotionalComplexity == "" {
		dims.EmotionalComplexity = def.EmotionalComplexity
	}
	if dims.CreativeRequirement == "" {
		dims.CreativeRequirement = def.CreativeRequirement
	}
	if dims.TechnicalComplexity == "" {
		dims.TechnicalComplexity = def.TechnicalComplexity
	}
	if dims.ResponseLength == "" {
		dims.ResponseLength = def.ResponseLength
	}
	if dims.EngagementLevel == "" {
		dims.EngagementLevel = def.EngagementLevel
	}
	if dims.ContextDependency == "" {
		dims.ContextDependency = def.ContextDependency
	}
	if dims.ReasoningType == "" {
		dims.ReasoningType = def.ReasoningType
	}
	return dims
}
