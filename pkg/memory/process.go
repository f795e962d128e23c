package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/providers"
)

// Decision is the outcome of Process: which memory operation the
// utterance expressed and the natural-language reply to show the user.
type Decision struct {
	Action string `json:"action"` // store, forget, recall, none
	Reply  string `json:"reply"`
	Facts  []*domain.SemanticFact `json:"facts,omitempty"`
}

var (
	storePattern  = regexp.MustCompile(`(?i)^(please\s+)?remember\s+(that\s+)?(.+)$`)
	forgetPattern = regexp.MustCompile(`(?i)^(please\s+)?forget\s+(that\s+)?(.+)$`)
	recallPattern = regexp.MustCompile(`(?i)^(what\s+do\s+you\s+know\s+about\s+me|what\s+have\s+i\s+told\s+you|who\s+am\s+i)\b.*$`)
)

const extractionPrompt = `You extract durable personal facts from a user's message so they can be
recalled in future conversations. Given the message below, return a JSON
array of facts, each an object {"content": string, "category": string,
"confidence": number}. category must be one of: identity, preferences,
relationships, facts, skills, goals, style. content must be a short
declarative phrase. Return [] if nothing durable is present.

Message: %s`

// Processor implements the Semantic Memory Layer's Process operation.
type Processor struct {
	store    *Store
	provider providers.LLMProvider
	model    string
	implicitExtraction bool // off; NewProcessor has no option that turns it on
}

// NewProcessor wires a Store to an LLM provider used for explicit-store
// fact extraction.
func NewProcessor(store *Store, provider providers.LLMProvider, model string) *Processor {
	return &Processor{store: store, provider: provider, model: model}
}

// Process classifies the utterance as store/forget/recall/none and carries
// out the corresponding operation.
func (p *Processor) Process(ctx context.Context, utterance, sessionID string) Decision {
	trimmed := strings.TrimSpace(utterance)

	if m := storePattern.FindStringSubmatch(trimmed); m != nil {
		return p.doStore(ctx, m[3], utterance, sessionID)
	}
	if m := forgetPattern.FindStringSubmatch(trimmed); m != nil {
		return p.doForget(m[3])
	}
	if recallPattern.MatchString(trimmed) {
		return p.doRecall(trimmed)
	}

	// Generic "remember"/"forget"/recall-style phrasing that didn't match
	// the anchored patterns still routes by keyword presence.
	lower := strings.ToLower(trimmed)
	switch {
	case strings.Contains(lower, "remember"):
		return p.doStore(ctx, trimmed, utterance, sessionID)
	case strings.Contains(lower, "forget"):
		return p.doForget(trimmed)
	case strings.Contains(lower, "what do you know") || strings.Contains(lower, "about me"):
		return p.doRecall(trimmed)
	}

	if p.implicitExtraction {
		return p.doStore(ctx, trimmed, utterance, sessionID)
	}
	return Decision{Action: "none", Reply: ""}
}

func (p *Processor) doStore(ctx context.Context, phrase, sourceUtterance, sessionID string) Decision {
	facts, err := p.extractFacts(ctx, phrase)
	if err != nil || len(facts) == 0 {
		facts = fallbackExtract(phrase)
	}

	var stored []*domain.SemanticFact
	for _, f := range facts {
		f.SourceUtterance = sourceUtterance
		f.SessionID = sessionID
		saved, err := p.store.Upsert(f)
		if err != nil {
			logger.ErrorCF("memory", "fact upsert failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		stored = append(stored, saved)
	}

	if len(stored) == 0 {
		return Decision{Action: "store", Reply: "I didn't catch anything specific to remember there."}
	}
	return Decision{Action: "store", Reply: "Got it 👍", Facts: stored}
}

func (p *Processor) doForget(phrase string) Decision {
	removed := p.store.Forget(phrase)
	if len(removed) == 0 {
		return Decision{Action: "forget", Reply: "I don't think I had that stored, but consider it forgotten."}
	}
	return Decision{Action: "forget", Reply: "Done, I've forgotten that.", Facts: removed}
}

func (p *Processor) doRecall(query string) Decision {
	facts := p.store.Recall(query, 5)
	if len(facts) == 0 {
		return Decision{Action: "recall", Reply: "I don't have anything stored about that yet."}
	}
	parts := make([]string, 0, len(facts))
	for _, f := range facts {
		parts = append(parts, f.Content)
	}
	return Decision{Action: "recall", Reply: "Here's what I remember: " + strings.Join(parts, "; ") + ".", Facts: facts}
}

// extractFacts asks the LLM to pull structured facts out of a free-form
// phrase via a JSON-extraction prompt.
func (p *Processor) extractFacts(ctx context.Context, phrase string) ([]domain.SemanticFact, error) {
	if p.provider == nil {
		return nil, fmt.Errorf("no provider configured")
	}
	resp, err := p.provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: fmt.Sprintf(extractionPrompt, phrase)},
	}, nil, p.model, map[string]interface{}{"temperature": 0.0, "response_format_json": true})
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Content    string  `json:"content"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	content := extractJSONArray(resp.Content)
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}

	facts := make([]domain.SemanticFact, 0, len(raw))
	for _, r := range raw {
		if r.Content == "" {
			continue
		}
		conf := r.Confidence
		if conf <= 0 {
			conf = 0.8 // default confidence for LLM-extracted facts
		}
		cat := r.Category
		if !validCategory(cat) {
			cat = domain.CategoryFacts
		}
		facts = append(facts, domain.SemanticFact{Content: r.Content, Category: cat, Confidence: conf})
	}
	return facts, nil
}

func validCategory(c string) bool {
	switch c {
	case domain.CategoryIdentity, domain.CategoryPreferences, domain.CategoryRelationships,
		domain.CategoryFacts, domain.CategorySkills, domain.CategoryGoals, domain.CategoryStyle:
		return true
	}
	return false
}

// fallbackExtract is the rule-based extractor used when the LLM is
// unavailable or returns unparsable output.
func fallbackExtract(phrase string) []domain.SemanticFact {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil
	}
	return []domain.SemanticFact{{Content: phrase, Category: domain.CategoryFacts, Confidence: 0.6}}
}

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

func extractJSONArray(s string) string {
	if m := jsonArrayPattern.FindString(s); m != "" {
		return m
	}
	return "[]"
}
