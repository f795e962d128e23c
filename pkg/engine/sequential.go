package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/providers"
)

// ExtractedContent holds the slots a sequential rewrite needs to carry
// forward into the approval-gated preview: subject/body for email, a post
// description and AI instructions for the post-prompt-package flow.
type ExtractedContent struct {
	Subject         string
	Body            string
	PostDescription string
	AIInstructions  string
}

var (
	subjectPattern = regexp.MustCompile(`(?is)subject\s*:\s*(.+?)(?:\n|$)`)
	bodyPattern    = regexp.MustCompile(`(?is)body\s*:\s*(.+)`)
)

// ExtractContent pulls structured slots out of a free-form draft using the
// same regex-first approach as the stage-1 pattern table, isolated here so
// it can be exercised independently with targeted tests rather than
// folding this into prompt text parsing ad hoc.
func ExtractContent(draft string) ExtractedContent {
	var out ExtractedContent
	if m := subjectPattern.FindStringSubmatch(draft); len(m) == 2 {
		out.Subject = strings.TrimSpace(m[1])
	}
	if m := bodyPattern.FindStringSubmatch(draft); len(m) == 2 {
		out.Body = strings.TrimSpace(m[1])
	}
	if out.Body == "" {
		out.Body = strings.TrimSpace(draft)
	}
	out.PostDescription = out.Subject
	out.AIInstructions = out.Body
	return out
}

// SequentialRewrite runs the two-model path: fastProvider drafts content,
// fluencyProvider rewrites it for warmth and professional tone. On any
// fluencyProvider failure it degrades to the first draft plus a warning
// log rather than failing the turn, favoring availability over polish.
func SequentialRewrite(ctx context.Context, fast providers.LLMProvider, fastModel string, fluency providers.LLMProvider, fluencyModel string, instruction, userText string) (string, error) {
	draftResp, err := fast.Chat(ctx, []providers.Message{
		{Role: "system", Content: "Draft a concise first pass. " + instruction},
		{Role: "user", Content: userText},
	}, nil, fastModel, nil)
	if err != nil {
		return "", fmt.Errorf("engine: sequential draft: %w", err)
	}

	if fluency == nil {
		return draftResp.Content, nil
	}

	rewriteResp, err := fluency.Chat(ctx, []providers.Message{
		{Role: "system", Content: "Rewrite the following draft to be warm, professional, and natural. " + instruction},
		{Role: "user", Content: draftResp.Content},
	}, nil, fluencyModel, nil)
	if err != nil {
		logger.WarnCF("engine", "sequential rewrite failed, using first-pass draft", map[string]interface{}{"error": err.Error()})
		return draftResp.Content, nil
	}
	return rewriteResp.Content, nil
}
