// Package dispatch implements the Direct-Automation Dispatcher: a static
// tag-to-adapter registry that executes bounded tool operations and
// renders their output. Adapters are plain functions returning a
// structured map or an error (tool-backed adapters such as gmailAdapter
// convert pkg/tools' *ToolResult into that map), indexed by intent tag
// instead of by LLM-chosen tool name.
package dispatch

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/metrics"
	"github.com/sipeed/turnhub/pkg/perrors"
)

const (
	defaultDeadline = 15 * time.Second
	mailDeadline    = 30 * time.Second
)

// AuthChecker reports whether a session holds valid delegated credentials
// for a target service (the mail family). Short-circuits adapter
// invocation when false.
type AuthChecker func(sessionID, service string) bool

// Adapter executes one direct-automation tag and returns a structured
// result or an error. Implementations must respect ctx's deadline.
type Adapter func(ctx context.Context, params map[string]interface{}, sessionID, userID string) (map[string]interface{}, error)

// Renderer turns a structured adapter result into the reply text shown to
// the user.
type Renderer func(result map[string]interface{}) string

// entry is one registry row: adapter plus its rendering templates and
// which service (if any) requires delegated auth first.
type entry struct {
	adapter       Adapter
	render        Renderer
	renderError   Renderer
	authService   string // empty = no auth required
	deadline      time.Duration
	pendingPreamble string
}

// Registry is the static tag -> adapter mapping.
type Registry struct {
	entries     map[domain.IntentTag]entry
	authChecker AuthChecker
}

// NewRegistry builds an empty registry; call Register for each
// direct-automation tag the deployment supports.
func NewRegistry(authChecker AuthChecker) *Registry {
	if authChecker == nil {
		authChecker = func(string, string) bool { return true }
	}
	return &Registry{entries: make(map[domain.IntentTag]entry), authChecker: authChecker}
}

// Register wires one tag to its adapter and templates. authService, if
// non-empty, gates the adapter behind AuthChecker (the Gmail family).
func (r *Registry) Register(tag domain.IntentTag, adapter Adapter, render, renderError Renderer, authService string, deadline time.Duration) {
	if deadline == 0 {
		deadline = defaultDeadline
	}
	r.entries[tag] = entry{
		adapter: adapter, render: render, renderError: renderError,
		authService: authService, deadline: deadline,
	}
}

// Result is the Dispatch contract's return value.
type Result struct {
	ReplyText     string
	ResultPayload map[string]interface{}
	ExecutionMS   int64
	OK            bool
	RequiresAuth  bool
}

// PendingNotifier streams a "pending" preamble (e.g. "Checking your
// inbox...") into the observable reply if the channel supports it.
// Channels without streaming support pass a no-op.
type PendingNotifier func(text string)

// Dispatch executes the adapter registered for decision.IntentTag,
// enforcing its deadline and rendering success/failure text. A missing
// registration or a ToolUnavailable failure never fails the overall
// turn: OK=false carries a localized message instead.
func Dispatch(ctx context.Context, reg *Registry, decision domain.IntentDecision, sessionID, userID string, notify PendingNotifier) Result {
	e, ok := reg.entries[decision.IntentTag]
	if !ok {
		logger.WarnCF("dispatch", "no adapter registered for tag", map[string]interface{}{"tag": decision.IntentTag})
		return Result{ReplyText: "I can't do that yet.", OK: false}
	}

	if e.authService != "" && !reg.authChecker(sessionID, e.authService) {
		return Result{
			ReplyText:    fmt.Sprintf("Please connect your %s account first, then ask me again.", e.authService),
			RequiresAuth: true,
			OK:           false,
		}
	}

	if notify != nil && e.pendingPreamble != "" {
		notify(e.pendingPreamble)
	}

	dctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	start := time.Now()
	payload, err := e.adapter(dctx, decision.Parameters, sessionID, userID)
	wallClock := time.Since(start)
	elapsed := wallClock.Milliseconds()

	if err != nil {
		wrapped := pkgerrors.Wrapf(err, "dispatch: adapter for tag %q", decision.IntentTag)
		metrics.ObserveDispatch(string(decision.IntentTag), false, wallClock)
		logger.WarnCF("dispatch", "adapter failed", map[string]interface{}{"tag": decision.IntentTag, "error": wrapped.Error()})
		text := "I couldn't complete that."
		if e.renderError != nil {
			text = e.renderError(map[string]interface{}{"error": err.Error()})
		}
		return Result{ReplyText: text, ExecutionMS: elapsed, OK: false}
	}

	metrics.ObserveDispatch(string(decision.IntentTag), true, wallClock)
	text := fmt.Sprintf("%v", payload)
	if e.render != nil {
		text = e.render(payload)
	}
	return Result{ReplyText: text, ResultPayload: payload, ExecutionMS: elapsed, OK: true}
}

// WithPreamble sets the "pending" preamble text streamed before the
// adapter runs. Returns the registry for chaining during setup.
func (r *Registry) WithPreamble(tag domain.IntentTag, text string) *Registry {
	e, ok := r.entries[tag]
	if !ok {
		return r
	}
	e.pendingPreamble = text
	r.entries[tag] = e
	return r
}

// MailDeadline is exposed so callers registering the Gmail family can
// pass a consistent 30s budget instead of the 15s default.
func MailDeadline() time.Duration { return mailDeadline }

// ErrToolUnavailable is returned by adapters that reach a dependency but
// get rejected or time out, distinguishing it from a programming error.
var ErrToolUnavailable = perrors.ErrToolUnavailable
