package tools

// ToolResult is the shared return type every tool's Execute produces:
// ForLLM is shown back to the model, IsError flags a failure, Silent
// marks a result the user already saw directly (so it shouldn't be
// echoed again), and Err carries the underlying error for logging.
type ToolResult struct {
	ForLLM  string
	IsError bool
	Silent  bool
	Err     error
}

// ErrorResult builds a failed ToolResult from a message.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

// SilentResult builds a successful ToolResult whose content the user has
// already seen, so callers should not re-render it verbatim.
func SilentResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content, Silent: true}
}

// SuccessResult builds a successful, non-silent ToolResult.
func SuccessResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content}
}
