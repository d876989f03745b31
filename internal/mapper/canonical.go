// Package mapper converts between the three client-facing protocol dialects
// (OpenAI Chat/Legacy/Responses, Anthropic Messages) and the canonical
// message model that internal/dispatch feeds into the upstream request
// builder (C7, spec.md §4.7).
//
// Grounded on the teacher's internal/infrastructure/llm/anthropic/types.go
// and internal/infrastructure/llm/openai/types.go (the request/response
// struct shapes), generalized from "one struct per provider" into a single
// canonical intermediate representation shared by all three conversion
// directions, per original_source's proxy/translation/chat.rs.
package mapper

// canonical message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part is one piece of a canonical message's content.
type Part struct {
	Type string // "text" | "image" | "document" | "thinking" | "redacted_thinking" | "tool_use" | "tool_result"

	Text string

	// image/document
	MimeType string
	Data     string // base64

	// thinking
	Signature string

	// tool_use
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]interface{}

	// tool_result
	ToolResultFor string
	ToolIsError   bool
}

// Message is one canonical conversation turn.
type Message struct {
	Role  string
	Parts []Part
}

// ToolDef is a canonical tool/function declaration.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// Request is the canonical, protocol-agnostic chat request C9 builds before
// handing off to internal/schema (cleaning tool schemas) and then to the
// upstream-specific request builder.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDef
	Stream      bool
	MaxTokens   int
	Temperature float64
	ThinkingOn  bool
	SessionID   string
}

// mergeAdjacentSameRole merges consecutive messages sharing a role into one,
// concatenating their parts in order (spec.md §4.7's "adjacent same-role
// messages are merged").
func mergeAdjacentSameRole(msgs []Message) []Message {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]Message, 0, len(msgs))
	out = append(out, msgs[0])
	for _, m := range msgs[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role {
			last.Parts = append(last.Parts, m.Parts...)
			continue
		}
		out = append(out, m)
	}
	return out
}
