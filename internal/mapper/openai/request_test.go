package openai

import (
	"testing"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

func TestDetectDialectChat(t *testing.T) {
	if got := DetectDialect([]byte(`{"messages":[{"role":"user","content":"hi"}]}`)); got != DialectChat {
		t.Fatalf("expected chat dialect, got %q", got)
	}
}

func TestDetectDialectResponses(t *testing.T) {
	if got := DetectDialect([]byte(`{"instructions":"be nice","input":"hi"}`)); got != DialectResponses {
		t.Fatalf("expected responses dialect, got %q", got)
	}
}

func TestDetectDialectLegacy(t *testing.T) {
	if got := DetectDialect([]byte(`{"prompt":"hi"}`)); got != DialectLegacy {
		t.Fatalf("expected legacy dialect, got %q", got)
	}
}

func TestChatToolCallRoundTripsToCanonicalToolUse(t *testing.T) {
	raw := []byte(`{
		"model": "gpt",
		"messages": [
			{"role": "user", "content": "what's the weather"},
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"NYC\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "sunny"}
		]
	}`)
	out := ToCanonical(raw)
	if len(out.Messages) != 3 {
		t.Fatalf("expected 3 canonical messages, got %d", len(out.Messages))
	}
	toolMsg := out.Messages[2]
	if toolMsg.Role != mapper.RoleTool || toolMsg.Parts[0].ToolResultFor != "call_1" {
		t.Fatalf("expected tool message referencing call_1, got %#v", toolMsg)
	}
}

func TestResponsesInputStringBecomesUserMessage(t *testing.T) {
	raw := []byte(`{"model": "gpt", "instructions": "be terse", "input": "hello there"}`)
	out := ToCanonical(raw)
	if out.System != "be terse" {
		t.Fatalf("expected instructions mapped to system, got %q", out.System)
	}
	if len(out.Messages) != 1 || out.Messages[0].Parts[0].Text != "hello there" {
		t.Fatalf("expected single user message with input text, got %#v", out.Messages)
	}
}

func TestResponsesTypedInputPairsFunctionCallWithOutput(t *testing.T) {
	raw := []byte(`{
		"model": "gpt",
		"input": [
			{"type": "message", "role": "user", "content": [{"type": "input_text", "text": "run the tool"}]},
			{"type": "function_call", "call_id": "c1", "name": "run", "arguments": "{}"},
			{"type": "function_call_output", "call_id": "c1", "output": "done"}
		]
	}`)
	out := ToCanonical(raw)
	var sawToolUse, sawToolResult bool
	for _, m := range out.Messages {
		for _, p := range m.Parts {
			if p.Type == "tool_use" && p.ToolCallID == "c1" {
				sawToolUse = true
			}
			if p.Type == "tool_result" && p.ToolResultFor == "c1" && p.Text == "done" {
				sawToolResult = true
			}
		}
	}
	if !sawToolUse || !sawToolResult {
		t.Fatalf("expected paired tool_use/tool_result for call_id c1, got %#v", out.Messages)
	}
}
