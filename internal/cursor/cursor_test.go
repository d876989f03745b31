package cursor

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestDetectDialectAnthropicLike(t *testing.T) {
	raw := []byte(`{"messages":[{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"x","input":{}}]}]}`)
	if got := DetectDialect(raw); got != DialectAnthropicLike {
		t.Fatalf("expected anthropic_like, got %q", got)
	}
}

func TestDetectDialectOpenAIChat(t *testing.T) {
	raw := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	if got := DetectDialect(raw); got != DialectOpenAIChat {
		t.Fatalf("expected openai_chat, got %q", got)
	}
}

func TestToOpenAIChatConvertsToolUseAndResult(t *testing.T) {
	raw := []byte(`{
		"model": "claude-shim",
		"messages": [
			{"role": "user", "content": "run the tool"},
			{"role": "assistant", "content": [{"type": "tool_use", "id": "t1", "name": "run", "input": {"x": 1}}]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "t1", "content": "done"}]}
		]
	}`)
	out, err := ToOpenAIChat(raw)
	if err != nil {
		t.Fatalf("ToOpenAIChat: %v", err)
	}
	msgs := gjson.GetBytes(out, "messages").Array()
	var sawToolCall, sawToolMessage bool
	for _, m := range msgs {
		if m.Get("tool_calls.0.id").String() == "t1" {
			sawToolCall = true
		}
		if m.Get("role").String() == "tool" && m.Get("tool_call_id").String() == "t1" {
			sawToolMessage = true
		}
	}
	if !sawToolCall || !sawToolMessage {
		t.Fatalf("expected converted tool_calls + tool role message, got %s", out)
	}
}

func TestReasoningHideDropsReasoningContent(t *testing.T) {
	r := NewReasoningRewriter(ReasoningHide)
	frame := []byte(`{"choices":[{"delta":{"reasoning_content":"thinking..."}}]}`)
	out, err := r.RewriteFrame(frame)
	if err != nil {
		t.Fatalf("RewriteFrame: %v", err)
	}
	if gjson.GetBytes(out, "choices.0.delta.reasoning_content").Exists() {
		t.Fatalf("expected reasoning_content dropped in hide mode, got %s", out)
	}
}

func TestReasoningThinkTagsOpensAndClosesAcrossFrames(t *testing.T) {
	r := NewReasoningRewriter(ReasoningThinkTags)
	first, err := r.RewriteFrame([]byte(`{"choices":[{"delta":{"reasoning_content":"step one"}}]}`))
	if err != nil {
		t.Fatalf("RewriteFrame first: %v", err)
	}
	if got := gjson.GetBytes(first, "choices.0.delta.content").String(); got != "<think>step one" {
		t.Fatalf("expected opening <think> tag on first reasoning delta, got %q", got)
	}

	second, err := r.RewriteFrame([]byte(`{"choices":[{"delta":{"content":"the answer"}}]}`))
	if err != nil {
		t.Fatalf("RewriteFrame second: %v", err)
	}
	if got := gjson.GetBytes(second, "choices.0.delta.content").String(); got != "</think>the answer" {
		t.Fatalf("expected closing </think> tag on first non-reasoning delta, got %q", got)
	}
}

func TestReasoningInlineFoldsContentWithSeparator(t *testing.T) {
	r := NewReasoningRewriter(ReasoningInline)
	out, err := r.RewriteFrame([]byte(`{"choices":[{"delta":{"reasoning_content":"thinking","content":"answer"}}]}`))
	if err != nil {
		t.Fatalf("RewriteFrame: %v", err)
	}
	got := gjson.GetBytes(out, "choices.0.delta.content").String()
	if got != "thinking\n\nanswer" {
		t.Fatalf("expected folded content, got %q", got)
	}
	if gjson.GetBytes(out, "choices.0.delta.reasoning_content").Exists() {
		t.Fatalf("expected reasoning_content removed after inlining, got %s", out)
	}
}
