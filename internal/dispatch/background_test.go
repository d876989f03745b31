package dispatch

import (
	"testing"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

func TestDetectBackgroundTaskMatchesTitleGeneration(t *testing.T) {
	req := mapper.Request{Messages: []mapper.Message{
		{Role: mapper.RoleUser, Parts: []mapper.Part{{Type: "text", Text: "Please do title generation for this chat."}}},
	}}
	model, ok := detectBackgroundTask(req)
	if !ok || model != backgroundTaskModel {
		t.Fatalf("expected background task detected with substitute model, got %q ok=%v", model, ok)
	}
}

func TestDetectBackgroundTaskIgnoresUnrelatedPrompt(t *testing.T) {
	req := mapper.Request{Messages: []mapper.Message{
		{Role: mapper.RoleUser, Parts: []mapper.Part{{Type: "text", Text: "write me a poem about the sea"}}},
	}}
	if _, ok := detectBackgroundTask(req); ok {
		t.Fatalf("expected unrelated prompt not to match background task detector")
	}
}

func TestTrimHistoryKeepsOnlyFinalUserMessage(t *testing.T) {
	msgs := []mapper.Message{
		{Role: mapper.RoleUser, Parts: []mapper.Part{{Type: "text", Text: "first"}}},
		{Role: mapper.RoleAssistant, Parts: []mapper.Part{{Type: "text", Text: "reply"}}},
		{Role: mapper.RoleUser, Parts: []mapper.Part{{Type: "text", Text: "summarize this conversation"}}},
	}
	out := trimHistoryForBackgroundTask(msgs)
	if len(out) != 1 || out[0].Parts[0].Text != "summarize this conversation" {
		t.Fatalf("expected only final user message kept, got %#v", out)
	}
}
