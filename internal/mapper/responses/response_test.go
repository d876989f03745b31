package responses

import (
	"testing"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

func TestFromUpstreamEmitsMessageAndFunctionCallItems(t *testing.T) {
	candidates := []mapper.UpstreamCandidate{{
		FinishReason: "STOP",
		Parts: []mapper.UpstreamPart{
			{Text: "here is the answer"},
			{FunctionCall: &mapper.FunctionCall{Name: "lookup", ID: "call_1", Args: map[string]interface{}{"q": "x"}}},
		},
	}}
	resp := FromUpstream("resp_1", "gemini-2.5-pro", candidates, mapper.UpstreamUsage{PromptTokens: 10, CandidateTokens: 5})

	if len(resp.Output) != 2 {
		t.Fatalf("expected message + function_call output items, got %d", len(resp.Output))
	}
	if resp.Output[0].Type != "message" || resp.Output[0].Content[0].Text != "here is the answer" {
		t.Fatalf("expected first output item to be the text message, got %#v", resp.Output[0])
	}
	if resp.Output[1].Type != "function_call" || resp.Output[1].CallID != "call_1" {
		t.Fatalf("expected second output item to be the function_call, got %#v", resp.Output[1])
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("expected usage carried through, got %#v", resp.Usage)
	}
}
