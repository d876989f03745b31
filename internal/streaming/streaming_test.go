package streaming

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/nimbusroute/gatewind/internal/mapper"
	"github.com/nimbusroute/gatewind/internal/sigcache"
)

func makeFunctionCallFrame(name string, args map[string]interface{}) Frame {
	return Frame{Candidates: []mapper.UpstreamCandidate{{
		Parts: []mapper.UpstreamPart{{FunctionCall: &mapper.FunctionCall{Name: name, ID: "call_1", Args: args}}},
	}}}
}

func makeTextFrame(text, finishReason string) Frame {
	return Frame{Candidates: []mapper.UpstreamCandidate{{
		FinishReason: finishReason,
		Parts:        []mapper.UpstreamPart{{Text: text}},
	}}}
}

func makeThinkingFrame(text string) Frame {
	sig := strings.Repeat("a", 60)
	return Frame{Candidates: []mapper.UpstreamCandidate{{
		Parts: []mapper.UpstreamPart{{Text: text, Thought: true, ThoughtSignature: sig}},
	}}}
}

func TestDecoderSkipsHeartbeatsAndParsesDataFrame(t *testing.T) {
	body := ": ping\n\ndata: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hi\"}]},\"finishReason\":\"STOP\"}]}\n\ndata: [DONE]\n\n"
	d := NewDecoder(strings.NewReader(body))

	frame, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(frame.Candidates) != 1 || frame.Candidates[0].Parts[0].Text != "hi" {
		t.Fatalf("expected decoded text part 'hi', got %#v", frame)
	}

	_, err = d.Next(context.Background())
	if err == nil {
		t.Fatalf("expected io.EOF-equivalent error after [DONE], got nil")
	}
}

func TestStateDedupsRepeatedFunctionCall(t *testing.T) {
	state := NewState("sess-1", sigcache.New(), "gemini")

	f1 := makeFunctionCallFrame("lookup", map[string]interface{}{"q": "x"})
	emitted1 := state.Observe(f1)
	emitted2 := state.Observe(f1)
	if len(emitted1) != 1 {
		t.Fatalf("expected first observation to emit the call, got %d parts", len(emitted1))
	}
	if len(emitted2) != 0 {
		t.Fatalf("expected duplicate function call to be deduped, got %d parts", len(emitted2))
	}
}

func TestStateObserveRecordsFamilyAndToolUseSignature(t *testing.T) {
	cache := sigcache.New()
	state := NewState("sess-1", cache, "gemini")

	sig := strings.Repeat("a", 60)
	thinkingFrame := Frame{Candidates: []mapper.UpstreamCandidate{{
		Parts: []mapper.UpstreamPart{{Text: "reasoning", Thought: true, ThoughtSignature: sig}},
	}}}
	state.Observe(thinkingFrame)

	if _, ok := cache.FamilyOf(sig); !ok {
		t.Fatalf("expected Observe to record the signature's family")
	}
	if !cache.Compatible(sig, "gemini") {
		t.Fatalf("expected signature to be compatible with the family it was recorded under")
	}

	callFrame := Frame{Candidates: []mapper.UpstreamCandidate{{
		Parts: []mapper.UpstreamPart{{FunctionCall: &mapper.FunctionCall{Name: "lookup", ID: "call_9"}}},
	}}}
	state.Observe(callFrame)

	if got, ok := cache.ToolUseSignature("call_9"); !ok || got != sig {
		t.Fatalf("expected the tool call to inherit the turn's last-seen signature, got %q ok=%v", got, ok)
	}
}

func TestOpenAIWriterEmitsDoneSentinel(t *testing.T) {
	var buf bytes.Buffer
	state := NewState("", sigcache.New(), "gemini")
	w := NewOpenAIWriter(&buf, "chatcmpl-1", "gemini-2.5-pro", state)

	if err := w.WriteFrame(makeTextFrame("hello", "")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "\"content\":\"hello\"") {
		t.Fatalf("expected content delta in output, got %s", out)
	}
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Fatalf("expected terminal [DONE] sentinel, got %s", out)
	}
}

func TestAnthropicWriterClosesBlockOnTypeChange(t *testing.T) {
	var buf bytes.Buffer
	state := NewState("", sigcache.New(), "gemini")
	w := NewAnthropicWriter(&buf, "msg_1", "gemini-2.5-pro", state)

	if err := w.WriteFrame(makeThinkingFrame("reasoning")); err != nil {
		t.Fatalf("WriteFrame thinking: %v", err)
	}
	if err := w.WriteFrame(makeTextFrame("answer", "STOP")); err != nil {
		t.Fatalf("WriteFrame text: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	out := buf.String()
	if strings.Count(out, "content_block_stop") != 2 {
		t.Fatalf("expected two content_block_stop events (thinking then text), got %s", out)
	}
	if !strings.Contains(out, "message_stop") {
		t.Fatalf("expected terminal message_stop event, got %s", out)
	}
}
