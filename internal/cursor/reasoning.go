package cursor

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ReasoningMode selects how Cursor output rewrites reasoning_content deltas.
type ReasoningMode string

const (
	ReasoningHide      ReasoningMode = "hide"
	ReasoningRaw       ReasoningMode = "raw"
	ReasoningThinkTags ReasoningMode = "think_tags"
	ReasoningInline    ReasoningMode = "inline"
)

// ReasoningRewriter holds the per-stream state needed by think_tags mode to
// open/close the <think> tag across frame boundaries.
type ReasoningRewriter struct {
	mode       ReasoningMode
	tagOpen    bool
	everOpened bool
}

// NewReasoningRewriter creates a rewriter for one SSE stream.
func NewReasoningRewriter(mode ReasoningMode) *ReasoningRewriter {
	return &ReasoningRewriter{mode: mode}
}

// RewriteFrame rewrites one `data: {...}` OpenAI chunk's delta fields
// in-place per spec.md §4.8's Cursor post-processing rules. raw must be the
// JSON payload without the "data: " prefix.
func (r *ReasoningRewriter) RewriteFrame(raw []byte) ([]byte, error) {
	reasoning := gjson.GetBytes(raw, "choices.0.delta.reasoning_content")
	content := gjson.GetBytes(raw, "choices.0.delta.content")

	switch r.mode {
	case ReasoningRaw:
		return raw, nil
	case ReasoningHide:
		if reasoning.Exists() {
			return sjson.DeleteBytes(raw, "choices.0.delta.reasoning_content")
		}
		return raw, nil
	case ReasoningInline:
		if !reasoning.Exists() {
			return raw, nil
		}
		merged := reasoning.String()
		if content.Exists() {
			merged += "\n\n" + content.String()
		}
		out, err := sjson.SetBytes(raw, "choices.0.delta.content", merged)
		if err != nil {
			return nil, err
		}
		return sjson.DeleteBytes(out, "choices.0.delta.reasoning_content")
	case ReasoningThinkTags:
		return r.rewriteThinkTags(raw, reasoning, content)
	default:
		return raw, nil
	}
}

func (r *ReasoningRewriter) rewriteThinkTags(raw []byte, reasoning, content gjson.Result) ([]byte, error) {
	out := raw
	var err error

	if reasoning.Exists() {
		text := reasoning.String()
		if !r.tagOpen {
			r.tagOpen = true
			r.everOpened = true
			text = "<think>" + text
		}
		out, err = sjson.SetBytes(out, "choices.0.delta.content", text)
		if err != nil {
			return nil, err
		}
		out, err = sjson.DeleteBytes(out, "choices.0.delta.reasoning_content")
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	if r.tagOpen && content.Exists() {
		r.tagOpen = false
		out, err = sjson.SetBytes(out, "choices.0.delta.content", "</think>"+content.String())
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close returns a closing </think> frame payload if a think block is still
// open when the stream finishes, or nil if there is nothing to close.
func (r *ReasoningRewriter) Close() []byte {
	if !r.tagOpen {
		return nil
	}
	r.tagOpen = false
	out, _ := sjson.SetBytes([]byte(`{}`), "choices.0.delta.content", "</think>")
	return out
}
