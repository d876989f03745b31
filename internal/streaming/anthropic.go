package streaming

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

// AnthropicWriter re-encodes decoded upstream frames as Anthropic Messages
// event-protocol SSE frames (message_start / content_block_* / message_delta
// / message_stop).
type AnthropicWriter struct {
	w          io.Writer
	id         string
	model      string
	state      *State
	blockIndex int
	blockOpen  bool
	blockType  string // "text" | "thinking" | "tool_use"
	started    bool
}

// NewAnthropicWriter creates a writer for one client stream.
func NewAnthropicWriter(w io.Writer, id, model string, state *State) *AnthropicWriter {
	return &AnthropicWriter{w: w, id: id, model: model, state: state}
}

func (w *AnthropicWriter) ensureStarted() error {
	if w.started {
		return nil
	}
	w.started = true
	return w.emit("message_start", map[string]interface{}{
		"message": map[string]interface{}{
			"id": w.id, "type": "message", "role": mapper.RoleAssistant, "model": w.model, "content": []interface{}{},
		},
	})
}

// WriteFrame consumes one decoded frame and emits the corresponding
// content_block_start/delta/stop triples.
func (w *AnthropicWriter) WriteFrame(f Frame) error {
	if err := w.ensureStarted(); err != nil {
		return err
	}
	parts := w.state.Observe(f)
	for _, p := range parts {
		wantType := "text"
		switch {
		case p.FunctionCall != nil:
			wantType = "tool_use"
		case p.Thought:
			wantType = "thinking"
		}

		if w.blockOpen && w.blockType != wantType {
			if err := w.closeBlock(); err != nil {
				return err
			}
		}
		if !w.blockOpen {
			if err := w.openBlock(wantType, p); err != nil {
				return err
			}
		}
		if err := w.emitDelta(wantType, p); err != nil {
			return err
		}
	}
	return nil
}

func (w *AnthropicWriter) openBlock(blockType string, p mapper.UpstreamPart) error {
	w.blockOpen = true
	w.blockType = blockType
	block := map[string]interface{}{"type": blockType}
	switch blockType {
	case "tool_use":
		block["id"] = p.FunctionCall.ID
		block["name"] = p.FunctionCall.Name
		block["input"] = map[string]interface{}{}
	case "thinking":
		block["thinking"] = ""
	default:
		block["text"] = ""
	}
	return w.emit("content_block_start", map[string]interface{}{"index": w.blockIndex, "content_block": block})
}

func (w *AnthropicWriter) emitDelta(blockType string, p mapper.UpstreamPart) error {
	var delta map[string]interface{}
	switch blockType {
	case "tool_use":
		args, _ := json.Marshal(p.FunctionCall.Args)
		delta = map[string]interface{}{"type": "input_json_delta", "partial_json": string(args)}
	case "thinking":
		delta = map[string]interface{}{"type": "thinking_delta", "thinking": p.Text}
	default:
		delta = map[string]interface{}{"type": "text_delta", "text": p.Text}
	}
	return w.emit("content_block_delta", map[string]interface{}{"index": w.blockIndex, "delta": delta})
}

func (w *AnthropicWriter) closeBlock() error {
	if !w.blockOpen {
		return nil
	}
	w.blockOpen = false
	if err := w.emit("content_block_stop", map[string]interface{}{"index": w.blockIndex}); err != nil {
		return err
	}
	w.blockIndex++
	return nil
}

// Finish closes any open block and emits the terminal message_delta/message_stop pair.
func (w *AnthropicWriter) Finish() error {
	if err := w.ensureStarted(); err != nil {
		return err
	}
	if err := w.closeBlock(); err != nil {
		return err
	}
	stopReason := mapper.MapFinishReason(w.state.FinishReason(), "anthropic")
	prompt, total := w.state.Usage()
	if err := w.emit("message_delta", map[string]interface{}{
		"delta": map[string]interface{}{"stop_reason": stopReason},
		"usage": map[string]interface{}{"input_tokens": prompt, "output_tokens": total - prompt},
	}); err != nil {
		return err
	}
	return w.emit("message_stop", map[string]interface{}{})
}

func (w *AnthropicWriter) emit(event string, payload map[string]interface{}) error {
	_, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, mustJSON(payload))
	return err
}
