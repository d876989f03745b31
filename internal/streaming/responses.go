package streaming

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

// ResponsesWriter re-encodes decoded upstream frames as Responses-API
// (Codex-style) SSE events.
type ResponsesWriter struct {
	w         io.Writer
	id        string
	model     string
	state     *State
	started   bool
	itemIndex int
}

// NewResponsesWriter creates a writer for one client stream.
func NewResponsesWriter(w io.Writer, id, model string, state *State) *ResponsesWriter {
	return &ResponsesWriter{w: w, id: id, model: model, state: state}
}

func (w *ResponsesWriter) ensureStarted() error {
	if w.started {
		return nil
	}
	w.started = true
	return w.emit("response.created", map[string]interface{}{
		"response": map[string]interface{}{"id": w.id, "model": w.model, "object": "response"},
	})
}

// WriteFrame emits text deltas and per-tool-call done events.
func (w *ResponsesWriter) WriteFrame(f Frame) error {
	if err := w.ensureStarted(); err != nil {
		return err
	}
	parts := w.state.Observe(f)
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			if err := w.emitFunctionCallDone(p.FunctionCall); err != nil {
				return err
			}
		case !p.Thought:
			if err := w.emit("response.output_text.delta", map[string]interface{}{"delta": p.Text, "item_id": itemID(w.itemIndex)}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *ResponsesWriter) emitFunctionCallDone(fc *mapper.FunctionCall) error {
	args, _ := json.Marshal(fc.Args)
	kind := classifyToolKind(fc.Name)
	w.itemIndex++
	return w.emit("response.output_item.done", map[string]interface{}{
		"item": map[string]interface{}{
			"type": kind, "call_id": fc.ID, "name": fc.Name, "arguments": string(args),
		},
	})
}

// classifyToolKind buckets a function name into the Responses API's
// per-tool event shape. Anything unrecognized falls back to function_call.
func classifyToolKind(name string) string {
	switch name {
	case "local_shell", "shell", "bash":
		return "local_shell_call"
	case "web_search":
		return "web_search_call"
	default:
		return "function_call"
	}
}

// Finish emits response.completed with aggregated usage.
func (w *ResponsesWriter) Finish() error {
	if err := w.ensureStarted(); err != nil {
		return err
	}
	prompt, total := w.state.Usage()
	return w.emit("response.completed", map[string]interface{}{
		"response": map[string]interface{}{
			"id": w.id,
			"usage": map[string]interface{}{
				"input_tokens": prompt, "output_tokens": total - prompt, "total_tokens": total,
			},
		},
	})
}

func (w *ResponsesWriter) emit(event string, payload map[string]interface{}) error {
	_, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, mustJSON(payload))
	return err
}

func itemID(index int) string {
	return fmt.Sprintf("item_%d", index)
}
