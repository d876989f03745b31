package streaming

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

// OpenAIWriter re-encodes decoded upstream frames as OpenAI
// chat.completion.chunk SSE frames.
type OpenAIWriter struct {
	w       io.Writer
	id      string
	model   string
	state   *State
	sentAny bool
}

// NewOpenAIWriter creates a writer for one client stream.
func NewOpenAIWriter(w io.Writer, id, model string, state *State) *OpenAIWriter {
	return &OpenAIWriter{w: w, id: id, model: model, state: state}
}

type openAIChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Model   string             `json:"model"`
	Choices []openAIChunkChoice `json:"choices"`
	Usage   *openAIUsage       `json:"usage,omitempty"`
}

type openAIChunkChoice struct {
	Index        int            `json:"index"`
	Delta        openAIChunkDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type openAIChunkDelta struct {
	Role             string         `json:"role,omitempty"`
	Content          string         `json:"content,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	ToolCalls        []deltaToolCall `json:"tool_calls,omitempty"`
}

type deltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// WriteFrame consumes one decoded frame and emits zero or more SSE data
// lines for it.
func (w *OpenAIWriter) WriteFrame(f Frame) error {
	return w.WriteFrameFiltered(f, nil)
}

// WriteFrameFiltered behaves like WriteFrame, but passes each chunk's raw
// JSON payload through filter (if non-nil) before it is written — the hook
// the Cursor shim uses to rewrite reasoning_content deltas per spec.md
// §4.10 without duplicating this method's delta-construction logic.
func (w *OpenAIWriter) WriteFrameFiltered(f Frame, filter func([]byte) ([]byte, error)) error {
	parts := w.state.Observe(f)
	for _, p := range parts {
		delta := openAIChunkDelta{}
		if !w.sentAny {
			delta.Role = mapper.RoleAssistant
		}
		switch {
		case p.FunctionCall != nil:
			args, _ := json.Marshal(p.FunctionCall.Args)
			tc := deltaToolCall{Index: 0, ID: p.FunctionCall.ID, Type: "function"}
			tc.Function.Name = p.FunctionCall.Name
			tc.Function.Arguments = string(args)
			delta.ToolCalls = []deltaToolCall{tc}
		case p.Thought:
			delta.ReasoningContent = p.Text
		default:
			delta.Content = p.Text
		}
		if err := w.writeChunkFiltered(delta, nil, filter); err != nil {
			return err
		}
		w.sentAny = true
	}
	return nil
}

// Finish emits the terminal chunk carrying finish_reason/usage, followed by
// `data: [DONE]`.
func (w *OpenAIWriter) Finish() error {
	finish := w.state.FinishReason()
	if finish == "" {
		finish = "stop"
	}
	mapped := mapper.MapFinishReason(finish, "openai")
	prompt, total := w.state.Usage()
	usage := &openAIUsage{PromptTokens: prompt, CompletionTokens: total - prompt, TotalTokens: total}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", mustJSON(openAIChunk{
		ID: w.id, Object: "chat.completion.chunk", Model: w.model,
		Choices: []openAIChunkChoice{{Index: 0, Delta: openAIChunkDelta{}, FinishReason: &mapped}},
		Usage:   usage,
	})); err != nil {
		return err
	}
	_, err := fmt.Fprint(w.w, "data: [DONE]\n\n")
	return err
}

func (w *OpenAIWriter) writeChunk(delta openAIChunkDelta, finishReason *string) error {
	return w.writeChunkFiltered(delta, finishReason, nil)
}

func (w *OpenAIWriter) writeChunkFiltered(delta openAIChunkDelta, finishReason *string, filter func([]byte) ([]byte, error)) error {
	chunk := openAIChunk{
		ID: w.id, Object: "chat.completion.chunk", Model: w.model,
		Choices: []openAIChunkChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
	payload := mustJSON(chunk)
	if filter != nil {
		filtered, err := filter(payload)
		if err != nil {
			return err
		}
		payload = filtered
	}
	_, err := fmt.Fprintf(w.w, "data: %s\n\n", payload)
	return err
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
