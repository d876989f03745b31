package openai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

// Response is the wire shape of a non-stream Chat Completions response.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int            `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a non-stream choice.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is an outgoing OpenAI tool call.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc is the function payload of a ToolCall.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage mirrors OpenAI's usage object.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromUpstream builds a non-stream Chat Completions response from upstream
// candidates, per spec.md §4.7's "Upstream → OpenAI (non-stream)". Image
// model responses fold inlineData parts into Markdown image links.
func FromUpstream(id, model string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) Response {
	resp := Response{
		ID: id, Object: "chat.completion", Model: model,
		Usage: Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CandidateTokens,
			TotalTokens:      usage.TotalTokens,
		},
	}
	for i, cand := range candidates {
		msg := ResponseMessage{Role: mapper.RoleAssistant}
		var content string
		for _, p := range cand.Parts {
			switch {
			case p.FunctionCall != nil:
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{
					ID: p.FunctionCall.ID, Type: "function",
					Function: ToolCallFunc{Name: p.FunctionCall.Name, Arguments: argsToJSON(p.FunctionCall.Args)},
				})
			case p.InlineData != nil:
				content += fmt.Sprintf("\n![image](data:%s;base64,%s)\n", p.InlineData.MimeType, encodeIfNeeded(p.InlineData.Data))
			case !p.Thought:
				content += p.Text
			}
		}
		msg.Content = content
		finish := "stop"
		if len(msg.ToolCalls) > 0 {
			finish = "tool_calls"
		} else {
			finish = mapper.MapFinishReason(cand.FinishReason, "openai")
		}
		resp.Choices = append(resp.Choices, Choice{Index: i, Message: msg, FinishReason: finish})
	}
	return resp
}

func argsToJSON(args map[string]interface{}) string {
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// encodeIfNeeded is a passthrough: upstream inlineData.data is already
// base64. An empty value stays empty (base64 of no bytes is "").
func encodeIfNeeded(data string) string {
	if data == "" {
		return base64.StdEncoding.EncodeToString(nil)
	}
	return data
}
