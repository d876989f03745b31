// Package responses builds OpenAI Responses-API-shaped (Codex-style)
// non-stream output from canonical upstream parts — the third leg of C7's
// output conversions, kept separate from mapper/openai because the
// Responses wire shape (output items, not choices) differs enough to
// warrant its own types rather than overloading Choice.
//
// Grounded on original_source's proxy/mappers/openai/responses.rs (the
// Responses output-item shapes) translated into Go idiom the way the
// teacher's gemini/types.go renders one wire format as one struct tree.
package responses

import (
	"encoding/json"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

// Response is a non-stream Responses API response.
type Response struct {
	ID     string       `json:"id"`
	Object string       `json:"object"`
	Model  string       `json:"model"`
	Output []OutputItem `json:"output"`
	Usage  Usage        `json:"usage"`
}

// OutputItem is one polymorphic Responses output item.
type OutputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content []OutputContent `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// OutputContent is a text content block inside a message output item.
type OutputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage mirrors the Responses API's usage object.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// FromUpstream builds a non-stream Responses payload from the first
// upstream candidate.
func FromUpstream(id, model string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) Response {
	resp := Response{
		ID: id, Object: "response", Model: model,
		Usage: Usage{InputTokens: usage.PromptTokens, OutputTokens: usage.CandidateTokens, TotalTokens: usage.TotalTokens},
	}
	if len(candidates) == 0 {
		return resp
	}
	var textParts []OutputContent
	for _, p := range candidates[0].Parts {
		switch {
		case p.FunctionCall != nil:
			args, _ := json.Marshal(p.FunctionCall.Args)
			resp.Output = append(resp.Output, OutputItem{
				Type: "function_call", CallID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Arguments: string(args),
			})
		case !p.Thought:
			textParts = append(textParts, OutputContent{Type: "output_text", Text: p.Text})
		}
	}
	if len(textParts) > 0 {
		resp.Output = append([]OutputItem{{Type: "message", Role: mapper.RoleAssistant, Content: textParts}}, resp.Output...)
	}
	return resp
}
