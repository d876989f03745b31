package anthropic

import (
	"github.com/nimbusroute/gatewind/internal/mapper"
)

// Response is the wire shape of a non-stream Anthropic Messages response.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ResponseBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      ResponseUsage  `json:"usage"`
}

// ResponseBlock is one outgoing Anthropic content block.
type ResponseBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	Signature string                 `json:"signature,omitempty"`
}

// ResponseUsage mirrors Anthropic's usage object.
type ResponseUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// FromUpstream builds a non-stream Anthropic response from the first
// upstream candidate, per spec.md §4.7's "Upstream → Anthropic (non-stream)".
func FromUpstream(id, model string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) Response {
	resp := Response{ID: id, Type: "message", Role: mapper.RoleAssistant, Model: model}
	resp.Usage = ResponseUsage{
		InputTokens:          usage.PromptTokens,
		OutputTokens:         usage.CandidateTokens,
		CacheReadInputTokens: usage.CachedTokens,
	}
	if len(candidates) == 0 {
		resp.StopReason = "end_turn"
		return resp
	}
	cand := candidates[0]
	sawToolUse := false
	for _, p := range cand.Parts {
		switch {
		case p.FunctionCall != nil:
			sawToolUse = true
			resp.Content = append(resp.Content, ResponseBlock{
				Type: "tool_use", ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Input: p.FunctionCall.Args,
			})
		case p.Thought:
			resp.Content = append(resp.Content, ResponseBlock{Type: "thinking", Text: p.Text, Signature: p.ThoughtSignature})
		default:
			resp.Content = append(resp.Content, ResponseBlock{Type: "text", Text: p.Text})
		}
	}
	if sawToolUse {
		resp.StopReason = "tool_use"
	} else {
		resp.StopReason = mapper.MapFinishReason(cand.FinishReason, "anthropic")
	}
	return resp
}
