package mapper

import (
	"github.com/tidwall/gjson"
)

// UpstreamPart mirrors one element of candidates[0].content.parts in the
// v1internal response shape, decoded once and reused by every output
// dialect's non-stream converter.
type UpstreamPart struct {
	Text             string
	Thought          bool
	ThoughtSignature string
	FunctionCall     *FunctionCall
	InlineData       *InlineData
}

// FunctionCall mirrors an upstream functionCall part.
type FunctionCall struct {
	Name string
	ID   string
	Args map[string]interface{}
}

// InlineData mirrors an upstream inlineData part (used by image models).
type InlineData struct {
	MimeType string
	Data     string
}

// UpstreamCandidate is one decoded candidates[] entry.
type UpstreamCandidate struct {
	Parts        []UpstreamPart
	FinishReason string
}

// UpstreamUsage mirrors usageMetadata.
type UpstreamUsage struct {
	PromptTokens     int
	CandidateTokens  int
	CachedTokens     int
	TotalTokens      int
}

// ParseUpstreamResponse unwraps an optional {"response": ...} envelope and
// decodes candidates[]/usageMetadata from a raw v1internal JSON body.
func ParseUpstreamResponse(raw []byte) (candidates []UpstreamCandidate, usage UpstreamUsage) {
	root := gjson.ParseBytes(raw)
	if wrapped := root.Get("response"); wrapped.Exists() {
		root = wrapped
	}

	for _, c := range root.Get("candidates").Array() {
		candidates = append(candidates, parseCandidate(c))
	}
	usage = parseUsage(root.Get("usageMetadata"))
	return candidates, usage
}

func parseCandidate(c gjson.Result) UpstreamCandidate {
	var parts []UpstreamPart
	for _, p := range c.Get("content.parts").Array() {
		parts = append(parts, parsePart(p))
	}
	return UpstreamCandidate{
		Parts:        parts,
		FinishReason: c.Get("finishReason").String(),
	}
}

func parsePart(p gjson.Result) UpstreamPart {
	out := UpstreamPart{
		Text:             p.Get("text").String(),
		Thought:          p.Get("thought").Bool(),
		ThoughtSignature: p.Get("thoughtSignature").String(),
	}
	if fc := p.Get("functionCall"); fc.Exists() {
		args := map[string]interface{}{}
		if m, ok := fc.Get("args").Value().(map[string]interface{}); ok {
			args = m
		}
		out.FunctionCall = &FunctionCall{
			Name: fc.Get("name").String(),
			ID:   fc.Get("id").String(),
			Args: args,
		}
	}
	if id := p.Get("inlineData"); id.Exists() {
		out.InlineData = &InlineData{
			MimeType: id.Get("mimeType").String(),
			Data:     id.Get("data").String(),
		}
	}
	return out
}

func parseUsage(u gjson.Result) UpstreamUsage {
	return UpstreamUsage{
		PromptTokens:    int(u.Get("promptTokenCount").Int()),
		CandidateTokens: int(u.Get("candidatesTokenCount").Int()),
		CachedTokens:    int(u.Get("cachedContentTokenCount").Int()),
		TotalTokens:     int(u.Get("totalTokenCount").Int()),
	}
}

// MapFinishReason translates an upstream finishReason into the target
// dialect's stop-reason vocabulary. dialect is "anthropic" or "openai".
func MapFinishReason(upstream, dialect string) string {
	if dialect == "anthropic" {
		switch upstream {
		case "STOP":
			return "end_turn"
		case "MAX_TOKENS":
			return "max_tokens"
		case "SAFETY", "RECITATION":
			return "content_filter"
		default:
			return "end_turn"
		}
	}
	switch upstream {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}
