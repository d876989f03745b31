// Package openai converts OpenAI Chat Completions, Legacy Completions, and
// Responses payloads into the canonical chat request, and canonical upstream
// parts back into an OpenAI-shaped non-stream response (C7's OpenAI half).
//
// Grounded on the teacher's internal/infrastructure/llm/openai/types.go
// struct shapes, generalized per original_source's
// proxy/handlers/openai/completions.rs dialect-detection logic, using
// github.com/tidwall/gjson the way the teacher reaches for it elsewhere for
// loose/partial JSON inspection.
package openai

import (
	"github.com/tidwall/gjson"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

// Dialect identifies which OpenAI-family wire shape a request body uses.
type Dialect string

const (
	DialectChat      Dialect = "chat"
	DialectLegacy    Dialect = "legacy"
	DialectResponses Dialect = "responses"
)

// DetectDialect inspects the raw request body's top-level fields.
func DetectDialect(raw []byte) Dialect {
	root := gjson.ParseBytes(raw)
	if root.Get("messages").Exists() {
		return DialectChat
	}
	if root.Get("instructions").Exists() || root.Get("input").Exists() {
		return DialectResponses
	}
	return DialectLegacy
}

// ToCanonical converts a raw OpenAI-family request body into the canonical
// chat request, dispatching on DetectDialect.
func ToCanonical(raw []byte) mapper.Request {
	switch DetectDialect(raw) {
	case DialectChat:
		return chatToCanonical(raw)
	case DialectResponses:
		return responsesToCanonical(raw)
	default:
		return legacyToCanonical(raw)
	}
}

func chatToCanonical(raw []byte) mapper.Request {
	root := gjson.ParseBytes(raw)
	out := mapper.Request{
		Model:       root.Get("model").String(),
		Stream:      root.Get("stream").Bool(),
		MaxTokens:   int(root.Get("max_tokens").Int()),
		Temperature: root.Get("temperature").Num,
	}
	for _, t := range root.Get("tools").Array() {
		fn := t.Get("function")
		out.Tools = append(out.Tools, mapper.ToolDef{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
			Schema:      toMap(fn.Get("parameters")),
		})
	}

	toolCallNames := make(map[string]string) // tool_call_id -> function name, for the following tool messages
	for _, m := range root.Get("messages").Array() {
		role := m.Get("role").String()
		if role == mapper.RoleSystem {
			out.System += m.Get("content").String()
			continue
		}
		msg := mapper.Message{Role: role}
		if role == mapper.RoleTool {
			msg.Parts = append(msg.Parts, mapper.Part{
				Type: "tool_result", ToolResultFor: m.Get("tool_call_id").String(), Text: m.Get("content").String(),
			})
			out.Messages = append(out.Messages, msg)
			continue
		}
		if content := m.Get("content"); content.IsArray() {
			for _, part := range content.Array() {
				msg.Parts = append(msg.Parts, contentPartFromChat(part))
			}
		} else if content.Exists() {
			msg.Parts = append(msg.Parts, mapper.Part{Type: "text", Text: content.String()})
		}
		for _, tc := range m.Get("tool_calls").Array() {
			fn := tc.Get("function")
			toolCallNames[tc.Get("id").String()] = fn.Get("name").String()
			msg.Parts = append(msg.Parts, mapper.Part{
				Type: "tool_use", ToolCallID: tc.Get("id").String(), ToolName: fn.Get("name").String(),
				ToolArgs: toMap(gjson.Parse(fn.Get("arguments").String())),
			})
		}
		out.Messages = append(out.Messages, msg)
	}
	return out
}

func contentPartFromChat(part gjson.Result) mapper.Part {
	switch part.Get("type").String() {
	case "image_url":
		url := part.Get("image_url.url").String()
		mime, data := splitDataURL(url)
		return mapper.Part{Type: "image", MimeType: mime, Data: data}
	default:
		return mapper.Part{Type: "text", Text: part.Get("text").String()}
	}
}

func legacyToCanonical(raw []byte) mapper.Request {
	root := gjson.ParseBytes(raw)
	out := mapper.Request{
		Model:       root.Get("model").String(),
		Stream:      root.Get("stream").Bool(),
		MaxTokens:   int(root.Get("max_tokens").Int()),
		Temperature: root.Get("temperature").Num,
	}
	prompt := root.Get("prompt")
	var text string
	if prompt.IsArray() {
		for _, p := range prompt.Array() {
			text += p.String()
		}
	} else {
		text = prompt.String()
	}
	out.Messages = []mapper.Message{{Role: mapper.RoleUser, Parts: []mapper.Part{{Type: "text", Text: text}}}}
	return out
}

// responsesToCanonical converts the Responses API's instructions/input shape.
// `input` as typed items is walked in two passes: the first collects
// function_call_output items keyed by call id, the second
// walks items in order emitting canonical messages, pairing tool calls with
// their outputs into tool_use/tool role messages.
func responsesToCanonical(raw []byte) mapper.Request {
	root := gjson.ParseBytes(raw)
	out := mapper.Request{
		Model:       root.Get("model").String(),
		Stream:      root.Get("stream").Bool(),
		MaxTokens:   int(root.Get("max_output_tokens").Int()),
		Temperature: root.Get("temperature").Num,
		System:      root.Get("instructions").String(),
	}
	for _, t := range root.Get("tools").Array() {
		out.Tools = append(out.Tools, mapper.ToolDef{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			Schema:      toMap(t.Get("parameters")),
		})
	}

	input := root.Get("input")
	if !input.Exists() {
		return out
	}
	if !input.IsArray() {
		out.Messages = append(out.Messages, mapper.Message{Role: mapper.RoleUser, Parts: []mapper.Part{{Type: "text", Text: input.String()}}})
		return out
	}

	outputByCallID := make(map[string]gjson.Result)
	for _, item := range input.Array() {
		if item.Get("type").String() == "function_call_output" {
			outputByCallID[item.Get("call_id").String()] = item
		}
	}

	for _, item := range input.Array() {
		switch item.Get("type").String() {
		case "message":
			role := item.Get("role").String()
			msg := mapper.Message{Role: role}
			for _, c := range item.Get("content").Array() {
				msg.Parts = append(msg.Parts, mapper.Part{Type: "text", Text: c.Get("text").String()})
			}
			out.Messages = append(out.Messages, msg)
		case "function_call":
			out.Messages = append(out.Messages, mapper.Message{Role: mapper.RoleAssistant, Parts: []mapper.Part{{
				Type: "tool_use", ToolCallID: item.Get("call_id").String(), ToolName: item.Get("name").String(),
				ToolArgs: toMap(gjson.Parse(item.Get("arguments").String())),
			}}})
			if output, ok := outputByCallID[item.Get("call_id").String()]; ok {
				out.Messages = append(out.Messages, mapper.Message{Role: mapper.RoleTool, Parts: []mapper.Part{{
					Type: "tool_result", ToolResultFor: item.Get("call_id").String(), Text: output.Get("output").String(),
				}}})
			}
		case "function_call_output":
			// consumed when its matching function_call is processed above.
		}
	}
	return out
}

func toMap(r gjson.Result) map[string]interface{} {
	if !r.Exists() {
		return nil
	}
	if m, ok := r.Value().(map[string]interface{}); ok {
		return m
	}
	return nil
}

func splitDataURL(url string) (mime, data string) {
	const prefix = "data:"
	if len(url) < len(prefix) || url[:len(prefix)] != prefix {
		return "", url
	}
	rest := url[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ',' {
			header := rest[:i]
			for j := 0; j < len(header); j++ {
				if header[j] == ';' {
					return header[:j], rest[i+1:]
				}
			}
			return header, rest[i+1:]
		}
	}
	return "", url
}
