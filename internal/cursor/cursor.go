// Package cursor implements the Cursor-compatible shim (C10): it detects
// which dialect an incoming /cursor/chat/completions body actually uses,
// rewrites Anthropic-shaped payloads into OpenAI Chat, and post-processes
// the OpenAI-shaped output stream's reasoning content per a configurable
// reasoning mode.
//
// Grounded on the teacher's internal/infrastructure/llm/openai_builtin.go
// request-shape handling, generalized per original_source's
// proxy/handlers/cursor/mod.rs dialect-detection and reasoning-mode rewrite.
package cursor

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Dialect identifies the incoming payload's shape.
type Dialect string

const (
	DialectOpenAIChat    Dialect = "openai_chat"
	DialectResponsesLike Dialect = "responses_like"
	DialectAnthropicLike Dialect = "anthropic_like"
)

var anthropicBlockTypes = []string{"tool_use", "tool_result", "thinking", "document", "server_tool_use", "web_search_tool_result"}

// DetectDialect inspects top-level fields and content-block type tags to
// classify the payload, per spec.md §4.10.
func DetectDialect(raw []byte) Dialect {
	root := gjson.ParseBytes(raw)
	if hasAnthropicBlocks(root) {
		return DialectAnthropicLike
	}
	if root.Get("messages").Exists() {
		return DialectOpenAIChat
	}
	if root.Get("instructions").Exists() || root.Get("input").Exists() {
		return DialectResponsesLike
	}
	return DialectOpenAIChat
}

func hasAnthropicBlocks(root gjson.Result) bool {
	found := false
	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		msg.Get("content").ForEach(func(_, block gjson.Result) bool {
			t := block.Get("type").String()
			for _, bt := range anthropicBlockTypes {
				if t == bt {
					found = true
					return false
				}
			}
			return true
		})
		return !found
	})
	return found
}

// ToOpenAIChat rewrites an Anthropic-shaped request body into OpenAI Chat
// Completions shape: tool_use blocks become assistant tool_calls, tool_result
// blocks become role:"tool" messages carrying tool_call_id, documents become
// text placeholders, images are preserved as image_url parts.
func ToOpenAIChat(raw []byte) ([]byte, error) {
	root := gjson.ParseBytes(raw)
	out := []byte(`{}`)
	var err error

	if model := root.Get("model"); model.Exists() {
		out, err = sjson.SetBytes(out, "model", model.String())
		if err != nil {
			return nil, err
		}
	}
	if stream := root.Get("stream"); stream.Exists() {
		out, err = sjson.SetBytes(out, "stream", stream.Bool())
		if err != nil {
			return nil, err
		}
	}

	var messages []map[string]interface{}
	if sys := root.Get("system"); sys.Exists() {
		messages = append(messages, map[string]interface{}{"role": "system", "content": sys.String()})
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		messages = append(messages, convertAnthropicMessage(msg)...)
		return true
	})

	out, err = sjson.SetBytes(out, "messages", messages)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func convertAnthropicMessage(msg gjson.Result) []map[string]interface{} {
	role := msg.Get("role").String()
	content := msg.Get("content")

	if content.Type == gjson.String {
		return []map[string]interface{}{{"role": role, "content": content.String()}}
	}

	var out []map[string]interface{}
	var textParts []interface{}
	var toolCalls []map[string]interface{}
	var toolMessages []map[string]interface{}

	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			textParts = append(textParts, map[string]interface{}{"type": "text", "text": block.Get("text").String()})
		case "image":
			mediaType := block.Get("source.media_type").String()
			data := block.Get("source.data").String()
			textParts = append(textParts, map[string]interface{}{
				"type": "image_url", "image_url": map[string]interface{}{"url": "data:" + mediaType + ";base64," + data},
			})
		case "document":
			textParts = append(textParts, map[string]interface{}{"type": "text", "text": "[document omitted]"})
		case "tool_use":
			args := block.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, map[string]interface{}{
				"id": block.Get("id").String(), "type": "function",
				"function": map[string]interface{}{"name": block.Get("name").String(), "arguments": args},
			})
		case "tool_result":
			toolMessages = append(toolMessages, map[string]interface{}{
				"role": "tool", "tool_call_id": block.Get("tool_use_id").String(), "content": toolResultText(block),
			})
		}
		return true
	})

	msgOut := map[string]interface{}{"role": role}
	if len(textParts) > 0 {
		msgOut["content"] = textParts
	} else {
		msgOut["content"] = nil
	}
	if len(toolCalls) > 0 {
		msgOut["tool_calls"] = toolCalls
	}
	if len(textParts) > 0 || len(toolCalls) > 0 {
		out = append(out, msgOut)
	}
	out = append(out, toolMessages...)
	return out
}

func toolResultText(block gjson.Result) string {
	c := block.Get("content")
	if c.Type == gjson.String {
		return c.String()
	}
	var text string
	c.ForEach(func(_, b gjson.Result) bool {
		if b.Get("type").String() == "text" {
			text += b.Get("text").String()
		}
		return true
	})
	return text
}
