// Package anthropic converts between the Anthropic Messages wire format and
// the canonical mapper.Request/response shapes (C7's Anthropic half).
//
// Grounded on the teacher's internal/infrastructure/llm/anthropic/types.go
// content-block shapes, generalized per original_source's
// proxy/mappers/claude/request/contents.rs (anti-echo, thinking-signature
// gating, elastic tool-result recovery, adjacent-message merge).
package anthropic

import (
	"encoding/json"

	"github.com/nimbusroute/gatewind/internal/mapper"
	"github.com/nimbusroute/gatewind/internal/sigcache"
)

// Request is the wire shape of an incoming Anthropic Messages request.
type Request struct {
	Model       string          `json:"model"`
	System      json.RawMessage `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []WireMessage   `json:"messages"`
	Tools       []WireTool      `json:"tools,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Thinking    *ThinkingConfig `json:"thinking,omitempty"`
}

// ThinkingConfig toggles extended thinking.
type ThinkingConfig struct {
	Type string `json:"type"`
}

// WireMessage is one Anthropic message as received on the wire.
type WireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// WireBlock is one polymorphic Anthropic content block.
type WireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *struct {
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`

	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"` // redacted_thinking payload
}

// WireTool is an Anthropic tool declaration.
type WireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

const noOutputSuccess = "Tool completed with no output."
const noOutputError = "Tool failed with no output."
const interruptedMarker = "Tool execution interrupted."
const truncationBudget = 200_000

// ToCanonical converts a wire Request into the canonical chat request,
// resolving thinking-signature continuity via sigCache and applying the
// anti-echo / elastic-recovery / adjacent-merge rules from spec.md §4.7.
// sessionID must be the caller's live session key so the session-cache tier
// of signature resolution (sigCache.Resolve) is consulted against the
// request actually being mapped, not an empty placeholder.
func ToCanonical(req Request, sigCache *sigcache.Cache, targetFamily, sessionID string) mapper.Request {
	out := mapper.Request{
		Model:       req.Model,
		Stream:      req.Stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		ThinkingOn:  req.Thinking != nil && req.Thinking.Type == "enabled",
		SessionID:   sessionID,
	}
	if len(req.System) > 0 {
		out.System = decodeSystemText(req.System)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, mapper.ToolDef{Name: t.Name, Description: t.Description, Schema: t.InputSchema})
	}

	var lastSeenSig string
	var prevUserText string
	var msgs []mapper.Message

	for i, wm := range req.Messages {
		blocks := decodeBlocks(wm.Content)
		msg := mapper.Message{Role: wm.Role}

		if wm.Role == mapper.RoleAssistant {
			var pendingToolUseIDs []string
			thinkingSeen := false
			for bi, b := range blocks {
				switch b.Type {
				case "text":
					msg.Parts = append(msg.Parts, mapper.Part{Type: "text", Text: b.Text})
				case "thinking":
					if bi != 0 || !out.ThinkingOn || len(b.Signature) < sigcache.MinSignatureLength || !sigCache.Compatible(b.Signature, targetFamily) {
						msg.Parts = append(msg.Parts, mapper.Part{Type: "text", Text: b.Thinking})
						break
					}
					thinkingSeen = true
					lastSeenSig = b.Signature
					msg.Parts = append(msg.Parts, mapper.Part{Type: "thinking", Text: b.Thinking, Signature: b.Signature})
				case "redacted_thinking":
					msg.Parts = append(msg.Parts, mapper.Part{Type: "text", Text: "[Redacted Thinking: " + b.Data + "]"})
				case "tool_use":
					sig := resolveSignature(b.Signature, lastSeenSig, sigCache, out.SessionID, b.ID, targetFamily)
					msg.Parts = append(msg.Parts, mapper.Part{
						Type: "tool_use", ToolCallID: b.ID, ToolName: b.Name, ToolArgs: b.Input, Signature: sig,
					})
					pendingToolUseIDs = append(pendingToolUseIDs, b.ID)
				}
			}
			_ = thinkingSeen
			msgs = append(msgs, msg)

			if hasPendingUnresolvedToolUses(req.Messages, i, pendingToolUseIDs) {
				msgs = append(msgs, syntheticRecoveryMessage(pendingToolUseIDs))
			}
			continue
		}

		// user (or synthetic tool-role) message
		var toolResultIDs []string
		userText := ""
		hasToolResult := false
		for _, b := range blocks {
			if b.Type == "tool_result" {
				hasToolResult = true
			}
		}
		for _, b := range blocks {
			switch b.Type {
			case "text":
				userText += b.Text
				if hasToolResult && b.Text != "" && b.Text == prevUserText {
					continue // anti-echo: drop a repeat of the previous user text sent alongside a tool result
				}
				msg.Parts = append(msg.Parts, mapper.Part{Type: "text", Text: b.Text})
			case "image", "document":
				mime, data := "", ""
				if b.Source != nil {
					mime, data = b.Source.MediaType, b.Source.Data
				}
				ptype := "image"
				if b.Type == "document" {
					ptype = "document"
				}
				msg.Parts = append(msg.Parts, mapper.Part{Type: ptype, MimeType: mime, Data: data})
			case "tool_result":
				toolResultIDs = append(toolResultIDs, b.ToolUseID)
				msg.Parts = append(msg.Parts, mapper.Part{
					Type: "tool_result", ToolResultFor: b.ToolUseID, ToolIsError: b.IsError,
					Text: compressToolResult(b.Content, b.IsError),
				})
			}
		}
		if userText != "" {
			prevUserText = userText
		}
		msgs = append(msgs, msg)
	}

	out.Messages = mergeAdjacentSameRole(msgs)
	return out
}

func mergeAdjacentSameRole(msgs []mapper.Message) []mapper.Message {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]mapper.Message, 0, len(msgs))
	out = append(out, msgs[0])
	for _, m := range msgs[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role {
			last.Parts = append(last.Parts, m.Parts...)
			continue
		}
		out = append(out, m)
	}
	return out
}

func resolveSignature(clientSig, lastSeenThisTurn string, sigCache *sigcache.Cache, sessionID, toolUseID, targetFamily string) string {
	resolved, ok := sigCache.Resolve(clientSig, lastSeenThisTurn, sessionID, toolUseID)
	if !ok {
		return "skip_thought_signature_validator"
	}
	if !sigCache.Compatible(resolved, targetFamily) {
		return "skip_thought_signature_validator"
	}
	return resolved
}

func decodeSystemText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []WireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return ""
}

func decodeBlocks(raw json.RawMessage) []WireBlock {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []WireBlock{{Type: "text", Text: s}}
	}
	var blocks []WireBlock
	_ = json.Unmarshal(raw, &blocks)
	return blocks
}

func compressToolResult(raw json.RawMessage, isError bool) string {
	text := extractToolResultText(raw)
	if text == "" {
		if isError {
			return noOutputError
		}
		return noOutputSuccess
	}
	if len(text) > truncationBudget {
		text = text[:truncationBudget] + "...[truncated]"
	}
	return text
}

func extractToolResultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []WireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			switch b.Type {
			case "text":
				out += b.Text
			case "image":
				out += "[image omitted]"
			}
		}
		return out
	}
	return ""
}

// hasPendingUnresolvedToolUses reports whether the next user message (if any)
// fails to cover every tool_use id the assistant just introduced.
func hasPendingUnresolvedToolUses(msgs []WireMessage, assistantIdx int, toolUseIDs []string) bool {
	if len(toolUseIDs) == 0 {
		return false
	}
	if assistantIdx+1 >= len(msgs) {
		return true
	}
	next := msgs[assistantIdx+1]
	if next.Role != mapper.RoleUser {
		return true
	}
	covered := make(map[string]bool)
	for _, b := range decodeBlocks(next.Content) {
		if b.Type == "tool_result" {
			covered[b.ToolUseID] = true
		}
	}
	for _, id := range toolUseIDs {
		if !covered[id] {
			return true
		}
	}
	return false
}

func syntheticRecoveryMessage(toolUseIDs []string) mapper.Message {
	msg := mapper.Message{Role: mapper.RoleUser}
	for _, id := range toolUseIDs {
		msg.Parts = append(msg.Parts, mapper.Part{
			Type: "tool_result", ToolResultFor: id, ToolIsError: true, Text: interruptedMarker,
		})
	}
	return msg
}
