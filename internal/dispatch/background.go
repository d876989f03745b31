package dispatch

import (
	"strings"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

// backgroundTaskMarkers are prompt/tool-name substrings that mark a request
// as a cheap background task (spec.md §4.9 step 3), scanned case-insensitive
// across the system prompt, all message text, and tool names.
var backgroundTaskMarkers = []string{
	"title generation", "generate a title", "summarization", "summarize this conversation",
}

const backgroundTaskModel = "gemini-2.0-flash"

// detectBackgroundTask reports whether req looks like a cheap background
// task, and if so the substitute model to use.
func detectBackgroundTask(req mapper.Request) (string, bool) {
	if containsMarker(req.System) {
		return backgroundTaskModel, true
	}
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if containsMarker(p.Text) {
				return backgroundTaskModel, true
			}
		}
	}
	for _, t := range req.Tools {
		if containsMarker(t.Name) || containsMarker(t.Description) {
			return backgroundTaskModel, true
		}
	}
	return "", false
}

func containsMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range backgroundTaskMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// trimHistoryForBackgroundTask drops every message before the final user
// message (that message and any after it are kept), since
// background tasks (title/summary generation) don't need full conversation
// history re-sent to a cheaper model.
func trimHistoryForBackgroundTask(msgs []mapper.Message) []mapper.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == mapper.RoleUser {
			return msgs[i:]
		}
	}
	return msgs
}
