package dispatch

import "strings"

type actionKind int

const (
	actionCooldownRotate actionKind = iota
	actionRetrySameAccountStripThinking
	actionContextTooLong
	actionValidationBlock
	actionPermanentForbidden
	actionRotateNoMark
	actionBreaker
	actionOther
)

type action struct {
	kind      actionKind
	retryable bool
}

// classify implements the status/signature → action table from spec.md
// §4.9.
func classify(status int, body string, permanentMarkers []string) action {
	lower := strings.ToLower(body)

	switch status {
	case 429, 529, 503, 500:
		return action{kind: actionCooldownRotate, retryable: true}
	case 400:
		if strings.Contains(lower, "thinking signature") || strings.Contains(lower, "thought_signature") {
			return action{kind: actionRetrySameAccountStripThinking, retryable: true}
		}
		if strings.Contains(lower, "context") && (strings.Contains(lower, "too long") || strings.Contains(lower, "exceeds")) {
			return action{kind: actionContextTooLong, retryable: false}
		}
		return action{kind: actionOther, retryable: false}
	case 403:
		if strings.Contains(lower, "validation_required") {
			return action{kind: actionValidationBlock, retryable: true}
		}
		if hasMarker(body, permanentMarkers) {
			return action{kind: actionPermanentForbidden, retryable: true}
		}
		return action{kind: actionRotateNoMark, retryable: true}
	case 402, 401:
		return action{kind: actionBreaker, retryable: true}
	default:
		return action{kind: actionOther, retryable: status >= 500}
	}
}
