package dispatch

import "testing"

func TestClassify429IsCooldownRotate(t *testing.T) {
	a := classify(429, "", nil)
	if a.kind != actionCooldownRotate || !a.retryable {
		t.Fatalf("expected 429 to classify as cooldown-rotate retryable, got %#v", a)
	}
}

func TestClassifyThinkingSignature400(t *testing.T) {
	a := classify(400, "Invalid thinking signature provided", nil)
	if a.kind != actionRetrySameAccountStripThinking {
		t.Fatalf("expected thinking-signature 400 to retry without thinking, got %#v", a)
	}
}

func TestClassifyContextTooLong400(t *testing.T) {
	a := classify(400, "the request context is too long for this model", nil)
	if a.kind != actionContextTooLong || a.retryable {
		t.Fatalf("expected context-too-long 400 to fail fast, got %#v", a)
	}
}

func TestClassify403PermanentMarker(t *testing.T) {
	a := classify(403, "This account has been disabled for policy violation", []string{"account disabled", "policy violation"})
	if a.kind != actionPermanentForbidden {
		t.Fatalf("expected 403 with permanent marker to classify as permanent forbidden, got %#v", a)
	}
}

func TestClassify403WithoutMarker(t *testing.T) {
	a := classify(403, "forbidden", []string{"account disabled"})
	if a.kind != actionRotateNoMark {
		t.Fatalf("expected 403 without marker to rotate without permanent mark, got %#v", a)
	}
}

func TestClassify401TripsBreaker(t *testing.T) {
	a := classify(401, "", nil)
	if a.kind != actionBreaker {
		t.Fatalf("expected 401 to trip circuit breaker, got %#v", a)
	}
}
