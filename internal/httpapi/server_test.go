package httpapi

import "testing"

func TestRequiresAuthOffModeNeverRequires(t *testing.T) {
	if requiresAuth("off", "/v1/chat/completions") {
		t.Fatal("expected off mode to never require auth")
	}
	if requiresAuth("off", "/health") {
		t.Fatal("expected off mode to never require auth")
	}
}

func TestRequiresAuthStrictModeAlwaysRequires(t *testing.T) {
	if !requiresAuth("strict", "/health") {
		t.Fatal("expected strict mode to require auth even on /health")
	}
}

func TestRequiresAuthAllExceptHealthExemptsOnlyHealth(t *testing.T) {
	if requiresAuth("all_except_health", "/health") {
		t.Fatal("expected /health exempted")
	}
	if !requiresAuth("all_except_health", "/v1/models") {
		t.Fatal("expected non-health path to require auth")
	}
}

func TestRequiresAuthAutoExemptsOnlyHealth(t *testing.T) {
	if requiresAuth("auto", "/health") {
		t.Fatal("expected /health exempted under auto mode")
	}
	if !requiresAuth("auto", "/v1/messages") {
		t.Fatal("expected non-health path to require auth under auto mode")
	}
}
