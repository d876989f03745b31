package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestDoSetsBearerAuthAndUserAgent(t *testing.T) {
	var gotAuth, gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, UserAgentOverride: "test-agent/1"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Do(context.Background(), Request{
		Project:     "proj-1",
		Model:       "gemini-2.5-pro",
		AccessToken: "tok-123",
		Body:        []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer tok-123" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
	if gotUA != "test-agent/1" {
		t.Fatalf("expected overridden user agent, got %q", gotUA)
	}
	if gotPath == "" {
		t.Fatalf("expected non-empty request path")
	}
}

func TestStreamPathUsesSSESuffix(t *testing.T) {
	r := Request{Project: "p", Model: "m", Stream: true}
	if got := r.path(); got == "" || got[len(got)-len("?alt=sse"):] != "?alt=sse" {
		t.Fatalf("expected stream path to end in ?alt=sse, got %q", got)
	}
}
