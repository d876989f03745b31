package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nimbusroute/gatewind/internal/dispatch"
	"github.com/nimbusroute/gatewind/internal/infra/config"
	"github.com/nimbusroute/gatewind/internal/schema"
	"github.com/nimbusroute/gatewind/internal/scheduler"
	"github.com/nimbusroute/gatewind/internal/sigcache"
	"github.com/nimbusroute/gatewind/internal/upstream"
)

type fakeLeaser struct{ account string }

func (f *fakeLeaser) Select(ctx context.Context, in scheduler.SelectInput) (*scheduler.Lease, error) {
	return &scheduler.Lease{AccountID: f.account, Email: f.account + "@example.com", AccessToken: "tok", ProjectID: "proj"}, nil
}
func (f *fakeLeaser) TripBreaker(accountID, reason string) {}
func (f *fakeLeaser) ReportSuccess(accountID string)       {}
func (f *fakeLeaser) ReportFailure(accountID string)       {}
func (f *fakeLeaser) Report429Penalty(accountID string)    {}

type fixedCaller struct {
	status int
	body   string
}

func (c *fixedCaller) Do(ctx context.Context, req upstream.Request) (*http.Response, error) {
	return &http.Response{StatusCode: c.status, Body: io.NopCloser(bytes.NewBufferString(c.body)), Header: http.Header{}}, nil
}

func newTestServer() *httptest.Server {
	ctrl := dispatch.New(&fakeLeaser{account: "acct-a"}, &fixedCaller{
		status: 200, body: `{"candidates":[{"content":{"parts":[{"text":"hello there"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":3,"totalTokenCount":8}}`,
	}, schema.New(), config.ProxyConfig{}, func() int { return 1 }, zap.NewNop())

	h := NewHandlers(ctrl, sigcache.New(), zap.NewNop(), "gemini", "think_tags", []string{"gemini-2.5-pro"})
	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerRoutes(router, h)
	return httptest.NewServer(router)
}

func TestHealthEndpointAlwaysOK(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestChatCompletionsNonStreamRoundTrip(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/chat/completions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Account-Email") != "acct-a@example.com" {
		t.Fatalf("expected account email header, got %q", resp.Header.Get("X-Account-Email"))
	}

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	choices, _ := decoded["choices"].([]interface{})
	if len(choices) != 1 {
		t.Fatalf("expected one choice, got %#v", decoded)
	}
}

func TestAnthropicMessagesNonStreamRoundTrip(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	body := `{"model":"gemini-2.5-pro","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/messages: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded["type"] != "message" {
		t.Fatalf("expected anthropic message shape, got %#v", decoded)
	}
}

func TestCursorChatCompletionsDetectsAnthropicLikePayload(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"x","input":{}}]}]}`
	resp, err := http.Post(srv.URL+"/cursor/chat/completions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /cursor/chat/completions: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Cursor-Payload-Kind") != "anthropic_like" {
		t.Fatalf("expected anthropic_like payload kind header, got %q", resp.Header.Get("X-Cursor-Payload-Kind"))
	}
}

func TestListModelsReturnsConfiguredCatalog(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/models")
	if err != nil {
		t.Fatalf("GET /v1/models: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	data, _ := decoded["data"].([]interface{})
	if len(data) != 1 {
		t.Fatalf("expected one model, got %#v", decoded)
	}
}
