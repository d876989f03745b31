package dispatch

import (
	"net/http"
	"strings"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

const warmupMarker = "__gatewind_warmup__"

// warmupMockResponse intercepts a warmup probe (a request whose sole user
// text is the warmup marker) and returns a canned response without touching
// the account pool or the upstream, per spec.md §4.9 step 2.
func warmupMockResponse(req mapper.Request) (*Outcome, bool) {
	if !isWarmup(req) {
		return nil, false
	}
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"totalTokenCount":2}}`)
	return &Outcome{AccountEmail: "warmup", MappedModel: req.Model, Status: http.StatusOK, Body: body}, true
}

func isWarmup(req mapper.Request) bool {
	if len(req.Messages) != 1 {
		return false
	}
	m := req.Messages[0]
	if m.Role != mapper.RoleUser || len(m.Parts) != 1 {
		return false
	}
	return strings.TrimSpace(m.Parts[0].Text) == warmupMarker
}
