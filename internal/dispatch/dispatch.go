// Package dispatch implements the per-request retry loop (C9): it builds
// the upstream request from a canonical mapper.Request, requests a token
// lease from the scheduler, calls the upstream client, classifies failures,
// and rotates accounts per spec.md §4.9.
//
// Grounded on the teacher's internal/infrastructure/llm/router.go
// failover-across-providers loop, generalized from "list of Provider" into
// "list of scheduler attempts against one upstream", per
// original_source's proxy/dispatch/mod.rs retry/classification table.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusroute/gatewind/internal/infra/config"
	"github.com/nimbusroute/gatewind/internal/mapper"
	"github.com/nimbusroute/gatewind/internal/schema"
	"github.com/nimbusroute/gatewind/internal/scheduler"
	"github.com/nimbusroute/gatewind/internal/streaming"
	"github.com/nimbusroute/gatewind/internal/upstream"
	"github.com/nimbusroute/gatewind/pkg/apperr"
)

const maxRetry = 3

// Leaser is the subset of scheduler.Scheduler dispatch depends on.
type Leaser interface {
	Select(ctx context.Context, in scheduler.SelectInput) (*scheduler.Lease, error)
	TripBreaker(accountID, reason string)
	ReportSuccess(accountID string)
	ReportFailure(accountID string)
	Report429Penalty(accountID string)
}

// Caller is the subset of upstream.Client dispatch depends on.
type Caller interface {
	Do(ctx context.Context, req upstream.Request) (*http.Response, error)
}

// Controller runs the dispatch retry loop.
type Controller struct {
	scheduler Leaser
	upstream  Caller
	cleaner   *schema.Cleaner
	cfg       config.ProxyConfig
	poolSize  func() int
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(time.Duration)
}

// New builds a Controller.
func New(sched Leaser, client Caller, cleaner *schema.Cleaner, cfg config.ProxyConfig, poolSize func() int, logger *zap.Logger) *Controller {
	return &Controller{
		scheduler: sched, upstream: client, cleaner: cleaner, cfg: cfg, poolSize: poolSize,
		logger: logger, now: time.Now, sleep: time.Sleep,
	}
}

// Outcome describes the result of a non-stream dispatch call, or the setup
// result for a stream call whose body is forwarded directly to w.
type Outcome struct {
	AccountEmail string
	MappedModel  string
	Status       int
	Body         []byte
	Stream       *StreamResult
}

// StreamResult holds an accepted stream's decoder, ready for C8 to consume.
type StreamResult struct {
	Decoder interface {
		Next(ctx context.Context) (streaming.Frame, error)
	}
	Close func()
}

// Params is one client-facing dispatch request.
type Params struct {
	Protocol     string // "anthropic" | "openai" | "responses"
	Canonical    mapper.Request
	QuotaGroup   string
	SessionID    string
	TargetModel  string
	ForceRotate  bool
}

// Dispatch runs the retry loop described in spec.md §4.9 and returns either
// an aggregated non-stream Outcome or one ready to stream.
func (c *Controller) Dispatch(ctx context.Context, p Params) (*Outcome, error) {
	if mock, ok := warmupMockResponse(p.Canonical); ok {
		return mock, nil
	}

	targetModel := resolveModel(p.Canonical.Model, c.cfg.CustomMapping)
	if substituted, ok := detectBackgroundTask(p.Canonical); ok {
		targetModel = substituted
		p.Canonical.Messages = trimHistoryForBackgroundTask(p.Canonical.Messages)
	}

	compressed, err := compress(p.Canonical, c.cfg.Experimental)
	if err != nil {
		return nil, err
	}
	p.Canonical = compressed

	maxAttempts := maxRetry
	if n := c.poolSize(); n+1 < maxAttempts {
		maxAttempts = n + 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var lastStatus int
	var lastAccountEmail string
	retriedWithoutThinking := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		lease, err := c.acquireLease(ctx, p, targetModel)
		if err != nil {
			lastErr = err
			break
		}

		body, buildErr := buildUpstreamBody(p.Canonical, p.Protocol, c.cleaner)
		if buildErr != nil {
			lease.Release()
			return nil, buildErr
		}

		resp, err := c.upstream.Do(ctx, upstream.Request{
			Project: lease.ProjectID, Model: targetModel, Stream: p.Canonical.Stream,
			Body: body, AccessToken: lease.AccessToken,
		})
		if err != nil {
			lease.Release()
			c.jitterSleep(1*time.Second, 3*time.Second)
			lastErr = err
			continue
		}

		lastAccountEmail = lease.Email

		if resp.StatusCode == http.StatusOK {
			c.scheduler.ReportSuccess(lease.AccountID)
			if p.Canonical.Stream {
				watchDone := upstream.WatchCancellation(ctx, c.logger, resp)
				decoder := streaming.NewDecoder(resp.Body)
				peeked, perr := streaming.Peek(ctx, decoder)
				if perr != nil {
					watchDone()
					resp.Body.Close()
					lease.Release()
					c.jitterSleep(2*time.Second, 4*time.Second)
					lastErr = perr
					continue
				}
				chained := streaming.NewChainedDecoder(peeked.First, decoder)
				return &Outcome{
					AccountEmail: lease.Email, MappedModel: targetModel, Status: http.StatusOK,
					Stream: &StreamResult{Decoder: chained, Close: func() { watchDone(); resp.Body.Close(); lease.Release() }},
				}, nil
			}
			defer lease.Release()
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return &Outcome{AccountEmail: lease.Email, MappedModel: targetModel, Status: http.StatusOK, Body: respBody}, nil
		}

		lastStatus = resp.StatusCode
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		action := classify(resp.StatusCode, string(respBody), c.cfg.PermanentForbiddenMarkers)
		switch action.kind {
		case actionRetrySameAccountStripThinking:
			if !retriedWithoutThinking {
				retriedWithoutThinking = true
				p.Canonical.Messages = stripThinkingBlocks(p.Canonical.Messages)
				lease.Release()
				c.jitterSleep(200*time.Millisecond, 200*time.Millisecond)
				continue
			}
			lease.Release()
			lastErr = apperr.NewTransformError("thinking signature rejected twice", nil)
			continue
		case actionContextTooLong:
			lease.Release()
			return nil, apperr.NewContextTooLong("context too long")
		case actionValidationBlock:
			lease.Release()
			c.scheduler.ReportFailure(lease.AccountID)
			continue
		case actionPermanentForbidden:
			lease.Release()
			c.scheduler.TripBreaker(lease.AccountID, "403 permanent")
			continue
		case actionRotateNoMark:
			lease.Release()
			c.scheduler.ReportFailure(lease.AccountID)
			continue
		case actionBreaker:
			lease.Release()
			c.scheduler.TripBreaker(lease.AccountID, strconv.Itoa(resp.StatusCode))
			continue
		case actionCooldownRotate:
			if retryAfter > 0 {
				// retryAfter is not recorded: neither the Controller nor the
				// httpapi handlers hold a ratelimit.Tracker, so no cooldown
				// is set for this account; only the 429 health penalty
				// below affects its next selection.
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				c.scheduler.Report429Penalty(lease.AccountID)
			}
			lease.Release()
			continue
		default:
			lease.Release()
			lastErr = apperr.NewAPIError(fmt.Sprintf("upstream status %d: %s", resp.StatusCode, truncate(string(respBody), 500)), nil)
			if !action.retryable || attempt == maxAttempts-1 {
				return &Outcome{AccountEmail: lastAccountEmail, MappedModel: targetModel, Status: resp.StatusCode, Body: respBody}, nil
			}
		}
	}

	return nil, exhaustionError(lastStatus, lastErr, lastAccountEmail)
}

func (c *Controller) acquireLease(ctx context.Context, p Params, targetModel string) (*scheduler.Lease, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		lease, err := c.scheduler.Select(ctx, scheduler.SelectInput{
			QuotaGroup: p.QuotaGroup, SessionID: p.SessionID, TargetModel: targetModel, ForceRotate: p.ForceRotate,
		})
		if err == nil {
			return lease, nil
		}
		lastErr = err
		c.jitterSleep(100*time.Millisecond, 500*time.Millisecond)
	}
	return nil, lastErr
}

func (c *Controller) jitterSleep(min, max time.Duration) {
	d := min
	if max > min {
		d = min + time.Duration(rand.Int63n(int64(max-min)))
	}
	c.sleep(d)
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}

func exhaustionError(lastStatus int, lastErr error, accountEmail string) error {
	switch lastStatus {
	case http.StatusTooManyRequests:
		return apperr.NewRateLimit(fmt.Sprintf("no accounts available after retries (last account %s)", accountEmail))
	case http.StatusServiceUnavailable:
		return apperr.NewServiceUnavailable(fmt.Sprintf("upstream unavailable after retries (last account %s)", accountEmail))
	default:
		if lastErr != nil {
			return lastErr
		}
		return apperr.NewServiceUnavailable("all attempts exhausted")
	}
}

func resolveModel(model string, customMapping map[string]string) string {
	if mapped, ok := customMapping[model]; ok {
		return mapped
	}
	return model
}

func buildUpstreamBody(req mapper.Request, protocol string, cleaner *schema.Cleaner) ([]byte, error) {
	payload := map[string]interface{}{
		"contents": buildContents(req),
	}
	if req.System != "" {
		payload["systemInstruction"] = map[string]interface{}{"parts": []map[string]interface{}{{"text": req.System}}}
	}
	if len(req.Tools) > 0 {
		var decls []map[string]interface{}
		for _, t := range req.Tools {
			cleaned := t.Schema
			if cleaner != nil && cleaned != nil {
				cleaned = cleaner.Clean(t.Name, cleaned)
			}
			decls = append(decls, map[string]interface{}{
				"name": t.Name, "description": t.Description, "parameters": cleaned,
			})
		}
		payload["tools"] = []map[string]interface{}{{"functionDeclarations": decls}}
	}
	genConfig := map[string]interface{}{}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		genConfig["temperature"] = req.Temperature
	}
	if len(genConfig) > 0 {
		payload["generationConfig"] = genConfig
	}
	return json.Marshal(payload)
}

func buildContents(req mapper.Request) []map[string]interface{} {
	var contents []map[string]interface{}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == mapper.RoleAssistant {
			role = "model"
		}
		var parts []map[string]interface{}
		for _, p := range m.Parts {
			switch p.Type {
			case "text":
				parts = append(parts, map[string]interface{}{"text": p.Text})
			case "image", "document":
				parts = append(parts, map[string]interface{}{"inlineData": map[string]interface{}{"mimeType": p.MimeType, "data": p.Data}})
			case "thinking":
				parts = append(parts, map[string]interface{}{"text": p.Text, "thought": true, "thoughtSignature": p.Signature})
			case "tool_use":
				parts = append(parts, map[string]interface{}{
					"functionCall": map[string]interface{}{"name": p.ToolName, "args": p.ToolArgs, "id": p.ToolCallID},
					"thoughtSignature": p.Signature,
				})
			case "tool_result":
				result := p.Text
				parts = append(parts, map[string]interface{}{
					"functionResponse": map[string]interface{}{"name": p.ToolResultFor, "response": map[string]interface{}{"result": result}, "id": p.ToolResultFor},
				})
			}
		}
		contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
	}
	return contents
}

func stripThinkingBlocks(msgs []mapper.Message) []mapper.Message {
	out := make([]mapper.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		var kept []mapper.Part
		for _, p := range m.Parts {
			if p.Type == "thinking" {
				continue
			}
			kept = append(kept, p)
		}
		out[i].Parts = kept
	}
	return out
}

func hasMarker(body string, markers []string) bool {
	lower := strings.ToLower(body)
	for _, m := range markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
