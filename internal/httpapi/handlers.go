package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbusroute/gatewind/internal/cursor"
	"github.com/nimbusroute/gatewind/internal/dispatch"
	"github.com/nimbusroute/gatewind/internal/mapper"
	anthropicmap "github.com/nimbusroute/gatewind/internal/mapper/anthropic"
	openaimap "github.com/nimbusroute/gatewind/internal/mapper/openai"
	responsesmap "github.com/nimbusroute/gatewind/internal/mapper/responses"
	"github.com/nimbusroute/gatewind/internal/sigcache"
	"github.com/nimbusroute/gatewind/internal/streaming"
	"github.com/nimbusroute/gatewind/pkg/apperr"
)

// Handlers implements every endpoint of spec.md §6, translating each wire
// protocol to/from the canonical mapper.Request and driving it through the
// dispatch controller.
type Handlers struct {
	dispatch            *dispatch.Controller
	sigCache            *sigcache.Cache
	logger              *zap.Logger
	targetFamily        string
	cursorReasoningMode cursor.ReasoningMode
	models              []string
}

// NewHandlers wires the handler set to the shared dispatch controller and
// signature cache built at startup.
func NewHandlers(d *dispatch.Controller, sigCache *sigcache.Cache, logger *zap.Logger, targetFamily, cursorReasoningMode string, models []string) *Handlers {
	return &Handlers{
		dispatch: d, sigCache: sigCache, logger: logger, targetFamily: targetFamily,
		cursorReasoningMode: cursor.ReasoningMode(cursorReasoningMode), models: models,
	}
}

// Health reports liveness. Whether it needs auth follows requiresAuth: open
// in every mode except strict.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListModels returns the configured model catalog in OpenAI's list shape.
func (h *Handlers) ListModels(c *gin.Context) {
	data := make([]gin.H, 0, len(h.models))
	for _, m := range h.models {
		data = append(data, gin.H{"id": m, "object": "model", "owned_by": "gatewind"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func sessionID(c *gin.Context) string {
	if sid := c.GetHeader("X-Session-ID"); sid != "" {
		return sid
	}
	return c.ClientIP()
}

// ChatCompletions serves /v1/chat/completions.
func (h *Handlers) ChatCompletions(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperr.NewInvalidRequest("failed to read request body"))
		return
	}
	req := openaimap.ToCanonical(raw)
	req.SessionID = sessionID(c)
	h.run(c, "openai", req, func(id string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) interface{} {
		return openaimap.FromUpstream(id, req.Model, candidates, usage)
	})
}

// LegacyCompletions serves /v1/completions.
func (h *Handlers) LegacyCompletions(c *gin.Context) {
	h.ChatCompletions(c)
}

// Responses serves /v1/responses.
func (h *Handlers) Responses(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperr.NewInvalidRequest("failed to read request body"))
		return
	}
	req := openaimap.ToCanonical(raw)
	req.SessionID = sessionID(c)
	h.run(c, "responses", req, func(id string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) interface{} {
		return responsesmap.FromUpstream(id, req.Model, candidates, usage)
	})
}

// AnthropicMessages serves /v1/messages.
func (h *Handlers) AnthropicMessages(c *gin.Context) {
	var wire anthropicmap.Request
	if err := c.ShouldBindJSON(&wire); err != nil {
		writeError(c, apperr.NewInvalidRequest("invalid anthropic request body"))
		return
	}
	req := anthropicmap.ToCanonical(wire, h.sigCache, h.targetFamily, sessionID(c))
	h.run(c, "anthropic", req, func(id string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) interface{} {
		return anthropicmap.FromUpstream(id, req.Model, candidates, usage)
	})
}

// CursorChatCompletions serves /cursor/chat/completions: it detects the
// incoming dialect, rewrites Anthropic-shaped bodies to OpenAI Chat, dispatches
// as openai, and post-processes the output stream's reasoning content.
func (h *Handlers) CursorChatCompletions(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperr.NewInvalidRequest("failed to read request body"))
		return
	}

	kind := cursor.DetectDialect(raw)
	c.Header("X-Cursor-Payload-Kind", string(kind))

	if kind == cursor.DialectAnthropicLike {
		rewritten, err := cursor.ToOpenAIChat(raw)
		if err != nil {
			writeError(c, apperr.NewInvalidRequest("failed to rewrite cursor payload"))
			return
		}
		raw = rewritten
	}

	req := openaimap.ToCanonical(raw)
	req.SessionID = sessionID(c)

	rewriter := cursor.NewReasoningRewriter(h.cursorReasoningMode)
	h.runWithRewriter(c, "openai", req, rewriter, func(id string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) interface{} {
		return openaimap.FromUpstream(id, req.Model, candidates, usage)
	})
}

// ImageGenerations serves /v1/images/generations, dispatched as an openai
// chat request whose single user turn carries the prompt; the response's
// inlineData parts are folded into image URLs by openaimap.FromUpstream.
func (h *Handlers) ImageGenerations(c *gin.Context) {
	var body struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperr.NewInvalidRequest("invalid image generation request"))
		return
	}
	req := mapper.Request{
		Model:    body.Model,
		Messages: []mapper.Message{{Role: mapper.RoleUser, Parts: []mapper.Part{{Type: "text", Text: body.Prompt}}}},
	}
	req.SessionID = sessionID(c)
	h.run(c, "openai", req, func(id string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) interface{} {
		return openaimap.FromUpstream(id, req.Model, candidates, usage)
	})
}

// ImageEdits serves /v1/images/edits. Only the model and prompt form fields
// are forwarded; the uploaded image file is not read or sent upstream.
func (h *Handlers) ImageEdits(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		writeError(c, apperr.NewInvalidRequest("invalid multipart image edit request"))
		return
	}
	model := c.Request.FormValue("model")
	prompt := c.Request.FormValue("prompt")
	req := mapper.Request{
		Model:    model,
		Messages: []mapper.Message{{Role: mapper.RoleUser, Parts: []mapper.Part{{Type: "text", Text: prompt}}}},
	}
	req.SessionID = sessionID(c)
	h.run(c, "openai", req, func(id string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) interface{} {
		return openaimap.FromUpstream(id, req.Model, candidates, usage)
	})
}

type nonStreamBuilder func(id string, candidates []mapper.UpstreamCandidate, usage mapper.UpstreamUsage) interface{}

func (h *Handlers) run(c *gin.Context, protocol string, req mapper.Request, build nonStreamBuilder) {
	h.runWithRewriter(c, protocol, req, nil, build)
}

func (h *Handlers) runWithRewriter(c *gin.Context, protocol string, req mapper.Request, rewriter *cursor.ReasoningRewriter, build nonStreamBuilder) {
	ctx := c.Request.Context()
	outcome, err := h.dispatch.Dispatch(ctx, dispatch.Params{
		Protocol: protocol, Canonical: req, SessionID: req.SessionID, TargetModel: req.Model,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("X-Account-Email", outcome.AccountEmail)
	c.Header("X-Mapped-Model", outcome.MappedModel)

	if outcome.Stream != nil {
		h.forwardStream(c, outcome, protocol, req, rewriter)
		return
	}

	if outcome.Status != http.StatusOK {
		c.Data(outcome.Status, "application/json", outcome.Body)
		return
	}

	candidates, usage := mapper.ParseUpstreamResponse(outcome.Body)
	id := "gen-" + uuid.NewString()
	c.JSON(http.StatusOK, build(id, candidates, usage))
}

func (h *Handlers) forwardStream(c *gin.Context, outcome *dispatch.Outcome, protocol string, req mapper.Request, rewriter *cursor.ReasoningRewriter) {
	defer outcome.Stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	w := streaming.NewSyncWriter(c.Writer)
	flusher, _ := c.Writer.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	ctx := c.Request.Context()
	stop := streaming.Heartbeat(ctx, w, flush)
	defer stop()

	id := "gen-" + uuid.NewString()
	state := streaming.NewState(req.SessionID, h.sigCache, h.targetFamily)

	var writeFrame func(streaming.Frame) error
	var finish func() error

	switch protocol {
	case "anthropic":
		aw := streaming.NewAnthropicWriter(w, id, outcome.MappedModel, state)
		writeFrame, finish = aw.WriteFrame, aw.Finish
	case "responses":
		rw := streaming.NewResponsesWriter(w, id, outcome.MappedModel, state)
		writeFrame, finish = rw.WriteFrame, rw.Finish
	default:
		ow := streaming.NewOpenAIWriter(w, id, outcome.MappedModel, state)
		if rewriter == nil {
			writeFrame, finish = ow.WriteFrame, ow.Finish
		} else {
			writeFrame = func(f streaming.Frame) error { return writeReasoningRewritten(ow, rewriter, f) }
			finish = ow.Finish
		}
	}

	for {
		frame, err := outcome.Stream.Decoder.Next(ctx)
		if err != nil {
			break
		}
		if werr := writeFrame(frame); werr != nil {
			h.logger.Warn("stream write failed", zap.Error(werr))
			break
		}
		if frame.IsError {
			break
		}
		flush()
	}
	if rewriter != nil {
		if closing := rewriter.Close(); closing != nil {
			fmt.Fprintf(w, "data: %s\n\n", closing)
		}
	}
	if err := finish(); err != nil {
		h.logger.Warn("stream finish failed", zap.Error(err))
	}
	flush()
}

func writeReasoningRewritten(ow *streaming.OpenAIWriter, rewriter *cursor.ReasoningRewriter, f streaming.Frame) error {
	return ow.WriteFrameFiltered(f, rewriter.RewriteFrame)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := apperr.CodeAPIError
	message := err.Error()

	if appErr, ok := asAppError(err); ok {
		status = appErr.HTTPStatus()
		code = appErr.Code
		message = appErr.Message
	}

	c.JSON(status, gin.H{"error": gin.H{"message": message, "type": string(code)}})
}

func asAppError(err error) (*apperr.AppError, bool) {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if ae, ok := e.(*apperr.AppError); ok {
			return ae, true
		}
		u, ok := e.(unwrapper)
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return nil, false
}
