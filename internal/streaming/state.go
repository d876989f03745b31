package streaming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/nimbusroute/gatewind/internal/mapper"
	"github.com/nimbusroute/gatewind/internal/sigcache"
)

// State is the private, per-stream accumulator described in spec.md §4.8:
// dedup of duplicate function-call emissions, thoughtSignature accumulation
// into the session signature cache, and finishReason accumulation until
// terminal. It is not safe for concurrent use — each in-flight stream owns
// exactly one State.
type State struct {
	SessionID    string
	sigCache     *sigcache.Cache
	targetFamily string

	seenFunctionCalls map[string]bool
	finishReason      string
	lastSignature     string
	model             string

	promptTokens int
	totalTokens  int
}

// NewState creates a per-stream accumulator bound to sigCache for signature
// continuity recording. targetFamily identifies the upstream model family
// ("gemini") the emitted signatures were issued by, so a later replay attempt
// against the same family can be recognized as compatible.
func NewState(sessionID string, sigCache *sigcache.Cache, targetFamily string) *State {
	return &State{
		SessionID:         sessionID,
		sigCache:          sigCache,
		targetFamily:      targetFamily,
		seenFunctionCalls: make(map[string]bool),
	}
}

// LastSignature returns the most recently observed usable thoughtSignature
// this turn — the "last-seen-this-turn" precedence tier from sigcache.Resolve.
func (s *State) LastSignature() string { return s.lastSignature }

// Observe folds one decoded frame into the accumulator and returns the
// candidate parts that should actually be emitted downstream (duplicate
// function calls already seen this stream are dropped).
func (s *State) Observe(f Frame) []mapper.UpstreamPart {
	var emit []mapper.UpstreamPart
	if len(f.Candidates) == 0 {
		return emit
	}
	cand := f.Candidates[0]
	if cand.FinishReason != "" {
		s.finishReason = cand.FinishReason
	}
	if f.Usage.TotalTokens > 0 {
		s.totalTokens = f.Usage.TotalTokens
		s.promptTokens = f.Usage.PromptTokens
	}

	for _, p := range cand.Parts {
		if p.FunctionCall != nil {
			key := functionCallKey(p.FunctionCall)
			if s.seenFunctionCalls[key] {
				continue
			}
			s.seenFunctionCalls[key] = true
			if p.FunctionCall.ID != "" && sigcache.Usable(s.lastSignature) {
				s.sigCache.RecordToolUse(p.FunctionCall.ID, s.lastSignature)
			}
		}
		if p.Thought && sigcache.Usable(p.ThoughtSignature) {
			s.lastSignature = p.ThoughtSignature
			s.sigCache.RecordFamily(p.ThoughtSignature, s.targetFamily)
			if s.SessionID != "" {
				s.sigCache.RecordSession(s.SessionID, p.ThoughtSignature, 1)
			}
		}
		emit = append(emit, p)
	}
	return emit
}

// FinishReason returns the accumulated terminal finish reason, empty if the
// stream has not yet reached one.
func (s *State) FinishReason() string { return s.finishReason }

// Usage returns the accumulated usage totals observed so far.
func (s *State) Usage() (prompt, total int) { return s.promptTokens, s.totalTokens }

func functionCallKey(fc *mapper.FunctionCall) string {
	keys := make([]string, 0, len(fc.Args))
	for k := range fc.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(fc.Name))
	h.Write([]byte{0})
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, fc.Args[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
