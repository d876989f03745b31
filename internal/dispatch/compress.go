package dispatch

import (
	"github.com/nimbusroute/gatewind/internal/infra/config"
	"github.com/nimbusroute/gatewind/internal/mapper"
	"github.com/nimbusroute/gatewind/pkg/apperr"
)

// absoluteContextLimit is the hard ceiling past which even max compression
// fails fast (spec.md §4.9 step 4's "absolute limit").
const absoluteContextLimit = 180_000

// estimateTokens is a cheap character-count heuristic (about four characters
// per token, with tool_result text counted twice); C9 never needs exact token
// counts, only a threshold comparison.
func estimateTokens(req mapper.Request) int {
	total := len(req.System) / 4
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			total += len(p.Text) / 4
			if p.Type == "tool_result" {
				total += len(p.Text) / 4
			}
		}
	}
	return total
}

// compress applies progressive context compression when the estimate
// crosses the configured L1 < L2 < L3 thresholds: light (truncate tool
// results longer than 2000 characters outside the last 6 messages),
// aggressive (also drop thinking parts outside the last 3 messages), max
// (keep the system prompt and only the last 2 messages). If max compression
// still exceeds absoluteContextLimit, it fails fast with context_too_long.
func compress(req mapper.Request, cfg config.ExperimentalConfig) (mapper.Request, error) {
	est := estimateTokens(req)
	switch {
	case cfg.ContextCompressionThresholdL3 > 0 && est >= cfg.ContextCompressionThresholdL3:
		req = compressMax(req)
		if estimateTokens(req) >= absoluteContextLimit {
			return req, apperr.NewContextTooLong("context too long even after maximum compression")
		}
	case cfg.ContextCompressionThresholdL2 > 0 && est >= cfg.ContextCompressionThresholdL2:
		req = compressAggressive(req)
	case cfg.ContextCompressionThresholdL1 > 0 && est >= cfg.ContextCompressionThresholdL1:
		req = compressLight(req)
	}
	return req, nil
}

const toolResultTruncateAt = 2000

func compressLight(req mapper.Request) mapper.Request {
	cutoff := len(req.Messages) - 6
	for i, m := range req.Messages {
		if i >= cutoff {
			continue
		}
		for j, p := range m.Parts {
			if p.Type == "tool_result" && len(p.Text) > toolResultTruncateAt {
				req.Messages[i].Parts[j].Text = p.Text[:toolResultTruncateAt] + "...[compressed]"
			}
		}
	}
	return req
}

func compressAggressive(req mapper.Request) mapper.Request {
	req = compressLight(req)
	cutoff := len(req.Messages) - 3
	for i := range req.Messages {
		if i >= cutoff {
			continue
		}
		var kept []mapper.Part
		for _, p := range req.Messages[i].Parts {
			if p.Type == "thinking" {
				continue
			}
			kept = append(kept, p)
		}
		req.Messages[i].Parts = kept
	}
	return req
}

func compressMax(req mapper.Request) mapper.Request {
	req = compressAggressive(req)
	keep := 2
	if len(req.Messages) > keep {
		req.Messages = req.Messages[len(req.Messages)-keep:]
	}
	return req
}
