package dispatch

import (
	"strings"
	"testing"

	"github.com/nimbusroute/gatewind/internal/infra/config"
	"github.com/nimbusroute/gatewind/internal/mapper"
)

func bigRequest(n int) mapper.Request {
	return bigRequestSized(n, 10000)
}

func bigRequestSized(n, size int) mapper.Request {
	var msgs []mapper.Message
	for i := 0; i < n; i++ {
		msgs = append(msgs, mapper.Message{Role: mapper.RoleUser, Parts: []mapper.Part{{
			Type: "tool_result", Text: strings.Repeat("x", size),
		}}})
	}
	return mapper.Request{Messages: msgs}
}

func TestCompressNoopBelowThresholds(t *testing.T) {
	req := bigRequest(2)
	cfg := config.ExperimentalConfig{ContextCompressionThresholdL1: 1_000_000, ContextCompressionThresholdL2: 2_000_000, ContextCompressionThresholdL3: 3_000_000}
	out, err := compress(req, cfg)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if out.Messages[0].Parts[0].Text != req.Messages[0].Parts[0].Text {
		t.Fatalf("expected no compression below thresholds")
	}
}

func TestCompressMaxFailsFastPastAbsoluteLimit(t *testing.T) {
	req := bigRequestSized(5, 500000)
	cfg := config.ExperimentalConfig{ContextCompressionThresholdL1: 10, ContextCompressionThresholdL2: 20, ContextCompressionThresholdL3: 30}
	_, err := compress(req, cfg)
	if err == nil {
		t.Fatalf("expected context_too_long error when even max compression exceeds the absolute limit")
	}
}

func TestCompressLightTruncatesOldToolResults(t *testing.T) {
	req := bigRequest(10)
	cfg := config.ExperimentalConfig{ContextCompressionThresholdL1: 10, ContextCompressionThresholdL2: 1_000_000, ContextCompressionThresholdL3: 2_000_000}
	out, err := compress(req, cfg)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(out.Messages[0].Parts[0].Text) >= 10000 {
		t.Fatalf("expected an old tool_result to be truncated by light compression")
	}
}
