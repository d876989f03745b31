// Package streaming implements the peek-validate-then-forward SSE pipeline
// (C8): decoding upstream streamGenerateContent frames once, then re-encoding
// them into the three client-facing dialects' event shapes.
//
// Grounded on the teacher's internal/infrastructure/llm/gemini/sse.go and
// anthropic/sse.go (bufio.Scanner line splitting, the timedReader idle-guard,
// and the index-keyed per-stream accumulator), generalized per
// original_source's proxy/mappers/openai/streaming.rs.
package streaming

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nimbusroute/gatewind/internal/mapper"
)

const idleTimeout = 60 * time.Second

// Frame is one decoded upstream data frame.
type Frame struct {
	Candidates []mapper.UpstreamCandidate
	Usage      mapper.UpstreamUsage
	Raw        []byte
	IsError    bool
	ErrorText  string
}

// Decoder splits an upstream byte stream into SSE lines and decodes each
// `data: <json>` frame.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r with the teacher's idle-timeout guard and a line
// scanner sized for large per-event payloads.
func NewDecoder(r io.Reader) *Decoder {
	tr := &timedReader{r: r, timeout: idleTimeout}
	scanner := bufio.NewScanner(tr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next decoded data frame, skipping blank lines, SSE
// comments (heartbeats), and the terminal "[DONE]" sentinel (which returns
// io.EOF). ctx cancellation aborts the read.
func (d *Decoder) Next(ctx context.Context) (Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		default:
		}
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return Frame{}, err
			}
			return Frame{}, io.EOF
		}
		line := d.scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return Frame{}, io.EOF
		}
		return decodeFrame([]byte(data)), nil
	}
}

func decodeFrame(data []byte) Frame {
	if errMsg, ok := errorText(data); ok {
		return Frame{Raw: data, IsError: true, ErrorText: errMsg}
	}
	candidates, usage := mapper.ParseUpstreamResponse(data)
	return Frame{Candidates: candidates, Usage: usage, Raw: data}
}

func errorText(data []byte) (string, bool) {
	root := gjson.ParseBytes(data)
	if e := root.Get("error"); e.Exists() {
		if msg := e.Get("message"); msg.Exists() {
			return msg.String(), true
		}
		return e.String(), true
	}
	return "", false
}

type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, fmt.Errorf("sse read idle timeout after %v", t.timeout)
	}
}
