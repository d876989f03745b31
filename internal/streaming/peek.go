package streaming

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrRetrySignal is returned by Peek when C9 should rotate accounts and
// retry rather than forward the stream to the client: the first real data
// frame was an error frame, the stream ended before any data arrived, or the
// peek window elapsed.
var ErrRetrySignal = errors.New("streaming: peek retry signal")

const peekWindow = 60 * time.Second

// Peeked holds the result of a successful peek: the first real frame, to be
// re-prepended to the forwarded stream so the client sees no discontinuity.
type Peeked struct {
	First Frame
}

// Peek drains heartbeats/empty frames from d and examines the first real
// data frame within peekWindow, per spec.md §4.8's peek-validate-then-forward
// protocol.
func Peek(ctx context.Context, d *Decoder) (Peeked, error) {
	peekCtx, cancel := context.WithTimeout(ctx, peekWindow)
	defer cancel()

	for {
		frame, err := d.Next(peekCtx)
		if errors.Is(err, io.EOF) {
			return Peeked{}, ErrRetrySignal
		}
		if err != nil {
			return Peeked{}, ErrRetrySignal
		}
		if frame.IsError {
			return Peeked{}, ErrRetrySignal
		}
		if len(frame.Candidates) == 0 {
			continue
		}
		return Peeked{First: frame}, nil
	}
}

// ChainedDecoder re-plays a peeked first frame before continuing to read
// from the underlying decoder, so the peek is invisible to the forwarding
// loop.
type ChainedDecoder struct {
	first   *Frame
	decoder *Decoder
}

// NewChainedDecoder builds a decoder that yields first once, then defers to d.
func NewChainedDecoder(first Frame, d *Decoder) *ChainedDecoder {
	return &ChainedDecoder{first: &first, decoder: d}
}

// Next implements the same shape as Decoder.Next.
func (c *ChainedDecoder) Next(ctx context.Context) (Frame, error) {
	if c.first != nil {
		f := *c.first
		c.first = nil
		return f, nil
	}
	return c.decoder.Next(ctx)
}
