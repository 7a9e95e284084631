// Package stdio provides the CLI's default FrameProducer/FrameConsumer:
// a simple length-prefixed AU framing over stdin/stdout. Camera capture,
// H.264 encoding, and decode/display are out of scope for this module
// (spec.md §1); this is the minimal opaque byte pump a CLI needs so the
// core protocol is actually exercisable end to end without inventing a
// video pipeline, the same role the teacher's cmd layer plays for chat
// message bytes.
package stdio

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Producer reads u32_be(len) || payload access units from an
// io.Reader (normally os.Stdin) and stamps each with its own capture
// time, since stdin has no capture clock of its own.
type Producer struct {
	r   *bufio.Reader
	now func() time.Time
}

// NewProducer wraps r. now defaults to time.Now.
func NewProducer(r io.Reader) *Producer {
	return &Producer{r: bufio.NewReader(r), now: time.Now}
}

func (p *Producer) NextAU(ctx context.Context) ([]byte, uint64, error) {
	type result struct {
		payload []byte
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		var lenBuf [4]byte
		if _, err := io.ReadFull(p.r, lenBuf[:]); err != nil {
			ch <- result{nil, err}
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(p.r, buf); err != nil {
			ch <- result{nil, err}
			return
		}
		ch <- result{buf, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			if res.err == io.EOF {
				return nil, 0, io.EOF
			}
			return nil, 0, fmt.Errorf("stdio producer: %w", res.err)
		}
		return res.payload, uint64(p.now().UnixNano()), nil
	}
}

// Consumer writes u32_be(len) || payload access units to an io.Writer
// (normally os.Stdout), discarding capture_ts_ns on the wire since the
// framing here carries only the payload; callers that need latency
// measurement should wrap this with their own timestamp sink instead of
// piping through a shell.
type Consumer struct {
	w io.Writer
}

// NewConsumer wraps w.
func NewConsumer(w io.Writer) *Consumer {
	return &Consumer{w: w}
}

func (c *Consumer) ConsumeAU(payload []byte, captureTSNano uint64) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("stdio consumer: write length: %w", err)
	}
	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("stdio consumer: write payload: %w", err)
	}
	return nil
}
