package transport

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/hut8/soar/domain"
)

const (
	beastEscape = 0x1A

	beastTypeModeAC    = 0x31
	beastTypeModeSShort = 0x32
	beastTypeModeSLong  = 0x33
)

// BeastConfig configures one Beast TCP feeder connection.
type BeastConfig struct {
	Address       string
	ReceiverID    *uuid.UUID
	DropThreshold time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultBeastConfig returns the spec's recommended defaults.
func DefaultBeastConfig(address string) BeastConfig {
	return BeastConfig{
		Address:        address,
		DropThreshold:  500 * time.Millisecond,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// BeastClient reads Beast-framed binary records from one feeder.
type BeastClient struct {
	cfg BeastConfig
	Out chan<- domain.RawMessage

	FramesDropped int64
}

// NewBeastClient returns a client that pushes de-stuffed Mode-S payloads
// onto out, one domain.RawMessage per frame.
func NewBeastClient(cfg BeastConfig, out chan<- domain.RawMessage) *BeastClient {
	return &BeastClient{cfg: cfg, Out: out}
}

// Run connects and reconnects until ctx is cancelled.
func (c *BeastClient) Run(ctx context.Context) error {
	backoff := c.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.runOnce(ctx); err != nil {
			log.Printf("beast_disconnected addr=%s err=%q backoff=%s", c.cfg.Address, err, backoff)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func (c *BeastClient) runOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	r := bufio.NewReaderSize(conn, 8192)
	for {
		frameType, payload, receivedAt, err := readBeastFrame(r)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if frameType == beastTypeModeAC {
			continue // Mode-AC (no position) isn't aircraft-position bearing
		}
		rm := domain.RawMessage{
			ID:         uuid.New(),
			Source:     domain.SourceBeast,
			ReceivedAt: receivedAt,
			Payload:    payload,
			ReceiverID: c.cfg.ReceiverID,
		}
		c.push(ctx, rm)
	}
}

// readBeastFrame reads one 0x1A-delimited Beast frame and returns its
// type byte and de-stuffed payload (Mode-S message bytes only, the
// timestamp/signal prefix is dropped since the pipeline timestamps by
// receipt, not by the feeder's 12.5MHz counter).
func readBeastFrame(r *bufio.Reader) (frameType byte, payload []byte, receivedAt time.Time, err error) {
	// sync to the next 0x1A marker
	for {
		b, rerr := r.ReadByte()
		if rerr != nil {
			return 0, nil, time.Time{}, rerr
		}
		if b == beastEscape {
			break
		}
	}
	ft, rerr := readDestuffedByte(r)
	if rerr != nil {
		return 0, nil, time.Time{}, rerr
	}

	var payloadLen int
	switch ft {
	case beastTypeModeAC:
		payloadLen = 2
	case beastTypeModeSShort:
		payloadLen = 7
	case beastTypeModeSLong:
		payloadLen = 14
	default:
		return 0, nil, time.Time{}, fmt.Errorf("beast: unknown frame type 0x%02x", ft)
	}

	receivedAt = time.Now().UTC()

	// 6-byte timestamp + 1-byte signal strength, both de-stuffed but discarded
	for i := 0; i < 7; i++ {
		if _, rerr := readDestuffedByte(r); rerr != nil {
			return 0, nil, time.Time{}, rerr
		}
	}

	buf := make([]byte, payloadLen)
	for i := range buf {
		v, rerr := readDestuffedByte(r)
		if rerr != nil {
			return 0, nil, time.Time{}, rerr
		}
		buf[i] = v
	}
	return ft, buf, receivedAt, nil
}

// readDestuffedByte reads the next byte, resolving the 0x1A 0x1A
// byte-stuffing escape (a literal 0x1A inside the frame is doubled).
func readDestuffedByte(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b != beastEscape {
		return b, nil
	}
	next, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if next != beastEscape {
		return 0, fmt.Errorf("beast: unescaped 0x1a in payload (followed by 0x%02x)", next)
	}
	return beastEscape, nil
}

func (c *BeastClient) push(ctx context.Context, rm domain.RawMessage) {
	select {
	case c.Out <- rm:
	case <-time.After(c.cfg.DropThreshold):
		c.FramesDropped++
	case <-ctx.Done():
	}
}
