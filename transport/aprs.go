// Package transport maintains durable connections to the OGN APRS-IS
// server and Beast feeders, handling reconnect/backoff and keep-alives,
// and pushes domain.RawMessage records onto a bounded decoder queue.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hut8/soar/domain"
)

// APRSConfig configures the APRS-IS client.
type APRSConfig struct {
	Address  string // host:port, e.g. "aprs.glidernet.org:14580"
	Callsign string
	Passcode string
	Filter   string // e.g. "r/47.0/8.0/300"

	// DropThreshold is how long a push to Out may block before the frame
	// is dropped and FramesDropped incremented.
	DropThreshold time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	KeepAliveIdle  time.Duration // send '#' comment if idle this long
	ForceReconnect time.Duration // reconnect if idle this long
}

// DefaultAPRSConfig returns the spec's recommended defaults.
func DefaultAPRSConfig() APRSConfig {
	return APRSConfig{
		Address:        "aprs.glidernet.org:14580",
		Filter:         "r/0/0/10000",
		DropThreshold:  500 * time.Millisecond,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		KeepAliveIdle:  30 * time.Second,
		ForceReconnect: 90 * time.Second,
	}
}

// APRSClient is a long-lived APRS-IS text client.
type APRSClient struct {
	cfg  APRSConfig
	Out  chan<- domain.RawMessage

	FramesDropped int64
}

// NewAPRSClient returns a client that pushes raw frames onto out.
func NewAPRSClient(cfg APRSConfig, out chan<- domain.RawMessage) *APRSClient {
	return &APRSClient{cfg: cfg, Out: out}
}

// Run connects and reconnects until ctx is cancelled. Auth failures (the
// server rejects the login line) are fatal and returned to the caller;
// every other connection error is retried with exponential backoff.
func (c *APRSClient) Run(ctx context.Context) error {
	backoff := c.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		authFailed, err := c.runOnce(ctx)
		if authFailed {
			return fmt.Errorf("transport: aprs-is login rejected: %w", err)
		}
		if err != nil {
			log.Printf("aprs_disconnected err=%q backoff=%s", err, backoff)
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

func (c *APRSClient) runOnce(ctx context.Context) (authFailed bool, err error) {
	dialer := net.Dialer{Timeout: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	login := fmt.Sprintf("user %s pass %s vers soar 1.0 filter %s\r\n", c.cfg.Callsign, c.cfg.Passcode, c.cfg.Filter)
	if _, err := conn.Write([]byte(login)); err != nil {
		return false, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	reader := bufio.NewReaderSize(conn, 4096)
	idleTimer := time.NewTimer(c.cfg.KeepAliveIdle)
	defer idleTimer.Stop()
	lastFrame := time.Now()
	backoffReset := false

	lineCh := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		for {
			line, rerr := reader.ReadString('\n')
			if line != "" {
				lineCh <- line
			}
			if rerr != nil {
				errCh <- rerr
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case line := <-lineCh:
			if len(line) > 0 && line[0] == '#' && !backoffReset {
				// first comment after connect is the server banner; a
				// literal "invalid" in it indicates a rejected login.
				if strings.Contains(strings.ToLower(line), "invalid") {
					return true, fmt.Errorf("server banner: %s", strings.TrimSpace(line))
				}
				backoffReset = true
			}
			lastFrame = time.Now()
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(c.cfg.KeepAliveIdle)

			rm := domain.RawMessage{
				ID:         uuid.New(),
				Source:     domain.SourceAPRS,
				ReceivedAt: lastFrame,
				Payload:    []byte(line),
			}
			c.push(ctx, rm)
		case err := <-errCh:
			return false, err
		case <-idleTimer.C:
			if time.Since(lastFrame) >= c.cfg.ForceReconnect {
				return false, fmt.Errorf("idle timeout after %s", c.cfg.ForceReconnect)
			}
			_, _ = conn.Write([]byte("#keepalive\r\n"))
			idleTimer.Reset(c.cfg.KeepAliveIdle)
		}
	}
}

func (c *APRSClient) push(ctx context.Context, rm domain.RawMessage) {
	select {
	case c.Out <- rm:
	case <-time.After(c.cfg.DropThreshold):
		c.FramesDropped++
	case <-ctx.Done():
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
