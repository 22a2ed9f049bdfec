package cgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// commandChannel serialises request/response exchanges on the command
// transport. C-Gate's command port has no multiplexing, so exactly one
// exchange may be in flight at a time.
//
// Reconnection policy: on a connection-level failure the channel reopens
// the transport inline and retries the send, up to the configured retry
// count. A ProtocolError (status >= 400) is a rejected command, not a
// transient fault, and is never retried.
type commandChannel struct {
	host           string
	port           int
	connectTimeout time.Duration
	retries        int

	// onLine receives every response line that does not begin with a
	// status code. This is how unsolicited updates embedded in a command
	// response (most importantly the state dump following a noop probe)
	// flow through the same classifier as the streaming channels.
	onLine func(line string)

	log Logger

	// mu enforces single-in-flight sends.
	mu sync.Mutex

	// chMu guards the transport pointer and the closed flag separately
	// from mu, so closeTransport can run while a send is blocked reading.
	// Once closed is set no reconnect may install a new transport.
	chMu   sync.Mutex
	ch     *channel
	closed bool
}

// transport returns the current transport, or an error when the channel
// is closed or disconnected.
func (c *commandChannel) transport() (*channel, error) {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.ch == nil {
		return nil, ErrNotConnected
	}
	return c.ch, nil
}

// send writes one command and reads lines until the terminal status line.
//
// On connection-level failure it reconnects and retries up to c.retries
// additional attempts; a failed reconnect propagates immediately.
func (c *commandChannel) send(ctx context.Context, cmd string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		lines, err := c.sendOnce(ctx, cmd)
		if err == nil {
			return lines, nil
		}

		var perr *ProtocolError
		if errors.As(err, &perr) {
			return nil, err
		}

		// A read error during shutdown is the closing socket, not a
		// fault worth repairing.
		if errors.Is(err, ErrClosed) || c.isClosed() {
			return nil, ErrClosed
		}

		if attempt >= c.retries {
			if c.log != nil {
				c.log.Error("command failed after retries", "command", cmd, "error", err)
			}
			return nil, err
		}

		if c.log != nil {
			c.log.Warn("command failed, reconnecting", "command", cmd, "error", err)
		}
		if rerr := c.reconnectLocked(ctx); rerr != nil {
			return nil, rerr
		}
	}
}

// sendOnce performs a single exchange: write the command, then read lines
// until the first one beginning with a 3-digit status code.
//
// Non-status lines read while waiting are handed to onLine before reading
// continues. A terminal code of 400 or above yields a ProtocolError; lower
// codes succeed and all lines read (including the terminal one) are
// returned in receipt order.
func (c *commandChannel) sendOnce(ctx context.Context, cmd string) ([]string, error) {
	ch, err := c.transport()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if c.log != nil {
		c.log.Debug("command sent", "command", cmd)
	}
	if err := ch.writeLine(cmd); err != nil {
		return nil, err
	}

	var lines []string
	for {
		line, err := ch.readLine()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		lines = append(lines, line)

		code, ok := statusCode(line)
		if !ok {
			if c.onLine != nil {
				c.onLine(line)
			}
			continue
		}

		if code >= 400 {
			return nil, &ProtocolError{Code: code, Line: line}
		}
		return lines, nil
	}
}

// reconnectLocked discards the dead transport and opens a fresh command
// channel. Caller must hold c.mu. Refuses once the channel is closed, and
// re-checks after dialing so a socket opened in a race with closeTransport
// is released rather than leaked.
func (c *commandChannel) reconnectLocked(ctx context.Context) error {
	c.chMu.Lock()
	if c.closed {
		c.chMu.Unlock()
		return ErrClosed
	}
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	c.chMu.Unlock()

	if c.log != nil {
		c.log.Info("reconnecting command channel", "port", c.port)
	}

	ch, err := dialChannel(ctx, c.host, c.port, ChannelCommand, c.connectTimeout, c.log)
	if err != nil {
		return err
	}

	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.closed {
		_ = ch.Close()
		return ErrClosed
	}
	c.ch = ch
	return nil
}

// isClosed reports whether closeTransport has run.
func (c *commandChannel) isClosed() bool {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.closed
}

// closeTransport permanently shuts the channel down and closes the
// underlying socket without taking the send lock, unblocking any in-flight
// read. Used during session shutdown where in-flight exchanges are
// abandoned rather than drained; no reconnect can happen afterwards.
func (c *commandChannel) closeTransport() {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	c.closed = true
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
}

// statusCode reports whether a line begins with a 3-digit status code
// followed by whitespace, and returns the code.
//
// Continuation lines ("300-...") deliberately do not match: C-Gate uses
// the dash form for intermediate lines of a multi-line response, and only
// the whitespace form terminates the exchange.
func statusCode(line string) (int, bool) {
	if len(line) < 4 {
		return 0, false
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return 0, false
		}
	}
	if line[3] != ' ' && line[3] != '\t' {
		return 0, false
	}
	code := int(line[0]-'0')*100 + int(line[1]-'0')*10 + int(line[2]-'0')
	return code, true
}
