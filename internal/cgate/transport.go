package cgate

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Connection setup timeouts. Steady-state reads have no timeout: they block
// until a line arrives or the channel closes.
const (
	// defaultConnectTimeout is the maximum time to wait for a channel
	// to connect.
	defaultConnectTimeout = 3 * time.Second

	// greetingTimeout is how long to wait for the optional greeting line
	// after connecting. C-Gate does not always send one; absence is
	// normal, not an error.
	greetingTimeout = 1 * time.Second
)

// ChannelKind identifies one of the three C-Gate TCP channels.
type ChannelKind int

// The three channel kinds. The command channel is mandatory; the event and
// load-change channels are optional and may be absent at any time.
const (
	ChannelCommand ChannelKind = iota
	ChannelEvent
	ChannelLoadChange
)

// String returns the channel name used in logs and errors.
func (k ChannelKind) String() string {
	switch k {
	case ChannelCommand:
		return "command"
	case ChannelEvent:
		return "event"
	case ChannelLoadChange:
		return "load-change"
	default:
		return "unknown"
	}
}

// channel is one open C-Gate TCP channel: a socket plus a buffered
// line reader.
type channel struct {
	kind ChannelKind
	conn net.Conn
	r    *bufio.Reader

	closeOnce sync.Once
}

// dialChannel opens one channel with a bounded connect timeout, then
// attempts to read the optional greeting line.
//
// Callers treat failure differently per channel kind: fatal for the command
// channel, degrade-to-absent for the streaming channels. That policy lives
// in the callers; dialChannel just reports the error.
func dialChannel(ctx context.Context, host string, port int, kind ChannelKind, timeout time.Duration, log Logger) (*channel, error) {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s port %d: %w", ErrConnectionFailed, kind, port, err)
	}

	ch := &channel{
		kind: kind,
		conn: conn,
		r:    bufio.NewReader(conn),
	}
	ch.readGreeting(log)

	return ch, nil
}

// dialOptional opens a streaming channel, returning nil (absent) on any
// failure. The failure is logged but never propagated: a missing event or
// load-change channel degrades the session, it does not break it.
func dialOptional(ctx context.Context, host string, port int, kind ChannelKind, timeout time.Duration, log Logger) *channel {
	ch, err := dialChannel(ctx, host, port, kind, timeout, log)
	if err != nil {
		if log != nil {
			log.Warn("optional channel unavailable", "channel", kind.String(), "port", port, "error", err)
		}
		return nil
	}
	return ch
}

// readGreeting reads the optional greeting line with a short deadline.
// C-Gate's event and load-change ports frequently send nothing, so a
// timeout here is the normal case, not a failure.
func (ch *channel) readGreeting(log Logger) {
	_ = ch.conn.SetReadDeadline(time.Now().Add(greetingTimeout))
	line, err := ch.r.ReadString('\n')
	_ = ch.conn.SetReadDeadline(time.Time{})

	if log == nil {
		return
	}
	if err == nil {
		log.Debug("channel greeting", "channel", ch.kind.String(), "greeting", strings.TrimRight(line, "\r\n"))
	} else {
		log.Debug("channel connected (no greeting)", "channel", ch.kind.String())
	}
}

// readLine blocks until one CRLF-terminated line arrives or the channel
// closes. The returned line has its trailing CR/LF stripped.
func (ch *channel) readLine() (string, error) {
	line, err := ch.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeLine sends one command line, CRLF-terminated.
func (ch *channel) writeLine(line string) error {
	if _, err := ch.conn.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("write %s channel: %w", ch.kind, err)
	}
	return nil
}

// Close closes the underlying socket. Safe to call multiple times; any
// blocked read is unblocked with an error.
func (ch *channel) Close() error {
	ch.closeOnce.Do(func() {
		_ = ch.conn.Close()
	})
	return nil
}
