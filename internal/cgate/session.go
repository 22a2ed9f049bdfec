package cgate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default session configuration.
const (
	// DefaultCommandPort is the C-Gate command/response port.
	DefaultCommandPort = 20023

	// DefaultEventPort is the C-Gate asynchronous event port.
	DefaultEventPort = 20024

	// DefaultLoadChangePort is the C-Gate load-change port, the main
	// source of lighting on/off/ramp notifications.
	DefaultLoadChangePort = 20025

	// defaultKeepaliveInterval is how often the supervisor probes the
	// gateway and repairs dead streaming channels.
	defaultKeepaliveInterval = 5 * time.Second

	// defaultCommandRetries is how many additional attempts a command
	// send makes after a connection-level failure.
	defaultCommandRetries = 1
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Config holds C-Gate session configuration.
type Config struct {
	// Host is the C-Gate server address.
	Host string

	// CommandPort, EventPort and LoadChangePort are the three channel
	// ports. Zero values take the protocol defaults (20023/20024/20025).
	CommandPort    int
	EventPort      int
	LoadChangePort int

	// KeepaliveInterval is the supervisor period. The noop probe doubles
	// as a full state poll. Default: 5 seconds.
	KeepaliveInterval time.Duration

	// CommandRetries is the number of additional attempts after a
	// connection-level command failure. Zero takes the default of 1;
	// a negative value disables retries.
	CommandRetries int

	// ConnectTimeout bounds each channel connect. Default: 3 seconds.
	ConnectTimeout time.Duration

	// Logger is optional structured logging.
	Logger Logger
}

// withDefaults returns a copy of cfg with zero values filled in.
func (c Config) withDefaults() Config {
	if c.CommandPort == 0 {
		c.CommandPort = DefaultCommandPort
	}
	if c.EventPort == 0 {
		c.EventPort = DefaultEventPort
	}
	if c.LoadChangePort == 0 {
		c.LoadChangePort = DefaultLoadChangePort
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = defaultKeepaliveInterval
	}
	// Zero means unset here, like the ports and intervals above. Callers
	// that genuinely want no retries pass a negative value.
	if c.CommandRetries == 0 {
		c.CommandRetries = defaultCommandRetries
	} else if c.CommandRetries < 0 {
		c.CommandRetries = 0
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	return c
}

// State is the session lifecycle state.
type State int32

// Session states. Closed is terminal: a closed session never reconnects
// and all subsequent sends fail fast.
const (
	StateCreated State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats holds operational counters for the session.
type Stats struct {
	LinesRx          uint64
	UpdatesRx        uint64
	CommandsTx       uint64
	StreamReconnects uint64
	Connected        bool
	EventUp          bool
	LoadChangeUp     bool
}

// Session is a live connection to C-Gate across the three channels.
//
// The command channel is mandatory and reconnects inline inside Send. The
// event and load-change channels are optional: they may be absent from the
// start or die at any time, and only the keepalive supervisor revives them.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Session struct {
	cfg    Config
	router *Router
	cmd    *commandChannel

	// chanMu guards the two optional streaming channel handles. A nil
	// handle means the channel is absent (disabled or dead).
	chanMu  sync.Mutex
	eventCh *channel
	loadCh  *channel

	state atomic.Int32

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Statistics
	linesRx          atomic.Uint64
	updatesRx        atomic.Uint64
	commandsTx       atomic.Uint64
	streamReconnects atomic.Uint64
}

// Connect opens the three C-Gate channels and starts the reader and
// keepalive goroutines.
//
// Failure to open the command channel is fatal and propagates to the
// caller. Failure to open either streaming channel is logged and degrades
// that channel to absent; the keepalive supervisor will keep trying to
// reattach it for the session's lifetime.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	s := &Session{
		cfg:  cfg,
		done: newCloseOnce(),
	}
	s.router = NewRouter(cfg.Logger)
	s.state.Store(int32(StateConnecting))

	s.logInfo("connecting to C-Gate", "host", cfg.Host)

	cmdCh, err := dialChannel(ctx, cfg.Host, cfg.CommandPort, ChannelCommand, cfg.ConnectTimeout, cfg.Logger)
	if err != nil {
		s.state.Store(int32(StateClosed))
		return nil, fmt.Errorf("command channel: %w", err)
	}
	s.cmd = &commandChannel{
		host:           cfg.Host,
		port:           cfg.CommandPort,
		connectTimeout: cfg.ConnectTimeout,
		retries:        cfg.CommandRetries,
		onLine:         s.handleLine,
		log:            cfg.Logger,
		ch:             cmdCh,
	}

	s.eventCh = dialOptional(ctx, cfg.Host, cfg.EventPort, ChannelEvent, cfg.ConnectTimeout, cfg.Logger)
	s.loadCh = dialOptional(ctx, cfg.Host, cfg.LoadChangePort, ChannelLoadChange, cfg.ConnectTimeout, cfg.Logger)

	s.state.Store(int32(StateConnected))

	if s.eventCh != nil {
		s.startIngestor(s.eventCh)
	}
	if s.loadCh != nil {
		s.startIngestor(s.loadCh)
	}

	s.wg.Add(1)
	go s.keepaliveLoop()

	s.logInfo("C-Gate session connected",
		"event_up", s.eventCh != nil,
		"load_change_up", s.loadCh != nil,
	)
	return s, nil
}

// handleLine classifies one raw protocol line and routes any resulting
// update. Every line from every channel flows through here, including
// non-status lines read while a command response is pending.
func (s *Session) handleLine(line string) {
	s.linesRx.Add(1)
	u, ok := Classify(line)
	if !ok {
		return
	}
	s.updatesRx.Add(1)
	s.router.Emit(u)
}

// Send issues one raw command and returns all response lines up to and
// including the terminal status line.
//
// Exactly one send is in flight at a time. A closed session fails fast
// with ErrClosed without attempting I/O.
func (s *Session) Send(ctx context.Context, cmd string) ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	s.commandsTx.Add(1)
	return s.cmd.send(ctx, cmd)
}

// SetGroupLevel commands a group to a level. Levels at or below 0 issue
// "off", at or above 255 issue "on", anything in between issues a ramp.
// This protocol version supports no ramp-time or force parameters.
func (s *Session) SetGroupLevel(ctx context.Context, addr GroupAddress, level int) error {
	path := addr.String()

	var cmd string
	switch {
	case level <= MinLevel:
		cmd = "off " + path
	case level >= MaxLevel:
		cmd = "on " + path
	default:
		cmd = fmt.Sprintf("ramp %s %d", path, level)
	}

	_, err := s.Send(ctx, cmd)
	return err
}

// GetGroupLevel queries a group's current level. The boolean result is
// false when the response carried no level token.
func (s *Session) GetGroupLevel(ctx context.Context, addr GroupAddress) (int, bool, error) {
	lines, err := s.Send(ctx, fmt.Sprintf("get %s level", addr))
	if err != nil {
		return 0, false, err
	}

	for _, line := range lines {
		if m := levelTokenRE.FindStringSubmatch(line); m != nil {
			return ClampLevel(atoiOr(m[1], 0)), true, nil
		}
	}
	return 0, false, nil
}

// SetGroupUpdateCallback registers the primary sink, notified before all
// other subscribers. The state coordinator registers itself here.
func (s *Session) SetGroupUpdateCallback(fn func(GroupUpdate)) {
	s.router.SetPrimary(fn)
}

// RegisterGroupCallback appends a per-group callback. Duplicates are
// permitted.
func (s *Session) RegisterGroupCallback(addr GroupAddress, cb GroupCallback) {
	s.router.RegisterGroup(addr, cb)
}

// RegisterGlobalCallback appends a callback receiving every update.
func (s *Session) RegisterGlobalCallback(cb GlobalCallback) {
	s.router.RegisterGlobal(cb)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stats returns current operational statistics.
func (s *Session) Stats() Stats {
	s.chanMu.Lock()
	eventUp := s.eventCh != nil
	loadUp := s.loadCh != nil
	s.chanMu.Unlock()

	return Stats{
		LinesRx:          s.linesRx.Load(),
		UpdatesRx:        s.updatesRx.Load(),
		CommandsTx:       s.commandsTx.Load(),
		StreamReconnects: s.streamReconnects.Load(),
		Connected:        s.State() == StateConnected,
		EventUp:          eventUp,
		LoadChangeUp:     loadUp,
	}
}

// Close shuts the session down: it cancels the keepalive supervisor and
// both ingestors, closes every open channel, and makes any subsequent Send
// fail fast. In-flight reads are abandoned, not drained. Safe to call
// multiple times.
func (s *Session) Close() error {
	s.state.Store(int32(StateClosed))
	s.done.Close()

	s.cmd.closeTransport()

	s.chanMu.Lock()
	if s.eventCh != nil {
		_ = s.eventCh.Close()
		s.eventCh = nil
	}
	if s.loadCh != nil {
		_ = s.loadCh.Close()
		s.loadCh = nil
	}
	s.chanMu.Unlock()

	s.wg.Wait()

	s.logInfo("C-Gate session closed")
	return nil
}

// isClosed reports whether Close has been called.
func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// logDebug logs a debug message if a logger is configured.
func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is configured.
func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Warn(msg, keysAndValues...)
	}
}
