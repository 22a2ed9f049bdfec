package cgate

import (
	"context"
	"time"
)

// keepaliveLoop probes the gateway on a fixed interval and repairs any dead
// streaming channel. It is the only reconnect path for the event and
// load-change channels.
//
// The probe is a bare "noop". C-Gate answers it with a full state dump, so
// a successful probe doubles as a poll: every group's current level arrives
// as response lines and flows through the classifier, re-synchronising any
// subscriber that missed events while a channel was down.
//
// A failed probe skips repair for that tick. If the gateway cannot answer
// a noop, freshly dialled streaming channels would only churn.
func (s *Session) keepaliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done.Done():
			return
		case <-ticker.C:
		}

		if _, err := s.Send(context.Background(), "noop"); err != nil {
			if s.isClosed() {
				return
			}
			s.logWarn("keepalive probe failed", "error", err)
			continue
		}

		s.chanMu.Lock()
		eventDown := s.eventCh == nil
		loadDown := s.loadCh == nil
		s.chanMu.Unlock()

		if eventDown {
			s.repairChannel(ChannelEvent, s.cfg.EventPort)
		}
		if loadDown {
			s.repairChannel(ChannelLoadChange, s.cfg.LoadChangePort)
		}
	}
}

// repairChannel dials a replacement streaming channel and, on success,
// installs it and starts its reader. Failure leaves the channel absent
// until the next tick.
func (s *Session) repairChannel(kind ChannelKind, port int) {
	ch := dialOptional(context.Background(), s.cfg.Host, port, kind, s.cfg.ConnectTimeout, s.cfg.Logger)
	if ch == nil {
		return
	}

	s.chanMu.Lock()
	if s.isClosed() {
		// Close has already swept the channel handles; installing a fresh
		// one now would leak a reader past shutdown.
		s.chanMu.Unlock()
		_ = ch.Close()
		return
	}
	switch kind {
	case ChannelEvent:
		s.eventCh = ch
	case ChannelLoadChange:
		s.loadCh = ch
	}
	s.chanMu.Unlock()

	s.streamReconnects.Add(1)
	s.logInfo("streaming channel reattached", "channel", kind.String())
	s.startIngestor(ch)
}
