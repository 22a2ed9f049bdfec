package cgate

// startIngestor launches one reader goroutine for a streaming channel. Each
// channel handle gets exactly one reader for its lifetime.
func (s *Session) startIngestor(ch *channel) {
	s.wg.Add(1)
	go s.ingestLoop(ch)
}

// ingestLoop reads lines from one streaming channel until the channel dies
// or the session closes. Blank lines are skipped; everything else goes
// through the classifier via handleLine.
//
// On read error the loop marks the channel absent and exits. It never
// reconnects itself: reattachment is the keepalive supervisor's job, which
// keeps channel repair in one place instead of racing reader goroutines
// against the supervisor.
func (s *Session) ingestLoop(ch *channel) {
	defer s.wg.Done()

	s.logDebug("ingestor started", "channel", ch.kind.String())

	for {
		line, err := ch.readLine()
		if err != nil {
			if !s.isClosed() {
				s.logWarn("streaming channel lost", "channel", ch.kind.String(), "error", err)
			}
			_ = ch.Close()
			s.clearChannel(ch)
			return
		}
		if line == "" {
			continue
		}
		s.handleLine(line)
	}
}

// clearChannel marks a dead streaming channel absent, but only if the
// session still holds this exact handle. The supervisor may already have
// replaced it with a fresh connection.
func (s *Session) clearChannel(ch *channel) {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()

	switch ch.kind {
	case ChannelEvent:
		if s.eventCh == ch {
			s.eventCh = nil
		}
	case ChannelLoadChange:
		if s.loadCh == ch {
			s.loadCh = nil
		}
	}
}
