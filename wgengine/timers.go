package wgengine

// Tick drives the tunnel's timers, it should be called regularly, at least every 100 milliseconds.
//
// It returns a handshake initiation or keepalive when one is due,
// and Recoverable with ErrConnectionExpired once the tunnel has given up on the current session or handshake.
func (t *Tunn) Tick(dst []byte) Outcome {
	now := t.now()

	if p := t.handshake; p != nil {
		if now.Sub(p.started) >= RekeyAttemptTime {
			t.clearAll()
			return Recoverable(ErrConnectionExpired)
		}

		if now.Sub(p.lastSent) >= RekeyTimeout {
			return t.formatInitiation(dst, now)
		}
	}

	s := t.rawCurrent()

	if s != nil && now.Sub(s.established) >= SessionExpiryTime {
		t.clearAll()
		return Recoverable(ErrConnectionExpired)
	}

	if t.handshake == nil {
		if s != nil && s.initiator && now.Sub(s.established) >= RekeyAfterTime {
			return t.formatInitiation(dst, now)
		}

		// Data went out, but nothing came back.
		if !t.timers.lastDataSent.IsZero() &&
			t.timers.lastDataSent.After(t.timers.lastPacketReceived) &&
			now.Sub(t.timers.lastDataSent) >= KeepaliveTimeout+RekeyTimeout {
			return t.formatInitiation(dst, now)
		}

		if s != nil && now.Sub(s.established) >= RejectAfterTime && len(t.queue) > 0 {
			return t.formatInitiation(dst, now)
		}
	}

	cur := t.currentSession(now)
	if cur == nil {
		return Idle()
	}

	// Passive keepalive, acknowledges received data the application didn't answer.
	if !t.timers.lastDataReceived.IsZero() &&
		t.timers.lastDataReceived.After(t.timers.lastPacketSent) &&
		now.Sub(t.timers.lastDataReceived) >= KeepaliveTimeout {
		return t.sealWith(cur, nil, dst, now)
	}

	if t.keepalive > 0 && now.Sub(t.timers.lastPacketSent) >= t.keepalive {
		return t.sealWith(cur, nil, dst, now)
	}

	return Idle()
}
