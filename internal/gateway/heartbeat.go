package gateway

import (
	"math/rand/v2"
	"time"
)

// HeartbeatStatus is a snapshot of the heartbeat controller.
type HeartbeatStatus struct {
	Acknowledged bool          // False while a beat awaits its ack
	LastSentAt   time.Time     // When the last beat was written
	Ping         time.Duration // Ack time minus send time for the last acked beat
}

// heartbeat is one heartbeating cycle. Every hello replaces the previous
// cycle wholesale: closing stop ends the old goroutine, and the pointer
// identity check in beat keeps a replaced cycle from ever touching the
// shard again. Mutable fields are guarded by Shard.mu.
type heartbeat struct {
	interval time.Duration
	stop     chan struct{}

	acked    bool
	lastSent time.Time
	ping     time.Duration
}

// jitterDelay returns the delay before a cycle's first beat: the interval
// scaled by draw. A draw of exactly 0 is clamped to 0.5 so the first beat
// never fires immediately; the result is always in (0, interval].
func jitterDelay(interval time.Duration, draw float64) time.Duration {
	if draw <= 0 {
		draw = 0.5
	}
	if draw > 1 {
		draw = 1
	}
	return time.Duration(float64(interval) * draw)
}

// startHeartbeatLocked replaces any running cycle with a new one at the
// given interval. Caller must hold s.mu.
func (s *Shard) startHeartbeatLocked(interval time.Duration) {
	s.stopHeartbeatLocked()
	hb := &heartbeat{
		interval: interval,
		stop:     make(chan struct{}),
		acked:    true,
	}
	s.hb = hb
	go s.heartbeatLoop(hb)
}

// stopHeartbeatLocked ends the current cycle, if any. Caller must hold s.mu.
func (s *Shard) stopHeartbeatLocked() {
	if s.hb != nil {
		close(s.hb.stop)
		s.hb = nil
	}
}

// heartbeatLoop drives one cycle: a jittered one-shot delay before the
// first beat, then a steady ticker at the exact interval. The loop ends
// when the cycle is replaced, the shard shuts down, or a zombie connection
// is detected.
func (s *Shard) heartbeatLoop(hb *heartbeat) {
	timer := time.NewTimer(jitterDelay(hb.interval, rand.Float64()))
	defer timer.Stop()

	select {
	case <-hb.stop:
		return
	case <-timer.C:
	}
	if !s.beat(hb) {
		return
	}

	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.stop:
			return
		case <-ticker.C:
			if !s.beat(hb) {
				return
			}
		}
	}
}

// beat evaluates the previous ack state and either sends the next
// heartbeat or declares the connection a zombie. Returns false when the
// cycle must end.
func (s *Shard) beat(hb *heartbeat) bool {
	s.mu.Lock()
	if s.hb != hb || s.conn == nil {
		s.mu.Unlock()
		return false
	}

	if !hb.acked {
		// Zombie: the server never acked the previous beat. Kill the
		// transport and let the close policy decide what happens next.
		conn := s.conn
		s.stats.ZombieCloses++
		s.mu.Unlock()

		s.logger.Warn("heartbeat not acknowledged, closing zombie connection",
			"interval", hb.interval,
		)
		conn.Close(CloseZombieConnection)
		return false
	}

	s.sendHeartbeatLocked(hb)
	s.mu.Unlock()
	return true
}

// requestBeatLocked answers a server-sent heartbeat request with an
// immediate out-of-cycle send. The cycle's timers are left untouched.
// Caller must hold s.mu.
func (s *Shard) requestBeatLocked() {
	if s.hb == nil || s.conn == nil {
		return
	}
	s.sendHeartbeatLocked(s.hb)
}

// sendHeartbeatLocked writes an op 1 frame carrying the last dispatch
// sequence and opens a new ack expectation. Caller must hold s.mu.
func (s *Shard) sendHeartbeatLocked(hb *heartbeat) {
	hb.acked = false
	hb.lastSent = time.Now()

	if err := s.sendLocked(&Envelope{Op: OpHeartbeat, D: heartbeatD(s.session.seq)}); err != nil {
		// A dying socket surfaces through the read loop as a close
		// event; nothing to do here.
		s.logger.Debug("heartbeat send failed", "error", err)
	}
}

// ackLocked marks the outstanding beat acknowledged and measures the ping.
// Caller must hold s.mu.
func (s *Shard) ackLocked() {
	if s.hb == nil {
		return
	}
	s.hb.acked = true
	s.hb.ping = time.Since(s.hb.lastSent)
}
