package gateway

// SessionInfo is a snapshot of a shard's resumable session state, suitable
// for persistence across process restarts.
type SessionInfo struct {
	ID        string
	ResumeURL string
	Sequence  int64 // 0 when no dispatch has been seen
}

// session holds the mutable resume state. Guarded by Shard.mu.
type session struct {
	id        string
	resumeURL string
	seq       int64
}

// canResume reports whether both pieces a resume handshake needs are
// present: the session id and a non-zero sequence.
func (s *session) canResume() bool {
	return s.id != "" && s.seq > 0
}

// reset clears everything. A fresh identify invalidates the prior session,
// so the stored state goes with it.
func (s *session) reset() {
	s.id = ""
	s.resumeURL = ""
	s.seq = 0
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:        s.id,
		ResumeURL: s.resumeURL,
		Sequence:  s.seq,
	}
}
