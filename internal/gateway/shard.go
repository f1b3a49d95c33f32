package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/eahart/discord-gateway/internal/transport"
)

// Errors for caller misuse. Transport and protocol failures never surface
// through these; they funnel into the close-code policy instead.
var (
	ErrAlreadyConnected = errors.New("shard already connected")
	ErrNotConnected     = errors.New("shard not connected")
	ErrShardClosed      = errors.New("shard closed")
)

// Config holds the immutable identity of a shard.
type Config struct {
	Token      string             // Bot credential for identify and resume
	ShardID    int                // Zero-based index within ShardCount
	ShardCount int                // Total shards (0 = 1)
	Intents    int64              // Event-subscription bitmask
	Properties IdentifyProperties // Client description (zero value = defaults)
	GatewayURL string             // Base connect URL, no query string
	BufferSize int                // Consumer channel capacity (0 = default)

	// Dialer opens transports. Nil uses the real WebSocket dialer; tests
	// substitute a scripted one.
	Dialer transport.DialFunc
}

// DefaultBufferSize is the consumer channel capacity when Config leaves it 0.
const DefaultBufferSize = 1024

// DefaultProperties returns the identify properties used when Config
// carries none.
func DefaultProperties() IdentifyProperties {
	return IdentifyProperties{
		OS:      runtime.GOOS,
		Browser: "discord-gateway",
		Device:  "discord-gateway",
	}
}

// Stats is a snapshot of a shard's activity counters.
type Stats struct {
	EventsReceived int64 // Decoded inbound envelopes
	EventsDropped  int64 // Envelopes dropped on a full consumer channel
	DecodeErrors   int64 // Inbound frames that were not valid JSON
	Reconnects     int64 // Retryable closes that triggered a reconnect
	ZombieCloses   int64 // Connections killed for missing a heartbeat ack
	FatalCloses    int64 // Terminal closes
}

// Shard is one logical gateway connection: transport lifecycle, heartbeat
// cycle, identify/resume decisioning, close-code policy, and sequence
// tracking behind a single mutex.
type Shard struct {
	cfg    Config
	logger *slog.Logger
	dial   transport.DialFunc

	// Output channel; owned by the shard, survives reconnects
	events chan *Envelope

	// State
	mu      sync.Mutex
	state   ConnectionState
	conn    transport.Conn
	hb      *heartbeat
	session session
	stats   Stats
	dialing bool
	closed  bool
	ctx     context.Context // Retained from Connect for self-reconnect dials
}

// New creates a shard. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Shard {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Properties == (IdentifyProperties{}) {
		cfg.Properties = DefaultProperties()
	}
	dial := cfg.Dialer
	if dial == nil {
		dial = transport.Dial
	}

	return &Shard{
		cfg:    cfg,
		logger: logger.With("shard", cfg.ShardID),
		dial:   dial,
		events: make(chan *Envelope, cfg.BufferSize),
		state:  StateNotConnected,
	}
}

// ID returns the shard's zero-based index.
func (s *Shard) ID() int {
	return s.cfg.ShardID
}

// ShardCount returns the total shard count this shard identifies with.
func (s *Shard) ShardCount() int {
	return s.cfg.ShardCount
}

// Events returns the consumer channel. Every decoded inbound envelope is
// delivered here after internal handling, including frames the shard
// consumed itself (hello, acks, READY). The channel is never closed and
// outlives reconnects; consumers stop via their own context.
func (s *Shard) Events() <-chan *Envelope {
	return s.events
}

// Connect opens the shard's transport and starts the protocol machinery.
// It returns once the transport is open; session readiness (READY or
// RESUMED) is observed on the Events channel. The context is retained for
// the dials the shard performs on its own when reconnecting.
func (s *Shard) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShardClosed
	}
	if s.conn != nil || s.dialing {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.dialing = true
	if s.state != StateResuming {
		s.state = StateConnecting
	}
	target := s.cfg.GatewayURL
	if s.state == StateResuming && s.session.resumeURL != "" {
		target = s.session.resumeURL
	}
	s.ctx = ctx
	s.mu.Unlock()

	url := connectURL(target)
	s.logger.Debug("dialing gateway", "url", url)

	conn, err := s.dial(ctx, url)

	s.mu.Lock()
	s.dialing = false
	if err != nil {
		// A failed resume dial stays Resuming so the next attempt still
		// resumes; a failed fresh dial has nothing in flight anymore.
		if s.state == StateConnecting {
			s.state = StateNotConnected
		}
		s.mu.Unlock()
		return fmt.Errorf("dial gateway: %w", err)
	}
	if s.closed {
		// Close ran while the dial was in flight; tear the socket down
		// rather than leak it.
		s.mu.Unlock()
		conn.Close(CloseNormalClosure)
		return ErrShardClosed
	}
	s.conn = conn
	s.mu.Unlock()

	go s.runLoop(conn)

	s.logger.Debug("transport open")
	return nil
}

// connectURL appends the protocol version and encoding to a base URL.
func connectURL(base string) string {
	return strings.TrimSuffix(base, "/") + "/?v=10&encoding=json"
}

// Send writes an envelope to the gateway.
func (s *Shard) Send(env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(env)
}

// sendLocked marshals and writes an envelope on the current transport.
// Caller must hold s.mu.
func (s *Shard) sendLocked(env *Envelope) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return s.conn.Send(data)
}

// Close shuts the shard down, closing any open transport with a normal
// closure code. Safe to call more than once.
func (s *Shard) Close() error {
	return s.CloseWithCode(CloseNormalClosure)
}

// CloseWithCode shuts the shard down, closing any open transport with the
// given code. After Close the shard never reconnects; a Connect already in
// flight tears its socket down as soon as the dial resolves.
func (s *Shard) CloseWithCode(code int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateNotConnected
	s.stopHeartbeatLocked()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.logger.Debug("shard closing", "code", code)

	if conn != nil {
		return conn.Close(code)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Shard) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Heartbeat returns a snapshot of the current heartbeat cycle. Before the
// first hello the zero cycle reports Acknowledged=true.
func (s *Shard) Heartbeat() HeartbeatStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hb == nil {
		return HeartbeatStatus{Acknowledged: true}
	}
	return HeartbeatStatus{
		Acknowledged: s.hb.acked,
		LastSentAt:   s.hb.lastSent,
		Ping:         s.hb.ping,
	}
}

// Session returns a snapshot of the resumable session state.
func (s *Shard) Session() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.info()
}

// Stats returns a snapshot of the activity counters.
func (s *Shard) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RestoreSession installs persisted session state and marks the next
// connection attempt as a resume. Only meaningful while disconnected;
// calls on a live or closed shard are ignored. Restoring an empty session
// still forces the resume path, which falls back to identify at hello.
func (s *Shard) RestoreSession(id, resumeURL string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn != nil || s.dialing {
		s.logger.Debug("ignoring session restore on live shard")
		return
	}
	s.session.id = id
	s.session.resumeURL = resumeURL
	s.session.seq = seq
	s.state = StateResuming
}

// runLoop consumes one transport's event stream until it dies.
func (s *Shard) runLoop(conn transport.Conn) {
	for ev := range conn.Events() {
		switch ev.Kind {
		case transport.EventMessage:
			s.handleMessage(ev.Data)
		case transport.EventClosed:
			s.handleClose(conn, ev.Code, ev.Err)
			return
		}
	}
}

// handleMessage decodes an inbound frame, runs the matching internal
// handler, applies sequence tracking, then forwards the envelope to the
// consumer.
func (s *Shard) handleMessage(data []byte) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		s.mu.Lock()
		s.stats.DecodeErrors++
		s.mu.Unlock()
		s.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	s.mu.Lock()
	s.stats.EventsReceived++

	switch env.Op {
	case OpHello:
		s.handleHelloLocked(env)
	case OpHeartbeat:
		// The server may request a beat at any time.
		s.requestBeatLocked()
	case OpHeartbeatACK:
		s.ackLocked()
	case OpReconnect:
		s.handleReconnectLocked()
	case OpInvalidSession:
		s.handleInvalidSessionLocked(env)
	case OpDispatch:
		switch env.T {
		case EventReady:
			s.handleReadyLocked(env)
		case EventResumed:
			s.state = StateConnected
			s.logger.Info("session resumed", "seq", s.session.seq)
		}
	}

	// Sequence tracking runs on every dispatch frame, after any
	// event-specific handling and before the envelope is forwarded.
	if env.Op == OpDispatch && env.S > 0 {
		s.session.seq = env.S
	}
	s.mu.Unlock()

	s.forward(env)
}

// forward hands an envelope to the consumer. A full channel drops the
// envelope rather than stalling the protocol loop.
func (s *Shard) forward(env *Envelope) {
	select {
	case s.events <- env:
	default:
		s.mu.Lock()
		s.stats.EventsDropped++
		s.mu.Unlock()
		s.logger.Warn("consumer channel full, dropping envelope", "op", int(env.Op), "event", env.T)
	}
}

// handleHelloLocked arms the heartbeat cycle and sends identify or resume.
// Caller must hold s.mu.
func (s *Shard) handleHelloLocked(env *Envelope) {
	var hello HelloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		s.logger.Warn("undecodable hello payload", "error", err)
		return
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	s.startHeartbeatLocked(interval)
	s.logger.Debug("hello received", "heartbeat_interval", interval)

	if s.state == StateResuming {
		if s.session.canResume() {
			s.sendResumeLocked()
			return
		}
		// The degraded path: a resume was wanted but the stored session
		// is incomplete. Fall through to a fresh identify.
		s.logger.Info("no resumable session, identifying instead")
	}
	s.sendIdentifyLocked()
}

// sendIdentifyLocked starts a fresh session. Stored session state is
// cleared first because an identify invalidates any prior resume position.
// Caller must hold s.mu.
func (s *Shard) sendIdentifyLocked() {
	s.session.reset()
	s.state = StateConnecting

	d, _ := json.Marshal(IdentifyData{
		Token:      s.cfg.Token,
		Properties: s.cfg.Properties,
		Shard:      [2]int{s.cfg.ShardID, s.cfg.ShardCount},
		Intents:    s.cfg.Intents,
	})
	if err := s.sendLocked(&Envelope{Op: OpIdentify, D: d}); err != nil {
		s.logger.Warn("identify send failed", "error", err)
		return
	}
	s.logger.Info("identify sent", "shard_count", s.cfg.ShardCount, "intents", s.cfg.Intents)
}

// sendResumeLocked reattaches to the stored session. Caller must hold s.mu.
func (s *Shard) sendResumeLocked() {
	d, _ := json.Marshal(ResumeData{
		Token:     s.cfg.Token,
		SessionID: s.session.id,
		Seq:       s.session.seq,
	})
	if err := s.sendLocked(&Envelope{Op: OpResume, D: d}); err != nil {
		s.logger.Warn("resume send failed", "error", err)
		return
	}
	s.logger.Info("resume sent", "session_id", s.session.id, "seq", s.session.seq)
}

// handleReadyLocked stores the fresh session's identity. Caller must hold
// s.mu.
func (s *Shard) handleReadyLocked(env *Envelope) {
	var ready ReadyData
	if err := json.Unmarshal(env.D, &ready); err != nil {
		s.logger.Warn("undecodable ready payload", "error", err)
		return
	}
	s.session.id = ready.SessionID
	s.session.resumeURL = ready.ResumeGatewayURL
	s.state = StateConnected
	s.logger.Info("session ready", "session_id", ready.SessionID)
}

// handleReconnectLocked answers an op 7 by killing the transport with a
// retryable code; the close policy owns the actual reconnect. Caller must
// hold s.mu.
func (s *Shard) handleReconnectLocked() {
	s.logger.Info("server requested reconnect")
	if s.conn != nil {
		s.conn.Close(CloseReconnectRequested)
	}
}

// handleInvalidSessionLocked handles op 9. A non-resumable invalidation
// wipes the stored session so the reconnect falls back to identify; either
// way the transport is killed and the close policy takes over. Caller must
// hold s.mu.
func (s *Shard) handleInvalidSessionLocked(env *Envelope) {
	var resumable bool
	if len(env.D) > 0 {
		if err := json.Unmarshal(env.D, &resumable); err != nil {
			s.logger.Warn("undecodable invalid-session payload", "error", err)
		}
	}
	s.logger.Warn("session invalidated", "resumable", resumable)

	if !resumable {
		s.session.reset()
	}
	if s.conn != nil {
		s.conn.Close(CloseReconnectRequested)
	}
}

// handleClose applies the close-code policy to a dead transport: fatal
// codes park the shard; anything else reconnects immediately, resuming
// when a session was established and identifying fresh when the failed
// attempt was itself a resume.
func (s *Shard) handleClose(conn transport.Conn, code int, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// Stale close from a transport that was already replaced or torn
		// down by Close; the policy ran (or must not run) elsewhere.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.stopHeartbeatLocked()

	if s.closed {
		s.mu.Unlock()
		return
	}

	if isFatalClose(code) {
		s.state = StateNotConnected
		s.stats.FatalCloses++
		s.mu.Unlock()
		s.logger.Error("fatal gateway close, not reconnecting",
			"code", code, "reason", closeText(code),
		)
		return
	}

	prior := s.state
	if prior == StateConnected {
		s.state = StateResuming
	} else {
		// A close before the session was established, or a resume
		// attempt that failed: the next attempt starts fresh. One failed
		// resume never begets another.
		s.state = StateNotConnected
	}
	resume := s.state == StateResuming
	s.stats.Reconnects++
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Warn("gateway closed, reconnecting",
		"code", code, "reason", closeText(code), "error", err,
		"prior_state", prior.String(), "resume", resume,
	)

	if cerr := s.Connect(ctx); cerr != nil {
		s.logger.Error("reconnect failed", "error", cerr)
	}
}
