package gateway

import (
	"encoding/json"
	"strconv"
)

// Opcode identifies the kind of a gateway envelope.
type Opcode int

// Gateway opcodes. Dispatch, Reconnect, InvalidSession, Hello and
// HeartbeatACK are receive-only; Identify and Resume are send-only;
// Heartbeat flows in both directions.
const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatACK   Opcode = 11
)

// Dispatch event names the shard consumes internally. Every other name
// passes through to the consumer without interpretation.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Envelope is the gateway wire frame: {"op", "d", "s", "t"}. S and T are
// only populated on dispatch (op 0) frames.
type Envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// HelloData is the op 10 payload.
type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // Milliseconds
}

// IdentifyProperties describe the connecting client inside identify.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyData is the op 2 payload starting a fresh session.
type IdentifyData struct {
	Token      string             `json:"token"`
	Properties IdentifyProperties `json:"properties"`
	Shard      [2]int             `json:"shard"` // [shard id, shard count]
	Intents    int64              `json:"intents"`
}

// ResumeData is the op 6 payload reattaching to a prior session.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// ReadyData is the subset of the READY dispatch payload the shard consumes.
type ReadyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// heartbeatD encodes the op 1 payload: the last dispatch sequence, or JSON
// null when no dispatch has been seen in this session.
func heartbeatD(seq int64) json.RawMessage {
	if seq <= 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(strconv.FormatInt(seq, 10))
}
