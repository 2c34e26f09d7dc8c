// ABOUTME: Wire protocol between botkeeper and the external game client driver.
// ABOUTME: One JSON envelope per websocket message: {"type": ..., "payload": {...}}.

package driver

import (
	"encoding/json"
	"fmt"
)

// Message types sent to the driver.
const (
	TypeConnect    = "connect"
	TypeChat       = "chat"
	TypeNavigate   = "navigate"
	TypeDisconnect = "disconnect"
)

// Message types received from the driver.
const (
	TypeSpawned  = "spawned"
	TypePosition = "position"
	TypeEnded    = "ended"
	TypeKicked   = "kicked"
	TypeError    = "error"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ, Payload: json.RawMessage("{}")}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v unchanged.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ConnectPayload asks the driver to join a server.
type ConnectPayload struct {
	Username string `json:"username"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Version  string `json:"version"`
}

// ChatPayload is a public chat line.
type ChatPayload struct {
	Text string `json:"text"`
}

// NavigatePayload sets a pathfinding goal. Movements names the movement rules,
// which the driver derives from the protocol version.
type NavigatePayload struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
	Movements string `json:"movements"`
}

// PositionPayload carries spawned and position updates.
type PositionPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ReasonPayload carries ended and kicked notifications.
type ReasonPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload carries driver-side failures.
type ErrorPayload struct {
	Message string `json:"message"`
}
