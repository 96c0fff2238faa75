// Package protocol defines the wire format shared by the LAN interface and
// the relay server: newline-delimited JSON messages with a small, closed set
// of message types.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of a network message. The set of values is
// closed; decoding rejects anything else.
type MessageType string

const (
	TypeConnect              MessageType = "connect"
	TypeDisconnect           MessageType = "disconnect"
	TypeGameState            MessageType = "game_state"
	TypePlayerAction         MessageType = "player_action"
	TypeChat                 MessageType = "chat"
	TypeError                MessageType = "error"
	TypePing                 MessageType = "ping"
	TypeSetupAction          MessageType = "setup_action"
	TypeSetupPhaseTransition MessageType = "setup_phase_transition"
	TypeSetupComplete        MessageType = "setup_complete"
	TypeTurnTransition       MessageType = "turn_transition"
	TypeTurnComplete         MessageType = "turn_complete"
	TypeMessageLogBatch      MessageType = "message_log_batch"
	TypeParityCheck          MessageType = "parity_check"
)

var knownTypes = map[MessageType]struct{}{
	TypeConnect:              {},
	TypeDisconnect:           {},
	TypeGameState:            {},
	TypePlayerAction:         {},
	TypeChat:                 {},
	TypeError:                {},
	TypePing:                 {},
	TypeSetupAction:          {},
	TypeSetupPhaseTransition: {},
	TypeSetupComplete:        {},
	TypeTurnTransition:       {},
	TypeTurnComplete:         {},
	TypeMessageLogBatch:      {},
	TypeParityCheck:          {},
}

// Valid reports whether t is one of the defined message types.
func (t MessageType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Message is the envelope for every frame on the wire. Payloads are plain
// data; a Message must never carry live object references.
type Message struct {
	Type      MessageType    `json:"type"`
	Data      map[string]any `json:"data"`
	Sender    string         `json:"sender"`
	Timestamp float64        `json:"timestamp"`
}

// NewMessage builds an envelope around data, stamped with the current time.
func NewMessage(t MessageType, data map[string]any, sender string) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{
		Type:      t,
		Data:      data,
		Sender:    sender,
		Timestamp: Now(),
	}
}

// Now returns the current time as float seconds since the epoch, the
// timestamp representation used on the wire.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Target returns the recipient client id carried in the payload of a message
// routed through the relay, or "" if the message is untargeted.
func (m Message) Target() string {
	t, _ := m.Data["target"].(string)
	return t
}

// The payload structs below cover the message types the transport itself
// interprets. Everything else (game_state, player_action, the setup and turn
// families) is opaque to this layer and stays a map.

// ConnectPayload is carried by connect messages, both for the LAN peer
// handshake (player_id + player_number) and for relay matchmaking
// (player_id + optional game_id, with players echoed back by the relay).
type ConnectPayload struct {
	PlayerID     string   `json:"player_id,omitempty"`
	PlayerNumber int      `json:"player_number,omitempty"`
	GameID       string   `json:"game_id,omitempty"`
	Players      []string `json:"players,omitempty"`
}

// DisconnectPayload is carried by disconnect messages.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload is carried by error messages.
type ErrorPayload struct {
	Error  string `json:"error"`
	Target string `json:"target,omitempty"`
}

// ChatPayload is carried by chat messages.
type ChatPayload struct {
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

// DecodePayload converts the untyped data map of a message into one of the
// payload structs above. Unknown keys are ignored; missing keys yield zero
// values, matching the tolerance of the wire format.
func DecodePayload(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error re-encoding payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error decoding payload: %w", err)
	}
	return nil
}

// PayloadMap converts a payload struct back into the untyped map form used
// by the Message envelope.
func PayloadMap(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error encoding payload: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("error decoding payload map: %w", err)
	}
	return out, nil
}
