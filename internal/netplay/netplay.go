// Package netplay provides the transport used by the multiplayer game modes:
// a uniform send/receive/handler-dispatch contract with a same-process
// implementation for local play and a TCP implementation for LAN play.
package netplay

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gravewright/netplay/internal/protocol"
)

// GameMode tags the way the current match is being played.
type GameMode string

const (
	SinglePlayer       GameMode = "single"
	LocalMultiplayer   GameMode = "local"
	NetworkMultiplayer GameMode = "network"
)

// Handler processes the payload of one inbound message. Handlers are always
// invoked from the goroutine that calls ReceiveMessages (or SendMessage, for
// the local interface), never from a network goroutine.
type Handler func(data map[string]any)

// ConnState is the lifecycle state of a transport. Sends are only permitted
// in StateConnected; every failure path lands in StateDisconnected.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Interface is the transport contract the rest of the game depends on. It is
// an injected dependency: the coordinator that owns the match constructs one
// implementation and passes it to every consumer.
//
// None of these methods raise across the boundary; failures are reported
// through return values and the connection state.
type Interface interface {
	// Initialize establishes readiness, blocking up to the connect timeout.
	// It returns false on any failure.
	Initialize() bool

	// Cleanup releases all resources held by the transport. Idempotent.
	Cleanup()

	// SendMessage transmits one message, returning false on failure.
	SendMessage(t protocol.MessageType, data map[string]any) bool

	// ReceiveMessages drains any queued inbound messages, dispatching each to
	// its registered handler. It never blocks.
	ReceiveMessages()

	// RegisterHandler registers the handler for a message type. At most one
	// handler is kept per type; the latest registration wins.
	RegisterHandler(t protocol.MessageType, h Handler)

	IsHost() bool
	PlayerNumber() int

	Mode() GameMode
	IsLocalMultiplayer() bool
	IsNetworkMultiplayer() bool
	IsMultiplayer() bool

	// ConnectionInfo returns a snapshot describing the current connection.
	ConnectionInfo() ConnectionInfo
}

// ConnectionInfo is a point-in-time description of a transport's connection.
type ConnectionInfo struct {
	GameMode     GameMode `json:"game_mode"`
	PlayerID     string   `json:"player_id"`
	OpponentID   string   `json:"opponent_id"`
	Connected    bool     `json:"connected"`
	IsHost       bool     `json:"is_host"`
	PlayerNumber int      `json:"player_number"`
}

// session carries the state common to every Interface implementation: the
// game-mode tag, the player's identity and the handler registry.
//
// The registry is not locked: registrations and dispatch both happen on the
// game's main goroutine.
type session struct {
	mode       GameMode
	playerID   string
	opponentID string
	handlers   map[protocol.MessageType]Handler
	logger     *logrus.Logger
}

func newSession(mode GameMode, logger *logrus.Logger) session {
	return session{
		mode:     mode,
		playerID: newPlayerID(),
		handlers: make(map[protocol.MessageType]Handler),
		logger:   logger,
	}
}

// newPlayerID generates the random opaque token identifying a person. This
// is distinct from the player number, which identifies a game seat.
func newPlayerID() string {
	return uuid.NewString()[:8]
}

func (s *session) RegisterHandler(t protocol.MessageType, h Handler) {
	s.handlers[t] = h
}

// dispatch routes one inbound message to its handler. Messages without a
// registered handler are logged and dropped, never queued.
func (s *session) dispatch(t protocol.MessageType, data map[string]any) {
	h, ok := s.handlers[t]
	if !ok {
		s.logger.Warnf("no handler registered for message type %s", t)
		return
	}
	h(data)
}

func (s *session) PlayerID() string { return s.playerID }

func (s *session) Mode() GameMode { return s.mode }

func (s *session) IsLocalMultiplayer() bool { return s.mode == LocalMultiplayer }

func (s *session) IsNetworkMultiplayer() bool { return s.mode == NetworkMultiplayer }

func (s *session) IsMultiplayer() bool {
	return s.IsLocalMultiplayer() || s.IsNetworkMultiplayer()
}
