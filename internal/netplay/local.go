package netplay

import (
	"github.com/sirupsen/logrus"

	"github.com/gravewright/netplay/internal/protocol"
)

// LocalInterface is the same-process transport for two players sharing one
// computer. SendMessage invokes the registered handler synchronously, in-call;
// there is no socket and no goroutine.
type LocalInterface struct {
	session

	connected     bool
	currentPlayer int
}

var _ Interface = (*LocalInterface)(nil)

func NewLocalInterface(logger *logrus.Logger) *LocalInterface {
	return &LocalInterface{
		session:       newSession(LocalMultiplayer, logger),
		currentPlayer: 1,
	}
}

func (l *LocalInterface) Initialize() bool {
	l.connected = true
	l.opponentID = "local-opponent"
	l.logger.Info("local multiplayer mode initialized")
	return true
}

func (l *LocalInterface) Cleanup() {
	l.connected = false
	l.logger.Info("local multiplayer mode cleaned up")
}

// SendMessage processes the message immediately as if it came from the other
// player.
func (l *LocalInterface) SendMessage(t protocol.MessageType, data map[string]any) bool {
	l.dispatch(t, data)
	return true
}

// ReceiveMessages is a no-op: local messages are dispatched inside
// SendMessage.
func (l *LocalInterface) ReceiveMessages() {}

// IsHost is always true for local play.
func (l *LocalInterface) IsHost() bool { return true }

func (l *LocalInterface) PlayerNumber() int { return l.currentPlayer }

// SwitchPlayer toggles the active seat between players 1 and 2.
func (l *LocalInterface) SwitchPlayer() {
	l.currentPlayer = 3 - l.currentPlayer
}

func (l *LocalInterface) ConnectionInfo() ConnectionInfo {
	return ConnectionInfo{
		GameMode:     l.mode,
		PlayerID:     l.playerID,
		OpponentID:   l.opponentID,
		Connected:    l.connected,
		IsHost:       l.IsHost(),
		PlayerNumber: l.PlayerNumber(),
	}
}
