package netplay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gravewright/netplay/internal/protocol"
)

// Default network settings.
const (
	DefaultPort           = 7777
	DefaultConnectTimeout = 10 * time.Second

	// inboxSize bounds the queue between the receive goroutine and the game
	// loop. The game loop drains it every tick, so it only fills if the game
	// stalls for hundreds of messages.
	inboxSize = 256

	// cleanupJoinTimeout bounds how long Cleanup waits for the receive
	// goroutine before abandoning it.
	cleanupJoinTimeout = time.Second
)

// LANInterface realizes the transport contract over one TCP stream, as
// either host (listener) or client (connector). The two roles are mutually
// exclusive per instance and an instance is used for exactly one match.
//
// One background goroutine owns the socket's read side and forwards parsed
// messages through the inbox channel; the game's main goroutine performs
// every send and every handler invocation. The inbox is the only structure
// shared between them.
type LANInterface struct {
	session

	host     bool
	serverIP string
	port     int

	// ConnectTimeout bounds the blocking accept/connect in Initialize.
	ConnectTimeout time.Duration

	listener net.Listener
	conn     net.Conn
	state    atomic.Int32
	inbox    chan protocol.Message

	done      chan struct{}
	readerWg  sync.WaitGroup
	cleanupMu sync.Mutex
	cleaned   bool
}

var _ Interface = (*LANInterface)(nil)

// NewHostInterface returns a LAN transport that will listen on port and
// accept a single inbound connection.
func NewHostInterface(logger *logrus.Logger, port int) *LANInterface {
	return &LANInterface{
		session:        newSession(NetworkMultiplayer, logger),
		host:           true,
		port:           port,
		ConnectTimeout: DefaultConnectTimeout,
		inbox:          make(chan protocol.Message, inboxSize),
		done:           make(chan struct{}),
	}
}

// NewClientInterface returns a LAN transport that will connect out to the
// host at serverIP:port.
func NewClientInterface(logger *logrus.Logger, serverIP string, port int) *LANInterface {
	return &LANInterface{
		session:        newSession(NetworkMultiplayer, logger),
		serverIP:       serverIP,
		port:           port,
		ConnectTimeout: DefaultConnectTimeout,
		inbox:          make(chan protocol.Message, inboxSize),
		done:           make(chan struct{}),
	}
}

// Initialize blocks until the connection is established (host: accept,
// client: connect) or the connect timeout elapses. On success the receive
// goroutine is running and the connect handshake has been sent; on failure
// it returns false with any partial socket closed and no goroutine started.
func (l *LANInterface) Initialize() bool {
	l.setState(StateConnecting)

	var err error
	if l.host {
		err = l.establishHost()
	} else {
		err = l.establishClient()
	}
	if err != nil {
		l.logger.Errorf("network initialization error: %v", err)
		l.closeSockets()
		l.setState(StateDisconnected)
		return false
	}

	l.setState(StateConnected)
	l.readerWg.Add(1)
	go l.readLoop()

	return l.SendMessage(protocol.TypeConnect, map[string]any{
		"player_id":     l.playerID,
		"player_number": l.PlayerNumber(),
	})
}

// establishHost binds the listening socket and blocks until a client
// connects or the timeout elapses. Go's net package sets SO_REUSEADDR on
// listening sockets, so a recently closed port can be rebound immediately.
func (l *LANInterface) establishHost() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		return fmt.Errorf("error listening on port %d: %w", l.port, err)
	}
	l.listener = listener

	l.logger.Infof("hosting, waiting for a connection on port %d", l.port)

	if err := listener.(*net.TCPListener).SetDeadline(time.Now().Add(l.ConnectTimeout)); err != nil {
		return fmt.Errorf("error setting accept deadline: %w", err)
	}

	conn, err := listener.Accept()
	if err != nil {
		return fmt.Errorf("error waiting for client: %w", err)
	}

	l.conn = conn
	l.opponentID = conn.RemoteAddr().String()
	l.logger.Infof("client connected from %s", l.opponentID)
	return nil
}

// establishClient dials out to the configured host.
func (l *LANInterface) establishClient() error {
	if l.serverIP == "" {
		return errors.New("server IP address not provided")
	}

	addr := net.JoinHostPort(l.serverIP, strconv.Itoa(l.port))
	l.logger.Infof("connecting to host at %s", addr)

	conn, err := net.DialTimeout("tcp", addr, l.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("error connecting to %s: %w", addr, err)
	}

	l.conn = conn
	l.opponentID = addr
	return nil
}

// readLoop is the only reader of the socket. It accumulates raw bytes,
// decodes every complete frame and forwards it through the inbox. Malformed
// frames are dropped individually; a closed stream or read error ends the
// loop and marks the connection disconnected.
func (l *LANInterface) readLoop() {
	defer l.readerWg.Done()

	decoder := protocol.NewDecoder(l.conn)
	for {
		m, err := decoder.Next()
		if err != nil {
			var malformed *protocol.MalformedFrameError
			if errors.As(err, &malformed) {
				l.logger.Warnf("dropping malformed frame from %s: %v", l.opponentID, err)
				continue
			}

			select {
			case <-l.done:
				// Cleanup closed the socket out from under us.
			default:
				if errors.Is(err, io.EOF) {
					l.logger.Infof("connection closed by peer %s", l.opponentID)
				} else {
					l.logger.Errorf("receive error: %v", err)
				}
				l.setState(StateDisconnected)
			}
			return
		}

		select {
		case l.inbox <- m:
		case <-l.done:
			return
		}
	}
}

// ReceiveMessages drains everything currently queued by the receive
// goroutine and dispatches each message to its handler. Never blocks.
func (l *LANInterface) ReceiveMessages() {
	for {
		select {
		case m := <-l.inbox:
			l.dispatch(m.Type, m.Data)
		default:
			return
		}
	}
}

// SendMessage builds the envelope, encodes it and issues one blocking write.
// Any failure marks the connection disconnected and returns false; no
// partial or garbled bytes are ever written.
func (l *LANInterface) SendMessage(t protocol.MessageType, data map[string]any) bool {
	if l.State() != StateConnected || l.conn == nil {
		return false
	}

	frame, err := protocol.Encode(protocol.NewMessage(t, data, l.playerID))
	if err != nil {
		l.logger.Errorf("error serializing %s message (payload: %v): %v", t, data, err)
		l.setState(StateDisconnected)
		return false
	}

	if _, err := l.conn.Write(frame); err != nil {
		l.logger.Errorf("error sending %s message: %v", t, err)
		l.setState(StateDisconnected)
		return false
	}
	return true
}

// Cleanup signals the receive goroutine to stop, joins it with a bounded
// wait and closes both sockets. Safe to call repeatedly.
func (l *LANInterface) Cleanup() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if !l.cleaned {
		l.cleaned = true
		close(l.done)
	}

	// Closing the connection unblocks any read in progress.
	l.closeSockets()

	joined := make(chan struct{})
	go func() {
		l.readerWg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(cleanupJoinTimeout):
		l.logger.Warn("timed out waiting for the receive goroutine to exit")
	}

	l.setState(StateDisconnected)
	l.logger.Info("network connection cleaned up")
}

func (l *LANInterface) closeSockets() {
	if l.conn != nil {
		_ = l.conn.Close()
	}
	if l.listener != nil {
		_ = l.listener.Close()
	}
}

func (l *LANInterface) IsHost() bool { return l.host }

// PlayerNumber reports the seat: the host is always player 1, the client
// player 2.
func (l *LANInterface) PlayerNumber() int {
	if l.host {
		return 1
	}
	return 2
}

// State returns the current connection state.
func (l *LANInterface) State() ConnState {
	return ConnState(l.state.Load())
}

func (l *LANInterface) setState(s ConnState) {
	l.state.Store(int32(s))
}

func (l *LANInterface) ConnectionInfo() ConnectionInfo {
	return ConnectionInfo{
		GameMode:     l.mode,
		PlayerID:     l.playerID,
		OpponentID:   l.opponentID,
		Connected:    l.State() == StateConnected,
		IsHost:       l.host,
		PlayerNumber: l.PlayerNumber(),
	}
}
