// Package relay implements the standalone matchmaking server: many
// concurrent two-player sessions, with targeted messages forwarded between
// session members.
package relay

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/gravewright/netplay/internal/protocol"
)

const (
	// senderID is the sender stamped on every message the relay originates.
	senderID = "server"

	// maxSessionMembers caps the size of one game session.
	maxSessionMembers = 2

	// stopJoinTimeout bounds how long Stop waits for per-client goroutines.
	// Stragglers are abandoned rather than blocking process exit.
	stopJoinTimeout = time.Second

	// activityTTL is how long a client's last-activity entry survives
	// without traffic, for the stats endpoint only.
	activityTTL = 5 * time.Minute
)

// Server accepts client connections and routes messages between the members
// of two-player sessions. One goroutine accepts; each accepted client gets
// its own goroutine applying the same delimiter framing as the LAN interface.
type Server struct {
	port       int
	maxClients int
	logger     *logrus.Logger
	store      *Store
	logMsgs    bool

	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup

	// mu guards the three maps below, which are touched by the accept
	// goroutine, every per-client goroutine and Stop.
	mu        sync.Mutex
	clients   map[string]net.Conn
	addresses map[string]net.Addr
	games     map[string][]string

	// activity tracks when each client last sent traffic; entries expire on
	// their own and feed the stats endpoint.
	activity *cache.Cache
}

// Options configures a relay Server beyond its dependencies.
type Options struct {
	Port       int
	MaxClients int
	// LogMessages enables per-message debug logging.
	LogMessages bool
}

// NewServer builds a relay server. The store may be nil to disable session
// history persistence.
func NewServer(opts Options, logger *logrus.Logger, store *Store) *Server {
	return &Server{
		port:       opts.Port,
		maxClients: opts.MaxClients,
		logger:     logger,
		store:      store,
		logMsgs:    opts.LogMessages,
		clients:    make(map[string]net.Conn),
		addresses:  make(map[string]net.Addr),
		games:      make(map[string][]string),
		activity:   cache.New(activityTTL, 2*activityTTL),
	}
}

// Start binds the listening socket and spawns the accept goroutine. It
// returns immediately; use Stop to tear the server down.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("error starting relay server on port %d: %w", s.port, err)
	}
	s.listener = listener
	s.running.Store(true)

	s.logger.Infof("relay server started on port %d", s.port)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.logger.Errorf("error accepting connection: %v", err)
			continue
		}

		clientID := conn.RemoteAddr().String()

		s.mu.Lock()
		if len(s.clients) >= s.maxClients {
			s.mu.Unlock()
			s.logger.Warnf("rejecting %s: client limit (%d) reached", clientID, s.maxClients)
			_ = conn.Close()
			continue
		}
		s.clients[clientID] = conn
		s.addresses[clientID] = conn.RemoteAddr()
		s.mu.Unlock()

		s.logger.Infof("client connected: %s", clientID)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleClient(clientID, conn)
		}()
	}
}

// handleClient reads frames from one client until the stream closes, routing
// each decoded message. The deferred disconnect tears down the client's
// sessions exactly once.
func (s *Server) handleClient(clientID string, conn net.Conn) {
	defer s.disconnectClient(clientID)

	decoder := protocol.NewDecoder(conn)
	for s.running.Load() {
		m, err := decoder.Next()
		if err != nil {
			var malformed *protocol.MalformedFrameError
			if errors.As(err, &malformed) {
				s.logger.Warnf("received malformed frame from %s: %v", clientID, err)
				s.sendTo(clientID, protocol.TypeError, map[string]any{
					"error": "Invalid message",
				})
				continue
			}
			return
		}

		if s.logMsgs {
			s.logger.Debugf("relay received %s from %s: %v", m.Type, clientID, m.Data)
		}
		s.activity.Set(clientID, time.Now(), cache.DefaultExpiration)
		s.routeMessage(clientID, m)
	}
}

// routeMessage applies the relay's three routing rules: connect messages
// join or create sessions, targeted messages are forwarded verbatim, and
// everything else is dropped.
func (s *Server) routeMessage(clientID string, m protocol.Message) {
	switch {
	case m.Type == protocol.TypeConnect:
		s.handleConnect(clientID, m)
	case m.Target() != "":
		s.forward(clientID, m)
	}
}

// handleConnect joins the named session when it exists and has room,
// otherwise creates a fresh one. Both members learn the full roster on a
// successful join; the creator alone is notified on creation.
func (s *Server) handleConnect(clientID string, m protocol.Message) {
	var payload protocol.ConnectPayload
	if err := protocol.DecodePayload(m.Data, &payload); err != nil {
		s.logger.Warnf("invalid connect payload from %s: %v", clientID, err)
		s.sendTo(clientID, protocol.TypeError, map[string]any{
			"error": fmt.Sprintf("Invalid message: %v", err),
		})
		return
	}

	s.mu.Lock()
	members, exists := s.games[payload.GameID]

	if payload.GameID != "" && exists {
		if len(members) >= maxSessionMembers {
			s.mu.Unlock()
			s.sendTo(clientID, protocol.TypeError, map[string]any{
				"error": "Game is full",
			})
			return
		}

		members = append(members, clientID)
		s.games[payload.GameID] = members
		roster := append([]string(nil), members...)
		s.mu.Unlock()

		s.logger.Infof("client %s joined game %s", clientID, payload.GameID)
		s.recordEvent(func() error { return s.store.RecordJoined(payload.GameID, clientID) })

		for _, member := range roster {
			s.sendTo(member, protocol.TypeConnect, map[string]any{
				"game_id": payload.GameID,
				"players": roster,
			})
		}
		return
	}

	gameID := payload.GameID
	if gameID == "" {
		gameID = fmt.Sprintf("game-%d", time.Now().Unix())
	}
	s.games[gameID] = []string{clientID}
	s.mu.Unlock()

	s.logger.Infof("client %s created game %s", clientID, gameID)
	s.recordEvent(func() error { return s.store.RecordCreated(gameID, clientID) })

	s.sendTo(clientID, protocol.TypeConnect, map[string]any{
		"game_id": gameID,
		"players": []string{clientID},
	})
}

// forward relays a targeted message verbatim, injecting a timestamp if the
// sender omitted one. An unknown target is reported back to the sender.
func (s *Server) forward(clientID string, m protocol.Message) {
	target := m.Target()

	s.mu.Lock()
	conn, ok := s.clients[target]
	s.mu.Unlock()

	if !ok {
		s.sendTo(clientID, protocol.TypeError, map[string]any{
			"error":  "Target not found",
			"target": target,
		})
		return
	}

	if m.Timestamp == 0 {
		m.Timestamp = protocol.Now()
	}

	frame, err := protocol.Encode(m)
	if err != nil {
		s.logger.Errorf("error re-encoding %s message for %s: %v", m.Type, target, err)
		return
	}
	if _, err := conn.Write(frame); err != nil {
		s.logger.Errorf("error forwarding %s message to %s: %v", m.Type, target, err)
		s.disconnectClient(target)
	}
}

// sendTo builds a server-originated message and writes it to one client.
func (s *Server) sendTo(clientID string, t protocol.MessageType, data map[string]any) bool {
	s.mu.Lock()
	conn, ok := s.clients[clientID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	frame, err := protocol.Encode(protocol.NewMessage(t, data, senderID))
	if err != nil {
		s.logger.Errorf("error encoding %s message for %s: %v", t, clientID, err)
		return false
	}
	if _, err := conn.Write(frame); err != nil {
		s.logger.Errorf("error sending %s message to %s: %v", t, clientID, err)
		s.disconnectClient(clientID)
		return false
	}
	return true
}

// Broadcast sends a message to every connected client.
func (s *Server) Broadcast(t protocol.MessageType, data map[string]any) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.sendTo(id, t, data)
	}
}

// disconnectClient removes a client, notifies the partner in any session the
// client belonged to and deletes those sessions. Sessions are not
// recoverable once one side drops.
func (s *Server) disconnectClient(clientID string) {
	s.mu.Lock()
	conn, ok := s.clients[clientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, clientID)
	delete(s.addresses, clientID)

	var partners []string
	var closed []string
	for gameID, members := range s.games {
		for _, member := range members {
			if member != clientID {
				continue
			}
			for _, partner := range members {
				if partner != clientID {
					partners = append(partners, partner)
				}
			}
			closed = append(closed, gameID)
			break
		}
	}
	for _, gameID := range closed {
		delete(s.games, gameID)
	}
	s.mu.Unlock()

	_ = conn.Close()
	s.activity.Delete(clientID)

	for _, partner := range partners {
		s.sendTo(partner, protocol.TypeDisconnect, map[string]any{
			"reason": "Partner disconnected",
		})
	}
	for _, gameID := range closed {
		s.recordEvent(func() error { return s.store.RecordClosed(gameID, "Partner disconnected") })
	}

	s.logger.Infof("client disconnected: %s", clientID)
}

// Stop clears the running flag, force-closes every socket and joins the
// spawned goroutines with a bounded wait.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Lock()
	for _, conn := range s.clients {
		_ = conn.Close()
	}
	clear(s.clients)
	clear(s.addresses)
	clear(s.games)
	s.mu.Unlock()

	joined := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(stopJoinTimeout):
		s.logger.Warn("timed out waiting for client goroutines; abandoning them")
	}

	s.logger.Info("relay server stopped")
}

func (s *Server) recordEvent(record func() error) {
	if s.store == nil {
		return
	}
	if err := record(); err != nil {
		s.logger.Errorf("error recording session event: %v", err)
	}
}

// Stats is a point-in-time summary of the relay's load.
type Stats struct {
	Running       bool `json:"running"`
	ClientsCount  int  `json:"clients_count"`
	GamesCount    int  `json:"games_count"`
	ActiveClients int  `json:"active_clients"`
	Port          int  `json:"port"`
}

// Stats reports the current server statistics.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:       s.running.Load(),
		ClientsCount:  len(s.clients),
		GamesCount:    len(s.games),
		ActiveClients: s.activity.ItemCount(),
		Port:          s.port,
	}
}

// GameInfo describes one active session.
type GameInfo struct {
	Players     []string `json:"players"`
	PlayerCount int      `json:"player_count"`
	Joinable    bool     `json:"joinable"`
}

// Games lists every active session.
func (s *Server) Games() map[string]GameInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	games := make(map[string]GameInfo, len(s.games))
	for gameID, members := range s.games {
		games[gameID] = GameInfo{
			Players:     append([]string(nil), members...),
			PlayerCount: len(members),
			Joinable:    len(members) < maxSessionMembers,
		}
	}
	return games
}
