package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SessionRecord is the durable record of one relay session.
type SessionRecord struct {
	ID          uint   `gorm:"primaryKey"`
	GameID      string `gorm:"uniqueIndex; not null"`
	CreatedBy   string `gorm:"not null"`
	CreatedAt   time.Time
	ClosedAt    *time.Time
	CloseReason string
}

// SessionEvent is one lifecycle event (created, joined, closed) within a
// session.
type SessionEvent struct {
	ID        uint   `gorm:"primaryKey"`
	GameID    string `gorm:"index; not null"`
	ClientID  string
	Event     string `gorm:"not null"`
	CreatedAt time.Time
}

const (
	eventCreated = "created"
	eventJoined  = "joined"
	eventClosed  = "closed"
)

// Store persists session history so that operators can inspect matchmaking
// activity after the fact. All methods are safe for concurrent use; gorm
// serializes access to the underlying sqlite handle.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the sqlite database at path.
func OpenStore(path string, debug bool) (*Store, error) {
	// By default only log errors but enable full SQL query prints-to-console
	// with debug mode.
	log := logger.Default.LogMode(logger.Error)
	if debug {
		log = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error opening session store: %w", err)
	}

	if err := db.AutoMigrate(&SessionRecord{}, &SessionEvent{}); err != nil {
		return nil, fmt.Errorf("error auto migrating session store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("error getting current connection: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("error closing session store: %w", err)
	}
	return nil
}

// RecordCreated persists a new session and its creation event.
func (s *Store) RecordCreated(gameID, clientID string) error {
	record := &SessionRecord{GameID: gameID, CreatedBy: clientID}
	if err := s.db.Create(record).Error; err != nil {
		return err
	}
	return s.db.Create(&SessionEvent{GameID: gameID, ClientID: clientID, Event: eventCreated}).Error
}

// RecordJoined persists a member joining an existing session.
func (s *Store) RecordJoined(gameID, clientID string) error {
	return s.db.Create(&SessionEvent{GameID: gameID, ClientID: clientID, Event: eventJoined}).Error
}

// RecordClosed marks a session closed and persists the closing event.
func (s *Store) RecordClosed(gameID, reason string) error {
	now := time.Now()
	err := s.db.Model(&SessionRecord{}).
		Where("game_id = ?", gameID).
		Updates(map[string]any{"closed_at": &now, "close_reason": reason}).Error
	if err != nil {
		return err
	}
	return s.db.Create(&SessionEvent{GameID: gameID, Event: eventClosed}).Error
}

// FindSession returns the record for gameID, or nil if none exists.
func (s *Store) FindSession(gameID string) (*SessionRecord, error) {
	var record SessionRecord
	err := s.db.Where("game_id = ?", gameID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// SessionHistory returns the events for gameID in insertion order.
func (s *Store) SessionHistory(gameID string) ([]SessionEvent, error) {
	var events []SessionEvent
	err := s.db.Where("game_id = ?", gameID).Order("id").Find(&events).Error
	return events, err
}
