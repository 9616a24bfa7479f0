package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one live client connection bound to a channel.
type Session struct {
	// ID uniquely identifies the connection.
	ID string
	// UserID is the authenticated caller.
	UserID string
	// ChannelID is the channel whose battle the session follows.
	ChannelID string
	// ConnectedAt is when the session was opened.
	ConnectedAt time.Time
	// Outbox carries encoded server messages to the connection's writer.
	Outbox *Outbox
}

// Manager tracks all open sessions and how many are watching each channel.
// All methods are safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session // session id → session
	perChannel map[string]int      // channelID → open sessions
	outboxSize int
	now        func() time.Time
}

// NewManager creates an empty Manager whose outboxes hold outboxSize messages.
func NewManager(outboxSize int) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		perChannel: make(map[string]int),
		outboxSize: outboxSize,
		now:        time.Now,
	}
}

// Open registers a new session for userID in channelID.
//
// Precondition: userID and channelID must be non-empty.
// Postcondition: Returns a Session with a fresh random ID and an open Outbox.
func (m *Manager) Open(userID, channelID string) (*Session, error) {
	if userID == "" || channelID == "" {
		return nil, fmt.Errorf("session requires user and channel, got %q/%q", userID, channelID)
	}
	sess := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChannelID:   channelID,
		ConnectedAt: m.now(),
		Outbox:      NewOutbox(m.outboxSize),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	m.perChannel[channelID]++
	return sess, nil
}

// Close removes a session and closes its outbox.
//
// Postcondition: The session is no longer counted. Returns an error if not found.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	if m.perChannel[sess.ChannelID]--; m.perChannel[sess.ChannelID] <= 0 {
		delete(m.perChannel, sess.ChannelID)
	}
	sess.Outbox.Close()
	delete(m.sessions, id)
	return nil
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ChannelCount returns the number of channels with at least one session.
func (m *Manager) ChannelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.perChannel)
}
