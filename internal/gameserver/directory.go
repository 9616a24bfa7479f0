package gameserver

import (
	"context"
	"errors"
	"sync"
)

// ErrNotMember is returned by a Directory when the caller does not belong to
// the channel.
var ErrNotMember = errors.New("not a channel member")

// Member is a caller's identity within a channel.
type Member struct {
	UserID      string
	Username    string
	DisplayName string
}

// Directory answers channel membership questions. It is backed by the chat
// application's user and channel tables.
type Directory interface {
	// Lookup returns the member record for userID in channelID, or
	// ErrNotMember.
	Lookup(ctx context.Context, channelID, userID string) (Member, error)
}

// MemoryDirectory is an in-process Directory for development and tests.
// All methods are safe for concurrent use.
type MemoryDirectory struct {
	mu       sync.RWMutex
	open     bool
	channels map[string]map[string]Member
}

// NewMemoryDirectory creates an empty directory. When open is true every
// caller is a member of every channel, named after their user id.
func NewMemoryDirectory(open bool) *MemoryDirectory {
	return &MemoryDirectory{open: open, channels: make(map[string]map[string]Member)}
}

// Add registers m as a member of channelID.
func (d *MemoryDirectory) Add(channelID string, m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channels[channelID] == nil {
		d.channels[channelID] = make(map[string]Member)
	}
	d.channels[channelID][m.UserID] = m
}

// Lookup implements Directory.
func (d *MemoryDirectory) Lookup(_ context.Context, channelID, userID string) (Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if m, ok := d.channels[channelID][userID]; ok {
		return m, nil
	}
	if d.open && userID != "" {
		return Member{UserID: userID, Username: userID, DisplayName: userID}, nil
	}
	return Member{}, ErrNotMember
}
