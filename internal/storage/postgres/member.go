package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotMember is returned when a user is not a member of a channel, or does
// not exist.
var ErrNotMember = errors.New("not a channel member")

// Member is a user's identity within a chat channel.
type Member struct {
	UserID      string
	Username    string
	DisplayName string
}

// MemberRepository reads channel membership from the chat application's
// users and channel_members tables.
type MemberRepository struct {
	db *pgxpool.Pool
}

// NewMemberRepository creates a MemberRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMemberRepository(db *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{db: db}
}

// Lookup returns userID's member record in channelID.
//
// Postcondition: Returns ErrNotMember if the user is unknown or not in the
// channel. An empty display name falls back to the username.
func (r *MemberRepository) Lookup(ctx context.Context, channelID, userID string) (Member, error) {
	var m Member
	err := r.db.QueryRow(ctx,
		`SELECT u.id, u.username, u.display_name
		 FROM channel_members cm
		 JOIN users u ON u.id = cm.user_id
		 WHERE cm.channel_id = $1 AND cm.user_id = $2`,
		channelID, userID,
	).Scan(&m.UserID, &m.Username, &m.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrNotMember
		}
		return Member{}, fmt.Errorf("looking up channel member: %w", err)
	}
	if m.DisplayName == "" {
		m.DisplayName = m.Username
	}
	return m, nil
}

// UpsertUser creates or renames a user.
func (r *MemberRepository) UpsertUser(ctx context.Context, userID, username, displayName string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, username, display_name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET username = EXCLUDED.username, display_name = EXCLUDED.display_name`,
		userID, username, displayName,
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// AddMember puts userID into channelID. Adding an existing member is a no-op.
func (r *MemberRepository) AddMember(ctx context.Context, channelID, userID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		channelID, userID,
	)
	if err != nil {
		return fmt.Errorf("adding channel member: %w", err)
	}
	return nil
}

// RemoveMember takes userID out of channelID.
func (r *MemberRepository) RemoveMember(ctx context.Context, channelID, userID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	)
	if err != nil {
		return fmt.Errorf("removing channel member: %w", err)
	}
	return nil
}
