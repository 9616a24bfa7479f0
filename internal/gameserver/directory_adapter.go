package gameserver

import (
	"context"
	"errors"

	"github.com/cory-johannsen/hexbattle/internal/storage/postgres"
)

// memberLookup is the subset of postgres.MemberRepository the adapter needs.
type memberLookup interface {
	Lookup(ctx context.Context, channelID, userID string) (postgres.Member, error)
}

// MemberRepoAdapter wraps a postgres.MemberRepository to satisfy Directory.
type MemberRepoAdapter struct {
	repo memberLookup
}

// NewMemberRepoAdapter creates an adapter around the given repository.
func NewMemberRepoAdapter(repo *postgres.MemberRepository) *MemberRepoAdapter {
	return &MemberRepoAdapter{repo: repo}
}

// Lookup translates the repository's ErrNotMember into the Directory's.
func (a *MemberRepoAdapter) Lookup(ctx context.Context, channelID, userID string) (Member, error) {
	m, err := a.repo.Lookup(ctx, channelID, userID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotMember) {
			return Member{}, ErrNotMember
		}
		return Member{}, err
	}
	return Member{UserID: m.UserID, Username: m.Username, DisplayName: m.DisplayName}, nil
}
