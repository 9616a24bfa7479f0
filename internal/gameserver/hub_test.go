package gameserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/hexbattle/internal/game/battle"
	"github.com/cory-johannsen/hexbattle/internal/game/battlefield"
	"github.com/cory-johannsen/hexbattle/internal/game/command"
	"github.com/cory-johannsen/hexbattle/internal/game/dice"
	"github.com/cory-johannsen/hexbattle/internal/game/hex"
	"github.com/cory-johannsen/hexbattle/internal/game/session"
	"github.com/cory-johannsen/hexbattle/internal/gameserver"
	"github.com/cory-johannsen/hexbattle/internal/scripting"
)

var (
	alice = gameserver.Member{UserID: "u1", Username: "alice", DisplayName: "Alice"}
	bob   = gameserver.Member{UserID: "u2", Username: "bob", DisplayName: "Bob"}
)

type hubOption func(*gameserver.HubConfig)

// newTestHub builds a hub over an open 6x5 map. Spawns are deterministic:
// joiners land on (0,0), (1,0), (2,0), ...
func newTestHub(t *testing.T, opts ...hubOption) *gameserver.Hub {
	t.Helper()
	cfg := gameserver.HubConfig{
		Layout:     battlefield.Open("test", 6, 5),
		MinPlayers: 2,
		Rules:      battle.DefaultRules(),
		Channel:    gameserver.ChannelConfig{QueueSize: 16},
		Rand:       dice.NewSequenceSource(0),
		Logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h := gameserver.NewHub(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func openSession(t *testing.T, m *session.Manager, userID, channelID string) *session.Session {
	t.Helper()
	s, err := m.Open(userID, channelID)
	require.NoError(t, err)
	return s
}

// recv returns the next message queued for sess.
func recv(t *testing.T, sess *session.Session) map[string]any {
	t.Helper()
	select {
	case data, ok := <-sess.Outbox.Events():
		require.True(t, ok, "outbox closed")
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return nil
}

func assertQuiet(t *testing.T, sess *session.Session) {
	t.Helper()
	select {
	case data := <-sess.Outbox.Events():
		t.Fatalf("unexpected message %s", data)
	case <-time.After(30 * time.Millisecond):
	}
}

func playerNamed(snap battle.Snapshot, userID string) (battle.Player, bool) {
	for _, p := range snap.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return battle.Player{}, false
}

func TestHub_JoinBroadcastsDeltas(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)
	sessions := session.NewManager(16)

	watcher := openSession(t, sessions, "w", "c1")
	require.NoError(t, h.Subscribe(ctx, watcher))
	snap := recv(t, watcher)
	assert.Equal(t, "game_snapshot", snap["type"])
	assert.Equal(t, float64(0), snap["seq"])
	assert.Equal(t, "waiting_for_players", snap["phase"])
	assert.Nil(t, snap["active_turn_user_id"])

	p, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)
	assert.Equal(t, hex.Coord{Q: 0, R: 0}, p.Position)
	assert.Equal(t, 100, p.Health)

	d := recv(t, watcher)
	assert.Equal(t, "game_state_update", d["type"])
	assert.Equal(t, float64(1), d["seq"])
	assert.Len(t, d["players"], 1)

	_, err = h.Join(ctx, "c1", bob)
	require.NoError(t, err)
	d = recv(t, watcher)
	assert.Equal(t, float64(2), d["seq"])
	assert.Equal(t, "player_turn", d["phase"])
	assert.Equal(t, "u1", d["active_turn_user_id"])

	_, err = h.Join(ctx, "c1", alice)
	kind, ok := command.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, command.AlreadyJoined, kind)
	assertQuiet(t, watcher)

	s, err := h.Snapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Seq)
	assert.Equal(t, []string{"u1", "u2"}, s.TurnOrder)
}

func TestHub_ActRules(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)
	sessions := session.NewManager(16)

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)
	_, err = h.Join(ctx, "c1", bob)
	require.NoError(t, err)

	watcher := openSession(t, sessions, "u2", "c1")
	require.NoError(t, h.Subscribe(ctx, watcher))
	recv(t, watcher)

	res, err := h.Act(ctx, "c1", "u2", gameserver.GameAction{Command: "heal"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "NotYourTurn", res.Error)
	assertQuiet(t, watcher)

	res, err = h.Act(ctx, "c1", "u1", gameserver.GameAction{Command: "dance"})
	require.NoError(t, err)
	assert.Equal(t, "UnknownCommand", res.Error)

	res, err = h.Act(ctx, "c1", "u1", gameserver.GameAction{Command: "attack", TargetUsername: "bob"})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	d := recv(t, watcher)
	players := d["players"].([]any)
	require.Len(t, players, 1)
	assert.Equal(t, float64(90), players[0].(map[string]any)["health"])

	res, err = h.Act(ctx, "c1", "u1", gameserver.GameAction{Command: "end"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	d = recv(t, watcher)
	assert.Equal(t, "u2", d["active_turn_user_id"])

	res, err = h.Act(ctx, "c1", "u9", gameserver.GameAction{Command: "heal"})
	require.NoError(t, err)
	assert.Equal(t, "NotInBattle", res.Error)

	res, err = h.Act(ctx, "nowhere", "u1", gameserver.GameAction{Command: "heal"})
	require.NoError(t, err)
	assert.Equal(t, "NotInBattle", res.Error)
}

func TestHub_LeaveTearsDownEmptyChannel(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Len())

	require.NoError(t, h.Leave(ctx, "c1", "u1"))
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)

	err = h.Leave(ctx, "c1", "u1")
	kind, _ := command.KindOf(err)
	assert.Equal(t, command.NotInBattle, kind)

	_, err = h.Snapshot(ctx, "c1")
	assert.ErrorIs(t, err, gameserver.ErrNoChannel)

	// A fresh battle starts from an empty state.
	_, err = h.Join(ctx, "c1", bob)
	require.NoError(t, err)
	s, err := h.Snapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Seq)
}

func TestHub_RejectedFirstJoinDoesNotLeakChannel(t *testing.T) {
	ctx := context.Background()
	layout := battlefield.Open("tiny", 1, 1)
	layout.Obstacles = []battlefield.Obstacle{{Position: hex.Coord{}, Type: battlefield.ObstacleRock}}
	h := newTestHub(t, func(c *gameserver.HubConfig) { c.Layout = layout })

	_, err := h.Join(ctx, "c1", alice)
	kind, _ := command.KindOf(err)
	assert.Equal(t, command.NoSpawnAvailable, kind)
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_DisconnectForfeitsTurnThenGraceRemoves(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, func(c *gameserver.HubConfig) {
		c.Channel.ReconnectGrace = 50 * time.Millisecond
	})
	sessions := session.NewManager(16)

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)
	_, err = h.Join(ctx, "c1", bob)
	require.NoError(t, err)

	s1 := openSession(t, sessions, "u1", "c1")
	require.NoError(t, h.Subscribe(ctx, s1))
	s2 := openSession(t, sessions, "u2", "c1")
	require.NoError(t, h.Subscribe(ctx, s2))
	recv(t, s2)

	require.NoError(t, h.Unsubscribe(ctx, s1))
	d := recv(t, s2)
	assert.Equal(t, "u2", d["active_turn_user_id"], "away holder forfeits the turn")

	d = recv(t, s2)
	assert.Equal(t, []any{"u1"}, d["removed_players"])
	assert.Equal(t, "waiting_for_players", d["phase"])
}

func TestHub_ReconnectWithinGraceKeepsPlayer(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, func(c *gameserver.HubConfig) {
		c.Channel.ReconnectGrace = 100 * time.Millisecond
	})
	sessions := session.NewManager(16)

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)
	_, err = h.Join(ctx, "c1", bob)
	require.NoError(t, err)

	s1 := openSession(t, sessions, "u1", "c1")
	require.NoError(t, h.Subscribe(ctx, s1))
	s2 := openSession(t, sessions, "u2", "c1")
	require.NoError(t, h.Subscribe(ctx, s2))

	require.NoError(t, h.Unsubscribe(ctx, s1))
	back := openSession(t, sessions, "u1", "c1")
	require.NoError(t, h.Subscribe(ctx, back))
	snap := recv(t, back)
	assert.Equal(t, "game_snapshot", snap["type"])

	time.Sleep(200 * time.Millisecond)
	s, err := h.Snapshot(ctx, "c1")
	require.NoError(t, err)
	_, ok := playerNamed(s, "u1")
	assert.True(t, ok, "reconnected player must survive the grace window")
	assert.Equal(t, "u2", s.ActiveTurnUserID)
}

func TestHub_ZeroGraceLeavesImmediately(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)
	sessions := session.NewManager(16)

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)
	_, err = h.Join(ctx, "c1", bob)
	require.NoError(t, err)
	s1 := openSession(t, sessions, "u1", "c1")
	require.NoError(t, h.Subscribe(ctx, s1))
	s2 := openSession(t, sessions, "u2", "c1")
	require.NoError(t, h.Subscribe(ctx, s2))
	recv(t, s2)

	require.NoError(t, h.Unsubscribe(ctx, s1))
	d := recv(t, s2)
	assert.Equal(t, []any{"u1"}, d["removed_players"])
}

func TestHub_TurnTimeoutAdvances(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, func(c *gameserver.HubConfig) {
		c.Channel.TurnTimeout = 30 * time.Millisecond
	})

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)
	_, err = h.Join(ctx, "c1", bob)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, err := h.Snapshot(ctx, "c1")
		return err == nil && s.ActiveTurnUserID == "u2"
	}, time.Second, 5*time.Millisecond)
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)
	sessions := session.NewManager(1)

	slow := openSession(t, sessions, "w", "c1")
	require.NoError(t, h.Subscribe(ctx, slow))

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)
	assert.True(t, slow.Outbox.IsClosed())
}

func TestHub_SweepRemovesIdleChannel(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, func(c *gameserver.HubConfig) {
		c.Channel.IdleTTL = time.Millisecond
	})
	sessions := session.NewManager(16)

	_, err := h.Join(ctx, "idle", alice)
	require.NoError(t, err)
	_, err = h.Join(ctx, "watched", alice)
	require.NoError(t, err)
	w := openSession(t, sessions, "w", "watched")
	require.NoError(t, h.Subscribe(ctx, w))

	time.Sleep(5 * time.Millisecond)
	h.Sweep(time.Now())

	assert.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, err = h.Snapshot(ctx, "watched")
	assert.NoError(t, err)
}

func TestHub_ShutdownClosesSubscribers(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)
	sessions := session.NewManager(16)

	w := openSession(t, sessions, "w", "c1")
	require.NoError(t, h.Subscribe(ctx, w))
	require.NoError(t, h.Shutdown(ctx))

	assert.True(t, w.Outbox.IsClosed())
	assert.Equal(t, 0, h.Len())
	_, err := h.Join(ctx, "c1", alice)
	assert.ErrorIs(t, err, gameserver.ErrChannelClosed)
}

func TestHub_ConcurrentJoinsGetDistinctTiles(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, func(c *gameserver.HubConfig) {
		c.Rand = dice.NewCryptoSource()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			_, err := h.Join(ctx, "c1", gameserver.Member{UserID: id, Username: id})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s, err := h.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, s.Players, 20)
	seen := map[hex.Coord]bool{}
	for _, p := range s.Players {
		assert.False(t, seen[p.Position], "duplicate position %s", p.Position)
		seen[p.Position] = true
	}
	assert.Equal(t, uint64(20), s.Seq)
}

func npcLayout() *battlefield.Layout {
	l := battlefield.Open("arena", 6, 5)
	l.NPCs = []battlefield.NPCSpec{{Username: "goblin", DisplayName: "Goblin", MaxHealth: 40}}
	return l
}

func TestHub_NPCWithoutPolicyPasses(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, func(c *gameserver.HubConfig) {
		c.Layout = npcLayout()
		c.Channel.NPCDelay = 5 * time.Millisecond
	})

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, err := h.Snapshot(ctx, "c1")
		return err == nil && s.ActiveTurnUserID == "u1"
	}, time.Second, 5*time.Millisecond)

	s, err := h.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, s.Players, 2)
	npc := s.Players[0]
	assert.True(t, npc.IsNPC)
	assert.Equal(t, "goblin", npc.Username)
	assert.Equal(t, 40, npc.MaxHealth)
}

type recordingPolicy struct {
	mu       sync.Mutex
	calls    int
	seen     []scripting.PlayerView
	decision scripting.Decision
}

func (p *recordingPolicy) Decide(_ context.Context, _ scripting.PlayerView, players []scripting.PlayerView) (scripting.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.seen = players
	return p.decision, nil
}

func TestHub_NPCPolicyDrivesTurn(t *testing.T) {
	ctx := context.Background()
	policy := &recordingPolicy{decision: scripting.Decision{Command: "heal"}}
	h := newTestHub(t, func(c *gameserver.HubConfig) {
		c.Layout = npcLayout()
		c.Policy = policy
		c.Channel.NPCDelay = 5 * time.Millisecond
	})

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, err := h.Snapshot(ctx, "c1")
		return err == nil && s.ActiveTurnUserID == "u1"
	}, time.Second, 5*time.Millisecond)

	policy.mu.Lock()
	defer policy.mu.Unlock()
	assert.Equal(t, 1, policy.calls)
	require.Len(t, policy.seen, 1)
	assert.Equal(t, "alice", policy.seen[0].Username)
	assert.Equal(t, 1, policy.seen[0].Distance)
	assert.Equal(t, "east", policy.seen[0].Toward)
}

func TestHub_LuaPolicyAttacksAdjacentPlayer(t *testing.T) {
	ctx := context.Background()
	policy, err := scripting.NewPolicyFromFile("../../content/scripts/npc.lua", 100000, 1, dice.NewSequenceSource(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(policy.Close)

	h := newTestHub(t, func(c *gameserver.HubConfig) {
		c.Layout = npcLayout()
		c.Policy = policy
		c.Channel.NPCDelay = 5 * time.Millisecond
	})

	_, err = h.Join(ctx, "c1", alice)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, err := h.Snapshot(ctx, "c1")
		if err != nil || s.ActiveTurnUserID != "u1" {
			return false
		}
		p, ok := playerNamed(s, "u1")
		return ok && p.Health == 90
	}, time.Second, 5*time.Millisecond)
}

func TestHub_NPCStallsWithoutHumans(t *testing.T) {
	ctx := context.Background()
	policy := &recordingPolicy{decision: scripting.Decision{Command: "end_turn"}}
	h := newTestHub(t, func(c *gameserver.HubConfig) {
		c.Layout = npcLayout()
		c.Policy = policy
		c.Channel.NPCDelay = 5 * time.Millisecond
		c.Channel.ReconnectGrace = time.Minute
	})
	sessions := session.NewManager(16)

	_, err := h.Join(ctx, "c1", alice)
	require.NoError(t, err)
	s1 := openSession(t, sessions, "u1", "c1")
	require.NoError(t, h.Subscribe(ctx, s1))
	require.NoError(t, h.Unsubscribe(ctx, s1))

	time.Sleep(50 * time.Millisecond)
	policy.mu.Lock()
	calls := policy.calls
	policy.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	policy.mu.Lock()
	defer policy.mu.Unlock()
	assert.Equal(t, calls, policy.calls, "npc kept acting with no human present")
}
