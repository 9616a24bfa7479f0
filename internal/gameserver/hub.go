package gameserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/hexbattle/internal/game/battle"
	"github.com/cory-johannsen/hexbattle/internal/game/battlefield"
	"github.com/cory-johannsen/hexbattle/internal/game/command"
	"github.com/cory-johannsen/hexbattle/internal/game/dice"
	"github.com/cory-johannsen/hexbattle/internal/game/session"
)

// ErrNoChannel is returned by operations that never create a battle when the
// channel has none.
var ErrNoChannel = errors.New("no battle in channel")

// maxAttempts bounds retries against channels that close underneath a request.
const maxAttempts = 3

// HubConfig wires the collaborators every channel shares.
type HubConfig struct {
	Layout     *battlefield.Layout
	MinPlayers int
	Rules      battle.Rules
	Channel    ChannelConfig
	Registry   *command.Registry
	// Policy drives NPC turns; nil makes NPCs pass.
	Policy NPCPolicy
	// Rand must be safe for concurrent use when several channels are live.
	Rand   dice.Source
	Logger *zap.Logger
}

// Hub owns the live channels, creating each on first use and forgetting it
// when its loop exits.
// All methods are safe for concurrent use.
type Hub struct {
	cfg HubConfig

	mu       sync.Mutex
	channels map[string]*Channel
	closed   bool
}

// NewHub creates a hub.
//
// Precondition: cfg.Layout must be valid.
// Postcondition: nil fields of cfg are replaced with defaults.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Layout == nil {
		panic("gameserver.NewHub: layout must not be nil")
	}
	if cfg.Registry == nil {
		cfg.Registry = command.DefaultRegistry()
	}
	if cfg.Rand == nil {
		cfg.Rand = dice.NewCryptoSource()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Rules == (battle.Rules{}) {
		cfg.Rules = battle.DefaultRules()
	}
	if cfg.MinPlayers < 1 {
		cfg.MinPlayers = 1
	}
	return &Hub{cfg: cfg, channels: make(map[string]*Channel)}
}

// Registry returns the command registry channels parse with.
func (h *Hub) Registry() *command.Registry { return h.cfg.Registry }

func (h *Hub) acquire(id string) (*Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrChannelClosed
	}
	if c, ok := h.channels[id]; ok {
		return c, nil
	}
	state := battle.NewState(h.cfg.Layout, h.cfg.MinPlayers)
	proc := battle.NewProcessor(state, h.cfg.Rules, h.cfg.Rand, h.cfg.Logger)
	c := newChannel(id, proc, h.cfg.Registry, h.cfg.Policy, h.cfg.Channel, h.cfg.Logger, h.remove)
	h.channels[id] = c
	c.start()
	return c, nil
}

func (h *Hub) lookup(id string) (*Channel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.channels[id]
	return c, ok
}

func (h *Hub) remove(c *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[c.id] == c {
		delete(h.channels, c.id)
	}
}

// with runs fn against the channel's live battle, retrying when the channel
// closed before fn's request was handled. When create is false a missing
// channel yields ErrNoChannel.
func (h *Hub) with(channelID string, create bool, fn func(*Channel) error) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var c *Channel
		if create {
			var err error
			if c, err = h.acquire(channelID); err != nil {
				return err
			}
		} else {
			var ok bool
			if c, ok = h.lookup(channelID); !ok {
				return ErrNoChannel
			}
		}
		err := fn(c)
		if !errors.Is(err, ErrChannelClosed) {
			return err
		}
		h.cfg.Logger.Debug("channel closed under request; retrying",
			zap.String("channel_id", channelID),
			zap.Int("attempt", attempt+1),
		)
	}
	return ErrChannelClosed
}

// Join adds m to the channel's battle, creating the battle if needed.
func (h *Hub) Join(ctx context.Context, channelID string, m Member) (battle.Player, error) {
	var p battle.Player
	err := h.with(channelID, true, func(c *Channel) error {
		var err error
		p, err = c.Join(ctx, m)
		return err
	})
	return p, err
}

// Leave removes userID from the channel's battle.
//
// Postcondition: returns a NotInBattle rejection when the channel has no
// battle or userID is not in it.
func (h *Hub) Leave(ctx context.Context, channelID, userID string) error {
	err := h.with(channelID, false, func(c *Channel) error {
		return c.Leave(ctx, userID)
	})
	if errors.Is(err, ErrNoChannel) {
		return command.Reject(command.NotInBattle, "not in this battle")
	}
	return err
}

// Act applies action on behalf of userID.
func (h *Hub) Act(ctx context.Context, channelID, userID string, action GameAction) (ActionResultMessage, error) {
	var res ActionResultMessage
	err := h.with(channelID, false, func(c *Channel) error {
		var err error
		res, err = c.Act(ctx, userID, action)
		return err
	})
	if errors.Is(err, ErrNoChannel) {
		return NewActionResult(channelID, battle.Result{}, command.Reject(command.NotInBattle, "not in this battle")), nil
	}
	return res, err
}

// Subscribe registers sess with its channel's battle and sends it a snapshot.
// Watching a channel with no battle opens an empty one.
func (h *Hub) Subscribe(ctx context.Context, sess *session.Session) error {
	return h.with(sess.ChannelID, true, func(c *Channel) error {
		return c.Subscribe(ctx, sess)
	})
}

// Unsubscribe drops sess from its channel.
func (h *Hub) Unsubscribe(ctx context.Context, sess *session.Session) error {
	err := h.with(sess.ChannelID, false, func(c *Channel) error {
		return c.Unsubscribe(ctx, sess.ID)
	})
	if errors.Is(err, ErrNoChannel) || errors.Is(err, ErrChannelClosed) {
		return nil
	}
	return err
}

// Snapshot returns the current battle in channelID.
func (h *Hub) Snapshot(ctx context.Context, channelID string) (battle.Snapshot, error) {
	var snap battle.Snapshot
	err := h.with(channelID, false, func(c *Channel) error {
		var err error
		snap, err = c.Snapshot(ctx)
		return err
	})
	return snap, err
}

// Len returns the number of live channels.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

func (h *Hub) live() []*Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Channel, 0, len(h.channels))
	for _, c := range h.channels {
		out = append(out, c)
	}
	return out
}

// Sweep asks every channel to tear itself down if it has been idle. Busy
// channels whose inbox is full are skipped until the next sweep.
func (h *Hub) Sweep(now time.Time) {
	for _, c := range h.live() {
		c.tryPost(sweepRequest{now: now})
	}
}

// Shutdown stops every channel and waits for their loops to exit. No new
// channels are created afterwards.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	channels := h.live()
	for _, c := range channels {
		if err := c.post(ctx, stopRequest{}); err != nil && !errors.Is(err, ErrChannelClosed) {
			return err
		}
	}
	for _, c := range channels {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.cfg.Logger.Info("hub stopped", zap.Int("channels", len(channels)))
	return nil
}
