package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/hexbattle/internal/game/battle"
	"github.com/cory-johannsen/hexbattle/internal/game/command"
	"github.com/cory-johannsen/hexbattle/internal/game/hex"
	"github.com/cory-johannsen/hexbattle/internal/game/session"
	"github.com/cory-johannsen/hexbattle/internal/scripting"
)

// ErrChannelClosed is returned when a request reaches a channel whose
// processing loop has exited. Hub operations retry on a fresh channel.
var ErrChannelClosed = errors.New("channel closed")

// NPCPolicy chooses one action for an NPC whose turn it is.
type NPCPolicy interface {
	Decide(ctx context.Context, self scripting.PlayerView, players []scripting.PlayerView) (scripting.Decision, error)
}

// ChannelConfig holds per-channel limits and timings.
type ChannelConfig struct {
	// QueueSize bounds the request inbox.
	QueueSize int
	// TurnTimeout ends an idle human turn; 0 disables.
	TurnTimeout time.Duration
	// ReconnectGrace keeps a disconnected player in the battle; 0 removes
	// them as soon as their last session drops.
	ReconnectGrace time.Duration
	// IdleTTL tears down an unwatched channel on sweep; 0 disables.
	IdleTTL time.Duration
	// NPCDelay paces NPC actions.
	NPCDelay time.Duration
	// NPCDecisionTimeout bounds one policy call.
	NPCDecisionTimeout time.Duration
}

// Requests handled by the channel loop.
type (
	joinRequest struct {
		member Member
		reply  chan joinReply
	}
	joinReply struct {
		player battle.Player
		err    error
	}
	leaveRequest struct {
		userID string
		reply  chan error
	}
	actionRequest struct {
		userID string
		action GameAction
		reply  chan ActionResultMessage
	}
	subscribeRequest struct {
		sess  *session.Session
		reply chan error
	}
	unsubscribeRequest struct {
		sessionID string
		reply     chan struct{}
	}
	inspectRequest struct {
		reply chan battle.Snapshot
	}
	turnTimeout struct {
		token uint64
	}
	npcTurn struct {
		token uint64
	}
	graceExpired struct {
		userID string
		token  uint64
	}
	sweepRequest struct {
		now time.Time
	}
	stopRequest struct{}
)

// Channel owns one channel's battle. A single goroutine (run) owns the
// state, subscribers and timers; everything else talks to it through the
// bounded inbox.
type Channel struct {
	id       string
	cfg      ChannelConfig
	proc     *battle.Processor
	registry *command.Registry
	policy   NPCPolicy
	logger   *zap.Logger
	now      func() time.Time
	onExit   func(*Channel)

	inbox chan any
	done  chan struct{}

	// Owned by run.
	subs         map[string]*session.Session
	grace        map[string]uint64
	graceSeq     uint64
	turnTimer    TurnTimer
	npcTimer     TurnTimer
	armedFor     string
	lastActivity time.Time
}

// newChannel builds a channel around proc and spawns the layout's NPCs.
// The loop is not started.
func newChannel(id string, proc *battle.Processor, registry *command.Registry, policy NPCPolicy,
	cfg ChannelConfig, logger *zap.Logger, onExit func(*Channel)) *Channel {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.NPCDecisionTimeout <= 0 {
		cfg.NPCDecisionTimeout = time.Second
	}
	c := &Channel{
		id:       id,
		cfg:      cfg,
		proc:     proc,
		registry: registry,
		policy:   policy,
		logger:   logger.With(zap.String("channel_id", id)),
		now:      time.Now,
		onExit:   onExit,
		inbox:    make(chan any, cfg.QueueSize),
		done:     make(chan struct{}),
		subs:     make(map[string]*session.Session),
		grace:    make(map[string]uint64),
	}
	c.lastActivity = c.now()

	for _, npc := range proc.State().Layout().NPCs {
		_, _, err := proc.Join(battle.Identity{
			UserID:      "npc-" + uuid.NewString(),
			Username:    npc.Username,
			DisplayName: npc.DisplayName,
			IsNPC:       true,
			MaxHealth:   npc.MaxHealth,
		})
		if err != nil {
			c.logger.Warn("spawning npc", zap.String("npc", npc.Username), zap.Error(err))
		}
	}
	return c
}

// ID returns the channel id.
func (c *Channel) ID() string { return c.id }

// Done is closed once the loop has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) start() {
	go c.run()
}

// post enqueues req, blocking while the inbox is full.
//
// Postcondition: returns ErrChannelClosed once the loop has exited, or
// ctx.Err() if ctx ends first.
func (c *Channel) post(ctx context.Context, req any) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.inbox <- req:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryPost enqueues req only if there is room.
func (c *Channel) tryPost(req any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- req:
		return true
	default:
		return false
	}
}

// await waits for the loop's reply. A reply sent just before the loop
// exited wins over ErrChannelClosed.
func await[T any](ctx context.Context, c *Channel, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrChannelClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Join adds m to the battle.
func (c *Channel) Join(ctx context.Context, m Member) (battle.Player, error) {
	reply := make(chan joinReply, 1)
	if err := c.post(ctx, joinRequest{member: m, reply: reply}); err != nil {
		return battle.Player{}, err
	}
	r, err := await(ctx, c, reply)
	if err != nil {
		return battle.Player{}, err
	}
	return r.player, r.err
}

// Leave removes userID from the battle.
func (c *Channel) Leave(ctx context.Context, userID string) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, leaveRequest{userID: userID, reply: reply}); err != nil {
		return err
	}
	r, err := await(ctx, c, reply)
	if err != nil {
		return err
	}
	return r
}

// Act validates and applies a game action on behalf of userID.
func (c *Channel) Act(ctx context.Context, userID string, action GameAction) (ActionResultMessage, error) {
	reply := make(chan ActionResultMessage, 1)
	if err := c.post(ctx, actionRequest{userID: userID, action: action, reply: reply}); err != nil {
		return ActionResultMessage{}, err
	}
	return await(ctx, c, reply)
}

// Subscribe registers sess for broadcasts and pushes it a full snapshot.
// Subscribing an already registered session only resends the snapshot.
func (c *Channel) Subscribe(ctx context.Context, sess *session.Session) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, subscribeRequest{sess: sess, reply: reply}); err != nil {
		return err
	}
	r, err := await(ctx, c, reply)
	if err != nil {
		return err
	}
	return r
}

// Unsubscribe drops the session with sessionID.
func (c *Channel) Unsubscribe(ctx context.Context, sessionID string) error {
	reply := make(chan struct{}, 1)
	if err := c.post(ctx, unsubscribeRequest{sessionID: sessionID, reply: reply}); err != nil {
		return err
	}
	_, err := await(ctx, c, reply)
	return err
}

// Snapshot returns a deep copy of the battle.
func (c *Channel) Snapshot(ctx context.Context) (battle.Snapshot, error) {
	reply := make(chan battle.Snapshot, 1)
	if err := c.post(ctx, inspectRequest{reply: reply}); err != nil {
		return battle.Snapshot{}, err
	}
	return await(ctx, c, reply)
}

func (c *Channel) run() {
	c.logger.Info("channel opened")
	defer c.shutdown()
	for req := range c.inbox {
		if c.handle(req) {
			return
		}
	}
}

// handle processes one request and reports whether the loop should exit.
func (c *Channel) handle(req any) bool {
	switch r := req.(type) {
	case joinRequest:
		c.touch()
		p, d, err := c.proc.Join(battle.Identity{
			UserID:      r.member.UserID,
			Username:    r.member.Username,
			DisplayName: r.member.DisplayName,
		})
		if err == nil {
			c.logger.Info("player joined", zap.String("user_id", p.UserID), zap.Stringer("position", p.Position))
			c.publish(d, p.UserID)
		}
		r.reply <- joinReply{player: p, err: err}

	case leaveRequest:
		c.touch()
		delete(c.grace, r.userID)
		d, err := c.proc.Leave(r.userID)
		if err == nil {
			c.logger.Info("player left", zap.String("user_id", r.userID))
			c.publish(d, r.userID)
		}
		r.reply <- err

	case actionRequest:
		c.touch()
		r.reply <- c.act(r.userID, r.action)

	case subscribeRequest:
		c.touch()
		c.subscribe(r.sess)
		r.reply <- nil

	case unsubscribeRequest:
		if sess, ok := c.subs[r.sessionID]; ok {
			delete(c.subs, r.sessionID)
			c.disconnected(sess.UserID)
		}
		r.reply <- struct{}{}

	case inspectRequest:
		r.reply <- c.proc.State().Snapshot()

	case turnTimeout:
		if c.turnTimer.Current(r.token) {
			c.timeoutTurn()
		}

	case npcTurn:
		if c.npcTimer.Current(r.token) {
			c.driveNPC()
		}

	case graceExpired:
		if tok, ok := c.grace[r.userID]; ok && tok == r.token {
			delete(c.grace, r.userID)
			if d, err := c.proc.Leave(r.userID); err == nil {
				c.logger.Info("reconnect grace expired", zap.String("user_id", r.userID))
				c.publish(d, r.userID)
			}
		}

	case sweepRequest:
		if c.cfg.IdleTTL > 0 && len(c.subs) == 0 && r.now.Sub(c.lastActivity) >= c.cfg.IdleTTL {
			c.logger.Info("channel idle", zap.Duration("idle", r.now.Sub(c.lastActivity)))
			return true
		}
		return false

	case stopRequest:
		return true

	default:
		c.logger.Error("unknown channel request", zap.Any("request", req))
	}

	return len(c.subs) == 0 && c.proc.State().HumanCount() == 0
}

func (c *Channel) touch() { c.lastActivity = c.now() }

func (c *Channel) act(userID string, action GameAction) ActionResultMessage {
	cmd, err := c.registry.Parse(userID, action.Command, action.TargetUsername)
	if err != nil {
		return NewActionResult(c.id, battle.Result{}, err)
	}
	res, d, err := c.proc.Apply(cmd)
	if err != nil {
		c.logger.Debug("command rejected",
			zap.String("user_id", userID),
			zap.Stringer("verb", cmd.Verb),
			zap.Error(err),
		)
		return NewActionResult(c.id, res, err)
	}
	c.publish(d, userID)
	return NewActionResult(c.id, res, nil)
}

func (c *Channel) subscribe(sess *session.Session) {
	s := c.proc.State()
	if s.Away(sess.UserID) {
		delete(c.grace, sess.UserID)
		if d, changed, err := c.proc.SetAway(sess.UserID, false); err == nil && changed {
			c.logger.Info("player reconnected", zap.String("user_id", sess.UserID))
			c.publish(d, "")
		}
	}
	c.subs[sess.ID] = sess
	c.send(sess, NewSnapshotMessage(c.id, s.Snapshot()))
}

// disconnected reacts to a user losing a session. Only the loss of the
// user's last session matters.
func (c *Channel) disconnected(userID string) {
	for _, sess := range c.subs {
		if sess.UserID == userID {
			return
		}
	}
	if !c.proc.State().Has(userID) {
		return
	}
	if c.cfg.ReconnectGrace <= 0 {
		if d, err := c.proc.Leave(userID); err == nil {
			c.logger.Info("player disconnected", zap.String("user_id", userID))
			c.publish(d, userID)
		}
		return
	}

	d, changed, err := c.proc.SetAway(userID, true)
	if err != nil || !changed {
		return
	}
	c.logger.Info("player away", zap.String("user_id", userID), zap.Duration("grace", c.cfg.ReconnectGrace))
	c.publish(d, "")

	c.graceSeq++
	token := c.graceSeq
	c.grace[userID] = token
	time.AfterFunc(c.cfg.ReconnectGrace, func() {
		_ = c.post(context.Background(), graceExpired{userID: userID, token: token})
	})
}

func (c *Channel) timeoutTurn() {
	active := c.proc.State().Active()
	if active == "" {
		return
	}
	_, d, err := c.proc.Apply(command.Command{ActorUserID: active, Verb: command.VerbEndTurn, Synthetic: true})
	if err != nil {
		c.logger.Warn("turn timeout", zap.String("user_id", active), zap.Error(err))
		return
	}
	c.logger.Info("turn timed out", zap.String("user_id", active))
	c.publish(d, active)
}

func (c *Channel) driveNPC() {
	s := c.proc.State()
	active := s.Active()
	self, ok := s.Player(active)
	if !ok || !self.IsNPC {
		return
	}

	if c.policy != nil {
		if cmd, ok := c.decide(self); ok && cmd.Verb != command.VerbEndTurn {
			res, d, err := c.proc.Apply(cmd)
			if err != nil {
				c.logger.Debug("npc action rejected", zap.String("npc", self.Username), zap.Error(err))
			} else {
				c.logger.Debug("npc acted", zap.String("npc", self.Username), zap.String("result", res.Message))
				c.publish(d, active)
			}
		}
	}

	if s.Active() != active {
		return
	}
	_, d, err := c.proc.Apply(command.Command{ActorUserID: active, Verb: command.VerbEndTurn, Synthetic: true})
	if err == nil {
		c.publish(d, active)
	}
}

// decide asks the policy for self's action.
func (c *Channel) decide(self battle.Player) (command.Command, bool) {
	s := c.proc.State()
	var others []scripting.PlayerView
	for _, p := range s.Players() {
		if p.UserID == self.UserID || s.Away(p.UserID) {
			continue
		}
		view := playerView(p)
		view.Distance = hexDistance(self, p)
		if dir, ok := s.StepToward(self.Position, p.Position); ok {
			view.Toward = dir.String()
		}
		others = append(others, view)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.NPCDecisionTimeout)
	defer cancel()
	decision, err := c.policy.Decide(ctx, playerView(self), others)
	if err != nil {
		return command.Command{}, false
	}
	cmd, err := c.registry.Parse(self.UserID, decision.Command, decision.Target)
	if err != nil {
		c.logger.Debug("npc chose unknown command", zap.String("npc", self.Username), zap.String("command", decision.Command))
		return command.Command{}, false
	}
	cmd.Synthetic = true
	return cmd, true
}

// publish broadcasts d and re-arms turn timers. actor is the user whose
// request caused d, or "" for system changes.
func (c *Channel) publish(d battle.Delta, actor string) {
	c.broadcast(NewStateUpdateMessage(c.id, d))
	c.rearm(actor)
}

// rearm restarts the turn timers when the turn moved or its holder acted.
func (c *Channel) rearm(actor string) {
	s := c.proc.State()
	active := s.Active()
	if active == c.armedFor && actor != active {
		return
	}
	c.armedFor = active
	c.turnTimer.Stop()
	c.npcTimer.Stop()
	if active == "" {
		return
	}

	holder, _ := s.Player(active)
	if holder.IsNPC {
		if !c.humanEligible() {
			// Nobody to play against; resumes when a human returns.
			c.armedFor = ""
			return
		}
		c.npcTimer.Reset(c.cfg.NPCDelay, func(token uint64) {
			_ = c.post(context.Background(), npcTurn{token: token})
		})
		return
	}
	if c.cfg.TurnTimeout > 0 {
		c.turnTimer.Reset(c.cfg.TurnTimeout, func(token uint64) {
			_ = c.post(context.Background(), turnTimeout{token: token})
		})
	}
}

func (c *Channel) humanEligible() bool {
	s := c.proc.State()
	for _, p := range s.Players() {
		if !p.IsNPC && p.Alive() && !s.Away(p.UserID) {
			return true
		}
	}
	return false
}

// broadcast encodes msg once and pushes it to every subscriber. Subscribers
// whose outbox is full are dropped so they resync via snapshot.
func (c *Channel) broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encoding broadcast", zap.Error(err))
		return
	}
	var dropped []*session.Session
	for _, sess := range c.subs {
		if err := sess.Outbox.Push(data); err != nil {
			dropped = append(dropped, sess)
		}
	}
	for _, sess := range dropped {
		c.drop(sess)
	}
}

// send pushes msg to one subscriber.
func (c *Channel) send(sess *session.Session, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encoding message", zap.Error(err))
		return
	}
	if err := sess.Outbox.Push(data); err != nil {
		c.drop(sess)
	}
}

func (c *Channel) drop(sess *session.Session) {
	if _, ok := c.subs[sess.ID]; !ok {
		return
	}
	c.logger.Warn("dropping slow subscriber", zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
	delete(c.subs, sess.ID)
	sess.Outbox.Close()
	c.disconnected(sess.UserID)
}

func (c *Channel) shutdown() {
	if c.onExit != nil {
		c.onExit(c)
	}
	c.turnTimer.Stop()
	c.npcTimer.Stop()
	for _, sess := range c.subs {
		sess.Outbox.Close()
	}
	c.logger.Info("channel closed")
	close(c.done)
}

func playerView(p battle.Player) scripting.PlayerView {
	return scripting.PlayerView{
		UserID:      p.UserID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Q:           p.Position.Q,
		R:           p.Position.R,
		Health:      p.Health,
		MaxHealth:   p.MaxHealth,
		IsNPC:       p.IsNPC,
	}
}

func hexDistance(a, b battle.Player) int {
	return hex.Distance(a.Position, b.Position)
}
