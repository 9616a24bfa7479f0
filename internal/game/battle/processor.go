package battle

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/hexbattle/internal/game/command"
	"github.com/cory-johannsen/hexbattle/internal/game/dice"
	"github.com/cory-johannsen/hexbattle/internal/game/hex"
)

// Rules holds the numeric tuning of a battle.
type Rules struct {
	MaxHealth    int
	AttackDamage int
	HealAmount   int
}

// DefaultRules returns the stock tuning.
func DefaultRules() Rules {
	return Rules{MaxHealth: 100, AttackDamage: 10, HealAmount: 15}
}

// Result is the issuer-facing outcome of an accepted command.
type Result struct {
	Message string
}

// Processor validates and applies commands to a State. It is the only
// mutator of State.
//
// Processor is not safe for concurrent use.
type Processor struct {
	state  *State
	rules  Rules
	rng    dice.Source
	logger *zap.Logger
}

// NewProcessor creates a Processor over state.
//
// Precondition: state and rng must be non-nil.
func NewProcessor(state *State, rules Rules, rng dice.Source, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{state: state, rules: rules, rng: rng, logger: logger}
}

// State returns the processed state for read access.
func (p *Processor) State() *State { return p.state }

// Rules returns the battle tuning.
func (p *Processor) Rules() Rules { return p.rules }

// Join spawns a new member on a random free tile and appends it to the
// rotation.
//
// Usernames are unique within a battle since attacks name their target by
// username.
//
// Postcondition: on success the member is placed on a previously free tile
// with full health; the active turn holder is unchanged unless the rotation
// just started or was stalled.
func (p *Processor) Join(id Identity) (Player, Delta, error) {
	s := p.state
	if _, ok := s.players[id.UserID]; ok {
		return Player{}, Delta{}, command.Reject(command.AlreadyJoined, "%s is already in the battle", id.UserID)
	}
	if s.byUsername(id.Username) != nil {
		return Player{}, Delta{}, command.Reject(command.AlreadyJoined, "username %q is already taken in this battle", id.Username)
	}
	free := s.freeTiles()
	if len(free) == 0 {
		return Player{}, Delta{}, command.Reject(command.NoSpawnAvailable, "no free tile to spawn on")
	}

	maxHealth := id.MaxHealth
	if maxHealth <= 0 {
		maxHealth = p.rules.MaxHealth
	}
	display := id.DisplayName
	if display == "" {
		display = id.Username
	}
	player := &Player{
		UserID:      id.UserID,
		Username:    id.Username,
		DisplayName: display,
		Position:    dice.Pick(p.rng, free),
		Health:      maxHealth,
		MaxHealth:   maxHealth,
		IsNPC:       id.IsNPC,
	}

	before := s.viewTurn()
	s.players[player.UserID] = player
	s.turns.Add(player.UserID, s.eligible)
	d := s.commit(before, []string{player.UserID}, nil)

	p.logger.Debug("player joined",
		zap.String("user_id", player.UserID),
		zap.Stringer("position", player.Position),
		zap.Bool("npc", player.IsNPC),
	)
	return *player, d, nil
}

// Leave removes a member. If the member held the turn it is forfeited.
//
// Postcondition: on success !State().Has(userID).
func (p *Processor) Leave(userID string) (Delta, error) {
	s := p.state
	if _, ok := s.players[userID]; !ok {
		return Delta{}, command.Reject(command.NotInBattle, "%s is not in the battle", userID)
	}
	before := s.viewTurn()
	s.turns.Remove(userID, s.eligible)
	delete(s.players, userID)
	delete(s.away, userID)
	d := s.commit(before, nil, []string{userID})

	p.logger.Debug("player left", zap.String("user_id", userID))
	return d, nil
}

// SetAway marks a member disconnected (away=true) or reconnected. An away
// member holding the turn forfeits it; a returning member resumes a stalled
// rotation.
//
// Postcondition: changed is false and the Delta is zero when the flag
// already had the requested value.
func (p *Processor) SetAway(userID string, away bool) (d Delta, changed bool, err error) {
	s := p.state
	if _, ok := s.players[userID]; !ok {
		return Delta{}, false, command.Reject(command.NotInBattle, "%s is not in the battle", userID)
	}
	if s.away[userID] == away {
		return Delta{}, false, nil
	}
	before := s.viewTurn()
	if away {
		s.away[userID] = true
		if s.turns.Active() == userID {
			s.turns.Advance(s.eligible)
		}
	} else {
		delete(s.away, userID)
		s.turns.Resume(s.eligible)
	}
	return s.commit(before, nil, nil), true, nil
}

// Apply validates cmd against the current state and, if legal, applies it.
//
// Postcondition: on error the state is unchanged and the error is a
// *command.Rejection; on success exactly one Delta is produced.
func (p *Processor) Apply(cmd command.Command) (Result, Delta, error) {
	s := p.state
	actor, ok := s.players[cmd.ActorUserID]
	if !ok {
		return Result{}, Delta{}, command.Reject(command.NotInBattle, "%s is not in the battle", cmd.ActorUserID)
	}
	if s.turns.Active() != actor.UserID {
		return Result{}, Delta{}, command.Reject(command.NotYourTurn, "it is not your turn")
	}

	before := s.viewTurn()
	var (
		res     Result
		changed []string
	)
	switch {
	case cmd.Verb.IsMove():
		dir, _ := cmd.Verb.Direction()
		dest := hex.Step(actor.Position, dir)
		if !hex.InBounds(dest, s.layout.Width, s.layout.Height) {
			return Result{}, Delta{}, command.Reject(command.OutOfBounds, "%s is outside the battlefield", dest)
		}
		if s.Blocked(dest) {
			return Result{}, Delta{}, command.Reject(command.TileBlocked, "tile %s is blocked", dest)
		}
		actor.Position = dest
		res.Message = fmt.Sprintf("moved %s to %s", dir, dest)
		changed = []string{actor.UserID}

	case cmd.Verb == command.VerbAttack:
		target, err := p.resolveTarget(actor, cmd)
		if err != nil {
			return Result{}, Delta{}, err
		}
		target.ApplyDamage(p.rules.AttackDamage)
		res.Message = fmt.Sprintf("attacked %s for %d damage", target.DisplayName, p.rules.AttackDamage)
		if !target.Alive() {
			res.Message += fmt.Sprintf("; %s has fallen", target.DisplayName)
		}
		changed = []string{target.UserID}

	case cmd.Verb == command.VerbHeal:
		prev := actor.Health
		actor.Heal(p.rules.HealAmount)
		res.Message = fmt.Sprintf("healed %d health", actor.Health-prev)
		changed = []string{actor.UserID}

	case cmd.Verb == command.VerbEndTurn:
		next := s.turns.Advance(s.eligible)
		res.Message = "turn ended"
		if next != "" && next != actor.UserID {
			if np, ok := s.players[next]; ok {
				res.Message = fmt.Sprintf("turn ended; %s to act", np.DisplayName)
			}
		}

	default:
		return Result{}, Delta{}, command.Reject(command.UnknownCommand, "unknown command %q", cmd.Verb)
	}

	d := s.commit(before, changed, nil)
	p.logger.Debug("command applied",
		zap.String("user_id", actor.UserID),
		zap.Stringer("verb", cmd.Verb),
		zap.Bool("synthetic", cmd.Synthetic),
		zap.Uint64("seq", d.Seq),
	)
	return res, d, nil
}

// resolveTarget finds the attack target and checks it is a living adjacent
// other member.
func (p *Processor) resolveTarget(actor *Player, cmd command.Command) (*Player, error) {
	s := p.state
	var target *Player
	switch {
	case cmd.TargetUserID != "":
		target = s.players[cmd.TargetUserID]
	case cmd.TargetUsername != "":
		target = s.byUsername(cmd.TargetUsername)
	default:
		return nil, command.Reject(command.InvalidTarget, "attack requires a target")
	}
	if target == nil {
		return nil, command.Reject(command.InvalidTarget, "no such player in the battle")
	}
	if target.UserID == actor.UserID {
		return nil, command.Reject(command.InvalidTarget, "cannot attack yourself")
	}
	if !target.Alive() {
		return nil, command.Reject(command.TargetDead, "%s has already fallen", target.DisplayName)
	}
	if hex.Distance(actor.Position, target.Position) != 1 {
		return nil, command.Reject(command.TargetOutOfRange, "%s is not adjacent", target.DisplayName)
	}
	return target, nil
}
