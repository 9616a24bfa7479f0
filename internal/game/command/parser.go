package command

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseVerb resolves raw client text such as "move_east", "E" or " end " into a
// Verb. Matching is case-insensitive and ignores surrounding whitespace.
//
// Postcondition: Returns VerbUnknown and false when raw names no registered command.
func (r *Registry) ParseVerb(raw string) (Verb, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return VerbUnknown, false
	}
	def, ok := r.Resolve(name)
	if !ok {
		return VerbUnknown, false
	}
	return def.Verb, true
}

// Parse builds a Command for actorID from raw client fields.
//
// Postcondition: Returns a Command with a valid Verb, or an error of kind
// UnknownCommand. Attack commands carry the trimmed target username.
func (r *Registry) Parse(actorID, raw, targetUsername string) (Command, error) {
	verb, ok := r.ParseVerb(raw)
	if !ok {
		return Command{}, &Rejection{Kind: UnknownCommand, Message: "unknown command " + quote(raw)}
	}
	cmd := Command{ActorUserID: actorID, Verb: verb}
	if verb == VerbAttack {
		cmd.TargetUsername = strings.TrimSpace(targetUsername)
	}
	return cmd, nil
}

// quote shortens s to at most 32 runes for an error message.
func quote(s string) string {
	const limit = 32
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit]) + "..."
	}
	return strconv.Quote(s)
}
