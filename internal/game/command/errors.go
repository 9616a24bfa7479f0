package command

import (
	"errors"
	"fmt"
)

// ErrorKind names a category of rejected request. Kinds are sent verbatim to
// clients in action_result.error.
type ErrorKind string

const (
	NotYourTurn      ErrorKind = "NotYourTurn"
	OutOfBounds      ErrorKind = "OutOfBounds"
	TileBlocked      ErrorKind = "TileBlocked"
	NoPathFound      ErrorKind = "NoPathFound"
	InvalidTarget    ErrorKind = "InvalidTarget"
	TargetOutOfRange ErrorKind = "TargetOutOfRange"
	TargetDead       ErrorKind = "TargetDead"
	UnknownCommand   ErrorKind = "UnknownCommand"
	NoSpawnAvailable ErrorKind = "NoSpawnAvailable"
	NotInBattle      ErrorKind = "NotInBattle"
	AlreadyJoined    ErrorKind = "AlreadyJoined"
	NotChannelMember ErrorKind = "NotChannelMember"
)

// Rejection is a typed, recoverable refusal of a request. A rejected request
// leaves battle state unchanged.
type Rejection struct {
	Kind    ErrorKind
	Message string
}

// Error implements error.
func (r *Rejection) Error() string {
	if r.Message == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// Reject builds a Rejection with a formatted message.
func Reject(kind ErrorKind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err.
//
// Postcondition: ok is false when err does not wrap a *Rejection.
func KindOf(err error) (ErrorKind, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Kind, true
	}
	return "", false
}
