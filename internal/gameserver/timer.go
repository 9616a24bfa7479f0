package gameserver

import (
	"sync"
	"time"
)

// TurnTimer fires a callback after a configurable duration unless stopped or
// re-armed. Each arming carries a token; a callback from an earlier arming
// that races with Reset or Stop is suppressed. It is safe for concurrent use.
type TurnTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	token uint64
}

// Reset cancels any pending callback and arms a new one.
//
// Precondition: duration >= 0; onFire must not be nil.
// Postcondition: onFire(token) will be called after duration from now unless
// Stop or Reset is called first. The returned token identifies this arming.
func (tt *TurnTimer) Reset(duration time.Duration, onFire func(token uint64)) uint64 {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if tt.timer != nil {
		tt.timer.Stop()
	}
	tt.token++
	token := tt.token
	tt.timer = time.AfterFunc(duration, func() {
		tt.mu.Lock()
		current := tt.token == token
		tt.mu.Unlock()
		if current {
			onFire(token)
		}
	})
	return token
}

// Stop prevents any pending callback from firing. Safe to call multiple times.
//
// Postcondition: no callback armed before Stop will be called after Stop returns.
func (tt *TurnTimer) Stop() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.token++
	if tt.timer != nil {
		tt.timer.Stop()
	}
}

// Current reports whether token identifies the latest arming.
func (tt *TurnTimer) Current(token uint64) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.token == token
}
