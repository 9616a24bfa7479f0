// Package dice provides the randomness abstraction used wherever the server
// makes a random choice, such as spawn placement.
package dice

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
)

// Source is the randomness provider.
//
// Implementations must return values uniformly distributed in [0, n).
type Source interface {
	Intn(n int) int
}

// Pick returns a uniformly chosen element of items.
//
// Precondition: len(items) > 0; src must be non-nil.
// Postcondition: the returned element is a member of items.
func Pick[T any](src Source, items []T) T {
	return items[src.Intn(len(items))]
}

// SequenceSource replays a fixed list of values, wrapping when exhausted.
// Each value is reduced modulo n. It exists so callers can make random
// choices deterministic in tests. It is safe for concurrent use.
type SequenceSource struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewSequenceSource returns a SequenceSource over values. An empty list
// always yields 0.
func NewSequenceSource(values ...int) *SequenceSource {
	return &SequenceSource{values: values}
}

// Intn returns the next value of the sequence modulo n.
//
// Precondition: n > 0.
func (s *SequenceSource) Intn(n int) int {
	requirePositive(n)
	if len(s.values) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

// CryptoSource draws from crypto/rand so spawn tiles cannot be predicted from
// earlier spawns. The zero value is ready to use and safe for concurrent use
// by every channel.
type CryptoSource struct{}

// NewCryptoSource returns the production Source.
func NewCryptoSource() Source { return CryptoSource{} }

// Intn returns a uniform value in [0, n).
//
// Precondition: n > 0. A crypto/rand read failure panics; spawn placement
// has no sensible fallback.
func (CryptoSource) Intn(n int) int {
	requirePositive(n)
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("dice: reading crypto/rand: %v", err))
	}
	return int(v.Int64())
}

func requirePositive(n int) {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
}
