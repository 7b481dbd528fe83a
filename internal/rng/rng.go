// Package rng provides the single randomness source shared by dataset
// sampling and model regularization. Scoped reseeding lets validation run
// under a fixed generator without disturbing training's own stream.
package rng

import "math/rand"

// Source is a stack of generators. The top of the stack is the active
// generator; Fix pushes a fixed-seed generator for the duration of a scope.
type Source struct {
	stack []*rand.Rand
}

// New returns a Source seeded for the run.
func New(seed int64) *Source {
	return &Source{stack: []*rand.Rand{rand.New(rand.NewSource(seed))}}
}

// Rand returns the active generator.
func (s *Source) Rand() *rand.Rand {
	return s.stack[len(s.stack)-1]
}

// Fix pushes a generator with the given seed and returns a restore func.
// The restore func must be called on every exit path of the scope, typically
// via defer, so the prior generator resumes exactly where it left off.
func (s *Source) Fix(seed int64) (restore func()) {
	s.stack = append(s.stack, rand.New(rand.NewSource(seed)))
	depth := len(s.stack)
	return func() {
		if len(s.stack) != depth {
			panic("rng: unbalanced Fix/restore")
		}
		s.stack = s.stack[:depth-1]
	}
}
