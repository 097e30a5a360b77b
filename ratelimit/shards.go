package ratelimit

import (
	"hash"
	"hash/fnv"
	"sync"
)

const shardCount = 128

type shard[S any] struct {
	states map[string]*S
	mu     sync.Mutex
}

// shardedStates spreads per-identifier state over fnv-hashed shards so
// checks for different identifiers rarely share a lock.
type shardedStates[S any] struct {
	shards     [shardCount]*shard[S]
	hasherPool sync.Pool
}

func newShardedStates[S any]() *shardedStates[S] {
	s := &shardedStates[S]{
		hasherPool: sync.Pool{
			New: func() interface{} {
				return fnv.New32a()
			},
		},
	}

	for i := range s.shards {
		s.shards[i] = &shard[S]{states: make(map[string]*S, 64)}
	}

	return s
}

func (s *shardedStates[S]) shardFor(identifier string) *shard[S] {
	hasher := s.hasherPool.Get().(hash.Hash32)
	defer s.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(identifier))

	return s.shards[hasher.Sum32()&(shardCount-1)]
}

// with runs fn on the state for identifier under its shard lock, creating
// the state with init when absent.
func (s *shardedStates[S]) with(identifier string, init func() *S, fn func(state *S)) {
	sh := s.shardFor(identifier)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, exists := sh.states[identifier]
	if !exists {
		state = init()
		sh.states[identifier] = state
	}

	fn(state)
}

func (s *shardedStates[S]) delete(identifier string) bool {
	sh := s.shardFor(identifier)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.states[identifier]; !exists {
		return false
	}
	delete(sh.states, identifier)
	return true
}

// sweep removes every state for which drop returns true.
func (s *shardedStates[S]) sweep(drop func(state *S) bool) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for identifier, state := range sh.states {
			if drop(state) {
				delete(sh.states, identifier)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *shardedStates[S]) count() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.states)
		sh.mu.Unlock()
	}
	return total
}
