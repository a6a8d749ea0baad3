// Package repository implements the ranking store behind the leaderboard.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: listens DESC, then stamp ASC. A song gets a fresh stamp whenever
// it is inserted or its listen count changes, so among equal listen counts the
// song that reached that count first ranks earlier and untouched songs keep
// their relative order. "less" means ranks earlier, which makes in-order
// traversal produce the leaderboard from best to worst.

type key struct {
	listens uint64
	stamp   uint64
}

// less returns true if a should appear before b in the leaderboard.
func less(a, b key) bool {
	if a.listens != b.listens {
		return a.listens > b.listens
	}
	return a.stamp < b.stamp
}

// treap node
type node struct {
	id    model.SongID
	key   key
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

// priority scrambles the stamp with splitmix64 so the tree stays balanced
// while remaining fully deterministic.
func priority(seed, stamp uint64) uint64 {
	z := seed + stamp*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func insert(n *node, nn *node) *node {
	if n == nil {
		return nn
	}
	if less(nn.key, n.key) {
		n.left = insert(n.left, nn)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, nn)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, k key) *node {
	if n == nil {
		return nil
	}
	if k == n.key {
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, k)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, k)
		}
	} else if less(k, n.key) {
		n.left = deleteNode(n.left, k)
	} else {
		n.right = deleteNode(n.right, k)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, Entry{
			Rank:    len(*out) + 1,
			SongID:  n.id,
			Listens: n.key.listens,
			Stamp:   n.key.stamp,
		})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// rankOf returns the 1-based position of k in the tree rooted at n.
func rankOf(n *node, k key) int {
	r := 0
	for n != nil {
		switch {
		case k == n.key:
			return r + nsize(n.left) + 1
		case less(k, n.key):
			n = n.left
		default:
			r += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

// TreapStore keeps every song ordered by listens. Safe for concurrent use.
type TreapStore struct {
	mu      sync.RWMutex
	root    *node
	byID    map[model.SongID]key
	stamp   uint64
	version uint64
	seed    uint64
}

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{
		byID: make(map[model.SongID]key),
		seed: 0x5eed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert records the listen count of a song. A new song, or a known song
// whose count changed, gets a fresh stamp. It reports whether the order changed.
func (s *TreapStore) Upsert(ctx context.Context, id model.SongID, listens uint64) (bool, error) {
	if id == "" {
		metrics.RecordErrorByComponent("repository", "empty_id")
		return false, ErrEmptyID
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.Lock()
	old, known := s.byID[id]
	if known && old.listens == listens {
		s.mu.Unlock()
		return false, nil
	}
	if known {
		s.root = deleteNode(s.root, old)
	}
	s.stamp++
	k := key{listens: listens, stamp: s.stamp}
	s.byID[id] = k
	s.root = insert(s.root, &node{id: id, key: k, prio: priority(s.seed, k.stamp), size: 1})
	s.version++
	count := len(s.byID)
	s.mu.Unlock()

	if !known {
		metrics.UpdateRepositoryRecordsTotal(count)
	}
	return true, nil
}

// Remove drops a song from the ranking. It reports whether the song was known.
func (s *TreapStore) Remove(ctx context.Context, id model.SongID) bool {
	s.mu.Lock()
	k, ok := s.byID[id]
	if ok {
		s.root = deleteNode(s.root, k)
		delete(s.byID, id)
		s.version++
	}
	count := len(s.byID)
	s.mu.Unlock()

	if ok {
		metrics.UpdateRepositoryRecordsTotal(count)
	}
	return ok
}

// Rank returns the current position and listen count for a song in O(log n).
// Returns ErrNotFound if the song is unknown.
func (s *TreapStore) Rank(ctx context.Context, id model.SongID) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.byID[id]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Entry{}, ErrNotFound
	}
	return Entry{Rank: rankOf(s.root, k), SongID: id, Listens: k.listens, Stamp: k.stamp}, nil
}

// TopN returns the first n entries in rank order.
func (s *TreapStore) TopN(ctx context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, &out)
	return out, nil
}

// Snapshot returns the full ordering of every tracked song.
func (s *TreapStore) Snapshot(ctx context.Context) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.byID))
	collectTopN(s.root, len(s.byID), &out)
	return out
}

// Listens returns the recorded listen count of a song.
func (s *TreapStore) Listens(ctx context.Context, id model.SongID) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[id]
	return k.listens, ok
}

// Count returns the total number of songs.
func (s *TreapStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Version increases on every change of the ordering.
func (s *TreapStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
