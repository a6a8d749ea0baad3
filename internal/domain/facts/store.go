// Package facts implements the working memory of the rule engine.
//
// The store holds songs and events in insertion order. Events expire lazily:
// queries skip anything past its time-to-live, and Sweep drops expired events
// for good. The store is not safe for concurrent use.
package facts

import (
	"fmt"

	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/model"
)

// Handle identifies one stored fact. Handles are never reused.
type Handle uint64

// Entry pairs a fact with its handle.
type Entry struct {
	Handle Handle
	Fact   model.Fact
}

// EventEntry pairs an event with its handle.
type EventEntry struct {
	Handle Handle
	Event  model.Event
}

type indexKey struct {
	kind model.Kind
	song model.SongID
}

// Store is the fact store.
type Store struct {
	clock *clock.Clock
	ttl   model.TTLPolicy

	next     Handle
	revision uint64

	facts map[Handle]model.Fact
	songs map[model.SongID]Handle

	// ordered handle lists; removed handles are skipped and compacted lazily
	all    []Handle
	byKind map[model.Kind][]Handle
	index  map[indexKey][]Handle
	stale  int

	// events held per kind, expired or not
	held map[model.Kind]int
}

// New creates an empty store reading time from c and expiry from ttl.
func New(c *clock.Clock, ttl model.TTLPolicy) *Store {
	if ttl == nil {
		ttl = model.DefaultTTLPolicy()
	}
	return &Store{
		clock:  c,
		ttl:    ttl,
		facts:  make(map[Handle]model.Fact),
		songs:  make(map[model.SongID]Handle),
		byKind: make(map[model.Kind][]Handle),
		index:  make(map[indexKey][]Handle),
		held:   make(map[model.Kind]int),
	}
}

// TTL returns the expiry policy in use.
func (s *Store) TTL() model.TTLPolicy { return s.ttl }

// Now returns the store's current logical time.
func (s *Store) Now() clock.Time { return s.clock.Now() }

// Revision increases on every insert, remove and modification.
func (s *Store) Revision() uint64 { return s.revision }

// Len returns the number of stored facts, expired events included until swept.
func (s *Store) Len() int { return len(s.facts) }

// Insert adds a fact and returns its handle. A song whose id is already
// stored is rejected with ErrDuplicateSong.
func (s *Store) Insert(f model.Fact) (Handle, error) {
	switch v := f.(type) {
	case *model.Song:
		if v == nil {
			return 0, fmt.Errorf("insert song: %w", ErrNilFact)
		}
		if _, ok := s.songs[v.ID]; ok {
			return 0, fmt.Errorf("insert song %s: %w", v.ID, ErrDuplicateSong)
		}
		h := s.alloc(f)
		s.songs[v.ID] = h
		return h, nil
	case model.Event:
		h := s.alloc(f)
		s.byKind[v.Kind] = append(s.byKind[v.Kind], h)
		k := indexKey{kind: v.Kind, song: v.SongID}
		s.index[k] = append(s.index[k], h)
		s.held[v.Kind]++
		return h, nil
	case nil:
		return 0, fmt.Errorf("insert: %w", ErrNilFact)
	}
	return 0, fmt.Errorf("insert %T: %w", f, ErrUnsupportedFact)
}

func (s *Store) alloc(f model.Fact) Handle {
	s.next++
	h := s.next
	s.facts[h] = f
	s.all = append(s.all, h)
	s.revision++
	return h
}

// Remove deletes the fact behind h. It reports whether anything was removed.
func (s *Store) Remove(h Handle) bool {
	f, ok := s.facts[h]
	if !ok {
		return false
	}
	delete(s.facts, h)
	switch v := f.(type) {
	case *model.Song:
		delete(s.songs, v.ID)
	case model.Event:
		s.held[v.Kind]--
	}
	s.revision++
	s.stale++
	if s.stale > 64 && s.stale > len(s.facts) {
		s.compact()
	}
	return true
}

// RemoveSong deletes a song by id.
func (s *Store) RemoveSong(id model.SongID) bool {
	h, ok := s.songs[id]
	if !ok {
		return false
	}
	return s.Remove(h)
}

// Get returns the fact behind h, or false when it was removed or has expired.
func (s *Store) Get(h Handle) (model.Fact, bool) {
	f, ok := s.facts[h]
	if !ok {
		return nil, false
	}
	if ev, isEvent := f.(model.Event); isEvent && !s.ttl.Live(ev, s.clock.Now()) {
		return nil, false
	}
	return f, true
}

// Live reports whether h still refers to a live fact.
func (s *Store) Live(h Handle) bool {
	_, ok := s.Get(h)
	return ok
}

// SongCount returns the number of songs held.
func (s *Store) SongCount() int { return len(s.songs) }

// Held returns the number of events of kind held, including expired events
// that have not been swept.
func (s *Store) Held(kind model.Kind) int { return s.held[kind] }

// Song returns the live song value for id. Callers that change it must go
// through Modify.
func (s *Store) Song(id model.SongID) (*model.Song, bool) {
	h, ok := s.songs[id]
	if !ok {
		return nil, false
	}
	song, _ := s.facts[h].(*model.Song)
	return song, song != nil
}

// SongHandle returns the handle of the song with the given id.
func (s *Store) SongHandle(id model.SongID) (Handle, bool) {
	h, ok := s.songs[id]
	return h, ok
}

// Songs returns all songs in insertion order.
func (s *Store) Songs() []*model.Song {
	out := make([]*model.Song, 0, len(s.songs))
	for _, h := range s.all {
		if song, ok := s.facts[h].(*model.Song); ok {
			out = append(out, song)
		}
	}
	return out
}

// Modify applies fn to the song with the given id and bumps its revision.
func (s *Store) Modify(id model.SongID, fn func(*model.Song)) bool {
	song, ok := s.Song(id)
	if !ok {
		return false
	}
	fn(song)
	song.Touch()
	s.revision++
	return true
}

// Events returns live events of kind, in insertion order, that satisfy pred.
// A nil pred matches everything.
func (s *Store) Events(kind model.Kind, pred func(model.Event) bool) []EventEntry {
	return s.collect(s.byKind[kind], pred)
}

// SongEvents returns live events of kind recorded against song.
func (s *Store) SongEvents(kind model.Kind, song model.SongID, pred func(model.Event) bool) []EventEntry {
	return s.collect(s.index[indexKey{kind: kind, song: song}], pred)
}

// Count returns the number of live events of kind for song satisfying pred.
func (s *Store) Count(kind model.Kind, song model.SongID, pred func(model.Event) bool) int {
	now := s.clock.Now()
	n := 0
	for _, h := range s.index[indexKey{kind: kind, song: song}] {
		ev, ok := s.facts[h].(model.Event)
		if !ok || !s.ttl.Live(ev, now) {
			continue
		}
		if pred == nil || pred(ev) {
			n++
		}
	}
	return n
}

func (s *Store) collect(hs []Handle, pred func(model.Event) bool) []EventEntry {
	now := s.clock.Now()
	var out []EventEntry
	for _, h := range hs {
		ev, ok := s.facts[h].(model.Event)
		if !ok || !s.ttl.Live(ev, now) {
			continue
		}
		if pred == nil || pred(ev) {
			out = append(out, EventEntry{Handle: h, Event: ev})
		}
	}
	return out
}

// Query returns every live fact satisfying pred, in insertion order.
func (s *Store) Query(pred func(Entry) bool) []Entry {
	now := s.clock.Now()
	var out []Entry
	for _, h := range s.all {
		f, ok := s.facts[h]
		if !ok {
			continue
		}
		if ev, isEvent := f.(model.Event); isEvent && !s.ttl.Live(ev, now) {
			continue
		}
		e := Entry{Handle: h, Fact: f}
		if pred == nil || pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Sweep drops every expired event and returns how many were dropped.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	dropped := 0
	for h, f := range s.facts {
		ev, ok := f.(model.Event)
		if !ok || s.ttl.Live(ev, now) {
			continue
		}
		delete(s.facts, h)
		s.held[ev.Kind]--
		dropped++
	}
	if dropped > 0 {
		s.revision++
		s.stale += dropped
		s.compact()
	}
	return dropped
}

func (s *Store) compact() {
	s.all = s.keep(s.all)
	for k, hs := range s.byKind {
		s.byKind[k] = s.keep(hs)
	}
	for k, hs := range s.index {
		if kept := s.keep(hs); len(kept) > 0 {
			s.index[k] = kept
		} else {
			delete(s.index, k)
		}
	}
	s.stale = 0
}

func (s *Store) keep(hs []Handle) []Handle {
	out := hs[:0]
	for _, h := range hs {
		if _, ok := s.facts[h]; ok {
			out = append(out, h)
		}
	}
	return out
}
