package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/okian/loudsound/internal/domain/model"
)

func ids(entries []Entry) []model.SongID {
	out := make([]model.SongID, len(entries))
	for i, e := range entries {
		out[i] = e.SongID
	}
	return out
}

func equalIDs(a []model.SongID, b ...model.SongID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTreapStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	if count := store.Count(ctx); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	changed, err := store.Upsert(ctx, "song1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("expected insert to change the ordering")
	}
	if count := store.Count(ctx); count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	entry, err := store.Rank(ctx, "song1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 1 || entry.Listens != 3 {
		t.Errorf("expected rank 1 with 3 listens, got %+v", entry)
	}

	entries, err := store.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].SongID != "song1" {
		t.Errorf("unexpected top entries %+v", entries)
	}
}

func TestTreapStore_UnchangedUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	_, _ = store.Upsert(ctx, "song1", 5)
	v := store.Version()

	changed, err := store.Upsert(ctx, "song1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("same listen count must not change the ordering")
	}
	if store.Version() != v {
		t.Errorf("version moved from %d to %d", v, store.Version())
	}
}

func TestTreapStore_Ordering(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	for i, listens := range []uint64{1, 7, 3, 9, 5} {
		if _, err := store.Upsert(ctx, model.SongID(fmt.Sprintf("s%d", i)), listens); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	top, err := store.TopN(ctx, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(top); !equalIDs(got, "s3", "s1", "s4") {
		t.Errorf("unexpected order %v", got)
	}
	for i, e := range top {
		if e.Rank != i+1 {
			t.Errorf("entry %d has rank %d", i, e.Rank)
		}
	}
}

func TestTreapStore_TieBreaking(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	// equal listens: first created wins
	_, _ = store.Upsert(ctx, "zeta", 0)
	_, _ = store.Upsert(ctx, "alpha", 0)
	_, _ = store.Upsert(ctx, "mid", 0)

	all := store.Snapshot(ctx)
	if got := ids(all); !equalIDs(got, "zeta", "alpha", "mid") {
		t.Errorf("expected creation order, got %v", got)
	}

	// reaching a count later ranks behind those already there
	_, _ = store.Upsert(ctx, "mid", 2)
	_, _ = store.Upsert(ctx, "zeta", 2)
	all = store.Snapshot(ctx)
	if got := ids(all); !equalIDs(got, "mid", "zeta", "alpha") {
		t.Errorf("expected mid before zeta, got %v", got)
	}
}

func TestTreapStore_Stability(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	_, _ = store.Upsert(ctx, "a", 4)
	_, _ = store.Upsert(ctx, "b", 4)
	_, _ = store.Upsert(ctx, "c", 1)

	// an unrelated change keeps the relative order of a and b
	_, _ = store.Upsert(ctx, "c", 2)
	all := store.Snapshot(ctx)
	if got := ids(all); !equalIDs(got, "a", "b", "c") {
		t.Errorf("unexpected order %v", got)
	}
}

func TestTreapStore_Remove(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	_, _ = store.Upsert(ctx, "a", 3)
	_, _ = store.Upsert(ctx, "b", 2)
	_, _ = store.Upsert(ctx, "c", 1)

	if !store.Remove(ctx, "b") {
		t.Fatal("expected b to be removed")
	}
	if store.Remove(ctx, "b") {
		t.Error("second remove must report false")
	}
	if _, err := store.Rank(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	entry, err := store.Rank(ctx, "c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 2 {
		t.Errorf("expected c to move up to rank 2, got %d", entry.Rank)
	}
}

func TestTreapStore_EdgeCases(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	if _, err := store.TopN(ctx, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
	if _, err := store.Upsert(ctx, "", 1); !errors.Is(err, ErrEmptyID) {
		t.Errorf("expected ErrEmptyID, got %v", err)
	}
	top, err := store.TopN(ctx, 5)
	if err != nil || len(top) != 0 {
		t.Errorf("expected empty top, got %v, %v", top, err)
	}
	if _, ok := store.Listens(ctx, "missing"); ok {
		t.Error("unknown song must not report listens")
	}
}

// TestTreapStore_RankCorrectnessUnderStress checks Rank and Snapshot against
// a sorted reference after many random updates.
func TestTreapStore_RankCorrectnessUnderStress(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(WithSeed(42))
	rng := rand.New(rand.NewSource(7))

	type ref struct {
		id      model.SongID
		listens uint64
		stamp   uint64
	}
	refs := map[model.SongID]*ref{}
	var stamp uint64

	for i := 0; i < 5000; i++ {
		id := model.SongID(fmt.Sprintf("s%d", rng.Intn(300)))
		r, ok := refs[id]
		if ok && rng.Intn(10) == 0 {
			store.Remove(ctx, id)
			delete(refs, id)
			continue
		}
		listens := uint64(rng.Intn(50))
		if !ok {
			r = &ref{id: id}
			refs[id] = r
		} else if r.listens == listens {
			continue
		}
		stamp++
		r.listens, r.stamp = listens, stamp
		if _, err := store.Upsert(ctx, id, listens); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := make([]*ref, 0, len(refs))
	for _, r := range refs {
		want = append(want, r)
	}
	sort.Slice(want, func(i, j int) bool {
		if want[i].listens != want[j].listens {
			return want[i].listens > want[j].listens
		}
		return want[i].stamp < want[j].stamp
	})

	got := store.Snapshot(ctx)
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].SongID != want[i].id {
			t.Fatalf("position %d: expected %s, got %s", i+1, want[i].id, got[i].SongID)
		}
		e, err := store.Rank(ctx, want[i].id)
		if err != nil || e.Rank != i+1 {
			t.Fatalf("rank of %s: expected %d, got %d (%v)", want[i].id, i+1, e.Rank, err)
		}
	}
}

func TestTreapStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := model.SongID(fmt.Sprintf("w%d-s%d", w, i%20))
				_, _ = store.Upsert(ctx, id, uint64(i))
				_, _ = store.TopN(ctx, 5)
				_, _ = store.Rank(ctx, id)
			}
		}(w)
	}
	wg.Wait()

	if count := store.Count(ctx); count != 160 {
		t.Errorf("expected 160 songs, got %d", count)
	}
}

func BenchmarkTreapStore_Upsert(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Upsert(ctx, model.SongID(fmt.Sprintf("s%d", i%10000)), uint64(i))
	}
}

func BenchmarkTreapStore_TopN(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore()
	for i := 0; i < 100000; i++ {
		_, _ = store.Upsert(ctx, model.SongID(fmt.Sprintf("s%d", i)), uint64(i%997))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.TopN(ctx, 10)
	}
}

func BenchmarkTreapStore_Rank(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore()
	for i := 0; i < 100000; i++ {
		_, _ = store.Upsert(ctx, model.SongID(fmt.Sprintf("s%d", i)), uint64(i%997))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Rank(ctx, model.SongID(fmt.Sprintf("s%d", i%100000)))
	}
}
