package model

import (
	"fmt"
	"strings"

	"github.com/okian/loudsound/internal/domain/clock"
)

// Fact is anything held in working memory: a *Song or an Event.
// The unexported marker method keeps the set closed.
type Fact interface {
	isFact()
}

// Kind tags an Event variant.
type Kind uint8

// Event variants. The zero Kind is invalid.
const (
	KindUnknown Kind = iota
	KindLiked
	KindListeningStarted
	KindListeningEnded
	KindSkipped
	KindListened
	KindBecamePopular
	KindEnteredTopN
	KindStatusChanged
)

var kindNames = [...]string{
	KindUnknown:          "unknown",
	KindLiked:            "liked",
	KindListeningStarted: "listening_started",
	KindListeningEnded:   "listening_ended",
	KindSkipped:          "skipped",
	KindListened:         "listened",
	KindBecamePopular:    "became_popular",
	KindEnteredTopN:      "entered_top_n",
	KindStatusChanged:    "status_changed",
}

// Kinds lists every valid variant in declaration order.
var Kinds = []Kind{
	KindLiked, KindListeningStarted, KindListeningEnded, KindSkipped,
	KindListened, KindBecamePopular, KindEnteredTopN, KindStatusChanged,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind parses a variant name. Dashes and case are ignored, so
// "ListeningStarted", "listening-started" and "listening_started" all match.
func ParseKind(name string) (Kind, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(name))
	for _, k := range Kinds {
		if strings.ReplaceAll(kindNames[k], "_", "") == norm {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: event kind %q", ErrInvalidValue, name)
}

// Derived reports whether only the engine may create events of this kind.
func (k Kind) Derived() bool {
	switch k {
	case KindSkipped, KindListened, KindEnteredTopN, KindStatusChanged:
		return true
	}
	return false
}

// RequiresSong reports whether events of this kind must reference an existing song.
func (k Kind) RequiresSong() bool {
	switch k {
	case KindLiked, KindListeningStarted, KindListeningEnded:
		return true
	}
	return false
}

// Event is an immutable behavioral or derived fact.
//
// Common attributes are always set; variant attributes are only meaningful for
// the kinds noted next to them.
type Event struct {
	Kind         Kind
	ID           string // optional external id for idempotent submission
	SongID       SongID
	SourceUserID string
	OccurredAt   clock.Time
	// Explicit marks OccurredAt as caller-supplied, so a zero value is the
	// epoch and not "now".
	Explicit bool

	StartedAt clock.Time // Skipped, Listened
	CauserID  string     // BecamePopular
	Rank      int        // EnteredTopN
	Revoked   bool       // EnteredTopN
	From      Status     // StatusChanged
	To        Status     // StatusChanged
}

func (Event) isFact() {}

// Validate checks the variant-specific shape of the event.
func (e Event) Validate() error {
	if e.Kind == KindUnknown || int(e.Kind) >= len(kindNames) {
		return fmt.Errorf("%w: unknown kind", ErrInvalidEvent)
	}
	if e.Kind == KindBecamePopular {
		if strings.TrimSpace(e.CauserID) == "" && e.SongID == "" {
			return fmt.Errorf("%w: became_popular needs a causer or a song", ErrInvalidEvent)
		}
		return nil
	}
	if e.SongID == "" {
		return fmt.Errorf("%w: %s needs a song id", ErrInvalidEvent, e.Kind)
	}
	return nil
}

func (e Event) String() string {
	switch e.Kind {
	case KindEnteredTopN:
		return fmt.Sprintf("%s{song=%s rank=%d revoked=%t at=%s}", e.Kind, e.SongID, e.Rank, e.Revoked, e.OccurredAt)
	case KindStatusChanged:
		return fmt.Sprintf("%s{song=%s %s->%s at=%s}", e.Kind, e.SongID, e.From, e.To, e.OccurredAt)
	case KindBecamePopular:
		return fmt.Sprintf("%s{song=%s causer=%s at=%s}", e.Kind, e.SongID, e.CauserID, e.OccurredAt)
	}
	return fmt.Sprintf("%s{song=%s user=%s at=%s}", e.Kind, e.SongID, e.SourceUserID, e.OccurredAt)
}

// Covers reports whether a BecamePopular event applies to song s.
func (e Event) Covers(s *Song) bool {
	if e.Kind != KindBecamePopular {
		return false
	}
	if e.SongID != "" && e.SongID == s.ID {
		return true
	}
	return e.CauserID != "" && (e.CauserID == string(s.ID) || e.CauserID == s.Artist)
}

// WithTime returns a copy of e pinned to t, even when t is the epoch.
func (e Event) WithTime(t clock.Time) Event {
	e.OccurredAt = t
	e.Explicit = true
	return e
}

// Timeless reports whether e should take the engine's current time.
func (e Event) Timeless() bool {
	return e.OccurredAt == 0 && !e.Explicit
}

// Liked builds a like event.
func Liked(song SongID, user string, at clock.Time) Event {
	return Event{Kind: KindLiked, SongID: song, SourceUserID: user, OccurredAt: at}
}

// ListeningStarted builds a listen-start event.
func ListeningStarted(song SongID, user string, at clock.Time) Event {
	return Event{Kind: KindListeningStarted, SongID: song, SourceUserID: user, OccurredAt: at}
}

// ListeningEnded builds a listen-end event.
func ListeningEnded(song SongID, user string, at clock.Time) Event {
	return Event{Kind: KindListeningEnded, SongID: song, SourceUserID: user, OccurredAt: at}
}

// BecamePopular builds a popularity trigger caused by causer (an artist or song id).
func BecamePopular(causer string, at clock.Time) Event {
	return Event{Kind: KindBecamePopular, CauserID: causer, OccurredAt: at}
}
