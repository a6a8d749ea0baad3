package model

import (
	"fmt"
	"time"

	"github.com/okian/loudsound/internal/domain/clock"
)

// Forever marks a kind whose events never expire.
const Forever time.Duration = 0

// Default time-to-live per event kind.
const (
	DefaultLikeWindow    = 24 * time.Hour
	DefaultSessionTTL    = 24 * time.Hour
	DefaultHistoryWindow = 48 * time.Hour
	DefaultPopularityTTL = 20 * time.Hour
)

// TTLPolicy maps each event kind to its time-to-live. Kinds that are missing
// or mapped to Forever never expire.
type TTLPolicy map[Kind]time.Duration

// DefaultTTLPolicy returns the default expiry table.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		KindLiked:            DefaultLikeWindow,
		KindListeningStarted: DefaultSessionTTL,
		KindListeningEnded:   DefaultSessionTTL,
		KindSkipped:          DefaultHistoryWindow,
		KindListened:         DefaultHistoryWindow,
		KindBecamePopular:    DefaultPopularityTTL,
		KindEnteredTopN:      Forever,
		KindStatusChanged:    Forever,
	}
}

// Validate rejects negative lifetimes.
func (p TTLPolicy) Validate() error {
	for k, d := range p {
		if d < 0 {
			return fmt.Errorf("%w: negative ttl %s for %s", ErrInvalidValue, d, k)
		}
	}
	return nil
}

// Clone returns an independent copy of the policy.
func (p TTLPolicy) Clone() TTLPolicy {
	out := make(TTLPolicy, len(p))
	for k, d := range p {
		out[k] = d
	}
	return out
}

// ExpiresAt returns when e stops being live and whether it expires at all.
func (p TTLPolicy) ExpiresAt(e Event) (clock.Time, bool) {
	d := p[e.Kind]
	if d == Forever {
		return 0, false
	}
	return e.OccurredAt.Add(d), true
}

// Live reports whether e is still live at now.
func (p TTLPolicy) Live(e Event, now clock.Time) bool {
	at, expires := p.ExpiresAt(e)
	return !expires || now.Before(at)
}
