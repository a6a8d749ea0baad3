// Package journal persists the commands accepted by the engine in a SQLite
// database, so a restarted service can rebuild the same state by replaying
// them in order. It stores inputs only; engine state is always recomputed.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/metrics"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - commands table
const currentSchemaVersion = 1

// Op names a journaled engine command.
type Op string

// Journaled commands.
const (
	OpSubmitSong  Op = "submit_song"
	OpSubmitEvent Op = "submit_event"
	OpAdvance     Op = "advance"
	OpRemoveSong  Op = "remove_song"
)

// Valid reports whether o is a known command.
func (o Op) Valid() bool {
	switch o {
	case OpSubmitSong, OpSubmitEvent, OpAdvance, OpRemoveSong:
		return true
	}
	return false
}

// Record is one journaled command. Exactly one of Draft, Event and Advance is
// meaningful, depending on Op.
type Record struct {
	Seq    int64
	Op     Op
	SongID model.SongID
	// At is the logical time after the command ran.
	At         clock.Time
	Draft      *model.SongDraft
	Event      *model.Event
	Advance    time.Duration
	RecordedAt time.Time
}

// Validate checks that the record carries what its op needs.
func (r Record) Validate() error {
	switch r.Op {
	case OpSubmitSong:
		if r.Draft == nil || r.Draft.ID == "" {
			return fmt.Errorf("%w: %s needs a draft with an id", ErrInvalidRecord, r.Op)
		}
	case OpSubmitEvent:
		if r.Event == nil {
			return fmt.Errorf("%w: %s needs an event", ErrInvalidRecord, r.Op)
		}
	case OpAdvance:
		if r.Advance < 0 {
			return fmt.Errorf("%w: negative advance", ErrInvalidRecord)
		}
	case OpRemoveSong:
		if r.SongID == "" {
			return fmt.Errorf("%w: %s needs a song id", ErrInvalidRecord, r.Op)
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidRecord, r.Op)
	}
	return nil
}

// Journal is a SQLite-backed append-only command log.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal at path. ":memory:" gives a private
// in-memory journal, useful in tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	// SQLite has a single writer; one connection also keeps :memory: databases
	// from being split across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("%w: schema version %d is newer than %d", ErrSchemaVersion, version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

type draftPayload struct {
	ID       model.SongID `json:"id"`
	Artist   string       `json:"artist"`
	Title    string       `json:"title"`
	Duration string       `json:"duration,omitempty"`
	Genre    model.Genre  `json:"genre,omitempty"`
}

type eventPayload struct {
	Kind       model.Kind   `json:"kind"`
	ID         string       `json:"id,omitempty"`
	SongID     model.SongID `json:"song_id,omitempty"`
	UserID     string       `json:"user_id,omitempty"`
	OccurredAt clock.Time   `json:"occurred_at"`
	CauserID   string       `json:"causer_id,omitempty"`
}

type payload struct {
	Draft   *draftPayload `json:"draft,omitempty"`
	Event   *eventPayload `json:"event,omitempty"`
	Advance string        `json:"advance,omitempty"`
}

func encode(r Record) (string, error) {
	var p payload
	if d := r.Draft; d != nil {
		p.Draft = &draftPayload{ID: d.ID, Artist: d.Artist, Title: d.Title, Genre: d.Genre}
		if d.Duration > 0 {
			p.Draft.Duration = d.Duration.String()
		}
	}
	if e := r.Event; e != nil {
		p.Event = &eventPayload{
			Kind:       e.Kind,
			ID:         e.ID,
			SongID:     e.SongID,
			UserID:     e.SourceUserID,
			OccurredAt: e.OccurredAt,
			CauserID:   e.CauserID,
		}
	}
	if r.Op == OpAdvance {
		p.Advance = r.Advance.String()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(raw string, r *Record) error {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return err
	}
	if d := p.Draft; d != nil {
		r.Draft = &model.SongDraft{ID: d.ID, Artist: d.Artist, Title: d.Title, Genre: d.Genre}
		if d.Duration != "" {
			dur, err := time.ParseDuration(d.Duration)
			if err != nil {
				return err
			}
			r.Draft.Duration = dur
		}
	}
	if e := p.Event; e != nil {
		r.Event = &model.Event{
			Kind:         e.Kind,
			ID:           e.ID,
			SongID:       e.SongID,
			SourceUserID: e.UserID,
			OccurredAt:   e.OccurredAt,
			CauserID:     e.CauserID,
		}
	}
	if p.Advance != "" {
		d, err := time.ParseDuration(p.Advance)
		if err != nil {
			return err
		}
		r.Advance = d
	}
	return nil
}

// Append stores r and returns its sequence number. Seq and RecordedAt are
// assigned by the journal.
func (j *Journal) Append(ctx context.Context, r Record) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	raw, err := encode(r)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", r.Op, err)
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO commands (op, song_id, logical_ms, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		string(r.Op),
		string(r.SongID),
		r.At.Milliseconds(),
		raw,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		metrics.RecordErrorByComponent("journal", "append")
		return 0, fmt.Errorf("append %s: %w", r.Op, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", r.Op, err)
	}
	metrics.RecordJournalAppend()
	return seq, nil
}

// Records returns the records with a sequence number above after, oldest first.
func (j *Journal) Records(ctx context.Context, after int64) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, op, song_id, logical_ms, payload, recorded_at
		FROM commands
		WHERE seq > ?
		ORDER BY seq ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                   Record
			op, song, raw, when string
			ms                  int64
		)
		if err := rows.Scan(&r.Seq, &op, &song, &ms, &raw, &when); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Op = Op(op)
		if !r.Op.Valid() {
			return nil, fmt.Errorf("%w: record %d has unknown op %q", ErrCorruptRecord, r.Seq, op)
		}
		r.SongID = model.SongID(song)
		r.At = clock.FromMilliseconds(ms)
		if t, err := time.Parse(time.RFC3339Nano, when); err == nil {
			r.RecordedAt = t
		}
		if err := decode(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrCorruptRecord, r.Seq, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Count returns the number of journaled commands.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM commands").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Replay passes every record to apply in order and returns how many were
// applied. It stops at the first error.
func (j *Journal) Replay(ctx context.Context, apply func(context.Context, Record) error) (int, error) {
	records, err := j.Records(ctx, 0)
	if err != nil {
		return 0, err
	}
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := apply(ctx, r); err != nil {
			return i, fmt.Errorf("%w: seq %d (%s): %w", ErrReplay, r.Seq, r.Op, err)
		}
	}
	metrics.RecordJournalReplayed(len(records))
	return len(records), nil
}
