package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ConfirmedInput is one peer's confirmed frame for one tick, as persisted to
// the replay log.
type ConfirmedInput struct {
	Tick  uint64
	Peer  int
	Frame []byte
}

// SessionMeta describes the recorded session. Seed and protocol version are
// enough to re-simulate the match from the input rows alone.
type SessionMeta struct {
	Seed      int64
	Protocol  int
	Peers     int
	StartedAt time.Time
}

const replaySchema = `
CREATE TABLE IF NOT EXISTS session (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	seed INTEGER NOT NULL,
	protocol INTEGER NOT NULL,
	peers INTEGER NOT NULL,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS input (
	session_id INTEGER NOT NULL REFERENCES session(id),
	tick INTEGER NOT NULL,
	peer INTEGER NOT NULL,
	frame BLOB NOT NULL,
	PRIMARY KEY (session_id, tick, peer)
);
`

// Recorder appends confirmed input history for one session to a SQLite file.
// Only inputs below the confirmed frontier are ever written, so the log is
// append-only and free of speculative ticks.
type Recorder struct {
	db        *sql.DB
	sessionID int64
}

// OpenRecorder opens (creating if needed) the replay database at path and
// registers a new session row.
func OpenRecorder(path string, meta SessionMeta) (*Recorder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("replay path is required")
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open replay db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping replay db: %w", err)
	}
	if _, err := db.Exec(replaySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply replay schema: %w", err)
	}
	startedAt := meta.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	result, err := db.Exec(
		`INSERT INTO session (seed, protocol, peers, started_at) VALUES (?, ?, ?, ?)`,
		meta.Seed, meta.Protocol, meta.Peers, startedAt.UTC().UnixMilli(),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("insert session: %w", err)
	}
	sessionID, err := result.LastInsertId()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &Recorder{db: db, sessionID: sessionID}, nil
}

// Append persists a batch of confirmed inputs. Re-appending an existing
// (tick, peer) row is ignored; confirmed history never changes.
func (r *Recorder) Append(ctx context.Context, inputs []ConfirmedInput) error {
	if r == nil || r.db == nil || len(inputs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replay tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO input (session_id, tick, peer, frame) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare replay insert: %w", err)
	}
	defer stmt.Close()
	for _, in := range inputs {
		if _, err := stmt.ExecContext(ctx, r.sessionID, in.Tick, in.Peer, in.Frame); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert input tick %d peer %d: %w", in.Tick, in.Peer, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replay tx: %w", err)
	}
	return nil
}

// SessionID identifies the session row this recorder writes under.
func (r *Recorder) SessionID() int64 {
	if r == nil {
		return 0
	}
	return r.sessionID
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// LoadReplay reads a recorded session back, inputs ordered by tick then
// peer, ready to feed through a fresh Game for verification.
func LoadReplay(ctx context.Context, path string, sessionID int64) (SessionMeta, []ConfirmedInput, error) {
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000")
	if err != nil {
		return SessionMeta{}, nil, fmt.Errorf("open replay db: %w", err)
	}
	defer db.Close()

	var meta SessionMeta
	var startedAt int64
	row := db.QueryRowContext(ctx,
		`SELECT seed, protocol, peers, started_at FROM session WHERE id = ?`, sessionID)
	if err := row.Scan(&meta.Seed, &meta.Protocol, &meta.Peers, &startedAt); err != nil {
		return SessionMeta{}, nil, fmt.Errorf("load session %d: %w", sessionID, err)
	}
	meta.StartedAt = time.UnixMilli(startedAt).UTC()

	rows, err := db.QueryContext(ctx,
		`SELECT tick, peer, frame FROM input WHERE session_id = ? ORDER BY tick, peer`, sessionID)
	if err != nil {
		return SessionMeta{}, nil, fmt.Errorf("load inputs: %w", err)
	}
	defer rows.Close()

	var inputs []ConfirmedInput
	for rows.Next() {
		var in ConfirmedInput
		if err := rows.Scan(&in.Tick, &in.Peer, &in.Frame); err != nil {
			return SessionMeta{}, nil, fmt.Errorf("scan input: %w", err)
		}
		inputs = append(inputs, in)
	}
	if err := rows.Err(); err != nil {
		return SessionMeta{}, nil, fmt.Errorf("iterate inputs: %w", err)
	}
	return meta, inputs, nil
}
