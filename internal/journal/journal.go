// Package journal is an optional SQLite audit trail of delivery outcomes.
// It exists for diagnostics only: nothing is ever replayed from it, and a
// full queue drops entries rather than slowing the connection loop.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at     TEXT NOT NULL,
	mode   TEXT NOT NULL,
	target TEXT NOT NULL,
	ok     INTEGER NOT NULL,
	error  TEXT NOT NULL DEFAULT ''
);
`

type Config struct {
	Path string
	// BusyTimeout maps to sqlite's busy_timeout pragma. Default 5s.
	BusyTimeout time.Duration
}

type Journal struct {
	log logx.Logger
	db  *sql.DB

	queue   chan relay.Outcome
	dropped atomic.Uint64
}

func Open(cfg Config, log logx.Logger) (*Journal, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./relaybot_journal.db"
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &Journal{
		log:   log,
		db:    db,
		queue: make(chan relay.Outcome, 128),
	}, nil
}

// Record implements relay.Recorder. It never blocks the connection loop; a
// full queue drops the entry.
func (j *Journal) Record(o relay.Outcome) {
	select {
	case j.queue <- o:
	default:
		j.dropped.Add(1)
	}
}

// Dropped reports outcomes discarded because the writer fell behind.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Run writes queued outcomes until ctx is canceled, then drains what is
// already buffered.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case o := <-j.queue:
					j.insert(o)
				default:
					return nil
				}
			}
		case o := <-j.queue:
			j.insert(o)
		}
	}
}

func (j *Journal) insert(o relay.Outcome) {
	_, err := j.db.Exec(
		`INSERT INTO deliveries (at, mode, target, ok, error) VALUES (?, ?, ?, ?, ?)`,
		o.At.UTC().Format(time.RFC3339Nano), string(o.Mode), o.Target, boolToInt(o.OK), o.Error,
	)
	if err != nil {
		j.log.Warn("journal insert failed", logx.Err(err))
	}
}

// Recent returns the newest n outcomes, newest first.
func (j *Journal) Recent(n int) ([]relay.Outcome, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := j.db.Query(
		`SELECT at, mode, target, ok, error FROM deliveries ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []relay.Outcome
	for rows.Next() {
		var (
			at   string
			mode string
			o    relay.Outcome
			ok   int
		)
		if err := rows.Scan(&at, &mode, &o.Target, &ok, &o.Error); err != nil {
			return nil, err
		}
		o.Mode = relay.Mode(mode)
		o.OK = ok != 0
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			o.At = t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error { return j.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
