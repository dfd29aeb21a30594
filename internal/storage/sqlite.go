// Package storage keeps the player-count history and monitor events in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/woozymasta/gtpulse/internal/logger"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Sample is one observation of the combined player data.
type Sample struct {
	TakenAt         time.Time `json:"taken_at"`
	PlayerSource    string    `json:"player_source"`
	BanSource       string    `json:"ban_source"`
	UpstreamUpdated string    `json:"upstream_updated,omitempty"`
	ID              int64     `json:"id"`
	Players         int       `json:"players"`
	BanRate         float64   `json:"ban_rate"`
}

// Event is a persisted monitor event.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	ID         int64     `json:"id"`
	Players    int       `json:"players"`
	Delta      int       `json:"delta"`
	BanRate    float64   `json:"ban_rate"`
}

// Repository manages the SQLite database connection.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// New opens the database, sets connection pool parameters and runs migrations.
func New(ctx context.Context, dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	r := &Repository{db: db, log: logger.For("storage")}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return r, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// InsertSample stores one observation.
func (r *Repository) InsertSample(ctx context.Context, s Sample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO samples (taken_at, players, ban_rate, player_source, ban_source, upstream_updated)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.TakenAt.UTC(), s.Players, s.BanRate, s.PlayerSource, s.BanSource, s.UpstreamUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}

	return nil
}

// RecentSamples returns up to limit samples taken at or after since, newest first.
func (r *Repository) RecentSamples(ctx context.Context, since time.Time, limit int) ([]Sample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, taken_at, players, ban_rate, player_source, ban_source, upstream_updated
		FROM samples
		WHERE taken_at >= ?
		ORDER BY taken_at DESC, id DESC
		LIMIT ?`,
		since.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.TakenAt, &s.Players, &s.BanRate, &s.PlayerSource, &s.BanSource, &s.UpstreamUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

// InsertEvent stores one monitor event.
func (r *Repository) InsertEvent(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (kind, occurred_at, players, delta, ban_rate, message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Kind, e.OccurredAt.UTC(), e.Players, e.Delta, e.BanRate, e.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// RecentEvents returns up to limit events, newest first. An empty kind
// matches every kind.
func (r *Repository) RecentEvents(ctx context.Context, kind string, limit int) ([]Event, error) {
	query := `SELECT id, kind, occurred_at, players, delta, ban_rate, message FROM events`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.OccurredAt, &e.Players, &e.Delta, &e.BanRate, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

// Prune deletes samples and events older than before and returns how many
// rows of each were removed.
func (r *Repository) Prune(ctx context.Context, before time.Time) (samples, events int64, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM samples WHERE taken_at < ?`, before.UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	if samples, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM events WHERE occurred_at < ?`, before.UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune events: %w", err)
	}
	if events, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	return samples, events, tx.Commit()
}
