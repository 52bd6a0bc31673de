package remote

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
)

// Postgres is the durable store for authenticated users. Writes are
// mirrored onto the realtime channel so other devices of the same user
// converge.
type Postgres struct {
	db      *sql.DB
	channel *Channel
	log     *logrus.Entry
}

// NewPostgres opens a Postgres connection with sane pool defaults.
// channel may be nil when realtime fan-out is not wanted (tests, CLI).
func NewPostgres(connString string, channel *Channel, log *logrus.Logger) (*Postgres, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Postgres{db: db, channel: channel, log: log.WithField("component", "remote")}, nil
}

// Close closes the underlying connection.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Healthy verifies connectivity.
func (p *Postgres) Healthy(ctx context.Context) bool {
	return p != nil && p.db != nil && p.db.PingContext(ctx) == nil
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		days TEXT NOT NULL DEFAULT '',
		target_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		classes_held INTEGER NOT NULL DEFAULT 0,
		classes_attended INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS lecture_slots (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		day_of_week INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		duration_min INTEGER NOT NULL DEFAULT 60
	);
	CREATE TABLE IF NOT EXISTS attendance_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		date DATE NOT NULL,
		lecture_slot_id TEXT,
		status TEXT NOT NULL,
		hours_logged INTEGER NOT NULL DEFAULT 0,
		duty_requested BOOLEAN NOT NULL DEFAULT FALSE,
		duty_approved BOOLEAN NOT NULL DEFAULT FALSE,
		duty_reason TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY,
		default_required_attendance DOUBLE PRECISION NOT NULL DEFAULT 75,
		warning_threshold DOUBLE PRECISION NOT NULL DEFAULT 75,
		critical_threshold DOUBLE PRECISION NOT NULL DEFAULT 65,
		include_duty_leaves BOOLEAN NOT NULL DEFAULT TRUE,
		auto_mark_weekends BOOLEAN NOT NULL DEFAULT FALSE,
		notifications_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		notification_time TEXT NOT NULL DEFAULT '08:00',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_subjects_user ON subjects (user_id);
	CREATE INDEX IF NOT EXISTS idx_slots_user ON lecture_slots (user_id);
	CREATE INDEX IF NOT EXISTS idx_logs_user ON attendance_logs (user_id);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_logs_slot
		ON attendance_logs (subject_id, date, lecture_slot_id)
		WHERE lecture_slot_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS uq_logs_day
		ON attendance_logs (subject_id, date)
		WHERE lecture_slot_id IS NULL;
	`
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrUnavailable, err)
	}
	return nil
}

// SelectAll fetches every row of a table belonging to a user.
func (p *Postgres) SelectAll(ctx context.Context, table, userID string) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE user_id = $1`, table), userID)
	if err != nil {
		return nil, fmt.Errorf("%w: select %s: %v", ErrUnavailable, table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Upsert writes a row, replacing any existing row matching the conflict
// columns, then notifies the user's realtime channel.
func (p *Postgres) Upsert(ctx context.Context, table string, row Row, conflictCols []string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	updates := make([]string, 0, len(cols))
	conflict := make(map[string]bool, len(conflictCols))
	for _, c := range conflictCols {
		conflict[c] = true
	}
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
		if !conflict[c] {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (%s)
		ON CONFLICT (%s)%s DO UPDATE SET %s
	`, table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		strings.Join(conflictCols, ", "), conflictPredicate(table, conflictCols),
		strings.Join(updates, ", "))

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrUnavailable, table, err)
	}
	p.notify(ctx, str(row["user_id"]), Change{Type: ChangeUpdate, Table: table, Row: row})
	return nil
}

// conflictPredicate names the partial unique index backing the
// attendance uniqueness key, which differs for slot-bound and whole-day
// records.
func conflictPredicate(table string, conflictCols []string) string {
	if table != TableLogs {
		return ""
	}
	if len(conflictCols) == 3 {
		return " WHERE lecture_slot_id IS NOT NULL"
	}
	return " WHERE lecture_slot_id IS NULL"
}

// Delete removes a row by id (user_id for the settings table).
func (p *Postgres) Delete(ctx context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	keyCol := "id"
	if table == TableSettings {
		keyCol = "user_id"
	}
	row := p.db.QueryRowContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 RETURNING user_id`, table, keyCol), id)
	var userID string
	if err := row.Scan(&userID); err != nil {
		if err == sql.ErrNoRows {
			return nil // already gone, delete is idempotent
		}
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, table, err)
	}
	p.notify(ctx, userID, Change{Type: ChangeDelete, Table: table, Row: Row{keyCol: id}})
	return nil
}

// Subscribe opens the user's realtime feed.
func (p *Postgres) Subscribe(ctx context.Context, userID string) (<-chan Change, error) {
	if p.channel == nil {
		return nil, fmt.Errorf("%w: no realtime channel configured", ErrUnavailable)
	}
	return p.channel.Subscribe(ctx, userID)
}

func (p *Postgres) notify(ctx context.Context, userID string, ch Change) {
	if p.channel == nil || userID == "" {
		return
	}
	if err := p.channel.Publish(ctx, userID, ch); err != nil {
		p.log.WithError(err).Warn("realtime publish failed")
	}
}

func checkTable(table string) error {
	switch table {
	case TableSubjects, TableSlots, TableLogs, TableSettings:
		return nil
	}
	return fmt.Errorf("unknown table %q", table)
}
