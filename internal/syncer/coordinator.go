// Package syncer reconciles the in-memory ledger with the remote store:
// full pull on sign-in, optimistic local writes committed asynchronously,
// realtime merge of server-pushed changes, and one-shot guest migration.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classtrack/internal/analytics"
	"classtrack/internal/ledger"
	"classtrack/internal/localstore"
	"classtrack/internal/metrics"
	"classtrack/internal/remote"
)

// ErrNotAuthenticated marks operations that need a signed-in session.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrMigrationPartial marks a guest migration where some rows failed to
// transfer; guest data is retained locally for retry.
var ErrMigrationPartial = errors.New("migration partially failed")

// State is the session state of the coordinator.
type State int

const (
	StateGuest State = iota
	StateSyncing
	StateSynced
	StateOffline
	StateMigrating
)

func (s State) String() string {
	switch s {
	case StateGuest:
		return "guest"
	case StateSyncing:
		return "syncing"
	case StateSynced:
		return "synced"
	case StateOffline:
		return "offline"
	case StateMigrating:
		return "migrating"
	}
	return "unknown"
}

// WriteResult reports the outcome of one asynchronous remote commit.
// The ledger is never rolled back on failure; the caller decides
// whether to retry or surface a warning.
type WriteResult struct {
	Op    string
	Table string
	ID    string
	Err   error
}

// pendingWrite is an optimistic mutation not yet acknowledged by the
// remote store. reapply restores it after a wholesale table re-fetch.
type pendingWrite struct {
	table   string
	reapply func(*ledger.Ledger)
}

// Options configures a coordinator.
type Options struct {
	Remote       remote.Store
	Local        *localstore.Store
	Log          *logrus.Logger
	WriteTimeout time.Duration
}

// Coordinator owns one user session's ledger and keeps it consistent
// with the durable stores. All ledger access is serialized on mu.
type Coordinator struct {
	mu           sync.Mutex
	ledger       *ledger.Ledger
	remote       remote.Store
	local        *localstore.Store
	log          *logrus.Entry
	writeTimeout time.Duration

	state   State
	userID  string
	pending map[string]pendingWrite

	results   chan WriteResult
	cancelSub context.CancelFunc
}

// New builds a coordinator in guest state, loading any persisted guest
// ledger from the local store.
func New(opts Options) (*Coordinator, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logrus.New()
	}
	c := &Coordinator{
		ledger:       ledger.New(),
		remote:       opts.Remote,
		local:        opts.Local,
		log:          opts.Log.WithField("component", "syncer"),
		writeTimeout: opts.WriteTimeout,
		state:        StateGuest,
		pending:      make(map[string]pendingWrite),
		results:      make(chan WriteResult, 64),
	}
	if c.local != nil {
		snap, err := c.local.Load()
		if err != nil {
			return nil, err
		}
		snap.UserID = ""
		c.ledger.Restore(snap)
	}
	return c, nil
}

// State returns the current session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Results delivers asynchronous write outcomes. Consumers that fall
// behind lose the oldest unread results rather than blocking syncs.
func (c *Coordinator) Results() <-chan WriteResult { return c.results }

func (c *Coordinator) report(res WriteResult) {
	result := "ok"
	if res.Err != nil {
		result = "error"
		c.log.WithError(res.Err).WithFields(logrus.Fields{
			"op": res.Op, "table": res.Table, "id": res.ID,
		}).Warn("remote write failed")
	}
	metrics.WriteResults.WithLabelValues(res.Op, result).Inc()
	for {
		select {
		case c.results <- res:
			return
		default:
			select {
			case <-c.results: // drop oldest
			default:
			}
		}
	}
}

// SignIn performs the initial pull: fetch all tables for the user and
// replace the ledger wholesale, guaranteeing a known-good baseline over
// a possibly stale guest snapshot. On pull failure the session degrades
// to offline and can be retried.
func (c *Coordinator) SignIn(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id required", ErrNotAuthenticated)
	}
	c.mu.Lock()
	c.state = StateSyncing
	c.userID = userID
	c.mu.Unlock()

	snap, hadSettings, err := c.pull(ctx, userID)
	if err != nil {
		c.mu.Lock()
		c.state = StateOffline
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.ledger.Restore(snap)
	c.pending = make(map[string]pendingWrite)
	c.state = StateSynced
	c.mu.Unlock()

	if !hadSettings {
		// First login: create the user's settings row with defaults.
		c.commitAsync("insert", remote.TableSettings, userID, func(cctx context.Context) error {
			return c.remote.Upsert(cctx, remote.TableSettings,
				remote.SettingsRow(userID, snap.Settings),
				remote.ConflictCols(remote.TableSettings, nil))
		})
	}

	c.startSubscription(userID)
	return nil
}

// pull fetches all four tables and assembles a snapshot.
func (c *Coordinator) pull(ctx context.Context, userID string) (ledger.Snapshot, bool, error) {
	snap := ledger.Snapshot{UserID: userID, Settings: ledger.DefaultSettings()}

	rows, err := c.remote.SelectAll(ctx, remote.TableSubjects, userID)
	if err != nil {
		return snap, false, err
	}
	for _, r := range rows {
		sub, err := remote.SubjectFromRow(r)
		if err != nil {
			c.log.WithError(err).Warn("skipping bad subject row")
			continue
		}
		snap.Subjects = append(snap.Subjects, sub)
	}

	rows, err = c.remote.SelectAll(ctx, remote.TableSlots, userID)
	if err != nil {
		return snap, false, err
	}
	for _, r := range rows {
		slot, err := remote.SlotFromRow(r)
		if err != nil {
			c.log.WithError(err).Warn("skipping bad slot row")
			continue
		}
		snap.Slots = append(snap.Slots, slot)
	}

	rows, err = c.remote.SelectAll(ctx, remote.TableLogs, userID)
	if err != nil {
		return snap, false, err
	}
	for _, r := range rows {
		rec, err := remote.RecordFromRow(r)
		if err != nil {
			c.log.WithError(err).Warn("skipping bad record row")
			continue
		}
		snap.Records = append(snap.Records, rec)
	}

	rows, err = c.remote.SelectAll(ctx, remote.TableSettings, userID)
	if err != nil {
		return snap, false, err
	}
	hadSettings := len(rows) > 0
	if hadSettings {
		snap.Settings = remote.SettingsFromRow(rows[0])
	}
	return snap, hadSettings, nil
}

// SignOut tears down the subscription and returns to the guest ledger.
func (c *Coordinator) SignOut() {
	c.mu.Lock()
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}
	c.state = StateGuest
	c.userID = ""
	c.pending = make(map[string]pendingWrite)
	c.ledger = ledger.New()
	c.mu.Unlock()

	if c.local != nil {
		if snap, err := c.local.Load(); err == nil {
			c.mu.Lock()
			snap.UserID = ""
			c.ledger.Restore(snap)
			c.mu.Unlock()
		}
	}
}

// Retry re-attempts the initial pull after an offline sign-in.
func (c *Coordinator) Retry(ctx context.Context) error {
	c.mu.Lock()
	userID := c.userID
	state := c.state
	c.mu.Unlock()
	if state != StateOffline || userID == "" {
		return fmt.Errorf("%w: nothing to retry", ErrNotAuthenticated)
	}
	return c.SignIn(ctx, userID)
}

// MarkAttendance applies the mark to the ledger synchronously, then
// commits it (and the subject's recomputed counters) remotely.
func (c *Coordinator) MarkAttendance(p ledger.UpsertParams) (ledger.AttendanceRecord, error) {
	c.mu.Lock()
	rec, err := c.ledger.UpsertRecord(p)
	if err != nil {
		c.mu.Unlock()
		return ledger.AttendanceRecord{}, err
	}
	sub, _ := c.ledger.Subject(p.SubjectID)
	userID := c.userID
	guest := c.state == StateGuest
	if !guest {
		c.pending[pendingKey(remote.TableLogs, rec.Key())] = pendingWrite{
			table:   remote.TableLogs,
			reapply: func(l *ledger.Ledger) { l.ApplyRecord(rec) },
		}
	}
	c.mu.Unlock()

	if guest {
		c.persistGuest()
		return rec, nil
	}

	row := remote.RecordRow(userID, rec)
	subRow := remote.SubjectRow(userID, sub)
	c.commitAsync("mark", remote.TableLogs, rec.ID, func(ctx context.Context) error {
		if err := c.remote.Upsert(ctx, remote.TableLogs, row, remote.ConflictCols(remote.TableLogs, row)); err != nil {
			return err
		}
		if err := c.remote.Upsert(ctx, remote.TableSubjects, subRow, remote.ConflictCols(remote.TableSubjects, subRow)); err != nil {
			return err
		}
		c.ack(pendingKey(remote.TableLogs, rec.Key()))
		return nil
	})
	return rec, nil
}

// AddSubject creates a subject optimistically and commits it remotely.
func (c *Coordinator) AddSubject(name string, days []time.Weekday, target float64) (ledger.Subject, error) {
	c.mu.Lock()
	sub, err := c.ledger.AddSubject(name, days, target)
	if err != nil {
		c.mu.Unlock()
		return ledger.Subject{}, err
	}
	userID := c.userID
	guest := c.state == StateGuest
	if !guest {
		c.pending[pendingKey(remote.TableSubjects, sub.ID)] = pendingWrite{
			table:   remote.TableSubjects,
			reapply: func(l *ledger.Ledger) { l.ApplySubject(sub) },
		}
	}
	c.mu.Unlock()

	if guest {
		c.persistGuest()
		return sub, nil
	}
	row := remote.SubjectRow(userID, sub)
	c.commitAsync("add_subject", remote.TableSubjects, sub.ID, func(ctx context.Context) error {
		if err := c.remote.Upsert(ctx, remote.TableSubjects, row, remote.ConflictCols(remote.TableSubjects, row)); err != nil {
			return err
		}
		c.ack(pendingKey(remote.TableSubjects, sub.ID))
		return nil
	})
	return sub, nil
}

// DeleteSubject cascades locally, then schedules the remote deletion of
// every dependent row.
func (c *Coordinator) DeleteSubject(id string) error {
	c.mu.Lock()
	res, err := c.ledger.DeleteSubject(id)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	guest := c.state == StateGuest
	if !guest {
		c.pending[pendingKey(remote.TableSubjects, "del:"+id)] = pendingWrite{
			table: remote.TableSubjects,
			reapply: func(l *ledger.Ledger) {
				if _, err := l.DeleteSubject(id); err != nil && !errors.Is(err, ledger.ErrNotFound) {
					c.log.WithError(err).Warn("cascade replay failed")
				}
			},
		}
	}
	c.mu.Unlock()

	if guest {
		c.persistGuest()
		return nil
	}
	c.commitAsync("delete_subject", remote.TableSubjects, id, func(ctx context.Context) error {
		for _, recID := range res.RecordIDs {
			if err := c.remote.Delete(ctx, remote.TableLogs, recID); err != nil {
				return err
			}
		}
		for _, slotID := range res.SlotIDs {
			if err := c.remote.Delete(ctx, remote.TableSlots, slotID); err != nil {
				return err
			}
		}
		if err := c.remote.Delete(ctx, remote.TableSubjects, id); err != nil {
			return err
		}
		c.ack(pendingKey(remote.TableSubjects, "del:"+id))
		return nil
	})
	return nil
}

// AddSlot creates a lecture slot optimistically and commits it.
func (c *Coordinator) AddSlot(subjectID string, day time.Weekday, startTime string, durationMin int) (ledger.LectureSlot, error) {
	c.mu.Lock()
	slot, err := c.ledger.AddSlot(subjectID, day, startTime, durationMin)
	if err != nil {
		c.mu.Unlock()
		return ledger.LectureSlot{}, err
	}
	userID := c.userID
	guest := c.state == StateGuest
	if !guest {
		c.pending[pendingKey(remote.TableSlots, slot.ID)] = pendingWrite{
			table:   remote.TableSlots,
			reapply: func(l *ledger.Ledger) { l.ApplySlot(slot) },
		}
	}
	c.mu.Unlock()

	if guest {
		c.persistGuest()
		return slot, nil
	}
	row := remote.SlotRow(userID, slot)
	c.commitAsync("add_slot", remote.TableSlots, slot.ID, func(ctx context.Context) error {
		if err := c.remote.Upsert(ctx, remote.TableSlots, row, remote.ConflictCols(remote.TableSlots, row)); err != nil {
			return err
		}
		c.ack(pendingKey(remote.TableSlots, slot.ID))
		return nil
	})
	return slot, nil
}

// UpdateSettings validates and applies settings, then commits them.
func (c *Coordinator) UpdateSettings(s ledger.Settings) error {
	c.mu.Lock()
	if err := c.ledger.SetSettings(s); err != nil {
		c.mu.Unlock()
		return err
	}
	applied := c.ledger.Settings()
	userID := c.userID
	guest := c.state == StateGuest
	if !guest {
		c.pending[pendingKey(remote.TableSettings, userID)] = pendingWrite{
			table:   remote.TableSettings,
			reapply: func(l *ledger.Ledger) { _ = l.SetSettings(applied) },
		}
	}
	c.mu.Unlock()

	if guest {
		c.persistGuest()
		return nil
	}
	row := remote.SettingsRow(userID, applied)
	c.commitAsync("settings", remote.TableSettings, userID, func(ctx context.Context) error {
		if err := c.remote.Upsert(ctx, remote.TableSettings, row, remote.ConflictCols(remote.TableSettings, row)); err != nil {
			return err
		}
		c.ack(pendingKey(remote.TableSettings, userID))
		return nil
	})
	return nil
}

// Snapshot returns a copy of the current ledger.
func (c *Coordinator) Snapshot() ledger.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Snapshot()
}

// Subjects returns subjects in creation order.
func (c *Coordinator) Subjects() []ledger.Subject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Subjects()
}

// StatsFor recomputes one subject's statistics.
func (c *Coordinator) StatsFor(subjectID string) (ledger.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.StatsFor(subjectID)
}

// AdviceFor runs the skip/attend advisory for one subject.
func (c *Coordinator) AdviceFor(subjectID string) (analytics.Advice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.AdviceFor(subjectID)
}

// SlotsForDate lists the timetable for a calendar day.
func (c *Coordinator) SlotsForDate(date time.Time) []ledger.LectureSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.SlotsForDate(date)
}

// ImportSnapshot replaces the guest ledger wholesale with an imported
// snapshot and persists it. Signed-in sessions refuse the import: their
// ledger is owned by the remote store.
func (c *Coordinator) ImportSnapshot(snap ledger.Snapshot) error {
	c.mu.Lock()
	if c.state != StateGuest {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot import into state %s", state)
	}
	snap.UserID = ""
	c.ledger.Restore(snap)
	c.mu.Unlock()
	c.persistGuest()
	return nil
}

// Report bands every subject by the settings thresholds.
func (c *Coordinator) Report() []ledger.ReportRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Report()
}

// Settings returns the active settings.
func (c *Coordinator) Settings() ledger.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Settings()
}

// commitAsync runs one remote commit with a timeout and reports the
// outcome. In-flight writes are never cancelled, only awaited.
func (c *Coordinator) commitAsync(op, table, id string, do func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		defer cancel()
		err := do(ctx)
		c.report(WriteResult{Op: op, Table: table, ID: id, Err: err})
	}()
}

func (c *Coordinator) ack(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

func (c *Coordinator) persistGuest() {
	if c.local == nil {
		return
	}
	c.mu.Lock()
	snap := c.ledger.Snapshot()
	c.mu.Unlock()
	snap.UserID = ""
	if err := c.local.Save(snap); err != nil {
		c.report(WriteResult{Op: "persist_guest", Table: "*", Err: err})
		return
	}
	c.report(WriteResult{Op: "persist_guest", Table: "*"})
}

func pendingKey(table, key string) string { return table + "|" + key }
