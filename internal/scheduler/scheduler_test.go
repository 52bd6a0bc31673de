package scheduler

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"classtrack/internal/ledger"
	"classtrack/internal/localstore"
	"classtrack/internal/remote"
	"classtrack/internal/syncer"
)

type fakeStore struct {
	mu     sync.Mutex
	tables map[string][]remote.Row
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: make(map[string][]remote.Row)}
}

func (f *fakeStore) SelectAll(_ context.Context, table, _ string) ([]remote.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]remote.Row, len(f.tables[table]))
	copy(rows, f.tables[table])
	return rows, nil
}

func (f *fakeStore) Upsert(_ context.Context, table string, row remote.Row, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], row)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, _ string, _ string) error { return nil }

func (f *fakeStore) Subscribe(_ context.Context, _ string) (<-chan remote.Change, error) {
	return make(chan remote.Change), nil
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testManager(t *testing.T) *syncer.Manager {
	t.Helper()
	store := newFakeStore()
	return syncer.NewManager(func() (*syncer.Coordinator, error) {
		return syncer.New(syncer.Options{
			Remote:       store,
			Local:        localstore.New(filepath.Join(t.TempDir(), "ledger.json")),
			Log:          quietLog(),
			WriteTimeout: time.Second,
		})
	})
}

func TestRemindersFireOnlyForUnmarkedSlots(t *testing.T) {
	manager := testManager(t)
	c, err := manager.ForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}

	sub, err := c.AddSubject("Algorithms", []time.Weekday{time.Wednesday}, 75)
	if err != nil {
		t.Fatalf("AddSubject: %v", err)
	}
	slot, err := c.AddSlot(sub.ID, time.Wednesday, "09:00", 60)
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	settings := c.Settings()
	settings.NotificationsEnabled = true
	if err := c.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	var (
		mu    sync.Mutex
		fired []string
	)
	notify := func(userID string, subject ledger.Subject, s ledger.LectureSlot) {
		mu.Lock()
		fired = append(fired, userID+"/"+subject.Name+"/"+s.ID)
		mu.Unlock()
	}

	sched := New(manager, notify, quietLog(), "* * * * *", "5 0 * * *")
	wednesday := time.Date(2026, 3, 4, 8, 0, 0, 0, time.Local)
	sched.now = func() time.Time { return wednesday }

	sched.runReminders()
	mu.Lock()
	if len(fired) != 1 || fired[0] != "user-1/Algorithms/"+slot.ID {
		t.Fatalf("fired = %v, want one reminder for the slot", fired)
	}
	mu.Unlock()

	// A wrong minute fires nothing.
	sched.now = func() time.Time { return wednesday.Add(7 * time.Minute) }
	sched.runReminders()
	mu.Lock()
	if len(fired) != 1 {
		t.Fatalf("reminder fired outside the configured minute")
	}
	mu.Unlock()

	// Once marked, the slot stops generating reminders.
	slotID := slot.ID
	if _, err := c.MarkAttendance(ledger.UpsertParams{
		SubjectID: sub.ID,
		SlotID:    &slotID,
		Date:      wednesday.Format(ledger.DateLayout),
		Status:    ledger.StatusPresent,
	}); err != nil {
		t.Fatalf("MarkAttendance: %v", err)
	}
	sched.now = func() time.Time { return wednesday }
	sched.runReminders()
	mu.Lock()
	if len(fired) != 1 {
		t.Fatalf("reminder fired for an already marked slot")
	}
	mu.Unlock()
}

func TestAutoMarkWeekends(t *testing.T) {
	manager := testManager(t)
	c, err := manager.ForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}

	sub, err := c.AddSubject("Robotics Lab", []time.Weekday{time.Saturday}, 75)
	if err != nil {
		t.Fatalf("AddSubject: %v", err)
	}
	if _, err := c.AddSlot(sub.ID, time.Saturday, "10:00", 120); err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	settings := c.Settings()
	settings.AutoMarkWeekends = true
	if err := c.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	sched := New(manager, func(string, ledger.Subject, ledger.LectureSlot) {}, quietLog(), "* * * * *", "5 0 * * *")
	saturday := time.Date(2026, 3, 7, 0, 5, 0, 0, time.Local)
	sched.now = func() time.Time { return saturday }

	// A weekday run does nothing.
	sched.now = func() time.Time { return time.Date(2026, 3, 4, 0, 5, 0, 0, time.Local) }
	sched.runAutoMark()
	if n := len(c.Snapshot().Records); n != 0 {
		t.Fatalf("records after weekday run = %d, want 0", n)
	}

	sched.now = func() time.Time { return saturday }
	sched.runAutoMark()
	recs := c.Snapshot().Records
	if len(recs) != 1 {
		t.Fatalf("records after saturday run = %d, want 1", len(recs))
	}
	if recs[0].Status != ledger.StatusPresent {
		t.Fatalf("auto-marked status = %s, want present", recs[0].Status)
	}

	// Running again must not duplicate the mark.
	sched.runAutoMark()
	if n := len(c.Snapshot().Records); n != 1 {
		t.Fatalf("records after second run = %d, want 1", n)
	}
}

func TestAutoMarkRespectsOptOut(t *testing.T) {
	manager := testManager(t)
	c, err := manager.ForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	sub, err := c.AddSubject("Robotics Lab", []time.Weekday{time.Saturday}, 75)
	if err != nil {
		t.Fatalf("AddSubject: %v", err)
	}
	if _, err := c.AddSlot(sub.ID, time.Saturday, "10:00", 120); err != nil {
		t.Fatalf("AddSlot: %v", err)
	}

	sched := New(manager, func(string, ledger.Subject, ledger.LectureSlot) {}, quietLog(), "* * * * *", "5 0 * * *")
	sched.now = func() time.Time { return time.Date(2026, 3, 7, 0, 5, 0, 0, time.Local) }
	sched.runAutoMark()
	if n := len(c.Snapshot().Records); n != 0 {
		t.Fatalf("auto-mark ran without opt-in: %d records", n)
	}
}
