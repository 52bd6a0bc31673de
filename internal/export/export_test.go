package export_test

import (
	"strings"
	"testing"
	"time"

	"classtrack/internal/export"
	"classtrack/internal/ledger"
)

func buildLedger(t *testing.T) (*ledger.Ledger, ledger.Subject, ledger.Subject) {
	t.Helper()
	l := ledger.New()
	maths, err := l.AddSubject("Maths", []time.Weekday{time.Monday}, 75)
	if err != nil {
		t.Fatal(err)
	}
	empty, err := l.AddSubject("Sanskrit", nil, 75)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []struct {
		date   string
		status ledger.Status
	}{
		{"2026-03-02", ledger.StatusPresent},
		{"2026-03-09", ledger.StatusAbsent},
	} {
		if _, err := l.UpsertRecord(ledger.UpsertParams{SubjectID: maths.ID, Date: m.date, Status: m.status}); err != nil {
			t.Fatal(err)
		}
	}
	return l, maths, empty
}

func TestJSONRoundTrip(t *testing.T) {
	l, maths, _ := buildLedger(t)
	s := l.Settings()
	s.WarningThreshold = 80
	if err := l.SetSettings(s); err != nil {
		t.Fatal(err)
	}

	data, err := export.JSON(l.Snapshot())
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	snap, err := export.FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	restored := ledger.New()
	restored.Restore(snap)
	if len(restored.Subjects()) != 2 || restored.Len() != 2 {
		t.Fatalf("round trip lost rows: %d subjects, %d records", len(restored.Subjects()), restored.Len())
	}
	stats, err := restored.StatsFor(maths.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ClassesHeld != 2 || stats.ClassesAttended != 1 {
		t.Errorf("restored stats = %+v", stats)
	}
	if restored.Settings().WarningThreshold != 80 {
		t.Errorf("settings lost: %+v", restored.Settings())
	}
}

func TestFromJSONToleratesVersionMismatch(t *testing.T) {
	payload := `{
		"version": "0.9",
		"subjects": [{"id": "s1", "name": "Maths", "target_percent": 75}],
		"attendanceRecords": [{"id": "r1", "subject_id": "s1", "date": "2026-03-02", "status": "present", "hours_logged": 1}],
		"futureField": {"ignored": true}
	}`
	snap, err := export.FromJSON([]byte(payload))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if len(snap.Subjects) != 1 || len(snap.Records) != 1 {
		t.Errorf("best-effort mapping lost rows: %+v", snap)
	}
	if snap.Settings.DefaultRequiredAttendance != 75 {
		t.Errorf("missing settings block should default: %+v", snap.Settings)
	}
}

func TestFromJSONRejectsMalformed(t *testing.T) {
	if _, err := export.FromJSON([]byte("{nope")); err == nil {
		t.Error("expected error for malformed JSON")
	}
	bad := `{"version":"1.0","attendanceRecords":[{"subject_id":"s1","date":"2026-03-02","status":"late"}]}`
	if _, err := export.FromJSON([]byte(bad)); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestCSVLayout(t *testing.T) {
	l, _, _ := buildLedger(t)
	data, err := export.CSV(l.Snapshot())
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "Date,Subject,Status,Attendance %,Classes Held,Classes Attended" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header + 2 records + 1 empty-subject row", len(lines))
	}
	if !strings.HasPrefix(lines[1], "2026-03-02,Maths,present,50.00,2,1") {
		t.Errorf("first record row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[3], "No records,Sanskrit") {
		t.Errorf("empty subject row = %q", lines[3])
	}
}
