package remote_test

import (
	"encoding/json"
	"testing"
	"time"

	"classtrack/internal/ledger"
	"classtrack/internal/remote"
)

func TestSubjectRowRoundTrip(t *testing.T) {
	sub := ledger.Subject{
		ID:              "sub-1",
		Name:            "Physics",
		Days:            []time.Weekday{time.Monday, time.Wednesday},
		TargetPercent:   75,
		ClassesHeld:     10,
		ClassesAttended: 8,
		UpdatedAt:       time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	row := remote.SubjectRow("user-1", sub)
	if row["days"] != "1,3" {
		t.Errorf("days encoding = %v, want \"1,3\"", row["days"])
	}

	got, err := remote.SubjectFromRow(row)
	if err != nil {
		t.Fatalf("SubjectFromRow: %v", err)
	}
	if got.ID != sub.ID || got.Name != sub.Name || got.TargetPercent != 75 ||
		got.ClassesHeld != 10 || got.ClassesAttended != 8 || len(got.Days) != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

// A JSON hop (the realtime channel) turns ints into float64; the row
// decoders must still produce the same record.
func TestRecordRowSurvivesJSONHop(t *testing.T) {
	slot := "slot-1"
	rec := ledger.AttendanceRecord{
		ID:          "rec-1",
		SubjectID:   "sub-1",
		SlotID:      &slot,
		Date:        "2026-03-02",
		Status:      ledger.StatusDutyLeave,
		HoursLogged: 2,
		DutyRequested: true,
		UpdatedAt:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	row := remote.RecordRow("user-1", rec)

	payload, err := json.Marshal(remote.Change{Type: remote.ChangeUpdate, Table: remote.TableLogs, Row: row})
	if err != nil {
		t.Fatal(err)
	}
	var ch remote.Change
	if err := json.Unmarshal(payload, &ch); err != nil {
		t.Fatal(err)
	}

	got, err := remote.RecordFromRow(ch.Row)
	if err != nil {
		t.Fatalf("RecordFromRow: %v", err)
	}
	if got.ID != rec.ID || got.Date != rec.Date || got.Status != rec.Status ||
		got.HoursLogged != 2 || !got.DutyRequested || got.SlotID == nil || *got.SlotID != slot {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestConflictCols(t *testing.T) {
	slotRow := remote.Row{"lecture_slot_id": "slot-1"}
	legacyRow := remote.Row{}

	got := remote.ConflictCols(remote.TableLogs, slotRow)
	if len(got) != 3 || got[2] != "lecture_slot_id" {
		t.Errorf("slot record conflict cols = %v", got)
	}
	got = remote.ConflictCols(remote.TableLogs, legacyRow)
	if len(got) != 2 {
		t.Errorf("legacy record conflict cols = %v", got)
	}
	got = remote.ConflictCols(remote.TableSettings, legacyRow)
	if len(got) != 1 || got[0] != "user_id" {
		t.Errorf("settings conflict cols = %v", got)
	}
}

func TestRecordFromRowRejectsBadStatus(t *testing.T) {
	row := remote.Row{"id": "r", "subject_id": "s", "date": "2026-03-02", "status": "late"}
	if _, err := remote.RecordFromRow(row); err == nil {
		t.Error("expected error for unknown status")
	}
}
