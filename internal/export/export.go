// Package export serializes a ledger snapshot to the interchange JSON
// format and the CSV report, and imports JSON back, tolerating version
// drift with best-effort field mapping.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"classtrack/internal/analytics"
	"classtrack/internal/ledger"
)

// FormatVersion is the current interchange format version.
const FormatVersion = "1.0"

// Document is the top-level interchange payload.
type Document struct {
	Version           string                    `json:"version"`
	Subjects          []ledger.Subject          `json:"subjects"`
	AttendanceRecords []ledger.AttendanceRecord `json:"attendanceRecords"`
	LectureSlots      []ledger.LectureSlot      `json:"lectureSlots,omitempty"`
	Settings          ledger.Settings           `json:"settings"`
}

// JSON renders a snapshot as indented interchange JSON.
func JSON(snap ledger.Snapshot) ([]byte, error) {
	doc := Document{
		Version:           FormatVersion,
		Subjects:          snap.Subjects,
		AttendanceRecords: snap.Records,
		LectureSlots:      snap.Slots,
		Settings:          snap.Settings,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FromJSON parses interchange JSON into a snapshot. A version mismatch
// is not an error: known fields are mapped best-effort and unknown ones
// ignored. Malformed JSON or rows that cannot be mapped at all are
// rejected as a validation error.
func FromJSON(data []byte) (ledger.Snapshot, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("%w: malformed import payload: %v", ledger.ErrValidation, err)
	}

	snap := ledger.Snapshot{
		Subjects: doc.Subjects,
		Slots:    doc.LectureSlots,
		Records:  doc.AttendanceRecords,
		Settings: doc.Settings,
	}
	if snap.Settings.DefaultRequiredAttendance == 0 && snap.Settings.WarningThreshold == 0 {
		// Older exports without a settings block fall back to defaults.
		snap.Settings = ledger.DefaultSettings()
	}
	for i, rec := range snap.Records {
		if !rec.Status.Valid() {
			return ledger.Snapshot{}, fmt.Errorf("%w: record %d has unknown status %q", ledger.ErrValidation, i, rec.Status)
		}
	}
	return snap, nil
}

// CSV renders the per-record report: one row per attendance record
// grouped by subject in ledger order, or a single "No records" row for
// a subject with none.
func CSV(snap ledger.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Date", "Subject", "Status", "Attendance %", "Classes Held", "Classes Attended"}); err != nil {
		return nil, err
	}

	bySubject := make(map[string][]ledger.AttendanceRecord, len(snap.Subjects))
	for _, rec := range snap.Records {
		bySubject[rec.SubjectID] = append(bySubject[rec.SubjectID], rec)
	}

	for _, sub := range snap.Subjects {
		pct := analytics.Percentage(sub.ClassesAttended, sub.ClassesHeld)
		recs := bySubject[sub.ID]
		if len(recs) == 0 {
			if err := w.Write([]string{"No records", sub.Name, "", formatPct(pct),
				strconv.Itoa(sub.ClassesHeld), strconv.Itoa(sub.ClassesAttended)}); err != nil {
				return nil, err
			}
			continue
		}
		for _, rec := range recs {
			if err := w.Write([]string{rec.Date, sub.Name, string(rec.Status), formatPct(pct),
				strconv.Itoa(sub.ClassesHeld), strconv.Itoa(sub.ClassesAttended)}); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatPct(pct float64) string {
	return strconv.FormatFloat(pct, 'f', 2, 64)
}
