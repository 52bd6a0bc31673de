package remote

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"classtrack/internal/ledger"
)

// ConflictCols returns the upsert conflict-key columns realizing the
// ledger's uniqueness invariant server-side.
func ConflictCols(table string, row Row) []string {
	switch table {
	case TableLogs:
		if v, ok := row["lecture_slot_id"]; ok && v != nil && v != "" {
			return []string{"subject_id", "date", "lecture_slot_id"}
		}
		return []string{"subject_id", "date"}
	case TableSettings:
		return []string{"user_id"}
	default:
		return []string{"id"}
	}
}

// SubjectRow maps a subject to its table row.
func SubjectRow(userID string, s ledger.Subject) Row {
	return Row{
		"id":               s.ID,
		"user_id":          userID,
		"name":             s.Name,
		"days":             encodeDays(s.Days),
		"target_percent":   s.TargetPercent,
		"classes_held":     s.ClassesHeld,
		"classes_attended": s.ClassesAttended,
		"updated_at":       s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// SubjectFromRow maps a table row back to a subject.
func SubjectFromRow(r Row) (ledger.Subject, error) {
	days, err := decodeDays(str(r["days"]))
	if err != nil {
		return ledger.Subject{}, err
	}
	return ledger.Subject{
		ID:              str(r["id"]),
		Name:            str(r["name"]),
		Days:            days,
		TargetPercent:   f64(r["target_percent"]),
		ClassesHeld:     i64(r["classes_held"]),
		ClassesAttended: i64(r["classes_attended"]),
		UpdatedAt:       ts(r["updated_at"]),
	}, nil
}

// SlotRow maps a lecture slot to its table row.
func SlotRow(userID string, s ledger.LectureSlot) Row {
	return Row{
		"id":           s.ID,
		"user_id":      userID,
		"subject_id":   s.SubjectID,
		"day_of_week":  int(s.Day),
		"start_time":   s.StartTime,
		"duration_min": s.DurationMin,
	}
}

// SlotFromRow maps a table row back to a lecture slot.
func SlotFromRow(r Row) (ledger.LectureSlot, error) {
	day := i64(r["day_of_week"])
	if day < 0 || day > 6 {
		return ledger.LectureSlot{}, fmt.Errorf("bad day_of_week %d", day)
	}
	return ledger.LectureSlot{
		ID:          str(r["id"]),
		SubjectID:   str(r["subject_id"]),
		Day:         time.Weekday(day),
		StartTime:   str(r["start_time"]),
		DurationMin: i64(r["duration_min"]),
	}, nil
}

// RecordRow maps an attendance record to its table row.
func RecordRow(userID string, rec ledger.AttendanceRecord) Row {
	row := Row{
		"id":             rec.ID,
		"user_id":        userID,
		"subject_id":     rec.SubjectID,
		"date":           rec.Date,
		"status":         string(rec.Status),
		"hours_logged":   rec.HoursLogged,
		"duty_requested": rec.DutyRequested,
		"duty_approved":  rec.DutyApproved,
		"updated_at":     rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if rec.SlotID != nil && *rec.SlotID != "" {
		row["lecture_slot_id"] = *rec.SlotID
	}
	if rec.DutyReason != nil {
		row["duty_reason"] = *rec.DutyReason
	}
	return row
}

// RecordFromRow maps a table row back to an attendance record.
func RecordFromRow(r Row) (ledger.AttendanceRecord, error) {
	status := ledger.Status(str(r["status"]))
	if !status.Valid() {
		return ledger.AttendanceRecord{}, fmt.Errorf("bad status %q", status)
	}
	rec := ledger.AttendanceRecord{
		ID:            str(r["id"]),
		SubjectID:     str(r["subject_id"]),
		Date:          dateStr(r["date"]),
		Status:        status,
		HoursLogged:   i64(r["hours_logged"]),
		DutyRequested: boolean(r["duty_requested"]),
		DutyApproved:  boolean(r["duty_approved"]),
		UpdatedAt:     ts(r["updated_at"]),
	}
	if v := str(r["lecture_slot_id"]); v != "" {
		rec.SlotID = &v
	}
	if v := str(r["duty_reason"]); v != "" {
		rec.DutyReason = &v
	}
	return rec, nil
}

// SettingsRow maps settings to the single per-user row.
func SettingsRow(userID string, s ledger.Settings) Row {
	return Row{
		"user_id":                     userID,
		"default_required_attendance": s.DefaultRequiredAttendance,
		"warning_threshold":           s.WarningThreshold,
		"critical_threshold":          s.CriticalThreshold,
		"include_duty_leaves":         s.IncludeDutyLeaves,
		"auto_mark_weekends":          s.AutoMarkWeekends,
		"notifications_enabled":       s.NotificationsEnabled,
		"notification_time":           s.NotificationTime,
		"updated_at":                  s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// SettingsFromRow maps the settings row back.
func SettingsFromRow(r Row) ledger.Settings {
	return ledger.Settings{
		DefaultRequiredAttendance: f64(r["default_required_attendance"]),
		WarningThreshold:          f64(r["warning_threshold"]),
		CriticalThreshold:         f64(r["critical_threshold"]),
		IncludeDutyLeaves:         boolean(r["include_duty_leaves"]),
		AutoMarkWeekends:          boolean(r["auto_mark_weekends"]),
		NotificationsEnabled:      boolean(r["notifications_enabled"]),
		NotificationTime:          str(r["notification_time"]),
		UpdatedAt:                 ts(r["updated_at"]),
	}
}

// encodeDays stores weekdays as a comma list, e.g. "1,3,5".
func encodeDays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("bad days value %q", s)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}

// Row values arrive typed from database scans but as float64/bool/string
// after a JSON hop over the realtime channel; these coercions accept both.

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func f64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func i64(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

// dateStr normalizes a date column: Postgres scans DATE as time.Time,
// the realtime channel carries it as a plain string.
func dateStr(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.Format(ledger.DateLayout)
	}
	return str(v)
}

func ts(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
