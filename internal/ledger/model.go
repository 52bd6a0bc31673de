package ledger

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used for attendance records.
const DateLayout = "2006-01-02"

// ErrValidation marks malformed input rejected before any state change.
var ErrValidation = errors.New("validation error")

// ErrNotFound marks lookups against missing rows.
var ErrNotFound = errors.New("not found")

// Status is the attendance outcome for one class.
type Status string

const (
	StatusPresent   Status = "present"
	StatusAbsent    Status = "absent"
	StatusDutyLeave Status = "duty-leave"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusDutyLeave:
		return true
	}
	return false
}

// Subject is one tracked course with its cumulative counters.
type Subject struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Days            []time.Weekday `json:"days"`
	TargetPercent   float64        `json:"target_percent"`
	ClassesHeld     int            `json:"classes_held"`
	ClassesAttended int            `json:"classes_attended"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// LectureSlot is a recurring weekly occurrence of a subject.
type LectureSlot struct {
	ID          string       `json:"id"`
	SubjectID   string       `json:"subject_id"`
	Day         time.Weekday `json:"day"`
	StartTime   string       `json:"start_time"` // "HH:MM"
	DurationMin int          `json:"duration_min"`
}

// AttendanceRecord is one marked class. A nil SlotID means a legacy
// whole-day record.
type AttendanceRecord struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"subject_id"`
	SlotID        *string   `json:"slot_id,omitempty"`
	Date          string    `json:"date"` // DateLayout
	Status        Status    `json:"status"`
	HoursLogged   int       `json:"hours_logged"`
	DutyRequested bool      `json:"duty_requested"`
	DutyApproved  bool      `json:"duty_approved"`
	DutyReason    *string   `json:"duty_reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key is the uniqueness key: (subject, date, slot) when a slot is set,
// (subject, date) otherwise. A later write for the same key replaces
// the earlier one.
func (r AttendanceRecord) Key() string {
	return RecordKey(r.SubjectID, r.Date, r.SlotID)
}

// RecordKey builds the upsert key for a record.
func RecordKey(subjectID, date string, slotID *string) string {
	if slotID != nil && *slotID != "" {
		return subjectID + "|" + date + "|" + *slotID
	}
	return subjectID + "|" + date
}

// Stats is the derived per-subject projection, recomputed on demand.
type Stats struct {
	ClassesHeld     int     `json:"classes_held"`
	ClassesAttended int     `json:"classes_attended"`
	Percentage      float64 `json:"percentage"`
	AtRisk          bool    `json:"at_risk"`
}

// Settings is the per-user configuration row.
type Settings struct {
	DefaultRequiredAttendance float64   `json:"default_required_attendance"`
	WarningThreshold          float64   `json:"warning_threshold"`
	CriticalThreshold         float64   `json:"critical_threshold"`
	IncludeDutyLeaves         bool      `json:"include_duty_leaves"`
	AutoMarkWeekends          bool      `json:"auto_mark_weekends"`
	NotificationsEnabled      bool      `json:"notifications_enabled"`
	NotificationTime          string    `json:"notification_time"` // "HH:MM"
	UpdatedAt                 time.Time `json:"updated_at"`
}

// DefaultSettings returns the row created for a user on first use.
func DefaultSettings() Settings {
	return Settings{
		DefaultRequiredAttendance: 75,
		WarningThreshold:          75,
		CriticalThreshold:         65,
		IncludeDutyLeaves:         true,
		NotificationTime:          "08:00",
		UpdatedAt:                 time.Now().UTC(),
	}
}

// Validate checks threshold ordering and the notification time format.
func (s Settings) Validate() error {
	if s.DefaultRequiredAttendance < 0 || s.DefaultRequiredAttendance > 100 {
		return fmt.Errorf("%w: default required attendance must be 0-100", ErrValidation)
	}
	if s.CriticalThreshold > s.WarningThreshold || s.WarningThreshold > 100 {
		return fmt.Errorf("%w: thresholds must satisfy critical <= warning <= 100", ErrValidation)
	}
	if s.NotificationTime != "" {
		if _, err := time.Parse("15:04", s.NotificationTime); err != nil {
			return fmt.Errorf("%w: notification time must be HH:MM", ErrValidation)
		}
	}
	return nil
}

// Snapshot is a whole-ledger copy, used for guest persistence, initial
// pull replacement and migration.
type Snapshot struct {
	UserID   string             `json:"user_id,omitempty"`
	Subjects []Subject          `json:"subjects"`
	Slots    []LectureSlot      `json:"lecture_slots"`
	Records  []AttendanceRecord `json:"attendance_records"`
	Settings Settings           `json:"settings"`
}

// CascadeResult lists the dependent rows removed by a subject delete,
// so remote deletions can be scheduled for each of them.
type CascadeResult struct {
	SubjectID string
	SlotIDs   []string
	RecordIDs []string
}
