// Package ledger holds the in-memory authoritative attendance
// collection for one user: subjects, lecture slots, attendance records
// and settings, plus the derived per-subject statistics.
//
// The ledger has a single logical owner. Callers mutate it only through
// the entry points below; each mutation runs to completion and emits a
// change event once the ledger is consistent again.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/analytics"
)

// Op describes a change event kind.
type Op string

const (
	OpInsert  Op = "insert"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpReplace Op = "replace"
)

// Event is emitted after every successful mutation.
type Event struct {
	Op    Op
	Table string
	ID    string
}

// Listener receives change events.
type Listener func(Event)

// Ledger is the authoritative in-memory collection.
type Ledger struct {
	userID    string
	subjects  map[string]*Subject
	order     []string // subject IDs in creation order
	slots     map[string]*LectureSlot
	records   map[string]*AttendanceRecord // keyed by AttendanceRecord.Key
	settings  Settings
	listeners []Listener
}

// New returns an empty ledger with default settings.
func New() *Ledger {
	return &Ledger{
		subjects: make(map[string]*Subject),
		slots:    make(map[string]*LectureSlot),
		records:  make(map[string]*AttendanceRecord),
		settings: DefaultSettings(),
	}
}

// Subscribe registers a change listener. Listeners run synchronously
// after the mutation completes.
func (l *Ledger) Subscribe(fn Listener) {
	l.listeners = append(l.listeners, fn)
}

func (l *Ledger) emit(e Event) {
	for _, fn := range l.listeners {
		fn(e)
	}
}

// UserID returns the owning user id, empty for a guest ledger.
func (l *Ledger) UserID() string { return l.userID }

// SetUserID re-keys the ledger to a user, used on sign-in and guest
// migration.
func (l *Ledger) SetUserID(id string) { l.userID = id }

// AddSubject validates and inserts a new subject. A zero target falls
// back to the settings default.
func (l *Ledger) AddSubject(name string, days []time.Weekday, target float64) (Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Subject{}, fmt.Errorf("%w: subject name required", ErrValidation)
	}
	if target == 0 {
		target = l.settings.DefaultRequiredAttendance
	}
	if target < 0 || target > 100 {
		return Subject{}, fmt.Errorf("%w: target percentage must be 0-100", ErrValidation)
	}
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return Subject{}, fmt.Errorf("%w: invalid weekday %d", ErrValidation, d)
		}
	}

	sub := Subject{
		ID:            uuid.NewString(),
		Name:          name,
		Days:          append([]time.Weekday(nil), days...),
		TargetPercent: target,
		UpdatedAt:     time.Now().UTC(),
	}
	l.subjects[sub.ID] = &sub
	l.order = append(l.order, sub.ID)
	l.emit(Event{Op: OpInsert, Table: "subjects", ID: sub.ID})
	return sub, nil
}

// UpdateSubject replaces mutable subject fields.
func (l *Ledger) UpdateSubject(id, name string, days []time.Weekday, target float64) (Subject, error) {
	sub, ok := l.subjects[id]
	if !ok {
		return Subject{}, fmt.Errorf("%w: subject %s", ErrNotFound, id)
	}
	if name = strings.TrimSpace(name); name != "" {
		sub.Name = name
	}
	if days != nil {
		sub.Days = append([]time.Weekday(nil), days...)
	}
	if target != 0 {
		if target < 0 || target > 100 {
			return Subject{}, fmt.Errorf("%w: target percentage must be 0-100", ErrValidation)
		}
		sub.TargetPercent = target
	}
	sub.UpdatedAt = time.Now().UTC()
	l.emit(Event{Op: OpUpdate, Table: "subjects", ID: id})
	return *sub, nil
}

// DeleteSubject removes a subject and cascades its slots and records
// atomically, returning the dependent IDs removed.
func (l *Ledger) DeleteSubject(id string) (CascadeResult, error) {
	if _, ok := l.subjects[id]; !ok {
		return CascadeResult{}, fmt.Errorf("%w: subject %s", ErrNotFound, id)
	}

	res := CascadeResult{SubjectID: id}
	for slotID, slot := range l.slots {
		if slot.SubjectID == id {
			res.SlotIDs = append(res.SlotIDs, slotID)
		}
	}
	for key, rec := range l.records {
		if rec.SubjectID == id {
			res.RecordIDs = append(res.RecordIDs, rec.ID)
			delete(l.records, key)
		}
	}
	for _, slotID := range res.SlotIDs {
		delete(l.slots, slotID)
	}
	delete(l.subjects, id)
	for i, sid := range l.order {
		if sid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	sort.Strings(res.SlotIDs)
	sort.Strings(res.RecordIDs)
	l.emit(Event{Op: OpDelete, Table: "subjects", ID: id})
	return res, nil
}

// AddSlot inserts a recurring weekly slot for an existing subject.
func (l *Ledger) AddSlot(subjectID string, day time.Weekday, startTime string, durationMin int) (LectureSlot, error) {
	if _, ok := l.subjects[subjectID]; !ok {
		return LectureSlot{}, fmt.Errorf("%w: subject %s", ErrNotFound, subjectID)
	}
	if day < time.Sunday || day > time.Saturday {
		return LectureSlot{}, fmt.Errorf("%w: invalid weekday %d", ErrValidation, day)
	}
	if _, err := time.Parse("15:04", startTime); err != nil {
		return LectureSlot{}, fmt.Errorf("%w: start time must be HH:MM", ErrValidation)
	}
	if durationMin < 0 {
		return LectureSlot{}, fmt.Errorf("%w: duration must not be negative", ErrValidation)
	}
	if durationMin == 0 {
		durationMin = 60
	}

	slot := LectureSlot{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		Day:         day,
		StartTime:   startTime,
		DurationMin: durationMin,
	}
	l.slots[slot.ID] = &slot
	l.emit(Event{Op: OpInsert, Table: "lecture_slots", ID: slot.ID})
	return slot, nil
}

// DeleteSlot removes a slot. Its records survive as legacy whole-day
// records only if re-marked; existing slot records are removed with it.
func (l *Ledger) DeleteSlot(id string) error {
	slot, ok := l.slots[id]
	if !ok {
		return fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	for key, rec := range l.records {
		if rec.SlotID != nil && *rec.SlotID == id {
			delete(l.records, key)
		}
	}
	subjectID := slot.SubjectID
	delete(l.slots, id)
	l.recount(subjectID)
	l.emit(Event{Op: OpDelete, Table: "lecture_slots", ID: id})
	return nil
}

// UpsertParams carries one attendance mark.
type UpsertParams struct {
	SubjectID     string
	SlotID        *string
	Date          string // DateLayout
	Status        Status
	HoursLogged   int
	DutyRequested bool
	DutyApproved  bool
	DutyReason    *string
}

// UpsertRecord enforces the uniqueness invariant: at most one record
// per (subject, date, slot). A later write for the same key replaces
// the earlier one. The subject's counters are recomputed from the full
// record set, never incrementally.
func (l *Ledger) UpsertRecord(p UpsertParams) (AttendanceRecord, error) {
	if _, ok := l.subjects[p.SubjectID]; !ok {
		return AttendanceRecord{}, fmt.Errorf("%w: subject %s", ErrNotFound, p.SubjectID)
	}
	if _, err := time.Parse(DateLayout, p.Date); err != nil {
		return AttendanceRecord{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if !p.Status.Valid() {
		return AttendanceRecord{}, fmt.Errorf("%w: unknown status %q", ErrValidation, p.Status)
	}
	if p.SlotID != nil && *p.SlotID != "" {
		slot, ok := l.slots[*p.SlotID]
		if !ok || slot.SubjectID != p.SubjectID {
			return AttendanceRecord{}, fmt.Errorf("%w: slot %s", ErrNotFound, *p.SlotID)
		}
	}
	if p.HoursLogged < 0 {
		return AttendanceRecord{}, fmt.Errorf("%w: hours logged must be >= 1", ErrValidation)
	}
	if p.HoursLogged == 0 {
		p.HoursLogged = 1
	}

	key := RecordKey(p.SubjectID, p.Date, p.SlotID)
	rec := AttendanceRecord{
		SubjectID:     p.SubjectID,
		SlotID:        p.SlotID,
		Date:          p.Date,
		Status:        p.Status,
		HoursLogged:   p.HoursLogged,
		DutyRequested: p.DutyRequested,
		DutyApproved:  p.DutyApproved,
		DutyReason:    p.DutyReason,
		UpdatedAt:     time.Now().UTC(),
	}

	op := OpInsert
	if prev, ok := l.records[key]; ok {
		rec.ID = prev.ID // stable identity across upserts of the same key
		op = OpUpdate
	} else {
		rec.ID = uuid.NewString()
	}
	l.records[key] = &rec
	l.recount(p.SubjectID)
	l.emit(Event{Op: op, Table: "attendance_logs", ID: rec.ID})
	return rec, nil
}

// ApplySubject installs a subject as-is (remote echo replay or import),
// keeping creation order stable for known subjects.
func (l *Ledger) ApplySubject(sub Subject) {
	if _, ok := l.subjects[sub.ID]; !ok {
		l.order = append(l.order, sub.ID)
	}
	l.subjects[sub.ID] = &sub
	l.recount(sub.ID)
}

// ApplySlot installs a slot as-is, dropped when its subject is gone.
func (l *Ledger) ApplySlot(slot LectureSlot) {
	if _, ok := l.subjects[slot.SubjectID]; !ok {
		return
	}
	l.slots[slot.ID] = &slot
}

// ApplyRecord installs a record as-is (remote echo or import), still
// honoring the uniqueness key.
func (l *Ledger) ApplyRecord(rec AttendanceRecord) {
	if _, ok := l.subjects[rec.SubjectID]; !ok {
		return
	}
	l.records[rec.Key()] = &rec
	l.recount(rec.SubjectID)
}

// recount rebuilds a subject's counters from the full record set.
// Held counts every record; attended counts present marks plus duty
// leaves when settings include them.
func (l *Ledger) recount(subjectID string) {
	sub, ok := l.subjects[subjectID]
	if !ok {
		return
	}
	held, attended := 0, 0
	for _, rec := range l.records {
		if rec.SubjectID != subjectID {
			continue
		}
		held++
		switch rec.Status {
		case StatusPresent:
			attended++
		case StatusDutyLeave:
			if l.settings.IncludeDutyLeaves {
				attended++
			}
		}
	}
	sub.ClassesHeld = held
	sub.ClassesAttended = attended
}

// StatsFor recomputes the derived projection for one subject. It is
// never cached across mutations.
func (l *Ledger) StatsFor(subjectID string) (Stats, error) {
	sub, ok := l.subjects[subjectID]
	if !ok {
		return Stats{}, fmt.Errorf("%w: subject %s", ErrNotFound, subjectID)
	}
	pct := analytics.Percentage(sub.ClassesAttended, sub.ClassesHeld)
	return Stats{
		ClassesHeld:     sub.ClassesHeld,
		ClassesAttended: sub.ClassesAttended,
		Percentage:      pct,
		AtRisk:          pct < sub.TargetPercent,
	}, nil
}

// AdviceFor runs the analytics advisory against a subject's counters.
func (l *Ledger) AdviceFor(subjectID string) (analytics.Advice, error) {
	sub, ok := l.subjects[subjectID]
	if !ok {
		return analytics.Advice{}, fmt.Errorf("%w: subject %s", ErrNotFound, subjectID)
	}
	return analytics.Advise(sub.ClassesAttended, sub.ClassesHeld, len(sub.Days), sub.TargetPercent), nil
}

// Band labels for the at-risk report.
const (
	BandOK       = "ok"
	BandWarning  = "warning"
	BandCritical = "critical"
)

// ReportRow is one subject's line in the at-risk report.
type ReportRow struct {
	SubjectID     string  `json:"subject_id"`
	SubjectName   string  `json:"subject_name"`
	TargetPercent float64 `json:"target_percent"`
	Stats         Stats   `json:"stats"`
	Band          string  `json:"band"`
}

// Report bands every subject by the settings thresholds: below critical
// is critical, below warning is warning, anything else ok. Subjects come
// back in creation order.
func (l *Ledger) Report() []ReportRow {
	out := make([]ReportRow, 0, len(l.order))
	for _, id := range l.order {
		sub, ok := l.subjects[id]
		if !ok {
			continue
		}
		stats, err := l.StatsFor(id)
		if err != nil {
			continue
		}
		band := BandOK
		switch {
		case stats.Percentage < l.settings.CriticalThreshold:
			band = BandCritical
		case stats.Percentage < l.settings.WarningThreshold:
			band = BandWarning
		}
		out = append(out, ReportRow{
			SubjectID:     sub.ID,
			SubjectName:   sub.Name,
			TargetPercent: sub.TargetPercent,
			Stats:         stats,
			Band:          band,
		})
	}
	return out
}

// SlotsForDate returns the slots occurring on date's weekday whose
// subject still exists, ordered by start time, ties broken by subject
// name.
func (l *Ledger) SlotsForDate(date time.Time) []LectureSlot {
	day := date.Weekday()
	var out []LectureSlot
	for _, slot := range l.slots {
		if slot.Day != day {
			continue
		}
		if _, ok := l.subjects[slot.SubjectID]; !ok {
			continue
		}
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return l.subjects[out[i].SubjectID].Name < l.subjects[out[j].SubjectID].Name
	})
	return out
}

// Subject returns one subject by id.
func (l *Ledger) Subject(id string) (Subject, bool) {
	sub, ok := l.subjects[id]
	if !ok {
		return Subject{}, false
	}
	return *sub, true
}

// Subjects returns all subjects in creation order.
func (l *Ledger) Subjects() []Subject {
	out := make([]Subject, 0, len(l.order))
	for _, id := range l.order {
		if sub, ok := l.subjects[id]; ok {
			out = append(out, *sub)
		}
	}
	return out
}

// Slots returns all slots, ordered by subject then day then start time.
func (l *Ledger) Slots() []LectureSlot {
	out := make([]LectureSlot, 0, len(l.slots))
	for _, slot := range l.slots {
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

// Records returns all records ordered by subject creation order, then
// date.
func (l *Ledger) Records() []AttendanceRecord {
	rank := make(map[string]int, len(l.order))
	for i, id := range l.order {
		rank[id] = i
	}
	out := make([]AttendanceRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubjectID != out[j].SubjectID {
			return rank[out[i].SubjectID] < rank[out[j].SubjectID]
		}
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// RecordsFor returns one subject's records ordered by date.
func (l *Ledger) RecordsFor(subjectID string) []AttendanceRecord {
	var out []AttendanceRecord
	for _, rec := range l.records {
		if rec.SubjectID == subjectID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Len reports the number of records held.
func (l *Ledger) Len() int { return len(l.records) }

// Settings returns the current settings.
func (l *Ledger) Settings() Settings { return l.settings }

// SetSettings validates and replaces settings, then recounts every
// subject because the duty-leave inclusion rule may have flipped.
func (l *Ledger) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()
	l.settings = s
	for id := range l.subjects {
		l.recount(id)
	}
	l.emit(Event{Op: OpUpdate, Table: "user_settings", ID: l.userID})
	return nil
}

// Snapshot copies the whole ledger.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		UserID:   l.userID,
		Subjects: l.Subjects(),
		Slots:    l.Slots(),
		Records:  l.Records(),
		Settings: l.settings,
	}
}

// Restore replaces the whole ledger with a snapshot (initial pull /
// guest load). No partial merge.
func (l *Ledger) Restore(snap Snapshot) {
	l.userID = snap.UserID
	l.subjects = make(map[string]*Subject, len(snap.Subjects))
	l.order = l.order[:0]
	for i := range snap.Subjects {
		sub := snap.Subjects[i]
		l.subjects[sub.ID] = &sub
		l.order = append(l.order, sub.ID)
	}
	l.slots = make(map[string]*LectureSlot, len(snap.Slots))
	for i := range snap.Slots {
		slot := snap.Slots[i]
		l.slots[slot.ID] = &slot
	}
	l.records = make(map[string]*AttendanceRecord, len(snap.Records))
	for i := range snap.Records {
		rec := snap.Records[i]
		l.records[rec.Key()] = &rec
	}
	l.settings = snap.Settings
	for id := range l.subjects {
		l.recount(id)
	}
	l.emit(Event{Op: OpReplace, Table: "*", ID: l.userID})
}

// ReplaceSubjects swaps the subjects slice wholesale (realtime merge).
// Slots and records referencing vanished subjects are purged, matching
// the cascade invariant.
func (l *Ledger) ReplaceSubjects(subs []Subject) {
	l.subjects = make(map[string]*Subject, len(subs))
	l.order = l.order[:0]
	for i := range subs {
		sub := subs[i]
		l.subjects[sub.ID] = &sub
		l.order = append(l.order, sub.ID)
	}
	for id, slot := range l.slots {
		if _, ok := l.subjects[slot.SubjectID]; !ok {
			delete(l.slots, id)
		}
	}
	for key, rec := range l.records {
		if _, ok := l.subjects[rec.SubjectID]; !ok {
			delete(l.records, key)
		}
	}
	for id := range l.subjects {
		l.recount(id)
	}
	l.emit(Event{Op: OpReplace, Table: "subjects", ID: l.userID})
}

// ReplaceSlots swaps the slots slice wholesale, dropping orphans.
func (l *Ledger) ReplaceSlots(slots []LectureSlot) {
	l.slots = make(map[string]*LectureSlot, len(slots))
	for i := range slots {
		slot := slots[i]
		if _, ok := l.subjects[slot.SubjectID]; !ok {
			continue
		}
		l.slots[slot.ID] = &slot
	}
	l.emit(Event{Op: OpReplace, Table: "lecture_slots", ID: l.userID})
}

// ReplaceRecords swaps the records slice wholesale, dropping orphans
// and deduplicating by upsert key (last one wins within the input).
func (l *Ledger) ReplaceRecords(recs []AttendanceRecord) {
	l.records = make(map[string]*AttendanceRecord, len(recs))
	for i := range recs {
		rec := recs[i]
		if _, ok := l.subjects[rec.SubjectID]; !ok {
			continue
		}
		l.records[rec.Key()] = &rec
	}
	for id := range l.subjects {
		l.recount(id)
	}
	l.emit(Event{Op: OpReplace, Table: "attendance_logs", ID: l.userID})
}
