package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"classtrack/internal/ledger"
	"classtrack/internal/syncer"
)

// NotifyFunc delivers one lecture reminder to a user.
type NotifyFunc func(userID string, subject ledger.Subject, slot ledger.LectureSlot)

// Scheduler runs the periodic jobs of the service: a minutely reminder
// check for unmarked lectures, and a daily pass that auto-marks weekend
// slots for users who opted in.
type Scheduler struct {
	cronEngine   *cron.Cron
	manager      *syncer.Manager
	notify       NotifyFunc
	log          logrus.FieldLogger
	reminderSpec string
	autoMarkSpec string
	now          func() time.Time
}

func New(manager *syncer.Manager, notify NotifyFunc, log logrus.FieldLogger, reminderSpec, autoMarkSpec string) *Scheduler {
	return &Scheduler{
		cronEngine:   cron.New(cron.WithLocation(time.Local)),
		manager:      manager,
		notify:       notify,
		log:          log,
		reminderSpec: reminderSpec,
		autoMarkSpec: autoMarkSpec,
		now:          time.Now,
	}
}

// Start registers both jobs and launches the cron engine. Bad specs are
// fatal: the service cannot run its jobs with a broken schedule.
func (s *Scheduler) Start() {
	if _, err := s.cronEngine.AddFunc(s.reminderSpec, s.runReminders); err != nil {
		s.log.WithError(err).Fatal("invalid reminder cron spec")
	}
	if _, err := s.cronEngine.AddFunc(s.autoMarkSpec, s.runAutoMark); err != nil {
		s.log.WithError(err).Fatal("invalid auto-mark cron spec")
	}
	s.cronEngine.Start()
	s.log.WithFields(logrus.Fields{
		"reminder_spec": s.reminderSpec,
		"automark_spec": s.autoMarkSpec,
	}).Info("scheduler started")
}

// Stop halts the engine and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cronEngine.Stop().Done()
	s.log.Info("scheduler stopped")
}

// runReminders fires the notify callback for every lecture of today that
// is still unmarked, for users whose configured notification time matches
// the current minute.
func (s *Scheduler) runReminders() {
	now := s.now()
	minute := now.Format("15:04")
	s.manager.Each(func(userID string, c *syncer.Coordinator) {
		settings := c.Settings()
		if !settings.NotificationsEnabled || settings.NotificationTime != minute {
			return
		}
		s.remindUser(userID, c, now)
	})
}

func (s *Scheduler) remindUser(userID string, c *syncer.Coordinator, now time.Time) {
	slots := c.SlotsForDate(now)
	if len(slots) == 0 {
		return
	}
	snap := c.Snapshot()
	marked := make(map[string]bool, len(snap.Records))
	for _, rec := range snap.Records {
		marked[rec.Key()] = true
	}
	subjects := make(map[string]ledger.Subject, len(snap.Subjects))
	for _, sub := range snap.Subjects {
		subjects[sub.ID] = sub
	}
	date := now.Format(ledger.DateLayout)
	for _, slot := range slots {
		slotID := slot.ID
		if marked[ledger.RecordKey(slot.SubjectID, date, &slotID)] {
			continue
		}
		sub, ok := subjects[slot.SubjectID]
		if !ok {
			continue
		}
		s.log.WithFields(logrus.Fields{
			"user":    userID,
			"subject": sub.Name,
			"slot":    slot.ID,
		}).Debug("reminder fired")
		s.notify(userID, sub, slot)
	}
}

// runAutoMark marks today's slots present for opted-in users. The job
// runs daily and only acts on Saturdays and Sundays.
func (s *Scheduler) runAutoMark() {
	now := s.now()
	if wd := now.Weekday(); wd != time.Saturday && wd != time.Sunday {
		return
	}
	date := now.Format(ledger.DateLayout)
	s.manager.Each(func(userID string, c *syncer.Coordinator) {
		if !c.Settings().AutoMarkWeekends {
			return
		}
		snap := c.Snapshot()
		marked := make(map[string]bool, len(snap.Records))
		for _, rec := range snap.Records {
			marked[rec.Key()] = true
		}
		for _, slot := range c.SlotsForDate(now) {
			slotID := slot.ID
			if marked[ledger.RecordKey(slot.SubjectID, date, &slotID)] {
				continue
			}
			if _, err := c.MarkAttendance(ledger.UpsertParams{
				SubjectID: slot.SubjectID,
				SlotID:    &slotID,
				Date:      date,
				Status:    ledger.StatusPresent,
			}); err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"user": userID,
					"slot": slot.ID,
				}).Warn("weekend auto-mark failed")
			}
		}
	})
}
