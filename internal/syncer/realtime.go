package syncer

import (
	"context"
	"time"

	"classtrack/internal/ledger"
	"classtrack/internal/metrics"
	"classtrack/internal/remote"
)

// startSubscription opens the realtime feed for userID, replacing any
// previous subscription.
func (c *Coordinator) startSubscription(userID string) {
	c.mu.Lock()
	if c.cancelSub != nil {
		c.cancelSub()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelSub = cancel
	c.mu.Unlock()

	go c.runSubscription(ctx, userID)
}

// runSubscription consumes pushed changes until ctx is cancelled,
// re-establishing the feed with backoff on connectivity loss.
func (c *Coordinator) runSubscription(ctx context.Context, userID string) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		events, err := c.remote.Subscribe(ctx, userID)
		if err != nil {
			c.log.WithError(err).Warn("realtime subscribe failed, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for change := range events {
			c.handleChange(ctx, userID, change)
		}
		// Channel closed: connectivity loss or sign-out. Loop re-subscribes
		// unless the context is gone.
	}
}

// handleChange merges one pushed notification: the affected table is
// re-fetched wholesale and that slice of the ledger replaced,
// last-writer-wins at the row level. Still-pending optimistic writes
// are re-applied afterwards so an interleaved server echo cannot
// discard an unacknowledged local edit.
func (c *Coordinator) handleChange(ctx context.Context, userID string, change remote.Change) {
	metrics.RealtimeEvents.WithLabelValues(change.Table).Inc()

	fctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	switch change.Table {
	case remote.TableSubjects:
		rows, err := c.remote.SelectAll(fctx, remote.TableSubjects, userID)
		if err != nil {
			c.log.WithError(err).Warn("realtime re-fetch failed")
			return
		}
		subs := make([]ledger.Subject, 0, len(rows))
		for _, r := range rows {
			if sub, err := remote.SubjectFromRow(r); err == nil {
				subs = append(subs, sub)
			}
		}
		c.mu.Lock()
		c.ledger.ReplaceSubjects(subs)
		c.reapplyPending(remote.TableSubjects)
		c.mu.Unlock()

	case remote.TableSlots:
		rows, err := c.remote.SelectAll(fctx, remote.TableSlots, userID)
		if err != nil {
			c.log.WithError(err).Warn("realtime re-fetch failed")
			return
		}
		slots := make([]ledger.LectureSlot, 0, len(rows))
		for _, r := range rows {
			if slot, err := remote.SlotFromRow(r); err == nil {
				slots = append(slots, slot)
			}
		}
		c.mu.Lock()
		c.ledger.ReplaceSlots(slots)
		c.reapplyPending(remote.TableSlots)
		c.mu.Unlock()

	case remote.TableLogs:
		rows, err := c.remote.SelectAll(fctx, remote.TableLogs, userID)
		if err != nil {
			c.log.WithError(err).Warn("realtime re-fetch failed")
			return
		}
		recs := make([]ledger.AttendanceRecord, 0, len(rows))
		for _, r := range rows {
			if rec, err := remote.RecordFromRow(r); err == nil {
				recs = append(recs, rec)
			}
		}
		c.mu.Lock()
		c.ledger.ReplaceRecords(recs)
		c.reapplyPending(remote.TableLogs)
		c.mu.Unlock()

	case remote.TableSettings:
		rows, err := c.remote.SelectAll(fctx, remote.TableSettings, userID)
		if err != nil || len(rows) == 0 {
			return
		}
		s := remote.SettingsFromRow(rows[0])
		c.mu.Lock()
		if err := c.ledger.SetSettings(s); err != nil {
			c.log.WithError(err).Warn("pushed settings rejected")
		}
		c.reapplyPending(remote.TableSettings)
		c.mu.Unlock()
	}
}

// reapplyPending replays unacknowledged optimistic writes for a table
// after its slice was replaced. Caller holds mu.
func (c *Coordinator) reapplyPending(table string) {
	for _, pw := range c.pending {
		if pw.table == table {
			pw.reapply(c.ledger)
		}
	}
}
