package syncer

import (
	"context"
	"fmt"

	"classtrack/internal/ledger"
	"classtrack/internal/metrics"
	"classtrack/internal/remote"
)

// Migrate moves a guest-built ledger into the remote store when the
// user signs up or in. The snapshot is re-keyed to the new user id and
// submitted as a batch of upserts; the account's own default settings
// row is superseded only if the guest settings are newer. If any row
// fails, the migration is reported failed and the guest data stays in
// the local store for retry; it is never deleted on failure.
func (c *Coordinator) Migrate(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id required", ErrNotAuthenticated)
	}
	c.mu.Lock()
	if c.state != StateGuest {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot migrate from state %s", state)
	}
	c.state = StateMigrating
	snap := c.ledger.Snapshot()
	c.mu.Unlock()

	snap.UserID = userID
	err := c.pushSnapshot(ctx, userID, snap)
	if err != nil {
		c.mu.Lock()
		c.state = StateGuest
		c.mu.Unlock()
		metrics.Migrations.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrMigrationPartial, err)
	}

	// Only a fully transferred ledger clears the guest copy.
	if c.local != nil {
		if err := c.local.Clear(); err != nil {
			c.log.WithError(err).Warn("guest store clear failed after migration")
		}
	}
	metrics.Migrations.WithLabelValues("ok").Inc()

	c.mu.Lock()
	c.state = StateGuest // SignIn drives the syncing/synced transition
	c.mu.Unlock()
	return c.SignIn(ctx, userID)
}

func (c *Coordinator) pushSnapshot(ctx context.Context, userID string, snap ledger.Snapshot) error {
	for _, sub := range snap.Subjects {
		row := remote.SubjectRow(userID, sub)
		if err := c.remote.Upsert(ctx, remote.TableSubjects, row, remote.ConflictCols(remote.TableSubjects, row)); err != nil {
			return fmt.Errorf("subject %s: %w", sub.ID, err)
		}
	}
	for _, slot := range snap.Slots {
		row := remote.SlotRow(userID, slot)
		if err := c.remote.Upsert(ctx, remote.TableSlots, row, remote.ConflictCols(remote.TableSlots, row)); err != nil {
			return fmt.Errorf("slot %s: %w", slot.ID, err)
		}
	}
	for _, rec := range snap.Records {
		row := remote.RecordRow(userID, rec)
		if err := c.remote.Upsert(ctx, remote.TableLogs, row, remote.ConflictCols(remote.TableLogs, row)); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}

	// The account's default settings row (created on sign-up) wins only
	// when it is newer than the guest settings: latest-timestamp
	// reconciliation, never a silent duplicate.
	existing, err := c.remote.SelectAll(ctx, remote.TableSettings, userID)
	if err != nil {
		return fmt.Errorf("settings probe: %w", err)
	}
	if len(existing) > 0 {
		current := remote.SettingsFromRow(existing[0])
		if current.UpdatedAt.After(snap.Settings.UpdatedAt) {
			return nil
		}
	}
	row := remote.SettingsRow(userID, snap.Settings)
	if err := c.remote.Upsert(ctx, remote.TableSettings, row, remote.ConflictCols(remote.TableSettings, row)); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}
