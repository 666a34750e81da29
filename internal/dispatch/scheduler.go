package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/foxzi/beacon/internal/campaign"
)

// scheduleLoop periodically starts campaigns whose schedule time has passed
func (d *Dispatcher) scheduleLoop(ctx context.Context) {
	defer d.sched.Done()

	ticker := time.NewTicker(d.cfg.ScheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if _, err := d.DispatchDue(ctx); err != nil {
				d.logger.Error("failed to dispatch scheduled campaigns", "error", err)
			}
		}
	}
}

// DispatchDue starts every scheduled campaign that is due, on behalf of its
// owner, and returns the number of sends started.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	due, err := d.store.ListDue(ctx, d.now())
	if err != nil {
		return 0, err
	}

	started := 0
	seen := make(map[string]bool, len(due))
	for _, c := range due {
		seen[c.ID] = true
		if _, err := d.Send(ctx, c.ID, c.UserID); err != nil {
			var conflict *campaign.StateConflictError
			if errors.As(err, &conflict) {
				continue
			}
			// A campaign stays due until it can start; log each reason once
			if d.hold(c.ID, err.Error()) {
				d.logger.Warn("scheduled campaign not sent",
					"campaign_id", c.ID,
					"error", err,
				)
			}
			continue
		}
		d.release(c.ID)
		started++
	}
	d.pruneHeld(seen)

	if started > 0 {
		d.logger.Info("scheduled campaigns started", "count", started)
	}
	return started, nil
}

// hold records why a due campaign was not started and reports whether the
// reason is new
func (d *Dispatcher) hold(id, reason string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held[id] == reason {
		return false
	}
	d.held[id] = reason
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.held, id)
	d.mu.Unlock()
}

// pruneHeld forgets campaigns that are no longer due
func (d *Dispatcher) pruneHeld(due map[string]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.held {
		if !due[id] {
			delete(d.held, id)
		}
	}
}
