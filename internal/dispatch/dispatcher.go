// Package dispatch periodically sweeps the reminder candidates and publishes
// a proposal for each one whose learned time window covers the current
// moment. The sweep is read-and-publish only; it mutates no aggregate, so
// the engine's lazy-expiry model is unaffected.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Andriy31193/aipatterner/internal/channels"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/store"
	"github.com/Andriy31193/aipatterner/internal/types"
)

// Publisher delivers proposals; implemented by the MQTT channel.
type Publisher interface {
	PublishProposal(ctx context.Context, p channels.Proposal) error
}

// Dispatcher owns the cron schedule of the sweep.
type Dispatcher struct {
	reminders store.Reminders
	pub       Publisher
	pol       policy.Snapshot
	schedule  string
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Dispatcher sweeping on the given cron schedule (descriptors
// like "@every 1m" are accepted).
func New(reminders store.Reminders, pub Publisher, pol policy.Snapshot, schedule string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		reminders: reminders,
		pub:       pub,
		pol:       pol,
		schedule:  schedule,
		logger:    logger.With("component", "dispatch"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start registers and starts the cron job.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.cron = cron.New()
	_, err := d.cron.AddFunc(d.schedule, func() {
		if err := d.Sweep(ctx); err != nil {
			d.logger.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("dispatch: schedule %q: %w", d.schedule, err)
	}
	d.cron.Start()
	d.logger.Info("dispatcher started", "schedule", d.schedule)
	return nil
}

// Stop halts the cron schedule and waits for a running sweep.
func (d *Dispatcher) Stop() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
}

// Sweep publishes a proposal for every active candidate that is due now:
// its time window center within the configured offset of the current time
// of day and its confidence at or above the auto threshold.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	candidates, err := d.reminders.GetFiltered(ctx, store.Filter{Status: string(types.ReminderActive)})
	if err != nil {
		return fmt.Errorf("dispatch: list candidates: %w", err)
	}

	now := d.now()
	nowTOD := types.TimeOfDay(now)
	published := 0
	for _, c := range candidates {
		if c.Confidence < d.pol.Learning.ExecuteAutoThreshold {
			continue
		}
		if types.TimeOfDayDiff(nowTOD, c.TimeWindowCenter) > d.pol.TimeOffset() {
			continue
		}
		p := channels.Proposal{
			ReminderID:      c.ID,
			PersonID:        c.PersonID,
			SuggestedAction: c.SuggestedAction,
			Confidence:      c.Confidence,
			Occurrence:      c.Occurrence,
			ProposedAt:      now,
		}
		if err := d.pub.PublishProposal(ctx, p); err != nil {
			d.logger.Warn("proposal publish failed", "reminder", c.ID, "error", err)
			continue
		}
		published++
	}
	if published > 0 {
		d.logger.Debug("sweep complete", "published", published, "candidates", len(candidates))
	}
	return nil
}
