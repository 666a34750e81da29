// Package dispatch runs the per-campaign send loops and the scheduler that
// starts scheduled campaigns.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/beacon/internal/campaign"
	"github.com/foxzi/beacon/internal/metrics"
	"github.com/foxzi/beacon/internal/render"
)

// Store is the persistence needed by the dispatcher
type Store interface {
	Meta(ctx context.Context, id string) (*campaign.Campaign, error)
	RecipientCount(ctx context.Context, id string) (int, error)
	RecipientAt(ctx context.Context, id string, pos int) (*campaign.Campaign, *campaign.Recipient, error)
	BeginSend(ctx context.Context, id, userID string) (*campaign.DispatchJob, error)
	RecordDelivery(ctx context.Context, id string, pos int, at time.Time) error
	RecordFailure(ctx context.Context, id string, pos int, reason string) error
	FinishSend(ctx context.Context, id string) error
	InterruptSend(ctx context.Context, id, reason string) error
	ListJobs(ctx context.Context, status campaign.JobStatus) ([]*campaign.DispatchJob, error)
	ListDue(ctx context.Context, now time.Time) ([]*campaign.Campaign, error)
}

// Mailer delivers one rendered message
type Mailer interface {
	Ready(ctx context.Context) error
	SendMail(ctx context.Context, to, subject, html string) error
}

// Config contains dispatcher configuration
type Config struct {
	MinDelay          time.Duration
	MaxDelay          time.Duration
	SendTimeout       time.Duration
	ResumeInterrupted bool
	ScheduleInterval  time.Duration
}

// Ack acknowledges an accepted send
type Ack struct {
	CampaignID      string `json:"campaignId"`
	TotalRecipients int    `json:"totalRecipients"`
}

// Dispatcher sends campaigns one recipient at a time. Every campaign gets its
// own sequential loop; loops of different campaigns run concurrently and
// share the mailer's connection pool.
type Dispatcher struct {
	store    Store
	mailer   Mailer
	renderer *render.Renderer
	cfg      Config
	logger   *slog.Logger

	// base outlives the request that started a send
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]struct{}
	// held maps due campaigns the scheduler could not start to the reason
	// last logged
	held   map[string]string

	loops  sync.WaitGroup
	sched  sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once

	now   func() time.Time
	newID func() string
}

// New creates a dispatcher
func New(store Store, mailer Mailer, renderer *render.Renderer, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Minute
	}
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = 30 * time.Second
	}

	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:    store,
		mailer:   mailer,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger,
		base:     base,
		cancel:   cancel,
		active:   make(map[string]struct{}),
		held:     make(map[string]string),
		stopCh:   make(chan struct{}),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Start resumes dispatch jobs left running by a previous process and starts
// the scheduler.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.Resume(ctx); err != nil {
		return err
	}

	d.logger.Info("starting scheduler", "interval", d.cfg.ScheduleInterval)
	d.sched.Add(1)
	go d.scheduleLoop(ctx)
	return nil
}

// Stop stops the scheduler and waits for running loops to pause. Loops stop
// between recipients and leave their job running so that the next start
// resumes them.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.stopCh)
		d.cancel()
	})
	d.sched.Wait()
	d.loops.Wait()
	d.logger.Info("dispatcher stopped")
}

// Wait blocks until every running send loop has returned
func (d *Dispatcher) Wait() {
	d.loops.Wait()
}

// Active returns the number of running send loops
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Send validates and starts a campaign send on behalf of userID. It returns
// as soon as the campaign is marked sending; delivery continues in the
// background.
func (d *Dispatcher) Send(ctx context.Context, campaignID, userID string) (*Ack, error) {
	if err := d.precheck(ctx, campaignID, userID); err != nil {
		return nil, err
	}
	if err := d.mailer.Ready(ctx); err != nil {
		return nil, err
	}

	job, err := d.store.BeginSend(ctx, campaignID, userID)
	if err != nil {
		return nil, err
	}

	metrics.IncDispatchJobs("started")
	d.logger.Info("campaign send started",
		"campaign_id", campaignID,
		"user_id", userID,
		"recipients", job.Total,
	)
	d.launch(job)

	return &Ack{CampaignID: campaignID, TotalRecipients: job.Total}, nil
}

// precheck reports domain errors before the transport is consulted.
// BeginSend repeats these checks atomically.
func (d *Dispatcher) precheck(ctx context.Context, campaignID, userID string) error {
	c, err := d.store.Meta(ctx, campaignID)
	if err != nil {
		return err
	}
	if !c.Owned(userID) {
		return campaign.ErrForbidden
	}
	n, err := d.store.RecipientCount(ctx, campaignID)
	if err != nil {
		return err
	}
	if n == 0 {
		return campaign.ErrNoRecipients
	}
	if c.Status == campaign.StatusSending {
		return &campaign.StateConflictError{Op: "send", Status: c.Status}
	}
	return nil
}

// Resume restarts loops for jobs still marked running, or interrupts them
// when resuming is disabled.
func (d *Dispatcher) Resume(ctx context.Context) error {
	jobs, err := d.store.ListJobs(ctx, campaign.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}

	for _, job := range jobs {
		if d.cfg.ResumeInterrupted {
			d.logger.Info("resuming campaign send",
				"campaign_id", job.CampaignID,
				"next_index", job.NextIndex,
				"total", job.Total,
			)
			metrics.IncDispatchJobs("resumed")
			d.launch(job)
			continue
		}

		if err := d.store.InterruptSend(ctx, job.CampaignID, "interrupted by restart"); err != nil {
			d.logger.Error("failed to interrupt job", "campaign_id", job.CampaignID, "error", err)
			continue
		}
		metrics.IncDispatchJobs("interrupted")
		d.logger.Warn("campaign send interrupted",
			"campaign_id", job.CampaignID,
			"sent", job.Sent,
			"remaining", job.Remaining(),
		)
	}
	return nil
}

// launch starts the loop of job unless one is already running
func (d *Dispatcher) launch(job *campaign.DispatchJob) {
	d.mu.Lock()
	if _, ok := d.active[job.CampaignID]; ok {
		d.mu.Unlock()
		return
	}
	d.active[job.CampaignID] = struct{}{}
	d.loops.Add(1)
	d.mu.Unlock()

	go d.run(job)
}

// run delivers to every recipient from job.NextIndex on
func (d *Dispatcher) run(job *campaign.DispatchJob) {
	defer d.loops.Done()
	defer func() {
		d.mu.Lock()
		delete(d.active, job.CampaignID)
		d.mu.Unlock()
	}()

	metrics.IncDispatchActive()
	defer metrics.DecDispatchActive()

	ctx := d.base
	// Progress writes must land even when shutdown interrupts a delivery
	storeCtx := context.WithoutCancel(ctx)
	logger := d.logger.With("campaign_id", job.CampaignID)

	c, err := d.store.Meta(ctx, job.CampaignID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("failed to load campaign", "error", err)
		if err := d.store.InterruptSend(storeCtx, job.CampaignID, err.Error()); err != nil {
			logger.Error("failed to interrupt job", "error", err)
		}
		metrics.IncDispatchJobs("interrupted")
		return
	}

	for pos := job.NextIndex; pos < job.Total; pos++ {
		if pos > job.NextIndex {
			if err := d.pause(ctx); err != nil {
				logger.Info("send paused by shutdown", "next_index", pos)
				return
			}
		}
		if ctx.Err() != nil {
			logger.Info("send paused by shutdown", "next_index", pos)
			return
		}
		if !d.deliver(ctx, storeCtx, c, pos, logger) {
			logger.Info("send paused by shutdown", "next_index", pos)
			return
		}
	}

	if err := d.store.FinishSend(storeCtx, job.CampaignID); err != nil {
		logger.Error("failed to finish send", "error", err)
		return
	}
	metrics.IncDispatchJobs("completed")
	logger.Info("campaign send finished", "total", job.Total)
}

// deliver renders and sends the message for the recipient at pos and records
// the outcome. It returns false when shutdown interrupted the attempt; the
// recipient is then left for the resumed loop.
func (d *Dispatcher) deliver(ctx, storeCtx context.Context, c *campaign.Campaign, pos int, logger *slog.Logger) bool {
	_, r, err := d.store.RecipientAt(ctx, c.ID, pos)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		logger.Warn("failed to load recipient", "position", pos, "error", err)
		d.recordFailure(storeCtx, c.ID, pos, err, logger)
		return true
	}

	html := d.renderer.Render(render.Input{
		Body:          c.Body,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		CampaignID:    c.ID,
		RecipientID:   r.ID,
		Index:         pos,
		Version:       c.RecipientsVersion,
		CorrelationID: d.newID(),
	})

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.mailer.SendMail(sendCtx, r.Email, c.Subject, html)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		logger.Warn("delivery failed",
			"recipient_id", r.ID,
			"position", pos,
			"error", err,
		)
		d.recordFailure(storeCtx, c.ID, pos, err, logger)
		return true
	}

	if err := d.store.RecordDelivery(storeCtx, c.ID, pos, d.now()); err != nil {
		logger.Error("failed to record delivery", "recipient_id", r.ID, "position", pos, "error", err)
		return true
	}
	logger.Debug("message delivered", "recipient_id", r.ID, "position", pos)
	return true
}

func (d *Dispatcher) recordFailure(ctx context.Context, id string, pos int, cause error, logger *slog.Logger) {
	if err := d.store.RecordFailure(ctx, id, pos, cause.Error()); err != nil {
		logger.Error("failed to record delivery failure", "position", pos, "error", err)
	}
}

// pause waits a random delay between consecutive sends
func (d *Dispatcher) pause(ctx context.Context) error {
	delay := d.delay()
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// delay returns a duration in [MinDelay, MaxDelay]
func (d *Dispatcher) delay() time.Duration {
	span := d.cfg.MaxDelay - d.cfg.MinDelay
	if span <= 0 {
		return d.cfg.MinDelay
	}
	return d.cfg.MinDelay + rand.N(span+1)
}
