// Package scheduler fires the start and end transitions of approved
// auctions. Jobs are written to the store and mirrored by in-memory timers;
// a periodic sweep rebuilds both from auction state so restarts and missed
// writes heal on their own.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/bidding"
	"github.com/Martin-Hayot/auction-house/internal/events"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

const (
	fireTimeout    = 30 * time.Second
	publishTimeout = 2 * time.Second
)

type Registry interface {
	Lock(auctionID string) func()
	Get(ctx context.Context, auctionID string) (types.Auction, error)
	TransitionStatus(ctx context.Context, auctionID string, to types.AuctionStatus) bool
	ListByStatus(ctx context.Context, status types.AuctionStatus) ([]types.Auction, error)
	ListBids(ctx context.Context, auctionID string) ([]types.Bid, error)
}

type JobStore interface {
	UpsertJob(ctx context.Context, job types.ScheduledJob) error
	DeleteJob(ctx context.Context, auctionID string, kind types.JobKind) error
	DeleteJobs(ctx context.Context, auctionID string) error
	ListJobs(ctx context.Context) ([]types.ScheduledJob, error)
}

type Rooms interface {
	Open(ctx context.Context, auctionID string) error
	Close(auctionID string) []bidding.Member
}

type Settler interface {
	Settle(ctx context.Context, auctionID string) (types.Settlement, error)
}

type jobKey struct {
	auctionID string
	kind      types.JobKind
}

type timer struct {
	at        time.Time
	t         *time.Timer
	cancelled bool // guarded by Scheduler.mu
}

type Scheduler struct {
	registry  Registry
	jobs      JobStore
	rooms     Rooms
	settler   Settler
	publisher events.Publisher
	logger    *log.Logger
	cron      *cron.Cron

	mu       sync.Mutex
	timers   map[jobKey]*timer
	inflight sync.WaitGroup
	stopped  bool
}

// New builds a scheduler that sweeps on reconcileSpec, a cron spec such as
// "@every 30s".
func New(registry Registry, jobs JobStore, rooms Rooms, settler Settler, publisher events.Publisher, reconcileSpec string) (*Scheduler, error) {
	s := &Scheduler{
		registry:  registry,
		jobs:      jobs,
		rooms:     rooms,
		settler:   settler,
		publisher: publisher,
		logger:    log.WithPrefix("scheduler"),
		timers:    make(map[jobKey]*timer),
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	_, err := s.cron.AddFunc(reconcileSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
		defer cancel()
		if err := s.Reconcile(ctx); err != nil {
			s.logger.Warn("reconciliation incomplete", "err", err)
		}
	})
	if err != nil {
		return nil, errors.Newf(errors.KindValidation, "invalid reconcile spec %q: %v", reconcileSpec, err)
	}
	return s, nil
}

// Start begins the periodic sweep. Timers run as soon as they are scheduled.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts the sweep, disarms every timer and waits for fires in progress.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.stopped = true
	for key, entry := range s.timers {
		entry.t.Stop()
		entry.cancelled = true
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.inflight.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) ScheduleStart(ctx context.Context, auctionID string, at time.Time) error {
	return s.schedule(ctx, types.ScheduledJob{AuctionID: auctionID, Kind: types.JobStart, FireAt: at})
}

func (s *Scheduler) ScheduleEnd(ctx context.Context, auctionID string, at time.Time) error {
	return s.schedule(ctx, types.ScheduledJob{AuctionID: auctionID, Kind: types.JobEnd, FireAt: at})
}

// Cancel disarms and forgets both jobs of an auction. Cancelling an auction
// with no jobs is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, auctionID string) error {
	s.mu.Lock()
	for _, kind := range []types.JobKind{types.JobStart, types.JobEnd} {
		s.disarmLocked(jobKey{auctionID, kind})
	}
	s.mu.Unlock()

	if err := s.jobs.DeleteJobs(ctx, auctionID); err != nil {
		return errors.Wrap(err, "failed to delete scheduled jobs")
	}
	s.logger.Debug("jobs cancelled", "auction", auctionID)
	return nil
}

// Pending lists the armed jobs, used by the dashboard and tests.
func (s *Scheduler) Pending() []types.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ScheduledJob, 0, len(s.timers))
	for key, entry := range s.timers {
		out = append(out, types.ScheduledJob{AuctionID: key.auctionID, Kind: key.kind, FireAt: entry.at})
	}
	return out
}

// schedule records the job and arms its timer. A job whose fire time is in
// the past fires immediately. Re-scheduling an armed job for the same instant
// is a no-op. The timer always fires on its own goroutine, so callers may
// hold the auction lock.
func (s *Scheduler) schedule(ctx context.Context, job types.ScheduledJob) error {
	key := jobKey{job.AuctionID, job.Kind}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.Newf(errors.KindConflict, "scheduler is stopped")
	}
	if entry, ok := s.timers[key]; ok && entry.at.Equal(job.FireAt) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.jobs.UpsertJob(ctx, job); err != nil {
		return errors.Wrap(err, "failed to store scheduled job")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.Newf(errors.KindConflict, "scheduler is stopped")
	}
	s.disarmLocked(key)
	delay := time.Until(job.FireAt)
	if delay < 0 {
		delay = 0
	}
	entry := &timer{at: job.FireAt}
	entry.t = time.AfterFunc(delay, func() { s.fire(key, entry) })
	s.timers[key] = entry
	s.logger.Debug("job scheduled", "auction", job.AuctionID, "kind", job.Kind, "at", job.FireAt)
	return nil
}

func (s *Scheduler) disarmLocked(key jobKey) {
	if entry, ok := s.timers[key]; ok {
		entry.t.Stop()
		entry.cancelled = true
		delete(s.timers, key)
	}
}

func (s *Scheduler) isCancelled(entry *timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entry.cancelled
}

func (s *Scheduler) fire(key jobKey, entry *timer) {
	s.mu.Lock()
	if s.stopped || entry.cancelled {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	switch key.kind {
	case types.JobStart:
		s.runStart(ctx, key.auctionID, entry)
	case types.JobEnd:
		s.runEnd(ctx, key.auctionID, entry)
	}

	s.mu.Lock()
	if s.timers[key] == entry {
		delete(s.timers, key)
	}
	s.mu.Unlock()
}

func (s *Scheduler) runStart(ctx context.Context, auctionID string, entry *timer) {
	unlock := s.registry.Lock(auctionID)
	// Cancel runs under the auction lock, so this check cannot race it.
	if s.isCancelled(entry) {
		unlock()
		return
	}
	before, err := s.registry.Get(ctx, auctionID)
	if err != nil || !s.registry.TransitionStatus(ctx, auctionID, types.StatusOnGoing) {
		unlock()
		s.miss(ctx, auctionID, types.JobStart, err)
		return
	}
	if err := s.rooms.Open(ctx, auctionID); err != nil {
		s.logger.Error("failed to open room", "auction", auctionID, "err", err)
	}
	unlock()

	if before.Status != types.StatusOnGoing {
		s.publish(events.NewEvent(events.AuctionStarted, auctionID, map[string]any{
			"start_date": before.StartDate,
			"end_date":   before.EndDate,
		}))
	}
	if err := s.jobs.DeleteJob(ctx, auctionID, types.JobStart); err != nil {
		s.logger.Warn("failed to delete fired job", "auction", auctionID, "kind", types.JobStart, "err", err)
	}
	if before.EndDate == nil {
		s.logger.Error("ongoing auction has no end date", "auction", auctionID)
		return
	}
	if err := s.ScheduleEnd(ctx, auctionID, *before.EndDate); err != nil {
		s.logger.Error("failed to schedule end, reconciliation will retry", "auction", auctionID, "err", err)
	}
}

func (s *Scheduler) runEnd(ctx context.Context, auctionID string, entry *timer) {
	unlock := s.registry.Lock(auctionID)
	if s.isCancelled(entry) {
		unlock()
		return
	}
	before, err := s.registry.Get(ctx, auctionID)
	if err != nil || !s.registry.TransitionStatus(ctx, auctionID, types.StatusClosed) {
		unlock()
		s.miss(ctx, auctionID, types.JobEnd, err)
		return
	}
	members := s.rooms.Close(auctionID)
	unlock()

	settlement, err := s.settler.Settle(ctx, auctionID)
	if err != nil {
		s.logger.Error("settlement failed, reconciliation will retry", "auction", auctionID, "err", err)
		bidding.AnnounceClose(members, auctionID, nil)
	} else {
		bidding.AnnounceClose(members, auctionID, &settlement)
	}

	if before.Status != types.StatusClosed {
		s.publish(events.NewEvent(events.AuctionClosed, auctionID, settlement))
	}
	if err := s.jobs.DeleteJob(ctx, auctionID, types.JobEnd); err != nil {
		s.logger.Warn("failed to delete fired job", "auction", auctionID, "kind", types.JobEnd, "err", err)
	}
}

// miss drops a job whose auction is gone or no longer in the expected
// state. It is never reported to users.
func (s *Scheduler) miss(ctx context.Context, auctionID string, kind types.JobKind, cause error) {
	err := errors.Newf(errors.KindSchedulerMiss, "%s job for auction %s dropped", kind, auctionID)
	if cause != nil {
		err.Err = cause
	}
	s.logger.Warn("scheduler miss", "auction", auctionID, "kind", kind, "err", err)
	if err := s.jobs.DeleteJob(ctx, auctionID, kind); err != nil {
		s.logger.Debug("failed to delete missed job", "auction", auctionID, "err", err)
	}
}

func (s *Scheduler) publish(event events.Event) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "type", event.Type, "auction", event.AuctionID, "err", err)
	}
}
