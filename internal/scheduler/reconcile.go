package scheduler

import (
	"context"

	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
)

// Reconcile rebuilds jobs from auction state. Upcoming auctions get a start
// job at their start date and ongoing ones get an open room and an end job;
// dates already past fire at once. Stored jobs whose auction moved on are
// dropped, and closed auctions that have bids but no winner are settled
// again. It keeps going after individual failures and returns them joined.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	var errs []error

	upcoming, err := s.registry.ListByStatus(ctx, types.StatusUpComing)
	if err != nil {
		return errors.Wrap(err, "failed to list upcoming auctions")
	}
	for _, a := range upcoming {
		if err := s.ScheduleStart(ctx, a.ID, a.StartDate); err != nil {
			errs = append(errs, err)
		}
	}

	ongoing, err := s.registry.ListByStatus(ctx, types.StatusOnGoing)
	if err != nil {
		return errors.Wrap(err, "failed to list ongoing auctions")
	}
	for _, a := range ongoing {
		unlock := s.registry.Lock(a.ID)
		err := s.rooms.Open(ctx, a.ID)
		unlock()
		if err != nil {
			errs = append(errs, err)
		}
		if a.EndDate == nil {
			s.logger.Error("ongoing auction has no end date", "auction", a.ID)
			continue
		}
		if err := s.ScheduleEnd(ctx, a.ID, *a.EndDate); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.dropStaleJobs(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.retrySettlements(ctx); err != nil {
		errs = append(errs, err)
	}

	s.logger.Debug("reconciled", "upcoming", len(upcoming), "ongoing", len(ongoing), "failures", len(errs))
	return errors.Join(errs...)
}

var jobStatus = map[types.JobKind]types.AuctionStatus{
	types.JobStart: types.StatusUpComing,
	types.JobEnd:   types.StatusOnGoing,
}

func (s *Scheduler) dropStaleJobs(ctx context.Context) error {
	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list scheduled jobs")
	}
	for _, job := range jobs {
		a, err := s.registry.Get(ctx, job.AuctionID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
		case err != nil:
			return err
		case a.Status == jobStatus[job.Kind]:
			continue
		}
		s.logger.Info("dropping stale job", "auction", job.AuctionID, "kind", job.Kind)
		s.mu.Lock()
		s.disarmLocked(jobKey{job.AuctionID, job.Kind})
		s.mu.Unlock()
		if err := s.jobs.DeleteJob(ctx, job.AuctionID, job.Kind); err != nil {
			return errors.Wrap(err, "failed to delete stale job")
		}
	}
	return nil
}

func (s *Scheduler) retrySettlements(ctx context.Context) error {
	closed, err := s.registry.ListByStatus(ctx, types.StatusClosed)
	if err != nil {
		return errors.Wrap(err, "failed to list closed auctions")
	}
	var errs []error
	for _, a := range closed {
		if a.WinningBidderID != nil {
			continue
		}
		bids, err := s.registry.ListBids(ctx, a.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(bids) == 0 {
			continue
		}
		if _, err := s.settler.Settle(ctx, a.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
