// Package registry is the durable record of auctions. Every other component
// reads auction state through it, and every status change goes through it.
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/database"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/Martin-Hayot/auction-house/pkg/utils"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionDuration is the bidding window opened at startDate.
const AuctionDuration = 7 * 24 * time.Hour

// JobScheduler is the part of the scheduler the registry drives.
type JobScheduler interface {
	ScheduleStart(ctx context.Context, auctionID string, at time.Time) error
	Cancel(ctx context.Context, auctionID string) error
}

// predecessors lists, for each status, the statuses it may be entered from.
var predecessors = map[types.AuctionStatus][]types.AuctionStatus{
	types.StatusUpComing: {types.StatusPending},
	types.StatusDenied:   {types.StatusPending},
	types.StatusOnGoing:  {types.StatusUpComing},
	types.StatusClosed:   {types.StatusOnGoing},
}

var editable = []types.AuctionStatus{types.StatusPending, types.StatusUpComing, types.StatusDenied}

type Registry struct {
	store     database.Service
	locks     *utils.KeyedMutex
	scheduler JobScheduler
	logger    *log.Logger
}

func New(store database.Service) *Registry {
	return &Registry{
		store:  store,
		locks:  utils.NewKeyedMutex(),
		logger: log.WithPrefix("registry"),
	}
}

// AttachScheduler must be called before any approve, reject, update or remove.
func (r *Registry) AttachScheduler(s JobScheduler) {
	r.scheduler = s
}

// Lock serializes work on one auction. Approve, Reject, Update and Remove
// take it themselves; scheduler fires take it around TransitionStatus.
func (r *Registry) Lock(auctionID string) func() {
	return r.locks.Lock(auctionID)
}

func (r *Registry) Create(ctx context.Context, spec types.NewAuction, sellerID string) (types.Auction, error) {
	spec.Title = strings.TrimSpace(spec.Title)
	spec.Item.Name = strings.TrimSpace(spec.Item.Name)
	if err := r.validate(ctx, spec.Title, spec.BasePrice, spec.StartDate, spec.CategoryID); err != nil {
		return types.Auction{}, err
	}
	if sellerID == "" {
		return types.Auction{}, errors.Newf(errors.KindValidation, "seller is required")
	}
	if spec.Item.Name == "" {
		spec.Item.Name = spec.Title
	}

	item := types.Item{ID: uuid.NewString(), Name: spec.Item.Name, Description: spec.Item.Description}
	auction := types.Auction{
		ID:                uuid.NewString(),
		Title:             spec.Title,
		BasePrice:         spec.BasePrice,
		MinimumBidAllowed: spec.BasePrice,
		ChairCost:         utils.ChairCost(spec.BasePrice),
		StartDate:         spec.StartDate.UTC(),
		Status:            types.StatusPending,
		SellerID:          sellerID,
		CategoryID:        spec.CategoryID,
		Bidders:           []string{},
	}

	created, err := r.store.CreateAuction(ctx, auction, item)
	if err != nil {
		return types.Auction{}, errors.Wrap(err, "failed to create auction")
	}
	r.logger.Info("auction created", "auction", created.ID, "seller", sellerID)
	return created, nil
}

func (r *Registry) validate(ctx context.Context, title string, basePrice decimal.Decimal, startDate time.Time, categoryID string) error {
	if title == "" {
		return errors.Newf(errors.KindValidation, "title is required")
	}
	if !basePrice.IsPositive() {
		return errors.Newf(errors.KindValidation, "basePrice must be greater than 0")
	}
	if err := utils.CheckScale("basePrice", basePrice); err != nil {
		return err
	}
	if startDate.IsZero() {
		return errors.Newf(errors.KindValidation, "startDate is required")
	}
	if categoryID == "" {
		return errors.Newf(errors.KindValidation, "category is required")
	}
	ok, err := r.store.CategoryExists(ctx, categoryID)
	if err != nil {
		return errors.Wrap(err, "failed to check category")
	}
	if !ok {
		return errors.Newf(errors.KindValidation, "category %s does not exist", categoryID)
	}
	return nil
}

// Approve moves a pending auction to upcoming, fixes its end date and
// registers the start job. A scheduling failure leaves the approval in place;
// the reconciliation sweep recreates the job.
func (r *Registry) Approve(ctx context.Context, auctionID string) (types.Auction, error) {
	unlock := r.Lock(auctionID)
	defer unlock()

	current, err := r.store.GetAuction(ctx, auctionID)
	if err != nil {
		return types.Auction{}, err
	}
	approved, err := r.store.ApproveAuction(ctx, auctionID, current.StartDate.Add(AuctionDuration))
	if err != nil {
		return types.Auction{}, err
	}
	r.logger.Info("auction approved", "auction", auctionID, "start", approved.StartDate, "end", approved.EndDate)

	if r.scheduler != nil {
		if err := r.scheduler.ScheduleStart(ctx, auctionID, approved.StartDate); err != nil {
			r.logger.Error("failed to schedule start, reconciliation will retry", "auction", auctionID, "err", err)
		}
	}
	return approved, nil
}

func (r *Registry) Reject(ctx context.Context, auctionID, message string) (types.Auction, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return types.Auction{}, errors.Newf(errors.KindValidation, "a rejection message is required")
	}

	unlock := r.Lock(auctionID)
	defer unlock()

	denied, err := r.store.RejectAuction(ctx, auctionID, message)
	if err != nil {
		return types.Auction{}, err
	}
	r.cancelJobs(ctx, auctionID)
	r.logger.Info("auction rejected", "auction", auctionID)
	return denied, nil
}

// Update edits a seller's auction and sends it back for approval.
func (r *Registry) Update(ctx context.Context, auctionID, sellerID string, patch types.AuctionPatch) (types.Auction, error) {
	unlock := r.Lock(auctionID)
	defer unlock()

	current, err := r.store.GetAuction(ctx, auctionID)
	if err != nil || current.SellerID != sellerID {
		if err == nil || errors.Is(err, errors.ErrNotFound) {
			return types.Auction{}, errors.Newf(errors.KindNotFound, "auction %s not found for that seller", auctionID)
		}
		return types.Auction{}, err
	}

	next := current
	if patch.Title != nil {
		next.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.BasePrice != nil {
		next.BasePrice = *patch.BasePrice
	}
	if patch.StartDate != nil {
		next.StartDate = patch.StartDate.UTC()
	}
	if patch.CategoryID != nil {
		next.CategoryID = *patch.CategoryID
	}
	if err := r.validate(ctx, next.Title, next.BasePrice, next.StartDate, next.CategoryID); err != nil {
		return types.Auction{}, err
	}
	next.MinimumBidAllowed = next.BasePrice
	next.ChairCost = utils.ChairCost(next.BasePrice)

	updated, err := r.store.ResetAuction(ctx, next, editable)
	if err != nil {
		return types.Auction{}, err
	}
	r.cancelJobs(ctx, auctionID)
	r.logger.Info("auction updated", "auction", auctionID)
	return updated, nil
}

// Remove deletes a seller's auction together with its item, bids and jobs.
// onRemoved, when set, runs after the delete while the auction lock is still
// held, so no scheduler fire or room open can interleave with it.
func (r *Registry) Remove(ctx context.Context, auctionID, sellerID string, onRemoved func(types.Auction)) (types.Auction, error) {
	unlock := r.Lock(auctionID)
	defer unlock()

	removed, err := r.store.DeleteAuction(ctx, auctionID, sellerID)
	if err != nil {
		return types.Auction{}, err
	}
	r.cancelJobs(ctx, auctionID)
	if onRemoved != nil {
		onRemoved(removed)
	}
	r.logger.Info("auction removed", "auction", auctionID, "seller", sellerID)
	return removed, nil
}

func (r *Registry) cancelJobs(ctx context.Context, auctionID string) {
	if r.scheduler == nil {
		return
	}
	if err := r.scheduler.Cancel(ctx, auctionID); err != nil {
		r.logger.Error("failed to cancel jobs", "auction", auctionID, "err", err)
	}
}

// TransitionStatus moves the auction to status `to` from its legal
// predecessor. It reports false instead of failing so scheduler fires never
// crash; an auction already in `to` reports true. Callers hold Lock.
func (r *Registry) TransitionStatus(ctx context.Context, auctionID string, to types.AuctionStatus) bool {
	from, ok := predecessors[to]
	if !ok {
		r.logger.Warn("no transition into status", "auction", auctionID, "status", to)
		return false
	}
	a, err := r.store.TransitionStatus(ctx, auctionID, from, to)
	if err != nil {
		r.logger.Debug("transition refused", "auction", auctionID, "to", to, "err", err)
		return false
	}
	r.logger.Info("auction status changed", "auction", auctionID, "status", a.Status)
	return true
}

// AppendBidder adds bidderID to the auction's bidders. Appending a bidder
// already present is a no-op that still reports true; false means the
// auction is gone or the write failed.
func (r *Registry) AppendBidder(ctx context.Context, auctionID, bidderID string) bool {
	if _, err := r.store.AddBidder(ctx, auctionID, bidderID); err != nil {
		r.logger.Warn("failed to append bidder", "auction", auctionID, "bidder", bidderID, "err", err)
		return false
	}
	return true
}

// RecordWinner stores the winner of a closed auction and applies payment in
// the same write. A second call fails with ErrAlreadySettled.
func (r *Registry) RecordWinner(ctx context.Context, auctionID, bidderID string, payment types.Transaction) (types.Auction, types.Transaction, error) {
	return r.store.SettleAuction(ctx, auctionID, bidderID, payment)
}

func (r *Registry) Get(ctx context.Context, auctionID string) (types.Auction, error) {
	return r.store.GetAuction(ctx, auctionID)
}

func (r *Registry) List(ctx context.Context, filter types.AuctionFilter) ([]types.Auction, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, errors.Newf(errors.KindValidation, "unknown status %q", *filter.Status)
	}
	auctions, err := r.store.ListAuctions(ctx, filter)
	if err != nil {
		return nil, err
	}
	if auctions == nil {
		auctions = []types.Auction{}
	}
	return auctions, nil
}

// ListByStatus is a shorthand used by reconciliation and the dashboard.
func (r *Registry) ListByStatus(ctx context.Context, status types.AuctionStatus) ([]types.Auction, error) {
	return r.store.ListAuctions(ctx, types.AuctionFilter{Status: &status})
}

// EndDate returns the end of the bidding window, nil until approval.
func (r *Registry) EndDate(ctx context.Context, auctionID string) (*time.Time, error) {
	a, err := r.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return a.EndDate, nil
}

// ListBids returns the auction's bids oldest first, never nil.
func (r *Registry) ListBids(ctx context.Context, auctionID string) ([]types.Bid, error) {
	bids, err := r.store.ListBids(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if bids == nil {
		bids = []types.Bid{}
	}
	return bids, nil
}

func (r *Registry) HighestBid(ctx context.Context, auctionID string) (*types.Bid, error) {
	return r.store.HighestBid(ctx, auctionID)
}

// PlaceBid persists a bid. The store re-checks the auction is ongoing and
// the amount beats the standing highest bid.
func (r *Registry) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, at time.Time) (types.Bid, error) {
	if err := utils.CheckScale("amount", amount); err != nil {
		return types.Bid{}, err
	}
	return r.store.CreateBid(ctx, types.Bid{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: at.UTC(),
	})
}

func (r *Registry) CreateCategory(ctx context.Context, name string) (types.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Category{}, errors.Newf(errors.KindValidation, "category name is required")
	}
	return r.store.CreateCategory(ctx, types.Category{ID: slug(name), Name: name})
}

func (r *Registry) GetItem(ctx context.Context, itemID string) (types.Item, error) {
	return r.store.GetItem(ctx, itemID)
}

func slug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}
