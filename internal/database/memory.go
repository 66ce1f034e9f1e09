package database

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/Martin-Hayot/auction-house/pkg/utils"
	"github.com/shopspring/decimal"
)

// Memory is a concurrency-safe in-memory implementation of Service. It
// backs the "memory" driver and the package tests.
type Memory struct {
	mu           sync.RWMutex
	categories   map[string]types.Category
	items        map[string]types.Item
	auctions     map[string]*types.Auction
	bids         map[string][]types.Bid // key: auctionID
	wallets      map[string]types.WalletAccount
	transactions []types.Transaction
	jobs         map[string]types.ScheduledJob // key: auctionID/kind
}

func NewMemory() *Memory {
	return &Memory{
		categories: make(map[string]types.Category),
		items:      make(map[string]types.Item),
		auctions:   make(map[string]*types.Auction),
		bids:       make(map[string][]types.Bid),
		wallets:    make(map[string]types.WalletAccount),
		jobs:       make(map[string]types.ScheduledJob),
	}
}

func (m *Memory) Health() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]string{
		"status":   "up",
		"message":  "It's healthy",
		"driver":   "memory",
		"auctions": strconv.Itoa(len(m.auctions)),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateCategory(_ context.Context, category types.Category) (types.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[category.ID]; ok {
		return types.Category{}, errors.Newf(errors.KindConflict, "category %s already exists", category.ID)
	}
	m.categories[category.ID] = category
	return category, nil
}

func (m *Memory) CategoryExists(_ context.Context, categoryID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.categories[categoryID]
	return ok, nil
}

func (m *Memory) GetItem(_ context.Context, itemID string) (types.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	if !ok {
		return types.Item{}, errors.Newf(errors.KindNotFound, "item %s not found", itemID)
	}
	return item, nil
}

func (m *Memory) CreateAuction(_ context.Context, auction types.Auction, item types.Item) (types.Auction, error) {
	if err := utils.CheckScale("basePrice", auction.BasePrice); err != nil {
		return types.Auction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[auction.CategoryID]; !ok {
		return types.Auction{}, errors.Newf(errors.KindNotFound, "category %s not found", auction.CategoryID)
	}
	if _, ok := m.auctions[auction.ID]; ok {
		return types.Auction{}, errors.Newf(errors.KindConflict, "auction %s already exists", auction.ID)
	}
	m.items[item.ID] = item
	a := copyAuction(auction)
	a.ItemID = item.ID
	if a.Bidders == nil {
		a.Bidders = []string{}
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	m.auctions[a.ID] = &a
	return copyAuction(a), nil
}

func (m *Memory) GetAuction(_ context.Context, auctionID string) (types.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return types.Auction{}, auctionNotFound(auctionID)
	}
	return copyAuction(*a), nil
}

func (m *Memory) ListAuctions(_ context.Context, filter types.AuctionFilter) ([]types.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Auction, 0, len(m.auctions))
	for _, a := range m.auctions {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.CategoryID != "" && a.CategoryID != filter.CategoryID {
			continue
		}
		if filter.SellerID != "" && a.SellerID != filter.SellerID {
			continue
		}
		out = append(out, copyAuction(*a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out, nil
}

func (m *Memory) ApproveAuction(_ context.Context, auctionID string, endDate time.Time) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return types.Auction{}, auctionNotFound(auctionID)
	}
	if a.Status != types.StatusPending {
		return types.Auction{}, errors.Newf(errors.KindConflict, "auction %s is %s, not pending", auctionID, a.Status)
	}
	end := endDate
	a.Status = types.StatusUpComing
	a.EndDate = &end
	a.UpdatedAt = time.Now().UTC()
	return copyAuction(*a), nil
}

func (m *Memory) RejectAuction(_ context.Context, auctionID, message string) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return types.Auction{}, auctionNotFound(auctionID)
	}
	if a.Status != types.StatusPending {
		return types.Auction{}, errors.Newf(errors.KindConflict, "auction %s is %s, not pending", auctionID, a.Status)
	}
	msg := message
	a.Status = types.StatusDenied
	a.RejectionMessage = &msg
	a.UpdatedAt = time.Now().UTC()
	return copyAuction(*a), nil
}

func (m *Memory) ResetAuction(_ context.Context, auction types.Auction, allowed []types.AuctionStatus) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auction.ID]
	if !ok || a.SellerID != auction.SellerID {
		return types.Auction{}, errors.Newf(errors.KindNotFound, "auction %s not found for that seller", auction.ID)
	}
	if !containsStatus(allowed, a.Status) {
		return types.Auction{}, errors.Newf(errors.KindConflict, "auction %s is %s and can no longer be edited", auction.ID, a.Status)
	}
	if _, ok := m.categories[auction.CategoryID]; !ok {
		return types.Auction{}, errors.Newf(errors.KindNotFound, "category %s not found", auction.CategoryID)
	}
	a.Title = auction.Title
	a.BasePrice = auction.BasePrice
	a.MinimumBidAllowed = auction.MinimumBidAllowed
	a.ChairCost = auction.ChairCost
	a.StartDate = auction.StartDate
	a.CategoryID = auction.CategoryID
	a.Status = types.StatusPending
	a.EndDate = nil
	a.RejectionMessage = nil
	a.UpdatedAt = time.Now().UTC()
	return copyAuction(*a), nil
}

func (m *Memory) TransitionStatus(_ context.Context, auctionID string, from []types.AuctionStatus, to types.AuctionStatus) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return types.Auction{}, auctionNotFound(auctionID)
	}
	if a.Status == to {
		return copyAuction(*a), nil
	}
	if !containsStatus(from, a.Status) {
		return types.Auction{}, errors.Newf(errors.KindConflict, "auction %s cannot move from %s to %s", auctionID, a.Status, to)
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	return copyAuction(*a), nil
}

func (m *Memory) AddBidder(_ context.Context, auctionID, bidderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return false, auctionNotFound(auctionID)
	}
	if a.HasBidder(bidderID) {
		return false, nil
	}
	a.Bidders = append(a.Bidders, bidderID)
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) DeleteAuction(_ context.Context, auctionID, sellerID string) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok || a.SellerID != sellerID {
		return types.Auction{}, errors.Newf(errors.KindNotFound, "auction %s not found for that seller", auctionID)
	}
	removed := copyAuction(*a)
	delete(m.items, a.ItemID)
	delete(m.auctions, auctionID)
	delete(m.bids, auctionID)
	delete(m.jobs, jobKey(auctionID, types.JobStart))
	delete(m.jobs, jobKey(auctionID, types.JobEnd))
	return removed, nil
}

func (m *Memory) CreateBid(_ context.Context, bid types.Bid) (types.Bid, error) {
	if err := utils.CheckScale("amount", bid.Amount); err != nil {
		return types.Bid{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[bid.AuctionID]
	if !ok {
		return types.Bid{}, auctionNotFound(bid.AuctionID)
	}
	if a.Status != types.StatusOnGoing {
		return types.Bid{}, errors.Newf(errors.KindNotJoinable, "auction %s is %s", bid.AuctionID, a.Status)
	}
	floor := a.BasePrice
	if h := highest(m.bids[bid.AuctionID]); h != nil {
		floor = h.Amount
	}
	if !bid.Amount.GreaterThan(floor) {
		return types.Bid{}, bidTooLow(floor)
	}
	m.bids[bid.AuctionID] = append(m.bids[bid.AuctionID], bid)
	return bid, nil
}

func (m *Memory) ListBids(_ context.Context, auctionID string) ([]types.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.auctions[auctionID]; !ok {
		return nil, auctionNotFound(auctionID)
	}
	bids := append([]types.Bid(nil), m.bids[auctionID]...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].CreatedAt.Before(bids[j].CreatedAt) })
	return bids, nil
}

func (m *Memory) HighestBid(_ context.Context, auctionID string) (*types.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.auctions[auctionID]; !ok {
		return nil, auctionNotFound(auctionID)
	}
	return highest(m.bids[auctionID]), nil
}

func (m *Memory) GetWallet(_ context.Context, ownerID string) (types.WalletAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[ownerID]
	if !ok {
		return types.WalletAccount{OwnerID: ownerID, Balance: decimal.Zero}, nil
	}
	return w, nil
}

func (m *Memory) ApplyTransaction(_ context.Context, tx types.Transaction) (types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(tx)
}

func (m *Memory) applyLocked(tx types.Transaction) (types.Transaction, error) {
	if !tx.Amount.IsPositive() {
		return types.Transaction{}, errors.Newf(errors.KindValidation, "transaction amount must be positive")
	}
	if err := utils.CheckScale("amount", tx.Amount); err != nil {
		return types.Transaction{}, err
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.SenderID != "" {
		sender := m.wallets[tx.SenderID]
		if sender.Balance.LessThan(tx.Amount) {
			return types.Transaction{}, negativeBalance(tx.SenderID)
		}
	}
	if tx.SenderID != "" {
		sender := m.wallets[tx.SenderID]
		sender.OwnerID = tx.SenderID
		sender.Balance = sender.Balance.Sub(tx.Amount)
		sender.UpdatedAt = now
		m.wallets[tx.SenderID] = sender
	}
	if tx.RecipientID != "" {
		recipient := m.wallets[tx.RecipientID]
		recipient.OwnerID = tx.RecipientID
		recipient.Balance = recipient.Balance.Add(tx.Amount)
		recipient.UpdatedAt = now
		m.wallets[tx.RecipientID] = recipient
	}
	m.transactions = append(m.transactions, tx)
	return tx, nil
}

func (m *Memory) ListTransactions(_ context.Context, ownerID string) ([]types.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		tx := m.transactions[i]
		if tx.SenderID == ownerID || tx.RecipientID == ownerID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *Memory) SettleAuction(_ context.Context, auctionID, winnerID string, tx types.Transaction) (types.Auction, types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return types.Auction{}, types.Transaction{}, auctionNotFound(auctionID)
	}
	if a.WinningBidderID != nil {
		return types.Auction{}, types.Transaction{}, errors.Newf(errors.KindAlreadySettled, "auction %s already settled", auctionID)
	}
	if a.Status != types.StatusClosed {
		return types.Auction{}, types.Transaction{}, errors.Newf(errors.KindConflict, "auction %s is %s, not closed", auctionID, a.Status)
	}
	applied, err := m.applyLocked(tx)
	if err != nil {
		return types.Auction{}, types.Transaction{}, err
	}
	winner := winnerID
	a.WinningBidderID = &winner
	a.UpdatedAt = time.Now().UTC()
	return copyAuction(*a), applied, nil
}

func (m *Memory) UpsertJob(_ context.Context, job types.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobKey(job.AuctionID, job.Kind)] = job
	return nil
}

func (m *Memory) DeleteJob(_ context.Context, auctionID string, kind types.JobKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobKey(auctionID, kind))
	return nil
}

func (m *Memory) DeleteJobs(_ context.Context, auctionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobKey(auctionID, types.JobStart))
	delete(m.jobs, jobKey(auctionID, types.JobEnd))
	return nil
}

func (m *Memory) ListJobs(_ context.Context) ([]types.ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ScheduledJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func jobKey(auctionID string, kind types.JobKind) string {
	return auctionID + "/" + string(kind)
}

// highest returns the strictly highest bid, earliest first among equals.
func highest(bids []types.Bid) *types.Bid {
	if len(bids) == 0 {
		return nil
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(best.Amount) || (b.Amount.Equal(best.Amount) && b.CreatedAt.Before(best.CreatedAt)) {
			best = b
		}
	}
	return &best
}

func copyAuction(a types.Auction) types.Auction {
	a.Bidders = append([]string{}, a.Bidders...)
	if a.EndDate != nil {
		end := *a.EndDate
		a.EndDate = &end
	}
	if a.WinningBidderID != nil {
		w := *a.WinningBidderID
		a.WinningBidderID = &w
	}
	if a.RejectionMessage != nil {
		msg := *a.RejectionMessage
		a.RejectionMessage = &msg
	}
	return a
}

func auctionNotFound(auctionID string) *errors.AppError {
	return errors.Newf(errors.KindNotFound, "auction %s not found", auctionID)
}

func negativeBalance(ownerID string) *errors.AppError {
	return errors.Newf(errors.KindLedger, "transfer would leave %s with a negative balance", ownerID)
}

func bidTooLow(floor decimal.Decimal) *errors.AppError {
	return errors.Newf(errors.KindBidTooLow, "bid must be higher than %s", floor.String())
}
