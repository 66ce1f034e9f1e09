// Package settlement decides the winner of a closed auction and moves the
// winning amount from the buyer to the seller.
package settlement

import (
	"context"
	"sort"

	"github.com/Martin-Hayot/auction-house/internal/wallet"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
)

type Registry interface {
	Get(ctx context.Context, auctionID string) (types.Auction, error)
	ListBids(ctx context.Context, auctionID string) ([]types.Bid, error)
	RecordWinner(ctx context.Context, auctionID, bidderID string, payment types.Transaction) (types.Auction, types.Transaction, error)
}

type Engine struct {
	registry Registry
	ledger   wallet.Ledger
	logger   *log.Logger
}

func New(registry Registry, ledger wallet.Ledger) *Engine {
	return &Engine{registry: registry, ledger: ledger, logger: log.WithPrefix("settlement")}
}

// Winner returns the highest bid, the earliest one among equal amounts.
// It returns nil when there are no bids.
func Winner(bids []types.Bid) *types.Bid {
	ranked := Ranked(bids)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

// Ranked returns each bidder's best bid, best first: highest amount, then
// earliest among equal amounts.
func Ranked(bids []types.Bid) []types.Bid {
	best := make(map[string]int, len(bids))
	ranked := make([]types.Bid, 0, len(bids))
	for _, b := range bids {
		i, seen := best[b.BidderID]
		if !seen {
			best[b.BidderID] = len(ranked)
			ranked = append(ranked, b)
			continue
		}
		if outranks(b, ranked[i]) {
			ranked[i] = b
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return outranks(ranked[i], ranked[j]) })
	return ranked
}

func outranks(a, b types.Bid) bool {
	if !a.Amount.Equal(b.Amount) {
		return a.Amount.GreaterThan(b.Amount)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Settle records the winner of a closed auction and transfers the full
// winning amount from the winner to the seller, both in one write. A bidder
// whose balance no longer covers their bid forfeits and the next best bidder
// is tried. When nobody can pay the auction stays unsettled and the error
// is ErrLedgerInconsistency. Settling an auction that already has a winner
// returns that outcome without moving funds again.
func (e *Engine) Settle(ctx context.Context, auctionID string) (types.Settlement, error) {
	auction, err := e.registry.Get(ctx, auctionID)
	if err != nil {
		return types.Settlement{}, err
	}
	if auction.Status != types.StatusClosed {
		return types.Settlement{}, errors.Newf(errors.KindConflict, "auction %s is %s, not closed", auctionID, auction.Status)
	}

	bids, err := e.registry.ListBids(ctx, auctionID)
	if err != nil {
		return types.Settlement{}, err
	}
	if auction.WinningBidderID != nil {
		return existing(auction, bids), nil
	}
	ranked := Ranked(bids)
	if len(ranked) == 0 {
		e.logger.Info("auction closed without bids", "auction", auctionID)
		return types.Settlement{AuctionID: auctionID}, nil
	}

	var forfeits []error
	for i := range ranked {
		candidate := ranked[i]
		result, err := e.pay(ctx, auction, candidate)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, errors.ErrAlreadySettled):
			current, getErr := e.registry.Get(ctx, auctionID)
			if getErr != nil {
				return types.Settlement{}, getErr
			}
			return existing(current, bids), nil
		case errors.Is(err, errors.ErrLedgerInconsistency):
			e.logger.Warn("winning bidder cannot pay, trying next bid", "auction", auctionID, "bidder", candidate.BidderID, "amount", candidate.Amount)
			forfeits = append(forfeits, err)
		default:
			return types.Settlement{}, err
		}
	}

	e.logger.Error("settlement rolled back, no bidder can pay", "auction", auctionID, "bidders", len(ranked))
	return types.Settlement{}, errors.Wrap(errors.Join(forfeits...), "no bidder can cover their bid")
}

func (e *Engine) pay(ctx context.Context, auction types.Auction, bid types.Bid) (types.Settlement, error) {
	payment, err := e.ledger.PrepareTransfer(bid.BidderID, auction.SellerID, bid.Amount, types.TxSettlement, auction.ID)
	if err != nil {
		return types.Settlement{}, err
	}
	settled, applied, err := e.registry.RecordWinner(ctx, auction.ID, bid.BidderID, payment)
	if err != nil {
		if errors.Is(err, errors.ErrAlreadySettled) || errors.Is(err, errors.ErrLedgerInconsistency) {
			return types.Settlement{}, err
		}
		return types.Settlement{}, errors.Wrap(err, "failed to settle auction")
	}
	e.logger.Info("auction settled", "auction", auction.ID, "winner", bid.BidderID, "amount", bid.Amount)
	return types.Settlement{
		AuctionID:   auction.ID,
		WinnerID:    settled.WinningBidderID,
		WinningBid:  &bid,
		Transaction: &applied,
	}, nil
}

// existing describes an auction settled earlier, with the winner's best bid.
func existing(auction types.Auction, bids []types.Bid) types.Settlement {
	s := types.Settlement{AuctionID: auction.ID, WinnerID: auction.WinningBidderID}
	if auction.WinningBidderID == nil {
		return s
	}
	for _, b := range Ranked(bids) {
		if b.BidderID == *auction.WinningBidderID {
			b := b
			s.WinningBid = &b
			break
		}
	}
	return s
}
