package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Martin-Hayot/auction-house/configs"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	_ "github.com/joho/godotenv/autoload"
)

// Service represents a service that interacts with a database.
// Every mutating method is a single atomic operation.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// CATALOG METHODS
	CreateCategory(ctx context.Context, category types.Category) (types.Category, error)
	CategoryExists(ctx context.Context, categoryID string) (bool, error)
	GetItem(ctx context.Context, itemID string) (types.Item, error)

	// AUCTION METHODS

	// CreateAuction stores the item and the auction together.
	CreateAuction(ctx context.Context, auction types.Auction, item types.Item) (types.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (types.Auction, error)
	ListAuctions(ctx context.Context, filter types.AuctionFilter) ([]types.Auction, error)
	// ApproveAuction moves a pending auction to upcoming and sets its end date.
	ApproveAuction(ctx context.Context, auctionID string, endDate time.Time) (types.Auction, error)
	// RejectAuction moves a pending auction to denied with a message.
	RejectAuction(ctx context.Context, auctionID, message string) (types.Auction, error)
	// ResetAuction rewrites the editable fields of an auction owned by
	// auction.SellerID and puts it back to pending, provided its current
	// status is one of allowed.
	ResetAuction(ctx context.Context, auction types.Auction, allowed []types.AuctionStatus) (types.Auction, error)
	// TransitionStatus sets status to `to` when the current status is in
	// from. An auction already in `to` is returned unchanged.
	TransitionStatus(ctx context.Context, auctionID string, from []types.AuctionStatus, to types.AuctionStatus) (types.Auction, error)
	// AddBidder appends bidderID to the auction's bidders with union
	// semantics. added is false when the bidder was already present.
	AddBidder(ctx context.Context, auctionID, bidderID string) (added bool, err error)
	// DeleteAuction removes an auction owned by sellerID together with its
	// item, bids, bidders and scheduled jobs.
	DeleteAuction(ctx context.Context, auctionID, sellerID string) (types.Auction, error)

	// BID METHODS

	// CreateBid stores a bid if the auction is ongoing and the amount is
	// strictly above the current highest bid (or base price).
	CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error)
	ListBids(ctx context.Context, auctionID string) ([]types.Bid, error)
	HighestBid(ctx context.Context, auctionID string) (*types.Bid, error)

	// WALLET METHODS
	GetWallet(ctx context.Context, ownerID string) (types.WalletAccount, error)
	// ApplyTransaction debits the sender and credits the recipient of tx
	// and records it. It fails without side effects if the sender's
	// balance would go negative.
	ApplyTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error)
	ListTransactions(ctx context.Context, ownerID string) ([]types.Transaction, error)

	// SETTLEMENT METHODS

	// SettleAuction records the winner of a closed auction and applies the
	// settlement transaction in one step.
	SettleAuction(ctx context.Context, auctionID, winnerID string, tx types.Transaction) (types.Auction, types.Transaction, error)

	// JOB METHODS
	UpsertJob(ctx context.Context, job types.ScheduledJob) error
	DeleteJob(ctx context.Context, auctionID string, kind types.JobKind) error
	DeleteJobs(ctx context.Context, auctionID string) error
	ListJobs(ctx context.Context) ([]types.ScheduledJob, error)
}

// New opens the store selected by cfg.Database.Driver.
func New(ctx context.Context, cfg *configs.Config) (Service, error) {
	switch cfg.Database.Driver {
	case "memory":
		return NewMemory(), nil
	case "", "postgres":
		dbConfig := cfg.Database
		connStr := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbConfig.User,
			dbConfig.Password,
			dbConfig.Host,
			dbConfig.Port,
			dbConfig.Name,
			dbConfig.SSLMode,
		)
		return NewPostgres(ctx, connStr, dbConfig.MaxOpenConns)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

func containsStatus(list []types.AuctionStatus, s types.AuctionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
