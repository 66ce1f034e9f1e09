package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// Identity is the authenticated caller of a request or connection.
type Identity struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

type AuctionStatus string

const (
	StatusPending  AuctionStatus = "pending"
	StatusUpComing AuctionStatus = "upcoming"
	StatusOnGoing  AuctionStatus = "ongoing"
	StatusClosed   AuctionStatus = "closed"
	StatusDenied   AuctionStatus = "denied"
)

func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUpComing, StatusOnGoing, StatusClosed, StatusDenied:
		return true
	}
	return false
}

type Auction struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	BasePrice         decimal.Decimal `json:"basePrice"`
	MinimumBidAllowed decimal.Decimal `json:"minimumBidAllowed"`
	ChairCost         decimal.Decimal `json:"chairCost"`
	StartDate         time.Time       `json:"startDate"`
	EndDate           *time.Time      `json:"endDate,omitempty"`
	Status            AuctionStatus   `json:"status"`
	SellerID          string          `json:"seller"`
	CategoryID        string          `json:"category"`
	ItemID            string          `json:"item"`
	Bidders           []string        `json:"bidders"`
	WinningBidderID   *string         `json:"winningBidder,omitempty"`
	RejectionMessage  *string         `json:"rejectionMessage,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// HasBidder reports whether bidderID has ever joined the auction.
func (a Auction) HasBidder(bidderID string) bool {
	for _, id := range a.Bidders {
		if id == bidderID {
			return true
		}
	}
	return false
}

type AuctionFilter struct {
	Status     *AuctionStatus
	CategoryID string
	SellerID   string
}

// NewAuction carries the fields a seller supplies when listing an item.
type NewAuction struct {
	Title      string          `json:"title"`
	BasePrice  decimal.Decimal `json:"basePrice"`
	StartDate  time.Time       `json:"startDate"`
	CategoryID string          `json:"category"`
	Item       NewItem         `json:"item"`
}

type AuctionPatch struct {
	Title      *string          `json:"title,omitempty"`
	BasePrice  *decimal.Decimal `json:"basePrice,omitempty"`
	StartDate  *time.Time       `json:"startDate,omitempty"`
	CategoryID *string          `json:"category,omitempty"`
}

type Bid struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auctionId"`
	BidderID  string          `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type NewItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type WalletAccount struct {
	OwnerID   string          `json:"owner"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type TransactionKind string

const (
	TxDeposit    TransactionKind = "deposit"
	TxWithdrawal TransactionKind = "withdrawal"
	TxSettlement TransactionKind = "settlement"
)

// Transaction is a ledger movement. Deposits have no sender and withdrawals
// have no recipient.
type Transaction struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	SenderID    string          `json:"sender,omitempty"`
	RecipientID string          `json:"recipient,omitempty"`
	Kind        TransactionKind `json:"kind"`
	Reference   string          `json:"reference,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type JobKind string

const (
	JobStart JobKind = "start"
	JobEnd   JobKind = "end"
)

type ScheduledJob struct {
	AuctionID string    `json:"auctionId"`
	Kind      JobKind   `json:"kind"`
	FireAt    time.Time `json:"fireAt"`
}

// Settlement is the recorded outcome of a closed auction.
type Settlement struct {
	AuctionID   string       `json:"auctionId"`
	WinnerID    *string      `json:"winnerId,omitempty"`
	WinningBid  *Bid         `json:"winningBid,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
}
