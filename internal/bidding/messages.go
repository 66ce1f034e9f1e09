package bidding

import (
	"encoding/json"
	"time"

	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/shopspring/decimal"
)

// Server to client message types.
const (
	TypeJoined        = "joined"
	TypeLeft          = "left"
	TypeBidAccepted   = "bid-accepted"
	TypeState         = "state"
	TypeAuctionClosed = "auction-closed"
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Encode wraps data in the {"type","data"} envelope used on the wire.
func Encode(msgType string, data any) []byte {
	raw, err := json.Marshal(envelope{Type: msgType, Data: data})
	if err != nil {
		return []byte(`{"type":"error","data":{"code":500,"message":"internal server error"}}`)
	}
	return raw
}

type BidAccepted struct {
	AuctionID string          `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
	BidderID  string          `json:"bidder_id"`
	CreatedAt time.Time       `json:"created_at"`
}

func bidAccepted(bid types.Bid) BidAccepted {
	return BidAccepted{AuctionID: bid.AuctionID, Amount: bid.Amount, BidderID: bid.BidderID, CreatedAt: bid.CreatedAt}
}

type Joined struct {
	AuctionID string       `json:"auction_id"`
	Bidders   int          `json:"bidders"`
	Highest   *BidAccepted `json:"highest,omitempty"`
	Rejoined  bool         `json:"rejoined,omitempty"`
}

// Snapshot is the state of a room as seen by one of its members.
type Snapshot struct {
	AuctionID string          `json:"auction_id"`
	State     string          `json:"state"`
	BasePrice decimal.Decimal `json:"base_price"`
	Highest   *BidAccepted    `json:"highest,omitempty"`
	Bidders   int             `json:"bidders"`
	Connected []string        `json:"connected"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
}

type AuctionClosed struct {
	AuctionID  string       `json:"auction_id"`
	Winner     *string      `json:"winner,omitempty"`
	WinningBid *BidAccepted `json:"winning_bid,omitempty"`
}
