package bidding

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/events"
	"github.com/Martin-Hayot/auction-house/internal/wallet"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

// Member is one live connection in a room.
type Member interface {
	// ID identifies the connection, not the account.
	ID() string
	AccountID() string
	// Deliver queues msg without blocking and reports whether it was queued.
	Deliver(msg []byte) bool
}

type State int32

const (
	Open State = iota
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

const (
	commandBuffer  = 64
	publishTimeout = 2 * time.Second
)

// Room serializes everything that happens to one ongoing auction. All
// fields below commands are owned by the run goroutine.
type Room struct {
	auctionID string
	registry  Registry
	ledger    wallet.Ledger
	publisher events.Publisher
	logger    *log.Logger

	state    atomic.Int32
	commands chan func()
	stop     chan struct{}
	done     chan struct{}

	basePrice decimal.Decimal
	endDate   *time.Time
	highest   *types.Bid
	joined    map[string]bool   // accounts in auction.bidders
	members   map[string]Member // live connections by ID
}

func newRoom(auction types.Auction, highest *types.Bid, registry Registry, ledger wallet.Ledger, publisher events.Publisher) *Room {
	r := &Room{
		auctionID: auction.ID,
		registry:  registry,
		ledger:    ledger,
		publisher: publisher,
		logger:    log.WithPrefix("room").With("auction", auction.ID),
		commands:  make(chan func(), commandBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		basePrice: auction.BasePrice,
		endDate:   auction.EndDate,
		highest:   highest,
		joined:    make(map[string]bool, len(auction.Bidders)),
		members:   make(map[string]Member),
	}
	for _, id := range auction.Bidders {
		r.joined[id] = true
	}
	go r.run()
	return r
}

func (r *Room) AuctionID() string { return r.auctionID }

func (r *Room) State() State { return State(r.state.Load()) }

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case cmd := <-r.commands:
			cmd()
		case <-r.stop:
			// Answer whatever was queued before the close, then exit.
			for {
				select {
				case cmd := <-r.commands:
					cmd()
				default:
					r.state.Store(int32(Closed))
					r.logger.Debug("room closed", "members", len(r.members))
					return
				}
			}
		}
	}
}

// do runs fn on the room goroutine and waits for it. It fails with
// NotJoinable once the room has shut down.
func (r *Room) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		fn()
		close(finished)
	}
	select {
	case r.commands <- cmd:
	case <-r.done:
		return r.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		select {
		case <-finished:
			return nil
		default:
			return r.closedErr()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) closedErr() error {
	return errors.Newf(errors.KindNotJoinable, "auction %s is no longer accepting bidders", r.auctionID)
}

// close stops admissions, drains queued commands and waits for the room
// goroutine to exit. It returns the members connected at that point.
func (r *Room) close() []Member {
	if r.state.CompareAndSwap(int32(Open), int32(Closing)) {
		close(r.stop)
	}
	<-r.done
	members := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	return members
}

type admission struct {
	rejoined bool
	joined   Joined
}

// admit adds accountID to the auction's bidders and member to the room.
// An account that already joined gets ErrAlreadyJoined, but its connection
// is still attached so reconnecting bidders keep receiving broadcasts.
func (r *Room) admit(ctx context.Context, accountID string, member Member) (admission, error) {
	var (
		res    admission
		result error
	)
	err := r.do(ctx, func() {
		if r.State() != Open {
			result = r.closedErr()
			return
		}
		if r.joined[accountID] {
			if member != nil {
				r.members[member.ID()] = member
				res.rejoined = true
			}
			res.joined = r.joinedLocked(true)
			result = errors.Newf(errors.KindAlreadyJoined, "%s already joined auction %s", accountID, r.auctionID)
			return
		}
		if !r.registry.AppendBidder(ctx, r.auctionID, accountID) {
			result = errors.Newf(errors.KindNotJoinable, "auction %s could not record the bidder", r.auctionID)
			return
		}
		r.joined[accountID] = true
		if member != nil {
			r.members[member.ID()] = member
		}
		res.joined = r.joinedLocked(false)
		r.logger.Info("bidder admitted", "bidder", accountID)
	})
	if err != nil {
		return admission{}, err
	}
	return res, result
}

func (r *Room) joinedLocked(rejoined bool) Joined {
	j := Joined{AuctionID: r.auctionID, Bidders: len(r.joined), Rejoined: rejoined}
	if r.highest != nil {
		h := bidAccepted(*r.highest)
		j.Highest = &h
	}
	return j
}

// submitBid evaluates one bid against the standing highest bid and the
// bidder's balance. Bids are handled strictly one at a time, so accepted
// amounts only ever increase.
func (r *Room) submitBid(ctx context.Context, member Member, amount decimal.Decimal) (types.Bid, error) {
	var (
		accepted types.Bid
		result   error
	)
	err := r.do(ctx, func() {
		if r.State() != Open {
			result = r.closedErr()
			return
		}
		if _, ok := r.members[member.ID()]; !ok {
			result = errors.Newf(errors.KindNotMember, "join auction %s before bidding", r.auctionID)
			return
		}
		floor := r.basePrice
		if r.highest != nil {
			floor = r.highest.Amount
		}
		if !amount.GreaterThan(floor) {
			result = errors.Newf(errors.KindBidTooLow, "bid must be higher than %s", floor.String())
			return
		}
		funded, err := r.ledger.HasAssurance(ctx, member.AccountID(), amount)
		if err != nil {
			result = err
			return
		}
		if !funded {
			result = errors.Newf(errors.KindInsufficientFunds, "a balance of at least %s is required for this bid", amount.String())
			return
		}
		bid, err := r.registry.PlaceBid(ctx, r.auctionID, member.AccountID(), amount, time.Now())
		if err != nil {
			result = err
			return
		}
		r.highest = &bid
		accepted = bid
		r.broadcastLocked(Encode(TypeBidAccepted, bidAccepted(bid)))
		r.publish(events.NewEvent(events.BidAccepted, r.auctionID, bidAccepted(bid)))
		r.logger.Debug("bid accepted", "bidder", bid.BidderID, "amount", bid.Amount)
	})
	if err != nil {
		return types.Bid{}, err
	}
	return accepted, result
}

// leave detaches a connection. The account stays in the auction's bidders.
func (r *Room) leave(ctx context.Context, member Member) error {
	var found bool
	err := r.do(ctx, func() {
		if _, found = r.members[member.ID()]; found {
			delete(r.members, member.ID())
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return errors.Newf(errors.KindNotMember, "not connected to auction %s", r.auctionID)
	}
	return nil
}

func (r *Room) snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := r.do(ctx, func() {
		snap = Snapshot{
			AuctionID: r.auctionID,
			State:     r.State().String(),
			BasePrice: r.basePrice,
			Bidders:   len(r.joined),
			Connected: make([]string, 0, len(r.members)),
			EndDate:   r.endDate,
		}
		if r.highest != nil {
			h := bidAccepted(*r.highest)
			snap.Highest = &h
		}
		for _, m := range r.members {
			snap.Connected = append(snap.Connected, m.AccountID())
		}
	})
	return snap, err
}

func (r *Room) broadcastLocked(msg []byte) {
	for id, m := range r.members {
		if !m.Deliver(msg) {
			r.logger.Debug("dropped message for slow member", "member", id)
		}
	}
}

func (r *Room) publish(event events.Event) {
	if r.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish event", "type", event.Type, "err", err)
	}
}
