// Package bidding runs one room per ongoing auction. A room admits bidders
// behind a funds check, orders their bids and broadcasts accepted bids to
// every connected member.
package bidding

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/events"
	"github.com/Martin-Hayot/auction-house/internal/wallet"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/Martin-Hayot/auction-house/pkg/utils"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

// Registry is the part of the auction registry the rooms use.
type Registry interface {
	Get(ctx context.Context, auctionID string) (types.Auction, error)
	HighestBid(ctx context.Context, auctionID string) (*types.Bid, error)
	AppendBidder(ctx context.Context, auctionID, bidderID string) bool
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, at time.Time) (types.Bid, error)
}

// AdmitResult describes a successful or repeated join.
type AdmitResult struct {
	Joined Joined
	// Attached is true when the connection is now a room member, including
	// after an AlreadyJoined answer.
	Attached bool
}

type Manager struct {
	registry  Registry
	ledger    wallet.Ledger
	publisher events.Publisher
	logger    *log.Logger

	mu          sync.Mutex
	rooms       map[string]*Room
	memberships map[string]string // connection ID -> auction ID
}

func NewManager(registry Registry, ledger wallet.Ledger, publisher events.Publisher) *Manager {
	return &Manager{
		registry:    registry,
		ledger:      ledger,
		publisher:   publisher,
		logger:      log.WithPrefix("rooms"),
		rooms:       make(map[string]*Room),
		memberships: make(map[string]string),
	}
}

// Open creates the room for an ongoing auction. Opening an open room is a no-op.
func (m *Manager) Open(ctx context.Context, auctionID string) error {
	m.mu.Lock()
	_, exists := m.rooms[auctionID]
	m.mu.Unlock()
	if exists {
		return nil
	}

	auction, err := m.registry.Get(ctx, auctionID)
	if err != nil {
		return err
	}
	if auction.Status != types.StatusOnGoing {
		return errors.Newf(errors.KindNotJoinable, "auction %s is %s", auctionID, auction.Status)
	}
	highest, err := m.registry.HighestBid(ctx, auctionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[auctionID]; exists {
		return nil
	}
	m.rooms[auctionID] = newRoom(auction, highest, m.registry, m.ledger, m.publisher)
	m.logger.Info("room opened", "auction", auctionID)
	return nil
}

// Close shuts the room down after answering every queued request and
// returns the members that were still connected. Closing a missing room
// returns nil.
func (m *Manager) Close(auctionID string) []Member {
	m.mu.Lock()
	room, ok := m.rooms[auctionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	members := room.close()

	m.mu.Lock()
	delete(m.rooms, auctionID)
	for _, member := range members {
		if m.memberships[member.ID()] == auctionID {
			delete(m.memberships, member.ID())
		}
	}
	m.mu.Unlock()
	m.logger.Info("room closed", "auction", auctionID, "members", len(members))
	return members
}

// CloseAll shuts down every room, used on process shutdown.
func (m *Manager) CloseAll() {
	for _, id := range m.OpenRooms() {
		m.Close(id)
	}
}

func (m *Manager) Get(auctionID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[auctionID]
	return room, ok
}

// OpenRooms lists the auction IDs with a live room, sorted.
func (m *Manager) OpenRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Admit joins accountID to the auction. Checks run in this order: funds
// (InsufficientFunds), prior join (AlreadyJoined), auction and room state
// (NotJoinable). member may be nil for joins that have no live connection.
func (m *Manager) Admit(ctx context.Context, auctionID, accountID string, member Member) (AdmitResult, error) {
	auction, err := m.registry.Get(ctx, auctionID)
	if err != nil {
		return AdmitResult{}, err
	}

	ok, err := m.ledger.HasAssurance(ctx, accountID, auction.ChairCost)
	if err != nil {
		return AdmitResult{}, err
	}
	if !ok {
		return AdmitResult{}, errors.Newf(errors.KindInsufficientFunds,
			"a balance of at least %s is required to join this auction", auction.ChairCost.String())
	}

	room, hasRoom := m.Get(auctionID)
	if auction.HasBidder(accountID) {
		result := AdmitResult{Joined: Joined{AuctionID: auctionID, Bidders: len(auction.Bidders), Rejoined: true}}
		if hasRoom && member != nil {
			adm, err := room.admit(ctx, accountID, member)
			if err == nil || (errors.Is(err, errors.ErrAlreadyJoined) && adm.rejoined) {
				m.moveTo(ctx, auctionID, member)
				result = AdmitResult{Joined: adm.joined, Attached: true}
			}
		}
		return result, errors.Newf(errors.KindAlreadyJoined, "%s already joined auction %s", accountID, auctionID)
	}

	if auction.Status != types.StatusOnGoing || !hasRoom {
		return AdmitResult{}, errors.Newf(errors.KindNotJoinable, "auction %s is %s", auctionID, auction.Status)
	}

	adm, err := room.admit(ctx, accountID, member)
	if err != nil {
		if errors.Is(err, errors.ErrAlreadyJoined) && adm.rejoined {
			m.moveTo(ctx, auctionID, member)
			return AdmitResult{Joined: adm.joined, Attached: true}, err
		}
		return AdmitResult{}, err
	}
	if member != nil {
		m.moveTo(ctx, auctionID, member)
	}
	return AdmitResult{Joined: adm.joined, Attached: member != nil}, nil
}

// SubmitBid hands a bid to the auction's room.
func (m *Manager) SubmitBid(ctx context.Context, auctionID string, member Member, amount decimal.Decimal) (types.Bid, error) {
	if err := utils.CheckScale("amount", amount); err != nil {
		return types.Bid{}, err
	}
	room, ok := m.Get(auctionID)
	if !ok {
		return types.Bid{}, errors.Newf(errors.KindNotJoinable, "auction %s is not open for bidding", auctionID)
	}
	return room.submitBid(ctx, member, amount)
}

// Leave detaches member from the auction's room.
func (m *Manager) Leave(ctx context.Context, auctionID string, member Member) error {
	room, ok := m.Get(auctionID)
	if !ok {
		return errors.Newf(errors.KindNotMember, "not connected to auction %s", auctionID)
	}
	if err := room.leave(ctx, member); err != nil {
		return err
	}
	m.untrack(auctionID, member)
	return nil
}

// Detach removes a dropped connection from whatever room it was in.
func (m *Manager) Detach(member Member) {
	m.mu.Lock()
	auctionID, ok := m.memberships[member.ID()]
	m.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Leave(ctx, auctionID, member); err != nil {
		m.logger.Debug("detach", "auction", auctionID, "member", member.ID(), "err", err)
		m.untrack(auctionID, member)
	}
}

// Snapshot returns the room state for a member of that room.
func (m *Manager) Snapshot(ctx context.Context, auctionID string) (Snapshot, error) {
	room, ok := m.Get(auctionID)
	if !ok {
		return Snapshot{}, errors.Newf(errors.KindNotJoinable, "auction %s has no open room", auctionID)
	}
	return room.snapshot(ctx)
}

// RoomOf returns the auction a connection is currently attached to.
func (m *Manager) RoomOf(member Member) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.memberships[member.ID()]
	return id, ok
}

// moveTo records member as attached to auctionID, detaching it from the
// room it was in before. Callers have already admitted it to auctionID.
func (m *Manager) moveTo(ctx context.Context, auctionID string, member Member) {
	if current, ok := m.RoomOf(member); ok && current != auctionID {
		if room, open := m.Get(current); open {
			if err := room.leave(ctx, member); err != nil {
				m.logger.Debug("leave previous room", "auction", current, "member", member.ID(), "err", err)
			}
		}
	}
	m.track(auctionID, member)
}

func (m *Manager) track(auctionID string, member Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[member.ID()] = auctionID
}

func (m *Manager) untrack(auctionID string, member Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.memberships[member.ID()] == auctionID {
		delete(m.memberships, member.ID())
	}
}

// AnnounceClose tells the members of a closed room who won.
func AnnounceClose(members []Member, auctionID string, settlement *types.Settlement) {
	msg := AuctionClosed{AuctionID: auctionID}
	if settlement != nil {
		msg.Winner = settlement.WinnerID
		if settlement.WinningBid != nil {
			b := bidAccepted(*settlement.WinningBid)
			msg.WinningBid = &b
		}
	}
	raw := Encode(TypeAuctionClosed, msg)
	for _, member := range members {
		member.Deliver(raw)
	}
}
