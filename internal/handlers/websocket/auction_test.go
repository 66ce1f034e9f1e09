package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/auth"
	"github.com/Martin-Hayot/auction-house/internal/bidding"
	"github.com/Martin-Hayot/auction-house/internal/database"
	"github.com/Martin-Hayot/auction-house/internal/events"
	"github.com/Martin-Hayot/auction-house/internal/registry"
	"github.com/Martin-Hayot/auction-house/internal/wallet"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// headerAuth trusts an X-Account header, standing in for the session cookie.
var headerAuth = auth.AuthenticatorFunc(func(r *http.Request) (types.Identity, error) {
	id := r.Header.Get("X-Account")
	if id == "" {
		return types.Identity{}, errors.New(http.StatusUnauthorized, "missing session token cookie")
	}
	return types.Identity{AccountID: id, Role: types.RoleBuyer}, nil
})

type env struct {
	server    *httptest.Server
	handler   *AuctionHandler
	rooms     *bidding.Manager
	auctionID string
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	ctx := context.Background()
	store := database.NewMemory()
	_, err := store.CreateCategory(ctx, types.Category{ID: "watches", Name: "Watches"})
	require.NoError(t, err)

	reg := registry.New(store)
	ledger := wallet.New(store)
	rooms := bidding.NewManager(reg, ledger, events.NewLogPublisher(log.New(io.Discard)))

	a, err := reg.Create(ctx, types.NewAuction{
		Title:      "Seamaster 300",
		BasePrice:  decimal.NewFromInt(100),
		StartDate:  time.Now().Add(-time.Minute),
		CategoryID: "watches",
	}, "seller-1")
	require.NoError(t, err)
	_, err = reg.Approve(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, reg.TransitionStatus(ctx, a.ID, types.StatusOnGoing))
	require.NoError(t, rooms.Open(ctx, a.ID))

	for _, acct := range []string{"alice", "bob"} {
		_, err := ledger.Deposit(ctx, acct, decimal.NewFromInt(1000))
		require.NoError(t, err)
	}

	handler := NewAuctionWebSocketHandler(rooms, headerAuth, opts)
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
		handler.Shutdown()
		rooms.CloseAll()
	})
	return &env{server: server, handler: handler, rooms: rooms, auctionID: a.ID}
}

func (e *env) dial(t *testing.T, account string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	header := http.Header{}
	header.Set("X-Account", account)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: msgType, Data: raw}))
}

// next reads frames until one of msgType arrives.
func next(t *testing.T, conn *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == msgType {
			return f.Data
		}
	}
}

type errorData struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func nextError(t *testing.T, conn *websocket.Conn) errorData {
	t.Helper()
	var e errorData
	require.NoError(t, json.Unmarshal(next(t, conn, "error"), &e))
	return e
}

func TestUnauthenticatedConnectionIsRefused(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Options{})
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinAndBidAreBroadcast(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Options{})
	alice := e.dial(t, "alice")
	bob := e.dial(t, "bob")

	send(t, alice, "join", auctionRef{AuctionID: e.auctionID})
	var joined bidding.Joined
	require.NoError(t, json.Unmarshal(next(t, alice, bidding.TypeJoined), &joined))
	require.Equal(t, 1, joined.Bidders)

	send(t, bob, "join", auctionRef{AuctionID: e.auctionID})
	next(t, bob, bidding.TypeJoined)

	send(t, alice, "bid", map[string]any{"auction_id": e.auctionID, "amount": 150})
	for _, conn := range []*websocket.Conn{alice, bob} {
		var accepted bidding.BidAccepted
		require.NoError(t, json.Unmarshal(next(t, conn, bidding.TypeBidAccepted), &accepted))
		require.Equal(t, "alice", accepted.BidderID)
		require.True(t, accepted.Amount.Equal(decimal.NewFromInt(150)))
	}

	send(t, bob, "bid", map[string]any{"auction_id": e.auctionID, "amount": "120.50"})
	got := nextError(t, bob)
	require.Equal(t, string(errors.KindBidTooLow), got.Kind)

	send(t, bob, "update", auctionRef{AuctionID: e.auctionID})
	var snap bidding.Snapshot
	require.NoError(t, json.Unmarshal(next(t, bob, bidding.TypeState), &snap))
	require.Equal(t, 2, snap.Bidders)
	require.True(t, snap.Highest.Amount.Equal(decimal.NewFromInt(150)))
	require.ElementsMatch(t, []string{"alice", "bob"}, snap.Connected)
}

func TestReconnectGetsAlreadyJoinedAndStaysAttached(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Options{})
	first := e.dial(t, "alice")
	send(t, first, "join", auctionRef{AuctionID: e.auctionID})
	next(t, first, bidding.TypeJoined)
	first.Close()

	second := e.dial(t, "alice")
	send(t, second, "join", auctionRef{AuctionID: e.auctionID})
	var joined bidding.Joined
	require.NoError(t, json.Unmarshal(next(t, second, bidding.TypeJoined), &joined))
	require.True(t, joined.Rejoined)
	require.Equal(t, string(errors.KindAlreadyJoined), nextError(t, second).Kind)

	send(t, second, "bid", map[string]any{"auction_id": e.auctionID, "amount": 200})
	next(t, second, bidding.TypeBidAccepted)
}

func TestMalformedMessages(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Options{})
	conn := e.dial(t, "alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.Equal(t, errors.ErrBadMessageFormat, nextError(t, conn).Code)

	send(t, conn, "shout", auctionRef{AuctionID: e.auctionID})
	require.Equal(t, errors.ErrUnknownMessageType, nextError(t, conn).Code)

	send(t, conn, "join", map[string]any{})
	require.Equal(t, errors.ErrBadMessageFormat, nextError(t, conn).Code)

	send(t, conn, "bid", map[string]any{"auction_id": e.auctionID, "amount": 500})
	require.Equal(t, string(errors.KindNotMember), nextError(t, conn).Kind)

	send(t, conn, "update", auctionRef{AuctionID: e.auctionID})
	require.Equal(t, string(errors.KindNotMember), nextError(t, conn).Kind)

	send(t, conn, "join", auctionRef{AuctionID: "missing"})
	require.Equal(t, string(errors.KindNotFound), nextError(t, conn).Kind)
}

func TestRateLimitedMessagesAreDropped(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Options{RateLimit: 0.001, RateBurst: 1})
	conn := e.dial(t, "alice")

	send(t, conn, "join", auctionRef{AuctionID: e.auctionID})
	next(t, conn, bidding.TypeJoined)

	send(t, conn, "leave", auctionRef{AuctionID: e.auctionID})
	require.Equal(t, errors.ErrRateLimited, nextError(t, conn).Code)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Options{})
	alice := e.dial(t, "alice")
	send(t, alice, "join", auctionRef{AuctionID: e.auctionID})
	next(t, alice, bidding.TypeJoined)

	snap, err := e.rooms.Snapshot(context.Background(), e.auctionID)
	require.NoError(t, err)
	require.Len(t, snap.Connected, 1)

	alice.Close()
	require.Eventually(t, func() bool {
		snap, err := e.rooms.Snapshot(context.Background(), e.auctionID)
		return err == nil && len(snap.Connected) == 0 && e.handler.ConnectedClients() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The account stays a bidder of the auction.
	snap, err = e.rooms.Snapshot(context.Background(), e.auctionID)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Bidders)
}

func TestLeaveThenRejoin(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Options{})
	alice := e.dial(t, "alice")
	send(t, alice, "join", auctionRef{AuctionID: e.auctionID})
	next(t, alice, bidding.TypeJoined)

	send(t, alice, "leave", auctionRef{AuctionID: e.auctionID})
	next(t, alice, bidding.TypeLeft)

	send(t, alice, "leave", auctionRef{AuctionID: e.auctionID})
	require.Equal(t, string(errors.KindNotMember), nextError(t, alice).Kind)
}
