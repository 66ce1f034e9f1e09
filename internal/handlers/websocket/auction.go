// Package websocket carries live bidding over /ws/auction. Each connection
// is authenticated from its session cookie, then exchanges
// {"type","data"} messages with the auction rooms.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Martin-Hayot/auction-house/internal/auth"
	"github.com/Martin-Hayot/auction-house/internal/bidding"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Rooms is what a connection can do with the auction rooms.
type Rooms interface {
	Admit(ctx context.Context, auctionID, accountID string, member bidding.Member) (bidding.AdmitResult, error)
	SubmitBid(ctx context.Context, auctionID string, member bidding.Member, amount decimal.Decimal) (types.Bid, error)
	Leave(ctx context.Context, auctionID string, member bidding.Member) error
	Snapshot(ctx context.Context, auctionID string) (bidding.Snapshot, error)
	RoomOf(member bidding.Member) (string, bool)
	Detach(member bidding.Member)
}

type Options struct {
	PingInterval   time.Duration
	MaxMessageSize int
	RateLimit      float64 // messages per second
	RateBurst      int
	RequestTimeout time.Duration
	AllowAnyOrigin bool
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 5
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 10
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	return o
}

type AuctionHandler struct {
	rooms    Rooms
	authn    auth.Authenticator
	opts     Options
	upgrader websocket.Upgrader
	logger   *log.Logger

	connectedClients sync.Map // *Client -> struct{}
	wg               sync.WaitGroup
}

func NewAuctionWebSocketHandler(rooms Rooms, authn auth.Authenticator, opts Options) *AuctionHandler {
	opts = opts.withDefaults()
	h := &AuctionHandler{
		rooms:  rooms,
		authn:  authn,
		opts:   opts,
		logger: log.WithPrefix("ws"),
	}
	if opts.AllowAnyOrigin {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return h
}

// ServeHTTP authenticates the caller and upgrades the request.
func (h *AuctionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authn.Authenticate(r)
	if err != nil {
		h.logger.Debug("rejected connection", "err", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Info("failed to upgrade connection", "err", errors.New(errors.ErrWebSocketUpgrade, err.Error()))
		return
	}

	client := NewClient(conn, identity, h.opts)
	h.connectedClients.Store(client, struct{}{})
	client.logger.Debug("client connected")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.WriteMessages()
	}()
	go func() {
		defer h.wg.Done()
		client.ReadMessages(h.HandleMessage)
		h.rooms.Detach(client)
		h.connectedClients.Delete(client)
	}()
}

// ConnectedClients counts the open connections.
func (h *AuctionHandler) ConnectedClients() int {
	n := 0
	h.connectedClients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown closes every connection and waits for their pumps to exit.
func (h *AuctionHandler) Shutdown() {
	h.connectedClients.Range(func(key, _ any) bool {
		client := key.(*Client)
		client.Disconnect()
		client.Conn.Close()
		return true
	})
	h.wg.Wait()
}
