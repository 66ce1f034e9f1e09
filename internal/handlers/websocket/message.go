package websocket

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Martin-Hayot/auction-house/internal/bidding"
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/shopspring/decimal"
)

type Message struct {
	Type string          `json:"type"` // join, bid, leave or update
	Data json.RawMessage `json:"data"` // Payload of the message
}

type auctionRef struct {
	AuctionID string `json:"auction_id"`
}

type bidRequest struct {
	AuctionID string          `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type left struct {
	AuctionID string `json:"auction_id"`
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(rawMessage, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, errors.New(errors.ErrBadMessageFormat, "message type is required")
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type. Errors go back to the
// sender only.
func (h *AuctionHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		client.logger.Warn("rate limit exceeded")
		h.reply(client, errors.New(errors.ErrRateLimited, "Rate limit exceeded"))
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		client.logger.Info("invalid message", "err", err)
		h.reply(client, errors.New(errors.ErrBadMessageFormat, "Invalid message format"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.RequestTimeout)
	defer cancel()

	switch msg.Type {
	case "join":
		h.handleJoin(ctx, client, msg.Data)
	case "bid":
		h.handleBid(ctx, client, msg.Data)
	case "leave":
		h.handleLeave(ctx, client, msg.Data)
	case "update":
		h.handleUpdate(ctx, client, msg.Data)
	default:
		client.logger.Debug("unknown message type", "type", msg.Type)
		h.reply(client, errors.New(errors.ErrUnknownMessageType, "Unknown message type"))
	}
}

func (h *AuctionHandler) handleJoin(ctx context.Context, client *Client, data json.RawMessage) {
	var req auctionRef
	if !h.decode(client, data, &req) {
		return
	}
	res, err := h.rooms.Admit(ctx, req.AuctionID, client.AccountID(), client)
	if res.Attached {
		client.Deliver(bidding.Encode(bidding.TypeJoined, res.Joined))
	}
	if err != nil {
		h.reply(client, err)
	}
}

func (h *AuctionHandler) handleBid(ctx context.Context, client *Client, data json.RawMessage) {
	var req bidRequest
	if !h.decode(client, data, &req) {
		return
	}
	// The accepted bid reaches the sender through the room broadcast.
	if _, err := h.rooms.SubmitBid(ctx, req.AuctionID, client, req.Amount); err != nil {
		h.reply(client, err)
	}
}

func (h *AuctionHandler) handleLeave(ctx context.Context, client *Client, data json.RawMessage) {
	var req auctionRef
	if !h.decode(client, data, &req) {
		return
	}
	if err := h.rooms.Leave(ctx, req.AuctionID, client); err != nil {
		h.reply(client, err)
		return
	}
	client.Deliver(bidding.Encode(bidding.TypeLeft, left{AuctionID: req.AuctionID}))
}

func (h *AuctionHandler) handleUpdate(ctx context.Context, client *Client, data json.RawMessage) {
	var req auctionRef
	if !h.decode(client, data, &req) {
		return
	}
	if current, ok := h.rooms.RoomOf(client); !ok || current != req.AuctionID {
		h.reply(client, errors.Newf(errors.KindNotMember, "join auction %s first", req.AuctionID))
		return
	}
	snap, err := h.rooms.Snapshot(ctx, req.AuctionID)
	if err != nil {
		h.reply(client, err)
		return
	}
	client.Deliver(bidding.Encode(bidding.TypeState, snap))
}

// decode reads the payload and requires an auction_id.
func (h *AuctionHandler) decode(client *Client, data json.RawMessage, dst any) bool {
	if len(data) == 0 || json.Unmarshal(data, dst) != nil {
		h.reply(client, errors.New(errors.ErrBadMessageFormat, "Invalid message payload"))
		return false
	}
	var ref auctionRef
	_ = json.Unmarshal(data, &ref)
	if strings.TrimSpace(ref.AuctionID) == "" {
		h.reply(client, errors.New(errors.ErrBadMessageFormat, "auction_id is required"))
		return false
	}
	return true
}

func (h *AuctionHandler) reply(client *Client, err error) {
	var app *errors.AppError
	if !errors.As(err, &app) || app.Kind == errors.KindInternal {
		client.logger.Error("request failed", "err", err)
		app = errors.New(errors.ErrInternalServer, "Internal server error")
	}
	client.Deliver([]byte(app.ToJSON()))
}
