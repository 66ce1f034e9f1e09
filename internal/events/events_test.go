package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Martin-Hayot/auction-house/configs"
	"github.com/charmbracelet/log"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

func TestRoutingKeys(t *testing.T) {
	t.Parallel()
	require.Equal(t, "bid.accepted", BidAccepted.RoutingKey())
	require.Equal(t, "auction.started", AuctionStarted.RoutingKey())
	require.Equal(t, "auction.closed", AuctionClosed.RoutingKey())
}

func TestEncode(t *testing.T) {
	t.Parallel()
	raw, err := NewEvent(AuctionClosed, "a1", map[string]string{"winner": "buyer-1"}).Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "auction-closed", decoded["type"])
	require.Equal(t, "a1", decoded["auctionId"])
	require.NotEmpty(t, decoded["occurredAt"])
}

func TestLogPublisher(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := NewLogPublisher(log.New(&buf))

	require.NoError(t, p.Publish(context.Background(), NewEvent(AuctionStarted, "a1", nil)))
	require.Contains(t, buf.String(), "auction-started")
	require.Contains(t, buf.String(), "a1")
	require.NoError(t, p.Close())
}

func TestPublishersFanOut(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	first := NewMockPublisher(ctrl)
	second := NewMockPublisher(ctrl)
	boom := errors.New("broker down")

	event := NewEvent(BidAccepted, "a1", nil)
	first.EXPECT().Publish(gomock.Any(), event).Return(boom)
	second.EXPECT().Publish(gomock.Any(), event).Return(nil)

	err := Publishers{first, second}.Publish(context.Background(), event)
	require.ErrorIs(t, err, boom)
}

func TestNewUnknownKind(t *testing.T) {
	t.Parallel()
	cfg := &configs.Config{}
	cfg.Broker.Kind = "kafka"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)

	cfg.Broker.Kind = "log"
	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, &LogPublisher{}, p)
}
