// Package events publishes domain events to whatever broadcast collaborator
// is configured: the log, a RabbitMQ topic exchange or a Redis channel.
package events

//go:generate mockgen -source=events.go -destination=mock_events.go -package=events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Martin-Hayot/auction-house/configs"
	"github.com/charmbracelet/log"
)

type Type string

const (
	BidAccepted    Type = "bid-accepted"
	AuctionStarted Type = "auction-started"
	AuctionClosed  Type = "auction-closed"
)

// RoutingKey is the topic used on the RabbitMQ exchange.
func (t Type) RoutingKey() string {
	switch t {
	case BidAccepted:
		return "bid.accepted"
	case AuctionStarted:
		return "auction.started"
	case AuctionClosed:
		return "auction.closed"
	}
	return "auction.unknown"
}

type Event struct {
	Type       Type      `json:"type"`
	AuctionID  string    `json:"auctionId"`
	Data       any       `json:"data,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewEvent(t Type, auctionID string, data any) Event {
	return Event{Type: t, AuctionID: auctionID, Data: data, OccurredAt: time.Now().UTC()}
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Publish must not block on slow consumers for
// longer than ctx allows.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// New builds the publisher selected by cfg.Broker.Kind.
func New(ctx context.Context, cfg *configs.Config) (Publisher, error) {
	switch cfg.Broker.Kind {
	case "", "log":
		return NewLogPublisher(log.Default()), nil
	case "amqp", "rabbitmq":
		return NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.Exchange)
	case "redis":
		return NewRedisPublisher(ctx, cfg.Broker.URL, cfg.Broker.Exchange)
	}
	return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
}

// LogPublisher writes events to a logger.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.WithPrefix("events")}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info(string(event.Type), "auction", event.AuctionID, "data", event.Data)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Publishers fans an event out to several publishers and returns the first error.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range ps {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (ps Publishers) Close() error {
	var first error
	for _, p := range ps {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
