// Package events announces committed network versions to subscribers over a
// mangos PUB socket.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/google/uuid"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"

	// Register transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// Topic prefixes every published message so subscribers can filter.
const Topic = "VERSION:"

const (
	TypeNetworkCreated = "network.created"
	TypeNetworkUpdated = "network.updated"
)

var ErrPublisherClosed = errors.New("publisher is closed")

// VersionEvent describes a committed upload or update.
type VersionEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	CustomerID  int64     `json:"customer_id"`
	NetworkID   int64     `json:"network_id"`
	Network     string    `json:"network"`
	Version     string    `json:"version"`
	At          time.Time `json:"at"`
	Reactivated int       `json:"reactivated"`
	Inserted    int       `json:"inserted"`
	Retired     int       `json:"retired"`
}

// NewVersionEvent stamps an event with a fresh id.
func NewVersionEvent(eventType string) VersionEvent {
	return VersionEvent{ID: uuid.NewString(), Type: eventType}
}

// Publisher delivers version events. Delivery is best effort.
type Publisher interface {
	Publish(ev VersionEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(VersionEvent) error { return nil }
func (NopPublisher) Close() error               { return nil }

// NNGPublisher publishes events on a PUB socket. Subscribers that are not
// connected when an event is sent miss it.
type NNGPublisher struct {
	sock   mangos.Socket
	addr   string
	logger logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewNNGPublisher binds a PUB socket to addr, e.g. tcp://*:9400 or
// inproc://roadnet-events.
func NewNNGPublisher(addr string, logger logging.Logger) (*NNGPublisher, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to bind PUB socket to %s: %w", addr, err)
	}

	logger = logger.With(logging.Component("events"))
	logger.Info("event publisher bound", logging.String("address", addr))
	return &NNGPublisher{sock: sock, addr: addr, logger: logger}, nil
}

// Addr returns the bound address.
func (p *NNGPublisher) Addr() string {
	return p.addr
}

// Publish sends ev to every connected subscriber.
func (p *NNGPublisher) Publish(ev VersionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	msg := append([]byte(Topic), data...)
	if err := p.sock.Send(msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.logger.Debug("event published",
		logging.String("event_id", ev.ID),
		logging.String("type", ev.Type),
		logging.NetworkID(ev.NetworkID),
		logging.Version(ev.Version),
	)
	return nil
}

// Close closes the socket. Later publishes fail with ErrPublisherClosed.
func (p *NNGPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.sock.Close()
}

// Decode parses a message received on a SUB socket.
func Decode(msg []byte) (VersionEvent, error) {
	var ev VersionEvent
	body, ok := strings.CutPrefix(string(msg), Topic)
	if !ok {
		return ev, fmt.Errorf("message lacks %q topic", Topic)
	}
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}
