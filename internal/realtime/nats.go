package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/models"
)

// envelope is the NATS payload of a relayed event. Origin identifies the
// publishing instance so it can skip its own events.
type envelope struct {
	Origin string             `json:"origin"`
	Event  models.ChangeEvent `json:"event"`
}

// Bridge relays change events between chatd instances over NATS subjects
// "<prefix>.<relation>".
type Bridge struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	prefix string
	origin string
	hub    *Hub
	logger *zap.Logger
}

// Subject returns the NATS subject events of relation are published on.
func Subject(prefix, relation string) string {
	return fmt.Sprintf("%s.%s", prefix, relation)
}

// NewBridge connects to NATS, forwards events published on hub and delivers
// events from other instances to hub's subscribers.
func NewBridge(natsURL, prefix string, hub *Hub, logger *zap.Logger) (*Bridge, error) {
	nc, err := nats.Connect(natsURL, nats.Name("chatd"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &Bridge{
		nc:     nc,
		prefix: prefix,
		origin: uuid.NewString(),
		hub:    hub,
		logger: logger,
	}

	b.sub, err = nc.Subscribe(prefix+".>", b.receive)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to '%s.>': %w", prefix, err)
	}
	hub.AddSink(b.forward)

	logger.Info("Realtime bridge connected", zap.String("url", natsURL), zap.String("origin", b.origin))
	return b, nil
}

func (b *Bridge) forward(ev models.ChangeEvent) {
	data, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		b.logger.Error("Failed to marshal change event", zap.Error(err))
		return
	}
	if err := b.nc.Publish(Subject(b.prefix, ev.Relation), data); err != nil {
		b.logger.Warn("Failed to relay change event", zap.String("relation", ev.Relation), zap.Error(err))
	}
}

func (b *Bridge) receive(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("Dropping malformed change event", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.hub.Deliver(env.Event)
}

// Close stops relaying and closes the NATS connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}
