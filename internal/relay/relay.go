package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Kind of a relayed event.
type Kind string

const (
	KindMessage     Kind = "message"
	KindTypingStart Kind = "typing-start"
	KindTypingStop  Kind = "typing-stop"
)

// Envelope carries one room event between chatd nodes.
type Envelope struct {
	Origin     string        `json:"origin"`
	Kind       Kind          `json:"kind"`
	Room       string        `json:"room"`
	ConnID     string        `json:"connId,omitempty"`
	SenderRole chat.Role     `json:"senderRole,omitempty"`
	Message    *chat.Message `json:"message,omitempty"`
}

// Relay fans room events out to sibling nodes.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(handler func(Envelope)) error
	Close() error
}

// Nop is the relay of a single-node deployment.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Subscribe(func(Envelope)) error          { return nil }
func (Nop) Close() error                            { return nil }

// Config holds NATS settings.
type Config struct {
	URL     string
	Subject string
	NodeID  string
}

// NATS publishes every envelope on one subject so per-node publish order is
// preserved for subscribers; envelopes from this node are skipped on receipt.
type NATS struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	nodeID  string
	logger  *zap.Logger
}

// NewNATS connects to the NATS server at cfg.URL.
func NewNATS(cfg Config, logger *zap.Logger) (*NATS, error) {
	if cfg.Subject == "" {
		cfg.Subject = "rentchat.room"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("chatd-"+cfg.NodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{nc: nc, subject: cfg.Subject, nodeID: cfg.NodeID, logger: logger}, nil
}

func (n *NATS) Publish(_ context.Context, env Envelope) error {
	env.Origin = n.nodeID
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return n.nc.Publish(n.subject, data)
}

func (n *NATS) Subscribe(handler func(Envelope)) error {
	sub, err := n.nc.Subscribe(n.subject, func(m *nats.Msg) {
		env, ok := Decode(m.Data, n.nodeID)
		if !ok {
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	n.sub = sub
	return nil
}

func (n *NATS) Close() error {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	return n.nc.Drain()
}

// Decode parses a relayed envelope, reporting false for malformed payloads
// and for envelopes that originated on selfID.
func Decode(data []byte, selfID string) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false
	}
	if env.Origin == selfID || env.Room == "" {
		return Envelope{}, false
	}
	return env, true
}
