package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"tariff-cost/decision/comparison"
	terrors "tariff-cost/pkg/errors"
)

// DefaultNATSSubject is used when no subject is configured
const DefaultNATSSubject = "tariffcost.opportunities"

// NATSConfig holds the broker address and subject
type NATSConfig struct {
	URL     string
	Subject string
}

// Publisher is the subset of *nats.Conn the notifier needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes opportunities as JSON. Summaries go to "<subject>.summary".
type NATSNotifier struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// DialNATS connects to the broker
func DialNATS(cfg NATSConfig, logger *zap.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("tariffcost"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Successfully connected to NATS", zap.String("url", url))

	n := NewNATSNotifier(nc, cfg.Subject, logger)
	n.conn = nc
	return n, nil
}

// NewNATSNotifier wraps an existing publisher
func NewNATSNotifier(pub Publisher, subject string, logger *zap.Logger) *NATSNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSNotifier{pub: pub, subject: subject, logger: logger}
}

func (n *NATSNotifier) Name() string { return ChannelNATS }

func (n *NATSNotifier) Notify(ctx context.Context, opp comparison.Opportunity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(opp)
	if err != nil {
		return terrors.NewNotifyError(ChannelNATS, err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return terrors.NewNotifyError(ChannelNATS, err)
	}
	n.logger.Debug("published opportunity", zap.String("subject", n.subject), zap.String("profile", opp.Profile))
	return nil
}

func (n *NATSNotifier) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.pub.Publish(n.subject+".summary", []byte(text)); err != nil {
		return terrors.NewNotifyError(ChannelNATS, err)
	}
	return nil
}

// Close drains the connection when the notifier owns one
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
