package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tariff-cost/decision/comparison"
)

// Channel names accepted by New
const (
	ChannelNone     = "none"
	ChannelWhatsApp = "whatsapp"
	ChannelNATS     = "nats"
)

// Notifier delivers savings alerts and free-form summaries.
type Notifier interface {
	Notify(ctx context.Context, opp comparison.Opportunity) error
	SendText(ctx context.Context, text string) error
	Name() string
}

// Options selects and configures a transport
type Options struct {
	Channel  string
	WhatsApp WhatsAppConfig
	NATS     NATSConfig
}

// New builds the notifier for opts.Channel. An empty channel means none.
func New(opts Options, logger *zap.Logger) (Notifier, error) {
	switch opts.Channel {
	case "", ChannelNone:
		return NewLogNotifier(logger), nil
	case ChannelWhatsApp:
		n, err := NewWhatsAppNotifier(opts.WhatsApp, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	case ChannelNATS:
		n, err := DialNATS(opts.NATS, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notify channel %q", opts.Channel)
	}
}

// LogNotifier writes alerts to the log instead of delivering them
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, opp comparison.Opportunity) error {
	n.logger.Info("savings alert",
		zap.String("profile", opp.Profile),
		zap.String("category", opp.Category),
		zap.String("message", FormatSavingsAlert(opp)),
	)
	return nil
}

func (n *LogNotifier) SendText(_ context.Context, text string) error {
	n.logger.Info("summary", zap.String("message", text))
	return nil
}

func (n *LogNotifier) Name() string { return ChannelNone }
