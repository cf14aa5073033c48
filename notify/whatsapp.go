package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"tariff-cost/decision/comparison"
	terrors "tariff-cost/pkg/errors"
)

// WhatsAppConfig points at a WAHA (WhatsApp HTTP API) instance
type WhatsAppConfig struct {
	BaseURL string
	APIKey  string
	Session string
	ChatID  string
	Timeout time.Duration
	// Retries is the number of extra attempts after a transport error or 5xx
	Retries int
}

// WhatsAppNotifier sends messages through WAHA's sendText endpoint.
// Consecutive delivery failures open a circuit breaker so a dead gateway
// fails fast for the rest of the batch.
type WhatsAppNotifier struct {
	cfg     WhatsAppConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

type sendTextRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	Session string `json:"session"`
}

// NewWhatsAppNotifier validates cfg and creates the notifier
func NewWhatsAppNotifier(cfg WhatsAppConfig, logger *zap.Logger) (*WhatsAppNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("whatsapp: base URL is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("whatsapp: chat ID is required")
	}
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	n := &WhatsAppNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "whatsapp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return n, nil
}

// WithHTTPClient replaces the HTTP client
func (n *WhatsAppNotifier) WithHTTPClient(c *http.Client) *WhatsAppNotifier {
	n.client = c
	return n
}

// ChatID returns the destination chat
func (n *WhatsAppNotifier) ChatID() string { return n.cfg.ChatID }

func (n *WhatsAppNotifier) Name() string { return ChannelWhatsApp }

func (n *WhatsAppNotifier) Notify(ctx context.Context, opp comparison.Opportunity) error {
	return n.SendText(ctx, FormatSavingsAlert(opp))
}

func (n *WhatsAppNotifier) SendText(ctx context.Context, text string) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.deliver(ctx, text)
	})
	if err != nil {
		return terrors.NewNotifyError(ChannelWhatsApp, err)
	}
	n.logger.Info("message sent", zap.String("chat_id", n.cfg.ChatID))
	return nil
}

// deliver retries transport errors and 5xx responses with exponential backoff
func (n *WhatsAppNotifier) deliver(ctx context.Context, text string) error {
	var err error
	for attempt := 0; attempt <= n.cfg.Retries; attempt++ {
		var retryable bool
		retryable, err = n.send(ctx, text)
		if err == nil || !retryable {
			return err
		}
		if attempt < n.cfg.Retries {
			n.logger.Warn("sendText failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 200 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("request failed after %d retries: %w", n.cfg.Retries, err)
}

func (n *WhatsAppNotifier) send(ctx context.Context, text string) (retryable bool, err error) {
	body, err := json.Marshal(sendTextRequest{ChatID: n.cfg.ChatID, Text: text, Session: n.cfg.Session})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.BaseURL+"/api/sendText", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if n.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", n.cfg.APIKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode >= 500, fmt.Errorf("sendText returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return false, nil
}
