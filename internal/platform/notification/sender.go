package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// GatewaySender posts outbound SMS to an HTTP message gateway. Calls go
// through a circuit breaker so a dead gateway fails fast and the worker
// requeues instead of blocking.
type GatewaySender struct {
	client *resty.Client
	cb     *gobreaker.CircuitBreaker
	logger zerolog.Logger
}

type gatewayMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// NewGatewaySender creates a sender for the gateway at baseURL. token, if
// set, is sent as a bearer token.
func NewGatewaySender(baseURL, token string, logger zerolog.Logger) *GatewaySender {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}

	logger = logger.With().Str("component", "sms-gateway").Logger()
	settings := gobreaker.Settings{
		Name:        "sms-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &GatewaySender{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

func (s *GatewaySender) SendSMS(ctx context.Context, to, body string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		resp, err := s.client.R().
			SetContext(ctx).
			SetBody(gatewayMessage{To: to, Text: body}).
			Post("/messages")
		if err != nil {
			return nil, fmt.Errorf("call sms gateway: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("sms gateway returned %s", resp.Status())
		}
		return nil, nil
	})
	return err
}

// State reports the breaker state for diagnostics.
func (s *GatewaySender) State() gobreaker.State {
	return s.cb.State()
}

// LogSender writes messages to the log instead of sending them. It is used
// when no gateway is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "sms-log").Logger()}
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("to", to).Str("body", body).Msg("sms")
	return nil
}
