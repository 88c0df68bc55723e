// Package notification renders alert SMS, computes when they may be sent,
// and hands them to a delayed outbound queue drained by a delivery worker.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imam/imam/internal/platform/metrics"
)

// ---------------------------------------------------------------------------
// Outbound message
// ---------------------------------------------------------------------------

// Outbound is one alert text addressed to one or more phone numbers. ETA is
// the earliest moment the worker may deliver it.
type Outbound struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind,omitempty"`
	Body       string    `json:"body"`
	Recipients []string  `json:"recipients"`
	ETA        time.Time `json:"eta"`
	CreatedAt  time.Time `json:"created_at"`
	Attempts   int       `json:"attempts,omitempty"`
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

const (
	TemplateStockOut = "stockout-alert"
	TemplateLowStock = "low-stock-alert"
)

// Template defines a reusable alert text.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"body"`
}

// TemplateEngine manages alert templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:   TemplateStockOut,
			Name: "Stock Out Alert",
			Body: "Stock outs of {{items}} were reported at {{site_name}} with the site ID {{site_id}} on {{date}}",
		},
		{
			ID:   TemplateLowStock,
			Name: "Low Stock Alert",
			Body: "The site {{site_name}} with the site ID {{site_id}} reported low stock of {{item}} on {{date}}",
		},
	}
	for _, t := range builtIn {
		e.RegisterTemplate(t)
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// ---------------------------------------------------------------------------
// Dispatch window
// ---------------------------------------------------------------------------

// Window is the local-time range, in whole hours, during which alerts may go
// out immediately.
type Window struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

// DefaultWindow is 08:00 to 20:00 in the given zone.
func DefaultWindow(loc *time.Location) Window {
	return Window{Location: loc, StartHour: 8, EndHour: 20}
}

// DispatchTime returns when a message produced at now may be sent and whether
// that is immediately. Inside [start, end] it is now; after end it is start
// on the next calendar day; before start it is start on the same day.
func DispatchTime(now time.Time, w Window) (time.Time, bool) {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), w.StartHour, 0, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), w.EndHour, 0, 0, 0, loc)

	switch {
	case local.Before(start):
		return start, false
	case local.After(end):
		return start.AddDate(0, 0, 1), false
	default:
		return now, true
	}
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher resolves the dispatch time for an alert and enqueues it. It
// never blocks on delivery.
type Dispatcher struct {
	queue     Queue
	templates *TemplateEngine
	window    Window
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(queue Queue, templates *TemplateEngine, window Window, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		templates: templates,
		window:    window,
		metrics:   m,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Notify renders templateID and enqueues it for every distinct recipient.
// No recipients is not an error; the alert is logged and dropped.
func (d *Dispatcher) Notify(ctx context.Context, templateID string, data map[string]string, recipients []string) (*Outbound, error) {
	body, err := d.templates.Render(templateID, data)
	if err != nil {
		return nil, err
	}
	return d.Send(ctx, templateID, body, recipients)
}

// Send enqueues a pre-rendered body.
func (d *Dispatcher) Send(ctx context.Context, kind, body string, recipients []string) (*Outbound, error) {
	recipients = dedupe(recipients)
	if len(recipients) == 0 {
		d.logger.Warn().Str("kind", kind).Msg("alert has no recipients")
		return nil, nil
	}

	now := d.now()
	eta, immediate := DispatchTime(now, d.window)
	msg := &Outbound{
		ID:         uuid.New().String(),
		Kind:       kind,
		Body:       body,
		Recipients: recipients,
		ETA:        eta.UTC(),
		CreatedAt:  now.UTC(),
	}
	if err := d.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue alert: %w", err)
	}
	d.metrics.RecordQueued(!immediate)
	d.logger.Info().
		Str("id", msg.ID).
		Str("kind", kind).
		Int("recipients", len(recipients)).
		Time("eta", msg.ETA).
		Bool("immediate", immediate).
		Msg("alert queued")
	return msg, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
