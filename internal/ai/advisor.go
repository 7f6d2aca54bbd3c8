package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lojasmm/shipbot/internal/logging"
	"github.com/lojasmm/shipbot/internal/quote"
)

const (
	rateLimitWindow = time.Minute
	rateLimitMax    = 10
)

var (
	errRateLimited   = errors.New("too many quote requests")
	errEmptyResponse = errors.New("empty completion")
)

// Advisor delegates quoting to a hosted model. It implements
// quote.Strategy.
type Advisor struct {
	completer   Completer
	logger      *logging.Logger
	loc         *time.Location
	maxTokens   int
	temperature float64
	now         func() time.Time

	mu       sync.Mutex
	counters map[string]*rateBucket
}

type rateBucket struct {
	count  int
	window time.Time
}

// AdvisorOption configures an Advisor.
type AdvisorOption func(*Advisor)

func WithAdvisorLogger(l *logging.Logger) AdvisorOption {
	return func(a *Advisor) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAdvisorLocation sets the zone used to tell the model today's date.
func WithAdvisorLocation(loc *time.Location) AdvisorOption {
	return func(a *Advisor) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func WithAdvisorClock(now func() time.Time) AdvisorOption {
	return func(a *Advisor) { a.now = now }
}

func WithGeneration(maxTokens int, temperature float64) AdvisorOption {
	return func(a *Advisor) {
		a.maxTokens = maxTokens
		a.temperature = temperature
	}
}

func NewAdvisor(c Completer, opts ...AdvisorOption) *Advisor {
	a := &Advisor{
		completer:   c,
		logger:      logging.Default(),
		loc:         time.Local,
		maxTokens:   800,
		temperature: 0.2,
		now:         time.Now,
		counters:    make(map[string]*rateBucket),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Advisor) Name() string { return "llm" }

// Quote asks the model for a recommendation. An answer without a usable
// block is returned as plain text with no card.
func (a *Advisor) Quote(ctx context.Context, req quote.Request) (*quote.Outcome, error) {
	if !a.allowRequest(req.UserID) {
		return nil, &ServiceError{
			Type: ErrRateLimit, Err: errRateLimited,
			Message: "You're requesting estimates very quickly. Please wait a minute and try again.",
		}
	}

	prompt := BuildPrompt(req, a.loc)
	prompt.MaxTokens = a.maxTokens
	prompt.Temperature = a.temperature

	text, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, ClassifyError(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ServiceError{
			Type: ErrResponse, Err: errEmptyResponse,
			Message: "Sorry, I couldn't prepare an estimate. Please send your last answer again.",
		}
	}

	rec, prose, err := ParseRecommendation(text)
	if err != nil {
		a.logger.Warn("ai: recommendation not parsed", "user", req.UserID,
			"provider", a.completer.Name(), "error", err)
		return &quote.Outcome{Text: text}, nil
	}
	if prose == "" {
		prose = rec.Advice
	}

	title := strings.TrimSpace(req.Shipment.Origin) + " → " + strings.TrimSpace(req.Shipment.Destination)
	return &quote.Outcome{Text: prose, Card: rec.Card(title)}, nil
}

func (a *Advisor) allowRequest(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	b, ok := a.counters[userID]
	if !ok || now.Sub(b.window) > rateLimitWindow {
		a.counters[userID] = &rateBucket{count: 1, window: now}
		return true
	}
	if b.count >= rateLimitMax {
		return false
	}
	b.count++
	return true
}

// Cleanup forgets rate-limit windows that have already expired.
func (a *Advisor) Cleanup() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	removed := 0
	for userID, b := range a.counters {
		if now.Sub(b.window) > rateLimitWindow {
			delete(a.counters, userID)
			removed++
		}
	}
	return removed
}
