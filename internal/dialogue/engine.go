package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lojasmm/shipbot/internal/dispatch"
	"github.com/lojasmm/shipbot/internal/logging"
	"github.com/lojasmm/shipbot/internal/metrics"
	"github.com/lojasmm/shipbot/internal/quote"
	"github.com/lojasmm/shipbot/internal/session"
)

const (
	msgApology      = "Sorry, something went wrong on our side. Please send your last answer again in a moment."
	msgStillWorking = "Still working on your estimate, it will arrive shortly."
	msgRestart      = "Okay, let's start over."

	deliverTimeout = 30 * time.Second
)

// Reply is one outbound message. Choices are rendered as buttons or a list
// when the transport supports them; Card follows Text as a formatted
// recommendation.
type Reply struct {
	Text    string
	Choices []Choice
	Card    *quote.Card
}

// Replier delivers replies for one inbound event.
type Replier interface {
	Send(ctx context.Context, r Reply) error
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ctx context.Context, r Reply) error

func (f ReplierFunc) Send(ctx context.Context, r Reply) error { return f(ctx, r) }

// Inbound is a text message from a user together with its reply handle.
type Inbound struct {
	UserID string
	Text   string
	Reply  Replier
}

// Runner executes quotes off the inbound path. dispatch.Runner satisfies it.
type Runner interface {
	Submit(key string, work func(ctx context.Context) (*quote.Outcome, error), deliver func(*quote.Outcome, error)) (string, error)
}

// Engine walks users through a Flow and hands the answers to a quote
// strategy once the last field is answered.
type Engine struct {
	flow     *Flow
	store    *session.Store
	strategy quote.Strategy
	runner   Runner
	logger   *logging.Logger
	metrics  *metrics.DialogueMetrics
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner makes quoting asynchronous.
func WithRunner(r Runner) Option {
	return func(e *Engine) { e.runner = r }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.DialogueMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(flow *Flow, store *session.Store, strategy quote.Strategy, opts ...Option) *Engine {
	e := &Engine{
		flow:     flow,
		store:    store,
		strategy: strategy,
		logger:   logging.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle processes one inbound message under the user's lock. Failures are
// answered with an apology and returned for logging.
func (e *Engine) Handle(ctx context.Context, in Inbound) error {
	if in.Reply == nil {
		return fmt.Errorf("dialogue: inbound for %s has no reply handle", in.UserID)
	}
	return e.store.WithLock(in.UserID, func() error {
		err := e.step(ctx, in)
		if err == nil {
			return nil
		}
		e.metrics.ObserveInbound("error")
		var se *sendError
		if !errors.As(err, &se) {
			if sendErr := in.Reply.Send(ctx, Reply{Text: msgApology}); sendErr != nil {
				e.logger.Error("dialogue: failed to send apology", "user", in.UserID, "error", sendErr)
			}
		}
		return err
	})
}

func (e *Engine) step(ctx context.Context, in Inbound) error {
	text := strings.TrimSpace(in.Text)

	if e.flow.IsReset(text) {
		if err := e.store.Reset(ctx, in.UserID); err != nil {
			return err
		}
		if _, _, err := e.store.GetOrCreate(ctx, in.UserID); err != nil {
			return err
		}
		e.metrics.ObserveReset("token")
		e.metrics.ObserveInbound("reset")
		e.logger.Info("dialogue: session reset", "user", in.UserID)
		return e.ask(ctx, in.Reply, msgRestart, e.flow.First())
	}

	sess, created, err := e.store.GetOrCreate(ctx, in.UserID)
	if err != nil {
		return err
	}
	if created {
		e.metrics.ObserveInbound("started")
		e.logger.Info("dialogue: session started", "user", in.UserID, "session", sess.ID)
		return e.ask(ctx, in.Reply, e.flow.Greeting, e.flow.First())
	}

	field, ok := e.flow.Field(sess.Step)
	if !ok {
		// Finished or from a different flow version; begin again.
		e.logger.Warn("dialogue: restarting session at unknown step", "user", in.UserID, "step", sess.Step)
		if err := e.store.Reset(ctx, in.UserID); err != nil {
			return err
		}
		if _, _, err := e.store.GetOrCreate(ctx, in.UserID); err != nil {
			return err
		}
		e.metrics.ObserveReset("stale_step")
		return e.ask(ctx, in.Reply, e.flow.Greeting, e.flow.First())
	}

	value, err := field.normalize(text)
	if err != nil {
		return e.reject(ctx, in, field, err)
	}

	if !e.flow.IsLast(field.Key) {
		sess, err = e.store.Advance(ctx, in.UserID, field.Key, value)
		if err != nil {
			return err
		}
		next, ok := e.flow.Field(sess.Step)
		if !ok {
			return fmt.Errorf("dialogue: no field for step %q", sess.Step)
		}
		e.metrics.ObserveInbound("advanced")
		return e.ask(ctx, in.Reply, "", next)
	}

	req := e.buildRequest(in.UserID, sess.Answers.With(field.Key, value), in.Text)
	if e.runner != nil {
		return e.finishAsync(ctx, in, sess, field.Key, value, req)
	}
	return e.finishSync(ctx, in, field.Key, value, req)
}

func (e *Engine) reject(ctx context.Context, in Inbound, field Field, err error) error {
	var ie *InputError
	if !errors.As(err, &ie) {
		return fmt.Errorf("dialogue: normalizing %s: %w", field.Key, err)
	}

	if ie.Fatal {
		if err := e.store.Reset(ctx, in.UserID); err != nil {
			return err
		}
		e.metrics.ObserveReset("invalid_input")
		e.metrics.ObserveInbound("rejected")
		e.logger.Info("dialogue: session ended on input", "user", in.UserID, "field", field.Key, "error", ie)
		return e.send(ctx, in.Reply, Reply{Text: ie.Notice})
	}

	e.metrics.ObserveInbound("invalid")
	return e.ask(ctx, in.Reply, ie.Notice, field)
}

func (e *Engine) finishSync(ctx context.Context, in Inbound, key, value string, req quote.Request) error {
	start := e.now()
	out, err := e.strategy.Quote(ctx, req)
	if err == nil && out == nil {
		err = fmt.Errorf("dialogue: %s strategy returned no outcome", e.strategy.Name())
	}
	e.observeQuote(start, err)
	if err != nil {
		return e.quoteFailed(ctx, in.UserID, in.Reply, err)
	}

	if err := e.send(ctx, in.Reply, outcomeReply(out)); err != nil {
		return err
	}
	e.metrics.ObserveInbound("quoted")
	// The quote is already out; a failed cleanup must not add an apology.
	if err := e.complete(ctx, in.UserID, key, value); err != nil {
		e.logger.Error("dialogue: completing session after quote", "user", in.UserID, "error", err)
	}
	return nil
}

func (e *Engine) finishAsync(ctx context.Context, in Inbound, sess *session.Session, key, value string, req quote.Request) error {
	sessionID, step := sess.ID, sess.Step
	start := e.now()

	jobID, err := e.runner.Submit(sessionID,
		func(ctx context.Context) (*quote.Outcome, error) {
			return e.strategy.Quote(ctx, req)
		},
		func(out *quote.Outcome, err error) {
			e.deliver(in, sessionID, step, key, value, start, out, err)
		},
	)
	if errors.Is(err, dispatch.ErrBusy) {
		e.metrics.ObserveInbound("busy")
		return e.send(ctx, in.Reply, Reply{Text: msgStillWorking})
	}
	if err != nil {
		return fmt.Errorf("dialogue: submitting quote: %w", err)
	}

	e.metrics.ObserveInbound("quote_pending")
	e.logger.Info("dialogue: quote submitted", "user", in.UserID, "session", sessionID, "job", jobID)
	return nil
}

// deliver runs on the runner's goroutine once the quote settles.
func (e *Engine) deliver(in Inbound, sessionID, step, key, value string, start time.Time, out *quote.Outcome, qerr error) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	if qerr == nil && out == nil {
		qerr = fmt.Errorf("dialogue: %s strategy returned no outcome", e.strategy.Name())
	}

	err := e.store.WithLock(in.UserID, func() error {
		cur, err := e.store.Get(ctx, in.UserID)
		if err != nil {
			return err
		}
		if cur == nil || cur.ID != sessionID || cur.Step != step {
			e.metrics.ObserveQuote(e.strategy.Name(), "stale", e.now().Sub(start).Seconds())
			e.logger.Info("dialogue: discarding stale quote", "user", in.UserID, "session", sessionID)
			return nil
		}

		e.observeQuote(start, qerr)
		if qerr != nil {
			return e.quoteFailed(ctx, in.UserID, in.Reply, qerr)
		}
		if err := e.send(ctx, in.Reply, outcomeReply(out)); err != nil {
			return err
		}
		return e.complete(ctx, in.UserID, key, value)
	})
	if err != nil {
		e.logger.Error("dialogue: delivering quote", "user", in.UserID, "session", sessionID, "error", err)
	}
}

func (e *Engine) quoteFailed(ctx context.Context, userID string, reply Replier, err error) error {
	var oor *quote.OutOfRangeError
	if errors.As(err, &oor) {
		if rerr := e.store.Reset(ctx, userID); rerr != nil {
			return rerr
		}
		e.metrics.ObserveReset("out_of_range")
		e.metrics.ObserveInbound("rejected")
		return e.send(ctx, reply, Reply{Text: oor.UserMessage()})
	}

	e.logger.Error("dialogue: quote failed", "user", userID, "strategy", e.strategy.Name(), "error", err)
	e.metrics.ObserveInbound("quote_failed")
	return e.send(ctx, reply, Reply{Text: userMessage(err)})
}

func (e *Engine) complete(ctx context.Context, userID, key, value string) error {
	if _, err := e.store.Advance(ctx, userID, key, value); err != nil {
		return err
	}
	answers, _, err := e.store.Complete(ctx, userID)
	if err != nil {
		return err
	}
	e.logger.Info("dialogue: session completed", "user", userID, "answers", len(answers))
	return nil
}

func (e *Engine) ask(ctx context.Context, reply Replier, preface string, field Field) error {
	text := field.Prompt
	if preface != "" {
		text = preface + "\n\n" + text
	}
	return e.send(ctx, reply, Reply{Text: text, Choices: field.Choices})
}

func (e *Engine) send(ctx context.Context, reply Replier, r Reply) error {
	if err := reply.Send(ctx, r); err != nil {
		return &sendError{err: err}
	}
	return nil
}

func (e *Engine) observeQuote(start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.ObserveQuote(e.strategy.Name(), status, e.now().Sub(start).Seconds())
}

func (e *Engine) buildRequest(userID string, answers session.Answers, latest string) quote.Request {
	get := func(key string) string {
		v, _ := answers.Get(key)
		return v
	}
	size, _ := strconv.Atoi(get(FieldSize))

	transcript := make([]quote.Turn, 0, len(answers))
	for _, a := range answers {
		question := a.Field
		if f, ok := e.flow.Field(a.Field); ok {
			question = f.Prompt
		}
		transcript = append(transcript, quote.Turn{Question: question, Answer: a.Value})
	}

	return quote.Request{
		UserID: userID,
		Shipment: quote.Shipment{
			Kind:          get(FieldKind),
			Size:          size,
			Weight:        get(FieldWeight),
			Origin:        get(FieldOrigin),
			Destination:   get(FieldDestination),
			Expedited:     get(FieldExpedited) == answerYes,
			DispatchToday: get(FieldDispatchToday) == answerYes,
			Addon:         get(FieldAddon),
		},
		Transcript: transcript,
		Latest:     latest,
		Now:        e.now(),
	}
}

func outcomeReply(out *quote.Outcome) Reply {
	return Reply{Text: out.Text, Card: out.Card}
}

func userMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return msgApology
}
