package dialogue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lojasmm/shipbot/internal/dispatch"
	"github.com/lojasmm/shipbot/internal/logging"
	"github.com/lojasmm/shipbot/internal/quote"
	"github.com/lojasmm/shipbot/internal/session"
)

const user = "819012345678"

// Monday morning.
var testNow = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type recorder struct {
	mu      sync.Mutex
	replies []Reply
	fail    error
}

func (r *recorder) Send(_ context.Context, reply Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.replies = append(r.replies, reply)
	return nil
}

func (r *recorder) all() []Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reply(nil), r.replies...)
}

func (r *recorder) last() Reply {
	all := r.all()
	if len(all) == 0 {
		return Reply{}
	}
	return all[len(all)-1]
}

func (r *recorder) cards() int {
	n := 0
	for _, reply := range r.all() {
		if reply.Card != nil {
			n++
		}
	}
	return n
}

type harness struct {
	engine  *Engine
	store   *session.Store
	backend *session.MemoryBackend
	flow    *Flow
	rec     *recorder
}

func newHarness(t *testing.T, strategy quote.Strategy, opts ...Option) *harness {
	t.Helper()
	mem := session.NewMemoryBackend()
	return newHarnessWithBackend(t, mem, mem, strategy, opts...)
}

// newHarnessWithBackend stores sessions in backend; mem is the memory
// backend underneath it that tests inspect.
func newHarnessWithBackend(t *testing.T, backend session.Backend, mem *session.MemoryBackend, strategy quote.Strategy, opts ...Option) *harness {
	t.Helper()
	flow := DefaultFlow(quote.DefaultTable())
	store := session.NewStore(backend, flow.Keys(), session.WithClock(clock))
	opts = append([]Option{WithClock(clock), WithLogger(logging.New("error"))}, opts...)
	return &harness{
		engine:  NewEngine(flow, store, strategy, opts...),
		store:   store,
		backend: mem,
		flow:    flow,
		rec:     &recorder{},
	}
}

func tableStrategy() quote.Strategy {
	return quote.NewCalculator(quote.DefaultTable(), quote.WithLocation(time.UTC))
}

func (h *harness) say(t *testing.T, texts ...string) {
	t.Helper()
	for _, text := range texts {
		require.NoError(t, h.engine.Handle(context.Background(), Inbound{UserID: user, Text: text, Reply: h.rec}))
	}
}

func (h *harness) current(t *testing.T) *session.Session {
	t.Helper()
	sess, err := h.store.Get(context.Background(), user)
	require.NoError(t, err)
	return sess
}

var scenarioA = []string{"hello", "3", "60", "2kg", "Tokyo", "Osaka", "yes", "yes", "0"}

func TestFullConversationEmitsOneQuote(t *testing.T) {
	h := newHarness(t, tableStrategy())

	h.say(t, scenarioA...)

	replies := h.rec.all()
	require.Len(t, replies, 1+h.flow.Len())
	assert.Equal(t, 1, h.rec.cards())
	assert.NotNil(t, replies[len(replies)-1].Card)
	assert.Nil(t, h.current(t), "session is destroyed after the quote")
	assert.Zero(t, h.backend.Len())
}

func TestOpeningMessageIsDiscarded(t *testing.T) {
	h := newHarness(t, tableStrategy())

	h.say(t, "3")

	sess := h.current(t)
	require.NotNil(t, sess)
	assert.Equal(t, FieldKind, sess.Step)
	assert.Empty(t, sess.Answers)
	assert.Contains(t, h.rec.last().Text, greeting)
	assert.Contains(t, h.rec.last().Text, h.flow.First().Prompt)
	assert.Len(t, h.rec.last().Choices, 4)
}

func TestExpressNearbyDispatchToday(t *testing.T) {
	h := newHarness(t, tableStrategy())

	h.say(t, scenarioA...)

	card := h.rec.last().Card
	require.NotNil(t, card)
	assert.Equal(t, "Tokyo → Osaka", card.Title)
	assert.Equal(t, "Apr 2 (Tue)", card.Fastest.Date)
	assert.Contains(t, h.rec.last().Text, "Earliest arrival: Apr 2 (Tue) (Express")
}

func TestStandardRemoteDispatchTomorrow(t *testing.T) {
	h := newHarness(t, tableStrategy())

	h.say(t, "hi", "4", "100", "5kg", "東京都", "福岡県", "no", "no", "0")

	card := h.rec.last().Card
	require.NotNil(t, card)
	assert.Equal(t, "Apr 6 (Sat)", card.Cheapest.Date)
	assert.Contains(t, h.rec.last().Text, "Earliest arrival: Apr 6 (Sat) (Standard")
}

func TestResetDiscardsAnswers(t *testing.T) {
	h := newHarness(t, tableStrategy())

	h.say(t, "hello", "3")
	require.Equal(t, FieldSize, h.current(t).Step)

	h.say(t, "reset")

	sess := h.current(t)
	require.NotNil(t, sess)
	assert.Equal(t, FieldKind, sess.Step)
	assert.Empty(t, sess.Answers)
	assert.Contains(t, h.rec.last().Text, h.flow.First().Prompt)
}

func TestResetTokensFromEveryStep(t *testing.T) {
	for _, token := range ResetTokens {
		for answered := 0; answered < len(scenarioA)-1; answered++ {
			h := newHarness(t, tableStrategy())
			h.say(t, scenarioA[:answered+1]...)
			h.say(t, "  "+token+" ")

			sess := h.current(t)
			require.NotNil(t, sess, "token %q after %d messages", token, answered)
			assert.Equal(t, FieldKind, sess.Step)
			assert.Empty(t, sess.Answers)
		}
	}
}

func TestResetTokenIsCaseSensitive(t *testing.T) {
	h := newHarness(t, tableStrategy())

	h.say(t, "hello", "Reset")

	sess := h.current(t)
	require.NotNil(t, sess)
	assert.Equal(t, FieldSize, sess.Step, "\"Reset\" is recorded as the kind answer")
	v, _ := sess.Answers.Get(FieldKind)
	assert.Equal(t, "Reset", v)
}

func TestInvalidSizeReprompts(t *testing.T) {
	h := newHarness(t, tableStrategy())

	h.say(t, "hello", "3", "big")

	sess := h.current(t)
	require.NotNil(t, sess)
	assert.Equal(t, FieldSize, sess.Step)
	assert.Len(t, sess.Answers, 1)
	assert.Contains(t, h.rec.last().Text, "whole number")
	field, _ := h.flow.Field(FieldSize)
	assert.Contains(t, h.rec.last().Text, field.Prompt)

	h.say(t, "６０ｃｍ")
	v, _ := h.current(t).Answers.Get(FieldSize)
	assert.Equal(t, "60", v)
}

func TestOversizeEndsSession(t *testing.T) {
	h := newHarness(t, tableStrategy())

	h.say(t, "hello", "4", "171")

	assert.Nil(t, h.current(t))
	assert.Contains(t, h.rec.last().Text, "170cm")
	assert.Zero(t, h.rec.cards())

	h.say(t, "anything")
	assert.Contains(t, h.rec.last().Text, greeting)
}

type stubStrategy struct {
	calls int32
	out   *quote.Outcome
	err   error
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Quote(context.Context, quote.Request) (*quote.Outcome, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.out, s.err
}

type friendlyError struct{}

func (friendlyError) Error() string       { return "upstream timeout" }
func (friendlyError) UserMessage() string { return "The estimator is slow right now, please resend." }

func TestQuoteFailureKeepsSession(t *testing.T) {
	strategy := &stubStrategy{err: errors.New("boom")}
	h := newHarness(t, strategy)

	h.say(t, scenarioA...)

	assert.Equal(t, msgApology, h.rec.last().Text)
	sess := h.current(t)
	require.NotNil(t, sess)
	assert.Equal(t, FieldAddon, sess.Step)

	strategy.err = friendlyError{}
	h.say(t, "0")
	assert.Equal(t, "The estimator is slow right now, please resend.", h.rec.last().Text)

	strategy.err = nil
	strategy.out = &quote.Outcome{Text: "ok"}
	h.say(t, "0")
	assert.Equal(t, "ok", h.rec.last().Text)
	assert.Nil(t, h.current(t))
	assert.Equal(t, int32(3), atomic.LoadInt32(&strategy.calls))
}

func TestOutOfRangeFromStrategyEndsSession(t *testing.T) {
	h := newHarness(t, &stubStrategy{err: &quote.OutOfRangeError{Size: 200, Max: 170}})

	h.say(t, scenarioA...)

	assert.Nil(t, h.current(t))
	assert.Contains(t, h.rec.last().Text, "170cm")
}

func TestRequestCarriesAnswersAndTranscript(t *testing.T) {
	var got quote.Request
	strategy := &captureStrategy{fn: func(req quote.Request) { got = req }}
	h := newHarness(t, strategy)

	h.say(t, "hi", "2", "30cm", "50g", "Aichi", "Hokkaido", "no", "はい", "1")

	assert.Equal(t, quote.Shipment{
		Kind:          "2",
		Size:          30,
		Weight:        "50g",
		Origin:        "Aichi",
		Destination:   "Hokkaido",
		Expedited:     false,
		DispatchToday: true,
		Addon:         "1",
	}, got.Shipment)
	assert.Equal(t, user, got.UserID)
	assert.Equal(t, "1", got.Latest)
	assert.Equal(t, testNow, got.Now)
	require.Len(t, got.Transcript, h.flow.Len())
	assert.Equal(t, h.flow.First().Prompt, got.Transcript[0].Question)
	assert.Equal(t, "2", got.Transcript[0].Answer)
}

type captureStrategy struct {
	fn func(quote.Request)
}

func (c *captureStrategy) Name() string { return "capture" }

func (c *captureStrategy) Quote(_ context.Context, req quote.Request) (*quote.Outcome, error) {
	c.fn(req)
	return &quote.Outcome{Text: "captured"}, nil
}

func TestMissingReplyHandle(t *testing.T) {
	h := newHarness(t, tableStrategy())
	err := h.engine.Handle(context.Background(), Inbound{UserID: user, Text: "hi"})
	assert.Error(t, err)
}

func TestSendFailureIsReturned(t *testing.T) {
	h := newHarness(t, tableStrategy())
	h.rec.fail = errors.New("whatsapp down")

	err := h.engine.Handle(context.Background(), Inbound{UserID: user, Text: "hi", Reply: h.rec})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whatsapp down")
	assert.Empty(t, h.rec.all())
}

type blockingStrategy struct {
	release chan struct{}
	calls   int32
	out     *quote.Outcome
	err     error
}

func (s *blockingStrategy) Name() string { return "llm" }

func (s *blockingStrategy) Quote(ctx context.Context, _ quote.Request) (*quote.Outcome, error) {
	atomic.AddInt32(&s.calls, 1)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.out, s.err
}

func newAsyncHarness(t *testing.T, strategy quote.Strategy) (*harness, *dispatch.Runner[*quote.Outcome]) {
	t.Helper()
	runner := dispatch.NewRunner[*quote.Outcome](2, 5*time.Second, logging.New("error"))
	t.Cleanup(func() { _ = runner.Close(context.Background()) })
	return newHarness(t, strategy, WithRunner(runner)), runner
}

func TestAsyncQuoteDelivered(t *testing.T) {
	card := &quote.Card{Title: "Tokyo → Osaka"}
	strategy := &blockingStrategy{release: make(chan struct{}), out: &quote.Outcome{Text: "advice", Card: card}}
	h, runner := newAsyncHarness(t, strategy)

	h.say(t, scenarioA...)
	assert.Equal(t, FieldAddon, h.current(t).Step, "session stays open while the quote runs")
	assert.Equal(t, 1, runner.InFlight())

	h.say(t, "0")
	assert.Equal(t, msgStillWorking, h.rec.last().Text)

	close(strategy.release)
	require.NoError(t, runner.Close(context.Background()))

	assert.Equal(t, 1, h.rec.cards())
	assert.Equal(t, card, h.rec.last().Card)
	assert.Nil(t, h.current(t))
	assert.Equal(t, int32(1), atomic.LoadInt32(&strategy.calls))
}

func TestAsyncQuoteDiscardedAfterReset(t *testing.T) {
	strategy := &blockingStrategy{release: make(chan struct{}), out: &quote.Outcome{Text: "late", Card: &quote.Card{}}}
	h, runner := newAsyncHarness(t, strategy)

	h.say(t, scenarioA...)
	h.say(t, "reset")
	fresh := h.current(t)

	close(strategy.release)
	require.NoError(t, runner.Close(context.Background()))

	assert.Zero(t, h.rec.cards())
	cur := h.current(t)
	require.NotNil(t, cur)
	assert.Equal(t, fresh.ID, cur.ID)
	assert.Equal(t, FieldKind, cur.Step)
}

func TestAsyncQuoteFailureKeepsSession(t *testing.T) {
	strategy := &blockingStrategy{release: make(chan struct{}), err: friendlyError{}}
	h, runner := newAsyncHarness(t, strategy)

	h.say(t, scenarioA...)
	close(strategy.release)
	require.NoError(t, runner.Close(context.Background()))

	assert.Equal(t, "The estimator is slow right now, please resend.", h.rec.last().Text)
	sess := h.current(t)
	require.NotNil(t, sess)
	assert.Equal(t, FieldAddon, sess.Step)
}

func TestDifferentUsersAreIndependent(t *testing.T) {
	h := newHarness(t, tableStrategy())
	other := &recorder{}

	h.say(t, "hello", "3")
	require.NoError(t, h.engine.Handle(context.Background(), Inbound{UserID: "other", Text: "hello", Reply: other}))

	assert.Equal(t, FieldSize, h.current(t).Step)
	sess, err := h.store.Get(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, FieldKind, sess.Step)
}

// flakyBackend fails deletes once armed.
type flakyBackend struct {
	*session.MemoryBackend
	failDelete atomic.Bool
}

func (b *flakyBackend) Delete(ctx context.Context, userID string) error {
	if b.failDelete.Load() {
		return errors.New("backend unavailable")
	}
	return b.MemoryBackend.Delete(ctx, userID)
}

func TestCompletionFailureAfterQuoteSendsNoApology(t *testing.T) {
	mem := session.NewMemoryBackend()
	backend := &flakyBackend{MemoryBackend: mem}
	h := newHarnessWithBackend(t, backend, mem, tableStrategy())

	h.say(t, scenarioA[:len(scenarioA)-1]...)
	backend.failDelete.Store(true)
	h.say(t, scenarioA[len(scenarioA)-1])

	last := h.rec.last()
	assert.NotNil(t, last.Card, "the quote is the final reply")
	for _, r := range h.rec.all() {
		assert.NotEqual(t, msgApology, r.Text)
	}

	backend.failDelete.Store(false)
	h.say(t, "hello")
	assert.Contains(t, h.rec.last().Text, h.flow.First().Prompt)
}

func TestConcurrentMessagesFromOneUserAreSerialized(t *testing.T) {
	h := newHarness(t, tableStrategy())
	h.say(t, "hello")

	for round := 0; round < 200; round++ {
		h.say(t, "reset")

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, text := range []string{"3", "4"} {
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				<-start
				err := h.engine.Handle(context.Background(), Inbound{UserID: user, Text: text, Reply: h.rec})
				assert.NoError(t, err)
			}(text)
		}
		close(start)
		wg.Wait()

		sess := h.current(t)
		require.NotNil(t, sess)
		require.Equal(t, FieldWeight, sess.Step, "round %d", round)
		kind, _ := sess.Answers.Get(FieldKind)
		size, _ := sess.Answers.Get(FieldSize)
		assert.ElementsMatch(t, []string{"3", "4"}, []string{kind, size}, "round %d", round)
	}
}
