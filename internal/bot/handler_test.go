package bot

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lojasmm/shipbot/internal/dialogue"
	"github.com/lojasmm/shipbot/internal/logging"
	"github.com/lojasmm/shipbot/internal/quote"
	"github.com/lojasmm/shipbot/internal/whatsapp"
)

type sent struct {
	kind    string
	to      string
	body    string
	options []whatsapp.ReplyOption
	button  string
}

type fakeSender struct {
	sent    []sent
	read    []string
	failFor string
}

func (f *fakeSender) record(s sent) error {
	if s.kind == f.failFor {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeSender) SendText(_ context.Context, to, body string) error {
	return f.record(sent{kind: "text", to: to, body: body})
}

func (f *fakeSender) SendButtons(_ context.Context, to, body string, options []whatsapp.ReplyOption) error {
	return f.record(sent{kind: "button", to: to, body: body, options: options})
}

func (f *fakeSender) SendList(_ context.Context, to, body, button string, rows []whatsapp.ReplyOption) error {
	return f.record(sent{kind: "list", to: to, body: body, options: rows, button: button})
}

func (f *fakeSender) MarkRead(_ context.Context, id string) error {
	f.read = append(f.read, id)
	return nil
}

// scriptedConversation replies with a fixed sequence of replies.
type scriptedConversation struct {
	replies []dialogue.Reply
	err     error
	calls   []dialogue.Inbound
}

func (s *scriptedConversation) Handle(ctx context.Context, in dialogue.Inbound) error {
	s.calls = append(s.calls, in)
	for _, r := range s.replies {
		if err := in.Reply.Send(ctx, r); err != nil {
			return err
		}
	}
	return s.err
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, "error")
}

func TestHandleMessageRendersReplies(t *testing.T) {
	card := &quote.Card{
		Title:    "Tokyo → Osaka",
		Cheapest: quote.CardOption{Name: "Standard", Price: "¥870", Date: "Apr 4 (Thu)"},
		Fastest:  quote.CardOption{Name: "Express", Price: "¥1,120", Date: "Apr 2 (Tue)"},
		Advice:   "Express arrives two days sooner.",
	}
	conv := &scriptedConversation{replies: []dialogue.Reply{
		{Text: "plain"},
		{Text: "Expedited?", Choices: []dialogue.Choice{{ID: "yes", Title: "Yes"}, {ID: "no", Title: "No"}}},
		{Text: "Kind?", Choices: []dialogue.Choice{{ID: "1", Title: "Postcard"}, {ID: "2", Title: "Letter"}, {ID: "3", Title: "Small parcel"}, {ID: "4", Title: "Large parcel"}}},
		{Text: "Here is your estimate", Card: card},
	}}
	wa := &fakeSender{}
	h := NewHandler(wa, conv, quietLogger())

	h.HandleMessage(context.Background(), whatsapp.Inbound{From: "81", MessageID: "wamid.1", Text: "hi"})

	require.Len(t, conv.calls, 1)
	assert.Equal(t, "81", conv.calls[0].UserID)
	assert.Equal(t, "hi", conv.calls[0].Text)
	assert.Equal(t, []string{"wamid.1"}, wa.read)

	require.Len(t, wa.sent, 5)
	assert.Equal(t, "text", wa.sent[0].kind)
	assert.Equal(t, "button", wa.sent[1].kind)
	assert.Equal(t, []whatsapp.ReplyOption{{ID: "yes", Title: "Yes"}, {ID: "no", Title: "No"}}, wa.sent[1].options)
	assert.Equal(t, "list", wa.sent[2].kind)
	assert.Equal(t, listButtonText, wa.sent[2].button)
	assert.Len(t, wa.sent[2].options, 4)
	assert.Equal(t, "Here is your estimate", wa.sent[3].body)
	assert.Equal(t, FormatCard(card), wa.sent[4].body)
	for _, s := range wa.sent {
		assert.Equal(t, "81", s.to)
	}
}

func TestHandleMessageIgnoresDuplicates(t *testing.T) {
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	conv := &scriptedConversation{replies: []dialogue.Reply{{Text: "ok"}}}
	wa := &fakeSender{}
	h := newHandler(wa, conv, quietLogger(), func() time.Time { return now })

	in := whatsapp.Inbound{From: "81", MessageID: "wamid.1", Text: "hi"}
	h.HandleMessage(context.Background(), in)
	h.HandleMessage(context.Background(), in)
	assert.Len(t, conv.calls, 1)

	now = now.Add(DedupWindow + time.Second)
	h.HandleMessage(context.Background(), in)
	assert.Len(t, conv.calls, 2)
}

func TestHandleMessageSendFailureIsReported(t *testing.T) {
	conv := &scriptedConversation{replies: []dialogue.Reply{{Text: "Kind?", Choices: []dialogue.Choice{{ID: "1", Title: "A"}}}}}
	wa := &fakeSender{failFor: "button"}
	h := NewHandler(wa, conv, quietLogger())

	h.HandleMessage(context.Background(), whatsapp.Inbound{From: "81", MessageID: "m", Text: "hi"})

	assert.Empty(t, wa.sent)
}

func TestFormatCard(t *testing.T) {
	card := &quote.Card{
		Title:    "Tokyo → Fukuoka",
		Cheapest: quote.CardOption{Name: "Standard", Price: "¥1,030", Date: "Apr 6 (Sat)"},
		Fastest:  quote.CardOption{Name: "Express", Price: "¥1,350", Date: "Apr 4 (Thu)"},
		Advice:   "No weekend delivery for standard mail.",
	}
	want := "*Tokyo → Fukuoka*\n" +
		"• *Cheapest:* Standard, ¥1,030, arrives Apr 6 (Sat)\n" +
		"• *Fastest:* Express, ¥1,350, arrives Apr 4 (Thu)\n" +
		"\n_No weekend delivery for standard mail._"
	assert.Equal(t, want, FormatCard(card))

	assert.Equal(t, "• *Cheapest:* Standard", FormatCard(&quote.Card{Cheapest: quote.CardOption{Name: "Standard"}}))
}
