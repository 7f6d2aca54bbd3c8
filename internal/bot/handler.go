package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lojasmm/shipbot/internal/dialogue"
	"github.com/lojasmm/shipbot/internal/logging"
	"github.com/lojasmm/shipbot/internal/quote"
	"github.com/lojasmm/shipbot/internal/whatsapp"
)

const listButtonText = "Choose"

// Sender is the outbound side of the WhatsApp client.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, options []whatsapp.ReplyOption) error
	SendList(ctx context.Context, to, body, buttonText string, rows []whatsapp.ReplyOption) error
	MarkRead(ctx context.Context, messageID string) error
}

// Conversation consumes inbound messages. dialogue.Engine satisfies it.
type Conversation interface {
	Handle(ctx context.Context, in dialogue.Inbound) error
}

type Handler struct {
	wa     Sender
	conv   Conversation
	logger *logging.Logger
	seen   *dedup
}

func NewHandler(wa Sender, conv Conversation, logger *logging.Logger) *Handler {
	return newHandler(wa, conv, logger, time.Now)
}

func newHandler(wa Sender, conv Conversation, logger *logging.Logger, now func() time.Time) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		wa:     wa,
		conv:   conv,
		logger: logger.With("component", "bot"),
		seen:   newDedup(DedupWindow, now),
	}
}

// HandleMessage is the webhook callback.
func (h *Handler) HandleMessage(ctx context.Context, in whatsapp.Inbound) {
	if h.seen.Seen(in.MessageID) {
		h.logger.Debug("bot: duplicate delivery ignored", "user", in.From, "message", in.MessageID)
		return
	}

	if in.MessageID != "" {
		if err := h.wa.MarkRead(ctx, in.MessageID); err != nil {
			h.logger.Debug("bot: mark read failed", "user", in.From, "error", err)
		}
	}

	err := h.conv.Handle(ctx, dialogue.Inbound{
		UserID: in.From,
		Text:   in.Text,
		Reply:  dialogue.ReplierFunc(func(ctx context.Context, r dialogue.Reply) error { return h.render(ctx, in.From, r) }),
	})
	if err != nil {
		h.logger.Error("bot: handling message failed", "user", in.From, "error", err)
	}
}

// Sweep drops expired message IDs from the duplicate guard.
func (h *Handler) Sweep() int {
	return h.seen.Sweep()
}

func (h *Handler) render(ctx context.Context, phone string, r dialogue.Reply) error {
	var err error
	switch n := len(r.Choices); {
	case n == 0:
		if r.Text != "" {
			err = h.wa.SendText(ctx, phone, r.Text)
		}
	case n <= 3:
		err = h.wa.SendButtons(ctx, phone, r.Text, toOptions(r.Choices))
	default:
		err = h.wa.SendList(ctx, phone, r.Text, listButtonText, toOptions(r.Choices))
	}
	if err != nil {
		return fmt.Errorf("bot: sending reply: %w", err)
	}

	if r.Card != nil {
		if err := h.wa.SendText(ctx, phone, FormatCard(r.Card)); err != nil {
			return fmt.Errorf("bot: sending card: %w", err)
		}
	}
	return nil
}

// FormatCard renders a recommendation card with WhatsApp markup.
func FormatCard(c *quote.Card) string {
	var b strings.Builder
	if c.Title != "" {
		fmt.Fprintf(&b, "*%s*\n", c.Title)
	}
	writeOption(&b, "Cheapest", c.Cheapest)
	writeOption(&b, "Fastest", c.Fastest)
	if c.Advice != "" {
		fmt.Fprintf(&b, "\n_%s_", c.Advice)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeOption(b *strings.Builder, label string, o quote.CardOption) {
	if o.Name == "" && o.Price == "" && o.Date == "" {
		return
	}
	fmt.Fprintf(b, "• *%s:* %s", label, o.Name)
	if o.Price != "" {
		fmt.Fprintf(b, ", %s", o.Price)
	}
	if o.Date != "" {
		fmt.Fprintf(b, ", arrives %s", o.Date)
	}
	b.WriteString("\n")
}

func toOptions(choices []dialogue.Choice) []whatsapp.ReplyOption {
	opts := make([]whatsapp.ReplyOption, len(choices))
	for i, c := range choices {
		opts[i] = whatsapp.ReplyOption{ID: c.ID, Title: c.Title}
	}
	return opts
}
