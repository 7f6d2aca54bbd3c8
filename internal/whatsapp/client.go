package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lojasmm/shipbot/internal/metrics"
)

const defaultBaseURL = "https://graph.facebook.com/v21.0"

// Limits imposed by the Cloud API on interactive messages.
const (
	maxButtons       = 3
	maxButtonTitle   = 20
	maxRowTitle      = 24
	maxRowDesc       = 72
	maxListRows      = 10
	maxInteractive   = 1024
	maxTextBody      = 4096
	maxListButtonLen = 20
)

// APIError is a non-2xx answer from the Cloud API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: API status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	http          *http.Client
	metrics       *metrics.DialogueMetrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithMetrics(m *metrics.DialogueMetrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func NewClient(phoneNumberID, accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       defaultBaseURL,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		http:          &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SendText(ctx context.Context, to, body string) error {
	return c.send(ctx, SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &SendText{Body: truncate(body, maxTextBody)},
	})
}

// SendButtons sends up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, options []ReplyOption) error {
	if len(options) > maxButtons {
		return fmt.Errorf("whatsapp: %d buttons exceeds the limit of %d", len(options), maxButtons)
	}
	buttons := make([]Button, len(options))
	for i, o := range options {
		buttons[i] = Button{Type: "reply", Reply: ReplyOption{ID: o.ID, Title: truncate(o.Title, maxButtonTitle)}}
	}
	return c.send(ctx, SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &Interactive{
			Type:   "button",
			Body:   InteractiveText{Text: truncate(body, maxInteractive)},
			Action: InteractiveAction{Buttons: buttons},
		},
	})
}

// SendList sends a single-section list message.
func (c *Client) SendList(ctx context.Context, to, body, buttonText string, rows []ReplyOption) error {
	if len(rows) > maxListRows {
		return fmt.Errorf("whatsapp: %d rows exceeds the limit of %d", len(rows), maxListRows)
	}
	section := Section{Rows: make([]ReplyOption, len(rows))}
	for i, r := range rows {
		section.Rows[i] = ReplyOption{
			ID:          r.ID,
			Title:       truncate(r.Title, maxRowTitle),
			Description: truncate(r.Description, maxRowDesc),
		}
	}
	return c.send(ctx, SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &Interactive{
			Type: "list",
			Body: InteractiveText{Text: truncate(body, maxInteractive)},
			Action: InteractiveAction{
				Button:   truncate(buttonText, maxListButtonLen),
				Sections: []Section{section},
			},
		},
	})
}

// MarkRead shows the blue ticks for an inbound message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.send(ctx, SendMessageRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	})
}

func (c *Client) send(ctx context.Context, msg SendMessageRequest) error {
	msgType := msg.Type
	if msg.Interactive != nil {
		msgType = msg.Interactive.Type
	}
	if msgType == "" {
		msgType = msg.Status
	}

	err := c.post(ctx, msg)
	status := "sent"
	if err != nil {
		status = "error"
	}
	c.metrics.ObserveOutbound(msgType, status)
	return err
}

func (c *Client) post(ctx context.Context, msg SendMessageRequest) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("whatsapp: marshaling message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
