package ai

import (
	"context"

	"github.com/lojasmm/shipbot/internal/logging"
)

// FallbackCompleter retries a failed completion on a second provider.
type FallbackCompleter struct {
	primary  Completer
	fallback Completer
	logger   *logging.Logger
}

// NewFallbackCompleter wraps primary. A nil fallback leaves primary alone.
func NewFallbackCompleter(primary, fallback Completer, logger *logging.Logger) *FallbackCompleter {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackCompleter{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackCompleter) Name() string {
	if c.fallback == nil {
		return c.primary.Name()
	}
	return c.primary.Name() + "+" + c.fallback.Name()
}

func (c *FallbackCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	text, err := c.primary.Complete(ctx, p)
	if err == nil {
		return text, nil
	}

	c.logger.Warn("ai: primary provider failed",
		"provider", c.primary.Name(),
		"error", err,
		"fallback_available", c.fallback != nil,
	)
	if c.fallback == nil || ctx.Err() != nil {
		return "", err
	}

	text, fallbackErr := c.fallback.Complete(ctx, p)
	if fallbackErr != nil {
		c.logger.Error("ai: fallback provider also failed",
			"provider", c.fallback.Name(),
			"primary_error", err,
			"fallback_error", fallbackErr,
		)
		return "", fallbackErr
	}

	c.logger.Info("ai: fallback provider succeeded", "provider", c.fallback.Name())
	return text, nil
}
