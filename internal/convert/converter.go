// Package convert turns currency mentions into reply text.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"moneyman/internal/model"
	"moneyman/internal/rates"
)

// RateSource provides exchange rates between two currencies.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// Converter formats conversions of mentions into target currencies.
type Converter struct {
	rates RateSource
	log   *slog.Logger
}

// New creates a Converter backed by the given rate source.
func New(rates RateSource, log *slog.Logger) *Converter {
	return &Converter{rates: rates, log: log}
}

// BuildReply returns one line such as "10.00 USD is worth 9.00 EUR, or 8.00 GBP."
// Targets equal to the mention's currency or missing from the rate table are
// skipped. An empty string means there is nothing to say about this mention.
func (c *Converter) BuildReply(ctx context.Context, mention model.Mention, targets []string) (string, error) {
	var results []string
	for _, target := range targets {
		if target == mention.Code {
			continue
		}
		rate, err := c.rates.Rate(ctx, mention.Code, target)
		var unknown *rates.UnknownCurrencyError
		if errors.As(err, &unknown) && unknown.Code == target {
			c.log.Warn("skip target", "code", mention.Code, "target", target, "error", err)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("convert %s to %s: %w", mention.Code, target, err)
		}
		converted := mention.Amount.Mul(decimal.NewFromFloat(rate))
		results = append(results, converted.StringFixed(2)+" "+target)
	}

	if len(results) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%s %s is worth %s.", mention.Amount.StringFixed(2), mention.Code, strings.Join(results, ", or ")), nil
}

// BuildMessageReply builds one line per mention and joins them with newlines.
// A mention whose currency is unknown is skipped; a rate fetch failure aborts
// the whole reply.
func (c *Converter) BuildMessageReply(ctx context.Context, mentions []model.Mention, targets []string) (string, error) {
	var lines []string
	for _, m := range mentions {
		line, err := c.BuildReply(ctx, m, targets)
		if err != nil {
			if errors.Is(err, rates.ErrUnknownCurrency) {
				c.log.Warn("skip mention", "code", m.Code, "amount", m.Amount.String(), "error", err)
				continue
			}
			return "", err
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
