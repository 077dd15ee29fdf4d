package convert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"moneyman/internal/model"
	"moneyman/internal/rates"
)

type fixedRates struct {
	table map[string]float64
	err   error
}

func (f fixedRates) Rate(_ context.Context, from, to string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	fr, ok := f.table[from]
	if !ok {
		return 0, &rates.UnknownCurrencyError{Code: from}
	}
	tr, ok := f.table[to]
	if !ok {
		return 0, &rates.UnknownCurrencyError{Code: to}
	}
	return tr / fr, nil
}

func newTestConverter(src RateSource) *Converter {
	return New(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mention(code, amount string) model.Mention {
	return model.Mention{Code: code, Amount: decimal.RequireFromString(amount)}
}

var table = map[string]float64{"USD": 1, "EUR": 0.9, "GBP": 0.8, "JPY": 150}

func TestBuildReply(t *testing.T) {
	tests := []struct {
		name    string
		mention model.Mention
		targets []string
		want    string
	}{
		{
			name:    "single target",
			mention: mention("USD", "10"),
			targets: []string{"EUR"},
			want:    "10.00 USD is worth 9.00 EUR.",
		},
		{
			name:    "source target is skipped",
			mention: mention("USD", "10"),
			targets: []string{"USD", "EUR"},
			want:    "10.00 USD is worth 9.00 EUR.",
		},
		{
			name:    "only target equals source",
			mention: mention("USD", "10"),
			targets: []string{"USD"},
			want:    "",
		},
		{
			name:    "several targets keep order",
			mention: mention("GBP", "12.34"),
			targets: []string{"USD", "JPY", "EUR"},
			want:    "12.34 GBP is worth 15.43 USD, or 2313.75 JPY, or 13.88 EUR.",
		},
		{
			name:    "unknown target is dropped",
			mention: mention("USD", "10"),
			targets: []string{"VAT", "EUR"},
			want:    "10.00 USD is worth 9.00 EUR.",
		},
		{
			name:    "only unknown targets",
			mention: mention("USD", "10"),
			targets: []string{"VAT"},
			want:    "",
		},
	}

	c := newTestConverter(fixedRates{table: table})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.BuildReply(context.Background(), tt.mention, tt.targets)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildReply() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildReplyUnknownSource(t *testing.T) {
	c := newTestConverter(fixedRates{table: table})

	_, err := c.BuildReply(context.Background(), mention("XYZ", "1"), []string{"EUR", "VAT"})
	if !errors.Is(err, rates.ErrUnknownCurrency) {
		t.Fatalf("BuildReply() error = %v, want ErrUnknownCurrency", err)
	}
}

func TestBuildMessageReply(t *testing.T) {
	c := newTestConverter(fixedRates{table: table})
	ctx := context.Background()

	t.Run("one line per mention", func(t *testing.T) {
		got, err := c.BuildMessageReply(ctx, []model.Mention{mention("USD", "10"), mention("EUR", "9")}, []string{"EUR", "USD"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "10.00 USD is worth 9.00 EUR.\n9.00 EUR is worth 10.00 USD."
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("nothing results are skipped", func(t *testing.T) {
		got, err := c.BuildMessageReply(ctx, []model.Mention{mention("EUR", "1"), mention("USD", "10")}, []string{"EUR"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff("10.00 USD is worth 9.00 EUR.", got); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("all nothing", func(t *testing.T) {
		got, err := c.BuildMessageReply(ctx, []model.Mention{mention("EUR", "1")}, []string{"EUR"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "" {
			t.Errorf("expected empty reply, got %q", got)
		}
	})

	t.Run("unknown currency skips only that mention", func(t *testing.T) {
		got, err := c.BuildMessageReply(ctx, []model.Mention{mention("XYZ", "1"), mention("USD", "10")}, []string{"EUR"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff("10.00 USD is worth 9.00 EUR.", got); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("fetch failure aborts", func(t *testing.T) {
		failing := newTestConverter(fixedRates{err: rates.ErrFetch})
		_, err := failing.BuildMessageReply(ctx, []model.Mention{mention("USD", "10")}, []string{"EUR"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}
