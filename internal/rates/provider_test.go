package rates

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
	lastURL    string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.lastURL = req.URL.String()
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func TestProviderLatest(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		transport *mockTransport
		wantRates map[string]float64
		wantErr   bool
	}{
		{
			name: "successful fetch",
			transport: &mockTransport{
				statusCode: 200,
				body:       `{"timestamp": 1709290800, "base": "USD", "rates": {"USD": 1, "EUR": 0.9, "GBP": 0.8}}`,
			},
			wantRates: map[string]float64{"USD": 1, "EUR": 0.9, "GBP": 0.8},
		},
		{
			name:      "http error status",
			transport: &mockTransport{statusCode: 401, body: `{"error": true}`},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "invalid json",
			transport: &mockTransport{statusCode: 200, body: "not json"},
			wantErr:   true,
		},
		{
			name:      "empty rate table",
			transport: &mockTransport{statusCode: 200, body: `{"timestamp": 1, "rates": {}}`},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.transport, "", "secret")
			p.now = func() time.Time { return fixed }

			snap, err := p.Latest(context.Background())
			if tt.wantErr {
				if !errors.Is(err, ErrFetch) {
					t.Fatalf("expected ErrFetch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantRates, snap.Rates); diff != "" {
				t.Errorf("rates mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(fixed, snap.FetchedAt); diff != "" {
				t.Errorf("fetched_at mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProviderSendsAppID(t *testing.T) {
	tr := &mockTransport{statusCode: 200, body: `{"rates": {"USD": 1}}`}
	p := NewProvider(tr, "https://rates.example.com/latest.json", "abc123")

	if _, err := p.Latest(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("https://rates.example.com/latest.json?app_id=abc123", tr.lastURL); diff != "" {
		t.Errorf("url mismatch (-want +got):\n%s", diff)
	}
}
