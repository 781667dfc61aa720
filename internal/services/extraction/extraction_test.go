package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockCapability struct {
	AnalyzeFunc func(ctx context.Context, image []byte, mimeType string) (string, error)
}

func (m *MockCapability) Analyze(ctx context.Context, image []byte, mimeType string) (string, error) {
	return m.AnalyzeFunc(ctx, image, mimeType)
}

func TestParseFullAnswer(t *testing.T) {
	text := "```json\n" + `{
		"amount": 1500.50,
		"date": "2025-05-02",
		"reference": "INV-001",
		"bankName": "Capitec",
		"payerName": "J Smith",
		"confidence": 92,
		"fontMismatch": false,
		"layoutIssues": true,
		"digitalEdits": false,
		"visualConfidence": 70,
		"detectedManips": ["Misaligned amount"]
	}` + "\n```"

	res, err := Parse(text)
	require.NoError(t, err)

	e := res.Extraction
	assert.True(t, e.Amount.Equal(decimal.RequireFromString("1500.50")))
	require.NotNil(t, e.Date)
	assert.Equal(t, "2025-05-02", time.Time(*e.Date).Format("2006-01-02"))
	assert.Equal(t, "INV-001", e.Reference)
	assert.Equal(t, "Capitec", e.BankName)
	assert.Equal(t, "J Smith", e.PayerName)
	assert.Equal(t, 92.0, e.Confidence)

	assert.True(t, res.Visual.LayoutIssues)
	assert.False(t, res.Visual.FontMismatch)
	assert.Equal(t, 70.0, res.Visual.VisualConfidence)
	assert.Equal(t, []string{"Misaligned amount"}, []string(res.Visual.DetectedAnomalies))
}

func TestParseDefaults(t *testing.T) {
	res, err := Parse(`Here you go: {"amount": null, "date": "not a date", "confidence": 140} Hope that helps.`)
	require.NoError(t, err)

	assert.True(t, res.Extraction.Amount.IsZero())
	assert.Nil(t, res.Extraction.Date)
	assert.Equal(t, "", res.Extraction.Reference)
	assert.Equal(t, DefaultBankName, res.Extraction.BankName)
	assert.Equal(t, 100.0, res.Extraction.Confidence)
	assert.Equal(t, 100.0, res.Visual.VisualConfidence, "visual confidence falls back to confidence")
	assert.NotNil(t, res.Visual.DetectedAnomalies)
	assert.Empty(t, res.Visual.DetectedAnomalies)
}

func TestParseLooseTypes(t *testing.T) {
	res, err := Parse(`{"amount": "R 1,250.00", "reference": 12345, "confidence": "85", "digitalEdits": "true", "detectedManips": "Blurry date"}`)
	require.NoError(t, err)

	assert.True(t, res.Extraction.Amount.Equal(decimal.NewFromInt(1250)))
	assert.Equal(t, "12345", res.Extraction.Reference)
	assert.Equal(t, 85.0, res.Extraction.Confidence)
	assert.True(t, res.Visual.DigitalEdits)
	assert.Equal(t, []string{"Blurry date"}, []string(res.Visual.DetectedAnomalies))
}

func TestParseRejectsNonJSON(t *testing.T) {
	_, err := Parse("I cannot read this image.")
	assert.Error(t, err)

	_, err = Parse(`{"amount": 12,}`)
	assert.Error(t, err)
}

func TestAdapterFallsBackOnCallFailure(t *testing.T) {
	a := NewAdapter(&MockCapability{AnalyzeFunc: func(context.Context, []byte, string) (string, error) {
		return "", errors.New("timeout")
	}})

	res := a.Extract(context.Background(), []byte("img"), "image/jpeg")
	assert.True(t, res.Extraction.Amount.IsZero())
	assert.Nil(t, res.Extraction.Date)
	assert.Equal(t, FailedReference, res.Extraction.Reference)
	assert.Equal(t, 0.0, res.Extraction.Confidence)
}

func TestAdapterEmptyOnUnreadableAnswer(t *testing.T) {
	a := NewAdapter(&MockCapability{AnalyzeFunc: func(context.Context, []byte, string) (string, error) {
		return "no json here", nil
	}})

	res := a.Extract(context.Background(), []byte("img"), "image/jpeg")
	assert.Equal(t, "", res.Extraction.Reference)
	assert.Equal(t, DefaultBankName, res.Extraction.BankName)
}

func TestVisionClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.Len(t, req.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"amount\": 10}"}}]}`))
	}))
	defer srv.Close()

	c := NewVisionClient("test-key", "gpt-4o").WithBaseURL(srv.URL)
	text, err := c.Analyze(context.Background(), []byte("\xff\xd8\xff"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, `{"amount": 10}`, text)
}

func TestVisionClientDoesNotRetry(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"Unavailable", http.StatusServiceUnavailable},
		{"Rate limited", http.StatusTooManyRequests},
		{"Bad request", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewVisionClient("k", "m").WithBaseURL(srv.URL).Analyze(context.Background(), []byte("x"), "")
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), strconv.Itoa(tt.status)))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestAdapterFallsBackOnUnavailableModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewAdapter(NewVisionClient("k", "m").WithBaseURL(srv.URL))
	res := a.Extract(context.Background(), []byte("img"), "image/jpeg")
	assert.Equal(t, FailedReference, res.Extraction.Reference)
	assert.True(t, res.Extraction.Amount.IsZero())
}

func TestVisionClientWithoutKey(t *testing.T) {
	_, err := NewVisionClient("", "gpt-4o").Analyze(context.Background(), []byte("x"), "")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
