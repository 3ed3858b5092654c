package talkdesk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"medvoice/app/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscalateTruncatesSummaryOnRunes(t *testing.T) {
	var received Escalation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Escalation.URL = srv.URL
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: time.Second}}

	// Two-byte characters, so a byte cut at 250 would land mid-rune.
	summary := strings.Repeat("è", maxSummaryLength+10)
	err := client.Escalate(context.Background(), Escalation{
		Summary:   summary,
		Sentiment: "negative",
		CallID:    "call-1",
	})
	require.NoError(t, err)

	assert.Equal(t, maxSummaryLength, utf8.RuneCountInString(received.Summary))
	assert.True(t, utf8.ValidString(received.Summary))
	assert.Equal(t, strings.Repeat("è", maxSummaryLength), received.Summary)
}

func TestEscalateNormalizesUnknownSentiment(t *testing.T) {
	var received Escalation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Escalation.URL = srv.URL
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: time.Second}}

	err := client.Escalate(context.Background(), Escalation{
		Summary:   "Il paziente vuole parlare con un operatore",
		Sentiment: "furious",
		CallID:    "call-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "neutral", received.Sentiment)
}
