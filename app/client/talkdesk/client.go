package talkdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"medvoice/app/config"

	"github.com/samber/do"
)

const maxSummaryLength = 250

// Escalation is sent to the bridge that moves the caller to a human operator.
type Escalation struct {
	Summary   string  `json:"summary"`
	Sentiment string  `json:"sentiment"`
	Action    string  `json:"action"`
	Duration  float64 `json:"duration"`
	Service   string  `json:"service,omitempty"`
	CallID    string  `json:"call_id"`
	StreamSID string  `json:"stream_sid,omitempty"`
}

type Client struct {
	cfg        *config.Config
	httpClient *http.Client
}

func NewClient(di *do.Injector) (*Client, error) {
	return &Client{
		cfg: do.MustInvoke[*config.Config](di),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Escalate hands the conversation over. Returns nil on success; the caller
// decides whether a failed handoff is fatal.
func (c *Client) Escalate(ctx context.Context, esc Escalation) error {
	if c.cfg.Escalation.URL == "" {
		return fmt.Errorf("escalation URL is not configured")
	}

	// Rune-based cut: summaries are Italian, a byte cut could split a character.
	if summary := []rune(esc.Summary); len(summary) > maxSummaryLength {
		esc.Summary = string(summary[:maxSummaryLength])
	}

	switch esc.Sentiment {
	case "positive", "neutral", "negative":
	default:
		esc.Sentiment = "neutral"
	}

	data, err := json.Marshal(esc)
	if err != nil {
		return fmt.Errorf("encode escalation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Escalation.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("escalation bridge returned %d", resp.StatusCode)
	}

	return nil
}
