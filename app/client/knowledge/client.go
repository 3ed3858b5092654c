package knowledge

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

type Client struct {
	cfg        *config.Config
	httpClient *http.Client
}

// Answer is the knowledge base reply. Confidence zero or an empty answer
// means the base has nothing on the topic.
type Answer struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

func NewClient(di *do.Injector) (*Client, error) {
	return &Client{
		cfg: do.MustInvoke[*config.Config](di),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

func (c *Client) Query(ctx context.Context, query string) (*Answer, error) {
	if c.cfg.Knowledge.URL == "" {
		return nil, fmt.Errorf("knowledge base URL is not configured")
	}

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Knowledge.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge base returned %d", resp.StatusCode)
	}

	var answer Answer
	if err = json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}

	return &answer, nil
}
