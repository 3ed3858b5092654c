package cerba

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"medvoice/app/config"
	"medvoice/app/model"

	"github.com/google/uuid"
	"github.com/samber/do"
)

// ErrSlotConflict means the availability was taken between search and booking.
var ErrSlotConflict = errors.New("slot no longer available")

const wireTimeLayout = "2006-01-02 15:04:05+00"

type Client struct {
	cfg        *config.Config
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(di *do.Injector) (*Client, error) {
	return &Client{
		cfg: do.MustInvoke[*config.Config](di),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (c *Client) SearchServices(ctx context.Context, term string) ([]model.HealthService, error) {
	query := url.Values{"search": {term}}

	var resp serviceSearchResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health_services?"+query.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("search services: %w", err)
	}

	return resp.Services, nil
}

func (c *Client) SearchCenters(ctx context.Context, req CenterSearchRequest) ([]model.HealthCenter, error) {
	var resp centerSearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/health_centers/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search centers: %w", err)
	}

	return resp.Centers, nil
}

func (c *Client) SearchSlots(ctx context.Context, req SlotSearchRequest) ([]model.Slot, error) {
	var resp slotSearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/slots/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search slots: %w", err)
	}

	slots := make([]model.Slot, 0, len(resp.Slots))
	for _, raw := range resp.Slots {
		start, err := time.Parse(wireTimeLayout, raw.StartTime)
		if err != nil {
			return nil, fmt.Errorf("parse slot start_time %q: %w", raw.StartTime, err)
		}

		end, err := time.Parse(wireTimeLayout, raw.EndTime)
		if err != nil {
			return nil, fmt.Errorf("parse slot end_time %q: %w", raw.EndTime, err)
		}

		slots = append(slots, model.Slot{
			StartTime:        start,
			EndTime:          end,
			AvailabilityUUID: raw.AvailabilityUUID,
			Services:         raw.Services,
		})
	}

	return slots, nil
}

func (c *Client) CreateSlot(ctx context.Context, start, end time.Time, availabilityUUID string) (*CreatedSlot, error) {
	req := createSlotRequest{
		StartTime:        start.UTC().Format(wireTimeLayout),
		EndTime:          end.UTC().Format(wireTimeLayout),
		AvailabilityUUID: availabilityUUID,
	}

	var resp CreatedSlot
	if err := c.doJSON(ctx, http.MethodPost, "/slots", req, &resp); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}

	return &resp, nil
}

func (c *Client) DeleteSlot(ctx context.Context, slotUUID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/slots/"+slotUUID, nil, nil); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}

	return nil
}

func (c *Client) FindPatient(ctx context.Context, phone, dateOfBirth string) (*model.Patient, error) {
	query := url.Values{
		"phone":         {phone},
		"date_of_birth": {dateOfBirth},
	}

	var resp patientSearchResponse
	if err := c.doJSON(ctx, http.MethodGet, "/patients?"+query.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("find patient: %w", err)
	}

	if len(resp.Patients) == 0 {
		return nil, nil
	}

	return &resp.Patients[0], nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	// Retry once on 401: token may have been revoked server side.
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return fmt.Errorf("access token: %w", err)
		}

		status, data, err := c.doRaw(ctx, method, path, body, token)
		if err != nil {
			return err
		}

		switch {
		case status == http.StatusUnauthorized:
			c.invalidateToken()
			continue
		case status == http.StatusConflict:
			return ErrSlotConflict
		case status >= 400:
			return fmt.Errorf("API returned %d: %s", status, string(data))
		}

		if out == nil {
			return nil
		}

		if err = json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}

		return nil
	}

	return errors.New("unauthorized after token refresh")
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Cerba.BaseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	// Correlation id, support asks for it when tracing failed bookings.
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, data, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.Cerba.ClientID},
		"client_secret": {c.cfg.Cerba.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Cerba.TokenURL,
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.token = tokenResp.AccessToken
	// Refresh a minute before the token actually expires.
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)

	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
