package sorting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medvoice/app/config"
	"medvoice/app/model"

	"github.com/samber/do"
)

// Client talks to the service packaging API. Given a center and the selected
// services grouped by sector, the API answers with bookable packages that may
// bundle services or swap them for package deals.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
}

// Package is one group in the API response. Group is true when the services
// form a single package that is booked and priced as one unit.
type Package struct {
	Services []model.HealthService `json:"health_services"`
	Group    bool                  `json:"group"`
}

func NewClient(di *do.Injector) (*Client, error) {
	return &Client{
		cfg: do.MustInvoke[*config.Config](di),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Sort requests the optimized packaging for the selected services.
// dateOfBirth must be in YYYYMMDD form, gender "m" or "f".
func (c *Client) Sort(ctx context.Context, centerUUID, gender, dateOfBirth string, services []model.HealthService) ([]Package, error) {
	if centerUUID == "" {
		return nil, fmt.Errorf("missing health center UUID")
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no services provided")
	}
	if gender != "m" && gender != "f" {
		gender = "m"
	}
	if len(dateOfBirth) != 8 {
		return nil, fmt.Errorf("invalid date_of_birth format %q (expected YYYYMMDD)", dateOfBirth)
	}

	sectors := map[model.Sector][]string{}
	for _, svc := range services {
		sector := svc.Sector
		switch sector {
		case model.SectorHealthServices, model.SectorPrescriptions,
			model.SectorPreliminaryVisits, model.SectorOptionals, model.SectorOpinions:
		default:
			sector = model.SectorHealthServices
		}
		sectors[sector] = append(sectors[sector], svc.UUID)
	}

	query := url.Values{
		"gender":             {gender},
		"date_of_birth":      {dateOfBirth},
		"health_services":    {strings.Join(sectors[model.SectorHealthServices], ",")},
		"prescriptions":      {strings.Join(sectors[model.SectorPrescriptions], ",")},
		"preliminary_visits": {strings.Join(sectors[model.SectorPreliminaryVisits], ",")},
		"optionals":          {strings.Join(sectors[model.SectorOptionals], ",")},
		"opinions":           {strings.Join(sectors[model.SectorOpinions], ",")},
	}

	endpoint := fmt.Sprintf("%s/amb/sort/health-center/%s/health-service?%s",
		c.cfg.Sorting.BaseURL, centerUUID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.Sorting.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sorting API returned %d: %s", resp.StatusCode, string(data))
	}

	var packages []Package
	if err = json.Unmarshal(data, &packages); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return packages, nil
}
