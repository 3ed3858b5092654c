package booking

import (
	"context"
	"fmt"
	"strings"

	"medvoice/app/client/cerba"
	"medvoice/app/model"
	"medvoice/app/service/flow"
	"medvoice/app/util/retry"
)

const pendingCenterSearchKey = "pending_center_search_params"

type centerSearchParams struct {
	City   string
	Radius *int
}

func (s *Service) askCityNode() *flow.Node {
	return &flow.Node{
		Name: "collect_city",
		TaskMessages: []string{
			"Chiedi al paziente in quale città o zona preferisce fare la prestazione.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "set_city",
				Description: "Il paziente ha indicato la città dove cercare un centro.",
				Properties: map[string]any{
					"city": map[string]any{"type": "string"},
				},
				Required: []string{"city"},
				Handler:  s.handleSetCity,
			},
		},
	}
}

// centerSearchProcessingNode speaks a waiting message first, then its single
// tool performs the slow search. The split guarantees the acknowledgment
// reaches the caller before the external call blocks the turn.
func (s *Service) centerSearchProcessingNode() *flow.Node {
	return &flow.Node{
		Name: "center_search_processing",
		PreActions: []flow.Action{
			{Type: flow.ActionSay, Text: "Un attimo, sto cercando i centri più vicini."},
		},
		TaskMessages: []string{
			"Invoca subito process_center_search senza dire altro.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "process_center_search",
				Description: "Esegue la ricerca dei centri con i parametri già raccolti.",
				Properties:  map[string]any{},
				Handler:     s.handleProcessCenterSearch,
			},
		},
	}
}

func (s *Service) handleSetCity(_ context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	city, _ := args["city"].(string)
	city = strings.TrimSpace(city)
	if city == "" {
		return flow.Result{
			"success": false,
			"message": "Please provide the city to search in",
		}, nil, nil
	}

	st.City = city
	st.Extra[pendingCenterSearchKey] = centerSearchParams{City: city}

	return flow.Result{"success": true}, s.centerSearchProcessingNode(), nil
}

func (s *Service) handleProcessCenterSearch(ctx context.Context, _ map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	params, ok := st.Extra[pendingCenterSearchKey].(centerSearchParams)
	if !ok {
		return nil, nil, fmt.Errorf("no pending center search parameters")
	}
	delete(st.Extra, pendingCenterSearchKey)

	radius := defaultRadiusKm
	if params.Radius != nil {
		radius = *params.Radius
	}
	st.CurrentRadius = radius

	req := cerba.CenterSearchRequest{
		City:           params.City,
		RadiusKm:       &radius,
		HealthServices: serviceUUIDs(st.SelectedServices),
		Gender:         st.Patient.Gender,
		DateOfBirth:    st.Patient.DateOfBirth,
	}

	centers, err := retry.Do(ctx, "search_centers", retryAttempts, retryDelay,
		func(ctx context.Context) ([]model.HealthCenter, error) {
			return s.api.SearchCenters(ctx, req)
		})
	if err != nil {
		return flow.Result{
			"success": false,
			"error":   fmt.Sprintf("center search failed: %v", err),
		}, nil, nil
	}

	if len(centers) == 0 {
		next, hasNext := nextRadius(radius)
		if !hasNext {
			return flow.Result{
				"success": false,
				"message": fmt.Sprintf("Nessun centro trovato entro %d km da %s", radius, params.City),
			}, s.noCentersNode(), nil
		}

		return flow.Result{
			"success":     true,
			"message":     fmt.Sprintf("Nessun centro entro %d km, chiedo se allargare la ricerca", radius),
			"next_radius": next,
		}, s.expandRadiusNode(params.City, next), nil
	}

	if len(centers) > maxCentersShown {
		centers = centers[:maxCentersShown]
	}
	st.FoundCenters = centers

	return flow.Result{
		"success": true,
		"count":   len(centers),
	}, s.centerSelectionNode(centers), nil
}

// expandRadiusNode asks for explicit consent before widening the search.
func (s *Service) expandRadiusNode(city string, radius int) *flow.Node {
	return &flow.Node{
		Name: "expand_radius",
		TaskMessages: []string{
			fmt.Sprintf("Non ci sono centri vicini a %s. Chiedi al paziente se vuole allargare la ricerca fino a %d km.", city, radius),
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "accept_expand_radius",
				Description: "Il paziente accetta di allargare il raggio di ricerca.",
				Properties:  map[string]any{},
				Handler: func(_ context.Context, _ map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
					r := radius
					st.Extra[pendingCenterSearchKey] = centerSearchParams{City: city, Radius: &r}
					return flow.Result{"success": true}, s.centerSearchProcessingNode(), nil
				},
			},
			{
				Name:        "decline_expand_radius",
				Description: "Il paziente non vuole allargare la ricerca.",
				Properties:  map[string]any{},
				Handler: func(_ context.Context, _ map[string]any, _ *flow.State) (flow.Result, *flow.Node, error) {
					return flow.Result{"success": true}, s.noCentersNode(), nil
				},
			},
		},
	}
}

func (s *Service) noCentersNode() *flow.Node {
	return &flow.Node{
		Name: "no_centers",
		TaskMessages: []string{
			"Spiega che purtroppo non ci sono centri disponibili nella zona richiesta e chiedi se vuole provare con un'altra città.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "set_city",
				Description: "Il paziente vuole cercare in un'altra città.",
				Properties: map[string]any{
					"city": map[string]any{"type": "string"},
				},
				Required: []string{"city"},
				Handler:  s.handleSetCity,
			},
		},
	}
}

func (s *Service) centerSelectionNode(centers []model.HealthCenter) *flow.Node {
	lines := make([]string, 0, len(centers))
	for i, center := range centers {
		lines = append(lines, fmt.Sprintf("%d. %s, %s %s, %s", i+1, center.Name, center.Address, center.StreetNumber, center.City))
	}

	return &flow.Node{
		Name: "center_selection",
		TaskMessages: []string{
			"Proponi questi centri al paziente:\n" + strings.Join(lines, "\n") +
				"\nChiedi quale preferisce.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "select_center",
				Description: "Il paziente ha scelto uno dei centri elencati.",
				Properties: map[string]any{
					"index": map[string]any{
						"type":        "integer",
						"description": "Numero del centro scelto, a partire da 1",
					},
				},
				Required: []string{"index"},
				Handler:  s.handleSelectCenter,
			},
		},
	}
}

// silentCenterSearch walks the same radius ladder without asking the caller,
// used when the center choice must not interrupt the conversation. Falls
// back to the configured default center when even the widest radius is empty.
func (s *Service) silentCenterSearch(ctx context.Context, st *flow.State) (*model.HealthCenter, error) {
	for _, radius := range radiusSteps {
		r := radius
		req := cerba.CenterSearchRequest{
			City:           st.City,
			RadiusKm:       &r,
			HealthServices: serviceUUIDs(st.SelectedServices),
			Gender:         st.Patient.Gender,
			DateOfBirth:    st.Patient.DateOfBirth,
		}

		centers, err := retry.Do(ctx, "search_centers", retryAttempts, retryDelay,
			func(ctx context.Context) ([]model.HealthCenter, error) {
				return s.api.SearchCenters(ctx, req)
			})
		if err != nil {
			return nil, fmt.Errorf("silent center search at %d km: %w", radius, err)
		}

		if len(centers) > 0 {
			return &centers[0], nil
		}
	}

	if s.cfg.Booking.DefaultCenterUUID == "" {
		return nil, fmt.Errorf("no centers found near %s and no default center configured", st.City)
	}

	return &model.HealthCenter{
		UUID: s.cfg.Booking.DefaultCenterUUID,
		Name: "Centro predefinito",
	}, nil
}

func nextRadius(current int) (int, bool) {
	for i, step := range radiusSteps {
		if step == current && i+1 < len(radiusSteps) {
			return radiusSteps[i+1], true
		}
	}
	return 0, false
}
