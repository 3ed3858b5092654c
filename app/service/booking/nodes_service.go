package booking

import (
	"context"
	"fmt"
	"strings"

	"medvoice/app/model"
	"medvoice/app/service/flow"
	"medvoice/app/util/retry"

	"github.com/elliotchance/pie/v2"
)

const maxServicesShown = 5

// InitialNode greets the caller and waits for the service they need.
func (s *Service) InitialNode() *flow.Node {
	return &flow.Node{
		Name: "greeting",
		RoleMessages: []string{
			"Sei l'assistente vocale di un centro medico. Parla in italiano, con frasi brevi e adatte alla sintesi vocale. Non inventare informazioni.",
		},
		TaskMessages: []string{
			"Saluta il paziente e chiedi quale prestazione o visita desidera prenotare.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "search_services",
				Description: "Cerca la prestazione richiesta dal paziente nel catalogo.",
				Properties: map[string]any{
					"term": map[string]any{
						"type":        "string",
						"description": "Nome della prestazione richiesta, ad esempio 'emocromo' o 'visita cardiologica'",
					},
				},
				Required: []string{"term"},
				Handler:  s.handleSearchServices,
			},
		},
	}
}

func (s *Service) serviceSelectionNode(matches []model.HealthService) *flow.Node {
	lines := make([]string, 0, len(matches))
	for i, svc := range matches {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, svc.Name))
	}

	return &flow.Node{
		Name: "service_selection",
		TaskMessages: []string{
			"Ho trovato queste prestazioni:\n" + strings.Join(lines, "\n") +
				"\nChiedi al paziente quale desidera, oppure cerca di nuovo se nessuna corrisponde.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "select_service",
				Description: "Il paziente ha scelto una delle prestazioni elencate.",
				Properties: map[string]any{
					"index": map[string]any{
						"type":        "integer",
						"description": "Numero della prestazione scelta, a partire da 1",
					},
				},
				Required: []string{"index"},
				Handler:  s.handleSelectService,
			},
			{
				Name:        "search_services",
				Description: "Cerca di nuovo con un termine diverso.",
				Properties: map[string]any{
					"term": map[string]any{"type": "string"},
				},
				Required: []string{"term"},
				Handler:  s.handleSearchServices,
			},
		},
	}
}

func (s *Service) handleSearchServices(ctx context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	term, _ := args["term"].(string)
	term = strings.TrimSpace(term)
	if term == "" {
		return flow.Result{
			"success": false,
			"message": "Please provide the name of the service to search for",
		}, nil, nil
	}

	st.SearchTerm = term

	services, err := retry.Do(ctx, "search_services", retryAttempts, retryDelay,
		func(ctx context.Context) ([]model.HealthService, error) {
			return s.api.SearchServices(ctx, term)
		})
	if err != nil {
		return flow.Result{
			"success": false,
			"error":   fmt.Sprintf("service search failed: %v", err),
		}, nil, nil
	}

	if len(services) == 0 {
		return flow.Result{
			"success": false,
			"message": fmt.Sprintf("Non ho trovato nessuna prestazione per %q", term),
		}, nil, nil
	}

	// An exact name match skips the disambiguation turn entirely.
	exactIndex := pie.FindFirstUsing(services, func(svc model.HealthService) bool {
		return strings.EqualFold(strings.TrimSpace(svc.Name), term)
	})
	if exactIndex >= 0 {
		st.SelectedServices = append(st.SelectedServices, services[exactIndex])

		next, err := s.afterServiceSelected(ctx, st)
		if err != nil {
			return flow.Result{
				"success": false,
				"error":   err.Error(),
			}, nil, nil
		}

		return flow.Result{
			"success": true,
			"service": services[exactIndex].Name,
		}, next, nil
	}

	if len(services) > maxServicesShown {
		services = services[:maxServicesShown]
	}
	st.MatchedServices = services

	return flow.Result{
		"success": true,
		"count":   len(services),
	}, s.serviceSelectionNode(services), nil
}

func (s *Service) handleSelectService(ctx context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	index, ok := intArg(args, "index")
	if !ok || index < 1 || index > len(st.MatchedServices) {
		return flow.Result{
			"success": false,
			"message": fmt.Sprintf("Please provide a valid service number between 1 and %d", len(st.MatchedServices)),
		}, nil, nil
	}

	selected := st.MatchedServices[index-1]
	st.SelectedServices = append(st.SelectedServices, selected)

	next, err := s.afterServiceSelected(ctx, st)
	if err != nil {
		return flow.Result{
			"success": false,
			"error":   err.Error(),
		}, nil, nil
	}

	return flow.Result{
		"success": true,
		"service": selected.Name,
	}, next, nil
}

// afterServiceSelected decides the next step once a service is locked in.
// A first booking collects the city interactively; a follow-up booking in
// the same call reuses the city with the silent center search, so the
// caller is not asked the same question twice.
func (s *Service) afterServiceSelected(ctx context.Context, st *flow.State) (*flow.Node, error) {
	if st.City == "" {
		return s.askCityNode(), nil
	}

	center, err := s.silentCenterSearch(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("center search failed: %w", err)
	}
	st.SelectedCenter = center

	return s.membershipNode(), nil
}

// intArg reads an integer tool argument, accepting the float64 that JSON
// decoding produces.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
