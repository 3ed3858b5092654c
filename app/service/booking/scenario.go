package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"medvoice/app/client/sorting"
	"medvoice/app/model"
	"medvoice/app/service/flow"
)

const scenarioSystemPrompt = `Sei un classificatore di scenari di prenotazione medica.
Dato l'elenco dei gruppi di prestazioni, rispondi SOLO con un JSON
{"scenario": "..."} dove scenario è uno tra: bundle, combined, separate.
- bundle: un solo gruppo che forma un pacchetto unico
- combined: un solo gruppo di prestazioni indipendenti sulla stessa agenda
- separate: più gruppi, ciascuno da prenotare come appuntamento distinto`

type scenarioAnswer struct {
	Scenario string `json:"scenario"`
}

// runPackaging calls the sorting API for the selected center and fills
// service_groups and booking_scenario. Packaging failures are never fatal:
// the legacy scenario books the services exactly as selected.
func (s *Service) runPackaging(ctx context.Context, st *flow.State) {
	packages, err := s.sortAPI.Sort(ctx,
		st.SelectedCenter.UUID,
		st.Patient.Gender,
		dobCompact(st.Patient.DateOfBirth),
		st.SelectedServices)
	if err != nil {
		slog.Warn("Packaging call failed, falling back to legacy scenario",
			"call_id", st.CallID,
			"error", err)
		s.applyLegacyScenario(st)
		return
	}

	groups := parsePackages(packages)
	if len(groups) == 0 {
		slog.Warn("Packaging returned no usable groups, falling back to legacy scenario",
			"call_id", st.CallID)
		s.applyLegacyScenario(st)
		return
	}

	scenario := classifyScenario(groups)

	// The interpretation model gets the last word when it answers with a
	// valid scenario; the deterministic rules stand otherwise.
	if interpreted, err := s.interpretScenario(ctx, groups); err == nil && interpreted != "" {
		scenario = interpreted
	}

	st.ServiceGroups = groups
	st.Scenario = scenario
	st.CurrentGroupIndex = 0

	slog.Info("Packaging done",
		"call_id", st.CallID,
		"groups", len(groups),
		"scenario", scenario)
}

func (s *Service) applyLegacyScenario(st *flow.State) {
	st.ServiceGroups = []model.ServiceGroup{
		{Services: st.SelectedServices, IsGroup: false},
	}
	st.Scenario = model.ScenarioLegacy
	st.CurrentGroupIndex = 0
}

func (s *Service) interpretScenario(ctx context.Context, groups []model.ServiceGroup) (model.BookingScenario, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Numero di gruppi: %d\n", len(groups))
	for i, group := range groups {
		names := make([]string, 0, len(group.Services))
		for _, svc := range group.Services {
			names = append(names, svc.Name)
		}
		fmt.Fprintf(&sb, "Gruppo %d (pacchetto=%v): %s\n", i+1, group.IsGroup, strings.Join(names, ", "))
	}

	var answer scenarioAnswer
	if err := s.interp.InterpretJSON(ctx, scenarioSystemPrompt, sb.String(), &answer); err != nil {
		return "", fmt.Errorf("interpret scenario: %w", err)
	}

	switch model.BookingScenario(answer.Scenario) {
	case model.ScenarioBundle, model.ScenarioCombined, model.ScenarioSeparate:
		return model.BookingScenario(answer.Scenario), nil
	}

	return "", fmt.Errorf("unexpected scenario %q", answer.Scenario)
}

// parsePackages converts the packaging response, dropping groups without
// services: a zero-service group is never stored.
func parsePackages(packages []sorting.Package) []model.ServiceGroup {
	groups := make([]model.ServiceGroup, 0, len(packages))
	for _, pkg := range packages {
		if len(pkg.Services) == 0 {
			continue
		}
		groups = append(groups, model.ServiceGroup{
			Services: pkg.Services,
			IsGroup:  pkg.Group,
		})
	}
	return groups
}

func classifyScenario(groups []model.ServiceGroup) model.BookingScenario {
	switch {
	case len(groups) == 0:
		return model.ScenarioLegacy
	case len(groups) > 1:
		return model.ScenarioSeparate
	case groups[0].IsGroup:
		return model.ScenarioBundle
	default:
		return model.ScenarioCombined
	}
}

// dobCompact converts 2006-01-02 into the YYYYMMDD form the packaging API expects.
func dobCompact(dob string) string {
	return strings.ReplaceAll(dob, "-", "")
}
