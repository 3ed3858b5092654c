package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medvoice/app/client/cerba"
	"medvoice/app/model"
	"medvoice/app/service/flow"
	"medvoice/app/util/retry"
	"medvoice/app/util/timeutil"
)

const (
	pendingSlotSearchKey  = "pending_slot_search_params"
	pendingSlotBookingKey = "pending_slot_booking_params"

	// Gap between chained appointments of a separate-scenario booking.
	chainGap = time.Hour
)

type slotSearchParams struct {
	Date        string // 2006-01-02
	StartTime   string // 15:04, earliest acceptable start, empty for any
	EndTime     string // 15:04, exclusive upper bound, empty for none
	Interactive bool   // false during automatic chaining
}

type slotBookingParams struct {
	Slot  model.Slot
	Price float64
}

// currentGroup is the service group being scheduled right now. Only the
// separate scenario moves the cursor past the first group.
func currentGroup(st *flow.State) (model.ServiceGroup, error) {
	if len(st.ServiceGroups) == 0 {
		return model.ServiceGroup{}, fmt.Errorf("no service groups in state")
	}

	index := 0
	if st.Scenario == model.ScenarioSeparate {
		index = st.CurrentGroupIndex
	}
	if index >= len(st.ServiceGroups) {
		return model.ServiceGroup{}, fmt.Errorf("group index %d out of range (%d groups)", index, len(st.ServiceGroups))
	}

	return st.ServiceGroups[index], nil
}

func (s *Service) slotSearchProcessingNode() *flow.Node {
	return &flow.Node{
		Name: "slot_search_processing",
		PreActions: []flow.Action{
			{Type: flow.ActionSay, Text: "Un attimo, sto controllando le disponibilità."},
		},
		TaskMessages: []string{
			"Invoca subito process_slot_search senza dire altro.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "process_slot_search",
				Description: "Esegue la ricerca delle disponibilità con i parametri già raccolti.",
				Properties:  map[string]any{},
				Handler:     s.handleProcessSlotSearch,
			},
		},
	}
}

func (s *Service) handleProcessSlotSearch(ctx context.Context, _ map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	params, ok := st.Extra[pendingSlotSearchKey].(slotSearchParams)
	if !ok {
		return nil, nil, fmt.Errorf("no pending slot search parameters")
	}
	delete(st.Extra, pendingSlotSearchKey)

	if st.SelectedCenter == nil {
		return nil, nil, fmt.Errorf("no center selected before slot search")
	}

	group, err := currentGroup(st)
	if err != nil {
		return nil, nil, err
	}

	req := cerba.SlotSearchRequest{
		Gender:              st.Patient.Gender,
		DateOfBirth:         st.Patient.DateOfBirth,
		HealthServices:      serviceUUIDs(group.Services),
		ProvidingEntityUUID: st.SelectedCenter.UUID,
		StartDate:           params.Date,
		AvailabilitiesLimit: s.cfg.Booking.AvailabilitiesLimit,
	}
	if params.StartTime != "" {
		req.StartTime = params.Date + " " + params.StartTime + ":00+00"
	}
	if params.EndTime != "" {
		req.EndTime = params.Date + " " + params.EndTime + ":00+00"
	}

	slots, err := retry.Do(ctx, "search_slots", retryAttempts, retryDelay,
		func(ctx context.Context) ([]model.Slot, error) {
			return s.api.SearchSlots(ctx, req)
		})
	if err != nil {
		return flow.Result{
			"success": false,
			"error":   fmt.Sprintf("slot search failed: %v", err),
		}, nil, nil
	}

	// The agenda ignores start_time, the lower bound is enforced here.
	slots = filterEarliestStart(slots, params.Date, params.StartTime)

	if len(slots) == 0 {
		if !params.Interactive {
			// Automatic chaining has no user preference to re-collect.
			return flow.Result{
				"success": false,
				"error":   fmt.Sprintf("no availability for chained appointment on %s", params.Date),
			}, nil, nil
		}

		message := fmt.Sprintf("Nessuna disponibilità trovata per il %s", params.Date)
		if st.FirstAvailable {
			message = "Nessuna disponibilità nei prossimi giorni, chiedi una data precisa"
		}

		return flow.Result{
			"success": false,
			"message": message,
		}, s.datetimeNode(), nil
	}

	st.CachedAllSlots = slots

	presentation := filterSlots(slots, slotFilterOptions{
		PreferredDate: params.Date,
		TimePref:      st.TimePref,
		SpecificTime:  st.SpecificTime,
	})
	st.OfferedSlots = capSpoken(presentation.Slots)

	return flow.Result{
		"success": true,
		"count":   len(st.OfferedSlots),
	}, s.slotSelectionNode(presentation), nil
}

func (s *Service) slotSelectionNode(p slotPresentation) *flow.Node {
	spoken := capSpoken(p.Slots)

	lines := make([]string, 0, len(spoken))
	for i, slot := range spoken {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, slot.StartTime.Format("15:04")))
	}

	task := fmt.Sprintf("Disponibilità per il %s:\n%s", p.Date, strings.Join(lines, "\n"))
	if p.UsedOppositeHalf {
		task += "\nAvvisa il paziente che nella fascia richiesta non c'era nulla e questi orari sono nell'altra fascia della giornata."
	}
	if len(p.OtherDates) > 0 {
		task += "\nAltre date disponibili: " + strings.Join(p.OtherDates, ", ")
	}
	task += "\nChiedi quale orario preferisce."

	return &flow.Node{
		Name:         "slot_selection",
		TaskMessages: []string{task},
		Functions: []flow.FunctionSchema{
			{
				Name:        "select_slot",
				Description: "Il paziente ha scelto uno degli orari proposti.",
				Properties: map[string]any{
					"index": map[string]any{
						"type":        "integer",
						"description": "Numero dell'orario scelto, a partire da 1",
					},
				},
				Required: []string{"index"},
				Handler:  s.handleSelectSlot,
			},
			{
				Name:        "show_more_same_day_slots",
				Description: "Il paziente vuole sentire altri orari nello stesso giorno.",
				Properties:  map[string]any{},
				Handler:     s.handleShowMoreSlots,
			},
			{
				Name:        "search_different_date",
				Description: "Il paziente vuole cercare in una data diversa.",
				Properties: map[string]any{
					"date": map[string]any{
						"type":        "string",
						"description": "Nuova data richiesta in formato YYYY-MM-DD",
					},
				},
				Required: []string{"date"},
				Handler:  s.handleSearchDifferentDate,
			},
		},
	}
}

func (s *Service) handleSelectSlot(_ context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	index, ok := intArg(args, "index")
	if !ok || index < 1 || index > len(st.OfferedSlots) {
		return flow.Result{
			"success": false,
			"message": fmt.Sprintf("Please provide a valid slot number between 1 and %d", len(st.OfferedSlots)),
		}, nil, nil
	}

	slot := st.OfferedSlots[index-1]

	group, err := currentGroup(st)
	if err != nil {
		return nil, nil, err
	}

	base := slotBasePrice(slot, st.CerbaMember)
	st.Extra[pendingSlotBookingKey] = slotBookingParams{
		Slot:  slot,
		Price: bookedPrice(base, group, st.Scenario),
	}

	return flow.Result{
		"success": true,
		"time":    slot.StartTime.Format("15:04"),
	}, s.slotBookingProcessingNode(), nil
}

func (s *Service) slotBookingProcessingNode() *flow.Node {
	return &flow.Node{
		Name: "slot_booking_processing",
		PreActions: []flow.Action{
			{Type: flow.ActionSay, Text: "Perfetto, sto riservando l'orario scelto."},
		},
		TaskMessages: []string{
			"Invoca subito process_slot_booking senza dire altro.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "process_slot_booking",
				Description: "Riserva lo slot scelto dal paziente.",
				Properties:  map[string]any{},
				Handler:     s.handleProcessSlotBooking,
			},
		},
	}
}

func (s *Service) handleProcessSlotBooking(ctx context.Context, _ map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	params, ok := st.Extra[pendingSlotBookingKey].(slotBookingParams)
	if !ok {
		return nil, nil, fmt.Errorf("no pending slot booking parameters")
	}
	delete(st.Extra, pendingSlotBookingKey)

	slot := params.Slot

	created, err := s.api.CreateSlot(ctx, slot.StartTime, slot.EndTime, slot.AvailabilityUUID)
	if err != nil {
		if errors.Is(err, cerba.ErrSlotConflict) {
			// Someone took the slot between search and booking: refresh
			// availability for the same preferences and offer again.
			st.Extra[pendingSlotSearchKey] = slotSearchParams{
				Date:        slot.StartTime.Format(timeutil.DateLayout),
				Interactive: true,
			}

			return flow.Result{
				"success": false,
				"message": "L'orario scelto non è più disponibile, sto aggiornando le disponibilità",
			}, s.slotSearchProcessingNode(), nil
		}

		return flow.Result{
			"success": false,
			"error":   fmt.Sprintf("slot booking failed: %v", err),
		}, nil, nil
	}

	group, err := currentGroup(st)
	if err != nil {
		return nil, nil, err
	}

	st.BookedSlots = append(st.BookedSlots, model.BookedSlot{
		SlotUUID:         created.UUID,
		AvailabilityUUID: slot.AvailabilityUUID,
		ServiceNames:     serviceNames(group.Services),
		Start:            slot.StartTime,
		End:              slot.EndTime,
		Price:            params.Price,
	})

	// Separate bookings chain automatically: the next group's search starts
	// one hour after this appointment ends, no questions asked.
	if st.Scenario == model.ScenarioSeparate && st.CurrentGroupIndex+1 < len(st.ServiceGroups) {
		st.CurrentGroupIndex++

		autoDate, autoTime := nextChainStart(slot.EndTime)
		st.Extra[pendingSlotSearchKey] = slotSearchParams{
			Date:      autoDate,
			StartTime: autoTime,
		}
		// The chain start is computed, the first appointment's half-day
		// preference must not hide later chain slots.
		st.TimePref = ""
		st.SpecificTime = ""
		st.CachedAllSlots = nil
		st.OfferedSlots = nil

		return flow.Result{
			"success": true,
			"message": "Appuntamento riservato, passo alla prestazione successiva",
		}, s.slotSearchProcessingNode(), nil
	}

	return flow.Result{"success": true}, s.summaryNode(), nil
}

func (s *Service) handleShowMoreSlots(_ context.Context, _ map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	if len(st.OfferedSlots) == 0 {
		return flow.Result{
			"success": false,
			"message": "Non ci sono orari da mostrare",
		}, nil, nil
	}

	date := st.OfferedSlots[0].StartTime.Format(timeutil.DateLayout)

	var sameDay []model.Slot
	for _, slot := range st.CachedAllSlots {
		if slot.StartTime.Format(timeutil.DateLayout) == date {
			sameDay = append(sameDay, slot)
		}
	}
	sameDay = sortByStart(sameDay)

	if len(sameDay) <= len(st.OfferedSlots) {
		return flow.Result{
			"success": false,
			"message": fmt.Sprintf("Non ci sono altri orari per il %s", date),
		}, nil, nil
	}

	more := sameDay[len(st.OfferedSlots):]
	more = capSpoken(more)
	st.OfferedSlots = append(st.OfferedSlots, more...)

	return flow.Result{
		"success": true,
		"count":   len(more),
	}, s.slotSelectionNode(slotPresentation{Date: date, Slots: st.OfferedSlots}), nil
}

func (s *Service) handleSearchDifferentDate(_ context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	date, _ := args["date"].(string)
	if !dateArgPattern.MatchString(date) {
		return flow.Result{
			"success": false,
			"message": "Please provide the date as YYYY-MM-DD",
		}, nil, nil
	}

	st.PreferredDate = date
	st.CachedAllSlots = nil
	st.OfferedSlots = nil
	st.Extra[pendingSlotSearchKey] = s.slotSearchParamsFromPreference(st)

	return flow.Result{"success": true}, s.slotSearchProcessingNode(), nil
}

// nextChainStart computes when the next chained appointment may start:
// one hour after the previous one ends, on the same calendar date.
func nextChainStart(previousEnd time.Time) (date, startTime string) {
	next := previousEnd.Add(chainGap)
	return next.Format(timeutil.DateLayout), next.Format("15:04")
}

// filterEarliestStart drops slots before the requested lower bound on the
// requested date.
func filterEarliestStart(slots []model.Slot, date, startTime string) []model.Slot {
	if startTime == "" {
		return slots
	}

	bound, err := time.Parse("2006-01-02 15:04", date+" "+startTime)
	if err != nil {
		return slots
	}

	var result []model.Slot
	for _, slot := range slots {
		if slot.StartTime.Format(timeutil.DateLayout) != date || !slot.StartTime.Before(bound.UTC()) {
			result = append(result, slot)
		}
	}
	return result
}

func serviceUUIDs(services []model.HealthService) []string {
	result := make([]string, 0, len(services))
	for _, svc := range services {
		result = append(result, svc.UUID)
	}
	return result
}

func serviceNames(services []model.HealthService) []string {
	result := make([]string, 0, len(services))
	for _, svc := range services {
		result = append(result, svc.Name)
	}
	return result
}
