package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"medvoice/app/service/flow"
)

func (s *Service) summaryNode() *flow.Node {
	return &flow.Node{
		Name: "booking_summary",
		TaskMessages: []string{
			"Riassumi al paziente gli appuntamenti riservati con data, orario e prezzo, poi chiedi conferma. Può anche annullare tutto o cambiare orario.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "confirm_booking",
				Description: "Il paziente conferma gli appuntamenti riservati.",
				Properties:  map[string]any{},
				Handler:     s.handleConfirmBooking,
			},
			{
				Name:        "cancel_booking",
				Description: "Il paziente vuole annullare tutti gli appuntamenti riservati.",
				Properties:  map[string]any{},
				Handler:     s.handleCancelBooking,
			},
			{
				Name:        "change_time",
				Description: "Il paziente vuole un orario o una data diversi.",
				Properties:  map[string]any{},
				Handler:     s.handleChangeTime,
			},
		},
	}
}

func (s *Service) handleConfirmBooking(_ context.Context, _ map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	if len(st.BookedSlots) == 0 {
		return nil, nil, fmt.Errorf("confirm requested with no booked slots")
	}

	return flow.Result{
		"success": true,
		"slots":   len(st.BookedSlots),
	}, s.contactNode(), nil
}

// handleCancelBooking releases every reserved slot and starts over.
// Release failures are logged only: the caller already gave up on them.
func (s *Service) handleCancelBooking(ctx context.Context, _ map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	s.releaseBookedSlots(ctx, st)

	st.SelectedServices = nil
	st.ServiceGroups = nil
	st.Scenario = ""
	st.CurrentGroupIndex = 0
	st.CachedAllSlots = nil
	st.OfferedSlots = nil

	return flow.Result{
		"success": true,
		"message": "Tutti gli appuntamenti sono stati annullati",
	}, s.cancelledNode(), nil
}

// handleChangeTime releases the reservations and re-collects the date and
// time preference, keeping services, center and scenario.
func (s *Service) handleChangeTime(ctx context.Context, _ map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	s.releaseBookedSlots(ctx, st)

	st.CurrentGroupIndex = 0
	st.CachedAllSlots = nil
	st.OfferedSlots = nil

	return flow.Result{"success": true}, s.datetimeNode(), nil
}

func (s *Service) releaseBookedSlots(ctx context.Context, st *flow.State) {
	for _, booked := range st.BookedSlots {
		if err := s.api.DeleteSlot(ctx, booked.SlotUUID); err != nil {
			slog.Warn("Failed to release slot",
				"call_id", st.CallID,
				"slot_uuid", booked.SlotUUID,
				"error", err)
		}
	}
	st.BookedSlots = nil
}

func (s *Service) contactNode() *flow.Node {
	return &flow.Node{
		Name: "collect_contact",
		TaskMessages: []string{
			"Chiedi al paziente il numero di telefono per completare la prenotazione.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "submit_contact",
				Description: "Registra il numero di telefono del paziente e cerca la sua scheda.",
				Properties: map[string]any{
					"phone": map[string]any{
						"type":        "string",
						"description": "Numero di telefono, solo cifre con prefisso opzionale",
					},
				},
				Required: []string{"phone"},
				Handler:  s.handleSubmitContact,
			},
		},
	}
}

func (s *Service) handleSubmitContact(ctx context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	phone, _ := args["phone"].(string)
	phone = strings.ReplaceAll(strings.TrimSpace(phone), " ", "")

	if !phonePattern.MatchString(phone) {
		// User-fixable, the dispatch layer never counts it.
		return flow.Result{
			"success": false,
			"message": "Invalid phone number, please provide it again",
		}, nil, nil
	}

	st.Patient.Phone = phone

	patient, err := s.api.FindPatient(ctx, phone, st.Patient.DateOfBirth)
	if err != nil {
		return flow.Result{
			"success": false,
			"error":   fmt.Sprintf("patient lookup failed: %v", err),
		}, nil, nil
	}

	if patient != nil {
		st.Patient.UUID = patient.UUID
		st.Patient.FirstName = patient.FirstName
		st.Patient.LastName = patient.LastName
		if patient.Email != "" {
			st.Patient.Email = patient.Email
		}

		return flow.Result{
			"success": true,
			"patient": patient.FirstName + " " + patient.LastName,
		}, s.successNode(), nil
	}

	return flow.Result{"success": true}, s.personalDetailsNode(), nil
}

func (s *Service) personalDetailsNode() *flow.Node {
	return &flow.Node{
		Name: "collect_personal_details",
		TaskMessages: []string{
			"Il paziente non risulta registrato. Chiedi nome, cognome e indirizzo email.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "submit_personal_details",
				Description: "Registra i dati anagrafici del nuovo paziente.",
				Properties: map[string]any{
					"first_name": map[string]any{"type": "string"},
					"last_name":  map[string]any{"type": "string"},
					"email":      map[string]any{"type": "string"},
				},
				Required: []string{"first_name", "last_name", "email"},
				Handler:  s.handleSubmitPersonalDetails,
			},
		},
	}
}

func (s *Service) handleSubmitPersonalDetails(_ context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	firstName, _ := args["first_name"].(string)
	lastName, _ := args["last_name"].(string)
	email, _ := args["email"].(string)

	if firstName == "" || lastName == "" {
		return flow.Result{
			"success": false,
			"message": "Please provide both first and last name",
		}, nil, nil
	}

	if !strings.Contains(email, "@") {
		return flow.Result{
			"success": false,
			"message": "Invalid email address, please provide it again",
		}, nil, nil
	}

	st.Patient.FirstName = strings.TrimSpace(firstName)
	st.Patient.LastName = strings.TrimSpace(lastName)
	st.Patient.Email = strings.TrimSpace(email)

	return flow.Result{"success": true}, s.successNode(), nil
}

func (s *Service) successNode() *flow.Node {
	return &flow.Node{
		Name: "booking_success",
		TaskMessages: []string{
			"Conferma al paziente che la prenotazione è completata, ricorda data e orario del primo appuntamento e saluta.",
		},
		PostActions: []flow.Action{
			{Type: flow.ActionEndConversation},
		},
	}
}

func (s *Service) cancelledNode() *flow.Node {
	return &flow.Node{
		Name: "booking_cancelled",
		TaskMessages: []string{
			"Conferma l'annullamento, chiedi se il paziente desidera altro e in caso contrario saluta.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "search_services",
				Description: "Il paziente vuole prenotare un'altra prestazione.",
				Properties: map[string]any{
					"term": map[string]any{"type": "string"},
				},
				Required: []string{"term"},
				Handler:  s.handleSearchServices,
			},
		},
	}
}
