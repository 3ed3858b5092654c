package booking

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"medvoice/app/service/flow"
	"medvoice/app/util/timeutil"
)

var (
	dateArgPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeArgPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)
	phonePattern   = regexp.MustCompile(`^\+?\d{8,15}$`)
)

func (s *Service) handleSelectCenter(_ context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	index, ok := intArg(args, "index")
	if !ok || index < 1 || index > len(st.FoundCenters) {
		return flow.Result{
			"success": false,
			"message": fmt.Sprintf("Please provide a valid center number between 1 and %d", len(st.FoundCenters)),
		}, nil, nil
	}

	center := st.FoundCenters[index-1]
	st.SelectedCenter = &center

	return flow.Result{
		"success": true,
		"center":  center.Name,
	}, s.membershipNode(), nil
}

// membershipNode collects the data the packaging call needs in one turn:
// Cerba card membership, date of birth and gender.
func (s *Service) membershipNode() *flow.Node {
	return &flow.Node{
		Name: "cerba_membership",
		TaskMessages: []string{
			"Chiedi al paziente se possiede la carta Cerba, la sua data di nascita e il genere. Servono per calcolare il prezzo corretto.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "set_patient_profile",
				Description: "Registra carta Cerba, data di nascita e genere del paziente.",
				Properties: map[string]any{
					"cerba_member": map[string]any{
						"type":        "boolean",
						"description": "true se il paziente ha la carta Cerba",
					},
					"date_of_birth": map[string]any{
						"type":        "string",
						"description": "Data di nascita in formato YYYY-MM-DD",
					},
					"gender": map[string]any{
						"type": "string",
						"enum": []string{"m", "f"},
					},
				},
				Required: []string{"cerba_member", "date_of_birth", "gender"},
				Handler:  s.handleSetPatientProfile,
			},
		},
	}
}

func (s *Service) handleSetPatientProfile(ctx context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	dob, _ := args["date_of_birth"].(string)
	if !dateArgPattern.MatchString(dob) {
		return flow.Result{
			"success": false,
			"message": "Please provide the date of birth as YYYY-MM-DD",
		}, nil, nil
	}

	member, _ := args["cerba_member"].(bool)
	gender, _ := args["gender"].(string)

	st.CerbaMember = member
	st.Patient.DateOfBirth = dob
	st.Patient.Gender = gender

	// Packaging decides the booking scenario; its failure silently falls
	// back to legacy and never blocks the conversation.
	s.runPackaging(ctx, st)

	return flow.Result{
		"success":  true,
		"scenario": string(st.Scenario),
	}, s.datetimeNode(), nil
}

func (s *Service) datetimeNode() *flow.Node {
	return &flow.Node{
		Name: "collect_datetime",
		TaskMessages: []string{
			"Chiedi al paziente quando preferisce l'appuntamento: una data precisa con mattina, pomeriggio o un orario specifico, oppure la prima disponibilità.",
		},
		Functions: []flow.FunctionSchema{
			{
				Name:        "set_datetime_preference",
				Description: "Registra la preferenza di data e orario del paziente e avvia la ricerca delle disponibilità.",
				Properties: map[string]any{
					"date": map[string]any{
						"type":        "string",
						"description": "Data richiesta in formato YYYY-MM-DD, vuota se prima disponibilità",
					},
					"time_preference": map[string]any{
						"type": "string",
						"enum": []string{"morning", "afternoon", "specific", "any"},
					},
					"specific_time": map[string]any{
						"type":        "string",
						"description": "Orario richiesto in formato HH:MM, solo con time_preference=specific",
					},
					"first_available": map[string]any{
						"type":        "boolean",
						"description": "true se il paziente vuole la prima disponibilità",
					},
				},
				Required: []string{"time_preference"},
				Handler:  s.handleSetDatetimePreference,
			},
		},
	}
}

func (s *Service) handleSetDatetimePreference(_ context.Context, args map[string]any, st *flow.State) (flow.Result, *flow.Node, error) {
	firstAvailable, _ := args["first_available"].(bool)
	date, _ := args["date"].(string)
	pref, _ := args["time_preference"].(string)
	specific, _ := args["specific_time"].(string)

	if firstAvailable || date == "" {
		// First availability means tomorrow at the earliest, clinic time.
		st.FirstAvailable = true
		st.PreferredDate = timeutil.Tomorrow(time.Now())
		st.TimePref = ""
	} else {
		if !dateArgPattern.MatchString(date) {
			return flow.Result{
				"success": false,
				"message": "Please provide the date as YYYY-MM-DD",
			}, nil, nil
		}

		st.FirstAvailable = false
		st.PreferredDate = date

		switch pref {
		case "morning":
			st.TimePref = flow.TimeMorning
		case "afternoon":
			st.TimePref = flow.TimeAfternoon
		case "specific":
			if !timeArgPattern.MatchString(specific) {
				return flow.Result{
					"success": false,
					"message": "Please provide the time as HH:MM",
				}, nil, nil
			}
			st.TimePref = flow.TimeSpecific
			st.SpecificTime = specific
		default:
			st.TimePref = ""
		}
	}

	st.Extra[pendingSlotSearchKey] = s.slotSearchParamsFromPreference(st)

	return flow.Result{"success": true}, s.slotSearchProcessingNode(), nil
}

// slotSearchParamsFromPreference derives the search window for the scratch
// key consumed by the processing node. A specific time searches a two-hour
// window starting at the requested time.
func (s *Service) slotSearchParamsFromPreference(st *flow.State) slotSearchParams {
	params := slotSearchParams{
		Date:        st.PreferredDate,
		Interactive: true,
	}

	switch st.TimePref {
	case flow.TimeMorning:
		params.StartTime = "08:00"
	case flow.TimeAfternoon:
		params.StartTime = "12:00"
	case flow.TimeSpecific:
		params.StartTime = st.SpecificTime
		if t, err := time.Parse("15:04", st.SpecificTime); err == nil {
			params.EndTime = t.Add(2 * time.Hour).Format("15:04")
		}
	}

	return params
}
