package cerba

import "medvoice/app/model"

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type serviceSearchResponse struct {
	Services []model.HealthService `json:"health_services"`
}

// CenterSearchRequest scopes the center lookup to centers that can
// actually provide the requested services. A nil radius means the API
// default.
type CenterSearchRequest struct {
	City           string   `json:"city"`
	RadiusKm       *int     `json:"radius_km,omitempty"`
	HealthServices []string `json:"health_services,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	DateOfBirth    string   `json:"date_of_birth,omitempty"`
}

type centerSearchResponse struct {
	Centers []model.HealthCenter `json:"health_centers"`
}

// SlotSearchRequest mirrors the agenda API contract. StartTime is in the
// "2006-01-02 15:04:05+00" layout the API expects; the API ignores it for
// filtering, so callers filter client side.
type SlotSearchRequest struct {
	Gender              string   `json:"gender,omitempty"`
	DateOfBirth         string   `json:"date_of_birth,omitempty"`
	HealthServices      []string `json:"health_services"`
	ProvidingEntityUUID string   `json:"providing_entity_uuid"`
	StartDate           string   `json:"start_date"`
	StartTime           string   `json:"start_time,omitempty"`
	EndTime             string   `json:"end_time,omitempty"`
	AvailabilitiesLimit int      `json:"availabilities_limit"`
}

type slotSearchResponse struct {
	Slots []wireSlot `json:"slots"`
}

type wireSlot struct {
	StartTime        string              `json:"start_time"`
	EndTime          string              `json:"end_time"`
	AvailabilityUUID string              `json:"providing_entity_availability_uuid"`
	Services         []model.SlotService `json:"health_services"`
}

type createSlotRequest struct {
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	AvailabilityUUID string `json:"providing_entity_availability_uuid"`
}

// CreatedSlot is the booking confirmation returned by the agenda API.
type CreatedSlot struct {
	Status    string `json:"status"`
	UUID      string `json:"uuid"`
	CreatedAt string `json:"created_at"`
}

type patientSearchResponse struct {
	Patients []model.Patient `json:"patients"`
}
