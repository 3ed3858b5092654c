package model

import "time"

// Sector buckets a medical service for the packaging API.
type Sector string

const (
	SectorHealthServices    Sector = "health_services"
	SectorPrescriptions     Sector = "prescriptions"
	SectorPreliminaryVisits Sector = "preliminary_visits"
	SectorOptionals         Sector = "optionals"
	SectorOpinions          Sector = "opinions"
)

// BookingScenario decides how selected services are split across appointments.
type BookingScenario string

const (
	// ScenarioBundle books one slot whose price covers every service in the group.
	ScenarioBundle BookingScenario = "bundle"
	// ScenarioCombined books one slot for unrelated services that share an agenda.
	ScenarioCombined BookingScenario = "combined"
	// ScenarioSeparate books one slot per service group, chained in time.
	ScenarioSeparate BookingScenario = "separate"
	// ScenarioLegacy is the fallback when packaging could not be interpreted.
	ScenarioLegacy BookingScenario = "legacy"
)

type HealthService struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Sector Sector `json:"sector"`
}

// ServiceGroup is one bookable unit produced by the packaging API.
type ServiceGroup struct {
	Services []HealthService `json:"services"`
	IsGroup  bool            `json:"is_group"`
}

type HealthCenter struct {
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	StreetNumber string `json:"street_number"`
	City         string `json:"city"`
	District     string `json:"district"`
	Region       string `json:"region"`
	Phone        string `json:"phone"`
}

// SlotService is the per-service pricing carried by an availability slot.
type SlotService struct {
	UUID           string  `json:"uuid"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	CerbaCardPrice float64 `json:"cerba_card_price"`
}

type Slot struct {
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	AvailabilityUUID string        `json:"providing_entity_availability_uuid"`
	Services         []SlotService `json:"health_services"`
}

type BookedSlot struct {
	SlotUUID         string    `json:"slot_uuid"`
	AvailabilityUUID string    `json:"availability_uuid"`
	ServiceNames     []string  `json:"service_names"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Price            float64   `json:"price"`
}

type Patient struct {
	UUID        string `json:"uuid"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
	Email       string `json:"email"`
}
