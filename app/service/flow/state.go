package flow

import (
	"time"

	"medvoice/app/model"
)

// TimePreference is the caller's half-day choice for appointment search.
type TimePreference string

const (
	TimeMorning   TimePreference = "morning"
	TimeAfternoon TimePreference = "afternoon"
	TimeSpecific  TimePreference = "specific"
)

// PendingTransferKey marks a deliberate in-progress handoff in Extra.
// While it is set, successful handler calls do not reset the failure tracker.
const PendingTransferKey = "pending_transfer"

// State is the single mutable record of one conversation. One goroutine
// owns it at a time; the session serializes turns.
type State struct {
	CallID    string
	StreamSID string
	StartedAt time.Time

	// Service selection
	SearchTerm       string
	MatchedServices  []model.HealthService
	SelectedServices []model.HealthService

	// Center selection
	City           string
	CurrentRadius  int
	FoundCenters   []model.HealthCenter
	SelectedCenter *model.HealthCenter

	// Packaging outcome
	ServiceGroups     []model.ServiceGroup
	Scenario          model.BookingScenario
	CurrentGroupIndex int

	// Patient
	Patient     model.Patient
	CerbaMember bool

	// Date and time preference
	PreferredDate  string // 2006-01-02, empty means first available
	TimePref       TimePreference
	SpecificTime   string // 15:04, only when TimePref is TimeSpecific
	FirstAvailable bool

	// Slot search results and bookings
	CachedAllSlots []model.Slot
	OfferedSlots   []model.Slot
	BookedSlots    []model.BookedSlot

	// Engine bookkeeping
	CurrentNode  string
	PreviousNode string
	NodeHistory  []string

	Failure FailureState

	// Extra holds transient scratch values that do not survive the step
	// that consumes them, keyed by pending_* names.
	Extra map[string]any
}

func NewState(callID string) *State {
	return &State{
		CallID:    callID,
		StartedAt: time.Now(),
		Extra:     make(map[string]any),
	}
}

// FailureRecord is one entry in the failure history, kept across resets.
type FailureRecord struct {
	Handler string `json:"handler"`
	Reason  string `json:"reason"`
	Count   int    `json:"count"`
}

type FailureState struct {
	FailureCount         int             `json:"failure_count"`
	TransferRequested    bool            `json:"transfer_requested"`
	InTransferAttempt    bool            `json:"in_transfer_attempt"`
	KnowledgeGapDetected bool            `json:"knowledge_gap_detected"`
	FailureHistory       []FailureRecord `json:"failure_history"`
}

// PendingTransfer reports whether a handoff is underway.
func (s *State) PendingTransfer() bool {
	v, ok := s.Extra[PendingTransferKey]
	if !ok || v == nil {
		return false
	}
	if b, isBool := v.(bool); isBool {
		return b
	}
	return true
}
