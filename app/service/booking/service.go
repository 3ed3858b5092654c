package booking

import (
	"context"
	"time"

	"medvoice/app/client/cerba"
	"medvoice/app/client/knowledge"
	"medvoice/app/client/sorting"
	"medvoice/app/client/talkdesk"
	"medvoice/app/config"
	"medvoice/app/model"
	"medvoice/app/service/flow"
	"medvoice/app/service/llm"

	"github.com/samber/do"
)

const (
	defaultRadiusKm = 22
	maxCentersShown = 3
	retryAttempts   = 2
	retryDelay      = time.Second
)

// Radius ladder for center search: default, then two expansion steps.
var radiusSteps = []int{defaultRadiusKm, 42, 62}

type bookingAPI interface {
	SearchServices(ctx context.Context, term string) ([]model.HealthService, error)
	SearchCenters(ctx context.Context, req cerba.CenterSearchRequest) ([]model.HealthCenter, error)
	SearchSlots(ctx context.Context, req cerba.SlotSearchRequest) ([]model.Slot, error)
	CreateSlot(ctx context.Context, start, end time.Time, availabilityUUID string) (*cerba.CreatedSlot, error)
	DeleteSlot(ctx context.Context, slotUUID string) error
	FindPatient(ctx context.Context, phone, dateOfBirth string) (*model.Patient, error)
}

type sortingAPI interface {
	Sort(ctx context.Context, centerUUID, gender, dateOfBirth string, services []model.HealthService) ([]sorting.Package, error)
}

type interpreter interface {
	InterpretJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error
}

type knowledgeBase interface {
	Query(ctx context.Context, query string) (*knowledge.Answer, error)
}

type escalator interface {
	Escalate(ctx context.Context, esc talkdesk.Escalation) error
}

// Service builds the booking conversation graph: every node constructor and
// every handler is a method here, closing over the external clients.
type Service struct {
	cfg     *config.Config
	api     bookingAPI
	sortAPI sortingAPI
	interp  interpreter
	kb      knowledgeBase
	handoff escalator
	tracker *flow.Tracker
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return &Service{
		cfg:     cfg,
		api:     do.MustInvoke[*cerba.Client](di),
		sortAPI: do.MustInvoke[*sorting.Client](di),
		interp:  do.MustInvoke[*llm.Service](di),
		kb:      do.MustInvoke[*knowledge.Client](di),
		handoff: do.MustInvoke[*talkdesk.Client](di),
		tracker: flow.NewTracker(cfg.Classifier.KnowledgeGapPhrases, cfg.Classifier.IgnorablePhrases),
	}, nil
}

// Tracker exposes the failure tracker so the session can wire it into the
// tracked engine and global handlers can mark transfer requests.
func (s *Service) Tracker() *flow.Tracker {
	return s.tracker
}
