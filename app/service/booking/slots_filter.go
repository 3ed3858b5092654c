package booking

import (
	"sort"
	"time"

	"medvoice/app/model"
	"medvoice/app/service/flow"
	"medvoice/app/util/timeutil"

	"github.com/elliotchance/pie/v2"
)

// Voice keeps slot lists short: more than this per turn is unintelligible.
const spokenSlotLimit = 5

type slotFilterOptions struct {
	PreferredDate string
	TimePref      flow.TimePreference
	SpecificTime  string
}

// slotPresentation is what the selection node offers: the slots for one
// date, whether the opposite half-day had to be used, and the remaining
// dates for a follow-up search.
type slotPresentation struct {
	Date             string
	Slots            []model.Slot
	UsedOppositeHalf bool
	OtherDates       []string
}

// filterSlots picks which slots to offer. Slots on the preferred date are
// narrowed to the requested half-day or time window; when that filter
// empties the list, the opposite half-day is offered before other dates.
func filterSlots(slots []model.Slot, opts slotFilterOptions) slotPresentation {
	byDate := map[string][]model.Slot{}
	for _, slot := range slots {
		date := slot.StartTime.Format(timeutil.DateLayout)
		byDate[date] = append(byDate[date], slot)
	}

	dates := pie.Keys(byDate)
	sort.Strings(dates)

	daySlots, hasPreferred := byDate[opts.PreferredDate]
	if !hasPreferred {
		// Nothing on the requested date: offer the earliest date instead
		// and list the rest for a follow-up.
		if len(dates) == 0 {
			return slotPresentation{}
		}

		return slotPresentation{
			Date:       dates[0],
			Slots:      sortByStart(byDate[dates[0]]),
			OtherDates: pie.Filter(dates, func(d string) bool { return d != dates[0] }),
		}
	}

	otherDates := pie.Filter(dates, func(d string) bool { return d != opts.PreferredDate })

	filtered := filterByTime(daySlots, opts)
	if len(filtered) > 0 {
		return slotPresentation{
			Date:       opts.PreferredDate,
			Slots:      sortByStart(filtered),
			OtherDates: otherDates,
		}
	}

	if opposite := oppositeHalfDay(daySlots, opts.TimePref); len(opposite) > 0 {
		return slotPresentation{
			Date:             opts.PreferredDate,
			Slots:            sortByStart(opposite),
			UsedOppositeHalf: true,
			OtherDates:       otherDates,
		}
	}

	return slotPresentation{
		Date:       opts.PreferredDate,
		Slots:      sortByStart(daySlots),
		OtherDates: otherDates,
	}
}

func filterByTime(slots []model.Slot, opts slotFilterOptions) []model.Slot {
	switch opts.TimePref {
	case flow.TimeMorning:
		return pie.Filter(slots, func(s model.Slot) bool { return timeutil.IsMorning(s.StartTime) })
	case flow.TimeAfternoon:
		return pie.Filter(slots, func(s model.Slot) bool { return timeutil.IsAfternoon(s.StartTime) })
	case flow.TimeSpecific:
		requested, err := time.Parse("15:04", opts.SpecificTime)
		if err != nil {
			return slots
		}
		from := requested.Hour()*60 + requested.Minute()
		to := from + 120
		return pie.Filter(slots, func(s model.Slot) bool {
			minutes := s.StartTime.Hour()*60 + s.StartTime.Minute()
			return minutes >= from && minutes < to
		})
	default:
		return slots
	}
}

func oppositeHalfDay(slots []model.Slot, pref flow.TimePreference) []model.Slot {
	switch pref {
	case flow.TimeMorning:
		return pie.Filter(slots, func(s model.Slot) bool { return timeutil.IsAfternoon(s.StartTime) })
	case flow.TimeAfternoon:
		return pie.Filter(slots, func(s model.Slot) bool { return timeutil.IsMorning(s.StartTime) })
	default:
		return nil
	}
}

func sortByStart(slots []model.Slot) []model.Slot {
	return pie.SortUsing(slots, func(a, b model.Slot) bool {
		return a.StartTime.Before(b.StartTime)
	})
}

// capSpoken trims the list read aloud; the full set stays cached for the
// "show more" follow-up.
func capSpoken(slots []model.Slot) []model.Slot {
	if len(slots) <= spokenSlotLimit {
		return slots
	}
	return slots[:spokenSlotLimit]
}
