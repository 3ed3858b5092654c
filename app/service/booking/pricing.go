package booking

import "medvoice/app/model"

// slotBasePrice is the single-service price for a slot. Cerba card holders
// pay the card price when the slot carries one.
func slotBasePrice(slot model.Slot, cerbaMember bool) float64 {
	if len(slot.Services) == 0 {
		return 0
	}

	svc := slot.Services[0]
	if cerbaMember && svc.CerbaCardPrice > 0 {
		return svc.CerbaCardPrice
	}
	return svc.Price
}

// bookedPrice computes the stored price for a reservation. A package group
// is priced per service: the agenda returns the single-service price, so a
// three-service package costs three times the base. Non-package groups and
// single services keep the base price.
func bookedPrice(base float64, group model.ServiceGroup, scenario model.BookingScenario) float64 {
	if !group.IsGroup || len(group.Services) <= 1 {
		return base
	}

	switch scenario {
	case model.ScenarioBundle, model.ScenarioSeparate:
		return base * float64(len(group.Services))
	}

	return base
}
