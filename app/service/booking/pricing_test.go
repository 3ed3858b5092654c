package booking

import (
	"testing"

	"medvoice/app/model"

	"github.com/stretchr/testify/assert"
)

func TestSlotBasePrice(t *testing.T) {
	slot := model.Slot{
		Services: []model.SlotService{
			{UUID: "svc-1", Name: "Emocromo", Price: 25, CerbaCardPrice: 18},
		},
	}

	assert.Equal(t, 25.0, slotBasePrice(slot, false))
	assert.Equal(t, 18.0, slotBasePrice(slot, true))

	// Without a card price the regular one applies to members too.
	slot.Services[0].CerbaCardPrice = 0
	assert.Equal(t, 25.0, slotBasePrice(slot, true))

	assert.Equal(t, 0.0, slotBasePrice(model.Slot{}, true))
}

func TestBookedPriceMultipliesPackages(t *testing.T) {
	group := model.ServiceGroup{
		Services: []model.HealthService{{UUID: "a"}, {UUID: "b"}, {UUID: "c"}},
		IsGroup:  true,
	}

	assert.Equal(t, 90.0, bookedPrice(30, group, model.ScenarioBundle))
	assert.Equal(t, 90.0, bookedPrice(30, group, model.ScenarioSeparate))

	// Combined slots already carry the full price.
	assert.Equal(t, 30.0, bookedPrice(30, group, model.ScenarioCombined))
}

func TestBookedPriceKeepsBaseForNonPackages(t *testing.T) {
	loose := model.ServiceGroup{
		Services: []model.HealthService{{UUID: "a"}, {UUID: "b"}, {UUID: "c"}},
		IsGroup:  false,
	}
	assert.Equal(t, 30.0, bookedPrice(30, loose, model.ScenarioBundle))

	single := model.ServiceGroup{
		Services: []model.HealthService{{UUID: "a"}},
		IsGroup:  true,
	}
	assert.Equal(t, 30.0, bookedPrice(30, single, model.ScenarioSeparate))
}
