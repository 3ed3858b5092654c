package booking

import (
	"testing"

	"medvoice/app/client/sorting"
	"medvoice/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePackagesDropsEmptyGroups(t *testing.T) {
	packages := []sorting.Package{
		{Services: []model.HealthService{{UUID: "a"}}, Group: true},
		{Services: nil, Group: true},
		{Services: []model.HealthService{{UUID: "b"}, {UUID: "c"}}},
	}

	groups := parsePackages(packages)

	require.Len(t, groups, 2)
	assert.True(t, groups[0].IsGroup)
	assert.Len(t, groups[1].Services, 2)
}

func TestClassifyScenario(t *testing.T) {
	tests := []struct {
		name   string
		groups []model.ServiceGroup
		want   model.BookingScenario
	}{
		{
			name: "single package group is a bundle",
			groups: []model.ServiceGroup{
				{Services: []model.HealthService{{UUID: "a"}, {UUID: "b"}}, IsGroup: true},
			},
			want: model.ScenarioBundle,
		},
		{
			name: "single loose group is combined",
			groups: []model.ServiceGroup{
				{Services: []model.HealthService{{UUID: "a"}, {UUID: "b"}}},
			},
			want: model.ScenarioCombined,
		},
		{
			name: "multiple groups are separate appointments",
			groups: []model.ServiceGroup{
				{Services: []model.HealthService{{UUID: "a"}}},
				{Services: []model.HealthService{{UUID: "b"}}, IsGroup: true},
			},
			want: model.ScenarioSeparate,
		},
		{
			name: "nothing parsed falls back to legacy",
			want: model.ScenarioLegacy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyScenario(tt.groups))
		})
	}
}

func TestDobCompact(t *testing.T) {
	assert.Equal(t, "19900115", dobCompact("1990-01-15"))
}
