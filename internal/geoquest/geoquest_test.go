package geoquest_test

import (
	"testing"

	"github.com/playperu/geoquest/internal/geoquest"
)

func TestRegionScoringRegion(t *testing.T) {
	tests := []struct {
		name   string
		region geoquest.Region
		want   string
	}{
		{"world", geoquest.Region{}, ""},
		{"continent", geoquest.Region{ContinentCode: "EU"}, "EU"},
		{"country", geoquest.Region{CountryCode: "FR"}, ""},
		{"Namibia", geoquest.Region{CountryCode: "NA"}, ""},
		{"Saudi Arabia", geoquest.Region{CountryCode: "SA"}, ""},
		{"Afghanistan", geoquest.Region{CountryCode: "AF"}, ""},
		{"American Samoa", geoquest.Region{CountryCode: "AS"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.region.ScoringRegion(); got != tt.want {
				t.Errorf("ScoringRegion() = %q, want %q", got, tt.want)
			}
		})
	}
}
