package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/icloud-go/internal/icloud"
)

func TestFilters_Evaluate(t *testing.T) {
	t.Parallel()

	march := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filters  Filters
		asset    *icloud.Asset
		included bool
	}{
		{
			name:     "no filters include everything",
			filters:  Filters{},
			asset:    &icloud.Asset{ItemType: icloud.ItemTypeImage, AssetDate: march},
			included: true,
		},
		{
			name:     "skip photos drops stills",
			filters:  Filters{SkipPhotos: true},
			asset:    &icloud.Asset{ItemType: icloud.ItemTypeImage},
			included: false,
		},
		{
			name:     "skip photos keeps movies",
			filters:  Filters{SkipPhotos: true},
			asset:    &icloud.Asset{ItemType: icloud.ItemTypeMovie},
			included: true,
		},
		{
			name:     "skip videos drops movies",
			filters:  Filters{SkipVideos: true},
			asset:    &icloud.Asset{ItemType: icloud.ItemTypeMovie},
			included: false,
		},
		{
			name:     "created before bound drops older capture",
			filters:  Filters{CreatedBefore: march},
			asset:    &icloud.Asset{AssetDate: march.Add(-24 * time.Hour)},
			included: false,
		},
		{
			name:     "created before bound keeps the bound itself",
			filters:  Filters{CreatedBefore: march},
			asset:    &icloud.Asset{AssetDate: march},
			included: true,
		},
		{
			name:     "created after bound drops newer capture",
			filters:  Filters{CreatedAfter: march},
			asset:    &icloud.Asset{AssetDate: march.Add(24 * time.Hour)},
			included: false,
		},
		{
			name:     "window keeps capture inside it",
			filters:  Filters{CreatedBefore: march.Add(-48 * time.Hour), CreatedAfter: march},
			asset:    &icloud.Asset{AssetDate: march.Add(-time.Hour)},
			included: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := tt.filters.Evaluate(tt.asset)

			assert.Equal(t, tt.included, res.Included)

			if !tt.included {
				assert.NotEmpty(t, res.Reason)
			}
		})
	}
}
