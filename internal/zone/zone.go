// Package zone decides whether a customer point is inside a branch service
// area, in the paid-dispatch belt around it, or outside every area.
package zone

import (
	"math"

	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/utils"
)

type Classifier struct {
	Catalog *config.CatalogHolder
}

func NewClassifier(catalog *config.CatalogHolder) *Classifier {
	return &Classifier{Catalog: catalog}
}

// Classify picks the branch whose boundary is closest to the point and
// grades the distance with that branch's thresholds.
func (c *Classifier) Classify(lat, lon float64) models.ZoneClassification {
	branches := c.Catalog.Get().Branches
	minIdx := -1
	minDist := 0.0
	for i := range branches {
		d := DistanceToBranch(branches[i], lat, lon)
		if minIdx == -1 || d < minDist {
			minDist = d
			minIdx = i
		}
	}
	if minIdx < 0 {
		return models.ZoneClassification{DistanceKm: math.Inf(1), Tier: models.TierOutOfServiceArea}
	}
	b := branches[minIdx]
	return models.ZoneClassification{
		DistanceKm: minDist,
		BranchName: b.Name,
		Tier:       Tier(b, minDist),
	}
}

// DistanceToBranch is the distance to the nearest boundary point.
func DistanceToBranch(b models.Branch, lat, lon float64) float64 {
	best := math.Inf(1)
	for _, p := range b.Boundary {
		if d := utils.HaversineKm(lat, lon, p.Lat, p.Lon); d < best {
			best = d
		}
	}
	return best
}

func Tier(b models.Branch, distanceKm float64) models.ZoneTier {
	switch {
	case distanceKm <= b.InZoneKm:
		return models.TierInZone
	case distanceKm <= b.FreeDispatchKm:
		return models.TierFreeDispatchBoundaryExceeded
	default:
		return models.TierOutOfServiceArea
	}
}
