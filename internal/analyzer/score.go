package analyzer

import "github.com/FranksOps/serprank/internal/serp"

// VisibilityScore breaks down how visible one ranking is.
type VisibilityScore struct {
	Position             *int    `json:"position"`
	EstimatedCTR         float64 `json:"estimatedCtr"`
	FeatureImpact        float64 `json:"featureImpact"` // signed boost/penalty
	CompetitorCount      int     `json:"competitorCount"`
	Score                float64 `json:"score"`                // 0-100
	AICitationLikelihood float64 `json:"aiCitationLikelihood"` // 0-100
}

// SERP-feature impact table. Positive values reward blocks we own;
// negative values penalize blocks competitors hold or blocks that push
// organic results down the page.
const (
	impactOwnedSnippet  = 40.0
	impactLostSnippet   = -15.0 // snippet present, not ours
	impactOwnedPanel    = 20.0
	impactLostPanel     = -10.0
	impactLocalPack     = -5.0
	impactPeopleAlsoAsk = -2.0
	impactImagePack     = -3.0
	impactVideoCarousel = -3.0
	impactShopping      = -4.0
	impactPerAd         = -3.0
)

// penaltyPerCompetitorAbove is subtracted once per competitor ranked
// better than the target.
const penaltyPerCompetitorAbove = 5.0

// scoreVisibility computes the visibility breakdown for one ranking.
func (a *Analyzer) scoreVisibility(q serp.GeneratedQuery, pr *PositionResult, res *serp.SearchResults) VisibilityScore {
	vs := VisibilityScore{
		Position:        pr.Position,
		CompetitorCount: len(pr.Competitors),
	}

	adsPresent := res.Features.AdsCount > 0
	competitorSnippet := pr.Features.FeaturedSnippet && !pr.Features.FeaturedSnippetOwned

	if pr.Position != nil {
		vs.EstimatedCTR = EstimateCTR(*pr.Position, serpDevice(res), pr.Features.FeaturedSnippetOwned, competitorSnippet, adsPresent)
	}

	vs.FeatureImpact = featureImpact(pr.Features, res.Features.AdsCount)

	competitorPenalty := float64(pr.CompetitorsAbove()) * penaltyPerCompetitorAbove
	vs.Score = clamp(positionValue(pr.Position)+vs.FeatureImpact-competitorPenalty, 0, 100)
	vs.AICitationLikelihood = aiCitationLikelihood(q, pr) * 100
	return vs
}

// positionValue maps a position to its base contribution: position 1 is
// worth 100, decaying linearly through page 2 and nothing past it.
func positionValue(position *int) float64 {
	if position == nil {
		return 0
	}
	v := 100 - float64(*position-1)*5
	if v < 0 {
		return 0
	}
	return v
}

func featureImpact(fp FeaturePresence, adsCount int) float64 {
	impact := 0.0
	if fp.FeaturedSnippet {
		if fp.FeaturedSnippetOwned {
			impact += impactOwnedSnippet
		} else {
			impact += impactLostSnippet
		}
	}
	if fp.KnowledgePanel {
		if fp.KnowledgePanelOwned {
			impact += impactOwnedPanel
		} else {
			impact += impactLostPanel
		}
	}
	if fp.LocalPack {
		impact += impactLocalPack
	}
	if fp.PeopleAlsoAsk {
		impact += impactPeopleAlsoAsk
	}
	if fp.ImagePack {
		impact += impactImagePack
	}
	if fp.VideoCarousel {
		impact += impactVideoCarousel
	}
	if fp.ShoppingResults {
		impact += impactShopping
	}
	impact += float64(adsCount) * impactPerAd
	return impact
}

// Position bands for the AI-citation base rate: answer engines cite the
// top of the SERP heavily and the long tail barely at all.
func aiCitationBase(position *int) float64 {
	if position == nil {
		return 0
	}
	switch p := *position; {
	case p <= 3:
		return 0.90
	case p <= 6:
		return 0.70
	case p <= 10:
		return 0.50
	case p <= 15:
		return 0.30
	case p <= 20:
		return 0.20
	default:
		return 0.10
	}
}

// Query-type modifiers: informational and comparison queries feed answer
// engines; transactional and local queries rarely get cited.
var aiQueryTypeModifier = map[serp.QueryType]float64{
	serp.QueryTypeInformational: 0.10,
	serp.QueryTypeComparison:    0.15,
	serp.QueryTypeLongTail:      0.10,
	serp.QueryTypeBrand:         0.05,
	serp.QueryTypeProduct:       0.0,
	serp.QueryTypeService:       0.0,
	serp.QueryTypeTransactional: -0.10,
	serp.QueryTypeLocal:         -0.15,
}

// aiCompetitionModifier rewards clean SERPs and penalizes crowded ones,
// keyed by how many competitors outrank us.
func aiCompetitionModifier(above int) float64 {
	switch {
	case above == 0:
		return 0.10
	case above <= 2:
		return 0.05
	case above <= 4:
		return -0.05
	default:
		return -0.10
	}
}

// aiCitationLikelihood predicts, in [0,1], whether a generative answer
// engine would cite the ranked page.
func aiCitationLikelihood(q serp.GeneratedQuery, pr *PositionResult) float64 {
	if pr.Position == nil {
		return 0
	}
	score := aiCitationBase(pr.Position)
	score += aiQueryTypeModifier[q.Type]
	score += aiCompetitionModifier(pr.CompetitorsAbove())
	if pr.Features.FeaturedSnippetOwned || pr.Features.KnowledgePanelOwned {
		score += 0.10
	}
	return clamp(score, 0, 1)
}

func serpDevice(res *serp.SearchResults) serp.Device {
	if res.Metadata.Device == serp.DeviceMobile {
		return serp.DeviceMobile
	}
	return serp.DeviceDesktop
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
