package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/FranksOps/serprank/internal/serp"
)

// assumedMonthlyVolume is the per-query search volume used for traffic
// deltas when no volume data is wired in. The absolute number matters
// less than opportunities being comparable to each other.
const assumedMonthlyVolume = 1000

// LowHangingFruit is a query ranked on page 2 where a modest push moves
// it onto page 1.
type LowHangingFruit struct {
	Query            string         `json:"query"`
	QueryType        serp.QueryType `json:"queryType"`
	Position         int            `json:"position"`
	URL              string         `json:"url"`
	Effort           string         `json:"effort"` // low, medium, high
	EstimatedTraffic float64        `json:"estimatedTrafficGain"`
}

// SnippetShape is the content format a featured snippet block favors.
type SnippetShape string

const (
	SnippetShapeParagraph SnippetShape = "paragraph"
	SnippetShapeList      SnippetShape = "list"
	SnippetShapeTable     SnippetShape = "table"
)

// SnippetTarget is a query where the target ranks top-10 but does not own
// the featured snippet.
type SnippetTarget struct {
	Query           string       `json:"query"`
	Position        int          `json:"position"`
	CurrentOwner    string       `json:"currentOwner,omitempty"`
	Shape           SnippetShape `json:"shape"`
	Recommendation  string       `json:"recommendation"`
	EstimatedImpact float64      `json:"estimatedTrafficGain"`
}

// CompetitorGap is a content gap annotated with an action class.
type CompetitorGap struct {
	ContentGap
	Action string `json:"action"` // create-content, improve-content, build-authority
}

// ContentRecommendation is a prioritized action item.
type ContentRecommendation struct {
	Type      string   `json:"type"` // new-content, content-update, technical-seo, link-building
	Query     string   `json:"query"`
	Rationale string   `json:"rationale"`
	Impact    float64  `json:"impact"` // 0-100
	URLs      []string `json:"urls,omitempty"`
}

// OpportunityReport is the actionable section of an analysis result.
type OpportunityReport struct {
	LowHangingFruit []LowHangingFruit       `json:"lowHangingFruit"`
	SnippetTargets  []SnippetTarget         `json:"snippetTargets"`
	CompetitorGaps  []CompetitorGap         `json:"competitorGaps"`
	Recommendations []ContentRecommendation `json:"recommendations"`
}

func (a *Analyzer) identifyOpportunities(queries []serp.GeneratedQuery, rankings []PositionResult, patterns *PatternAnalysis) *OpportunityReport {
	rep := &OpportunityReport{}

	for i := range rankings {
		r := &rankings[i]

		if r.Position != nil && *r.Position >= 11 && *r.Position <= 20 {
			pos := *r.Position
			// Traffic gain from reaching position 10 on the same device.
			current := EstimateCTR(pos, serp.DeviceDesktop, false, false, r.Features.AdsCount > 0)
			target := EstimateCTR(10, serp.DeviceDesktop, false, false, r.Features.AdsCount > 0)
			rep.LowHangingFruit = append(rep.LowHangingFruit, LowHangingFruit{
				Query:            r.Query,
				QueryType:        r.QueryType,
				Position:         pos,
				URL:              r.URL,
				Effort:           pushEffort(pos),
				EstimatedTraffic: (target - current) * assumedMonthlyVolume,
			})
		}

		if r.Position != nil && *r.Position <= 10 && r.Features.FeaturedSnippet && !r.Features.FeaturedSnippetOwned {
			shape := snippetShape(r.Query)
			owner := ""
			if len(r.Competitors) > 0 && r.Competitors[0].Position == 1 {
				owner = r.Competitors[0].Domain
			}
			snippetCTR := EstimateCTR(1, serp.DeviceDesktop, true, false, false)
			currentCTR := EstimateCTR(*r.Position, serp.DeviceDesktop, false, true, false)
			rep.SnippetTargets = append(rep.SnippetTargets, SnippetTarget{
				Query:           r.Query,
				Position:        *r.Position,
				CurrentOwner:    owner,
				Shape:           shape,
				Recommendation:  snippetRecommendation(shape),
				EstimatedImpact: (snippetCTR - currentCTR) * assumedMonthlyVolume,
			})
		}

		// Multiple ranking URLs for one query split signals between pages.
		if len(r.MultipleURLs) > 1 {
			urls := make([]string, 0, len(r.MultipleURLs))
			for _, u := range r.MultipleURLs {
				urls = append(urls, u.URL)
			}
			rep.Recommendations = append(rep.Recommendations, ContentRecommendation{
				Type:      "technical-seo",
				Query:     r.Query,
				Rationale: fmt.Sprintf("%d pages compete for this query; consolidate or differentiate them", len(r.MultipleURLs)),
				Impact:    40,
				URLs:      urls,
			})
		}

		if r.Position != nil && *r.Position > 3 && r.CompetitorsAbove() >= 3 && r.Features.Count() >= 4 {
			rep.Recommendations = append(rep.Recommendations, ContentRecommendation{
				Type:      "link-building",
				Query:     r.Query,
				Rationale: fmt.Sprintf("%d competitors rank above position %d on a crowded SERP; authority is the gap", r.CompetitorsAbove(), *r.Position),
				Impact:    35,
			})
		}
	}

	for _, gap := range patterns.ContentGaps {
		cg := CompetitorGap{ContentGap: gap}
		switch {
		case gap.EstimatedDifficulty <= 3:
			cg.Action = "create-content"
		case gap.EstimatedDifficulty <= 6:
			cg.Action = "improve-content"
		default:
			cg.Action = "build-authority"
		}
		rep.CompetitorGaps = append(rep.CompetitorGaps, cg)

		if cg.Action == "create-content" {
			rep.Recommendations = append(rep.Recommendations, ContentRecommendation{
				Type:      "new-content",
				Query:     gap.Query,
				Rationale: fmt.Sprintf("competitor ranks at position %d and we have no page for this query", gap.BestCompetitorPosition),
				Impact:    gap.OpportunityScore,
			})
		}
	}

	for _, fruit := range rep.LowHangingFruit {
		if fruit.Effort == "low" {
			rep.Recommendations = append(rep.Recommendations, ContentRecommendation{
				Type:      "content-update",
				Query:     fruit.Query,
				Rationale: fmt.Sprintf("position %d is within reach of page 1 with an on-page refresh", fruit.Position),
				Impact:    50,
				URLs:      []string{fruit.URL},
			})
		}
	}

	sort.Slice(rep.LowHangingFruit, func(i, j int) bool {
		return rep.LowHangingFruit[i].EstimatedTraffic > rep.LowHangingFruit[j].EstimatedTraffic
	})
	sort.Slice(rep.SnippetTargets, func(i, j int) bool {
		return rep.SnippetTargets[i].EstimatedImpact > rep.SnippetTargets[j].EstimatedImpact
	})
	sort.Slice(rep.Recommendations, func(i, j int) bool {
		return rep.Recommendations[i].Impact > rep.Recommendations[j].Impact
	})
	return rep
}

// pushEffort grades how hard it is to move a page-2 position onto page 1.
func pushEffort(position int) string {
	switch {
	case position <= 13:
		return "low"
	case position <= 17:
		return "medium"
	default:
		return "high"
	}
}

// snippetShape infers the content format Google favors from how the query
// is worded.
func snippetShape(query string) SnippetShape {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, " vs ") || strings.Contains(q, " vs. ") || strings.Contains(q, "compare"):
		return SnippetShapeTable
	case strings.HasPrefix(q, "best ") || strings.HasPrefix(q, "top ") ||
		strings.Contains(q, " ways ") || strings.HasSuffix(q, " ways") ||
		strings.Contains(q, " tips") || strings.Contains(q, " list"):
		return SnippetShapeList
	case strings.HasPrefix(q, "how ") || strings.HasPrefix(q, "why ") || strings.HasPrefix(q, "what "):
		return SnippetShapeParagraph
	default:
		return SnippetShapeParagraph
	}
}

func snippetRecommendation(shape SnippetShape) string {
	switch shape {
	case SnippetShapeList:
		return "restructure the answer as a numbered or bulleted list directly under a matching heading"
	case SnippetShapeTable:
		return "add a comparison table with the entities as rows and decision criteria as columns"
	default:
		return "open with a 40-60 word direct answer under a heading that mirrors the query"
	}
}
