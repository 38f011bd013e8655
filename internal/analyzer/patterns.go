package analyzer

import (
	"math"
	"sort"

	"github.com/FranksOps/serprank/internal/serp"
)

// QueryTypePattern aggregates rankings for one query type.
type QueryTypePattern struct {
	Type                serp.QueryType        `json:"type"`
	Total               int                   `json:"total"`
	Ranked              int                   `json:"ranked"`
	RankingRate         float64               `json:"rankingRate"`
	AveragePosition     float64               `json:"averagePosition"`
	Top3                int                   `json:"top3"`
	DominantCompetitors []CompetitorFrequency `json:"dominantCompetitors"`
}

// CompetitorFrequency counts how often a competitor outranks us within a
// query-type bucket.
type CompetitorFrequency struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// PositionDistribution buckets rankings by page depth.
type PositionDistribution struct {
	Top3     int `json:"top3"`     // 1-3
	Page1    int `json:"page1"`    // 4-10
	Page2    int `json:"page2"`    // 11-20
	Beyond   int `json:"beyond"`   // 21+
	Unranked int `json:"unranked"`
}

// FeatureCorrelation lists queries by SERP-feature density.
type FeatureCorrelation struct {
	FeaturedSnippetQueries []string `json:"featuredSnippetQueries"`
	HighCompetitionQueries []string `json:"highCompetitionQueries"` // >= 5 features
	CleanSerpQueries       []string `json:"cleanSerpQueries"`       // <= 2 features
}

// ContentGap is a query where a competitor ranks and we do not.
type ContentGap struct {
	Query                  string               `json:"query"`
	QueryType              serp.QueryType       `json:"queryType"`
	Competitors            []CompetitorPosition `json:"competitors"`
	BestCompetitorPosition int                  `json:"bestCompetitorPosition"`
	OpportunityScore       float64              `json:"opportunityScore"`    // 0-100
	EstimatedDifficulty    int                  `json:"estimatedDifficulty"` // 1-10
}

// PatternAnalysis is the pattern & gap section of an analysis result.
type PatternAnalysis struct {
	ByQueryType  []QueryTypePattern   `json:"byQueryType"`
	Distribution PositionDistribution `json:"distribution"`
	Features     FeatureCorrelation   `json:"features"`
	ContentGaps  []ContentGap         `json:"contentGaps"`
}

// Query-type bonus applied to gap opportunity scores; losing a brand
// query to a competitor is the most urgent gap there is.
var gapTypeBonus = map[serp.QueryType]float64{
	serp.QueryTypeBrand:         25,
	serp.QueryTypeComparison:    15,
	serp.QueryTypeInformational: 12,
	serp.QueryTypeProduct:       10,
	serp.QueryTypeService:       8,
	serp.QueryTypeTransactional: 6,
	serp.QueryTypeLongTail:      5,
	serp.QueryTypeLocal:         4,
}

func (a *Analyzer) analyzePatterns(queries []serp.GeneratedQuery, rankings []PositionResult) *PatternAnalysis {
	pa := &PatternAnalysis{}

	byText := make(map[string]*serp.GeneratedQuery, len(queries))
	for i := range queries {
		byText[queries[i].Text] = &queries[i]
	}

	type bucket struct {
		pattern  QueryTypePattern
		posSum   float64
		outranks map[string]int
	}
	buckets := make(map[serp.QueryType]*bucket)

	for i := range rankings {
		r := &rankings[i]

		b := buckets[r.QueryType]
		if b == nil {
			b = &bucket{pattern: QueryTypePattern{Type: r.QueryType}, outranks: make(map[string]int)}
			buckets[r.QueryType] = b
		}
		b.pattern.Total++
		if r.Position != nil {
			b.pattern.Ranked++
			b.posSum += float64(*r.Position)
			if *r.Position <= 3 {
				b.pattern.Top3++
			}
		}
		for _, c := range r.Competitors {
			if r.Position == nil || c.Position < *r.Position {
				b.outranks[c.Domain]++
			}
		}

		// position distribution
		switch {
		case r.Position == nil:
			pa.Distribution.Unranked++
		case *r.Position <= 3:
			pa.Distribution.Top3++
		case *r.Position <= 10:
			pa.Distribution.Page1++
		case *r.Position <= 20:
			pa.Distribution.Page2++
		default:
			pa.Distribution.Beyond++
		}

		// feature correlation
		featureCount := r.Features.Count()
		if r.Features.FeaturedSnippet {
			pa.Features.FeaturedSnippetQueries = append(pa.Features.FeaturedSnippetQueries, r.Query)
		}
		if featureCount >= 5 {
			pa.Features.HighCompetitionQueries = append(pa.Features.HighCompetitionQueries, r.Query)
		} else if featureCount <= 2 {
			pa.Features.CleanSerpQueries = append(pa.Features.CleanSerpQueries, r.Query)
		}

		// content gaps: we don't rank, at least one competitor does
		if r.Position == nil && len(r.Competitors) > 0 {
			gap := ContentGap{
				Query:                  r.Query,
				QueryType:              r.QueryType,
				Competitors:            r.Competitors,
				BestCompetitorPosition: r.Competitors[0].Position,
				EstimatedDifficulty:    estimateDifficulty(len(r.Competitors), featureCount),
			}
			if q := byText[r.Query]; q != nil {
				gap.OpportunityScore = opportunityScore(*q, len(r.Competitors))
			}
			pa.ContentGaps = append(pa.ContentGaps, gap)
		}
	}

	for _, b := range buckets {
		if b.pattern.Ranked > 0 {
			b.pattern.AveragePosition = b.posSum / float64(b.pattern.Ranked)
		}
		if b.pattern.Total > 0 {
			b.pattern.RankingRate = float64(b.pattern.Ranked) / float64(b.pattern.Total)
		}
		for domain, count := range b.outranks {
			b.pattern.DominantCompetitors = append(b.pattern.DominantCompetitors, CompetitorFrequency{Domain: domain, Count: count})
		}
		sort.Slice(b.pattern.DominantCompetitors, func(i, j int) bool {
			return b.pattern.DominantCompetitors[i].Count > b.pattern.DominantCompetitors[j].Count
		})
		pa.ByQueryType = append(pa.ByQueryType, b.pattern)
	}
	sort.Slice(pa.ByQueryType, func(i, j int) bool {
		return pa.ByQueryType[i].Total > pa.ByQueryType[j].Total
	})

	sort.Slice(pa.ContentGaps, func(i, j int) bool {
		return pa.ContentGaps[i].OpportunityScore > pa.ContentGaps[j].OpportunityScore
	})
	return pa
}

// opportunityScore ranks how much a gap is worth closing: query priority
// weight, AI relevance, how many competitors prove the query is winnable,
// and a query-type bonus with brand queries highest.
func opportunityScore(q serp.GeneratedQuery, competitorCount int) float64 {
	priorityWeight := clamp(30-float64(q.Priority)*3, 0, 30)
	aiContribution := clamp(q.AIRelevance, 0, 1) * 20
	competitorBonus := math.Min(15, float64(competitorCount)*5)
	return clamp(priorityWeight+aiContribution+competitorBonus+gapTypeBonus[q.Type], 0, 100)
}

// estimateDifficulty multiplies a competitor-density tier by a
// SERP-complexity tier onto a 1-10 scale.
func estimateDifficulty(competitorCount, featureCount int) int {
	density := 1
	switch {
	case competitorCount >= 4:
		density = 3
	case competitorCount >= 2:
		density = 2
	}

	complexity := 1
	switch {
	case featureCount >= 5:
		complexity = 3
	case featureCount >= 3:
		complexity = 2
	}

	d := density * complexity
	if d > 10 {
		d = 10
	}
	if d < 1 {
		d = 1
	}
	return d
}
