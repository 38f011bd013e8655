package analyzer

import "sort"

// CompetitorSummary aggregates one competitor's presence across the
// analyzed query set.
type CompetitorSummary struct {
	Domain          string  `json:"domain"`
	QueriesRanking  int     `json:"queriesRanking"`
	AveragePosition float64 `json:"averagePosition"`
	Top3            int     `json:"top3"`
	WinsAgainstUs   int     `json:"winsAgainstUs"`   // competitor above us, or we are unranked
	LossesAgainstUs int     `json:"lossesAgainstUs"` // we rank above the competitor
	FeatureWins     int     `json:"featureWins"`     // snippet queries where they hold position 1 and we don't
}

// OverlapAnalysis describes where the target and competitors contest the
// same queries.
type OverlapAnalysis struct {
	CoRanking        int `json:"coRanking"`        // both sides ranked
	TargetExclusive  int `json:"targetExclusive"`  // only we rank
	CompetitorOnly   int `json:"competitorOnly"`   // only a competitor ranks
	HeadToHeadWins   int `json:"headToHeadWins"`   // co-ranked, we are above all of them
	HeadToHeadLosses int `json:"headToHeadLosses"` // co-ranked, at least one above us
}

// CompetitorAnalysis is the competitive section of an analysis result.
type CompetitorAnalysis struct {
	Competitors []CompetitorSummary `json:"competitors"`
	Dominance   map[string][]string `json:"dominance"`  // domain -> queries where they outrank us
	Weaknesses  map[string][]string `json:"weaknesses"` // domain -> queries where we outrank them
	Overlap     OverlapAnalysis     `json:"overlap"`
}

func (a *Analyzer) analyzeCompetitors(rankings []PositionResult) *CompetitorAnalysis {
	ca := &CompetitorAnalysis{
		Dominance:  make(map[string][]string),
		Weaknesses: make(map[string][]string),
	}

	type tally struct {
		summary CompetitorSummary
		posSum  float64
	}
	tallies := make(map[string]*tally)

	for i := range rankings {
		r := &rankings[i]

		anyAbove := false
		for _, c := range r.Competitors {
			t := tallies[c.Domain]
			if t == nil {
				t = &tally{summary: CompetitorSummary{Domain: c.Domain}}
				tallies[c.Domain] = t
			}
			t.summary.QueriesRanking++
			t.posSum += float64(c.Position)
			if c.Position <= 3 {
				t.summary.Top3++
			}

			if r.Position == nil || c.Position < *r.Position {
				t.summary.WinsAgainstUs++
				ca.Dominance[c.Domain] = append(ca.Dominance[c.Domain], r.Query)
				anyAbove = true
			} else {
				t.summary.LossesAgainstUs++
				ca.Weaknesses[c.Domain] = append(ca.Weaknesses[c.Domain], r.Query)
			}

			if r.Features.FeaturedSnippet && !r.Features.FeaturedSnippetOwned && c.Position == 1 {
				t.summary.FeatureWins++
			}
		}

		switch {
		case r.Position != nil && len(r.Competitors) > 0:
			ca.Overlap.CoRanking++
			if anyAbove {
				ca.Overlap.HeadToHeadLosses++
			} else {
				ca.Overlap.HeadToHeadWins++
			}
		case r.Position != nil:
			ca.Overlap.TargetExclusive++
		case len(r.Competitors) > 0:
			ca.Overlap.CompetitorOnly++
		}
	}

	for _, t := range tallies {
		if t.summary.QueriesRanking > 0 {
			t.summary.AveragePosition = t.posSum / float64(t.summary.QueriesRanking)
		}
		ca.Competitors = append(ca.Competitors, t.summary)
	}
	sort.Slice(ca.Competitors, func(i, j int) bool {
		if ca.Competitors[i].WinsAgainstUs != ca.Competitors[j].WinsAgainstUs {
			return ca.Competitors[i].WinsAgainstUs > ca.Competitors[j].WinsAgainstUs
		}
		return ca.Competitors[i].Domain < ca.Competitors[j].Domain
	})
	return ca
}
