package analyzer

import (
	"fmt"
	"sort"
)

// Sub-score weights for the overall AI visibility prediction.
const (
	weightPositionStrength     = 0.35
	weightFeatureStrength      = 0.25
	weightContentAuthority     = 0.25
	weightCompetitiveLandscape = 0.15
)

// ImprovementAction is a ranked step toward better AI answer visibility.
type ImprovementAction struct {
	Action        string  `json:"action"`
	Detail        string  `json:"detail"`
	PotentialGain float64 `json:"potentialGain"` // points of overall score
}

// AIVisibilityPrediction estimates how likely the target domain is to be
// cited by AI answer engines, based on the same SERP signals those
// engines draw from.
type AIVisibilityPrediction struct {
	OverallScore         float64             `json:"overallScore"` // 0-100
	PositionStrength     float64             `json:"positionStrength"`
	FeatureStrength      float64             `json:"featureStrength"`
	ContentAuthority     float64             `json:"contentAuthority"`
	CompetitiveLandscape float64             `json:"competitiveLandscape"`
	Strengths            []string            `json:"strengths"`
	Weaknesses           []string            `json:"weaknesses"`
	Actions              []ImprovementAction `json:"actions"`
}

func (a *Analyzer) predictAIVisibility(rankings []PositionResult, summary Summary, patterns *PatternAnalysis) *AIVisibilityPrediction {
	pred := &AIVisibilityPrediction{}
	total := float64(summary.TotalQueries)
	if total == 0 {
		return pred
	}

	// Position strength: density of top rankings, weighted toward top 3.
	top3 := float64(summary.Top3)
	top10 := float64(summary.Top10)
	top20 := float64(summary.Top20)
	pred.PositionStrength = clamp((top3*1.0+(top10-top3)*0.6+(top20-top10)*0.3)/total*100, 0, 100)

	// Feature strength: owned snippets and panels relative to what exists
	// to be owned.
	snippetsAvailable := float64(len(patterns.Features.FeaturedSnippetQueries))
	featureScore := 0.0
	if snippetsAvailable > 0 {
		featureScore += float64(summary.OwnedSnippets) / snippetsAvailable * 70
	}
	if summary.OwnedPanels > 0 {
		featureScore += 30
	}
	pred.FeatureStrength = clamp(featureScore, 0, 100)

	// Content authority: how deep the ranked positions run, whether deep
	// pages (not just the homepage) carry them, minus unclosed gaps.
	if summary.RankedQueries > 0 {
		avgPos := summary.AveragePosition
		authority := clamp((21-avgPos)/20*100, 0, 100)
		deepShare := 1 - float64(summary.HomepageRankings)/float64(summary.RankedQueries)
		authority = authority * (0.6 + 0.4*deepShare)
		gapPenalty := float64(len(patterns.ContentGaps)) / total * 30
		pred.ContentAuthority = clamp(authority-gapPenalty, 0, 100)
	}

	// Competitive landscape: start from parity and subtract for competitor
	// presence and for competitors sitting above us.
	var presentSum, aboveSum float64
	for i := range rankings {
		presentSum += float64(len(rankings[i].Competitors))
		aboveSum += float64(rankings[i].CompetitorsAbove())
	}
	avgPresent := presentSum / total
	avgAbove := aboveSum / total
	pred.CompetitiveLandscape = clamp(100-avgPresent*10-avgAbove*15, 0, 100)

	pred.OverallScore = clamp(
		pred.PositionStrength*weightPositionStrength+
			pred.FeatureStrength*weightFeatureStrength+
			pred.ContentAuthority*weightContentAuthority+
			pred.CompetitiveLandscape*weightCompetitiveLandscape, 0, 100)

	pred.Strengths, pred.Weaknesses = aiFindings(summary, patterns, avgAbove, total)
	pred.Actions = aiActions(pred, patterns)
	return pred
}

func aiFindings(summary Summary, patterns *PatternAnalysis, avgAbove, total float64) (strengths, weaknesses []string) {
	if float64(summary.Top3)/total > 0.25 {
		strengths = append(strengths, fmt.Sprintf("%d of %d queries rank in the top 3, the band AI answers cite most", summary.Top3, summary.TotalQueries))
	}
	if summary.OwnedSnippets > 0 {
		strengths = append(strengths, fmt.Sprintf("owns %d featured snippets, which AI engines lift near-verbatim", summary.OwnedSnippets))
	}
	if summary.OwnedPanels > 0 {
		strengths = append(strengths, "knowledge panel presence confirms entity recognition")
	}
	if summary.RankingRate > 0.7 {
		strengths = append(strengths, fmt.Sprintf("ranks for %.0f%% of tracked queries", summary.RankingRate*100))
	}

	if summary.RankingRate < 0.5 {
		weaknesses = append(weaknesses, fmt.Sprintf("unranked for %d of %d tracked queries", summary.TotalQueries-summary.RankedQueries, summary.TotalQueries))
	}
	if snippets := len(patterns.Features.FeaturedSnippetQueries); snippets > 0 && summary.OwnedSnippets == 0 {
		weaknesses = append(weaknesses, fmt.Sprintf("%d queries show a featured snippet and none are owned", snippets))
	}
	if avgAbove >= 2 {
		weaknesses = append(weaknesses, fmt.Sprintf("an average of %.1f competitors rank above the target per query", avgAbove))
	}
	if len(patterns.ContentGaps) > 0 {
		weaknesses = append(weaknesses, fmt.Sprintf("%d queries rank competitors only", len(patterns.ContentGaps)))
	}
	return strengths, weaknesses
}

func aiActions(pred *AIVisibilityPrediction, patterns *PatternAnalysis) []ImprovementAction {
	var actions []ImprovementAction

	if gap := 100 - pred.FeatureStrength; gap > 20 && len(patterns.Features.FeaturedSnippetQueries) > 0 {
		actions = append(actions, ImprovementAction{
			Action:        "win featured snippets",
			Detail:        fmt.Sprintf("%d snippet-bearing queries are contestable; structure answers to match the snippet format", len(patterns.Features.FeaturedSnippetQueries)),
			PotentialGain: gap * weightFeatureStrength,
		})
	}
	if gap := 100 - pred.PositionStrength; gap > 20 {
		actions = append(actions, ImprovementAction{
			Action:        "lift page-2 rankings onto page 1",
			Detail:        "AI engines rarely cite results below position 10; prioritize queries ranked 11-20",
			PotentialGain: gap * weightPositionStrength * 0.5,
		})
	}
	if gap := 100 - pred.ContentAuthority; gap > 20 && len(patterns.ContentGaps) > 0 {
		actions = append(actions, ImprovementAction{
			Action:        "close content gaps",
			Detail:        fmt.Sprintf("publish pages for the %d queries where only competitors rank", len(patterns.ContentGaps)),
			PotentialGain: gap * weightContentAuthority * 0.6,
		})
	}
	if gap := 100 - pred.CompetitiveLandscape; gap > 30 {
		actions = append(actions, ImprovementAction{
			Action:        "outrank entrenched competitors",
			Detail:        "competitors above the target dilute citation probability more than absolute position does",
			PotentialGain: gap * weightCompetitiveLandscape * 0.5,
		})
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].PotentialGain > actions[j].PotentialGain })
	return actions
}
