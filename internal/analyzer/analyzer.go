// Package analyzer turns raw SERP data into ranking intelligence: exact
// positions, SERP-feature ownership, competitor standing, visibility and
// AI-citation scoring, gap and opportunity detection, and historical
// snapshot diffing.
package analyzer

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/serprank/internal/serp"
)

// Config for an Analyzer.
type Config struct {
	// TargetDomain is the domain whose visibility is being measured.
	TargetDomain string
	// Competitors are domains to track against the target.
	Competitors []string
	// IncludeSubdomains matches blog.example.com against example.com.
	IncludeSubdomains bool
	// TrackSerpFeatures enables feature extraction and ownership checks.
	TrackSerpFeatures bool
}

// Analyzer computes ranking analyses and keeps a bounded snapshot history
// for diffing. Safe for concurrent use.
type Analyzer struct {
	cfg    Config
	target string // normalized target domain
	comps  []string
	logger *slog.Logger

	mu        sync.Mutex
	snapshots []*Snapshot
}

// New creates an Analyzer.
func New(cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	comps := make([]string, 0, len(cfg.Competitors))
	for _, c := range cfg.Competitors {
		comps = append(comps, normalizeDomain(c))
	}
	return &Analyzer{
		cfg:    cfg,
		target: normalizeDomain(cfg.TargetDomain),
		comps:  comps,
		logger: logger,
	}
}

// RankedURL is one target-domain URL found on a SERP.
type RankedURL struct {
	Position int    `json:"position"`
	URL      string `json:"url"`
}

// CompetitorPosition is the best-ranked occurrence of a competitor domain
// for one query.
type CompetitorPosition struct {
	Domain   string `json:"domain"`
	Position int    `json:"position"`
	URL      string `json:"url"`
}

// FeaturePresence pairs the feature flags with ownership of the blocks
// that can be owned.
type FeaturePresence struct {
	serp.SerpFeatures
	FeaturedSnippetOwned bool `json:"featuredSnippetOwned"`
	KnowledgePanelOwned  bool `json:"knowledgePanelOwned"`
}

// PositionResult is the ranking record for one query in one analysis run.
// A nil Position means the target does not rank; URL is then empty.
type PositionResult struct {
	Query        string               `json:"query"`
	QueryType    serp.QueryType       `json:"queryType"`
	Position     *int                 `json:"position"`
	URL          string               `json:"url,omitempty"`
	IsHomepage   bool                 `json:"isHomepage"`
	MultipleURLs []RankedURL          `json:"multipleUrls,omitempty"`
	Features     FeaturePresence      `json:"features"`
	Competitors  []CompetitorPosition `json:"competitors"`
	Visibility   VisibilityScore      `json:"visibility"`
	Timestamp    time.Time            `json:"timestamp"`
}

// CompetitorsAbove counts competitors ranked better than the target.
// Unranked target means every present competitor is above.
func (p *PositionResult) CompetitorsAbove() int {
	n := 0
	for _, c := range p.Competitors {
		if p.Position == nil || c.Position < *p.Position {
			n++
		}
	}
	return n
}

// Summary aggregates one analysis run.
type Summary struct {
	TotalQueries      int     `json:"totalQueries"`
	RankedQueries     int     `json:"rankedQueries"`
	RankingRate       float64 `json:"rankingRate"`
	AveragePosition   float64 `json:"averagePosition"`
	Top3              int     `json:"top3"`
	Top10             int     `json:"top10"`
	Top20             int     `json:"top20"`
	HomepageRankings  int     `json:"homepageRankings"`
	OwnedSnippets     int     `json:"ownedSnippets"`
	OwnedPanels       int     `json:"ownedPanels"`
	AverageVisibility float64 `json:"averageVisibility"`
}

// RankingAnalysisResult is the full output of AnalyzeRankings.
type RankingAnalysisResult struct {
	Domain             string                  `json:"domain"`
	AnalyzedAt         time.Time               `json:"analyzedAt"`
	Rankings           []PositionResult        `json:"rankings"`
	Summary            Summary                 `json:"summary"`
	Patterns           *PatternAnalysis        `json:"patterns"`
	Opportunities      *OpportunityReport      `json:"opportunities"`
	CompetitorAnalysis *CompetitorAnalysis     `json:"competitorAnalysis"`
	AIVisibility       *AIVisibilityPrediction `json:"aiVisibilityPrediction"`
}

// AnalyzeRankings analyzes every query that has a corresponding SERP in
// resultsByQuery. Queries without results are counted as unanalyzed, not
// unranked.
func (a *Analyzer) AnalyzeRankings(queries []serp.GeneratedQuery, resultsByQuery map[string]*serp.SearchResults) *RankingAnalysisResult {
	now := time.Now()
	rankings := make([]PositionResult, 0, len(queries))
	analyzed := make([]serp.GeneratedQuery, 0, len(queries))

	for _, q := range queries {
		res, ok := resultsByQuery[q.Text]
		if !ok || res == nil {
			a.logger.Debug("no SERP data for query", "query", q.Text)
			continue
		}
		rankings = append(rankings, a.analyzeQuery(q, res, now))
		analyzed = append(analyzed, q)
	}

	out := &RankingAnalysisResult{
		Domain:     a.cfg.TargetDomain,
		AnalyzedAt: now,
		Rankings:   rankings,
		Summary:    a.summarize(rankings),
	}
	out.Patterns = a.analyzePatterns(analyzed, rankings)
	out.Opportunities = a.identifyOpportunities(analyzed, rankings, out.Patterns)
	out.CompetitorAnalysis = a.analyzeCompetitors(rankings)
	out.AIVisibility = a.predictAIVisibility(rankings, out.Summary, out.Patterns)
	return out
}

// analyzeQuery produces the PositionResult for a single query.
func (a *Analyzer) analyzeQuery(q serp.GeneratedQuery, res *serp.SearchResults, now time.Time) PositionResult {
	pr := PositionResult{
		Query:     q.Text,
		QueryType: q.Type,
		Timestamp: now,
	}

	organic := res.Organic()

	// All target-domain URLs, ascending by position. More than one ranked
	// URL for a query is the cannibalization signal.
	for _, r := range organic {
		if a.matchesTarget(r.Domain) {
			pr.MultipleURLs = append(pr.MultipleURLs, RankedURL{Position: r.Position, URL: r.URL})
		}
	}
	sort.Slice(pr.MultipleURLs, func(i, j int) bool {
		return pr.MultipleURLs[i].Position < pr.MultipleURLs[j].Position
	})
	if len(pr.MultipleURLs) > 0 {
		best := pr.MultipleURLs[0]
		pr.Position = &best.Position
		pr.URL = best.URL
		pr.IsHomepage = isHomepage(best.URL)
	}

	if a.cfg.TrackSerpFeatures {
		pr.Features = a.extractFeatures(res, organic)
	}
	pr.Competitors = a.extractCompetitors(organic)
	pr.Visibility = a.scoreVisibility(q, &pr, res)
	return pr
}

// extractFeatures copies the provider's feature flags and decides
// ownership: a block counts as ours only when the top organic result's
// domain matches the target.
func (a *Analyzer) extractFeatures(res *serp.SearchResults, organic []serp.SerpResult) FeaturePresence {
	fp := FeaturePresence{SerpFeatures: res.Features}

	topIsOurs := len(organic) > 0 && a.matchesTarget(organic[0].Domain)
	if fp.FeaturedSnippet {
		fp.FeaturedSnippetOwned = topIsOurs
	}
	if fp.KnowledgePanel {
		fp.KnowledgePanelOwned = topIsOurs
	}
	return fp
}

// extractCompetitors keeps the first (lowest-position) occurrence per
// competitor domain, sorted ascending by position.
func (a *Analyzer) extractCompetitors(organic []serp.SerpResult) []CompetitorPosition {
	seen := make(map[string]bool)
	var out []CompetitorPosition

	for _, r := range organic {
		comp := a.matchCompetitor(r.Domain)
		if comp == "" || seen[comp] {
			continue
		}
		seen[comp] = true
		out = append(out, CompetitorPosition{Domain: comp, Position: r.Position, URL: r.URL})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (a *Analyzer) summarize(rankings []PositionResult) Summary {
	s := Summary{TotalQueries: len(rankings)}
	var posSum, visSum float64

	for i := range rankings {
		r := &rankings[i]
		visSum += r.Visibility.Score
		if r.Features.FeaturedSnippetOwned {
			s.OwnedSnippets++
		}
		if r.Features.KnowledgePanelOwned {
			s.OwnedPanels++
		}
		if r.Position == nil {
			continue
		}
		s.RankedQueries++
		pos := *r.Position
		posSum += float64(pos)
		if pos <= 3 {
			s.Top3++
		}
		if pos <= 10 {
			s.Top10++
		}
		if pos <= 20 {
			s.Top20++
		}
		if r.IsHomepage {
			s.HomepageRankings++
		}
	}

	if s.RankedQueries > 0 {
		s.AveragePosition = posSum / float64(s.RankedQueries)
	}
	if s.TotalQueries > 0 {
		s.RankingRate = float64(s.RankedQueries) / float64(s.TotalQueries)
		s.AverageVisibility = visSum / float64(s.TotalQueries)
	}
	return s
}

// matchesTarget reports whether a normalized result domain is the target,
// honoring subdomain matching when enabled. Matching is a dot-suffix
// check, never a substring one: example.co must not match example.com.
func (a *Analyzer) matchesTarget(domain string) bool {
	d := normalizeDomain(domain)
	if d == "" || a.target == "" {
		return false
	}
	if d == a.target {
		return true
	}
	if a.cfg.IncludeSubdomains {
		return strings.HasSuffix(d, "."+a.target) || strings.HasSuffix(a.target, "."+d)
	}
	return false
}

// matchCompetitor returns the configured competitor a result domain
// belongs to, or "". Competitor matching is substring-tolerant so entries
// like "competitor" match "shop.competitor.io".
func (a *Analyzer) matchCompetitor(domain string) string {
	d := normalizeDomain(domain)
	if d == "" {
		return ""
	}
	for _, c := range a.comps {
		if d == c || strings.HasSuffix(d, "."+c) || strings.Contains(d, c) {
			return c
		}
	}
	return ""
}

// normalizeDomain strips scheme and www and lowercases.
func normalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil && u.Host != "" {
			d = u.Hostname()
		}
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, "/")
}

// isHomepage reports whether a URL points at the site root.
func isHomepage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch u.Path {
	case "", "/", "/index.html", "/index.php":
		return true
	}
	return false
}
