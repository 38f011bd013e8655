// Package report renders ranking analysis results for humans and for
// machine consumption.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"

	"github.com/FranksOps/serprank/internal/analyzer"
)

// WriteJSON writes the full analysis result to w as indented JSON.
func WriteJSON(w io.Writer, result *analyzer.RankingAnalysisResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const textTmpl = `Ranking Report: {{.Domain}}
{{rule .Domain}}
Analyzed:        {{.AnalyzedAt.Format "2006-01-02 15:04:05"}}
Queries:         {{.Summary.TotalQueries}} total, {{.Summary.RankedQueries}} ranked ({{pct .Summary.RankingRate}})
Avg Position:    {{f1 .Summary.AveragePosition}}
Top 3 / 10 / 20: {{.Summary.Top3}} / {{.Summary.Top10}} / {{.Summary.Top20}}
Visibility:      {{f1 .Summary.AverageVisibility}}/100
AI Visibility:   {{f1 .AIVisibility.OverallScore}}/100

Position Distribution:
  1-3:      {{.Patterns.Distribution.Top3}}
  4-10:     {{.Patterns.Distribution.Page1}}
  11-20:    {{.Patterns.Distribution.Page2}}
  21+:      {{.Patterns.Distribution.Beyond}}
  unranked: {{.Patterns.Distribution.Unranked}}

Content Gaps: {{len .Patterns.ContentGaps}}
{{- range .Patterns.ContentGaps}}
  [{{f0 .OpportunityScore}}] {{.Query}} ({{.QueryType}}, difficulty {{.EstimatedDifficulty}}/10)
{{- else}}
  None
{{- end}}

Low-Hanging Fruit: {{len .Opportunities.LowHangingFruit}}
{{- range .Opportunities.LowHangingFruit}}
  #{{.Position}} {{.Query}} ({{.Effort}} effort, ~{{f0 .EstimatedTraffic}} visits/mo)
{{- else}}
  None
{{- end}}

Snippet Targets: {{len .Opportunities.SnippetTargets}}
{{- range .Opportunities.SnippetTargets}}
  {{.Query}} (rank {{.Position}}, {{.Shape}} format{{if .CurrentOwner}}, held by {{.CurrentOwner}}{{end}})
{{- else}}
  None
{{- end}}

Competitors:
{{- range .CompetitorAnalysis.Competitors}}
  {{.Domain}}: ranks on {{.QueriesRanking}}, avg {{f1 .AveragePosition}}, {{.WinsAgainstUs}}W/{{.LossesAgainstUs}}L against us
{{- else}}
  None observed
{{- end}}

Top Recommendations:
{{- range topRecs .Opportunities.Recommendations}}
  [{{f0 .Impact}}] {{.Type}}: {{.Rationale}}
{{- else}}
  None
{{- end}}
`

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"f0":  func(v float64) string { return fmt.Sprintf("%.0f", v) },
	"f1":  func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	"rule": func(domain string) string {
		out := make([]byte, len("Ranking Report: ")+len(domain))
		for i := range out {
			out[i] = '-'
		}
		return string(out)
	},
	"topRecs": func(recs []analyzer.ContentRecommendation) []analyzer.ContentRecommendation {
		if len(recs) > 5 {
			return recs[:5]
		}
		return recs
	},
}).Parse(textTmpl))

// WriteText writes a human-readable summary of the analysis to w.
func WriteText(w io.Writer, result *analyzer.RankingAnalysisResult) error {
	if err := reportTemplate.Execute(w, result); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}
