package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/FranksOps/serprank/internal/serp"
	"github.com/FranksOps/serprank/pkg/httpclient"
)

const defaultSerperEndpoint = "https://google.serper.dev/search"

// Serper is the google.serper.dev adapter: cheaper than SerpAPI with a
// slightly coarser feature surface.
type Serper struct {
	apiKey   string
	endpoint string
	client   *httpclient.Client
}

// NewSerper creates the adapter. endpoint may be empty for the default.
func NewSerper(apiKey, endpoint string, client *httpclient.Client) *Serper {
	if endpoint == "" {
		endpoint = defaultSerperEndpoint
	}
	return &Serper{apiKey: apiKey, endpoint: endpoint, client: client}
}

func (s *Serper) Name() string { return "serper" }

type serperResponse struct {
	SearchParameters struct {
		Q string `json:"q"`
	} `json:"searchParameters"`
	Organic []struct {
		Position int    `json:"position"`
		Link     string `json:"link"`
		Title    string `json:"title"`
		Snippet  string `json:"snippet"`
	} `json:"organic"`
	AnswerBox       json.RawMessage `json:"answerBox"`
	KnowledgeGraph  json.RawMessage `json:"knowledgeGraph"`
	PeopleAlsoAsk   json.RawMessage `json:"peopleAlsoAsk"`
	Places          json.RawMessage `json:"places"`
	Images          json.RawMessage `json:"images"`
	Videos          json.RawMessage `json:"videos"`
	Shopping        json.RawMessage `json:"shopping"`
	CreditsConsumed int             `json:"credits"`
}

// Execute runs a search through Serper's JSON POST API.
func (s *Serper) Execute(ctx context.Context, query string, opts serp.SearchOptions) (*serp.SearchResults, error) {
	payload := map[string]any{"q": query}
	if opts.Num > 0 {
		payload["num"] = opts.Num
	}
	if opts.Start > 0 {
		payload["page"] = opts.Start/max(opts.Num, 10) + 1
	}
	if opts.Location != "" {
		payload["location"] = opts.Location
	}
	if opts.Language != "" {
		payload["hl"] = opts.Language
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &serp.ProviderError{Provider: s.Name(), Err: err}
	}

	req, err := http.NewRequest(http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &serp.ProviderError{Provider: s.Name(), Err: err}
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, &serp.ProviderError{Provider: s.Name(), Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &serp.ProviderError{
			Provider:   s.Name(),
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &serp.ProviderError{Provider: s.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}

	results := make([]serp.SerpResult, 0, len(parsed.Organic))
	for i, org := range parsed.Organic {
		pos := org.Position
		if pos == 0 {
			pos = i + 1
		}
		results = append(results, serp.SerpResult{
			Position: pos,
			URL:      org.Link,
			Domain:   extractDomain(org.Link),
			Title:    org.Title,
			Snippet:  org.Snippet,
		})
	}

	features := serp.SerpFeatures{
		FeaturedSnippet: hasObject(parsed.AnswerBox),
		KnowledgePanel:  hasObject(parsed.KnowledgeGraph),
		LocalPack:       hasObject(parsed.Places),
		PeopleAlsoAsk:   hasObject(parsed.PeopleAlsoAsk),
		ImagePack:       hasObject(parsed.Images),
		VideoCarousel:   hasObject(parsed.Videos),
		ShoppingResults: hasObject(parsed.Shopping),
		OrganicCount:    len(parsed.Organic),
	}

	return &serp.SearchResults{
		Query:    query,
		Results:  results,
		Features: features,
		Latency:  time.Since(start),
		Provider: s.Name(),
		Metadata: serp.Metadata{Timestamp: time.Now(), Device: opts.Device},
	}, nil
}
