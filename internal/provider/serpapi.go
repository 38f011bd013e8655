package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/FranksOps/serprank/internal/serp"
	"github.com/FranksOps/serprank/pkg/httpclient"
)

const defaultSerpAPIEndpoint = "https://serpapi.com/search"

// SerpAPI is the serpapi.com adapter. It exposes the richest SERP feature
// detail of the supported providers.
type SerpAPI struct {
	apiKey   string
	endpoint string
	client   *httpclient.Client
}

// NewSerpAPI creates the adapter. endpoint may be empty for the default.
func NewSerpAPI(apiKey, endpoint string, client *httpclient.Client) *SerpAPI {
	if endpoint == "" {
		endpoint = defaultSerpAPIEndpoint
	}
	return &SerpAPI{apiKey: apiKey, endpoint: endpoint, client: client}
}

func (s *SerpAPI) Name() string { return "serpapi" }

// serpAPIResponse covers the subset of the response we consume.
type serpAPIResponse struct {
	SearchInformation struct {
		TotalResults int64 `json:"total_results"`
	} `json:"search_information"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Link     string `json:"link"`
		Title    string `json:"title"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
	Ads []struct {
		Position int    `json:"position"`
		Link     string `json:"link"`
		Title    string `json:"title"`
	} `json:"ads"`
	AnswerBox        json.RawMessage `json:"answer_box"`
	KnowledgeGraph   json.RawMessage `json:"knowledge_graph"`
	LocalResults     json.RawMessage `json:"local_results"`
	RelatedQuestions json.RawMessage `json:"related_questions"`
	InlineImages     json.RawMessage `json:"inline_images"`
	InlineVideos     json.RawMessage `json:"inline_videos"`
	ShoppingResults  json.RawMessage `json:"shopping_results"`
	Error            string          `json:"error"`
}

// Execute runs a Google search through SerpAPI and normalizes the response.
func (s *SerpAPI) Execute(ctx context.Context, query string, opts serp.SearchOptions) (*serp.SearchResults, error) {
	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", s.apiKey)
	if opts.Num > 0 {
		params.Set("num", strconv.Itoa(opts.Num))
	}
	if opts.Start > 0 {
		params.Set("start", strconv.Itoa(opts.Start))
	}
	if opts.Location != "" {
		params.Set("location", opts.Location)
	}
	if opts.Language != "" {
		params.Set("hl", opts.Language)
	}
	if opts.Device != "" {
		params.Set("device", string(opts.Device))
	}

	req, err := http.NewRequest(http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &serp.ProviderError{Provider: s.Name(), Err: err}
	}

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

	var body serpAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &serp.ProviderError{Provider: s.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if body.Error != "" {
		return nil, &serp.ProviderError{Provider: s.Name(), Err: fmt.Errorf("api error: %s", body.Error)}
	}

	results := make([]serp.SerpResult, 0, len(body.OrganicResults)+len(body.Ads))
	for _, ad := range body.Ads {
		results = append(results, serp.SerpResult{
			Position: ad.Position,
			URL:      ad.Link,
			Domain:   extractDomain(ad.Link),
			Title:    ad.Title,
			IsAd:     true,
		})
	}
	for _, org := range body.OrganicResults {
		results = append(results, serp.SerpResult{
			Position: org.Position,
			URL:      org.Link,
			Domain:   extractDomain(org.Link),
			Title:    org.Title,
			Snippet:  org.Snippet,
		})
	}

	features := serp.SerpFeatures{
		FeaturedSnippet: hasObject(body.AnswerBox),
		KnowledgePanel:  hasObject(body.KnowledgeGraph),
		LocalPack:       hasObject(body.LocalResults),
		PeopleAlsoAsk:   hasObject(body.RelatedQuestions),
		ImagePack:       hasObject(body.InlineImages),
		VideoCarousel:   hasObject(body.InlineVideos),
		ShoppingResults: hasObject(body.ShoppingResults),
		AdsCount:        len(body.Ads),
		OrganicCount:    len(body.OrganicResults),
	}

	return &serp.SearchResults{
		Query:        query,
		Results:      results,
		Features:     features,
		TotalResults: body.SearchInformation.TotalResults,
		Latency:      time.Since(start),
		Provider:     s.Name(),
		Metadata:     serp.Metadata{Timestamp: time.Now(), Device: opts.Device},
	}, nil
}

// hasObject reports whether a raw JSON field was present and non-empty.
func hasObject(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null" && string(raw) != "[]" && string(raw) != "{}"
}
