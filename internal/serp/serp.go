package serp

import (
	"context"
	"time"
)

// Device selects which device profile a search should emulate.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
)

// QueryType classifies the intent bucket a generated query belongs to.
// The ranking analyzer keys several scoring tables off this value.
type QueryType string

const (
	QueryTypeBrand         QueryType = "brand"
	QueryTypeProduct       QueryType = "product"
	QueryTypeService       QueryType = "service"
	QueryTypeInformational QueryType = "informational"
	QueryTypeComparison    QueryType = "comparison"
	QueryTypeLocal         QueryType = "local"
	QueryTypeTransactional QueryType = "transactional"
	QueryTypeLongTail      QueryType = "long_tail"
)

// GeneratedQuery is one entry from the upstream query generator.
type GeneratedQuery struct {
	Text               string    `json:"text"`
	Type               QueryType `json:"type"`
	Intent             string    `json:"intent"`
	Priority           int       `json:"priority"`
	ExpectedDifficulty int       `json:"expectedDifficulty"`
	AIRelevance        float64   `json:"aiRelevance"`
}

// SearchOptions parameterize a single SERP fetch. Location, Language,
// Device, Num and Start participate in the cache key; Provider forces a
// specific adapter and BypassCache skips the cache lookup entirely.
type SearchOptions struct {
	Location    string `json:"location,omitempty"`
	Language    string `json:"language,omitempty"`
	Device      Device `json:"device,omitempty"`
	Num         int    `json:"num,omitempty"`
	Start       int    `json:"start,omitempty"`
	Provider    string `json:"provider,omitempty"`
	BypassCache bool   `json:"bypassCache,omitempty"`
	// Priority orders rate-limiter admission; lower values are served
	// first. It does not affect the cache key.
	Priority int `json:"priority,omitempty"`
}

// SerpResult is a single ranked entry on the results page.
type SerpResult struct {
	Position int    `json:"position"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	IsAd     bool   `json:"isAd"`
}

// SerpFeatures records which feature blocks the page carried.
type SerpFeatures struct {
	FeaturedSnippet bool `json:"featuredSnippet"`
	KnowledgePanel  bool `json:"knowledgePanel"`
	LocalPack       bool `json:"localPack"`
	PeopleAlsoAsk   bool `json:"peopleAlsoAsk"`
	ImagePack       bool `json:"imagePack"`
	VideoCarousel   bool `json:"videoCarousel"`
	ShoppingResults bool `json:"shoppingResults"`
	AdsCount        int  `json:"adsCount"`
	OrganicCount    int  `json:"organicCount"`
}

// Count returns how many feature blocks are present, ads counted once.
func (f SerpFeatures) Count() int {
	n := 0
	for _, present := range []bool{
		f.FeaturedSnippet, f.KnowledgePanel, f.LocalPack, f.PeopleAlsoAsk,
		f.ImagePack, f.VideoCarousel, f.ShoppingResults, f.AdsCount > 0,
	} {
		if present {
			n++
		}
	}
	return n
}

// Metadata carries provenance for a SearchResults value.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	CacheKey  string    `json:"cacheKey,omitempty"`
	Device    Device    `json:"device,omitempty"`
}

// SearchResults is the canonical parsed SERP for one query. Values are
// immutable once produced; the cache stores them by value.
type SearchResults struct {
	Query        string        `json:"query"`
	Results      []SerpResult  `json:"results"`
	Features     SerpFeatures  `json:"features"`
	TotalResults int64         `json:"totalResults"`
	Latency      time.Duration `json:"latency"`
	Cached       bool          `json:"cached"`
	Provider     string        `json:"provider"`
	Cost         float64       `json:"cost"`
	Metadata     Metadata      `json:"metadata"`
}

// Organic returns the non-ad results in page order.
func (r *SearchResults) Organic() []SerpResult {
	out := make([]SerpResult, 0, len(r.Results))
	for _, res := range r.Results {
		if !res.IsAd {
			out = append(out, res)
		}
	}
	return out
}

// Provider abstracts a search backend that can return a parsed SERP for a
// query. Implementations may call paid APIs or scrape; each one normalizes
// its own response shape into SearchResults.
type Provider interface {
	Name() string
	Execute(ctx context.Context, query string, opts SearchOptions) (*SearchResults, error)
}
