package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/serprank/internal/blockpage"
	"github.com/FranksOps/serprank/internal/fingerprint"
	"github.com/FranksOps/serprank/internal/serp"
	"github.com/FranksOps/serprank/pkg/httpclient"
	"github.com/FranksOps/serprank/pkg/proxy"
	"github.com/FranksOps/serprank/pkg/useragent"
	"github.com/PuerkitoBio/goquery"
)

const googleSearchURL = "https://www.google.com/search"

// GoogleScrape fetches Google result pages directly and parses the HTML.
// Zero cost per query, but the least reliable provider: Google throttles
// and blocks scrapers, so it belongs at the bottom of the priority order.
// A uTLS fingerprint, rotating User-Agents and an optional proxy pool
// reduce the block rate.
type GoogleScrape struct {
	endpoint  string
	client    *httpclient.Client
	uas       *useragent.Pool
	proxies   *proxy.Pool // nil when no proxies configured
	detectors []blockpage.Detector
}

// GoogleScrapeConfig configures the scraping adapter.
type GoogleScrapeConfig struct {
	Endpoint    string // override for tests; defaults to google.com
	Fingerprint fingerprint.Profile
	UserAgents  []string
	Proxies     []string // proxy URLs to rotate across
	ProxyFile   string   // file of proxy URLs, one per line
	Timeout     time.Duration
}

// proxyCtxKey carries the proxy selected for one request so the shared
// transport can route it.
type proxyCtxKey struct{}

// NewGoogleScrape builds the adapter with a fingerprinted transport.
func NewGoogleScrape(cfg GoogleScrapeConfig) (*GoogleScrape, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = googleSearchURL
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}

	var pool *proxy.Pool
	if len(cfg.Proxies) > 0 || cfg.ProxyFile != "" {
		pool = proxy.NewPool(proxy.Config{})
		if len(cfg.Proxies) > 0 {
			if err := pool.Add(cfg.Proxies...); err != nil {
				return nil, fmt.Errorf("provider: google scrape proxies: %w", err)
			}
		}
		if cfg.ProxyFile != "" {
			if err := pool.LoadFile(cfg.ProxyFile); err != nil {
				return nil, fmt.Errorf("provider: google scrape proxy file: %w", err)
			}
		}
	}

	var proxyFunc func(*http.Request) (*url.URL, error)
	if pool != nil {
		proxyFunc = func(req *http.Request) (*url.URL, error) {
			if u, ok := req.Context().Value(proxyCtxKey{}).(*url.URL); ok {
				return u, nil
			}
			return nil, nil
		}
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, proxyFunc)
	if err != nil {
		return nil, fmt.Errorf("provider: google scrape transport: %w", err)
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: 3,
		UseCookieJar: true,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: google scrape client: %w", err)
	}
	return &GoogleScrape{
		endpoint:  cfg.Endpoint,
		client:    client,
		uas:       useragent.NewPool(cfg.UserAgents),
		proxies:   pool,
		detectors: blockpage.DefaultDetectors(),
	}, nil
}

func (g *GoogleScrape) Name() string { return "google_scrape" }

// markProxy records the outcome against the proxy used, if any.
func (g *GoogleScrape) markProxy(u *url.URL, success bool) {
	if g.proxies == nil || u == nil {
		return
	}
	if success {
		_ = g.proxies.MarkSuccess(u)
	} else {
		_ = g.proxies.MarkFailure(u)
	}
}

// Execute fetches and parses one Google results page.
func (g *GoogleScrape) Execute(ctx context.Context, query string, opts serp.SearchOptions) (*serp.SearchResults, error) {
	params := url.Values{}
	params.Set("q", query)
	if opts.Num > 0 {
		params.Set("num", strconv.Itoa(opts.Num))
	}
	if opts.Start > 0 {
		params.Set("start", strconv.Itoa(opts.Start))
	}
	if opts.Language != "" {
		params.Set("hl", opts.Language)
	}

	// Pin a proxy for the whole request so success and failure can be
	// attributed to it.
	var proxyURL *url.URL
	if g.proxies != nil {
		if proxyURL = g.proxies.Next(); proxyURL != nil {
			ctx = context.WithValue(ctx, proxyCtxKey{}, proxyURL)
		}
	}

	req, err := http.NewRequest(http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &serp.ProviderError{Provider: g.Name(), Err: err}
	}
	if opts.Device == serp.DeviceMobile {
		req.Header.Set("User-Agent", g.uas.GetMobile())
	} else {
		req.Header.Set("User-Agent", g.uas.GetRandom())
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := g.client.Do(ctx, req)
	if err != nil {
		g.markProxy(proxyURL, false)
		return nil, &serp.ProviderError{Provider: g.Name(), Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.markProxy(proxyURL, false)
		return nil, &serp.ProviderError{Provider: g.Name(), Retryable: true, Err: fmt.Errorf("read body: %w", err)}
	}

	// Google answers throttled scrapers with 429, a /sorry redirect or a
	// captcha interstitial; proxies can add their own bot walls on top.
	if source, blocked := blockpage.Detect(resp.StatusCode, resp.Header, body, g.detectors); blocked ||
		strings.Contains(resp.Request.URL.Path, "/sorry") {
		if !blocked {
			source = "google"
		}
		g.markProxy(proxyURL, false)
		return nil, &serp.ProviderError{
			Provider:   g.Name(),
			StatusCode: http.StatusTooManyRequests,
			Retryable:  true,
			Err:        fmt.Errorf("blocked by %s", source),
		}
	}
	if resp.StatusCode != http.StatusOK {
		g.markProxy(proxyURL, false)
		return nil, &serp.ProviderError{
			Provider:   g.Name(),
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	g.markProxy(proxyURL, true)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &serp.ProviderError{Provider: g.Name(), Err: fmt.Errorf("parse html: %w", err)}
	}

	results := g.parseOrganic(doc)
	features := g.parseFeatures(doc)
	features.OrganicCount = len(results)

	return &serp.SearchResults{
		Query:        query,
		Results:      results,
		Features:     features,
		TotalResults: parseResultStats(doc),
		Latency:      time.Since(start),
		Provider:     g.Name(),
		Metadata:     serp.Metadata{Timestamp: time.Now(), Device: opts.Device},
	}, nil
}

// parseOrganic extracts ranked organic results. Google's markup shifts
// frequently; the selectors here cover the current desktop layout.
func (g *GoogleScrape) parseOrganic(doc *goquery.Document) []serp.SerpResult {
	var results []serp.SerpResult
	position := 0

	doc.Find("div#search div.g").Each(func(_ int, sel *goquery.Selection) {
		link, ok := sel.Find("a").First().Attr("href")
		if !ok || !strings.HasPrefix(link, "http") {
			return
		}
		title := strings.TrimSpace(sel.Find("h3").First().Text())
		if title == "" {
			return
		}
		position++
		results = append(results, serp.SerpResult{
			Position: position,
			URL:      link,
			Domain:   extractDomain(link),
			Title:    title,
			Snippet:  strings.TrimSpace(sel.Find("div.VwiC3b").First().Text()),
		})
	})
	return results
}

func (g *GoogleScrape) parseFeatures(doc *goquery.Document) serp.SerpFeatures {
	return serp.SerpFeatures{
		FeaturedSnippet: doc.Find("div.xpdopen, block-component").Length() > 0,
		KnowledgePanel:  doc.Find("div.kp-wholepage").Length() > 0,
		LocalPack:       doc.Find("div[data-local-attribute], div.rllt__details").Length() > 0,
		PeopleAlsoAsk:   doc.Find("div.related-question-pair").Length() > 0,
		ImagePack:       doc.Find("g-img-grid, div.isv-r").Length() > 0,
		VideoCarousel:   doc.Find("video-voyager, g-scrolling-carousel a[href*='youtube']").Length() > 0,
		ShoppingResults: doc.Find("div.sh-dgr__grid-result, div.commercial-unit-desktop-top").Length() > 0,
		AdsCount:        doc.Find("div[data-text-ad]").Length(),
	}
}

// parseResultStats pulls the "About N results" estimate.
func parseResultStats(doc *goquery.Document) int64 {
	text := doc.Find("#result-stats").First().Text()
	digits := strings.Builder{}
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n, _ := strconv.ParseInt(digits.String(), 10, 64)
	return n
}
