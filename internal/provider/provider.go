// Package provider holds the SERP provider adapters and the priority
// ordered registry the client selects from. Adding a provider means adding
// an adapter that implements serp.Provider and registering it; nothing
// dispatches on provider names.
package provider

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/FranksOps/serprank/internal/serp"
)

// Config describes one provider. Immutable after load; the ordered set of
// configs defines the fallback sequence.
type Config struct {
	Name         string  `mapstructure:"name"`
	Endpoint     string  `mapstructure:"endpoint"`
	APIKey       string  `mapstructure:"api_key"`
	Priority     int     `mapstructure:"priority"` // lower = preferred
	CostPerQuery float64 `mapstructure:"cost_per_query"`
	RateLimit    float64 `mapstructure:"rate_limit"` // requests per second
	Enabled      bool    `mapstructure:"enabled"`
}

// Entry pairs a provider implementation with its config.
type Entry struct {
	Config   Config
	Provider serp.Provider
}

// Registry is the priority-ordered provider collection.
type Registry struct {
	entries []*Entry
	byName  map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Entry)}
}

// Register adds a provider. Duplicate names are rejected.
func (r *Registry) Register(cfg Config, p serp.Provider) error {
	if cfg.Name == "" {
		cfg.Name = p.Name()
	}
	if _, exists := r.byName[cfg.Name]; exists {
		return fmt.Errorf("provider: duplicate registration for %q", cfg.Name)
	}
	e := &Entry{Config: cfg, Provider: p}
	r.entries = append(r.entries, e)
	r.byName[cfg.Name] = e
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Config.Priority < r.entries[j].Config.Priority
	})
	return nil
}

// Get returns the entry for a provider name.
func (r *Registry) Get(name string) (*Entry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// Ordered returns enabled providers in ascending priority order.
func (r *Registry) Ordered() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Config.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the names of all registered providers in priority order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.Config.Name)
	}
	return names
}

// extractDomain pulls the bare hostname out of a result URL, dropping the
// scheme and a leading www.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
