package useragent

import (
	"crypto/rand"
	"math/big"
	"sync/atomic"
)

// DefaultDesktop provides a realistic set of modern desktop User-Agents.
var DefaultDesktop = []string{
	// Chrome Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	// Chrome Mac
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	// Firefox Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	// Firefox Mac
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	// Safari Mac
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	// Edge Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// DefaultMobile provides User-Agents for mobile device emulation.
var DefaultMobile = []string{
	// Chrome Android
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	// Safari iOS
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Mobile/15E148 Safari/604.1",
}

// Pool rotates User-Agents for search requests. Desktop and mobile agents
// are kept separate so device emulation stays consistent.
type Pool struct {
	desktop []string
	mobile  []string
	counter atomic.Uint64
	mcount  atomic.Uint64
}

// NewPool creates a pool from the given desktop agents, falling back to
// DefaultDesktop when empty. Mobile agents always come from DefaultMobile.
func NewPool(desktop []string) *Pool {
	if len(desktop) == 0 {
		desktop = DefaultDesktop
	}
	copied := make([]string, len(desktop))
	copy(copied, desktop)
	return &Pool{
		desktop: copied,
		mobile:  DefaultMobile,
	}
}

// GetSequential returns the next desktop User-Agent round-robin.
// It is safe for concurrent use.
func (p *Pool) GetSequential() string {
	idx := p.counter.Add(1) - 1
	return p.desktop[idx%uint64(len(p.desktop))]
}

// GetRandom returns a random desktop User-Agent using crypto/rand.
func (p *Pool) GetRandom() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.desktop))))
	if err != nil {
		// Fallback to sequential if crypto/rand fails
		return p.GetSequential()
	}
	return p.desktop[n.Int64()]
}

// GetMobile returns the next mobile User-Agent round-robin.
func (p *Pool) GetMobile() string {
	idx := p.mcount.Add(1) - 1
	return p.mobile[idx%uint64(len(p.mobile))]
}

// GetAll returns a copy of the desktop User-Agents in the pool.
func (p *Pool) GetAll() []string {
	copied := make([]string, len(p.desktop))
	copy(copied, p.desktop)
	return copied
}
