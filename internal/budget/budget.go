// Package budget implements hard spend controls for paid SERP providers.
//
// Budgets are tracked per day and per month with boundary resets in UTC.
// When a limit is reached, subsequent paid calls are blocked until the next
// period. Threshold alerts fire once per period per level.
package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/serprank/internal/serp"
)

// AlertLevel identifies which threshold an alert crossed.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert describes a budget threshold crossing.
type Alert struct {
	Level    AlertLevel
	Period   string // "daily" or "monthly"
	Spend    float64
	Budget   float64
	Fraction float64
}

// SpendMirror persists spend counters outside the process, e.g. in Redis.
// Mirror writes are best-effort; a mirror failure never blocks a search.
type SpendMirror interface {
	IncrSpend(ctx context.Context, period string, amount float64) (float64, error)
}

// Config for a Manager. A budget of <= 0 means unlimited for that period.
type Config struct {
	DailyBudget       float64
	MonthlyBudget     float64
	WarningThreshold  float64 // fraction of budget, default 0.80
	CriticalThreshold float64 // fraction of budget, default 0.95
	OnAlert           func(Alert)
}

// Stats is a point-in-time view of spend.
type Stats struct {
	DailySpend            float64 `json:"dailySpend"`
	MonthlySpend          float64 `json:"monthlySpend"`
	DailyRemaining        float64 `json:"dailyRemaining"`
	MonthlyRemaining      float64 `json:"monthlyRemaining"`
	QueriesToday          int     `json:"queriesToday"`
	QueriesThisMonth      int     `json:"queriesThisMonth"`
	AverageCostPerQuery   float64 `json:"averageCostPerQuery"`
	ProjectedMonthlySpend float64 `json:"projectedMonthlySpend"`
}

// Manager tracks daily and monthly spend against configured ceilings.
//
// Check followed by Record is not atomic: two concurrent callers can both
// pass Check and together push spend past the ceiling by up to one call's
// cost each. This mirrors the enforcement semantics of the upstream system
// and is accepted; the overshoot is bounded by concurrency x cost-per-query.
type Manager struct {
	cfg    Config
	mirror SpendMirror
	logger *slog.Logger

	mu             sync.Mutex
	dailySpend     float64
	monthlySpend   float64
	dailyQueries   int
	monthlyQueries int
	dayStart       time.Time
	monthStart     time.Time
	alerted        map[string]bool // "daily/warning" etc., reset on rollover

	now func() time.Time
}

// NewManager creates a Manager. mirror and logger may be nil.
func NewManager(cfg Config, mirror SpendMirror, logger *slog.Logger) *Manager {
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 0.80
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 0.95
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:     cfg,
		mirror:  mirror,
		logger:  logger,
		alerted: make(map[string]bool),
		now:     time.Now,
	}
	now := m.now().UTC()
	m.dayStart = startOfDay(now)
	m.monthStart = startOfMonth(now)
	return m
}

// spendEpsilon absorbs float accumulation error so a budget consumed in
// exact increments blocks on the first true overrun, not one call early.
const spendEpsilon = 1e-9

// Check returns a BudgetExceededError when applying cost would cross the
// daily or monthly ceiling. It does not reserve the cost.
func (m *Manager) Check(cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	if m.cfg.DailyBudget > 0 && m.dailySpend+cost > m.cfg.DailyBudget+spendEpsilon {
		return &serp.BudgetExceededError{
			Period:            "daily",
			Spend:             m.dailySpend,
			Budget:            m.cfg.DailyBudget,
			Cost:              cost,
			FallbackAvailable: true,
		}
	}
	if m.cfg.MonthlyBudget > 0 && m.monthlySpend+cost > m.cfg.MonthlyBudget+spendEpsilon {
		return &serp.BudgetExceededError{
			Period:            "monthly",
			Spend:             m.monthlySpend,
			Budget:            m.cfg.MonthlyBudget,
			Cost:              cost,
			FallbackAvailable: true,
		}
	}
	return nil
}

// Record adds the cost of a completed paid call and fires threshold alerts.
func (m *Manager) Record(ctx context.Context, cost float64) {
	m.mu.Lock()
	m.rollover()
	m.dailySpend += cost
	m.monthlySpend += cost
	m.dailyQueries++
	m.monthlyQueries++

	var alerts []Alert
	alerts = append(alerts, m.thresholdAlerts("daily", m.dailySpend, m.cfg.DailyBudget)...)
	alerts = append(alerts, m.thresholdAlerts("monthly", m.monthlySpend, m.cfg.MonthlyBudget)...)
	m.mu.Unlock()

	for _, a := range alerts {
		m.logger.Warn("budget threshold crossed",
			"level", string(a.Level), "period", a.Period,
			"spend", a.Spend, "budget", a.Budget)
		if m.cfg.OnAlert != nil {
			m.cfg.OnAlert(a)
		}
	}

	if m.mirror != nil {
		if _, err := m.mirror.IncrSpend(ctx, "daily", cost); err != nil {
			m.logger.Warn("budget mirror incr failed", "period", "daily", "error", err)
		}
		if _, err := m.mirror.IncrSpend(ctx, "monthly", cost); err != nil {
			m.logger.Warn("budget mirror incr failed", "period", "monthly", "error", err)
		}
	}
}

// thresholdAlerts must be called with the lock held.
func (m *Manager) thresholdAlerts(period string, spend, budget float64) []Alert {
	if budget <= 0 {
		return nil
	}
	frac := spend / budget
	var out []Alert
	if frac >= m.cfg.CriticalThreshold-spendEpsilon && !m.alerted[period+"/critical"] {
		m.alerted[period+"/critical"] = true
		out = append(out, Alert{Level: AlertCritical, Period: period, Spend: spend, Budget: budget, Fraction: frac})
	}
	if frac >= m.cfg.WarningThreshold-spendEpsilon && !m.alerted[period+"/warning"] {
		m.alerted[period+"/warning"] = true
		out = append(out, Alert{Level: AlertWarning, Period: period, Spend: spend, Budget: budget, Fraction: frac})
	}
	return out
}

// Snapshot returns current spend statistics including a linear projection
// of monthly spend from month-to-date burn rate.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	s := Stats{
		DailySpend:       m.dailySpend,
		MonthlySpend:     m.monthlySpend,
		QueriesToday:     m.dailyQueries,
		QueriesThisMonth: m.monthlyQueries,
	}
	if m.cfg.DailyBudget > 0 {
		s.DailyRemaining = m.cfg.DailyBudget - m.dailySpend
	}
	if m.cfg.MonthlyBudget > 0 {
		s.MonthlyRemaining = m.cfg.MonthlyBudget - m.monthlySpend
	}
	if m.monthlyQueries > 0 {
		s.AverageCostPerQuery = m.monthlySpend / float64(m.monthlyQueries)
	}

	now := m.now().UTC()
	daysElapsed := now.Sub(m.monthStart).Hours() / 24
	if daysElapsed > 0 {
		daysInMonth := float64(time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day())
		s.ProjectedMonthlySpend = m.monthlySpend / daysElapsed * daysInMonth
	}
	return s
}

// rollover resets counters when a period boundary has passed. Must be
// called with the lock held.
func (m *Manager) rollover() {
	now := m.now().UTC()
	if day := startOfDay(now); day.After(m.dayStart) {
		m.dayStart = day
		m.dailySpend = 0
		m.dailyQueries = 0
		delete(m.alerted, "daily/warning")
		delete(m.alerted, "daily/critical")
	}
	if month := startOfMonth(now); month.After(m.monthStart) {
		m.monthStart = month
		m.monthlySpend = 0
		m.monthlyQueries = 0
		delete(m.alerted, "monthly/warning")
		delete(m.alerted, "monthly/critical")
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
