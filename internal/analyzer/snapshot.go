package analyzer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxSnapshots bounds in-memory history; the oldest snapshot is evicted
// when a new one would exceed it.
const maxSnapshots = 10

const unrankedPosition = -1

// Snapshot is a point-in-time record of positions for every analyzed
// query. Unranked queries are stored as -1 so a later comparison can
// distinguish "lost" from "never tracked".
type Snapshot struct {
	ID        string         `json:"id"`
	Domain    string         `json:"domain"`
	Timestamp time.Time      `json:"timestamp"`
	Positions map[string]int `json:"positions"`
	Summary   Summary        `json:"summary"`
}

// PositionChange describes one query's movement between two analysis runs.
type PositionChange struct {
	Query            string `json:"query"`
	PreviousPosition int    `json:"previousPosition"` // -1 when previously unranked
	CurrentPosition  int    `json:"currentPosition"`  // -1 when currently unranked
	Change           int    `json:"change"`           // current - previous; negative is an improvement
	Impact           string `json:"impact"`           // high, medium, low
}

// SnapshotComparison is the diff between a stored snapshot and a current
// analysis result.
type SnapshotComparison struct {
	SnapshotID string           `json:"snapshotId"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Gained     []PositionChange `json:"gained"`   // unranked -> ranked
	Lost       []PositionChange `json:"lost"`     // ranked -> unranked
	Improved   []PositionChange `json:"improved"` // ranked both, moved up by >2
	Declined   []PositionChange `json:"declined"` // ranked both, moved down by >2
	Stable     int              `json:"stable"`   // ranked both, |change| <= 2
	New        int              `json:"new"`      // queries not in the snapshot
}

// TakeSnapshot stores the positions from an analysis result and returns
// the stored snapshot.
func (a *Analyzer) TakeSnapshot(result *RankingAnalysisResult) *Snapshot {
	snap := &Snapshot{
		ID:        uuid.New().String(),
		Domain:    result.Domain,
		Timestamp: result.AnalyzedAt,
		Positions: make(map[string]int, len(result.Rankings)),
		Summary:   result.Summary,
	}
	for i := range result.Rankings {
		r := &result.Rankings[i]
		if r.Position != nil {
			snap.Positions[r.Query] = *r.Position
		} else {
			snap.Positions[r.Query] = unrankedPosition
		}
	}

	a.mu.Lock()
	a.snapshots = append(a.snapshots, snap)
	if len(a.snapshots) > maxSnapshots {
		a.snapshots = a.snapshots[len(a.snapshots)-maxSnapshots:]
	}
	a.mu.Unlock()

	a.logger.Info("snapshot taken", "id", snap.ID, "domain", snap.Domain, "queries", len(snap.Positions))
	return snap
}

// Snapshots returns stored snapshots, oldest first.
func (a *Analyzer) Snapshots() []*Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Snapshot, len(a.snapshots))
	copy(out, a.snapshots)
	return out
}

// CompareWithSnapshot diffs the current analysis against a stored
// snapshot. Rankings in the result but absent from the snapshot are
// counted as New rather than Gained.
func (a *Analyzer) CompareWithSnapshot(snapshotID string, current *RankingAnalysisResult) (*SnapshotComparison, error) {
	a.mu.Lock()
	var snap *Snapshot
	for _, s := range a.snapshots {
		if s.ID == snapshotID {
			snap = s
			break
		}
	}
	a.mu.Unlock()
	if snap == nil {
		return nil, fmt.Errorf("analyzer: snapshot %s not found", snapshotID)
	}

	cmp := &SnapshotComparison{
		SnapshotID: snap.ID,
		From:       snap.Timestamp,
		To:         current.AnalyzedAt,
	}

	for i := range current.Rankings {
		r := &current.Rankings[i]
		prev, tracked := snap.Positions[r.Query]
		if !tracked {
			cmp.New++
			continue
		}

		cur := unrankedPosition
		if r.Position != nil {
			cur = *r.Position
		}

		change := PositionChange{
			Query:            r.Query,
			PreviousPosition: prev,
			CurrentPosition:  cur,
		}
		switch {
		case prev == unrankedPosition && cur == unrankedPosition:
			cmp.Stable++
		case prev == unrankedPosition:
			change.Impact = changeImpact(prev, cur)
			cmp.Gained = append(cmp.Gained, change)
		case cur == unrankedPosition:
			change.Impact = changeImpact(prev, cur)
			cmp.Lost = append(cmp.Lost, change)
		default:
			change.Change = cur - prev
			if change.Change >= -2 && change.Change <= 2 {
				cmp.Stable++
				continue
			}
			change.Impact = changeImpact(prev, cur)
			if change.Change < 0 {
				cmp.Improved = append(cmp.Improved, change)
			} else {
				cmp.Declined = append(cmp.Declined, change)
			}
		}
	}
	return cmp, nil
}

// changeImpact grades a movement: crossing the top-3 or top-10 boundary
// in either direction is high, moves of 5+ positions are medium,
// everything else low.
func changeImpact(prev, cur int) string {
	if crossesBoundary(prev, cur, 3) || crossesBoundary(prev, cur, 10) {
		return "high"
	}
	if prev == unrankedPosition || cur == unrankedPosition {
		return "medium"
	}
	if d := cur - prev; d >= 5 || d <= -5 {
		return "medium"
	}
	return "low"
}

func crossesBoundary(prev, cur, boundary int) bool {
	prevIn := prev != unrankedPosition && prev <= boundary
	curIn := cur != unrankedPosition && cur <= boundary
	return prevIn != curIn
}
