// Package leaderboard ranks evaluation results by a primary metric.
package leaderboard

import (
	"sort"

	"github.com/YuminosukeSato/mlexplorer/evaluation"
	"github.com/YuminosukeSato/mlexplorer/metrics"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// Entry is one ranked result. Rank starts at 1.
type Entry struct {
	Rank          int
	Result        *evaluation.Result
	Value         float64
	NotApplicable bool
}

// Leaderboard is an ordered, read-only view over evaluation results.
type Leaderboard struct {
	metric    string
	direction metrics.Direction
	entries   []Entry
}

// Rank orders results by metric, best first.
//
// Results for which the metric is missing or not applicable go last. Ties
// are broken by shorter fit duration, then by registry index. results is
// not modified.
func Rank(results []*evaluation.Result, metric string) (*Leaderboard, error) {
	dir, err := metrics.DirectionOf(metric)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		m, ok := r.Metric(metric)
		entries = append(entries, Entry{Result: r, Value: m.Value, NotApplicable: !ok || m.NotApplicable})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.NotApplicable != b.NotApplicable {
			return !a.NotApplicable
		}
		if !a.NotApplicable && a.Value != b.Value {
			return dir.Better(a.Value, b.Value)
		}
		da, db := a.Result.Model.FitDuration, b.Result.Model.FitDuration
		if da != db {
			return da < db
		}
		return a.Result.Model.Index < b.Result.Model.Index
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return &Leaderboard{metric: metric, direction: dir, entries: entries}, nil
}

// Metric is the primary metric of the ranking.
func (l *Leaderboard) Metric() string { return l.metric }

// Direction of the primary metric.
func (l *Leaderboard) Direction() metrics.Direction { return l.direction }

// Entries returns the ranked entries, best first.
func (l *Leaderboard) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Len is the number of ranked results.
func (l *Leaderboard) Len() int { return len(l.entries) }

// Best returns the top result. An empty leaderboard gives
// EmptyLeaderboardError.
func (l *Leaderboard) Best() (*evaluation.Result, error) {
	if len(l.entries) == 0 {
		return nil, errors.NewEmptyLeaderboardError(l.metric)
	}
	return l.entries[0].Result, nil
}
