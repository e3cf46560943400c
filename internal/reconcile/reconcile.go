// Package reconcile turns a batch of transformed samples into a clean, ordered sequence.
//
// Downstream cumulative-index computations read the store assuming strictly increasing
// timestamps, so every batch is written in the order produced here.
package reconcile

import (
	"sort"

	"github.com/septivank/linky-feed-ingester/internal/db"
	"github.com/septivank/linky-feed-ingester/tools/timeparser"
)

// Reconcile drops samples whose timestamp repeats an earlier one (the first occurrence
// wins) and returns the rest in ascending timestamp order.
func Reconcile(samples []db.ConsumptionSample) []db.ConsumptionSample {
	seen := make(map[string]struct{}, len(samples))
	unique := make([]db.ConsumptionSample, 0, len(samples))
	for _, s := range samples {
		if _, dup := seen[s.Timestamp]; dup {
			continue
		}
		seen[s.Timestamp] = struct{}{}
		unique = append(unique, s)
	}

	SortStable(unique)
	return unique
}

// SortStable orders samples by timestamp in place, keeping input order for equal keys
func SortStable(samples []db.ConsumptionSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return Less(samples[i].Timestamp, samples[j].Timestamp)
	})
}

// Less orders two timestamp keys by instant. Keys that do not parse sort after parsed
// ones and compare as strings among themselves.
func Less(a, b string) bool {
	ta, okA := timeparser.ParseKey(a)
	tb, okB := timeparser.ParseKey(b)
	switch {
	case okA && okB:
		return ta.Before(tb)
	case okA != okB:
		return okA
	default:
		return a < b
	}
}
