package reconcile

import (
	"math/rand"
	"sort"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
	"github.com/iliyamo/cohort-seat-sync/internal/provider"
)

// Strategy selects how the initial partition spreads members across
// cohorts.
type Strategy string

const (
	// StrategyRandom shuffles, buckets members by location, then deals each
	// location bucket across the cohorts round-robin.  Every cohort ends up
	// with a roughly even share of each location type without requiring a
	// strict count balance.
	StrategyRandom Strategy = "RANDOM"
	// StrategyWeighted shuffles, stable-sorts remote members ahead of
	// in-person ones, and slices the result into contiguous runs, giving
	// the first count%N cohorts one extra member.  Remote participants
	// spread evenly instead of clustering in one cohort.
	StrategyWeighted Strategy = "WEIGHTED"
)

// partition splits members into n buckets using the given strategy.  The
// rng is injected so tests can fix the shuffle order.
func partition(members []provider.Enrollment, n int, strategy Strategy, rng *rand.Rand) [][]provider.Enrollment {
	if n < 1 {
		n = 1
	}
	shuffled := make([]provider.Enrollment, len(members))
	copy(shuffled, members)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if strategy == StrategyWeighted {
		return sliceWeighted(shuffled, n)
	}
	return dealByLocation(shuffled, n)
}

// dealByLocation implements StrategyRandom.  The deal cursor carries over
// from one location bucket to the next so total counts stay even.
func dealByLocation(members []provider.Enrollment, n int) [][]provider.Enrollment {
	byLocation := make(map[string][]provider.Enrollment)
	order := make([]string, 0, 2)
	for _, m := range members {
		if _, ok := byLocation[m.Location]; !ok {
			order = append(order, m.Location)
		}
		byLocation[m.Location] = append(byLocation[m.Location], m)
	}
	out := make([][]provider.Enrollment, n)
	cursor := 0
	for _, loc := range order {
		for _, m := range byLocation[loc] {
			out[cursor%n] = append(out[cursor%n], m)
			cursor++
		}
	}
	return out
}

// sliceWeighted implements StrategyWeighted.
func sliceWeighted(members []provider.Enrollment, n int) [][]provider.Enrollment {
	sort.SliceStable(members, func(i, j int) bool {
		ri := members[i].Location == model.LocationRemote
		rj := members[j].Location == model.LocationRemote
		return ri && !rj
	})
	out := make([][]provider.Enrollment, n)
	base := len(members) / n
	extra := len(members) % n
	at := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		out[i] = append([]provider.Enrollment(nil), members[at:at+size]...)
		at += size
	}
	return out
}

// groupName returns the cohort name for the i-th partition: A, B, ... Z,
// then AA, AB and so on for absurdly split sections.
func groupName(i int) string {
	name := ""
	for {
		name = string(rune('A'+i%26)) + name
		i = i/26 - 1
		if i < 0 {
			return name
		}
	}
}
