package reconcile

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
	"github.com/iliyamo/cohort-seat-sync/internal/provider"
)

func enrollments(inPerson, remote int) []provider.Enrollment {
	out := make([]provider.Enrollment, 0, inPerson+remote)
	for i := 0; i < inPerson; i++ {
		out = append(out, provider.Enrollment{
			NetID: fmt.Sprintf("ip%02d", i), Role: model.RoleStudent, Location: model.LocationInPerson,
		})
	}
	for i := 0; i < remote; i++ {
		out = append(out, provider.Enrollment{
			NetID: fmt.Sprintf("rm%02d", i), Role: model.RoleStudent, Location: model.LocationRemote,
		})
	}
	return out
}

func counts(buckets [][]provider.Enrollment) (total []int, remote []int) {
	for _, b := range buckets {
		r := 0
		for _, m := range b {
			if m.Location == model.LocationRemote {
				r++
			}
		}
		total = append(total, len(b))
		remote = append(remote, r)
	}
	return total, remote
}

func TestPartitionRandom(t *testing.T) {
	t.Run("deals evenly across cohorts", func(t *testing.T) {
		members := enrollments(6, 3)
		buckets := partition(members, 3, StrategyRandom, rand.New(rand.NewSource(1)))

		if len(buckets) != 3 {
			t.Fatalf("expected 3 buckets, got %d", len(buckets))
		}
		total, _ := counts(buckets)
		for i, n := range total {
			if n != 3 {
				t.Errorf("bucket %d: expected 3 members, got %d", i, n)
			}
		}
	})

	t.Run("uneven counts differ by at most one", func(t *testing.T) {
		members := enrollments(7, 4) // 11 members into 3 cohorts
		buckets := partition(members, 3, StrategyRandom, rand.New(rand.NewSource(2)))

		total, _ := counts(buckets)
		min, max := total[0], total[0]
		sum := 0
		for _, n := range total {
			if n < min {
				min = n
			}
			if n > max {
				max = n
			}
			sum += n
		}
		if sum != len(members) {
			t.Errorf("expected all %d members placed, got %d", len(members), sum)
		}
		if max-min > 1 {
			t.Errorf("expected counts within one of each other, got %v", total)
		}
	})

	t.Run("keeps every member exactly once", func(t *testing.T) {
		members := enrollments(5, 5)
		buckets := partition(members, 4, StrategyRandom, rand.New(rand.NewSource(3)))

		seen := make(map[string]int)
		for _, b := range buckets {
			for _, m := range b {
				seen[m.NetID]++
			}
		}
		if len(seen) != len(members) {
			t.Fatalf("expected %d distinct members, got %d", len(members), len(seen))
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("member %s placed %d times", id, n)
			}
		}
	})
}

func TestPartitionWeighted(t *testing.T) {
	t.Run("spreads remote members instead of clustering them", func(t *testing.T) {
		members := enrollments(6, 6)
		buckets := partition(members, 3, StrategyWeighted, rand.New(rand.NewSource(1)))

		total, remote := counts(buckets)
		for i := range buckets {
			if total[i] != 4 {
				t.Errorf("bucket %d: expected 4 members, got %d", i, total[i])
			}
		}
		// Remote-first contiguous slicing puts all 6 remote members in the
		// first bucket and a half: no bucket is all-remote or remote-free
		// beyond the slicing remainder.
		sumRemote := 0
		for _, r := range remote {
			sumRemote += r
		}
		if sumRemote != 6 {
			t.Errorf("expected 6 remote members placed, got %d", sumRemote)
		}
	})

	t.Run("first remainder cohorts take the extra member", func(t *testing.T) {
		members := enrollments(5, 3) // 8 members into 3 cohorts: 3,3,2
		buckets := partition(members, 3, StrategyWeighted, rand.New(rand.NewSource(5)))

		total, _ := counts(buckets)
		want := []int{3, 3, 2}
		for i := range want {
			if total[i] != want[i] {
				t.Errorf("bucket %d: expected %d members, got %d", i, want[i], total[i])
			}
		}
	})

	t.Run("remote members come first in the slices", func(t *testing.T) {
		members := enrollments(4, 2)
		buckets := partition(members, 2, StrategyWeighted, rand.New(rand.NewSource(7)))

		// With 2 remote members and 2 cohorts of 3, both remote members land
		// at the front of the first cohort.
		first := buckets[0]
		if first[0].Location != model.LocationRemote || first[1].Location != model.LocationRemote {
			t.Errorf("expected remote members at the front, got %+v", first)
		}
	})
}

// Splits for different sections can run on one engine at the same time, so
// its shuffle source must tolerate concurrent callers.  Run with -race.
func TestPartitionConcurrent(t *testing.T) {
	f := newFixture(false)
	members := enrollments(20, 10)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				parts := f.engine.partition(members, 3, StrategyRandom)
				total := 0
				for _, p := range parts {
					total += len(p)
				}
				if total != len(members) {
					t.Errorf("partition lost members: got %d, want %d", total, len(members))
				}
			}
		}()
	}
	wg.Wait()
}

func TestGroupName(t *testing.T) {
	cases := map[int]string{
		0:  "A",
		1:  "B",
		25: "Z",
		26: "AA",
		27: "AB",
		51: "AZ",
		52: "BA",
	}
	for i, want := range cases {
		if got := groupName(i); got != want {
			t.Errorf("groupName(%d): expected %s, got %s", i, want, got)
		}
	}
}
