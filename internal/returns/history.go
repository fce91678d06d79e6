package returns

import (
	"sort"
	"time"

	"webbilling/backend/internal/domain"
)

const recentReturnsLimit = 5

// AggregateStats derives dashboard statistics from the persisted return
// list in a single pass. "Today" is the calendar day of now in its own
// location, so callers pass their local clock.
func AggregateStats(all []domain.ReturnTransaction, now time.Time) domain.ReturnStats {
	stats := domain.ReturnStats{}

	year, month, day := now.Date()
	for _, ret := range all {
		local := ret.ReturnDate.In(now.Location())
		ry, rm, rd := local.Date()
		if ry == year && rm == month && rd == day {
			stats.TodayReturns++
		}
		if ret.Status == domain.ReturnStatusPending {
			stats.PendingReturns++
		}
		stats.TotalValue += ret.TotalReturnValue
	}
	if len(all) > 0 {
		stats.AvgReturnValue = stats.TotalValue / float64(len(all))
	}

	recent := make([]domain.ReturnTransaction, len(all))
	copy(recent, all)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].ReturnDate.After(recent[j].ReturnDate)
	})
	if len(recent) > recentReturnsLimit {
		recent = recent[:recentReturnsLimit]
	}
	stats.RecentReturns = recent

	return stats
}

// CanTransition reports whether a return may move to the target status.
// Transitions are one-way out of PENDING; COMPLETED and CANCELLED are
// terminal. The persistence layer enforces the same table authoritatively.
func CanTransition(current, target string) bool {
	if current != domain.ReturnStatusPending {
		return false
	}
	return target == domain.ReturnStatusCompleted || target == domain.ReturnStatusCancelled
}
