package returns

import (
	"testing"
	"time"

	"webbilling/backend/internal/domain"
)

func ret(id int64, at time.Time, value float64, status string) domain.ReturnTransaction {
	return domain.ReturnTransaction{
		ID:               id,
		ReturnDate:       at,
		TotalReturnValue: value,
		Status:           status,
	}
}

func TestAggregateStats(t *testing.T) {
	now := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	all := []domain.ReturnTransaction{
		ret(1, now.Add(-1*time.Hour), 300, domain.ReturnStatusPending),
		ret(2, now.Add(-2*time.Hour), 200, domain.ReturnStatusCompleted),
		ret(3, now.Add(-3*time.Hour), 100, domain.ReturnStatusCancelled),
		ret(4, yesterday, 400, domain.ReturnStatusPending),
		ret(5, yesterday.Add(-time.Hour), 150, domain.ReturnStatusCompleted),
		ret(6, now.AddDate(0, 0, -5), 250, domain.ReturnStatusCompleted),
		ret(7, now.AddDate(0, 0, -9), 100, domain.ReturnStatusCompleted),
	}

	stats := AggregateStats(all, now)

	if stats.TodayReturns != 3 {
		t.Fatalf("today = %d, want 3", stats.TodayReturns)
	}
	if stats.PendingReturns != 2 {
		t.Fatalf("pending = %d, want 2", stats.PendingReturns)
	}
	if !almostEqual(stats.TotalValue, 1500) {
		t.Fatalf("total = %.2f, want 1500", stats.TotalValue)
	}
	if !almostEqual(stats.AvgReturnValue, 1500.0/7) {
		t.Fatalf("avg = %.4f, want %.4f", stats.AvgReturnValue, 1500.0/7)
	}

	if len(stats.RecentReturns) != 5 {
		t.Fatalf("recent = %d entries, want 5", len(stats.RecentReturns))
	}
	if stats.RecentReturns[0].ID != 1 {
		t.Fatalf("most recent = %d, want 1", stats.RecentReturns[0].ID)
	}
	for i := 1; i < len(stats.RecentReturns); i++ {
		if stats.RecentReturns[i].ReturnDate.After(stats.RecentReturns[i-1].ReturnDate) {
			t.Fatalf("recent returns not in descending date order at %d", i)
		}
	}
}

func TestAggregateStatsEmpty(t *testing.T) {
	stats := AggregateStats(nil, time.Now())
	if stats.TodayReturns != 0 || stats.PendingReturns != 0 {
		t.Fatalf("empty input must produce zero counts: %+v", stats)
	}
	if stats.AvgReturnValue != 0 {
		t.Fatalf("empty input must not divide by zero, avg = %f", stats.AvgReturnValue)
	}
	if len(stats.RecentReturns) != 0 {
		t.Fatalf("empty input must produce no recent returns")
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(domain.ReturnStatusPending, domain.ReturnStatusCompleted) {
		t.Fatalf("PENDING -> COMPLETED must be allowed")
	}
	if !CanTransition(domain.ReturnStatusPending, domain.ReturnStatusCancelled) {
		t.Fatalf("PENDING -> CANCELLED must be allowed")
	}
	if CanTransition(domain.ReturnStatusCompleted, domain.ReturnStatusCancelled) {
		t.Fatalf("terminal statuses must not move")
	}
	if CanTransition(domain.ReturnStatusCancelled, domain.ReturnStatusPending) {
		t.Fatalf("reopening a cancelled return must not be allowed")
	}
	if CanTransition(domain.ReturnStatusPending, "SHIPPED") {
		t.Fatalf("unknown target status must not be allowed")
	}
}
