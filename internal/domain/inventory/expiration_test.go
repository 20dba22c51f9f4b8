package inventory

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func itemExpiring(at time.Time) *ShoppingItem {
	return &ShoppingItem{ID: uuid.New(), ProductName: "x", InStock: true, ExpiresAt: &at}
}

func TestComputeExpirationStatus(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		item *ShoppingItem
		want ExpirationStatus
	}{
		{"nil item", nil, StatusNone},
		{"no expiry", &ShoppingItem{}, StatusNone},
		{"past", itemExpiring(now.Add(-time.Minute)), StatusExpired},
		{"exactly now", itemExpiring(now), StatusExpiringSoon},
		{"three days", itemExpiring(now.Add(72 * time.Hour)), StatusExpiringSoon},
		{"just over three days", itemExpiring(now.Add(72*time.Hour + time.Second)), StatusExpiringLater},
		{"seven days", itemExpiring(now.Add(7 * 24 * time.Hour)), StatusExpiringLater},
		{"eight days", itemExpiring(now.Add(8 * 24 * time.Hour)), StatusNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeExpirationStatus(tt.item, now); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestGroupByExpiration(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	expired := itemExpiring(now.Add(-2 * time.Hour))
	soonA := itemExpiring(now.Add(30 * time.Hour))
	soonB := itemExpiring(now.Add(26 * time.Hour))
	later := itemExpiring(now.Add(5 * 24 * time.Hour))
	far := itemExpiring(now.Add(30 * 24 * time.Hour))
	outOfStock := itemExpiring(now.Add(time.Hour))
	outOfStock.InStock = false
	removed := itemExpiring(now.Add(time.Hour))
	removedAt := now
	removed.RemovedAt = &removedAt

	days := GroupByExpiration([]*ShoppingItem{later, soonA, far, expired, outOfStock, soonB, removed}, now)
	if len(days) != 3 {
		t.Fatalf("expected 3 days, got %d: %+v", len(days), days)
	}
	if days[0].Date != "2024-05-10" || days[0].Status != StatusExpired {
		t.Errorf("unexpected first day %+v", days[0])
	}
	if days[1].Date != "2024-05-11" || days[1].Status != StatusExpiringSoon || len(days[1].Items) != 2 {
		t.Errorf("unexpected second day %+v", days[1])
	}
	if days[1].Items[0] != soonB {
		t.Error("items within a day should be ordered by expiry")
	}
	if days[2].Date != "2024-05-15" || days[2].Status != StatusExpiringLater {
		t.Errorf("unexpected third day %+v", days[2])
	}
}

func TestGroupByExpiration_Empty(t *testing.T) {
	days := GroupByExpiration(nil, time.Now())
	if days == nil || len(days) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", days)
	}
}
