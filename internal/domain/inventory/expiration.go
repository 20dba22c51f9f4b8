package inventory

import (
	"sort"
	"time"
)

type ExpirationStatus string

const (
	StatusExpired       ExpirationStatus = "expired"
	StatusExpiringSoon  ExpirationStatus = "expiring-soon"
	StatusExpiringLater ExpirationStatus = "expiring-later"
	StatusNone          ExpirationStatus = "none"
)

const (
	soonWindow  = 3 * 24 * time.Hour
	laterWindow = 7 * 24 * time.Hour
)

// ComputeExpirationStatus classifies expiresAt relative to now. It is derived
// on read and never stored.
func ComputeExpirationStatus(item *ShoppingItem, now time.Time) ExpirationStatus {
	if item == nil || item.ExpiresAt == nil {
		return StatusNone
	}
	if now.After(*item.ExpiresAt) {
		return StatusExpired
	}
	remaining := item.ExpiresAt.Sub(now)
	switch {
	case remaining <= soonWindow:
		return StatusExpiringSoon
	case remaining <= laterWindow:
		return StatusExpiringLater
	default:
		return StatusNone
	}
}

// ExpirationDay is the set of in-stock items expiring on one calendar day.
type ExpirationDay struct {
	Date   string           `json:"date"`
	Status ExpirationStatus `json:"status"`
	Items  []*ShoppingItem  `json:"items"`
}

// GroupByExpiration buckets in-stock items by the UTC calendar day they
// expire, oldest first. Items with status none are left out. Each day takes
// the most urgent status among its items.
func GroupByExpiration(items []*ShoppingItem, now time.Time) []ExpirationDay {
	byDay := make(map[string]*ExpirationDay)
	for _, item := range items {
		if !item.InStock || item.Removed() {
			continue
		}
		status := ComputeExpirationStatus(item, now)
		if status == StatusNone {
			continue
		}
		key := item.ExpiresAt.UTC().Format(time.DateOnly)
		day, ok := byDay[key]
		if !ok {
			day = &ExpirationDay{Date: key, Status: status}
			byDay[key] = day
		}
		if urgency(status) > urgency(day.Status) {
			day.Status = status
		}
		day.Items = append(day.Items, item)
	}

	out := make([]ExpirationDay, 0, len(byDay))
	for _, day := range byDay {
		sort.SliceStable(day.Items, func(i, j int) bool {
			return day.Items[i].ExpiresAt.Before(*day.Items[j].ExpiresAt)
		})
		out = append(out, *day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func urgency(s ExpirationStatus) int {
	switch s {
	case StatusExpired:
		return 3
	case StatusExpiringSoon:
		return 2
	case StatusExpiringLater:
		return 1
	}
	return 0
}
