// Package suggest derives shopping suggestions from purchase history. The
// functions are pure; sparse data yields an empty result, never an error.
package suggest

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/carehub/carehub/internal/domain/inventory"
)

const day = 24 * time.Hour

// DueToBuyItem is an item whose usual purchase interval has elapsed.
type DueToBuyItem struct {
	Item                  *inventory.ShoppingItem `json:"item"`
	ExpectedDays          float64                 `json:"expected_days"`
	DaysSinceLastPurchase int                     `json:"days_since_last_purchase"`
}

func (d DueToBuyItem) overdue() float64 {
	return float64(d.DaysSinceLastPurchase) - d.ExpectedDays
}

// FindDueToBuyItems returns items whose whole days since the last purchase
// reach the mean interval between their past purchases, most overdue first.
// Items need at least two purchases; removed, suspended and already needed
// items are skipped.
func FindDueToBuyItems(items []*inventory.ShoppingItem, now time.Time) []DueToBuyItem {
	out := []DueToBuyItem{}
	for _, item := range items {
		if item == nil || item.Removed() || item.Suspended || item.Needed {
			continue
		}
		dates := purchaseDates(item)
		if len(dates) < 2 {
			continue
		}
		// A zero mean interval makes the item due right away.
		expected := meanIntervalDays(dates)
		last := dates[len(dates)-1]
		if item.LastPurchased != nil && item.LastPurchased.After(last) {
			last = *item.LastPurchased
		}
		elapsed := now.Sub(last)
		if elapsed < 0 {
			continue
		}
		since := int(elapsed / day)
		if float64(since) < expected {
			continue
		}
		out = append(out, DueToBuyItem{Item: item, ExpectedDays: expected, DaysSinceLastPurchase: since})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if oi, oj := out[i].overdue(), out[j].overdue(); oi != oj {
			return oi > oj
		}
		return strings.ToLower(out[i].Item.ProductName) < strings.ToLower(out[j].Item.ProductName)
	})
	return out
}

func purchaseDates(item *inventory.ShoppingItem) []time.Time {
	dates := make([]time.Time, 0, len(item.PurchaseHistory))
	for _, rec := range item.PurchaseHistory {
		if rec != nil {
			dates = append(dates, rec.PurchasedAt)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// meanIntervalDays rounds to a tenth of a day.
func meanIntervalDays(sorted []time.Time) float64 {
	total := sorted[len(sorted)-1].Sub(sorted[0])
	mean := total.Hours() / 24 / float64(len(sorted)-1)
	return math.Round(mean*10) / 10
}

// Pair is a product that tends to be bought together with the anchor.
type Pair struct {
	ProductName   string  `json:"product_name"`
	CoOccurrences int     `json:"co_occurrences"`
	Confidence    float64 `json:"confidence"`
}

// sessionKey identifies one shopping trip: the same store on the same UTC
// calendar day. Every record of a batch confirmation shares one store and
// purchase date, so a batch never spans two keys.
func sessionKey(rec *inventory.PurchaseRecord) string {
	return strings.ToLower(strings.TrimSpace(rec.Store)) + "|" + rec.PurchasedAt.UTC().Format(time.DateOnly)
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// FindFrequentlyBoughtTogether counts, per other product, the anchor's
// shopping sessions it also appears in. confidence is that count over the
// number of anchor sessions. Pairs under minCoOccurrences (at least 1) are
// dropped.
func FindFrequentlyBoughtTogether(anchor *inventory.ShoppingItem, items []*inventory.ShoppingItem, minCoOccurrences int) []Pair {
	out := []Pair{}
	if anchor == nil {
		return out
	}
	if minCoOccurrences < 1 {
		minCoOccurrences = 1
	}

	anchorSessions := make(map[string]bool)
	for _, rec := range anchor.PurchaseHistory {
		if rec != nil {
			anchorSessions[sessionKey(rec)] = true
		}
	}
	if len(anchorSessions) == 0 {
		return out
	}

	anchorName := nameKey(anchor.ProductName)
	seen := make(map[string]map[string]bool)
	display := make(map[string]string)
	for _, item := range items {
		if item == nil || item.ID == anchor.ID {
			continue
		}
		key := nameKey(item.ProductName)
		if key == "" || key == anchorName {
			continue
		}
		for _, rec := range item.PurchaseHistory {
			if rec == nil {
				continue
			}
			s := sessionKey(rec)
			if !anchorSessions[s] {
				continue
			}
			if seen[key] == nil {
				seen[key] = make(map[string]bool)
				display[key] = item.ProductName
			}
			seen[key][s] = true
		}
	}

	for key, sessions := range seen {
		if len(sessions) < minCoOccurrences {
			continue
		}
		out = append(out, Pair{
			ProductName:   display[key],
			CoOccurrences: len(sessions),
			Confidence:    float64(len(sessions)) / float64(len(anchorSessions)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CoOccurrences != out[j].CoOccurrences {
			return out[i].CoOccurrences > out[j].CoOccurrences
		}
		return nameKey(out[i].ProductName) < nameKey(out[j].ProductName)
	})
	return out
}
