package suggest

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carehub/carehub/internal/domain/inventory"
)

var now = time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC)

func purchases(item *inventory.ShoppingItem, store string, dates ...time.Time) *inventory.ShoppingItem {
	for _, d := range dates {
		item.PurchaseHistory = append(item.PurchaseHistory, &inventory.PurchaseRecord{
			ID: uuid.New(), ItemID: item.ID, PurchasedAt: d, Store: store,
		})
	}
	if n := len(item.PurchaseHistory); n > 0 {
		last := item.PurchaseHistory[n-1].PurchasedAt
		item.LastPurchased = &last
	}
	return item
}

func newItem(name string) *inventory.ShoppingItem {
	return &inventory.ShoppingItem{ID: uuid.New(), ProductName: name, InStock: true}
}

func daysAgo(n int) time.Time {
	return now.AddDate(0, 0, -n)
}

func TestFindDueToBuyItems_SingleEntryExcluded(t *testing.T) {
	item := purchases(newItem("Milk"), "", daysAgo(60))
	if got := FindDueToBuyItems([]*inventory.ShoppingItem{item}, now); len(got) != 0 {
		t.Errorf("expected no suggestion, got %+v", got)
	}
}

func TestFindDueToBuyItems_WeeklyItemIsDue(t *testing.T) {
	item := purchases(newItem("Eggs"), "", daysAgo(21), daysAgo(14), daysAgo(7))
	got := FindDueToBuyItems([]*inventory.ShoppingItem{item}, now)
	if len(got) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(got))
	}
	if got[0].ExpectedDays != 7 || got[0].DaysSinceLastPurchase != 7 {
		t.Errorf("unexpected suggestion %+v", got[0])
	}
}

func TestFindDueToBuyItems_NotYetDue(t *testing.T) {
	item := purchases(newItem("Rice"), "", daysAgo(40), daysAgo(20), daysAgo(5))
	if got := FindDueToBuyItems([]*inventory.ShoppingItem{item}, now); len(got) != 0 {
		t.Errorf("expected nothing due, got %+v", got)
	}
}

func TestFindDueToBuyItems_ZeroMeanInterval(t *testing.T) {
	same := daysAgo(3)
	item := newItem("Water")
	purchases(item, "Corner shop", same)
	purchases(item, "Market", same)
	got := FindDueToBuyItems([]*inventory.ShoppingItem{item}, now)
	if len(got) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(got))
	}
	if got[0].ExpectedDays != 0 || got[0].DaysSinceLastPurchase != 3 {
		t.Errorf("unexpected suggestion %+v", got[0])
	}
}

func TestFindDueToBuyItems_Exclusions(t *testing.T) {
	suspended := purchases(newItem("A"), "", daysAgo(30), daysAgo(20))
	suspended.Suspended = true
	needed := purchases(newItem("B"), "", daysAgo(30), daysAgo(20))
	needed.Needed = true
	removed := purchases(newItem("C"), "", daysAgo(30), daysAgo(20))
	removedAt := daysAgo(1)
	removed.RemovedAt = &removedAt
	sameInstant := purchases(newItem("D"), "", daysAgo(30), daysAgo(30))

	got := FindDueToBuyItems([]*inventory.ShoppingItem{suspended, needed, removed, sameInstant, nil}, now)
	if len(got) != 0 {
		t.Errorf("expected no suggestions, got %+v", got)
	}
}

func TestFindDueToBuyItems_MostOverdueFirst(t *testing.T) {
	slightly := purchases(newItem("Bread"), "", daysAgo(16), daysAgo(8))
	very := purchases(newItem("Coffee"), "", daysAgo(40), daysAgo(30))
	got := FindDueToBuyItems([]*inventory.ShoppingItem{slightly, very}, now)
	if len(got) != 2 {
		t.Fatalf("expected two suggestions, got %d", len(got))
	}
	if got[0].Item != very || got[1].Item != slightly {
		t.Errorf("expected Coffee before Bread, got %s, %s", got[0].Item.ProductName, got[1].Item.ProductName)
	}
}

func TestFindDueToBuyItems_UnsortedHistory(t *testing.T) {
	item := purchases(newItem("Tea"), "", daysAgo(10), daysAgo(30), daysAgo(20))
	got := FindDueToBuyItems([]*inventory.ShoppingItem{item}, now)
	if len(got) != 1 || got[0].ExpectedDays != 10 || got[0].DaysSinceLastPurchase != 10 {
		t.Errorf("unexpected %+v", got)
	}
}

func TestFindDueToBuyItems_Empty(t *testing.T) {
	got := FindDueToBuyItems(nil, now)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestFindFrequentlyBoughtTogether(t *testing.T) {
	d1, d2, d3 := daysAgo(21), daysAgo(14), daysAgo(7)

	pasta := purchases(newItem("Pasta"), "Coop", d1, d2, d3)
	sauce := purchases(newItem("Tomato sauce"), "coop ", d1, d2, d3.Add(2*time.Hour))
	cheese := purchases(newItem("Parmesan"), "Coop", d2)
	elsewhere := purchases(newItem("Basil"), "Market", d1, d2)
	pastaAgain := purchases(newItem("pasta"), "Coop", d1)

	items := []*inventory.ShoppingItem{pasta, sauce, cheese, elsewhere, pastaAgain}

	got := FindFrequentlyBoughtTogether(pasta, items, 1)
	if len(got) != 2 {
		t.Fatalf("expected two pairs, got %+v", got)
	}
	if got[0].ProductName != "Tomato sauce" || got[0].CoOccurrences != 3 || got[0].Confidence != 1 {
		t.Errorf("unexpected first pair %+v", got[0])
	}
	if got[1].ProductName != "Parmesan" || got[1].CoOccurrences != 1 {
		t.Errorf("unexpected second pair %+v", got[1])
	}
	if want := 1.0 / 3.0; got[1].Confidence != want {
		t.Errorf("expected confidence %v, got %v", want, got[1].Confidence)
	}

	got = FindFrequentlyBoughtTogether(pasta, items, 2)
	if len(got) != 1 || got[0].ProductName != "Tomato sauce" {
		t.Errorf("threshold should drop Parmesan, got %+v", got)
	}
}

func TestFindFrequentlyBoughtTogether_Sparse(t *testing.T) {
	never := newItem("New")
	other := purchases(newItem("Old"), "", daysAgo(3))

	for name, got := range map[string][]Pair{
		"nil anchor":   FindFrequentlyBoughtTogether(nil, []*inventory.ShoppingItem{other}, 1),
		"no history":   FindFrequentlyBoughtTogether(never, []*inventory.ShoppingItem{other}, 1),
		"nothing else": FindFrequentlyBoughtTogether(other, []*inventory.ShoppingItem{other}, 0),
	} {
		if got == nil || len(got) != 0 {
			t.Errorf("%s: expected empty non-nil slice, got %#v", name, got)
		}
	}
}
