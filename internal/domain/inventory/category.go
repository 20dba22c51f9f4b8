package inventory

import (
	"strings"
	"time"
)

// Category buckets products by shelf life.
type Category string

const (
	CategoryProduce    Category = "produce"
	CategoryMeat       Category = "meat"
	CategorySeafood    Category = "seafood"
	CategoryDairy      Category = "dairy"
	CategoryBakery     Category = "bakery"
	CategoryDeli       Category = "deli"
	CategoryEggs       Category = "eggs"
	CategoryHerbs      Category = "herbs"
	CategoryFrozen     Category = "frozen"
	CategoryPantry     Category = "pantry"
	CategoryBeverages  Category = "beverages"
	CategoryCondiments Category = "condiments"
	CategoryOther      Category = "other"
)

// shelfLifeDays must list every Category constant.
var shelfLifeDays = map[Category]int{
	CategoryProduce:    7,
	CategoryMeat:       5,
	CategorySeafood:    3,
	CategoryDairy:      14,
	CategoryBakery:     5,
	CategoryDeli:       5,
	CategoryEggs:       30,
	CategoryHerbs:      7,
	CategoryFrozen:     180,
	CategoryPantry:     365,
	CategoryBeverages:  90,
	CategoryCondiments: 180,
	CategoryOther:      30,
}

// Categories lists the known categories.
var Categories = []Category{
	CategoryProduce, CategoryMeat, CategorySeafood, CategoryDairy, CategoryBakery, CategoryDeli,
	CategoryEggs, CategoryHerbs, CategoryFrozen, CategoryPantry, CategoryBeverages,
	CategoryCondiments, CategoryOther,
}

// NormalizeCategory maps free text onto a known category, defaulting to other.
func NormalizeCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := shelfLifeDays[c]; ok {
		return c
	}
	return CategoryOther
}

// ShelfLifeDays returns the days a purchase in category stays good.
func ShelfLifeDays(category Category) int {
	return shelfLifeDays[NormalizeCategory(string(category))]
}

// ExpirationDate is purchasedAt plus the category's shelf life in whole days
// of 86400 seconds.
func ExpirationDate(category Category, purchasedAt time.Time) time.Time {
	return purchasedAt.Add(time.Duration(ShelfLifeDays(category)) * 24 * time.Hour)
}
