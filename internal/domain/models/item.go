package models

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryElectronics Category = "Electronics"
	CategoryClothing    Category = "Clothing"
	CategoryBooks       Category = "Books"
	CategoryToys        Category = "Toys"
	CategoryHome        Category = "Home"
	CategoryAutomobiles Category = "Automobiles"
	CategoryOther       Category = "Other"
)

var categories = []Category{
	CategoryElectronics,
	CategoryClothing,
	CategoryBooks,
	CategoryToys,
	CategoryHome,
	CategoryAutomobiles,
	CategoryOther,
}

// ParseCategory matches s against the known categories ignoring case.
func ParseCategory(s string) (Category, bool) {
	for _, c := range categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Images      []string  `json:"images"`
	OwnerID     string    `json:"owner"`
	IsAvailable bool      `json:"isAvailable"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ItemSummary is the populated form of an item reference.
type ItemSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    Category `json:"category"`
	IsAvailable bool     `json:"isAvailable"`
}

func (i *Item) Summary() ItemSummary {
	return ItemSummary{ID: i.ID, Title: i.Title, Category: i.Category, IsAvailable: i.IsAvailable}
}
