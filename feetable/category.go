package feetable

import (
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Category selects how urgently a payment should confirm.
type Category uint8

const (
	// CategoryEconomic trades confirmation time for a low fee.
	CategoryEconomic Category = iota

	// CategoryNormal is the default category.
	CategoryNormal

	// CategoryPriority targets the next block.
	CategoryPriority
)

// AllCategories lists every known category in ascending urgency.
var AllCategories = []Category{
	CategoryEconomic, CategoryNormal, CategoryPriority,
}

// String returns the lower case name of the category.
func (c Category) String() string {
	switch c {
	case CategoryEconomic:
		return "economic"
	case CategoryNormal:
		return "normal"
	case CategoryPriority:
		return "priority"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// ParseCategory parses the name of a category as produced by String.
func ParseCategory(s string) (Category, error) {
	for _, c := range AllCategories {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Rates maps each category to a fee rate.
type Rates map[Category]chainfee.SatPerKVByte

// Rate returns the fee rate of the given category.
func (r Rates) Rate(c Category) (chainfee.SatPerKVByte, bool) {
	rate, ok := r[c]
	return rate, ok
}

// Categories returns the categories present in the table, sorted.
func (r Rates) Categories() []Category {
	cats := maps.Keys(r)
	slices.Sort(cats)

	return cats
}

// Validate checks that every category carries a positive rate.
func (r Rates) Validate() error {
	for _, c := range AllCategories {
		rate, ok := r[c]
		if !ok {
			return fmt.Errorf("%w: missing %v", ErrIncompleteTable, c)
		}
		if rate <= 0 {
			return fmt.Errorf("%w: %v rate is %d", ErrIncompleteTable,
				c, rate)
		}
	}

	return nil
}

func (r Rates) clone() Rates {
	if r == nil {
		return nil
	}

	return maps.Clone(r)
}
