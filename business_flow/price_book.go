package businessflow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wablast/blast-core/utils"
)

// PriceBook maps a template category to the price of one message, in rupiah.
// Prices may carry fractions (provider rate cards do); a campaign is charged the
// rounded-up whole rupiah amount.
type PriceBook struct {
	prices map[string]decimal.Decimal
}

// NewPriceBook parses prices like {"marketing": "586.33", "utility": "356"}
func NewPriceBook(prices map[string]string) (*PriceBook, error) {
	pb := &PriceBook{prices: make(map[string]decimal.Decimal, len(prices))}
	for category, raw := range prices {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid price %q for category %q: %w", raw, category, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("price for category %q must be positive", category)
		}
		if d.Ceil().GreaterThan(decimal.NewFromInt(int64(utils.MaxPricePerMessage))) {
			return nil, fmt.Errorf("price for category %q exceeds %d", category, utils.MaxPricePerMessage)
		}
		pb.prices[strings.ToLower(category)] = d
	}
	return pb, nil
}

// PricePerMessage returns the whole-rupiah price for category
func (pb *PriceBook) PricePerMessage(category string) (uint64, error) {
	if pb == nil {
		return 0, ErrPriceCategoryUnknown
	}
	d, ok := pb.prices[strings.ToLower(category)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPriceCategoryUnknown, category)
	}
	return uint64(d.Ceil().IntPart()), nil
}
