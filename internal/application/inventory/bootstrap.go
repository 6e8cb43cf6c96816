package inventory

import (
	"fmt"
	"sort"
)

// Provisioner adds stock to a ledger.
type Provisioner interface {
	Provision(sku string, qty int) error
}

// DefaultStock is the demo catalog loaded at startup.
func DefaultStock() map[string]int {
	return map[string]int{
		"SKU-123": 20,
		"SKU-456": 15,
		"SKU-789": 8,
	}
}

// Seed provisions stock in SKU order.
func Seed(p Provisioner, stock map[string]int) error {
	skus := make([]string, 0, len(stock))
	for sku := range stock {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	for _, sku := range skus {
		if err := p.Provision(sku, stock[sku]); err != nil {
			return fmt.Errorf("inventory: seed %s: %w", sku, err)
		}
	}
	return nil
}
