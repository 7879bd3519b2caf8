package domain

import (
	"sort"
	"strings"
)

// taxRateDivisor converts basis points into a fraction.
const taxRateDivisor = 10_000

// LineTotal computes the derived total for one line.
func LineTotal(unitPrice int64, quantity int) int64 {
	if quantity <= 0 || unitPrice < 0 {
		return 0
	}
	return unitPrice * int64(quantity)
}

// ItemCount sums the quantities across all lines.
func ItemCount(lines []CartLine) int {
	count := 0
	for _, line := range lines {
		if line.Quantity > 0 {
			count += line.Quantity
		}
	}
	return count
}

// Subtotal sums quantity × unit price across all lines.
func Subtotal(lines []CartLine) int64 {
	var subtotal int64
	for _, line := range lines {
		subtotal += LineTotal(line.UnitPrice, line.Quantity)
	}
	return subtotal
}

// Summarize derives the checkout summary for a line set. Tax is a fixed rate
// expressed in basis points, rounded down; shipping is free.
func Summarize(lines []CartLine, taxRateBps int) CartSummary {
	subtotal := Subtotal(lines)
	var tax int64
	if taxRateBps > 0 {
		tax = subtotal * int64(taxRateBps) / taxRateDivisor
	}
	return CartSummary{
		Subtotal:  subtotal,
		Tax:       tax,
		Shipping:  0,
		Total:     subtotal + tax,
		ItemCount: ItemCount(lines),
	}
}

// CloneLines returns a defensive copy of the line set.
func CloneLines(lines []CartLine) []CartLine {
	if len(lines) == 0 {
		return []CartLine{}
	}
	dup := make([]CartLine, len(lines))
	copy(dup, lines)
	return dup
}

// GroupByProduct projects the cart into read-only product buckets for
// display: one group per product id, sizes sorted ascending, groups sorted by
// product display name. Recomputed on every call, never persisted.
func GroupByProduct(lines []CartLine) []ProductGroup {
	buckets := make(map[int64]*ProductGroup)
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		group, ok := buckets[line.ProductID]
		if !ok {
			group = &ProductGroup{
				ProductID:   line.ProductID,
				ProductCode: line.ProductCode,
				ProductName: line.ProductName,
			}
			buckets[line.ProductID] = group
		}
		total := LineTotal(line.UnitPrice, line.Quantity)
		group.Sizes = append(group.Sizes, SizeLine{
			Size:       line.Size,
			Quantity:   line.Quantity,
			TotalPrice: total,
		})
		group.TotalQuantity += line.Quantity
		group.TotalPrice += total
	}

	groups := make([]ProductGroup, 0, len(buckets))
	for _, group := range buckets {
		sort.Slice(group.Sizes, func(i, j int) bool {
			return group.Sizes[i].Size < group.Sizes[j].Size
		})
		groups = append(groups, *group)
	}

	sort.Slice(groups, func(i, j int) bool {
		a := strings.ToLower(strings.TrimSpace(groups[i].ProductName))
		b := strings.ToLower(strings.TrimSpace(groups[j].ProductName))
		if a == b {
			return groups[i].ProductID < groups[j].ProductID
		}
		return a < b
	})
	return groups
}
