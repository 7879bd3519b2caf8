package services

import (
	domain "github.com/orderfield/storefront/internal/domain"
)

// MergeLines reconciles a guest cart into an authenticated cart at login.
// The authenticated lines are the base: a guest line matching an existing
// (product, size) key adds its quantity to the base line and keeps the base
// line's unit price; unmatched guest lines carry over unchanged. Merging an
// empty guest cart returns the base as-is, so repeated merges after the
// guest entry has been cleared change nothing.
func MergeLines(guestLines, authLines []domain.CartLine) []domain.CartLine {
	merged := domain.CloneLines(authLines)
	if len(guestLines) == 0 {
		return merged
	}

	index := make(map[domain.LineKey]int, len(merged))
	for i, line := range merged {
		index[line.Key()] = i
	}

	for _, guest := range guestLines {
		if guest.Quantity <= 0 {
			continue
		}
		if i, ok := index[guest.Key()]; ok {
			merged[i].Quantity += guest.Quantity
			merged[i].TotalPrice = domain.LineTotal(merged[i].UnitPrice, merged[i].Quantity)
			continue
		}
		line := guest
		line.TotalPrice = domain.LineTotal(line.UnitPrice, line.Quantity)
		index[line.Key()] = len(merged)
		merged = append(merged, line)
	}
	return merged
}
