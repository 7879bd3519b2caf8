package domain

import "testing"

func TestSummarizeComputesDerivedTotals(t *testing.T) {
	lines := []CartLine{
		{ProductID: 1, Size: 42, Quantity: 2, UnitPrice: 5000},
		{ProductID: 1, Size: 43, Quantity: 1, UnitPrice: 5000},
	}

	summary := Summarize(lines, 1000)
	if summary.ItemCount != 3 {
		t.Fatalf("expected item count 3, got %d", summary.ItemCount)
	}
	if summary.Subtotal != 15000 {
		t.Fatalf("expected subtotal 15000, got %d", summary.Subtotal)
	}
	if summary.Tax != 1500 {
		t.Fatalf("expected tax 1500, got %d", summary.Tax)
	}
	if summary.Shipping != 0 {
		t.Fatalf("expected free shipping, got %d", summary.Shipping)
	}
	if summary.Total != 16500 {
		t.Fatalf("expected total 16500, got %d", summary.Total)
	}
}

func TestSummarizeEmptyCart(t *testing.T) {
	summary := Summarize(nil, 1000)
	if summary.Subtotal != 0 || summary.Tax != 0 || summary.Total != 0 || summary.ItemCount != 0 {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
}

func TestSummarizeRoundsTaxDown(t *testing.T) {
	lines := []CartLine{{ProductID: 9, Size: 1, Quantity: 1, UnitPrice: 99}}
	summary := Summarize(lines, 1000)
	if summary.Tax != 9 {
		t.Fatalf("expected tax 9 (rounded down), got %d", summary.Tax)
	}
}

func TestGroupByProductSortsByNameAndSize(t *testing.T) {
	lines := []CartLine{
		{ProductID: 2, ProductCode: "ZT-2", ProductName: "Zip Tie", Size: 40, Quantity: 1, UnitPrice: 200},
		{ProductID: 1, ProductCode: "AB-1", ProductName: "Anchor Bolt", Size: 44, Quantity: 2, UnitPrice: 100},
		{ProductID: 1, ProductCode: "AB-1", ProductName: "Anchor Bolt", Size: 42, Quantity: 3, UnitPrice: 100},
	}

	groups := GroupByProduct(lines)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].ProductName != "Anchor Bolt" {
		t.Fatalf("expected groups sorted by name, got %q first", groups[0].ProductName)
	}
	first := groups[0]
	if len(first.Sizes) != 2 {
		t.Fatalf("expected 2 size rows, got %d", len(first.Sizes))
	}
	if first.Sizes[0].Size != 42 || first.Sizes[1].Size != 44 {
		t.Fatalf("expected sizes sorted ascending, got %+v", first.Sizes)
	}
	if first.TotalQuantity != 5 {
		t.Fatalf("expected bucket quantity 5, got %d", first.TotalQuantity)
	}
	if first.TotalPrice != 500 {
		t.Fatalf("expected bucket total 500, got %d", first.TotalPrice)
	}
}

func TestGroupByProductSkipsNonPositiveQuantities(t *testing.T) {
	lines := []CartLine{{ProductID: 1, ProductName: "Gasket", Size: 10, Quantity: 0, UnitPrice: 50}}
	if groups := GroupByProduct(lines); len(groups) != 0 {
		t.Fatalf("expected no groups, got %d", len(groups))
	}
}

func TestOwnerKeyRoundTrip(t *testing.T) {
	if !GuestOwner().IsGuest() {
		t.Fatalf("guest owner must report IsGuest")
	}
	owner := UserOwner("u-77")
	if owner.IsGuest() {
		t.Fatalf("user owner must not report IsGuest")
	}
	if owner.UserID() != "u-77" {
		t.Fatalf("expected user id u-77, got %q", owner.UserID())
	}

	parsed, ok := ParseOwnerKey(string(owner))
	if !ok || parsed != owner {
		t.Fatalf("expected parse to recover %q, got %q ok=%v", owner, parsed, ok)
	}
	if _, ok := ParseOwnerKey("sessionToken"); ok {
		t.Fatalf("foreign storage keys must not parse as owner keys")
	}
}
