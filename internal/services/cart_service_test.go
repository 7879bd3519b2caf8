package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/orderfield/storefront/internal/domain"
	"github.com/orderfield/storefront/internal/platform/kvstore"
	"github.com/orderfield/storefront/internal/repositories"
	kvrepo "github.com/orderfield/storefront/internal/repositories/kv"
)

type cartFixture struct {
	store *kvstore.MemoryStore
	repo  repositories.CartRepository
	cart  CartService
}

func newCartFixture(t *testing.T, owner domain.OwnerKey) *cartFixture {
	t.Helper()
	store := kvstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	repo, err := kvrepo.NewCartRepository(store, nil)
	if err != nil {
		t.Fatalf("NewCartRepository: %v", err)
	}
	cart, err := NewCartService(CartServiceDeps{Repository: repo, Owner: owner})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	t.Cleanup(func() { _ = cart.Close() })
	return &cartFixture{store: store, repo: repo, cart: cart}
}

func (f *cartFixture) waitForPersisted(t *testing.T, owner domain.OwnerKey, want int) []domain.CartLine {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lines, err := f.repo.Load(context.Background(), owner)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(lines) == want {
			return lines
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d persisted lines under %s", want, owner)
	return nil
}

func addLine(cart CartService, productID int64, size, quantity int, unitPrice int64) {
	cart.AddOrIncrement(context.Background(), AddLineCommand{
		ProductID:   productID,
		ProductCode: "HF",
		ProductName: "Seal",
		Size:        size,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
	})
}

func TestCartAddOrIncrementKeepsFirstUnitPrice(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())
	addLine(f.cart, 1, 42, 2, 50)
	addLine(f.cart, 1, 42, 3, 999)

	lines := f.cart.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0].Quantity != 5 || lines[0].UnitPrice != 50 || lines[0].TotalPrice != 250 {
		t.Fatalf("unexpected line: %+v", lines[0])
	}
}

func TestCartSetQuantityZeroRemovesLine(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())
	addLine(f.cart, 1, 42, 2, 50)
	addLine(f.cart, 2, 10, 1, 30)
	key := domain.LineKey{ProductID: 1, Size: 42}

	f.cart.SetQuantity(context.Background(), key, 0)
	if len(f.cart.Lines()) != 1 {
		t.Fatalf("expected line removed, got %+v", f.cart.Lines())
	}

	f.cart.RemoveLine(context.Background(), domain.LineKey{ProductID: 2, Size: 10})
	if !f.cart.IsEmpty() {
		t.Fatalf("expected empty cart")
	}
}

func TestCartInvalidMutationsAreNoOps(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())

	addLine(f.cart, 1, 42, 0, 50)
	addLine(f.cart, 1, 42, -3, 50)
	f.cart.SetQuantity(context.Background(), domain.LineKey{ProductID: 9, Size: 9}, 4)
	f.cart.RemoveLine(context.Background(), domain.LineKey{ProductID: 9, Size: 9})

	if !f.cart.IsEmpty() {
		t.Fatalf("expected cart to stay empty, got %+v", f.cart.Lines())
	}
}

func TestCartSummaryAndCounts(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())
	addLine(f.cart, 1, 42, 2, 50)
	addLine(f.cart, 1, 43, 1, 50)

	summary := f.cart.Summary()
	if summary.ItemCount != 3 {
		t.Fatalf("expected item count 3, got %d", summary.ItemCount)
	}
	if summary.Subtotal != 150 {
		t.Fatalf("expected subtotal 150, got %d", summary.Subtotal)
	}
	if summary.Shipping != 0 {
		t.Fatalf("expected free shipping, got %d", summary.Shipping)
	}
	if summary.Tax != 15 || summary.Total != 165 {
		t.Fatalf("unexpected tax/total: %+v", summary)
	}
	if f.cart.TotalItemCount() != 3 || f.cart.TotalPrice() != 150 {
		t.Fatalf("unexpected totals: count=%d price=%d", f.cart.TotalItemCount(), f.cart.TotalPrice())
	}
}

func TestCartMutationsArePersisted(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())
	addLine(f.cart, 1, 42, 2, 50)
	addLine(f.cart, 2, 10, 1, 30)

	persisted := f.waitForPersisted(t, domain.GuestOwner(), 2)
	if persisted[0].ProductID != 1 || persisted[1].ProductID != 2 {
		t.Fatalf("unexpected persisted lines: %+v", persisted)
	}

	f.cart.Clear(context.Background())
	f.waitForPersisted(t, domain.GuestOwner(), 0)
}

func TestCartLoadsExistingStateOnConstruction(t *testing.T) {
	store := kvstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	repo, err := kvrepo.NewCartRepository(store, nil)
	if err != nil {
		t.Fatalf("NewCartRepository: %v", err)
	}
	seed := []domain.CartLine{{ProductID: 4, ProductCode: "HF", ProductName: "Seal", Size: 12, Quantity: 2, UnitPrice: 900, TotalPrice: 1800}}
	if err := repo.Save(context.Background(), domain.UserOwner("u1"), seed); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cart, err := NewCartService(CartServiceDeps{Repository: repo, Owner: domain.UserOwner("u1")})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	t.Cleanup(func() { _ = cart.Close() })

	if got := cart.Lines(); len(got) != 1 || got[0] != seed[0] {
		t.Fatalf("expected seeded cart, got %+v", got)
	}
}

func TestCartTransitionIdentityMergesGuestCart(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())
	ctx := context.Background()

	if err := f.repo.Save(ctx, domain.UserOwner("u1"), []domain.CartLine{
		{ProductID: 1, ProductCode: "HF", ProductName: "Seal", Size: 1, Quantity: 3, UnitPrice: 12, TotalPrice: 36},
	}); err != nil {
		t.Fatalf("seed user cart: %v", err)
	}

	addLine(f.cart, 1, 1, 2, 10)
	addLine(f.cart, 2, 8, 1, 30)

	if err := f.cart.TransitionIdentity(ctx, "u1"); err != nil {
		t.Fatalf("TransitionIdentity: %v", err)
	}
	if f.cart.Owner() != domain.UserOwner("u1") {
		t.Fatalf("owner not switched: %s", f.cart.Owner())
	}

	lines := f.cart.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 merged lines, got %+v", lines)
	}
	if lines[0].Quantity != 5 || lines[0].UnitPrice != 12 || lines[0].TotalPrice != 60 {
		t.Fatalf("authenticated price should win: %+v", lines[0])
	}

	f.waitForPersisted(t, domain.UserOwner("u1"), 2)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := f.store.Get(ctx, "guestCart"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("guest entry should be deleted after merge")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCartTransitionIdentityAfterGuestCartFlushed(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())
	ctx := context.Background()

	addLine(f.cart, 1, 1, 2, 10)
	f.waitForPersisted(t, domain.GuestOwner(), 1)

	// The store notifies watchers synchronously on delete, so the
	// transition must finish even with the guest entry already flushed.
	done := make(chan error, 1)
	go func() { done <- f.cart.TransitionIdentity(ctx, "u1") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("TransitionIdentity: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TransitionIdentity did not return")
	}

	if f.cart.Owner() != domain.UserOwner("u1") {
		t.Fatalf("owner not switched: %s", f.cart.Owner())
	}
	lines := f.cart.Lines()
	if len(lines) != 1 || lines[0].Quantity != 2 {
		t.Fatalf("guest lines lost in transition: %+v", lines)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := f.store.Get(ctx, "guestCart"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("guest entry should be deleted after merge")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCartRemergesAfterLogoutAndNewGuestLines(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())
	ctx := context.Background()

	addLine(f.cart, 1, 1, 2, 10)
	if err := f.cart.TransitionIdentity(ctx, "u1"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	f.waitForPersisted(t, domain.UserOwner("u1"), 1)

	if err := f.cart.TransitionIdentity(ctx, ""); err != nil {
		t.Fatalf("logout: %v", err)
	}
	addLine(f.cart, 7, 3, 1, 40)

	if err := f.cart.TransitionIdentity(ctx, "u1"); err != nil {
		t.Fatalf("second login: %v", err)
	}

	lines := f.cart.Lines()
	keys := make(map[int64]int, len(lines))
	for _, line := range lines {
		keys[line.ProductID] = line.Quantity
	}
	if keys[7] != 1 {
		t.Fatalf("guest line added before re-login was dropped: %+v", lines)
	}
	if keys[1] != 2 {
		t.Fatalf("stored user line missing after re-login: %+v", lines)
	}
}

func TestCartTransitionIdentitySameUserIsNoOp(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())
	ctx := context.Background()

	addLine(f.cart, 1, 1, 2, 10)
	if err := f.cart.TransitionIdentity(ctx, "u1"); err != nil {
		t.Fatalf("TransitionIdentity: %v", err)
	}
	before := f.cart.Lines()

	if err := f.cart.TransitionIdentity(ctx, "u1"); err != nil {
		t.Fatalf("TransitionIdentity again: %v", err)
	}
	after := f.cart.Lines()
	if len(after) != len(before) || after[0].Quantity != before[0].Quantity {
		t.Fatalf("repeat transition changed cart: %+v vs %+v", before, after)
	}
}

func TestCartAppliesExternalChanges(t *testing.T) {
	f := newCartFixture(t, domain.UserOwner("u1"))
	ctx := context.Background()

	addLine(f.cart, 1, 1, 1, 10)
	f.waitForPersisted(t, domain.UserOwner("u1"), 1)

	// Another execution context rewrites the same owner's cart.
	external := []domain.CartLine{
		{ProductID: 5, ProductCode: "HF", ProductName: "Seal", Size: 9, Quantity: 4, UnitPrice: 25, TotalPrice: 100},
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := f.repo.Save(ctx, domain.UserOwner("u1"), external); err != nil {
			t.Fatalf("external save: %v", err)
		}
		lines := f.cart.Lines()
		if len(lines) == 1 && lines[0].ProductID == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("external change not applied, cart: %+v", lines)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCartIgnoresExternalChangesForOtherOwners(t *testing.T) {
	f := newCartFixture(t, domain.UserOwner("u1"))
	ctx := context.Background()

	addLine(f.cart, 1, 1, 1, 10)
	f.waitForPersisted(t, domain.UserOwner("u1"), 1)

	if err := f.repo.Save(ctx, domain.UserOwner("u2"), []domain.CartLine{
		{ProductID: 9, ProductCode: "HF", ProductName: "Seal", Size: 9, Quantity: 1, UnitPrice: 1, TotalPrice: 1},
	}); err != nil {
		t.Fatalf("save other owner: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	lines := f.cart.Lines()
	if len(lines) != 1 || lines[0].ProductID != 1 {
		t.Fatalf("cart should be untouched, got %+v", lines)
	}
}

func TestCartSnapshotIsConsistent(t *testing.T) {
	f := newCartFixture(t, domain.GuestOwner())
	addLine(f.cart, 1, 42, 2, 50)

	lines, summary := f.cart.Snapshot()
	if len(lines) != 1 || summary.Subtotal != 100 || summary.ItemCount != 2 {
		t.Fatalf("inconsistent snapshot: %+v %+v", lines, summary)
	}
}
