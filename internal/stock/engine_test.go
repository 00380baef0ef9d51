package stock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dhabapos/backend/internal/domain"
	"dhabapos/backend/internal/store"
	"dhabapos/backend/internal/store/memory"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	repo := memory.NewEmpty()
	ctx := context.Background()

	products := []domain.Product{
		{ID: "prod-curry", Name: "Chicken Curry", FullPriceCents: 20000, HalfPriceCents: 12000, FullStock: 10, HalfStock: 8},
		{ID: "prod-roti", Name: "Roti", FullPriceCents: 2500, FullStock: 50, Solo: true},
		{ID: "prod-dal", Name: "Dal Fry", FullPriceCents: 15000, HalfPriceCents: 9000, FullStock: 5, HalfStock: 5},
	}
	for _, p := range products {
		if _, err := repo.CreateProduct(ctx, p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}
	return NewEngine(repo), repo
}

func variantStock(t *testing.T, repo *memory.Store, id string, variant string) int {
	t.Helper()
	product, err := repo.GetProductByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	qty, ok := product.VariantStock(variant)
	if !ok {
		t.Fatalf("variant %s not sold by %s", variant, id)
	}
	return qty
}

func TestQuotePricesLinesAndComputesSubtotal(t *testing.T) {
	engine, _ := newTestEngine(t)

	priced, subtotal, err := engine.Quote(context.Background(), []domain.SaleLine{
		{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 2},
		{ProductID: "prod-curry", Variant: domain.VariantHalf, Qty: 1},
		{ProductID: "prod-roti", Variant: domain.VariantFull, Qty: 4},
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if len(priced) != 3 {
		t.Fatalf("expected 3 priced lines, got %d", len(priced))
	}
	if priced[0].UnitPriceCents != 20000 || priced[1].UnitPriceCents != 12000 || priced[2].UnitPriceCents != 2500 {
		t.Fatalf("unexpected unit prices: %+v", priced)
	}
	want := int64(2*20000 + 12000 + 4*2500)
	if subtotal != want {
		t.Fatalf("expected subtotal %d, got %d", want, subtotal)
	}
}

func TestQuoteRejectsEmptyAndMalformedLines(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, _, err := engine.Quote(ctx, nil); !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected ErrInvalidSale for empty items, got %v", err)
	}
	if _, _, err := engine.Quote(ctx, []domain.SaleLine{{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 0}}); !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected ErrInvalidSale for zero qty, got %v", err)
	}
	if _, _, err := engine.Quote(ctx, []domain.SaleLine{{ProductID: "", Variant: domain.VariantFull, Qty: 1}}); !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected ErrInvalidSale for empty product id, got %v", err)
	}
}

func TestQuoteRejectsUnknownProduct(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, _, err := engine.Quote(context.Background(), []domain.SaleLine{
		{ProductID: "prod-ghost", Variant: domain.VariantFull, Qty: 1},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var notFound *ProductNotFoundError
	if !errors.As(err, &notFound) || notFound.ProductID != "prod-ghost" {
		t.Fatalf("expected ProductNotFoundError naming prod-ghost, got %v", err)
	}
}

func TestQuoteRejectsHalfPlateOfSoloProduct(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, _, err := engine.Quote(context.Background(), []domain.SaleLine{
		{ProductID: "prod-roti", Variant: domain.VariantHalf, Qty: 1},
	})
	if !errors.Is(err, store.ErrInvalidVariant) {
		t.Fatalf("expected ErrInvalidVariant, got %v", err)
	}
	var invalid *InvalidVariantError
	if !errors.As(err, &invalid) || invalid.ProductID != "prod-roti" {
		t.Fatalf("expected InvalidVariantError naming prod-roti, got %v", err)
	}
}

func TestQuoteRejectsUnknownVariantName(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, _, err := engine.Quote(context.Background(), []domain.SaleLine{
		{ProductID: "prod-curry", Variant: "quarter", Qty: 1},
	})
	if !errors.Is(err, store.ErrInvalidVariant) {
		t.Fatalf("expected ErrInvalidVariant, got %v", err)
	}
}

func TestQuoteAggregatesRepeatedLinesAgainstAvailability(t *testing.T) {
	engine, _ := newTestEngine(t)

	// Each line alone fits within the 5 full plates of dal; together they
	// do not.
	_, _, err := engine.Quote(context.Background(), []domain.SaleLine{
		{ProductID: "prod-dal", Variant: domain.VariantFull, Qty: 3},
		{ProductID: "prod-dal", Variant: domain.VariantFull, Qty: 3},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestReserveDebitsCounters(t *testing.T) {
	engine, repo := newTestEngine(t)

	priced, err := engine.Reserve(context.Background(), []domain.SaleLine{
		{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 3},
		{ProductID: "prod-curry", Variant: domain.VariantHalf, Qty: 2},
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if len(priced) != 2 {
		t.Fatalf("expected 2 priced lines, got %d", len(priced))
	}
	if got := variantStock(t, repo, "prod-curry", domain.VariantFull); got != 7 {
		t.Fatalf("expected full stock 7, got %d", got)
	}
	if got := variantStock(t, repo, "prod-curry", domain.VariantHalf); got != 6 {
		t.Fatalf("expected half stock 6, got %d", got)
	}

	product, err := repo.GetProductByID(context.Background(), "prod-curry")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.TotalStock != product.FullStock+product.HalfStock {
		t.Fatalf("total stock %d does not match %d+%d", product.TotalStock, product.FullStock, product.HalfStock)
	}
}

func TestReserveDownToZeroSucceeds(t *testing.T) {
	engine, repo := newTestEngine(t)

	_, err := engine.Reserve(context.Background(), []domain.SaleLine{
		{ProductID: "prod-dal", Variant: domain.VariantFull, Qty: 5},
	})
	if err != nil {
		t.Fatalf("reserve to zero failed: %v", err)
	}
	if got := variantStock(t, repo, "prod-dal", domain.VariantFull); got != 0 {
		t.Fatalf("expected full stock 0, got %d", got)
	}

	_, err = engine.Reserve(context.Background(), []domain.SaleLine{
		{ProductID: "prod-dal", Variant: domain.VariantFull, Qty: 1},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock past zero, got %v", err)
	}
}

func TestReserveFailureLeavesAllCountersUntouched(t *testing.T) {
	engine, repo := newTestEngine(t)

	_, err := engine.Reserve(context.Background(), []domain.SaleLine{
		{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 2},
		{ProductID: "prod-dal", Variant: domain.VariantFull, Qty: 6},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var short *InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if short.ProductID != "prod-dal" || short.Requested != 6 || short.Available != 5 {
		t.Fatalf("unexpected shortfall detail: %+v", short)
	}

	if got := variantStock(t, repo, "prod-curry", domain.VariantFull); got != 10 {
		t.Fatalf("curry full stock moved on failed batch: %d", got)
	}
	if got := variantStock(t, repo, "prod-dal", domain.VariantFull); got != 5 {
		t.Fatalf("dal full stock moved on failed batch: %d", got)
	}
}

func TestReleaseRestoresCounters(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	priced, err := engine.Reserve(ctx, []domain.SaleLine{
		{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 4},
		{ProductID: "prod-roti", Variant: domain.VariantFull, Qty: 10},
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := engine.Release(ctx, priced); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if got := variantStock(t, repo, "prod-curry", domain.VariantFull); got != 10 {
		t.Fatalf("expected curry full stock restored to 10, got %d", got)
	}
	if got := variantStock(t, repo, "prod-roti", domain.VariantFull); got != 50 {
		t.Fatalf("expected roti stock restored to 50, got %d", got)
	}
}

func TestReleaseSkipsDeletedProducts(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	priced, err := engine.Reserve(ctx, []domain.SaleLine{
		{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 1},
		{ProductID: "prod-roti", Variant: domain.VariantFull, Qty: 1},
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := repo.DeleteProduct(ctx, "prod-roti"); err != nil {
		t.Fatalf("delete product: %v", err)
	}

	if err := engine.Release(ctx, priced); err != nil {
		t.Fatalf("release with deleted product failed: %v", err)
	}
	if got := variantStock(t, repo, "prod-curry", domain.VariantFull); got != 10 {
		t.Fatalf("expected curry full stock restored to 10, got %d", got)
	}
}

func TestReleaseSkipsVariantsNoLongerSold(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	priced, err := engine.Reserve(ctx, []domain.SaleLine{
		{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 2},
		{ProductID: "prod-curry", Variant: domain.VariantHalf, Qty: 3},
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	product, err := repo.GetProductByID(ctx, "prod-curry")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	flipped := *product
	flipped.Solo = true
	if _, err := repo.UpdateProduct(ctx, flipped); err != nil {
		t.Fatalf("flip product to solo: %v", err)
	}

	// The half credit has nowhere to go; the full credit must still land.
	if err := engine.Release(ctx, priced); err != nil {
		t.Fatalf("release after solo flip failed: %v", err)
	}
	if got := variantStock(t, repo, "prod-curry", domain.VariantFull); got != 10 {
		t.Fatalf("expected full stock restored to 10, got %d", got)
	}
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	// 10 full plates of curry; 20 goroutines each try to take 1.
	const workers = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Reserve(ctx, []domain.SaleLine{
				{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 1},
			})
			if err == nil {
				successes <- struct{}{}
			} else if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected reserve error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(successes)

	granted := 0
	for range successes {
		granted++
	}
	if granted != 10 {
		t.Fatalf("expected exactly 10 successful reservations, got %d", granted)
	}
	if got := variantStock(t, repo, "prod-curry", domain.VariantFull); got != 0 {
		t.Fatalf("expected full stock 0 after contention, got %d", got)
	}
}

func TestAggregateDeltasFoldsDuplicates(t *testing.T) {
	deltas := aggregateDeltas([]domain.SaleLine{
		{ProductID: "a", Variant: domain.VariantFull, Qty: 2},
		{ProductID: "a", Variant: domain.VariantFull, Qty: 3},
		{ProductID: "a", Variant: domain.VariantHalf, Qty: 1},
		{ProductID: "b", Variant: domain.VariantFull, Qty: 4},
	}, -1)

	if len(deltas) != 3 {
		t.Fatalf("expected 3 aggregated deltas, got %d", len(deltas))
	}
	if deltas[0].ProductID != "a" || deltas[0].Variant != domain.VariantFull || deltas[0].Qty != -5 {
		t.Fatalf("unexpected first delta: %+v", deltas[0])
	}
	if deltas[1].Qty != -1 || deltas[2].Qty != -4 {
		t.Fatalf("unexpected deltas: %+v", deltas)
	}
}
