// Package stock implements the inventory reconciliation engine: the rules
// that turn sale line items into validated, atomic stock debits and credits
// against the product catalog.
package stock

import (
	"context"
	"fmt"
	"log"
	"strings"

	"dhabapos/backend/internal/domain"
	"dhabapos/backend/internal/store"
)

// InsufficientStockError reports which product and variant could not cover a
// requested quantity. It unwraps to store.ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Variant     string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s (%s plate): requested %d, available %d", name, e.Variant, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return store.ErrInsufficientStock }

// InvalidVariantError reports a line item naming a variant the product does
// not sell (a half plate of a solo product, or an unknown variant string).
// It unwraps to store.ErrInvalidVariant.
type InvalidVariantError struct {
	ProductID   string
	ProductName string
	Variant     string
}

func (e *InvalidVariantError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("product %s does not sell a %q plate", name, e.Variant)
}

func (e *InvalidVariantError) Unwrap() error { return store.ErrInvalidVariant }

// ProductNotFoundError reports a line item referencing a product id that does
// not exist. It unwraps to store.ErrNotFound.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return store.ErrNotFound }

// Engine validates sale line items against the catalog and applies the
// resulting stock movements through the repository. Every mutation goes
// through ApplyStockDeltas, whose batch is atomic per call, so a reservation
// either debits every line or debits nothing.
type Engine struct {
	repo store.Repository
}

func NewEngine(repo store.Repository) *Engine {
	return &Engine{repo: repo}
}

// ValidateLines checks the shape of the line items without touching the
// catalog: at least one line, a product id and positive quantity on each, and
// a known variant name. Callers that mutate stock in stages run this first so
// a malformed request is rejected before any counter moves.
func ValidateLines(items []domain.SaleLine) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: no line items", store.ErrInvalidSale)
	}
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Qty < 1 {
			return fmt.Errorf("%w: every line needs a product id and a positive quantity", store.ErrInvalidSale)
		}
		if item.Variant != domain.VariantFull && item.Variant != domain.VariantHalf {
			return &InvalidVariantError{ProductID: id, Variant: item.Variant}
		}
	}
	return nil
}

// Quote validates the shape of the line items, resolves each against the
// catalog and returns the lines with unit prices snapshotted from the current
// product record, plus the subtotal. Quote never mutates stock. Availability
// is checked here too, so callers get a precise product/variant error before
// any debit is attempted; the authoritative check is repeated atomically by
// Reserve.
func (e *Engine) Quote(ctx context.Context, items []domain.SaleLine) ([]domain.SaleLine, int64, error) {
	if err := ValidateLines(items); err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	products, err := e.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	// Availability is judged against the requested totals per (product,
	// variant), not per line, so two lines for the same plate cannot each
	// pass individually while jointly overdrawing the counter.
	requested := make(map[string]map[string]int, len(ids))
	priced := make([]domain.SaleLine, 0, len(items))
	subtotal := int64(0)
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		product, exists := products[id]
		if !exists {
			return nil, 0, &ProductNotFoundError{ProductID: id}
		}

		available, ok := product.VariantStock(item.Variant)
		if !ok {
			return nil, 0, &InvalidVariantError{ProductID: id, ProductName: product.Name, Variant: item.Variant}
		}
		if requested[id] == nil {
			requested[id] = make(map[string]int, 2)
		}
		requested[id][item.Variant] += item.Qty
		if want := requested[id][item.Variant]; available < want {
			return nil, 0, &InsufficientStockError{
				ProductID:   id,
				ProductName: product.Name,
				Variant:     item.Variant,
				Requested:   want,
				Available:   available,
			}
		}

		price, _ := product.VariantPrice(item.Variant)
		priced = append(priced, domain.SaleLine{
			ProductID:      id,
			Variant:        item.Variant,
			Qty:            item.Qty,
			UnitPriceCents: price,
		})
		subtotal += price * int64(item.Qty)
	}

	return priced, subtotal, nil
}

// Reserve validates the items and debits every line's variant counter in one
// atomic batch. On success it returns the priced lines for the caller to
// persist on the sale record. On any failure no counter has moved.
func (e *Engine) Reserve(ctx context.Context, items []domain.SaleLine) ([]domain.SaleLine, error) {
	priced, _, err := e.Quote(ctx, items)
	if err != nil {
		return nil, err
	}

	if err := e.repo.ApplyStockDeltas(ctx, aggregateDeltas(priced, -1)); err != nil {
		return nil, err
	}
	return priced, nil
}

// Release credits every line's variant counter, reversing a prior
// reservation. Credits have no stock-bound failure mode; lines whose product
// has since been deleted, or whose variant the product no longer sells, are
// dropped by the store (logged here for the operator's benefit, nothing
// more).
func (e *Engine) Release(ctx context.Context, items []domain.SaleLine) error {
	if len(items) == 0 {
		return nil
	}

	err := e.repo.ApplyStockDeltas(ctx, aggregateDeltas(items, 1))
	if err != nil {
		log.Printf("[stock] WARN: release did not apply cleanly: %v", err)
		return err
	}
	return nil
}

// aggregateDeltas folds line items into one signed delta per
// (product, variant), multiplied by sign (-1 debit, +1 credit). A single
// store call per (product, variant) keeps the read-modify-write on each
// counter atomic regardless of how the caller split the lines.
func aggregateDeltas(items []domain.SaleLine, sign int) []domain.StockDelta {
	type key struct {
		id      string
		variant string
	}
	totals := make(map[key]int, len(items))
	order := make([]key, 0, len(items))
	for _, item := range items {
		k := key{id: item.ProductID, variant: item.Variant}
		if _, ok := totals[k]; !ok {
			order = append(order, k)
		}
		totals[k] += item.Qty * sign
	}

	deltas := make([]domain.StockDelta, 0, len(order))
	for _, k := range order {
		deltas = append(deltas, domain.StockDelta{ProductID: k.id, Variant: k.variant, Qty: totals[k]})
	}
	return deltas
}
