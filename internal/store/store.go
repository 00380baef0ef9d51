package store

import (
	"context"
	"errors"
	"time"

	"dhabapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidVariant    = errors.New("invalid variant")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrConflict          = errors.New("conflict")
)

// Repository is the persistence boundary shared by the postgres and in-memory
// stores.
//
// ApplyStockDeltas is the contract the reconciliation engine leans on: the
// whole batch is applied atomically with respect to concurrent callers, a
// debit that would push a variant counter negative fails the entire batch
// with ErrInsufficientStock, a debit against a missing product fails with
// ErrNotFound, and a credit against a missing product is silently skipped
// (the product is gone; its stock is moot). A credit against a variant the
// product no longer sells (flipped to solo since the sale) is skipped the
// same way, so the rest of the batch still lands. Implementations recompute
// total_stock via domain.TotalStock whenever a variant counter changes.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	ReorderProducts(ctx context.Context, ids []string) error
	ApplyStockDeltas(ctx context.Context, deltas []domain.StockDelta) error
	CountSalesReferencingProduct(ctx context.Context, productID string) (int, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error
	ListSales(ctx context.Context) ([]domain.Sale, error)
	ListSalesByCreator(ctx context.Context, username string) ([]domain.Sale, error)
	ListSalesInRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)

	CreateOrderTaker(ctx context.Context, taker domain.OrderTaker) (*domain.OrderTaker, error)
	GetOrderTakerByID(ctx context.Context, id string) (*domain.OrderTaker, error)
	UpdateOrderTaker(ctx context.Context, taker domain.OrderTaker) (*domain.OrderTaker, error)
	DeleteOrderTaker(ctx context.Context, id string) error
	ListOrderTakers(ctx context.Context) ([]domain.OrderTaker, error)

	CreateActivity(ctx context.Context, entry domain.Activity) error
	ListActivities(ctx context.Context, limit int) ([]domain.Activity, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	DeleteUser(ctx context.Context, username string) error
	UpdateUserPassword(ctx context.Context, username string, password string) error
	TouchUserLogin(ctx context.Context, username string, at time.Time, logout bool) error
}
