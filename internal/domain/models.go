package domain

import "time"

const (
	VariantFull = "full"
	VariantHalf = "half"
)

const (
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

type Product struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category,omitempty"`
	Barcode        string    `json:"barcode,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	FullPriceCents int64     `json:"full_price_cents"`
	HalfPriceCents int64     `json:"half_price_cents,omitempty"`
	FullStock      int       `json:"full_stock"`
	HalfStock      int       `json:"half_stock"`
	TotalStock     int       `json:"total_stock"`
	Solo           bool      `json:"solo"`
	SortOrder      int       `json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
}

// TotalStock derives the aggregate counter from the variant counters. It is
// the only way total_stock is ever computed; callers must invoke it after
// every variant mutation and store the result.
func TotalStock(p Product) int {
	if p.Solo {
		return p.FullStock
	}
	return p.FullStock + p.HalfStock
}

// VariantStock returns the counter for the given variant. The second return
// is false when the variant does not apply (half against a solo product, or
// an unknown variant name).
func (p Product) VariantStock(variant string) (int, bool) {
	switch variant {
	case VariantFull:
		return p.FullStock, true
	case VariantHalf:
		if p.Solo {
			return 0, false
		}
		return p.HalfStock, true
	default:
		return 0, false
	}
}

// VariantPrice returns the unit price for the given variant.
func (p Product) VariantPrice(variant string) (int64, bool) {
	switch variant {
	case VariantFull:
		return p.FullPriceCents, true
	case VariantHalf:
		if p.Solo {
			return 0, false
		}
		return p.HalfPriceCents, true
	default:
		return 0, false
	}
}

type ProductCreateRequest struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Barcode        string `json:"barcode"`
	ImageURL       string `json:"image_url"`
	FullPriceCents int64  `json:"full_price_cents"`
	HalfPriceCents int64  `json:"half_price_cents"`
	FullStock      int    `json:"full_stock"`
	HalfStock      int    `json:"half_stock"`
	Solo           bool   `json:"solo"`
}

type ProductUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Category       *string `json:"category,omitempty"`
	Barcode        *string `json:"barcode,omitempty"`
	ImageURL       *string `json:"image_url,omitempty"`
	FullPriceCents *int64  `json:"full_price_cents,omitempty"`
	HalfPriceCents *int64  `json:"half_price_cents,omitempty"`
	FullStock      *int    `json:"full_stock,omitempty"`
	HalfStock      *int    `json:"half_stock,omitempty"`
	Solo           *bool   `json:"solo,omitempty"`
}

type ProductReorderRequest struct {
	Order []string `json:"order"`
}

// SaleLine is one line of a sale. UnitPriceCents is the price snapshot taken
// when the sale was created; it is never re-read from the catalog.
type SaleLine struct {
	ProductID      string `json:"product_id"`
	Variant        string `json:"variant"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Sale struct {
	ID            string     `json:"id"`
	Items         []SaleLine `json:"items"`
	TotalCents    int64      `json:"total_cents"`
	PaymentMethod string     `json:"payment_method"`
	OrderType     string     `json:"order_type"`
	OrderTaker    string     `json:"order_taker"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type SaleCreateRequest struct {
	Items         []SaleLine `json:"items"`
	TotalCents    int64      `json:"total_cents"`
	PaymentMethod string     `json:"payment_method"`
	OrderType     string     `json:"order_type"`
	OrderTaker    string     `json:"order_taker"`
}

type SaleUpdateRequest struct {
	Items         []SaleLine `json:"items"`
	TotalCents    int64      `json:"total_cents"`
	PaymentMethod string     `json:"payment_method"`
	OrderType     string     `json:"order_type"`
	OrderTaker    string     `json:"order_taker"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type GroupedSalesResponse struct {
	ByCreator map[string][]Sale `json:"by_creator"`
}

type RangeDeleteResponse struct {
	DeletedCount int `json:"deleted_count"`
}

type OrderTaker struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	BalanceCents int64     `json:"balance_cents"`
	ImageURL     string    `json:"image_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type OrderTakerCreateRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	BalanceCents int64  `json:"balance_cents"`
	ImageURL     string `json:"image_url"`
}

type OrderTakerUpdateRequest struct {
	Name         *string `json:"name,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	BalanceCents *int64  `json:"balance_cents,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PIN      string `json:"pin,omitempty"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AdminCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PIN      string `json:"pin"`
	Site     string `json:"site"`
}

type UserView struct {
	Username  string     `json:"username"`
	Role      string     `json:"role"`
	Site      string     `json:"site,omitempty"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// UserAccount is the internal persistence model for auth credentials.
// Password and PIN hold bcrypt hashes, never plain text.
type UserAccount struct {
	Username   string
	Password   string
	PIN        string
	Role       string
	Site       string
	LastLogin  *time.Time
	LastLogout *time.Time
	CreatedAt  time.Time
}

type Activity struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// StockDelta is one signed adjustment to a variant counter. Negative Qty is a
// debit, positive Qty a credit. Batches handed to Repository.ApplyStockDeltas
// are applied all-or-nothing.
type StockDelta struct {
	ProductID string
	Variant   string
	Qty       int
}
