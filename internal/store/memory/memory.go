package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dhabapos/backend/internal/domain"
	"dhabapos/backend/internal/store"
	"dhabapos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productOrder    []string
	salesByID       map[string]*domain.Sale
	orderTakersByID map[string]domain.OrderTaker
	activities      []domain.Activity
	usersByUsername map[string]domain.UserAccount
	nextSortOrder   int
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials are read from SEED_SUPERADMIN_PASSWORD, SEED_ADMIN_PASSWORD and
// SEED_ADMIN_PIN. If unset, hardcoded dev defaults are used with a warning
// printed to stdout. These credentials are never used in production (the
// backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	superPwd := envOr("SEED_SUPERADMIN_PASSWORD", "super123")
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	adminPIN := envOr("SEED_ADMIN_PIN", "4321")
	if os.Getenv("SEED_SUPERADMIN_PASSWORD") == "" || os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_SUPERADMIN_PASSWORD, SEED_ADMIN_PASSWORD and SEED_ADMIN_PIN to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		pin      string
		role     string
		site     string
	}{
		{"owner", superPwd, "", domain.RoleSuperadmin, ""},
		{"counter", adminPwd, adminPIN, domain.RoleAdmin, "main"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		account := domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Site:      u.site,
			CreatedAt: now,
		}
		if u.pin != "" {
			pinHash, err := bcrypt.GenerateFromPassword([]byte(u.pin), bcrypt.DefaultCost)
			if err != nil {
				log.Fatalf("[memory-store] failed to hash seed pin for %s: %v", u.username, err)
			}
			account.PIN = string(pinHash)
		}
		users[u.username] = account
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-butter-chicken", Name: "Butter Chicken", Category: "mains", FullPriceCents: 32000, HalfPriceCents: 18000, FullStock: 24, HalfStock: 30},
		{ID: "prod-dal-makhani", Name: "Dal Makhani", Category: "mains", FullPriceCents: 22000, HalfPriceCents: 13000, FullStock: 30, HalfStock: 40},
		{ID: "prod-paneer-tikka", Name: "Paneer Tikka", Category: "starters", FullPriceCents: 26000, HalfPriceCents: 15000, FullStock: 20, HalfStock: 24},
		{ID: "prod-chicken-biryani", Name: "Chicken Biryani", Category: "rice", FullPriceCents: 28000, HalfPriceCents: 16000, FullStock: 26, HalfStock: 32},
		{ID: "prod-tandoori-roti", Name: "Tandoori Roti", Category: "breads", FullPriceCents: 2500, FullStock: 200, Solo: true},
		{ID: "prod-butter-naan", Name: "Butter Naan", Category: "breads", FullPriceCents: 4000, FullStock: 150, Solo: true},
		{ID: "prod-lassi", Name: "Sweet Lassi", Category: "beverages", FullPriceCents: 8000, FullStock: 60, Solo: true},
		{ID: "prod-masala-chai", Name: "Masala Chai", Category: "beverages", FullPriceCents: 3000, FullStock: 120, Solo: true},
		{ID: "prod-mixed-veg", Name: "Mixed Veg Curry", Category: "mains", FullPriceCents: 18000, HalfPriceCents: 11000, FullStock: 22, HalfStock: 28},
		{ID: "prod-gulab-jamun", Name: "Gulab Jamun", Category: "desserts", FullPriceCents: 9000, HalfPriceCents: 5000, FullStock: 40, HalfStock: 40},
	}

	productMap := make(map[string]domain.Product, len(products))
	order := make([]string, 0, len(products))
	for i, p := range products {
		p.SortOrder = i
		p.CreatedAt = now
		p.TotalStock = domain.TotalStock(p)
		productMap[p.ID] = p
		order = append(order, p.ID)
	}

	takers := []domain.OrderTaker{
		{ID: "taker-raju", Name: "Raju", Phone: "+91-98000-11111", BalanceCents: 0, CreatedAt: now},
		{ID: "taker-sonu", Name: "Sonu", Phone: "+91-98000-22222", BalanceCents: 50000, CreatedAt: now},
	}
	takerMap := make(map[string]domain.OrderTaker, len(takers))
	for _, t := range takers {
		takerMap[t.ID] = t
	}

	return &Store{
		products:        productMap,
		productOrder:    order,
		salesByID:       make(map[string]*domain.Sale),
		orderTakersByID: takerMap,
		activities:      make([]domain.Activity, 0, 128),
		usersByUsername: seedUsers(),
		nextSortOrder:   len(products),
	}
}

// NewEmpty returns a store with no seed data. Tests use it to control the
// catalog exactly.
func NewEmpty() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		salesByID:       make(map[string]*domain.Sale),
		orderTakersByID: make(map[string]domain.OrderTaker),
		activities:      make([]domain.Activity, 0, 16),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.SortOrder == b.SortOrder {
			return cmpString(a.ID, b.ID)
		}
		if a.SortOrder < b.SortOrder {
			return -1
		}
		return 1
	})

	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.FullPriceCents < 1 {
		return nil, store.ErrInvalidSale
	}
	if !product.Solo && product.HalfPriceCents < 1 {
		return nil, store.ErrInvalidSale
	}
	if product.FullStock < 0 || product.HalfStock < 0 {
		return nil, store.ErrInvalidSale
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if product.Solo {
		product.HalfStock = 0
		product.HalfPriceCents = 0
	}
	product.SortOrder = s.nextSortOrder
	s.nextSortOrder++
	product.TotalStock = domain.TotalStock(product)

	s.products[product.ID] = product
	s.productOrder = append(s.productOrder, product.ID)
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(product.Name) == "" || product.FullPriceCents < 1 {
		return nil, store.ErrInvalidSale
	}
	if product.FullStock < 0 || product.HalfStock < 0 {
		return nil, store.ErrInvalidSale
	}
	current, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	product.SortOrder = current.SortOrder
	product.CreatedAt = current.CreatedAt
	if product.Solo {
		product.HalfStock = 0
		product.HalfPriceCents = 0
	}
	product.TotalStock = domain.TotalStock(product)

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	s.productOrder = slices.DeleteFunc(s.productOrder, func(pid string) bool { return pid == id })
	return nil
}

func (s *Store) ReorderProducts(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, exists := s.products[id]; !exists {
			return store.ErrNotFound
		}
	}

	position := make(map[string]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}

	// Products absent from the request keep their relative order after the
	// listed ones.
	next := len(ids)
	for _, id := range s.productOrder {
		if _, listed := position[id]; !listed {
			position[id] = next
			next++
		}
	}

	for id, p := range s.products {
		p.SortOrder = position[id]
		s.products[id] = p
	}
	order := make([]string, 0, len(s.products))
	for id := range s.products {
		order = append(order, id)
	}
	slices.SortFunc(order, func(a, b string) int {
		if position[a] == position[b] {
			return cmpString(a, b)
		}
		if position[a] < position[b] {
			return -1
		}
		return 1
	})
	s.productOrder = order
	s.nextSortOrder = next
	return nil
}

// ApplyStockDeltas applies the whole batch under one lock. It first verifies
// every debit against the current counters and touches nothing if any line
// fails, so concurrent callers see either all movements or none.
func (s *Store) ApplyStockDeltas(_ context.Context, deltas []domain.StockDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]domain.Product, len(deltas))

	for _, delta := range deltas {
		if delta.Qty == 0 {
			continue
		}
		product, exists := s.products[delta.ProductID]
		if !exists {
			if delta.Qty > 0 {
				continue
			}
			return store.ErrNotFound
		}
		if st, ok := staged[delta.ProductID]; ok {
			product = st
		}
		current, ok := product.VariantStock(delta.Variant)
		if !ok {
			// A credit for a variant the product no longer sells (flipped
			// to solo since the sale) is moot; only debits fail the batch.
			if delta.Qty > 0 {
				continue
			}
			return store.ErrInvalidVariant
		}
		if current+delta.Qty < 0 {
			return store.ErrInsufficientStock
		}
		switch delta.Variant {
		case domain.VariantFull:
			product.FullStock = current + delta.Qty
		case domain.VariantHalf:
			product.HalfStock = current + delta.Qty
		}
		staged[delta.ProductID] = product
	}

	for id, product := range staged {
		product.TotalStock = domain.TotalStock(product)
		s.products[id] = product
	}
	return nil
}

func (s *Store) CountSalesReferencingProduct(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sale := range s.salesByID {
		for _, line := range sale.Items {
			if line.ProductID == productID {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.UpdatedAt = sale.CreatedAt

	s.salesByID[sale.ID] = cloneSale(&sale)
	return cloneSale(s.salesByID[sale.ID]), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.salesByID[sale.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidSale
	}

	sale.CreatedBy = current.CreatedBy
	sale.CreatedAt = current.CreatedAt
	sale.UpdatedAt = time.Now().UTC()

	s.salesByID[sale.ID] = cloneSale(&sale)
	return cloneSale(s.salesByID[sale.ID]), nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.salesByID, id)
	return nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectSales(func(*domain.Sale) bool { return true }), nil
}

func (s *Store) ListSalesByCreator(_ context.Context, username string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectSales(func(sale *domain.Sale) bool { return sale.CreatedBy == username }), nil
}

func (s *Store) ListSalesInRange(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectSales(func(sale *domain.Sale) bool {
		return !sale.CreatedAt.Before(from) && sale.CreatedAt.Before(to)
	}), nil
}

// collectSales copies matching sales sorted newest first. Callers hold the
// lock.
func (s *Store) collectSales(match func(*domain.Sale) bool) []domain.Sale {
	result := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if !match(sale) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result
}

func (s *Store) CreateOrderTaker(_ context.Context, taker domain.OrderTaker) (*domain.OrderTaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taker.Name = strings.TrimSpace(taker.Name)
	if taker.Name == "" {
		return nil, store.ErrInvalidSale
	}
	if taker.ID == "" {
		taker.ID = xid.New("taker")
	}
	if _, exists := s.orderTakersByID[taker.ID]; exists {
		return nil, store.ErrConflict
	}
	if taker.CreatedAt.IsZero() {
		taker.CreatedAt = time.Now().UTC()
	}

	s.orderTakersByID[taker.ID] = taker
	created := taker
	return &created, nil
}

func (s *Store) GetOrderTakerByID(_ context.Context, id string) (*domain.OrderTaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	taker, exists := s.orderTakersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyTaker := taker
	return &copyTaker, nil
}

func (s *Store) UpdateOrderTaker(_ context.Context, taker domain.OrderTaker) (*domain.OrderTaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.orderTakersByID[taker.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(taker.Name) == "" {
		return nil, store.ErrInvalidSale
	}
	taker.CreatedAt = current.CreatedAt

	s.orderTakersByID[taker.ID] = taker
	updated := taker
	return &updated, nil
}

func (s *Store) DeleteOrderTaker(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orderTakersByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.orderTakersByID, id)
	return nil
}

func (s *Store) ListOrderTakers(_ context.Context) ([]domain.OrderTaker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	takers := make([]domain.OrderTaker, 0, len(s.orderTakersByID))
	for _, taker := range s.orderTakersByID {
		takers = append(takers, taker)
	}
	slices.SortFunc(takers, func(a, b domain.OrderTaker) int {
		return cmpString(a.Name, b.Name)
	})
	return takers, nil
}

func (s *Store) CreateActivity(_ context.Context, entry domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("act")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.activities = append(s.activities, entry)
	return nil
}

func (s *Store) ListActivities(_ context.Context, limit int) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Activity, len(s.activities))
	copy(result, s.activities)
	slices.SortFunc(result, func(a, b domain.Activity) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleAdmin
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if _, exists := s.usersByUsername[username]; !exists {
		return store.ErrNotFound
	}
	delete(s.usersByUsername, username)
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) TouchUserLogin(_ context.Context, username string, at time.Time, logout bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	stamp := at.UTC()
	if logout {
		user.LastLogout = &stamp
	} else {
		user.LastLogin = &stamp
	}
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleLine, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}
