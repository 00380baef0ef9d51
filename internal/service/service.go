package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"dhabapos/backend/internal/cache"
	"dhabapos/backend/internal/domain"
	"dhabapos/backend/internal/stock"
	"dhabapos/backend/internal/store"
	"dhabapos/backend/internal/xid"

	"golang.org/x/crypto/bcrypt"
)

// ErrForbidden is returned when the acting user's role does not permit the
// requested operation.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const catalogCacheKey = "catalog:products"

type Service struct {
	repo       store.Repository
	engine     *stock.Engine
	catalog    cache.CatalogCache
	catalogTTL time.Duration
}

func New(repo store.Repository, engine *stock.Engine, catalog cache.CatalogCache, catalogTTL time.Duration) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		engine:     engine,
		catalog:    catalog,
		catalogTTL: catalogTTL,
	}
}

func (s *Service) requireAction(ctx context.Context, action string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	if !domain.Allowed(actor.Role, action) {
		return actor, fmt.Errorf("%w: role %s may not %s", ErrForbidden, actor.Role, action)
	}
	return actor, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if cached, hit, err := s.catalog.Get(ctx, catalogCacheKey); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: catalog cache read failed: %v", err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.Set(ctx, catalogCacheKey, products, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed: %v", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := s.requireAction(ctx, domain.ActionProductManage); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.FullPriceCents < 1 {
		return domain.Product{}, store.ErrInvalidSale
	}
	if !req.Solo && req.HalfPriceCents < 1 {
		return domain.Product{}, store.ErrInvalidSale
	}
	if req.FullStock < 0 || req.HalfStock < 0 {
		return domain.Product{}, store.ErrInvalidSale
	}

	product := domain.Product{
		Name:           req.Name,
		Category:       strings.TrimSpace(req.Category),
		Barcode:        strings.TrimSpace(req.Barcode),
		ImageURL:       strings.TrimSpace(req.ImageURL),
		FullPriceCents: req.FullPriceCents,
		HalfPriceCents: req.HalfPriceCents,
		FullStock:      req.FullStock,
		HalfStock:      req.HalfStock,
		Solo:           req.Solo,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logActivity(ctx, "product_create:"+created.ID)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := s.requireAction(ctx, domain.ActionProductManage); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.ImageURL != nil {
		updated.ImageURL = strings.TrimSpace(*req.ImageURL)
	}
	if req.FullPriceCents != nil {
		if *req.FullPriceCents < 1 {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.FullPriceCents = *req.FullPriceCents
	}
	if req.HalfPriceCents != nil {
		if *req.HalfPriceCents < 0 {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.HalfPriceCents = *req.HalfPriceCents
	}
	if req.FullStock != nil {
		if *req.FullStock < 0 {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.FullStock = *req.FullStock
	}
	if req.HalfStock != nil {
		if *req.HalfStock < 0 {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.HalfStock = *req.HalfStock
	}
	if req.Solo != nil {
		updated.Solo = *req.Solo
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logActivity(ctx, "product_update:"+saved.ID)
	return *saved, nil
}

// DeleteProduct refuses to remove a product that still appears on recorded
// sales; deleting it would orphan their line items and make later edits of
// those sales unable to restore stock.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.requireAction(ctx, domain.ActionProductManage); err != nil {
		return err
	}

	referencing, err := s.repo.CountSalesReferencingProduct(ctx, id)
	if err != nil {
		return err
	}
	if referencing > 0 {
		return fmt.Errorf("%w: product is referenced by %d sale(s)", store.ErrConflict, referencing)
	}

	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	s.invalidateCatalog(ctx)
	s.logActivity(ctx, "product_delete:"+id)
	return nil
}

func (s *Service) ReorderProducts(ctx context.Context, req domain.ProductReorderRequest) error {
	if _, err := s.requireAction(ctx, domain.ActionProductManage); err != nil {
		return err
	}
	if len(req.Order) == 0 {
		return store.ErrInvalidSale
	}

	seen := make(map[string]struct{}, len(req.Order))
	for _, id := range req.Order {
		if strings.TrimSpace(id) == "" {
			return store.ErrInvalidSale
		}
		if _, dup := seen[id]; dup {
			return store.ErrInvalidSale
		}
		seen[id] = struct{}{}
	}

	if err := s.repo.ReorderProducts(ctx, req.Order); err != nil {
		return err
	}

	s.invalidateCatalog(ctx)
	s.logActivity(ctx, "product_reorder")
	return nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, err := s.requireAction(ctx, domain.ActionSaleCreate)
	if err != nil {
		return domain.Sale{}, err
	}

	priced, err := s.engine.Reserve(ctx, req.Items)
	if err != nil {
		return domain.Sale{}, err
	}

	total := req.TotalCents
	if total <= 0 {
		for _, line := range priced {
			total += line.UnitPriceCents * int64(line.Qty)
		}
	}

	sale := domain.Sale{
		ID:            xid.New("sale"),
		Items:         priced,
		TotalCents:    total,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		OrderType:     strings.TrimSpace(req.OrderType),
		OrderTaker:    strings.TrimSpace(req.OrderTaker),
		CreatedBy:     actor.Username,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		// Persisting failed after the debit went through; put the
		// stock back so the counters do not drift.
		if releaseErr := s.engine.Release(ctx, priced); releaseErr != nil {
			log.Printf("[service] WARN: failed to release stock after sale persist error: %v", releaseErr)
		}
		return domain.Sale{}, err
	}

	s.invalidateCatalog(ctx)
	s.logActivity(ctx, "sale_create:"+created.ID)
	return *created, nil
}

// UpdateSale releases the stored line items, reserves the new ones and
// overwrites the sale. If the new reservation fails the release is kept: the
// old sale's plates go back on the counter and the caller sees the stock
// error, mirroring how a counter edit plays out on paper.
func (s *Service) UpdateSale(ctx context.Context, id string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	actor, err := s.requireAction(ctx, domain.ActionSaleUpdate)
	if err != nil {
		return domain.Sale{}, err
	}

	existing, err := s.getVisibleSale(ctx, actor, id)
	if err != nil {
		return domain.Sale{}, err
	}

	// Reject malformed line lists before the old debit is credited back;
	// only availability may fail once the release has gone through.
	if err := stock.ValidateLines(req.Items); err != nil {
		return domain.Sale{}, err
	}

	if err := s.engine.Release(ctx, existing.Items); err != nil {
		return domain.Sale{}, err
	}

	priced, err := s.engine.Reserve(ctx, req.Items)
	if err != nil {
		return domain.Sale{}, err
	}

	total := req.TotalCents
	if total <= 0 {
		for _, line := range priced {
			total += line.UnitPriceCents * int64(line.Qty)
		}
	}

	updated := *existing
	updated.Items = priced
	updated.TotalCents = total
	if method := strings.TrimSpace(req.PaymentMethod); method != "" {
		updated.PaymentMethod = method
	}
	if orderType := strings.TrimSpace(req.OrderType); orderType != "" {
		updated.OrderType = orderType
	}
	if taker := strings.TrimSpace(req.OrderTaker); taker != "" {
		updated.OrderTaker = taker
	}

	saved, err := s.repo.UpdateSale(ctx, updated)
	if err != nil {
		if releaseErr := s.engine.Release(ctx, priced); releaseErr != nil {
			log.Printf("[service] WARN: failed to release stock after sale update error: %v", releaseErr)
		}
		return domain.Sale{}, err
	}

	s.invalidateCatalog(ctx)
	s.logActivity(ctx, "sale_update:"+saved.ID)
	return *saved, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) error {
	actor, err := s.requireAction(ctx, domain.ActionSaleDelete)
	if err != nil {
		return err
	}

	existing, err := s.getVisibleSale(ctx, actor, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}

	if err := s.engine.Release(ctx, existing.Items); err != nil {
		log.Printf("[service] WARN: failed to release stock for deleted sale %s: %v", id, err)
	}

	s.invalidateCatalog(ctx)
	s.logActivity(ctx, "sale_delete:"+id)
	return nil
}

// DeleteSalesInRange removes every sale created in [from, to) and releases
// each one's stock. Failures on individual sales are logged and skipped so a
// partial purge still reports how far it got.
func (s *Service) DeleteSalesInRange(ctx context.Context, from time.Time, to time.Time) (int, error) {
	if _, err := s.requireAction(ctx, domain.ActionSaleBulkDelete); err != nil {
		return 0, err
	}
	if !from.Before(to) {
		return 0, store.ErrInvalidSale
	}

	sales, err := s.repo.ListSalesInRange(ctx, from, to)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, sale := range sales {
		if err := s.repo.DeleteSale(ctx, sale.ID); err != nil {
			log.Printf("[service] WARN: range delete skipped sale %s: %v", sale.ID, err)
			continue
		}
		if err := s.engine.Release(ctx, sale.Items); err != nil {
			log.Printf("[service] WARN: failed to release stock for deleted sale %s: %v", sale.ID, err)
		}
		deleted++
	}

	if deleted > 0 {
		s.invalidateCatalog(ctx)
	}
	s.logActivity(ctx, fmt.Sprintf("sale_range_delete:%d", deleted))
	return deleted, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, ErrForbidden
	}

	sale, err := s.getVisibleSale(ctx, actor, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales returns every sale for roles with the list-all action, otherwise
// only the caller's own.
func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}

	if domain.Allowed(actor.Role, domain.ActionSaleListAll) {
		return s.repo.ListSales(ctx)
	}
	return s.repo.ListSalesByCreator(ctx, actor.Username)
}

func (s *Service) ListSalesGrouped(ctx context.Context) (domain.GroupedSalesResponse, error) {
	if _, err := s.requireAction(ctx, domain.ActionSaleListAll); err != nil {
		return domain.GroupedSalesResponse{}, err
	}

	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return domain.GroupedSalesResponse{}, err
	}

	grouped := domain.GroupedSalesResponse{ByCreator: make(map[string][]domain.Sale)}
	for _, sale := range sales {
		grouped.ByCreator[sale.CreatedBy] = append(grouped.ByCreator[sale.CreatedBy], sale)
	}
	return grouped, nil
}

// getVisibleSale loads the sale and hides other users' sales from roles
// without the list-all action. A hidden sale reads as not found rather than
// forbidden so ids are not probeable.
func (s *Service) getVisibleSale(ctx context.Context, actor domain.Actor, id string) (*domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.Allowed(actor.Role, domain.ActionSaleListAll) && sale.CreatedBy != actor.Username {
		return nil, store.ErrNotFound
	}
	return sale, nil
}

func (s *Service) ListOrderTakers(ctx context.Context) ([]domain.OrderTaker, error) {
	return s.repo.ListOrderTakers(ctx)
}

func (s *Service) CreateOrderTaker(ctx context.Context, req domain.OrderTakerCreateRequest) (domain.OrderTaker, error) {
	if _, err := s.requireAction(ctx, domain.ActionOrderTakerManage); err != nil {
		return domain.OrderTaker{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.OrderTaker{}, store.ErrInvalidSale
	}
	if req.BalanceCents < 0 {
		return domain.OrderTaker{}, store.ErrInvalidSale
	}

	created, err := s.repo.CreateOrderTaker(ctx, domain.OrderTaker{
		Name:         req.Name,
		Phone:        strings.TrimSpace(req.Phone),
		BalanceCents: req.BalanceCents,
		ImageURL:     strings.TrimSpace(req.ImageURL),
	})
	if err != nil {
		return domain.OrderTaker{}, err
	}

	s.logActivity(ctx, "ordertaker_create:"+created.ID)
	return *created, nil
}

// UpdateOrderTaker lets managing roles change anything; roles holding only
// the balance action may adjust the balance and nothing else.
func (s *Service) UpdateOrderTaker(ctx context.Context, id string, req domain.OrderTakerUpdateRequest) (domain.OrderTaker, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.OrderTaker{}, ErrForbidden
	}

	canManage := domain.Allowed(actor.Role, domain.ActionOrderTakerManage)
	canBalance := domain.Allowed(actor.Role, domain.ActionOrderTakerBalance)
	if !canManage && !canBalance {
		return domain.OrderTaker{}, ErrForbidden
	}
	if !canManage && (req.Name != nil || req.Phone != nil || req.ImageURL != nil) {
		return domain.OrderTaker{}, fmt.Errorf("%w: role %s may only adjust the balance", ErrForbidden, actor.Role)
	}

	existing, err := s.repo.GetOrderTakerByID(ctx, id)
	if err != nil {
		return domain.OrderTaker{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.OrderTaker{}, store.ErrInvalidSale
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.ImageURL != nil {
		updated.ImageURL = strings.TrimSpace(*req.ImageURL)
	}
	if req.BalanceCents != nil {
		if *req.BalanceCents < 0 {
			return domain.OrderTaker{}, store.ErrInvalidSale
		}
		updated.BalanceCents = *req.BalanceCents
	}

	saved, err := s.repo.UpdateOrderTaker(ctx, updated)
	if err != nil {
		return domain.OrderTaker{}, err
	}

	s.logActivity(ctx, "ordertaker_update:"+saved.ID)
	return *saved, nil
}

func (s *Service) DeleteOrderTaker(ctx context.Context, id string) error {
	if _, err := s.requireAction(ctx, domain.ActionOrderTakerManage); err != nil {
		return err
	}

	if err := s.repo.DeleteOrderTaker(ctx, id); err != nil {
		return err
	}

	s.logActivity(ctx, "ordertaker_delete:"+id)
	return nil
}

func (s *Service) CreateAdmin(ctx context.Context, req domain.AdminCreateRequest) (domain.UserView, error) {
	if _, err := s.requireAction(ctx, domain.ActionUserManage); err != nil {
		return domain.UserView{}, err
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(req.Password) < 8 {
		return domain.UserView{}, store.ErrInvalidSale
	}
	if err := validatePIN(req.PIN); err != nil {
		return domain.UserView{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserView{}, err
	}
	pinHash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserView{}, err
	}

	now := time.Now().UTC()
	account := domain.UserAccount{
		Username:  username,
		Password:  string(passwordHash),
		PIN:       string(pinHash),
		Role:      domain.RoleAdmin,
		Site:      strings.TrimSpace(req.Site),
		CreatedAt: now,
	}
	if err := s.repo.CreateUser(ctx, account); err != nil {
		return domain.UserView{}, err
	}

	s.logActivity(ctx, "admin_create:"+username)
	return domain.UserView{Username: username, Role: account.Role, Site: account.Site, CreatedAt: now}, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserView, error) {
	if _, err := s.requireAction(ctx, domain.ActionUserManage); err != nil {
		return nil, err
	}

	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]domain.UserView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, domain.UserView{
			Username:  account.Username,
			Role:      account.Role,
			Site:      account.Site,
			LastLogin: account.LastLogin,
			CreatedAt: account.CreatedAt,
		})
	}
	return views, nil
}

func (s *Service) DeleteUser(ctx context.Context, username string) error {
	actor, err := s.requireAction(ctx, domain.ActionUserManage)
	if err != nil {
		return err
	}

	username = strings.ToLower(strings.TrimSpace(username))
	if username == actor.Username {
		return fmt.Errorf("%w: cannot delete own account", store.ErrInvalidSale)
	}

	target, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if target.Role == domain.RoleSuperadmin {
		return fmt.Errorf("%w: superadmin accounts cannot be deleted", ErrForbidden)
	}

	if err := s.repo.DeleteUser(ctx, username); err != nil {
		return err
	}

	s.logActivity(ctx, "admin_delete:"+username)
	return nil
}

func (s *Service) ListActivities(ctx context.Context, limit int) ([]domain.Activity, error) {
	if _, err := s.requireAction(ctx, domain.ActionActivityView); err != nil {
		return nil, err
	}
	return s.repo.ListActivities(ctx, limit)
}

// RecordActivity is used by the auth layer to log login and logout events
// under the authenticated user's own name.
func (s *Service) RecordActivity(ctx context.Context, action string) {
	s.logActivity(ctx, action)
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.catalog.Invalidate(ctx, catalogCacheKey); err != nil {
		log.Printf("[service] WARN: catalog cache invalidation failed: %v", err)
	}
}

// logActivity records the entry best-effort; a failed write never fails the
// operation that triggered it.
func (s *Service) logActivity(ctx context.Context, action string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateActivity(ctx, domain.Activity{
		ID:        xid.New("act"),
		Username:  actor.Username,
		Role:      actor.Role,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to record activity %q: %v", action, err)
	}
}

func validatePIN(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return fmt.Errorf("%w: pin must be 4 to 8 digits", store.ErrInvalidSale)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: pin must be digits only", store.ErrInvalidSale)
		}
	}
	return nil
}
