package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
)

var (
	// ErrProductNotFound is returned when a product id is unknown.
	ErrProductNotFound = errors.New("product not found")
	// ErrCustomerNotFound is returned when a customer id is unknown.
	ErrCustomerNotFound = errors.New("customer not found")
)

// Reader is the read side of the catalog used by pricing and settlement.
type Reader interface {
	Product(ctx context.Context, id string) (Product, error)
	Customer(ctx context.Context, id string) (Customer, error)
}

// LoadProduct reads a product straight from the store, bypassing any cache.
func LoadProduct(ctx context.Context, store docstore.Store, id string) (Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Product{}, fmt.Errorf("empty product id: %w", ErrProductNotFound)
	}
	snap, err := store.Get(ctx, docstore.Doc(ProductsCollection, id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Product{}, fmt.Errorf("product %s: %w", id, ErrProductNotFound)
		}
		return Product{}, err
	}
	var p Product
	if err := snap.DataTo(&p); err != nil {
		return Product{}, err
	}
	p.ID = snap.ID
	Normalize(&p)
	return p, nil
}

// Service reads and maintains products and customers.
type Service struct {
	Store    docstore.Store
	Cache    *Cache
	Validate *validator.Validate
	Logger   *zerolog.Logger
}

var _ Reader = (*Service)(nil)

func (s *Service) ready() error {
	if s == nil || s.Store == nil {
		return errors.New("catalog service not configured")
	}
	return nil
}

// Product returns a normalized product, served from cache when possible.
func (s *Service) Product(ctx context.Context, id string) (Product, error) {
	if err := s.ready(); err != nil {
		return Product{}, err
	}
	hit, ok, err := cached[Product](ctx, s.Cache, productKey(id))
	if ok {
		return hit, nil
	}
	if err != nil && s.Logger != nil {
		s.Logger.Warn().Err(err).Str("product_id", id).Msg("product cache read failed")
	}
	p, err := LoadProduct(ctx, s.Store, id)
	if err != nil {
		return Product{}, err
	}
	if err := s.Cache.put(ctx, productKey(id), p); err != nil && s.Logger != nil {
		s.Logger.Warn().Err(err).Str("product_id", id).Msg("product cache write failed")
	}
	return p, nil
}

// ListProducts returns products ordered by name.
func (s *Service) ListProducts(ctx context.Context, limit int) ([]Product, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	snaps, err := s.Store.Query(ctx, docstore.Query{Collection: ProductsCollection, OrderBy: "name", Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	out := make([]Product, 0, len(snaps))
	for _, snap := range snaps {
		var p Product
		if err := snap.DataTo(&p); err != nil {
			return nil, err
		}
		p.ID = snap.ID
		Normalize(&p)
		out = append(out, p)
	}
	return out, nil
}

// SaveProduct normalizes, validates and stores p.
func (s *Service) SaveProduct(ctx context.Context, p Product) (Product, error) {
	if err := s.ready(); err != nil {
		return Product{}, err
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = docstore.NewID()
	}
	Normalize(&p)
	if err := s.validate(p); err != nil {
		return Product{}, err
	}
	if err := s.Store.Set(ctx, docstore.Doc(ProductsCollection, p.ID), p); err != nil {
		return Product{}, fmt.Errorf("save product: %w", err)
	}
	if err := s.Cache.forget(ctx, productKey(p.ID)); err != nil && s.Logger != nil {
		s.Logger.Warn().Err(err).Str("product_id", p.ID).Msg("product cache invalidation failed")
	}
	return p, nil
}

// Customer returns a customer by id.
func (s *Service) Customer(ctx context.Context, id string) (Customer, error) {
	if err := s.ready(); err != nil {
		return Customer{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Customer{}, fmt.Errorf("empty customer id: %w", ErrCustomerNotFound)
	}
	if hit, ok, _ := cached[Customer](ctx, s.Cache, customerKey(id)); ok {
		return hit, nil
	}
	snap, err := s.Store.Get(ctx, docstore.Doc(CustomersCollection, id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Customer{}, fmt.Errorf("customer %s: %w", id, ErrCustomerNotFound)
		}
		return Customer{}, err
	}
	var c Customer
	if err := snap.DataTo(&c); err != nil {
		return Customer{}, err
	}
	c.ID = snap.ID
	_ = s.Cache.put(ctx, customerKey(id), c)
	return c, nil
}

// ListCustomers returns customers, optionally restricted to one delivery route.
func (s *Service) ListCustomers(ctx context.Context, routeID string, limit int) ([]Customer, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q := docstore.Query{Collection: CustomersCollection, OrderBy: "firstName", Limit: limit}
	if routeID = strings.TrimSpace(routeID); routeID != "" {
		q.Where = []docstore.Filter{{Field: "routeId", Value: routeID}}
	}
	snaps, err := s.Store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	out := make([]Customer, 0, len(snaps))
	for _, snap := range snaps {
		var c Customer
		if err := snap.DataTo(&c); err != nil {
			return nil, err
		}
		c.ID = snap.ID
		out = append(out, c)
	}
	return out, nil
}

// SaveCustomer validates and stores c.
func (s *Service) SaveCustomer(ctx context.Context, c Customer) (Customer, error) {
	if err := s.ready(); err != nil {
		return Customer{}, err
	}
	if strings.TrimSpace(c.ID) == "" {
		c.ID = docstore.NewID()
	}
	if err := s.validate(c); err != nil {
		return Customer{}, err
	}
	if err := s.Store.Set(ctx, docstore.Doc(CustomersCollection, c.ID), c); err != nil {
		return Customer{}, fmt.Errorf("save customer: %w", err)
	}
	_ = s.Cache.forget(ctx, customerKey(c.ID))
	return c, nil
}

func (s *Service) validate(v any) error {
	validate := s.Validate
	if validate == nil {
		validate = common.NewValidator()
	}
	if err := validate.Struct(v); err != nil {
		return common.ValidationError(err)
	}
	return nil
}
