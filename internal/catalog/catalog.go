// Package catalog resolves products for the order form and caches them.
package catalog

import (
	"context"
	"time"

	"utilitysign/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Lookup fetches a product from the backend
type Lookup interface {
	LookupProduct(ctx context.Context, productID string) (*model.Product, error)
}

// Options configures the catalog
type Options struct {
	Size int
	TTL  time.Duration
	// BusinessProducts are always treated as business products
	BusinessProducts []string
	// SportsProduct is the designated sports-sponsorship product
	SportsProduct string
}

// Catalog caches product lookups. Failed lookups are not cached.
type Catalog struct {
	lookup   Lookup
	cache    *expirable.LRU[string, model.Product]
	business map[string]bool
	sports   string
}

func New(lookup Lookup, opts Options) *Catalog {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	business := make(map[string]bool, len(opts.BusinessProducts))
	for _, id := range opts.BusinessProducts {
		business[id] = true
	}
	return &Catalog{
		lookup:   lookup,
		cache:    expirable.NewLRU[string, model.Product](opts.Size, nil, opts.TTL),
		business: business,
		sports:   opts.SportsProduct,
	}
}

// Product returns the product with id. An empty id yields nil without error.
func (c *Catalog) Product(ctx context.Context, id string) (*model.Product, error) {
	if id == "" {
		return nil, nil
	}
	if p, ok := c.cache.Get(id); ok {
		return &p, nil
	}

	p, err := c.lookup.LookupProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &model.Product{ID: id}
	}
	out := *p
	if c.business[id] {
		out.IsBusiness = true
	}
	if c.sports != "" && id == c.sports {
		out.IsSportsSponsorship = true
	}
	c.cache.Add(id, out)
	return &out, nil
}

// Purge drops every cached product
func (c *Catalog) Purge() {
	c.cache.Purge()
}
