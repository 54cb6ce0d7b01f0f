// Package catalog is the read-only view of service types used by the scheduler.
package catalog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/store"
)

// ErrUnknownServiceType is returned for ids that are not in the catalog.
var ErrUnknownServiceType = errors.New("unknown service type")

// Catalog resolves service types.
type Catalog interface {
	Get(ctx context.Context, id int64) (model.ServiceType, error)
	List(ctx context.Context) ([]model.ServiceType, error)
}

// Source is the subset of the store the catalog reads from.
type Source interface {
	GetServiceType(ctx context.Context, id int64) (model.ServiceType, error)
	ListServiceTypes(ctx context.Context) ([]model.ServiceType, error)
}

// Cached serves catalog lookups from memory for ttl before asking the source again.
type Cached struct {
	src   Source
	cache *cache.Cache
	ttl   time.Duration
}

// NewCached wraps src with an in-memory cache.
func NewCached(src Source, ttl time.Duration) *Cached {
	return &Cached{
		src:   src,
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

const listKey = "all"

func (c *Cached) Get(ctx context.Context, id int64) (model.ServiceType, error) {
	key := strconv.FormatInt(id, 10)
	if v, found := c.cache.Get(key); found {
		return v.(model.ServiceType), nil
	}

	st, err := c.src.GetServiceType(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.ServiceType{}, ErrUnknownServiceType
		}
		return model.ServiceType{}, err
	}
	c.cache.Set(key, st, c.ttl)
	return st, nil
}

func (c *Cached) List(ctx context.Context) ([]model.ServiceType, error) {
	if v, found := c.cache.Get(listKey); found {
		return v.([]model.ServiceType), nil
	}
	types, err := c.src.ListServiceTypes(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(listKey, types, c.ttl)
	return types, nil
}

// Flush drops every cached entry.
func (c *Cached) Flush() {
	c.cache.Flush()
}
