package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rl1809/table-order/internal/core/domain"
	"github.com/rl1809/table-order/internal/logger"
	"github.com/rl1809/table-order/internal/port"
)

// Catalog caches the backend menu for ttl and collapses concurrent misses
// into a single request.
type Catalog struct {
	gateway port.OrderGateway
	ttl     time.Duration
	log     *logger.Logger
	now     func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	cats      []domain.Category
	fetchedAt time.Time
}

func NewCatalog(gateway port.OrderGateway, ttl time.Duration, log *logger.Logger) *Catalog {
	return &Catalog{gateway: gateway, ttl: ttl, log: log, now: time.Now}
}

func (c *Catalog) Menus(ctx context.Context) ([]domain.Category, error) {
	if cats, ok := c.cached(); ok {
		return cats, nil
	}

	v, err := c.shared(ctx, "menus", func(ctx context.Context) (any, error) {
		if cats, ok := c.cached(); ok {
			return cats, nil
		}
		cats, err := c.gateway.FetchMenus(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cats = cats
		c.fetchedAt = c.now()
		c.mu.Unlock()

		c.log.Debug("catalog_refreshed", "menu catalog refreshed", slog.Int("categories", len(cats)))
		return cats, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Category), nil
}

// Search filters the catalog by a case-insensitive name keyword.
func (c *Catalog) Search(ctx context.Context, keyword string) ([]domain.Category, error) {
	cats, err := c.Menus(ctx)
	if err != nil {
		return nil, err
	}
	return domain.FilterCategories(cats, keyword), nil
}

// Menu returns one item, from the cached catalog when it is there.
func (c *Catalog) Menu(ctx context.Context, id int64) (domain.MenuItem, error) {
	if cats, ok := c.cached(); ok {
		if item, found := domain.FindMenu(cats, id); found {
			return item, nil
		}
	}

	v, err := c.shared(ctx, "menu:"+strconv.FormatInt(id, 10), func(ctx context.Context) (any, error) {
		return c.gateway.FetchMenu(ctx, id)
	})
	if err != nil {
		return domain.MenuItem{}, err
	}
	return v.(domain.MenuItem), nil
}

// Invalidate forces the next call to refetch.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cats = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// shared runs fn once per key for all concurrent callers. The fetch is
// detached from the caller that started it, bounded by the gateway's own
// timeout, and each caller stops waiting when its own ctx is done.
func (c *Catalog) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *Catalog) cached() ([]domain.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cats == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.cats, true
}
