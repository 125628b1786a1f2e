package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/k811069/Bunny-serve-sub001/internal/content"
	"github.com/k811069/Bunny-serve-sub001/internal/metacache"
	"github.com/k811069/Bunny-serve-sub001/internal/observe"
)

// Catalog answers content requests (songs, stories) against a search backend,
// keeping the per-domain category lists in a shared metadata cache so that
// repeated "what can you play" turns do not hit the database.
type Catalog struct {
	store   content.Store
	urls    *content.URLBuilder
	meta    *metacache.Cache
	maxAge  time.Duration
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewCatalog wires a Catalog against store. meta is typically the worker's
// metadata cache so session handlers and HTTP handlers share entries.
func NewCatalog(store content.Store, urls *content.URLBuilder, meta *metacache.Cache, maxAge time.Duration, metrics *observe.Metrics, log *slog.Logger) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("worker: catalog requires a store")
	}
	if urls == nil {
		urls = &content.URLBuilder{}
	}
	if meta == nil {
		meta = metacache.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{store: store, urls: urls, meta: meta, maxAge: maxAge, metrics: metrics, log: log}, nil
}

// Search runs a semantic query over domain and returns ranked results.
// Zero results is a normal outcome and yields an empty slice.
func (c *Catalog) Search(ctx context.Context, domain, query, category string, limit int) ([]content.RankedResult, error) {
	if limit <= 0 {
		limit = 5
	}
	raw, err := c.store.SearchByQuery(ctx, domain, query, category, limit)
	if err != nil {
		return nil, fmt.Errorf("worker: search %s: %w", domain, err)
	}
	return content.Rank(query, raw, c.urls), nil
}

// Random picks one item from domain, optionally restricted to category.
// The second result is false when the domain holds no matching items.
func (c *Catalog) Random(ctx context.Context, domain, category string) (content.RankedResult, bool, error) {
	raw, ok, err := c.store.RandomItem(ctx, domain, category)
	if err != nil {
		return content.RankedResult{}, false, fmt.Errorf("worker: random %s: %w", domain, err)
	}
	if !ok {
		return content.RankedResult{}, false, nil
	}
	ranked := content.Rank("", []content.RawResult{raw}, c.urls)
	return ranked[0], true, nil
}

// Categories returns the category list for domain, served from the metadata
// cache while fresh and refreshed from the store otherwise. A refresh failure
// with a stale entry present falls back to the stale list.
func (c *Catalog) Categories(ctx context.Context, domain string) ([]string, error) {
	if c.meta.IsValid(domain, c.maxAge) {
		if v, ok := c.meta.Get(domain); ok {
			c.recordLookup(ctx, domain, "hit")
			return v.([]string), nil
		}
	}
	c.recordLookup(ctx, domain, "miss")

	cats, err := c.store.ListCategories(ctx, domain)
	if err != nil {
		if v, ok := c.meta.Get(domain); ok {
			age, _ := c.meta.Age(domain)
			c.log.Warn("category refresh failed, serving stale list",
				"domain", domain, "age", age, "error", err)
			return v.([]string), nil
		}
		return nil, fmt.Errorf("worker: list %s categories: %w", domain, err)
	}
	c.meta.Put(domain, cats)
	return cats, nil
}

func (c *Catalog) recordLookup(ctx context.Context, domain, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(ctx, domain, outcome)
	}
}
