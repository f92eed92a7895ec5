package storage

import (
	"context"
	"slices"

	"campaign-progress-engine/internal/batch"
	"campaign-progress-engine/internal/cache"
	"campaign-progress-engine/internal/engine"
)

// Cache holds the last loaded campaign catalog. Reads never block writers.
type Cache struct {
	snap cache.Snapshot[[]engine.CampaignWithRules]
}

var (
	_ batch.Catalog   = (*Cache)(nil)
	_ batch.SlugIndex = (*Cache)(nil)
)

func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) GetCampaigns() []engine.CampaignWithRules {
	v, _ := c.snap.Load()
	return slices.Clone(v)
}

func (c *Cache) UpdateCampaigns(campaigns []engine.CampaignWithRules) {
	c.snap.Store(slices.Clone(campaigns))
}

// ActiveCampaigns serves the catalog from memory.
func (c *Cache) ActiveCampaigns(context.Context) ([]engine.CampaignWithRules, error) {
	return c.GetCampaigns(), nil
}

// BySlug finds a catalog entry by its slug.
func (c *Cache) BySlug(slug string) (engine.CampaignWithRules, bool) {
	v, _ := c.snap.Load()
	for _, entry := range v {
		if entry.Campaign.Slug == slug {
			return entry, true
		}
	}
	return engine.CampaignWithRules{}, false
}
