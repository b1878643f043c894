package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Source fetches the full rule set from the exchange. The binance
// adapter implements this over exchange-info.
type Source interface {
	FetchRules(ctx context.Context) (map[string]SymbolRules, error)
}

// Cache holds the latest successfully fetched rule set. Refreshes run
// on their own timer; a failed refresh keeps the previous data and is
// retried next interval. The reconcile loop only ever reads.
type Cache struct {
	mu        sync.RWMutex
	rules     map[string]SymbolRules
	refreshed time.Time

	src Source
	log *slog.Logger
}

func NewCache(src Source, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		rules: make(map[string]SymbolRules),
		src:   src,
		log:   log,
	}
}

// Rules returns the cached rules for symbol.
func (c *Cache) Rules(symbol string) (SymbolRules, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rules[symbol]
	return r, ok
}

// Age returns how long ago the cache was last successfully refreshed.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.refreshed.IsZero() {
		return -1
	}
	return time.Since(c.refreshed)
}

// Refresh fetches a fresh rule set and swaps it in. On failure the
// previous set is retained.
func (c *Cache) Refresh(ctx context.Context) error {
	fresh, err := c.src.FetchRules(ctx)
	if err != nil {
		return fmt.Errorf("rules: refresh: %w", err)
	}
	c.mu.Lock()
	c.rules = fresh
	c.refreshed = time.Now()
	c.mu.Unlock()
	c.log.Info("market rules refreshed", "symbols", len(fresh))
	return nil
}

// Run refreshes once immediately, then on every interval tick until
// ctx is cancelled. Refresh failures are logged and retried next tick,
// never propagated: the reconcile loop must not block on stale rules.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if err := c.Refresh(ctx); err != nil {
		c.log.Warn("initial rules refresh failed, retrying on interval", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn("rules refresh failed, keeping previous cache",
					"error", err, "cache_age", c.Age())
			}
		}
	}
}
