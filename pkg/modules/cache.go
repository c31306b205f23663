package modules

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of cached enablement entries
const DefaultCacheSize = 100_000

// Invalidator drops cached enablement state. Implementations must have
// applied the invalidation locally before returning.
type Invalidator interface {
	Invalidate(ctx context.Context, guildID, moduleID string) error
	InvalidateGuild(ctx context.Context, guildID string) error
	InvalidateAll(ctx context.Context) error
}

type cacheKey struct {
	guildID  string
	moduleID string
	command  string // empty for the module entry
}

// EnablementCache remembers whether modules and commands are enabled per
// guild. Entries never expire; they are only dropped by invalidation or
// size-bound eviction.
type EnablementCache struct {
	registry *Registry
	source   ConfigSource

	mu      sync.Mutex
	entries *lru.Cache[cacheKey, bool]
	byGuild map[string]map[cacheKey]struct{}

	// generation is bumped by every invalidation; fills that started under an
	// older generation are discarded
	generation uint64
}

// NewEnablementCache creates a cache reading misses from source
func NewEnablementCache(registry *Registry, source ConfigSource, size int) (*EnablementCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	c := &EnablementCache{
		registry: registry,
		source:   source,
		byGuild:  make(map[string]map[cacheKey]struct{}),
	}

	entries, err := lru.NewWithEvict[cacheKey, bool](size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create enablement cache: %w", err)
	}
	c.entries = entries

	return c, nil
}

// onEvict runs inside lru calls, which are always made with c.mu held
func (c *EnablementCache) onEvict(key cacheKey, _ bool) {
	keys := c.byGuild[key.guildID]
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.byGuild, key.guildID)
	}
}

// IsModuleEnabled reports whether a module is active for a guild. An explicit
// row wins; otherwise the module's default applies.
func (c *EnablementCache) IsModuleEnabled(ctx context.Context, guildID, moduleID string) (bool, error) {
	mod, err := c.registry.Descriptor(moduleID)
	if err != nil {
		return false, err
	}

	key := cacheKey{guildID: guildID, moduleID: moduleID}
	return c.get(key, func() (bool, error) {
		cfg, err := c.source.GetModuleConfig(ctx, guildID, moduleID)
		if err != nil {
			return false, err
		}
		if cfg == nil {
			return mod.DefaultEnabled, nil
		}
		return !cfg.Disabled, nil
	})
}

// IsCommandEnabled reports whether a command is active for a guild. Commands
// without an explicit row are enabled.
func (c *EnablementCache) IsCommandEnabled(ctx context.Context, guildID, command string) (bool, error) {
	cmd, err := c.registry.Command(command)
	if err != nil {
		return false, err
	}

	key := cacheKey{guildID: guildID, moduleID: cmd.ModuleID, command: cmd.QualifiedName}
	return c.get(key, func() (bool, error) {
		cfg, err := c.source.GetCommandConfig(ctx, guildID, cmd.QualifiedName)
		if err != nil {
			return false, err
		}
		if cfg == nil {
			return true, nil
		}
		return !cfg.Disabled, nil
	})
}

func (c *EnablementCache) get(key cacheKey, load func() (bool, error)) (bool, error) {
	c.mu.Lock()
	if enabled, ok := c.entries.Get(key); ok {
		c.mu.Unlock()
		return enabled, nil
	}
	gen := c.generation
	c.mu.Unlock()

	enabled, err := load()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.entries.Add(key, enabled)
		keys, ok := c.byGuild[key.guildID]
		if !ok {
			keys = make(map[cacheKey]struct{})
			c.byGuild[key.guildID] = keys
		}
		keys[key] = struct{}{}
	}
	return enabled, nil
}

// Invalidate drops the module entry and every command entry of that module
// for one guild
func (c *EnablementCache) Invalidate(guildID, moduleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	for key := range c.byGuild[guildID] {
		if key.moduleID == moduleID {
			c.entries.Remove(key)
		}
	}
}

// InvalidateGuild drops every entry of a guild
func (c *EnablementCache) InvalidateGuild(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	for key := range c.byGuild[guildID] {
		c.entries.Remove(key)
	}
	delete(c.byGuild, guildID)
}

// InvalidateAll empties the cache
func (c *EnablementCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.entries.Purge()
	c.byGuild = make(map[string]map[cacheKey]struct{})
}

// Len returns the number of cached entries
func (c *EnablementCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

type localInvalidator struct {
	cache *EnablementCache
}

// NewLocalInvalidator invalidates only the in-process cache
func NewLocalInvalidator(cache *EnablementCache) Invalidator {
	return localInvalidator{cache: cache}
}

func (l localInvalidator) Invalidate(_ context.Context, guildID, moduleID string) error {
	l.cache.Invalidate(guildID, moduleID)
	return nil
}

func (l localInvalidator) InvalidateGuild(_ context.Context, guildID string) error {
	l.cache.InvalidateGuild(guildID)
	return nil
}

func (l localInvalidator) InvalidateAll(_ context.Context) error {
	l.cache.InvalidateAll()
	return nil
}
