package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

const (
	// DefaultMemberTTL bounds how long a fetched member is reused
	DefaultMemberTTL = 30 * time.Second
	// DefaultMemberCacheSize bounds the number of fetched members kept
	DefaultMemberCacheSize = 10_000
)

// Resolver answers member lookups cache first. Incomplete or missing cache
// entries fall back to a network fetch; concurrent fetches for the same
// member share one request.
type Resolver struct {
	client  Client
	gateway Cache
	fetched *lru.LRU[string, *MemberInfo]
	group   singleflight.Group
	metrics *observability.Metrics
}

// ResolverOptions tunes the fetched-member cache
type ResolverOptions struct {
	TTL       time.Duration
	CacheSize int
	Metrics   *observability.Metrics
}

// NewResolver creates a resolver. gateway may be nil.
func NewResolver(client Client, gateway Cache, opts ResolverOptions) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = DefaultMemberTTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultMemberCacheSize
	}

	return &Resolver{
		client:  client,
		gateway: gateway,
		fetched: lru.NewLRU[string, *MemberInfo](opts.CacheSize, nil, opts.TTL),
		metrics: opts.Metrics,
	}
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

// Member returns the member's platform data
func (r *Resolver) Member(ctx context.Context, guildID, userID string) (*MemberInfo, error) {
	if r.gateway != nil {
		if m, ok := r.gateway.CachedMember(guildID, userID); ok && m.Complete() {
			r.metrics.ObserveMemberLookup("gateway", "hit")
			return m, nil
		}
	}

	key := memberKey(guildID, userID)
	if m, ok := r.fetched.Get(key); ok {
		r.metrics.ObserveMemberLookup("cache", "hit")
		return m, nil
	}
	return r.fetch(ctx, guildID, userID)
}

// Refresh fetches the member from the platform, skipping both caches, and
// remembers the result for later lookups
func (r *Resolver) Refresh(ctx context.Context, guildID, userID string) (*MemberInfo, error) {
	r.Forget(guildID, userID)
	return r.fetch(ctx, guildID, userID)
}

func (r *Resolver) fetch(ctx context.Context, guildID, userID string) (*MemberInfo, error) {
	key := memberKey(guildID, userID)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		// Detached from the first caller so its cancellation does not fail
		// everyone waiting on the same fetch
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return r.client.FetchMember(fetchCtx, guildID, userID)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrLookup, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			r.metrics.ObserveMemberLookup("fetch", "error")
			if errors.Is(res.Err, ErrMemberNotFound) {
				return nil, res.Err
			}
			return nil, fmt.Errorf("%w: %w", ErrLookup, res.Err)
		}
		m, _ := res.Val.(*MemberInfo)
		if m == nil {
			return nil, ErrMemberNotFound
		}
		r.fetched.Add(key, m)
		r.metrics.ObserveMemberLookup("fetch", "ok")
		return m, nil
	}
}

// Forget drops a fetched member so the next lookup goes to the platform
func (r *Resolver) Forget(guildID, userID string) {
	r.fetched.Remove(memberKey(guildID, userID))
}
