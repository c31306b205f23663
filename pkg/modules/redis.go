package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// DefaultInvalidationChannel is the pub/sub channel shared by every worker
const DefaultInvalidationChannel = "gatekeeper:enablement:invalidate"

const (
	scopeModule = "module"
	scopeGuild  = "guild"
	scopeAll    = "all"
)

type invalidationMessage struct {
	Origin   string `json:"origin"`
	Scope    string `json:"scope"`
	GuildID  string `json:"guild_id,omitempty"`
	ModuleID string `json:"module_id,omitempty"`
}

// RedisOptions configures the redis connection used for invalidation fan-out
type RedisOptions struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisOptions) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisInvalidator applies invalidations to the local cache and publishes
// them so every other worker process drops the same entries.
type RedisInvalidator struct {
	client  *redis.Client
	cache   *EnablementCache
	channel string
	origin  string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisInvalidator creates an invalidator publishing on channel (the
// default channel when empty)
func NewRedisInvalidator(client *redis.Client, cache *EnablementCache, channel string, logger *observability.Logger, metrics *observability.Metrics) *RedisInvalidator {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisInvalidator{
		client:  client,
		cache:   cache,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
		metrics: metrics,
	}
}

// Invalidate drops one guild's module entries here and everywhere else
func (r *RedisInvalidator) Invalidate(ctx context.Context, guildID, moduleID string) error {
	r.cache.Invalidate(guildID, moduleID)
	r.metrics.ObserveInvalidation(scopeModule, "local")
	return r.publish(ctx, invalidationMessage{Scope: scopeModule, GuildID: guildID, ModuleID: moduleID})
}

// InvalidateGuild drops every entry of a guild here and everywhere else
func (r *RedisInvalidator) InvalidateGuild(ctx context.Context, guildID string) error {
	r.cache.InvalidateGuild(guildID)
	r.metrics.ObserveInvalidation(scopeGuild, "local")
	return r.publish(ctx, invalidationMessage{Scope: scopeGuild, GuildID: guildID})
}

// InvalidateAll empties every worker's cache
func (r *RedisInvalidator) InvalidateAll(ctx context.Context) error {
	r.cache.InvalidateAll()
	r.metrics.ObserveInvalidation(scopeAll, "local")
	return r.publish(ctx, invalidationMessage{Scope: scopeAll})
}

func (r *RedisInvalidator) publish(ctx context.Context, msg invalidationMessage) error {
	msg.Origin = r.origin
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode invalidation: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Subscribe joins the channel and returns once the subscription is
// confirmed. Listen must then be run to apply remote invalidations.
func (r *RedisInvalidator) Subscribe(ctx context.Context) (*redis.PubSub, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	return pubsub, nil
}

// Listen applies invalidations published by other workers until ctx is
// cancelled. It closes pubsub on return.
func (r *RedisInvalidator) Listen(ctx context.Context, pubsub *redis.PubSub) error {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("invalidation channel %s closed", r.channel)
			}
			r.apply(msg.Payload)
		}
	}
}

func (r *RedisInvalidator) apply(payload string) {
	var msg invalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.WithError(err).Warn("Ignoring malformed invalidation message")
		return
	}
	if msg.Origin == r.origin {
		return
	}

	switch msg.Scope {
	case scopeModule:
		r.cache.Invalidate(msg.GuildID, msg.ModuleID)
	case scopeGuild:
		r.cache.InvalidateGuild(msg.GuildID)
	case scopeAll:
		r.cache.InvalidateAll()
	default:
		r.logger.WithField("scope", msg.Scope).Warn("Ignoring invalidation with unknown scope")
		return
	}

	r.metrics.ObserveInvalidation(msg.Scope, "remote")
	r.logger.WithFields(map[string]interface{}{
		"scope":     msg.Scope,
		"guild_id":  msg.GuildID,
		"module_id": msg.ModuleID,
	}).Debug("Applied remote enablement invalidation")
}
