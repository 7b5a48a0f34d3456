package authzcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/rbac"
)

// PermissionSource computes a member's effective permissions from the
// database. orgs.Store implements it.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, orgID, userID int64) ([]string, error)
}

// RoleSource lists an organization's roles. rbac.Store implements it.
type RoleSource interface {
	ListRoles(ctx context.Context, orgID int64) ([]*rbac.OrganizationRole, error)
}

// Config configures cache sizes, lifetimes and the invalidation channel
type Config struct {
	L1Size  int
	L1TTL   time.Duration
	L2TTL   time.Duration
	Channel string
}

// DefaultConfig returns the defaults used when a field is left zero
func DefaultConfig() Config {
	return Config{
		L1Size:  10000,
		L1TTL:   time.Minute,
		L2TTL:   10 * time.Minute,
		Channel: "authz:invalidate",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.L1Size <= 0 {
		c.L1Size = d.L1Size
	}
	if c.L1TTL <= 0 {
		c.L1TTL = d.L1TTL
	}
	if c.L2TTL <= 0 {
		c.L2TTL = d.L2TTL
	}
	if c.Channel == "" {
		c.Channel = d.Channel
	}
	return c
}

// PermissionSet is a sorted, de-duplicated list of permission names
type PermissionSet []string

// Has reports whether name is in the set
func (p PermissionSet) Has(name string) bool {
	i := sort.SearchStrings(p, name)
	return i < len(p) && p[i] == name
}

func newPermissionSet(names []string) PermissionSet {
	set := make(PermissionSet, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		set = append(set, name)
	}
	sort.Strings(set)
	return set
}

func userKey(orgID, userID int64) string {
	return fmt.Sprintf("authz:org:%d:user:%d", orgID, userID)
}

func rolesKey(orgID int64) string {
	return fmt.Sprintf("authz:org:%d:roles", orgID)
}

func tenantPrefix(orgID int64) string {
	return fmt.Sprintf("authz:org:%d:", orgID)
}

// generationKey lives outside tenantPrefix so tenant purges keep it
func generationKey(orgID int64) string {
	return fmt.Sprintf("authz:gen:%d", orgID)
}

// setIfGeneration writes KEYS[2] only while KEYS[1] still holds the
// generation the load started under.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Cache is the two-tier authorization cache
type Cache struct {
	cfg     Config
	rdb     redis.UniversalClient
	perms   PermissionSource
	roles   RoleSource
	logger  *observability.Logger
	metrics *observability.Metrics

	users     *lru.LRU[string, PermissionSet]
	roleLists *lru.LRU[string, []*rbac.OrganizationRole]
	group     singleflight.Group
	origin    string

	mu   sync.Mutex
	gens map[int64]uint64

	pubsub *redis.PubSub
}

var (
	_ rbac.RoleCache        = (*Cache)(nil)
	_ orgs.AuthzInvalidator = (*Cache)(nil)
)

// New creates a cache. rdb may be nil, in which case only the in-process
// tier is used.
func New(cfg Config, rdb redis.UniversalClient, perms PermissionSource, roles RoleSource, logger *observability.Logger, metrics *observability.Metrics) *Cache {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Cache{
		cfg:       cfg,
		rdb:       rdb,
		perms:     perms,
		roles:     roles,
		logger:    logger.WithField("component", "authzcache"),
		metrics:   metrics,
		users:     lru.NewLRU[string, PermissionSet](cfg.L1Size, nil, cfg.L1TTL),
		roleLists: lru.NewLRU[string, []*rbac.OrganizationRole](cfg.L1Size, nil, cfg.L1TTL),
		origin:    uuid.NewString(),
		gens:      make(map[int64]uint64),
	}
}

func (c *Cache) generation(orgID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[orgID]
}

func (c *Cache) bump(orgID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[orgID]++
}

// GetEffectivePermissions returns the permissions userID holds in orgID.
// Inactive or missing memberships have an empty set.
func (c *Cache) GetEffectivePermissions(ctx context.Context, orgID, userID int64) (perms PermissionSet, err error) {
	const op = "authz.GetEffectivePermissions"
	ctx, o := observability.StartOperation(ctx, c.metrics, c.logger.WithOrg(orgID).WithUser(userID), op,
		attribute.Int64("tenancy.org_id", orgID),
		attribute.Int64("tenancy.user_id", userID))
	defer func() { o.End(err) }()

	perms, err = lookup(ctx, c, c.users, orgID, userKey(orgID, userID), func(ctx context.Context) (PermissionSet, error) {
		names, err := c.perms.EffectivePermissions(ctx, orgID, userID)
		if err != nil {
			return nil, err
		}
		return newPermissionSet(names), nil
	})
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to compute permissions").Wrap(err)
	}
	return perms, nil
}

// HasPermission reports whether userID holds permission in orgID
func (c *Cache) HasPermission(ctx context.Context, orgID, userID int64, permission string) (bool, error) {
	perms, err := c.GetEffectivePermissions(ctx, orgID, userID)
	if err != nil {
		return false, err
	}
	return perms.Has(permission), nil
}

// GetOrganizationRoles returns the roles of orgID with their permissions.
// The returned roles are shared; callers must not modify them.
func (c *Cache) GetOrganizationRoles(ctx context.Context, orgID int64) (roles []*rbac.OrganizationRole, err error) {
	const op = "authz.GetOrganizationRoles"
	ctx, o := observability.StartOperation(ctx, c.metrics, c.logger.WithOrg(orgID), op,
		attribute.Int64("tenancy.org_id", orgID))
	defer func() { o.End(err) }()

	roles, err = lookup(ctx, c, c.roleLists, orgID, rolesKey(orgID), func(ctx context.Context) ([]*rbac.OrganizationRole, error) {
		roles, err := c.roles.ListRoles(ctx, orgID)
		if roles == nil && err == nil {
			roles = []*rbac.OrganizationRole{}
		}
		return roles, err
	})
	if err != nil {
		return nil, apperrors.Unknown(op, "failed to list roles").Wrap(err)
	}
	return roles, nil
}

// lookup reads key through L1, L2 and compute. Concurrent misses of the same
// key and generation share one load. A result is only kept if no
// invalidation of orgID, on this instance or any other, happened while it
// was loading.
func lookup[T any](ctx context.Context, c *Cache, l1 *lru.LRU[string, T], orgID int64, key string, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := l1.Get(key); ok {
		c.metrics.RecordCacheHit(observability.TierLocal)
		return v, nil
	}
	c.metrics.RecordCacheMiss(observability.TierLocal)

	gen := c.generation(orgID)
	v, err, _ := c.group.Do(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		var cached T
		if c.getL2(ctx, key, &cached) {
			keepL1(c, l1, orgID, gen, key, cached)
			return cached, nil
		}

		shared, sharedOK := c.sharedGeneration(ctx, orgID)
		loaded, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if c.setL2(ctx, orgID, gen, shared, sharedOK, key, loaded) {
			keepL1(c, l1, orgID, gen, key, loaded)
		}
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func keepL1[T any](c *Cache, l1 *lru.LRU[string, T], orgID int64, gen uint64, key string, v T) {
	l1.Add(key, v)
	if c.generation(orgID) != gen {
		l1.Remove(key)
	}
}

func (c *Cache) getL2(ctx context.Context, key string, dest any) bool {
	if c.rdb == nil {
		return false
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCacheMiss(observability.TierRedis)
		return false
	}
	if err != nil {
		c.metrics.RecordCacheError(observability.TierRedis, "get")
		c.logger.WithError(err).WithField("key", key).Warn("redis get failed")
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.metrics.RecordCacheError(observability.TierRedis, "decode")
		c.logger.WithError(err).WithField("key", key).Warn("dropping corrupt cache entry")
		c.rdb.Del(ctx, key)
		return false
	}

	c.metrics.RecordCacheHit(observability.TierRedis)
	return true
}

// sharedGeneration reads the Redis generation of orgID. ok is false when
// Redis is unreachable, in which case nothing may be written to L2.
func (c *Cache) sharedGeneration(ctx context.Context, orgID int64) (string, bool) {
	if c.rdb == nil {
		return "", false
	}
	gen, err := c.rdb.Get(ctx, generationKey(orgID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	if err != nil {
		c.metrics.RecordCacheError(observability.TierRedis, "generation")
		c.logger.WithError(err).WithOrg(orgID).Warn("redis generation read failed")
		return "", false
	}
	return gen, true
}

// setL2 stores v unless an invalidation moved the shared or local
// generation since the load started. It returns false when the loaded value
// is known to be stale.
func (c *Cache) setL2(ctx context.Context, orgID int64, gen uint64, shared string, sharedOK bool, key string, v any) bool {
	if c.rdb == nil || !sharedOK {
		return true
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.metrics.RecordCacheError(observability.TierRedis, "encode")
		c.logger.WithError(err).WithField("key", key).Warn("failed to encode cache entry")
		return true
	}

	stored, err := setIfGeneration.Run(ctx, c.rdb,
		[]string{generationKey(orgID), key},
		shared, data, c.cfg.L2TTL.Milliseconds()).Int()
	if err != nil {
		c.metrics.RecordCacheError(observability.TierRedis, "set")
		c.logger.WithError(err).WithField("key", key).Warn("redis set failed")
		return true
	}
	if stored == 0 {
		c.logger.WithOrg(orgID).WithField("key", key).Debug("discarding load that raced an invalidation")
		return false
	}

	// a local invalidation may have run between the script and here
	if c.generation(orgID) != gen {
		c.rdb.Del(ctx, key)
		return false
	}
	return true
}

// Scope names what an invalidation covers
type Scope string

const (
	ScopeUser         Scope = "user"
	ScopeRoles        Scope = "roles"
	ScopeRoleDeletion Scope = "role_deletion"
	ScopeTenant       Scope = "tenant"
)

type invalidation struct {
	Origin  string  `json:"origin"`
	Scope   Scope   `json:"scope"`
	OrgID   int64   `json:"org_id"`
	UserIDs []int64 `json:"user_ids,omitempty"`
}

// InvalidateUser drops the cached permissions of one member
func (c *Cache) InvalidateUser(ctx context.Context, orgID, userID int64) {
	c.invalidate(ctx, invalidation{Scope: ScopeUser, OrgID: orgID, UserIDs: []int64{userID}})
}

// InvalidateRoles drops the cached role listing of orgID
func (c *Cache) InvalidateRoles(ctx context.Context, orgID int64) {
	c.invalidate(ctx, invalidation{Scope: ScopeRoles, OrgID: orgID})
}

// InvalidateRoleDeletion drops the role listing and the entries of every
// member that held the deleted role
func (c *Cache) InvalidateRoleDeletion(ctx context.Context, orgID int64, holderIDs []int64) {
	c.invalidate(ctx, invalidation{Scope: ScopeRoleDeletion, OrgID: orgID, UserIDs: holderIDs})
}

// InvalidateTenant drops every entry of orgID
func (c *Cache) InvalidateTenant(ctx context.Context, orgID int64) {
	c.invalidate(ctx, invalidation{Scope: ScopeTenant, OrgID: orgID})
}

func (c *Cache) invalidate(ctx context.Context, msg invalidation) {
	msg.Origin = c.origin
	c.bump(msg.OrgID)
	c.purgeLocal(msg)
	c.metrics.RecordCacheInvalidation(string(msg.Scope))

	if c.rdb == nil {
		return
	}

	logger := c.logger.WithOrg(msg.OrgID).WithField("scope", string(msg.Scope))
	if err := c.purgeRedis(ctx, msg); err != nil {
		c.metrics.RecordCacheError(observability.TierRedis, "invalidate")
		logger.WithError(err).Error("failed to invalidate redis entries")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logger.WithError(err).Error("failed to encode invalidation")
		return
	}
	if err := c.rdb.Publish(ctx, c.cfg.Channel, payload).Err(); err != nil {
		c.metrics.RecordCacheError(observability.TierRedis, "publish")
		logger.WithError(err).Error("failed to publish invalidation")
	}
}

func (c *Cache) purgeLocal(msg invalidation) {
	if msg.Scope != ScopeUser {
		c.roleLists.Remove(rolesKey(msg.OrgID))
	}
	for _, userID := range msg.UserIDs {
		c.users.Remove(userKey(msg.OrgID, userID))
	}
	if msg.Scope == ScopeTenant {
		prefix := tenantPrefix(msg.OrgID)
		for _, key := range c.users.Keys() {
			if strings.HasPrefix(key, prefix) {
				c.users.Remove(key)
			}
		}
	}
}

func (c *Cache) purgeRedis(ctx context.Context, msg invalidation) error {
	// bumped before deleting so an in-flight load cannot write back after the delete
	if err := c.rdb.Incr(ctx, generationKey(msg.OrgID)).Err(); err != nil {
		c.metrics.RecordCacheError(observability.TierRedis, "generation")
		c.logger.WithError(err).WithOrg(msg.OrgID).Warn("failed to bump shared generation")
	}

	if msg.Scope == ScopeTenant {
		pattern := tenantPrefix(msg.OrgID) + "*"
		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
		}
		return nil
	}

	var keys []string
	if msg.Scope != ScopeUser {
		keys = append(keys, rolesKey(msg.OrgID))
	}
	for _, userID := range msg.UserIDs {
		keys = append(keys, userKey(msg.OrgID, userID))
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
