// Package authzcache caches authorization data derived from memberships and
// roles.
//
// The cache is never a source of truth. It holds two kinds of entries:
//
//	authz:org:{orgID}:user:{userID}   sorted effective permission names
//	authz:org:{orgID}:roles           the organization's roles with permissions
//
// Reads go through an in-process LRU (L1), then Redis (L2), then the
// PermissionSource. Concurrent misses for the same key share one load.
//
// Invalidation is synchronous for the calling instance: L1 and L2 are cleared
// before the invalidating call returns, and a message is published on the
// invalidation channel so other instances drop their L1 copies.
//
// Every invalidation also increments the organization's shared generation
// (authz:gen:{orgID}) before deleting keys. A load records the generation
// before reading the database and writes to Redis through a compare-and-set
// script, so a load that started before an invalidation on any instance
// never writes its result back.
package authzcache
