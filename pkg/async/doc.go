// Package async provides small concurrency primitives used by the services.
//
// ForkJoin runs two independent reads in parallel and returns both typed
// results once both have finished. The first error cancels the sibling's
// context and is the error returned:
//
//	membership, role, err := async.ForkJoin(ctx,
//		func(ctx context.Context) (*orgs.Membership, error) { return store.GetMembershipWithRoles(ctx, orgID, userID) },
//		func(ctx context.Context) (*rbac.OrganizationRole, error) { return roles.GetRole(ctx, roleID) },
//	)
//
// SafeGo runs a background task with panic recovery, a timeout and error
// logging. Use it instead of a bare go statement for long-lived loops such
// as the cache invalidation subscriber.
package async
