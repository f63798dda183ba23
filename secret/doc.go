// Package secret resolves secrets from one or more backends through a
// shared cache.
//
// A Provider pairs one Backend with a cache.Store: cached values are served
// until their TTL lapses, concurrent misses for the same secret share one
// backend call, and BypassCache forces a fresh fetch without poisoning the
// cache on failure.
//
// A Composite walks an ordered chain of providers. Recoverable failures fall
// through to the next provider; failures the Policy marks critical (by
// default KindUnauthorized) abort the lookup. When every provider fails the
// error is an *ExhaustedError listing each failure in order.
//
//	c, err := secret.New([]secret.Source{
//		{Backend: vault, TTL: 10 * time.Minute},
//		{Backend: env.New(env.Config{Prefix: "APP_"}), DisableCache: true},
//	})
//	s, err := c.GetSecret(ctx, "db-password")
//
// Configuration values can reference secrets with the "secretref:" prefix
// (see Resolver):
//   - Full value:  secretref:db-password
//   - Pinned:      secretref:keyvault:db-password@3f2a
//   - Inline use:  Bearer secretref:api-token
package secret
