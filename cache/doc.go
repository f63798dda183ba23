// Package cache provides the in-memory store behind secret lookups.
//
// A Store maps a Key (provider namespace, secret name, version) to an Entry
// with a strict TTL. GetOrLoad coalesces concurrent misses for the same key
// into a single loader call and stores only successful results; Refresh
// forces a load while keeping the previous entry if the load fails.
//
// Keys are spread over lock stripes so unrelated keys never contend on the
// same mutex.
package cache
