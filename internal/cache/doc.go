// Package cache defines the per-proxy response cache used by API calls that opt
// into caching. Entries are addressed by a Locator (endpoint name + serialized
// parameters) and never expire on their own: callers purge them wholesale or
// per endpoint. Each ApiProxy owns exactly one Store, so discarding a module
// container discards its cache with it.
package cache
