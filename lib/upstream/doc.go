// Package upstream implements the hex.pm client used by the catalog to fill
// its cache. It fetches package metadata from the upstream HTTP API and
// artifacts from the upstream repository CDN.
//
// All network access runs through a shared transport with DNS caching,
// bounded constant-delay retries and a per-host circuit breaker, so a dead
// upstream degrades into fast failures instead of piling up blocked
// requests. The client performs no storage: callers persist the returned
// data themselves.
package upstream
