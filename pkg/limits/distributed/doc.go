// Package distributed implements the sliding window log limiter on a shared
// Redis store.
//
// Every admission runs one Lua program that evicts expired members, checks
// for a previous admission of the same request id, counts the window and
// records the request. Redis runs scripts atomically, so concurrent callers
// in different processes see the same total order of decisions per key.
//
// # Failure Semantics
//
// Transport failures are returned wrapped in ratelimit.ErrStoreUnavailable and
// never retried here. A store that lost the script (NOSCRIPT) is reloaded once
// and the call is retried once; a second miss is reported as
// ErrStoreUnavailable together with ErrScriptMissing.
//
// # Clock
//
// By default the program reads the store clock with TIME, so callers on
// different machines share one time source. WithClockMode(ClockCaller) sends
// the caller clock instead, and the store rejects it with ErrClockSkew when it
// drifts beyond the configured tolerance.
package distributed
