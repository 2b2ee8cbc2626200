// Package shard spreads limiter keys over several store instances.
//
// A Router maps a composite key to the id of the instance that owns it using
// rendezvous hashing, so adding an instance only moves the keys the new
// instance wins. A Limiter uses the Router to hand each request to the
// limiter of the owning instance; the admission algorithm itself is not
// aware of sharding.
package shard
