// Package tiered composes independent limiters into one admission decision.
//
// # Overview
//
// A Limiter evaluates an ordered list of tiers. Each tier derives its own key
// from the request and asks its own limiter, which may be local or backed by
// the shared store:
//
//	limiter, err := tiered.New([]tiered.Tier{
//	    {Name: "user-model", Scope: tiered.ScopeUserModel, Backend: tiered.Backend{Limiter: perUser}},
//	    {Name: "global", Scope: tiered.ScopeModel, Backend: tiered.Backend{Limiter: perModel}},
//	})
//	allowed, reason, err := limiter.Allow(ctx, "user-1", "gpt-4")
//
// # Evaluation Order
//
// Tiers run in the order given. The first denial ends evaluation and its
// reason is returned. A request accepted by early tiers and denied by a later
// one stays recorded in the early tiers: the store transaction has no
// compensating operation, so quota spent there is not given back.
//
// # Store Failures
//
// A tier whose store is unreachable is handled by the FailurePolicy:
// propagate the error, treat the tier as passed, deny, or consult the
// tier's local fallback limiter. Other errors always propagate.
//
// # Classification
//
// Class tiers look the model up in a Classifier. The table can be swapped at
// runtime with Classifier.Update; limiter capacities cannot.
package tiered
