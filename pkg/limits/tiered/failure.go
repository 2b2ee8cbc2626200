package tiered

import "fmt"

// FailurePolicy decides how a tier behaves when its store is unavailable.
type FailurePolicy string

const (
	// FailError propagates the store error to the caller.
	FailError FailurePolicy = "error"

	// FailOpen treats the failing tier as passed.
	FailOpen FailurePolicy = "open"

	// FailClosed denies the request.
	FailClosed FailurePolicy = "closed"

	// FailLocal asks the tier's local fallback limiter instead.
	FailLocal FailurePolicy = "local"
)

// ParseFailurePolicy converts a configuration string into a FailurePolicy.
// The empty string selects FailError.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case "":
		return FailError, nil
	case FailError, FailOpen, FailClosed, FailLocal:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// String returns the policy name.
func (p FailurePolicy) String() string {
	return string(p)
}
