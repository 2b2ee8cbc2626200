package storage

import (
	"errors"
	"fmt"
)

var errEmptyIdentifier = errors.New("identifier cannot be empty")

var errEmptyDimension = errors.New("dimension cannot be empty")

func validateKey(identifier, dimension string) error {
	if identifier == "" {
		return errEmptyIdentifier
	}
	if dimension == "" {
		return errEmptyDimension
	}
	return nil
}

// validateMember checks a state passed to Replace, which supplies the
// dimension itself.
func validateMember(state *LimitState) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	if state.Identifier == "" {
		return errEmptyIdentifier
	}
	return nil
}
