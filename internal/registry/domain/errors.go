package registry

import "errors"

var (
	// ErrRegistration signals that the upstream create failed and the
	// returned account exists only locally.
	ErrRegistration = errors.New("registry: upstream registration failed")

	// ErrProfileNotFound signals an unknown profile id.
	ErrProfileNotFound = errors.New("registry: profile not found")
)
