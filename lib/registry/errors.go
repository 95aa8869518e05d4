package registry

import (
	"errors"
)

// Sentinel errors of the catalog. Callers match them with errors.Is; wrapped
// variants carry the offending name or version in the message.
var (
	// ErrNotFound means no package or release exists for the given
	// coordinates, under any source the operation consults.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means a local release already exists for the
	// (name, version) pair. Published releases are immutable.
	ErrAlreadyExists = errors.New("release already exists")

	// ErrInvalidName means the package name is not a valid package name
	// (lowercase letters, digits and underscores, starting with a letter).
	ErrInvalidName = errors.New("invalid package name")

	// ErrInvalidVersion means the version string is not strict semver.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidRequirements means a dependency declaration is malformed or
	// its range expression does not parse.
	ErrInvalidRequirements = errors.New("invalid requirements")

	// ErrForbidden means the acting user is not an owner of the package.
	ErrForbidden = errors.New("forbidden")

	// ErrNotRetired means unretire was called on a release that carries no
	// retirement record.
	ErrNotRetired = errors.New("release is not retired")

	// ErrInvalidRetirement means the retirement reason is not one of the
	// known reasons.
	ErrInvalidRetirement = errors.New("invalid retirement")

	// ErrUpstreamUnavailable means the upstream repository could not be
	// reached or answered with a server error.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrStorage wraps table-store failures that are not conflicts; conflicts
	// are retried inside the store and never reach the catalog as such.
	ErrStorage = errors.New("storage error")
)
