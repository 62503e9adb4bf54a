package domain

import "errors"

// Sentinel errors, grouped by the taxonomy the registry converts into
// structured events before anything reaches the host application.
var (
	// Input validation
	ErrInvalidURL      = errors.New("invalid source url")
	ErrMissingIdentity = errors.New("pathId, programPathId or ua missing")

	// License acquisition
	ErrNoContentKeyID       = errors.New("no content key identifier in key request")
	ErrNoCertificate        = errors.New("application certificate not available")
	ErrNoSPC                = errors.New("key session produced no spc data")
	ErrCKCFetch             = errors.New("ckc download failed")
	ErrMalformedCKC         = errors.New("license server response corrupted")
	ErrOperatorNotSupported = errors.New("drm operator not supported")
	ErrNoLicenseURL         = errors.New("license url missing")

	// Transfer
	ErrCancelled              = errors.New("download cancelled")
	ErrUnsupportedEnvironment = errors.New("drm downloads not supported in this environment")

	// Registry
	ErrUnknownDownload = errors.New("download not found")
)

// IsCancellation reports whether a native task error is the platform
// cancellation code rather than a genuine failure. The former produces a
// paused transition, never an error event.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled)
}
