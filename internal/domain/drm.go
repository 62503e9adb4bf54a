package domain

import "context"

// KeyRequest is one pending content-key request from the native DRM key
// session. It is opaque beyond this interface: the license layer feeds it
// a CKC and the native session takes care of key installation.
type KeyRequest interface {
	// ContentKeyID returns the key identifier carried by the request,
	// empty when the native layer failed to extract one.
	ContentKeyID() string
	// SPC produces the signed key-request payload for the given
	// application certificate.
	SPC(ctx context.Context, certificate []byte) ([]byte, error)
	// Persist wraps a raw CKC into persistable offline key material
	Persist(ckc []byte) ([]byte, error)
	// Respond applies key material to the pending request
	Respond(key []byte) error
	// CanApplyPersisted reports whether a previously persisted key blob
	// can be applied directly, skipping network negotiation.
	CanApplyPersisted() bool
}

// KeySessionFactory opens native content-key sessions for an asset. The
// factory is the injection point for the platform's DRM primitive.
type KeySessionFactory interface {
	OpenKeyRequest(ctx context.Context, assetURL string) (KeyRequest, error)
}
