package infrastructure

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/yourusername/offline-downloader/internal/domain"
)

// SoftwareKeySessionFactory is a pure-software stand-in for the platform
// DRM key session, used by the server binary and in simulated
// environments. It builds SPC payloads by signing the key identifier with
// the application certificate and wraps CKCs into a self-describing
// persistable blob. Hardware-backed sessions implement the same two
// interfaces behind the native bridge.
type SoftwareKeySessionFactory struct{}

// NewSoftwareKeySessionFactory creates the software key session factory
func NewSoftwareKeySessionFactory() *SoftwareKeySessionFactory {
	return &SoftwareKeySessionFactory{}
}

// OpenKeyRequest opens a key request for the asset. The content key
// identifier is taken from the skd scheme host or the keyId query
// parameter; assets without either yield a request with an empty key id,
// which the license layer rejects before touching the network.
func (f *SoftwareKeySessionFactory) OpenKeyRequest(ctx context.Context, assetURL string) (domain.KeyRequest, error) {
	return &softwareKeyRequest{keyID: extractKeyID(assetURL)}, nil
}

func extractKeyID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme == "skd" {
		return u.Host
	}
	if id := u.Query().Get("keyId"); id != "" {
		return id
	}
	return u.Host + u.Path
}

type softwareKeyRequest struct {
	keyID string

	mu  sync.Mutex
	key []byte
}

func (r *softwareKeyRequest) ContentKeyID() string { return r.keyID }

func (r *softwareKeyRequest) SPC(ctx context.Context, certificate []byte) ([]byte, error) {
	if r.keyID == "" {
		return nil, domain.ErrNoContentKeyID
	}
	mac := hmac.New(sha256.New, certificate)
	mac.Write([]byte(r.keyID))
	payload := map[string]string{
		"kid": r.keyID,
		"sig": base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
	return json.Marshal(payload)
}

func (r *softwareKeyRequest) Persist(ckc []byte) ([]byte, error) {
	if len(ckc) == 0 {
		return nil, fmt.Errorf("%w: empty ckc", domain.ErrMalformedCKC)
	}
	blob := map[string]string{
		"kid": r.keyID,
		"ckc": base64.StdEncoding.EncodeToString(ckc),
	}
	return json.Marshal(blob)
}

func (r *softwareKeyRequest) Respond(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key material", domain.ErrMalformedCKC)
	}
	r.mu.Lock()
	r.key = key
	r.mu.Unlock()
	return nil
}

func (r *softwareKeyRequest) CanApplyPersisted() bool { return true }
