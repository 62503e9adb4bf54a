package infrastructure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/internal/domain"
)

// LicenseDownloader submits an SPC to a license server and returns the CKC.
// Each operator has its own authentication and response format.
type LicenseDownloader interface {
	Download(ctx context.Context, licenseURL string, spc []byte) ([]byte, error)
}

// LicenseDownloaderFor returns the strategy for the given operator. The
// operator set is closed; anything else is ErrOperatorNotSupported.
func LicenseDownloaderFor(op domain.Operator, client *http.Client) (LicenseDownloader, error) {
	switch op {
	case domain.OperatorAzure:
		return &azureLicenseDownloader{client: client}, nil
	case domain.OperatorVerimatrix:
		return &verimatrixLicenseDownloader{client: client}, nil
	case domain.OperatorNagra:
		return &nagraLicenseDownloader{client: client}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrOperatorNotSupported, op)
	}
}

// LicenseManager negotiates content keys with remote license servers and
// hands them back to the native key session. Negotiations are independent
// and may run concurrently; the only shared state is the in-memory
// application certificate cache.
type LicenseManager struct {
	client *http.Client
	config *domain.DRMConfig
	logger *zap.Logger

	mu    sync.Mutex
	certs map[domain.DRMType][]byte
}

// NewLicenseManager creates a license manager
func NewLicenseManager(config *domain.DRMConfig, logger *zap.Logger) *LicenseManager {
	return &LicenseManager{
		client: &http.Client{Timeout: config.RequestTimeout},
		config: config,
		logger: logger,
		certs:  make(map[domain.DRMType][]byte),
	}
}

// Acquire obtains a usable content key for the pending key request. When a
// persisted key blob is present and the key request supports direct
// application, network negotiation is skipped entirely.
func (m *LicenseManager) Acquire(ctx context.Context, req domain.KeyRequest, data *domain.LicenseData, persisted []byte) ([]byte, error) {
	if len(persisted) > 0 && req.CanApplyPersisted() {
		if err := req.Respond(persisted); err != nil {
			return nil, fmt.Errorf("apply persisted key: %w", err)
		}
		m.logger.Debug("applied persisted content key, skipping negotiation")
		return persisted, nil
	}
	return m.negotiate(ctx, req, data)
}

// Renew re-runs key negotiation for an already downloaded asset. It always
// goes to the network: the caller keeps the previous persisted key until
// the replacement is confirmed ready.
func (m *LicenseManager) Renew(ctx context.Context, req domain.KeyRequest, data *domain.LicenseData) ([]byte, error) {
	return m.negotiate(ctx, req, data)
}

func (m *LicenseManager) negotiate(ctx context.Context, req domain.KeyRequest, data *domain.LicenseData) ([]byte, error) {
	if data == nil || data.LicenseURL == "" {
		return nil, domain.ErrNoLicenseURL
	}
	if req.ContentKeyID() == "" {
		return nil, domain.ErrNoContentKeyID
	}

	downloader, err := LicenseDownloaderFor(data.Operator, m.client)
	if err != nil {
		return nil, err
	}

	cert, err := m.certificate(ctx, data.Type)
	if err != nil {
		return nil, err
	}

	spc, err := req.SPC(ctx, cert)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoSPC, err)
	}

	m.logger.Debug("downloading license",
		zap.String("operator", string(data.Operator)),
		zap.String("key_id", req.ContentKeyID()))

	ckc, err := downloader.Download(ctx, data.LicenseURL, spc)
	if err != nil {
		return nil, err
	}

	key, err := req.Persist(ckc)
	if err != nil {
		return nil, fmt.Errorf("persistable key: %w", err)
	}
	if err := req.Respond(key); err != nil {
		return nil, fmt.Errorf("apply content key: %w", err)
	}
	return key, nil
}

// certificate returns the application certificate for a DRM system,
// fetching it at most once per process lifetime.
func (m *LicenseManager) certificate(ctx context.Context, drm domain.DRMType) ([]byte, error) {
	m.mu.Lock()
	if cert, ok := m.certs[drm]; ok {
		m.mu.Unlock()
		return cert, nil
	}
	m.mu.Unlock()

	certURL, ok := m.config.CertificateURLs[string(drm)]
	if !ok || certURL == "" {
		return nil, fmt.Errorf("%w: no certificate url for %q", domain.ErrNoCertificate, drm)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoCertificate, err)
	}
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoCertificate, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: certificate server responded %d", domain.ErrNoCertificate, resp.StatusCode)
	}
	cert, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoCertificate, err)
	}

	m.mu.Lock()
	m.certs[drm] = cert
	m.mu.Unlock()
	m.logger.Debug("cached application certificate", zap.String("drm", string(drm)))
	return cert, nil
}

func postAndRead(ctx context.Context, client *http.Client, url string, contentType string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCKCFetch, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCKCFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: license server responded %d", domain.ErrCKCFetch, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCKCFetch, err)
	}
	return data, nil
}
