package infrastructure

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/yourusername/offline-downloader/internal/domain"
)

// nagraLicenseDownloader POSTs the raw SPC bytes. The bearer token arrives
// embedded as the Authorization query parameter of the license URL itself:
// it is stripped from the outgoing URL and re-attached as the
// nv-authorizations header. The response carries the base64 CKC in
// "CkcMessage".
type nagraLicenseDownloader struct {
	client *http.Client
}

func (d *nagraLicenseDownloader) Download(ctx context.Context, licenseURL string, spc []byte) ([]byte, error) {
	parsed, err := url.Parse(licenseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: nagra license url invalid", domain.ErrNoLicenseURL)
	}

	query := parsed.Query()
	auth := query.Get("Authorization")
	if auth == "" {
		return nil, fmt.Errorf("%w: nagra 'Authorization' query field empty", domain.ErrNoLicenseURL)
	}
	query.Del("Authorization")
	parsed.RawQuery = query.Encode()

	body, err := postAndRead(ctx, d.client, parsed.String(), "", spc,
		map[string]string{"nv-authorizations": auth})
	if err != nil {
		return nil, err
	}

	var resp struct {
		CkcMessage string `json:"CkcMessage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.CkcMessage == "" {
		return nil, fmt.Errorf("%w: nagra response missing 'CkcMessage'", domain.ErrMalformedCKC)
	}
	ckc, err := base64.StdEncoding.DecodeString(resp.CkcMessage)
	if err != nil {
		return nil, fmt.Errorf("%w: nagra 'CkcMessage' not base64", domain.ErrMalformedCKC)
	}
	return ckc, nil
}
