package infrastructure

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yourusername/offline-downloader/internal/domain"
)

// verimatrixLicenseDownloader submits the SPC base64-encoded inside a JSON
// body; the response is a JSON object carrying the base64 CKC in "ckc".
type verimatrixLicenseDownloader struct {
	client *http.Client
}

func (d *verimatrixLicenseDownloader) Download(ctx context.Context, licenseURL string, spc []byte) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"spc": base64.StdEncoding.EncodeToString(spc),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCKCFetch, err)
	}

	body, err := postAndRead(ctx, d.client, licenseURL, "application/json", payload, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		CKC string `json:"ckc"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.CKC == "" {
		return nil, fmt.Errorf("%w: verimatrix response missing 'ckc'", domain.ErrMalformedCKC)
	}
	ckc, err := base64.StdEncoding.DecodeString(resp.CKC)
	if err != nil {
		return nil, fmt.Errorf("%w: verimatrix 'ckc' not base64", domain.ErrMalformedCKC)
	}
	return ckc, nil
}
