package infrastructure

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/yourusername/offline-downloader/internal/domain"
)

// azureLicenseDownloader submits the SPC as a form-encoded POST body. The
// response is the base64 CKC as a plain string, sometimes wrapped in a
// <ckc></ckc> marker that must be stripped before decoding.
type azureLicenseDownloader struct {
	client *http.Client
}

func (d *azureLicenseDownloader) Download(ctx context.Context, licenseURL string, spc []byte) ([]byte, error) {
	form := url.Values{}
	form.Set("spc", base64.StdEncoding.EncodeToString(spc))

	body, err := postAndRead(ctx, d.client, licenseURL,
		"application/x-www-form-urlencoded", []byte(form.Encode()), nil)
	if err != nil {
		return nil, err
	}

	payload := string(body)
	if strings.Contains(payload, "<ckc>") {
		payload = strings.ReplaceAll(payload, "<ckc>", "")
		payload = strings.ReplaceAll(payload, "</ckc>", "")
	}

	ckc, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: azure response not base64", domain.ErrMalformedCKC)
	}
	return ckc, nil
}
