package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/internal/app"
	"github.com/yourusername/offline-downloader/internal/domain"
)

// DownloadHandler handles download-related HTTP requests. This is the
// only place where loosely-shaped host payloads are decoded into the
// typed structs the registry works with.
type DownloadHandler struct {
	registry *app.Registry
	logger   *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(registry *app.Registry, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{registry: registry, logger: logger}
}

// downloadItemRequest is the loose item shape the host application sends
type downloadItemRequest struct {
	PathID        string `json:"pathId"`
	ProgramPathID string `json:"programPathId"`
	Account       string `json:"ua"`
	URL           string `json:"url"`
	ImageURL      string `json:"templateImg"`
	ProgramImg    string `json:"programImg"`
	ExpireDate    string `json:"expireDate"`
	Subtitles     []struct {
		Language string `json:"language"`
		WebURL   string `json:"webUrl"`
	} `json:"subtitles"`
	DRM *struct {
		Type          string `json:"type"`
		Operator      string `json:"operator"`
		LicenseServer string `json:"licenseServer"`
		LicenseToken  string `json:"licenseToken"`
	} `json:"drm"`
}

func (req *downloadItemRequest) toRecord() (*domain.DownloadRecord, *domain.LicenseData) {
	record := &domain.DownloadRecord{
		PathID:        req.PathID,
		ProgramPathID: req.ProgramPathID,
		Account:       req.Account,
		SourceURL:     req.URL,
		ImageURL:      req.ImageURL,
		ProgramImg:    req.ProgramImg,
	}
	if req.ExpireDate != "" {
		if expire, err := time.Parse(time.RFC3339, req.ExpireDate); err == nil {
			record.ExpireDate = &expire
		}
	}
	for _, sub := range req.Subtitles {
		record.Subtitles = append(record.Subtitles, domain.SubtitleTrack{
			Language:  sub.Language,
			RemoteURL: sub.WebURL,
		})
	}
	var license *domain.LicenseData
	if req.DRM != nil {
		license = &domain.LicenseData{
			Type:       domain.DRMType(req.DRM.Type),
			Operator:   domain.Operator(req.DRM.Operator),
			LicenseURL: req.DRM.LicenseServer,
			Token:      req.DRM.LicenseToken,
		}
	}
	return record, license
}

func (h *DownloadHandler) bindItem(c *gin.Context) (*domain.DownloadRecord, *domain.LicenseData, bool) {
	var req downloadItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	if req.PathID == "" || req.Account == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pathId or ua missing"})
		return nil, nil, false
	}
	record, license := req.toRecord()
	return record, license, true
}

// Start handles POST /api/v1/downloads/start
func (h *DownloadHandler) Start(c *gin.Context) {
	record, license, ok := h.bindItem(c)
	if !ok {
		return
	}
	if err := h.registry.Resume(c.Request.Context(), record, license); err != nil {
		h.logger.Warn("start rejected", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"identifier": record.Identifier()})
}

// Resume handles POST /api/v1/downloads/resume
func (h *DownloadHandler) Resume(c *gin.Context) {
	record, _, ok := h.bindItem(c)
	if !ok {
		return
	}
	if err := h.registry.Resume(c.Request.Context(), record, nil); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"identifier": record.Identifier()})
}

// Pause handles POST /api/v1/downloads/pause
func (h *DownloadHandler) Pause(c *gin.Context) {
	record, _, ok := h.bindItem(c)
	if !ok {
		return
	}
	h.registry.Pause(record)
	c.Status(http.StatusAccepted)
}

// Delete handles POST /api/v1/downloads/delete
func (h *DownloadHandler) Delete(c *gin.Context) {
	record, _, ok := h.bindItem(c)
	if !ok {
		return
	}
	h.registry.Delete(record)
	c.Status(http.StatusAccepted)
}

// BatchDelete handles POST /api/v1/downloads/batch-delete
func (h *DownloadHandler) BatchDelete(c *gin.Context) {
	var reqs []downloadItemRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records := make([]*domain.DownloadRecord, 0, len(reqs))
	for i := range reqs {
		record, _ := reqs[i].toRecord()
		records = append(records, record)
	}
	h.registry.BatchDelete(records)
	c.Status(http.StatusAccepted)
}

// RenewLicense handles POST /api/v1/downloads/renew
func (h *DownloadHandler) RenewLicense(c *gin.Context) {
	record, license, ok := h.bindItem(c)
	if !ok {
		return
	}
	h.registry.Renew(c.Request.Context(), record, license)
	c.Status(http.StatusAccepted)
}

// SetQuality handles PUT /api/v1/downloads/quality
func (h *DownloadHandler) SetQuality(c *gin.Context) {
	var req struct {
		Quality string `json:"quality" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.SetQuality(domain.Quality(req.Quality)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// List handles GET /api/v1/downloads
func (h *DownloadHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, recordViews(h.registry.List()))
}

// Completed handles GET /api/v1/downloads/completed?account=...
func (h *DownloadHandler) Completed(c *gin.Context) {
	account := c.Query("account")
	if account == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account query parameter required"})
		return
	}
	c.JSON(http.StatusOK, recordViews(h.registry.Completed(account)))
}

// Prepare handles POST /api/v1/downloads/prepare: pushes an initial full
// snapshot so a freshly attached host can render the list.
func (h *DownloadHandler) Prepare(c *gin.Context) {
	h.registry.NotifyListChanged()
	c.Status(http.StatusAccepted)
}
