package api

import (
	"bytes"
	"errors"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mantonx/eraser/internal/errors"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

func (h *APIHandler) authorize(c *gin.Context, subject string) bool {
	if err := h.authorizer.AuthorizeDownload(c.Request, subject); err != nil {
		if errors.Is(err, ErrDownloadDenied) {
			apperrors.NewUnauthorizedError("Download not authorized").ToGinResponse(c)
			return false
		}
		apperrors.HandleInternalError(c, "Download authorization failed", err)
		return false
	}
	return true
}

func setDownloadHeaders(c *gin.Context, filename, mimeType, hash string) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Header("Content-Type", mimeType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Header("X-Content-Type-Options", "nosniff")
	if hash != "" {
		c.Header("Cache-Control", "private, max-age=31536000, immutable")
		c.Header("ETag", `"`+hash+`"`)
	} else {
		c.Header("Cache-Control", "no-store")
	}
}

// Download handles GET /sessions/:sessionId/download
//
// Only a Complete session has an asset. Stored assets are streamed from
// the content store; otherwise the in-memory bytes are sent.
func (h *APIHandler) Download(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	state := s.State()
	if state.Kind != types.StateComplete || state.Asset == nil {
		respondError(c, rerrors.StateError("download",
			errors.New("no output available: session is "+string(state.Kind))).WithSession(s.ID()))
		return
	}
	if !h.authorize(c, s.ID()) {
		return
	}

	asset := state.Asset
	if asset.ContentHash != "" && h.assets != nil {
		if h.serveStored(c, asset.ContentHash) {
			return
		}
		h.logger.Warn("stored asset unavailable, serving from memory", "session_id", s.ID(), "hash", asset.ContentHash)
	}

	setDownloadHeaders(c, asset.Filename, asset.Format.MIMEType, asset.ContentHash)
	c.DataFromReader(http.StatusOK, int64(len(asset.Data)), asset.Format.MIMEType, bytes.NewReader(asset.Data), nil)
}

// DownloadAsset handles GET /assets/:hash
func (h *APIHandler) DownloadAsset(c *gin.Context) {
	hash := c.Param("hash")
	if h.assets == nil {
		apperrors.HandleNotFound(c, "asset", hash)
		return
	}
	if !h.authorize(c, hash) {
		return
	}
	if !h.serveStored(c, hash) {
		respondError(c, rerrors.NotFoundError("download_asset", rerrors.ErrAssetNotFound).WithDetail("hash", hash))
	}
}

// serveStored streams an asset from the content store and reports whether
// it did.
func (h *APIHandler) serveStored(c *gin.Context, hash string) bool {
	f, meta, err := h.assets.Open(hash)
	if err != nil {
		if rerrors.GetType(err) != rerrors.ErrorTypeNotFound {
			h.logger.Error("failed to open asset", "hash", hash, "error", err)
		}
		return false
	}
	defer f.Close()

	setDownloadHeaders(c, meta.Filename, meta.Format.MIMEType, meta.Hash)
	http.ServeContent(c.Writer, c.Request, meta.Filename, meta.CreatedAt, f)
	return true
}
