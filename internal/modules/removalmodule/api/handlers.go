// Package api provides HTTP handlers and routes for the removal module.
// Sessions are created, fed a source upload, painted with strokes, then
// processed; progress is pushed over a websocket and the output is
// released through a DownloadAuthorizer.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/eraser/internal/database"
	apperrors "github.com/mantonx/eraser/internal/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/session"
	"github.com/mantonx/eraser/internal/modules/removalmodule/core/validator"
	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// multipartOverhead is allowed on top of the input size limit for form
// boundaries and headers.
const multipartOverhead = 1 << 20

// UploadLimit is the request body cap for an input size limit.
func UploadLimit(maxInput int64) int64 { return maxInput + multipartOverhead }

// Config tunes the handlers.
type Config struct {
	// UploadDir receives spooled uploads.
	UploadDir string
	// MaxUploadBytes caps the request body of a source upload.
	MaxUploadBytes int64
	// PreviewQuality is the default WebP quality, 1..100.
	PreviewQuality int
	// AllowedOrigins limits websocket origins; empty allows all.
	AllowedOrigins []string
}

// APIHandler handles HTTP requests for the removal module.
type APIHandler struct {
	sessions     SessionService
	history      HistoryService
	assets       AssetService
	authorizer   DownloadAuthorizer
	capabilities CapabilityChecker
	upgrader     websocket.Upgrader
	config       Config
	logger       hclog.Logger
}

// Option configures optional collaborators.
type Option func(*APIHandler)

// WithHistory enables the history routes.
func WithHistory(h HistoryService) Option { return func(a *APIHandler) { a.history = h } }

// WithAssets serves downloads from the content store.
func WithAssets(s AssetService) Option { return func(a *APIHandler) { a.assets = s } }

// WithAuthorizer gates downloads.
func WithAuthorizer(auth DownloadAuthorizer) Option {
	return func(a *APIHandler) { a.authorizer = auth }
}

// WithCapabilities enables the capability probe.
func WithCapabilities(c CapabilityChecker) Option { return func(a *APIHandler) { a.capabilities = c } }

// NewAPIHandler creates a new API handler.
func NewAPIHandler(sessions SessionService, config Config, logger hclog.Logger, opts ...Option) *APIHandler {
	if config.UploadDir == "" {
		config.UploadDir = os.TempDir()
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = UploadLimit(validator.DefaultMaxBytes)
	}
	if config.PreviewQuality <= 0 || config.PreviewQuality > 100 {
		config.PreviewQuality = 80
	}
	h := &APIHandler{
		sessions:   sessions,
		authorizer: AllowAll{},
		upgrader:   websocket.Upgrader{CheckOrigin: CheckOrigin(config.AllowedOrigins)},
		config:     config,
		logger:     logger.Named("removal-api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *APIHandler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}

// CreateSession handles POST /sessions
func (h *APIHandler) CreateSession(c *gin.Context) {
	s, err := h.sessions.Create()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.Snapshot())
}

// ListSessions handles GET /sessions
func (h *APIHandler) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession handles GET /sessions/:sessionId
func (h *APIHandler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// DeleteSession handles DELETE /sessions/:sessionId
func (h *APIHandler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Param("sessionId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadSource handles POST /sessions/:sessionId/source
//
// The multipart field "file" is spooled to disk and handed to the
// validator. A rejected file leaves the session as it was.
func (h *APIHandler) UploadSource(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, rerrors.InputRejected(rerrors.ReasonSize, "upload",
				fmt.Errorf("%w: request body exceeds %d bytes", rerrors.ErrFileTooLarge, tooLarge.Limit)))
			return
		}
		apperrors.HandleValidationError(c, "multipart field 'file' is required", "file")
		return
	}

	name := filepath.Base(fh.Filename)
	path := filepath.Join(h.config.UploadDir, uuid.New().String()+strings.ToLower(filepath.Ext(name)))
	if err := c.SaveUploadedFile(fh, path); err != nil {
		apperrors.HandleInternalError(c, "Failed to store upload", err)
		return
	}

	in := validator.InputFile{
		Path:         path,
		Name:         name,
		DeclaredMIME: fh.Header.Get("Content-Type"),
		Size:         fh.Size,
		Temporary:    true,
	}
	if err := s.LoadFile(c.Request.Context(), in); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			h.logger.Warn("failed to remove rejected upload", "path", path, "error", rmErr)
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// StrokeRequest starts a stroke. Display is the on-screen rect of the video
// when the point was captured.
type StrokeRequest struct {
	Point   types.Point `json:"point"`
	Display types.Rect  `json:"display"`
}

// ExtendRequest appends captured points to the active stroke.
type ExtendRequest struct {
	Points  []types.Point `json:"points" binding:"required"`
	Display types.Rect    `json:"display"`
}

// StartStroke handles POST /sessions/:sessionId/strokes
func (h *APIHandler) StartStroke(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req StrokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "Invalid request format", "body")
		return
	}
	if !req.Display.Valid() {
		apperrors.HandleValidationError(c, "display rect must have a positive size", "display")
		return
	}
	if err := s.StartStroke(req.Point, req.Display); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// ExtendStroke handles POST /sessions/:sessionId/strokes/points
func (h *APIHandler) ExtendStroke(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "points are required", "points")
		return
	}
	if !req.Display.Valid() {
		apperrors.HandleValidationError(c, "display rect must have a positive size", "display")
		return
	}
	if err := s.ExtendStroke(req.Display, req.Points...); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// FinalizeStroke handles POST /sessions/:sessionId/strokes/finalize
func (h *APIHandler) FinalizeStroke(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	committed, err := s.FinalizeStroke()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"committed": committed,
		"session":   s.Snapshot(),
	})
}

// UndoMask handles POST /sessions/:sessionId/masks/undo
func (h *APIHandler) UndoMask(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	removed, err := s.UndoLastMask()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"removed": removed,
		"session": s.Snapshot(),
	})
}

// ClearMasks handles DELETE /sessions/:sessionId/masks
func (h *APIHandler) ClearMasks(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.ClearMasks(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// GetMasks handles GET /sessions/:sessionId/masks
func (h *APIHandler) GetMasks(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	masks := s.Masks()
	if masks == nil {
		masks = []types.Mask{}
	}
	c.JSON(http.StatusOK, gin.H{
		"masks": masks,
		"count": len(masks),
	})
}

// StartProcessing handles POST /sessions/:sessionId/process
func (h *APIHandler) StartProcessing(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.StartProcessing(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.Snapshot())
}

// CancelProcessing handles DELETE /sessions/:sessionId/process
func (h *APIHandler) CancelProcessing(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Cancel(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// ResetSession handles POST /sessions/:sessionId/reset
func (h *APIHandler) ResetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Reset(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// ListHistory handles GET /history?limit=&status=
func (h *APIHandler) ListHistory(c *gin.Context) {
	if h.history == nil {
		apperrors.New(http.StatusServiceUnavailable, "HISTORY_DISABLED", "Session history not available", nil).ToGinResponse(c)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	status := database.RemovalStatus(c.Query("status"))

	rows, err := h.history.List(limit, status)
	if err != nil {
		apperrors.HandleDatabaseError(c, "list_history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": rows,
		"count":    len(rows),
	})
}

// GetHistory handles GET /history/:sessionId
func (h *APIHandler) GetHistory(c *gin.Context) {
	if h.history == nil {
		apperrors.New(http.StatusServiceUnavailable, "HISTORY_DISABLED", "Session history not available", nil).ToGinResponse(c)
		return
	}
	row, err := h.history.Get(c.Param("sessionId"))
	if err != nil {
		if rerrors.GetType(err) == rerrors.ErrorTypeNotFound {
			respondError(c, err)
			return
		}
		apperrors.HandleDatabaseError(c, "get_history", err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// Capabilities handles GET /capabilities
func (h *APIHandler) Capabilities(c *gin.Context) {
	if h.capabilities == nil {
		c.JSON(http.StatusOK, gin.H{"encoder": gin.H{"available": true}})
		return
	}
	if err := h.capabilities.Available(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, gin.H{"encoder": gin.H{
			"available": false,
			"error":     err.Error(),
		}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"encoder": gin.H{"available": true}})
}
