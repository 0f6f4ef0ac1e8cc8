package api

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"

	apperrors "github.com/mantonx/eraser/internal/errors"
)

// maxPreviewWidth bounds the width query parameter.
const maxPreviewWidth = 3840

// EncodePreview encodes img as WebP, lossless at quality 100. A width
// greater than zero and smaller than the image downsizes it first. JPEG is
// the fallback when WebP encoding fails.
func EncodePreview(img image.Image, width, quality int) ([]byte, string, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	if width > 0 && width < img.Bounds().Dx() {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	options := &webp.Options{Lossless: quality == 100, Quality: float32(quality)}
	if err := webp.Encode(&buf, img, options); err == nil {
		return buf.Bytes(), "image/webp", nil
	}

	buf.Reset()
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, "", fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// Preview handles GET /sessions/:sessionId/preview?t=seconds&width=&quality=
//
// The frame at t is rendered with the committed masks applied.
func (h *APIHandler) Preview(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	seconds, err := strconv.ParseFloat(c.DefaultQuery("t", "0"), 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		apperrors.HandleValidationError(c, "t must be a number of seconds", "t")
		return
	}
	width, err := strconv.Atoi(c.DefaultQuery("width", "0"))
	if err != nil || width < 0 || width > maxPreviewWidth {
		apperrors.HandleValidationError(c, "width must be between 0 and 3840", "width")
		return
	}
	quality, err := strconv.Atoi(c.DefaultQuery("quality", strconv.Itoa(h.config.PreviewQuality)))
	if err != nil {
		apperrors.HandleValidationError(c, "quality must be an integer", "quality")
		return
	}

	frame, err := s.Preview(c.Request.Context(), time.Duration(seconds*float64(time.Second)))
	if err != nil {
		respondError(c, err)
		return
	}

	data, contentType, err := EncodePreview(frame.Image, width, quality)
	if err != nil {
		apperrors.HandleInternalError(c, "Failed to encode preview", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Frame-PTS", strconv.FormatFloat(frame.PTS.Seconds(), 'f', 3, 64))
	c.Data(http.StatusOK, contentType, data)
}
