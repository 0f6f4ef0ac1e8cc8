package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the removal module API.
//
// API Structure:
//
//	/api/v1/removal
//	├── /sessions                       - Session lifecycle
//	│   └── /:sessionId
//	│       ├── /source                 - Upload the input video
//	│       ├── /strokes[/points|/finalize] - Mask authoring
//	│       ├── /masks[/undo]           - Committed masks
//	│       ├── /process                - Start (POST) or cancel (DELETE) a run
//	│       ├── /reset                  - Return to Idle
//	│       ├── /events                 - Websocket snapshot stream
//	│       ├── /preview                - Filtered still as WebP
//	│       └── /download               - Authorized output download
//	├── /assets/:hash                   - Stored outputs
//	├── /history                        - Persisted sessions
//	└── /capabilities                   - Encoder probe
func RegisterRoutes(router gin.IRouter, handler *APIHandler) {
	v1 := router.Group("/api/v1/removal")
	{
		v1.POST("/sessions", handler.CreateSession)
		v1.GET("/sessions", handler.ListSessions)
		v1.GET("/sessions/:sessionId", handler.GetSession)
		v1.DELETE("/sessions/:sessionId", handler.DeleteSession)

		v1.POST("/sessions/:sessionId/source", handler.UploadSource)

		v1.POST("/sessions/:sessionId/strokes", handler.StartStroke)
		v1.POST("/sessions/:sessionId/strokes/points", handler.ExtendStroke)
		v1.POST("/sessions/:sessionId/strokes/finalize", handler.FinalizeStroke)
		v1.GET("/sessions/:sessionId/masks", handler.GetMasks)
		v1.DELETE("/sessions/:sessionId/masks", handler.ClearMasks)
		v1.POST("/sessions/:sessionId/masks/undo", handler.UndoMask)

		v1.POST("/sessions/:sessionId/process", handler.StartProcessing)
		v1.DELETE("/sessions/:sessionId/process", handler.CancelProcessing)
		v1.POST("/sessions/:sessionId/reset", handler.ResetSession)

		v1.GET("/sessions/:sessionId/events", handler.Events)
		v1.GET("/sessions/:sessionId/preview", handler.Preview)
		v1.GET("/sessions/:sessionId/download", handler.Download)

		v1.GET("/assets/:hash", handler.DownloadAsset)
		v1.HEAD("/assets/:hash", handler.DownloadAsset)

		v1.GET("/history", handler.ListHistory)
		v1.GET("/history/:sessionId", handler.GetHistory)

		v1.GET("/capabilities", handler.Capabilities)
	}
}
