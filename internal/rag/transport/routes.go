// Package transport exposes the chat and note-ingestion operations over
// HTTP, grounded on the teacher's echo route-registration and handler
// conventions (JSON envelopes via c.Bind/c.JSON, grouped route
// registration functions).
package transport

import (
	"github.com/labstack/echo/v4"

	"notesrag/internal/rag/service"
)

// Handler binds a *service.Service to its HTTP routes.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register wires the chat and ingestion endpoints onto api, mirroring the
// teacher's registerXEndpoints(api *echo.Group, ...) grouping convention.
func (h *Handler) Register(api *echo.Group) {
	api.POST("/chat", h.handleChat)
	api.POST("/notes", h.handleIngestNote)
}
