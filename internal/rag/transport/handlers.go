package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"notesrag/internal/model"
	"notesrag/internal/rag/service"
	"notesrag/internal/stream"
)

// chatRequest is the wire shape of POST /api/chat.
type chatRequest struct {
	Message  string `json:"message"`
	Limit    int    `json:"limit"`
	TenantID string `json:"tenantId"`
}

// citationDTO is the wire shape of a Citation in the chat response, keyed
// "cid" per the external contract rather than the internal Token field name.
type citationDTO struct {
	CID       string  `json:"cid"`
	NoteID    string  `json:"noteId"`
	ChunkID   string  `json:"chunkId"`
	CreatedAt string  `json:"createdAt"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

type retrievalMetaDTO struct {
	K              int    `json:"k"`
	Strategy       string `json:"strategy"`
	CandidateCount int    `json:"candidateCount,omitempty"`
	RerankCount    int    `json:"rerankCount,omitempty"`
	TimeMS         int64  `json:"timeMs,omitempty"`
}

type chatResponse struct {
	Answer    string        `json:"answer"`
	Citations []citationDTO `json:"citations"`
	Meta      struct {
		Model     string           `json:"model"`
		Retrieval retrievalMetaDTO `json:"retrieval"`
	} `json:"meta"`
}

func tenantOf(req chatRequest) string {
	if req.TenantID != "" {
		return req.TenantID
	}
	return "default"
}

// handleChat serves both the non-streaming JSON response and, when the
// client sends Accept: text/event-stream, the SSE streaming variant, per
// the single /api/chat endpoint the external interface describes.
func (h *Handler) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		return h.handleChatStream(c, req)
	}

	resp, err := h.svc.Chat(c.Request().Context(), tenantOf(req), req.Message, req.Limit)
	if err != nil {
		return c.JSON(service.HTTPStatus(err), map[string]any{"error": err.Error()})
	}

	out := chatResponse{Answer: resp.Answer, Citations: toCitationDTOs(resp.Citations)}
	out.Meta.Model = resp.Model
	out.Meta.Retrieval = retrievalMetaDTO{
		K:              resp.Retrieval.K,
		Strategy:       resp.Retrieval.Strategy,
		CandidateCount: resp.Retrieval.CandidateCount,
		RerankCount:    resp.Retrieval.RerankCount,
		TimeMS:         resp.Retrieval.TimeMS,
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) handleChatStream(c echo.Context, req chatRequest) error {
	w, err := stream.NewWriter(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
	return h.svc.ChatStream(c.Request().Context(), tenantOf(req), req.Message, req.Limit, w)
}

// noteRequest is the wire shape of POST /api/notes.
type noteRequest struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Text     string `json:"text"`
}

func (h *Handler) handleIngestNote(c echo.Context) error {
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}

	now := time.Now()
	note := model.Note{ID: req.ID, TenantID: req.TenantID, Text: req.Text, CreatedAt: now, UpdatedAt: now}
	result, err := h.svc.IngestNote(c.Request().Context(), note)
	if err != nil {
		return c.JSON(service.HTTPStatus(err), map[string]any{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"chunkIds": result.ChunkIDs, "unchanged": result.Unchanged})
}

func toCitationDTOs(cs []model.Citation) []citationDTO {
	out := make([]citationDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, citationDTO{
			CID:       c.Token,
			NoteID:    c.NoteID,
			ChunkID:   c.ChunkID,
			CreatedAt: c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Snippet:   c.Snippet,
			Score:     c.Score,
		})
	}
	return out
}
