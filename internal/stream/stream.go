// Package stream implements the SSE event envelope for the streaming chat
// endpoint, grounded on the teacher's write/flush SSE loop (one "data: "
// frame, blank-line terminated, flushed immediately per event).
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SourceItem is one element of the "sources" event array.
type SourceItem struct {
	ID          string `json:"id"`
	NoteID      string `json:"noteId"`
	Preview     string `json:"preview"`
	Date        string `json:"date"`
	StartOffset *int   `json:"startOffset,omitempty"`
	EndOffset   *int   `json:"endOffset,omitempty"`
	Anchor      string `json:"anchor,omitempty"`
}

// ContextSourceItem is one element of the optional "context_sources" event.
type ContextSourceItem struct {
	NoteID    string  `json:"noteId"`
	Preview   string  `json:"preview"`
	Relevance float64 `json:"relevance"`
}

// DoneMeta is the payload of the terminal "done" event.
type DoneMeta struct {
	Model              string `json:"model"`
	RequestID          string `json:"requestId,omitempty"`
	ResponseTimeMS     int64  `json:"responseTimeMs"`
	Confidence         string `json:"confidence"`
	SourceCount        int    `json:"sourceCount"`
	ContextSourceCount int    `json:"contextSourceCount,omitempty"`
}

// Writer emits SSE frames over an echo response, one "data: <json>\n\n"
// frame per event, flushed immediately.
type Writer struct {
	c       echo.Context
	flusher http.Flusher
}

// NewWriter sets the SSE response headers and returns a Writer, or an error
// if the underlying ResponseWriter doesn't support flushing.
func NewWriter(c echo.Context) (*Writer, error) {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by response writer")
	}
	c.Response().WriteHeader(http.StatusOK)
	return &Writer{c: c, flusher: flusher}, nil
}

// Sources emits the one-per-request "sources" event.
func (w *Writer) Sources(items []SourceItem) error {
	return w.write(map[string]any{"type": "sources", "sources": items})
}

// ContextSources emits the optional retrieved-but-uncited event.
func (w *Writer) ContextSources(items []ContextSourceItem) error {
	return w.write(map[string]any{"type": "context_sources", "sources": items})
}

// Token emits one generator text delta, already [N<d>]→[<d>]-normalized.
func (w *Writer) Token(content string) error {
	return w.write(map[string]any{"type": "token", "content": content})
}

// Heartbeat emits a keep-alive event tagged with a monotonically increasing
// sequence number.
func (w *Writer) Heartbeat(seq int) error {
	return w.write(map[string]any{"type": "heartbeat", "seq": seq})
}

// Followups emits 1-3 derived follow-up question suggestions.
func (w *Writer) Followups(suggestions []string) error {
	return w.write(map[string]any{"type": "followups", "suggestions": suggestions})
}

// Done emits the terminal success event.
func (w *Writer) Done(meta DoneMeta) error {
	return w.write(map[string]any{"type": "done", "meta": meta})
}

// Error emits the terminal failure event.
func (w *Writer) Error(message string) error {
	return w.write(map[string]any{"type": "error", "error": message})
}

// write encodes payload as JSON and frames it as a single SSE "data: "
// block, splitting embedded newlines across multiple data: lines per the
// SSE wire format, then flushes immediately.
func (w *Writer) write(payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	for _, ln := range strings.Split(string(data), "\n") {
		fmt.Fprintf(w.c.Response(), "data: %s\n", ln)
	}
	fmt.Fprint(w.c.Response(), "\n")
	w.flusher.Flush()
	return nil
}
