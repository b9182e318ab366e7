package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/services"
)

type ImportHandler struct {
	importer services.ImportService
}

func NewImportHandler(importer services.ImportService) *ImportHandler {
	return &ImportHandler{importer: importer}
}

// ImportHighlights anchors externally captured highlights into a document.
func (h *ImportHandler) ImportHighlights(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "document_id")
	if !ok {
		return
	}
	var req struct {
		Markdown   string                     `json:"markdown"`
		Chunks     []types.Chunk              `json:"chunks"`
		Highlights []services.HighlightRecord `json:"highlights"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	layout := types.ChunkLayout{
		DocumentID: docID,
		Markdown:   req.Markdown,
		Chunks:     req.Chunks,
	}
	results, err := h.importer.ImportHighlights(c.Request.Context(), userID, layout, req.Highlights)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "import_failed", err)
		return
	}
	RespondOK(c, gin.H{"results": results})
}
