package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rhizomelab/rhizome-backend/internal/services"
)

type AnnotationHandler struct {
	annotations services.AnnotationService
}

func NewAnnotationHandler(annotations services.AnnotationService) *AnnotationHandler {
	return &AnnotationHandler{annotations: annotations}
}

func (h *AnnotationHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "document_id")
	if !ok {
		return
	}
	var req services.CreateAnnotationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	req.DocumentID = docID
	ann, err := h.annotations.Create(c.Request.Context(), userID, req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ann)
}

// List returns the document's annotations, restricted to an offset range
// when both start and end query parameters are present.
func (h *AnnotationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "document_id")
	if !ok {
		return
	}
	startQ, endQ := c.Query("start"), c.Query("end")
	if startQ != "" && endQ != "" {
		start, err1 := strconv.Atoi(startQ)
		end, err2 := strconv.Atoi(endQ)
		if err1 != nil || err2 != nil {
			RespondError(c, http.StatusBadRequest, "bad_range", err1)
			return
		}
		anns, err := h.annotations.GetInRange(c.Request.Context(), userID, docID, start, end)
		if err != nil {
			RespondServiceError(c, err)
			return
		}
		RespondOK(c, gin.H{"annotations": anns})
		return
	}
	anns, err := h.annotations.GetByDocument(c.Request.Context(), userID, docID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"annotations": anns})
}

func (h *AnnotationHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ann, err := h.annotations.Get(c.Request.Context(), userID, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, ann)
}

func (h *AnnotationHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.UpdateAnnotationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	ann, err := h.annotations.Update(c.Request.Context(), userID, id, req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, ann)
}

func (h *AnnotationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.annotations.Delete(c.Request.Context(), userID, id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}
