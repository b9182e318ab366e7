package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rhizomelab/rhizome-backend/internal/services"
)

type SparkHandler struct {
	sparks services.SparkService
}

func NewSparkHandler(sparks services.SparkService) *SparkHandler {
	return &SparkHandler{sparks: sparks}
}

func (h *SparkHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req services.CreateSparkInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	sp, err := h.sparks.Create(c.Request.Context(), userID, req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sp)
}

// List returns all of the caller's sparks, or only those anchored to a
// document when document_id is supplied.
func (h *SparkHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if q := c.Query("document_id"); q != "" {
		docID, err := uuid.Parse(q)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_id", err)
			return
		}
		sparks, err := h.sparks.GetByDocument(c.Request.Context(), userID, docID)
		if err != nil {
			RespondServiceError(c, err)
			return
		}
		RespondOK(c, gin.H{"sparks": sparks})
		return
	}
	sparks, err := h.sparks.GetAll(c.Request.Context(), userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"sparks": sparks})
}

func (h *SparkHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	sp, err := h.sparks.Get(c.Request.Context(), userID, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, sp)
}

func (h *SparkHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.UpdateSparkInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	sp, err := h.sparks.Update(c.Request.Context(), userID, id, req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, sp)
}

func (h *SparkHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.sparks.Delete(c.Request.Context(), userID, id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}
