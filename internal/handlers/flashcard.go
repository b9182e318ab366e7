package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rhizomelab/rhizome-backend/internal/services"
)

type FlashcardHandler struct {
	cards services.FlashcardService
}

func NewFlashcardHandler(cards services.FlashcardService) *FlashcardHandler {
	return &FlashcardHandler{cards: cards}
}

func (h *FlashcardHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req services.CreateFlashcardInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	card, err := h.cards.Create(c.Request.Context(), userID, req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

func (h *FlashcardHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	card, err := h.cards.Get(c.Request.Context(), userID, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, card)
}

func (h *FlashcardHandler) ListByDocument(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	docID, err := uuid.Parse(c.Query("document_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	cards, err := h.cards.GetByDocument(c.Request.Context(), userID, docID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"flashcards": cards})
}

// Due returns the study queue. The at query parameter (RFC 3339) overrides
// the clock, mainly for clients previewing tomorrow's load.
func (h *FlashcardHandler) Due(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	now := time.Now()
	if at := c.Query("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_time", err)
			return
		}
		now = parsed
	}
	cards, err := h.cards.GetDue(c.Request.Context(), userID, now)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"flashcards": cards})
}

func (h *FlashcardHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.UpdateFlashcardInput
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	card, err := h.cards.Update(c.Request.Context(), userID, id, req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, card)
}

func (h *FlashcardHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.cards.Delete(c.Request.Context(), userID, id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (h *FlashcardHandler) Approve(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	card, err := h.cards.Approve(c.Request.Context(), userID, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, card)
}

func (h *FlashcardHandler) Review(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Grade int `json:"grade"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	card, err := h.cards.Review(c.Request.Context(), userID, id, req.Grade, time.Now())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, card)
}

func (h *FlashcardHandler) Suspend(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	card, err := h.cards.Suspend(c.Request.Context(), userID, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, card)
}

func (h *FlashcardHandler) Resume(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	card, err := h.cards.Resume(c.Request.Context(), userID, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, card)
}
