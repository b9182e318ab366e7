package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rhizomelab/rhizome-backend/internal/data/repos"
	types "github.com/rhizomelab/rhizome-backend/internal/domain"
	"github.com/rhizomelab/rhizome-backend/internal/match"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
	"github.com/rhizomelab/rhizome-backend/internal/recovery"
)

// RecoveryHandler drives re-anchoring over HTTP: kicking off a batch after a
// re-chunk, and working the review queue it produces.
type RecoveryHandler struct {
	db         *gorm.DB
	components repos.ComponentRepo
	engine     *match.Engine
	cfg        match.Config
	notifier   recovery.Notifier
	queue      *recovery.Queue
	log        *logger.Logger
}

func NewRecoveryHandler(db *gorm.DB, components repos.ComponentRepo, engine *match.Engine, cfg match.Config, notifier recovery.Notifier, queue *recovery.Queue, log *logger.Logger) *RecoveryHandler {
	return &RecoveryHandler{
		db:         db,
		components: components,
		engine:     engine,
		cfg:        cfg,
		notifier:   notifier,
		queue:      queue,
		log:        log,
	}
}

type recoverRequest struct {
	Markdown string        `json:"markdown"`
	Chunks   []types.Chunk `json:"chunks"`
}

// RecoverDocument re-anchors everything attached to the document against
// the layout in the request body.
func (h *RecoveryHandler) RecoverDocument(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "document_id")
	if !ok {
		return
	}
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	layout := types.ChunkLayout{
		DocumentID: docID,
		Markdown:   req.Markdown,
		Chunks:     req.Chunks,
	}
	if err := layout.Validate(); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_layout", err)
		return
	}

	out, err := recovery.RecoverDocument(c.Request.Context(), recovery.RecoverDocumentDeps{
		DB:         h.db,
		Log:        h.log,
		Components: h.components,
		Engine:     h.engine,
		Config:     h.cfg,
		Notifier:   h.notifier,
	}, recovery.RecoverDocumentInput{
		UserID: userID,
		Layout: layout,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "recovery_failed", err)
		return
	}
	RespondOK(c, out)
}

// ListItems returns the caller's review queue, optionally scoped to one
// document.
func (h *RecoveryHandler) ListItems(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var docID *uuid.UUID
	if q := c.Query("document_id"); q != "" {
		parsed, err := uuid.Parse(q)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_id", err)
			return
		}
		docID = &parsed
	}
	items, err := h.queue.LoadItems(c.Request.Context(), userID, docID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"items": items})
}

func (h *RecoveryHandler) Accept(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.queue.Accept(c.Request.Context(), userID, id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (h *RecoveryHandler) Reject(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.queue.Reject(c.Request.Context(), userID, id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (h *RecoveryHandler) Relink(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		ChunkID string `json:"chunk_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.queue.ManuallyRelink(c.Request.Context(), userID, id, req.ChunkID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}
