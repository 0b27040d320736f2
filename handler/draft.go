package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AlirezaZareeiD/hamfounder-sub000/middleware"
	"github.com/AlirezaZareeiD/hamfounder-sub000/service"
)

// DraftHandler exposes edit sessions over HTTP: a draft is opened for a
// new or existing project, mutated through document commands, and
// finally submitted.
type DraftHandler struct {
	sessions *service.SessionRegistry
	form     *service.FormController
}

func NewDraftHandler(sessions *service.SessionRegistry, form *service.FormController) *DraftHandler {
	return &DraftHandler{sessions: sessions, form: form}
}

// Open starts an edit session. With ?project=<id> the project is loaded
// and its documents seed the session; without it the draft is for a new
// project.
func (h *DraftHandler) Open(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var session *service.EditSession
	if projectID := c.Query("project"); projectID != "" {
		project, err := h.form.Load(c.Request.Context(), projectID, user)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			case errors.Is(err, service.ErrNotOwner):
				c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner can edit a project"})
			default:
				slog.ErrorContext(c.Request.Context(), "failed to load project for editing",
					"project_id", projectID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
			}
			return
		}
		session = h.sessions.Create(user, project)
	} else {
		session = h.sessions.Create(user, nil)
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        session.ID,
		"projectId": session.Project(),
		"documents": session.Tracker.Snapshot(),
	})
}

// Get returns the draft's current document state.
func (h *DraftHandler) Get(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        session.ID,
		"projectId": session.Project(),
		"documents": session.Tracker.Snapshot(),
		"uploading": session.Tracker.AnyUploading(),
	})
}

// AddDocument appends a blank attachment row.
func (h *DraftHandler) AddDocument(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, session.Tracker.AddBlank())
}

type updateDocumentRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

// UpdateDocument patches one attachment's name or description.
func (h *DraftHandler) UpdateDocument(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req updateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field is required"})
		return
	}

	if err := session.Tracker.UpdateField(c.Param("docID"), req.Field, req.Value); err != nil {
		if errors.Is(err, service.ErrAttachmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document updated"})
}

// RemoveDocument deletes an attachment row, canceling any in-flight
// upload for it.
func (h *DraftHandler) RemoveDocument(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	if err := session.Tracker.Remove(c.Param("docID")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document removed"})
}

// UploadFile binds a file to an attachment row. Oversized files are
// rejected up front and leave the row with no file and a size error.
func (h *DraftHandler) UploadFile(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	state, err := session.Tracker.SelectFile(c.Param("docID"), header.Filename, header.Size, contentType, file)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttachmentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		case errors.Is(err, service.ErrFileTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":    service.ErrFileTooLarge.Error(),
				"document": state,
			})
		default:
			slog.ErrorContext(c.Request.Context(), "failed to accept file",
				"draft_id", session.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept file"})
		}
		return
	}

	c.JSON(http.StatusAccepted, state)
}

// Submit validates and persists the draft. On the first successful
// submit of a new draft, pending file uploads start.
func (h *DraftHandler) Submit(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)

	var in service.ProjectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project payload"})
		return
	}

	project, err := h.form.Submit(c.Request.Context(), session, user, in)
	if err != nil {
		var verrs service.ValidationErrors
		switch {
		case errors.Is(err, service.ErrAuthRequired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": service.ErrAuthRequired.Error()})
		case errors.As(err, &verrs):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Validation failed", "fields": verrs})
		case errors.Is(err, service.ErrUploadInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": service.ErrUploadInProgress.Error()})
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		case errors.Is(err, service.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner can edit a project"})
		default:
			slog.ErrorContext(c.Request.Context(), "failed to submit draft",
				"draft_id", session.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save project"})
		}
		return
	}

	c.JSON(http.StatusOK, project)
}

// Close discards a draft without saving.
func (h *DraftHandler) Close(c *gin.Context) {
	user := middleware.CurrentUser(c)
	id := c.Param("id")
	if _, err := h.sessions.Get(id, user.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return
	}
	h.sessions.Remove(id)
	c.JSON(http.StatusOK, gin.H{"message": "Draft discarded"})
}

func (h *DraftHandler) session(c *gin.Context) (*service.EditSession, bool) {
	user := middleware.CurrentUser(c)
	session, err := h.sessions.Get(c.Param("id"), user.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return nil, false
	}
	return session, true
}
