package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AlirezaZareeiD/hamfounder-sub000/middleware"
	"github.com/AlirezaZareeiD/hamfounder-sub000/model"
	"github.com/AlirezaZareeiD/hamfounder-sub000/pkg/metrics"
	"github.com/AlirezaZareeiD/hamfounder-sub000/pkg/mq"
	"github.com/AlirezaZareeiD/hamfounder-sub000/service"
)

// EventPublisher publishes domain events for background workers.
type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

type ProjectHandler struct {
	store     service.ProjectStore
	blob      service.BlobStore
	bucket    string
	publisher EventPublisher
}

// NewProjectHandler creates the handler for the project list, detail
// and delete endpoints. publisher may be nil when the message queue is
// disabled; blob cleanup then runs inline, best-effort.
func NewProjectHandler(store service.ProjectStore, blob service.BlobStore, bucket string, publisher EventPublisher) *ProjectHandler {
	return &ProjectHandler{
		store:     store,
		blob:      blob,
		bucket:    bucket,
		publisher: publisher,
	}
}

// List returns the caller's projects, newest-updated first, optionally
// filtered by visibility and a free-text query.
func (h *ProjectHandler) List(c *gin.Context) {
	user := middleware.CurrentUser(c)

	projects, err := h.store.ListByOwner(c.Request.Context(), user.ID)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to list projects", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load projects"})
		return
	}

	visibility := c.DefaultQuery("visibility", model.VisibilityAll)
	query := c.Query("q")

	filtered := make([]model.Project, 0, len(projects))
	for _, p := range projects {
		if !p.MatchesVisibility(visibility) {
			continue
		}
		if query != "" && !p.MatchesQuery(query) {
			continue
		}
		filtered = append(filtered, p)
	}

	c.JSON(http.StatusOK, gin.H{
		"projects": filtered,
		"total":    len(filtered),
	})
}

// Watch streams the caller's project list changes as server-sent
// events. The first event is a full snapshot; each subsequent event is
// one change.
func (h *ProjectHandler) Watch(c *gin.Context) {
	user := middleware.CurrentUser(c)
	ctx := c.Request.Context()

	// Subscribe before taking the snapshot so a change landing in
	// between is delivered rather than lost.
	events, err := h.store.Watch(ctx, user.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start project watch", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to watch projects"})
		return
	}

	snapshot, err := h.store.ListByOwner(ctx, user.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load watch snapshot", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load projects"})
		return
	}

	metrics.LiveWatchers.Inc()
	defer metrics.LiveWatchers.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.SSEvent("snapshot", gin.H{"projects": snapshot})
	c.Writer.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("change", event)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// Get returns one project. Download URLs are re-signed on read so a
// stored link never goes stale. Private projects are visible only to
// their owner.
func (h *ProjectHandler) Get(c *gin.Context) {
	user := middleware.CurrentUser(c)
	id := c.Param("id")

	project, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		slog.ErrorContext(c.Request.Context(), "failed to get project", "project_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
		return
	}

	if project.IsPrivate && project.OwnerID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}

	h.refreshDocumentURLs(c, project)
	c.JSON(http.StatusOK, project)
}

// refreshDocumentURLs replaces each stored document URL with a fresh
// presigned one derived from its object key. A document whose key
// cannot be resolved keeps its stored URL.
func (h *ProjectHandler) refreshDocumentURLs(c *gin.Context, project *model.Project) {
	for i := range project.Documents {
		doc := &project.Documents[i]
		if doc.URL == nil {
			continue
		}
		key, err := service.ObjectKeyFromURL(*doc.URL, h.bucket)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "could not resolve document key",
				"project_id", project.ID, "document_id", doc.ID, "error", err)
			continue
		}
		fresh, err := h.blob.PresignedURL(c.Request.Context(), key)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "failed to re-sign document url",
				"project_id", project.ID, "document_id", doc.ID, "error", err)
			continue
		}
		doc.URL = &fresh
	}
}

// Delete removes a project record. Blob cleanup happens off the
// request path: an event is published for the cleanup worker, or when
// the queue is disabled, deletion runs in the background best-effort.
func (h *ProjectHandler) Delete(c *gin.Context) {
	user := middleware.CurrentUser(c)
	id := c.Param("id")

	project, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		slog.ErrorContext(c.Request.Context(), "failed to get project", "project_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
		return
	}

	if project.OwnerID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the owner can delete a project"})
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to delete project", "project_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete project"})
		return
	}

	h.scheduleCleanup(id, user.ID)

	slog.InfoContext(c.Request.Context(), "project deleted", "project_id", id, "owner_id", user.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted"})
}

func (h *ProjectHandler) scheduleCleanup(projectID, ownerID string) {
	event := service.ProjectDeletedEvent{ProjectID: projectID, OwnerID: ownerID}

	if h.publisher != nil {
		err := h.publisher.Publish(mq.RoutingKeyProjectDeleted, event)
		if err == nil {
			return
		}
		slog.Error("failed to publish cleanup event, falling back to inline cleanup",
			"project_id", projectID, "error", err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		removed, err := h.blob.DeletePrefix(ctx, service.ProjectPrefix(projectID))
		if err != nil {
			metrics.CleanupJobsTotal.WithLabelValues("failed").Inc()
			slog.Error("inline blob cleanup failed", "project_id", projectID, "error", err)
			return
		}
		metrics.CleanupJobsTotal.WithLabelValues("done").Inc()
		slog.Info("cleaned up project blobs", "project_id", projectID, "removed", removed)
	}()
}
