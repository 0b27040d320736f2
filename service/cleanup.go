package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AlirezaZareeiD/hamfounder-sub000/pkg/metrics"
	"github.com/AlirezaZareeiD/hamfounder-sub000/pkg/mq"
)

// ProjectDeletedEvent is published when a project record is removed;
// the blobs under its prefix are deleted asynchronously by the cleanup
// worker.
type ProjectDeletedEvent struct {
	ProjectID string `json:"project_id"`
	OwnerID   string `json:"owner_id"`
}

// CleanupWorker deletes orphaned blobs for deleted projects. Blob
// deletion is kept off the request path: the delete endpoint only
// removes the record and publishes an event.
type CleanupWorker struct {
	consumer *mq.Consumer
	blob     BlobStore
}

func NewCleanupWorker(consumer *mq.Consumer, blob BlobStore) *CleanupWorker {
	return &CleanupWorker{consumer: consumer, blob: blob}
}

// Run consumes project.deleted events until the AMQP channel closes.
func (w *CleanupWorker) Run() error {
	w.consumer.SetHandler(w.handle)
	return w.consumer.StartConsuming()
}

func (w *CleanupWorker) handle(_ context.Context, body json.RawMessage) error {
	var event ProjectDeletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("malformed project.deleted event: %w", err)
	}
	if event.ProjectID == "" {
		return fmt.Errorf("project.deleted event missing project_id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	prefix := ProjectPrefix(event.ProjectID)
	removed, err := w.blob.DeletePrefix(ctx, prefix)
	if err != nil {
		metrics.CleanupJobsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to delete blobs under %s: %w", prefix, err)
	}

	metrics.CleanupJobsTotal.WithLabelValues("done").Inc()
	slog.Info("cleaned up project blobs",
		"project_id", event.ProjectID, "prefix", prefix, "removed", removed)
	return nil
}
