package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/AlirezaZareeiD/hamfounder-sub000/model"
	"github.com/AlirezaZareeiD/hamfounder-sub000/pkg/metrics"
)

// PendingSaveMessage explains why a bound file has not started
// uploading yet: a brand-new project has no id until its first save,
// and blob paths are namespaced under the project id.
const PendingSaveMessage = "save project first"

// AttachmentState is the tracker's view of one attachment row,
// including the ephemeral upload state that never reaches the store.
type AttachmentState struct {
	model.Attachment
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	Progress    int    `json:"progress"`
	Uploading   bool   `json:"uploading"`
	Uploaded    bool   `json:"uploaded"`
	PendingSave bool   `json:"pendingSave"`
}

type tracked struct {
	state       AttachmentState
	spool       string // temp file holding the bound file until upload finishes
	contentType string
	cancel      context.CancelFunc
}

// Tracker owns the attachment list for one project-in-edit. It is the
// single writer: callers dispatch commands (add, update, select file,
// remove) and read snapshots; a store-loaded list enters only through
// SetFromParent. Per-attachment state machine:
// empty -> file-selected -> uploading -> {uploaded | error}, where a
// newly selected file re-enters file-selected.
type Tracker struct {
	mu        sync.Mutex
	projectID string
	bucket    string
	rows      []*tracked
	uploader  *Uploader
	blob      BlobStore
	onChange  func([]model.Attachment)
}

// NewTracker creates a tracker. projectID may be empty for a project
// that has not been saved yet. onChange receives the finalized list
// after every user-driven mutation; it is never invoked for a
// SetFromParent that carries no semantic change.
func NewTracker(projectID, bucket string, uploader *Uploader, blob BlobStore, onChange func([]model.Attachment)) *Tracker {
	return &Tracker{
		projectID: projectID,
		bucket:    bucket,
		uploader:  uploader,
		blob:      blob,
		onChange:  onChange,
	}
}

// SetFromParent replaces local state with a store-loaded list, but only
// when the incoming list differs semantically (by id, name, url and
// description, order-independent). An echoed-back copy of local state
// is a no-op and never re-notifies, so a load/notify cycle cannot loop.
func (t *Tracker) SetFromParent(list []model.Attachment) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if semanticallyEqual(t.finalizedLocked(), list) {
		return
	}

	for _, row := range t.rows {
		row.discard()
	}
	t.rows = make([]*tracked, 0, len(list))
	for _, att := range list {
		att := att
		t.rows = append(t.rows, &tracked{state: AttachmentState{Attachment: att}})
	}
}

// AddBlank appends a new attachment row with a fresh id and no file.
func (t *Tracker) AddBlank() AttachmentState {
	t.mu.Lock()
	row := &tracked{state: AttachmentState{Attachment: model.Attachment{ID: uuid.New().String()}}}
	t.rows = append(t.rows, row)
	state := row.state
	notify := t.changeLocked()
	t.mu.Unlock()

	notify()
	return state
}

// UpdateField patches one attachment's metadata (name or description).
func (t *Tracker) UpdateField(id, field, value string) error {
	t.mu.Lock()
	row := t.findLocked(id)
	if row == nil {
		t.mu.Unlock()
		return ErrAttachmentNotFound
	}

	switch field {
	case "name":
		row.state.Name = value
	case "description":
		row.state.Description = value
	default:
		t.mu.Unlock()
		return fmt.Errorf("unknown attachment field %q", field)
	}
	notify := t.changeLocked()
	t.mu.Unlock()

	notify()
	return nil
}

// SelectFile binds a file to an attachment row. A file over the size
// limit is rejected before any byte leaves the process: the row keeps
// no file, carries a size error and never starts an upload. A valid
// file is spooled to disk and, when the project already has an id,
// uploaded immediately; otherwise the row waits for the first save.
// Binding a new file invalidates any prior upload outcome.
func (t *Tracker) SelectFile(id, fileName string, size int64, contentType string, reader io.Reader) (AttachmentState, error) {
	t.mu.Lock()
	row := t.findLocked(id)
	if row == nil {
		t.mu.Unlock()
		return AttachmentState{}, ErrAttachmentNotFound
	}

	if size > MaxUploadSize {
		row.discard()
		row.resetFile()
		row.state.UploadError = ErrFileTooLarge.Error()
		state := row.state
		notify := t.changeLocked()
		t.mu.Unlock()

		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		notify()
		return state, ErrFileTooLarge
	}

	// Stop any in-flight upload for the previous file
	if row.cancel != nil {
		row.cancel()
		row.cancel = nil
	}
	t.mu.Unlock()

	spool, err := spoolFile(reader, size)
	if err != nil {
		return AttachmentState{}, fmt.Errorf("failed to buffer upload: %w", err)
	}

	t.mu.Lock()
	row = t.findLocked(id)
	if row == nil {
		// Removed while spooling
		t.mu.Unlock()
		os.Remove(spool)
		return AttachmentState{}, ErrAttachmentNotFound
	}

	row.discardSpool()
	row.resetFile()
	row.spool = spool
	row.contentType = contentType
	row.state.FileName = fileName
	row.state.FileSize = size
	if row.state.Name == "" {
		row.state.Name = fileName
	}

	if t.projectID == "" {
		row.state.PendingSave = true
	} else {
		t.startUploadLocked(row)
	}
	state := row.state
	notify := t.changeLocked()
	t.mu.Unlock()

	notify()
	return state, nil
}

// Remove deletes an attachment row. An in-flight upload is canceled and
// a previously materialized blob is deleted best-effort in the
// background; a cleanup failure is logged and never reverses the
// removal.
func (t *Tracker) Remove(id string) error {
	t.mu.Lock()
	idx := -1
	for i, row := range t.rows {
		if row.state.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return ErrAttachmentNotFound
	}

	row := t.rows[idx]
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	row.discard()
	storedURL := row.state.URL
	notify := t.changeLocked()
	t.mu.Unlock()

	if storedURL != nil && t.blob != nil {
		go t.deleteBlob(*storedURL, id)
	}

	notify()
	return nil
}

func (t *Tracker) deleteBlob(storedURL, attachmentID string) {
	key, err := ObjectKeyFromURL(storedURL, t.bucket)
	if err != nil {
		slog.Warn("could not derive blob key for removed attachment",
			"attachment_id", attachmentID, "error", err)
		return
	}
	if err := t.blob.Delete(context.Background(), key); err != nil {
		slog.Warn("failed to delete blob for removed attachment",
			"attachment_id", attachmentID, "key", key, "error", err)
		return
	}
	slog.Info("deleted blob for removed attachment", "attachment_id", attachmentID, "key", key)
}

// BindProject assigns the project id after the first save and starts
// the upload for every row still holding a bound file, covering both
// rows that waited for the save and rows whose previous attempt failed.
func (t *Tracker) BindProject(projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.projectID = projectID
	for _, row := range t.rows {
		if row.spool != "" && !row.state.Uploading && !row.state.Uploaded {
			t.startUploadLocked(row)
		}
	}
}

// Finalized returns the persistable attachment list: ephemeral fields
// stripped, url an explicit null until resolved. Rows with no name, no
// file and no url are considered abandoned and skipped.
func (t *Tracker) Finalized() []model.Attachment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizedLocked()
}

func (t *Tracker) finalizedLocked() []model.Attachment {
	out := []model.Attachment{}
	for _, row := range t.rows {
		if row.state.Name == "" && row.state.FileName == "" && row.state.URL == nil {
			continue
		}
		att := model.Attachment{
			ID:          row.state.ID,
			Name:        row.state.Name,
			Description: row.state.Description,
			URL:         row.state.URL,
			UploadError: row.state.UploadError,
		}
		if att.Name == "" {
			att.Name = row.state.FileName
		}
		out = append(out, att)
	}
	return out
}

// AnyUploading reports whether any attachment is mid-transfer. Form
// submission is gated on this.
func (t *Tracker) AnyUploading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range t.rows {
		if row.state.Uploading {
			return true
		}
	}
	return false
}

// Snapshot returns the full per-row state for rendering an edit surface.
func (t *Tracker) Snapshot() []AttachmentState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AttachmentState, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row.state)
	}
	return out
}

// Close cancels in-flight uploads and drops spooled files.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range t.rows {
		row.discard()
	}
}

func (t *Tracker) findLocked(id string) *tracked {
	for _, row := range t.rows {
		if row.state.ID == id {
			return row
		}
	}
	return nil
}

// changeLocked captures the notify callback to run after the lock is
// released.
func (t *Tracker) changeLocked() func() {
	if t.onChange == nil {
		return func() {}
	}
	final := t.finalizedLocked()
	cb := t.onChange
	return func() { cb(final) }
}

func (t *Tracker) startUploadLocked(row *tracked) {
	ctx, cancel := context.WithCancel(context.Background())
	row.cancel = cancel
	row.state.Uploading = true
	row.state.Uploaded = false
	row.state.PendingSave = false
	row.state.Progress = 0
	row.state.URL = nil
	row.state.UploadError = ""

	id := row.state.ID
	spool := row.spool
	fileName := row.state.FileName
	size := row.state.FileSize
	contentType := row.contentType
	projectID := t.projectID

	go t.runUpload(ctx, projectID, id, spool, fileName, size, contentType)
}

func (t *Tracker) runUpload(ctx context.Context, projectID, id, spool, fileName string, size int64, contentType string) {
	f, err := os.Open(spool)
	if err != nil {
		t.finishUpload(id, "", fmt.Errorf("failed to read buffered file: %w", err))
		return
	}
	defer f.Close()

	url, err := t.uploader.Upload(ctx, projectID, id, fileName, contentType, f, size, func(pct int) {
		t.applyProgress(id, pct)
	})
	if ctx.Err() != nil {
		metrics.UploadsTotal.WithLabelValues("canceled").Inc()
		return
	}
	t.finishUpload(id, url, err)
}

// applyProgress applies a progress update only when it advances by more
// than one percentage point or reaches 100, and never after a terminal
// state.
func (t *Tracker) applyProgress(id string, pct int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.findLocked(id)
	if row == nil || !row.state.Uploading {
		return
	}
	if pct >= 100 {
		row.state.Progress = 100
		return
	}
	if pct-row.state.Progress > 1 {
		row.state.Progress = pct
	}
}

func (t *Tracker) finishUpload(id, url string, err error) {
	t.mu.Lock()
	row := t.findLocked(id)
	if row == nil {
		// Removed mid-upload; nothing to record
		t.mu.Unlock()
		return
	}

	row.state.Uploading = false
	row.cancel = nil
	if err != nil {
		row.state.URL = nil
		row.state.UploadError = err.Error()
		// Keep the spooled file so a later BindProject can retry
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
	} else {
		u := url
		row.state.URL = &u
		row.state.UploadError = ""
		row.state.Uploaded = true
		row.state.Progress = 100
		row.discardSpool()
		metrics.UploadsTotal.WithLabelValues("uploaded").Inc()
	}
	notify := t.changeLocked()
	t.mu.Unlock()

	notify()
}

// semanticallyEqual compares attachment lists by id, name, url and
// description, ignoring order.
func semanticallyEqual(a, b []model.Attachment) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]model.Attachment, len(a))
	for _, att := range a {
		byID[att.ID] = att
	}
	for _, att := range b {
		other, ok := byID[att.ID]
		if !ok {
			return false
		}
		if att.Name != other.Name || att.Description != other.Description {
			return false
		}
		if (att.URL == nil) != (other.URL == nil) {
			return false
		}
		if att.URL != nil && *att.URL != *other.URL {
			return false
		}
	}
	return true
}

func (r *tracked) resetFile() {
	r.state.FileName = ""
	r.state.FileSize = 0
	r.state.Progress = 0
	r.state.Uploading = false
	r.state.Uploaded = false
	r.state.PendingSave = false
	r.state.URL = nil
	r.state.UploadError = ""
}

func (r *tracked) discardSpool() {
	if r.spool != "" {
		os.Remove(r.spool)
		r.spool = ""
	}
}

func (r *tracked) discard() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.discardSpool()
}

// spoolFile buffers the request body to a temp file so the upload can
// outlive the originating HTTP request.
func spoolFile(reader io.Reader, size int64) (string, error) {
	f, err := os.CreateTemp("", "hamfounder-upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, io.LimitReader(reader, size)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
