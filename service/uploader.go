package service

import (
	"context"
	"fmt"
	"io"

	"github.com/AlirezaZareeiD/hamfounder-sub000/pkg/metrics"
)

// MaxUploadSize is the per-file attachment size limit.
const MaxUploadSize = 50 << 20 // 50 MB

// Uploader streams one bound file to the blob store and resolves a
// durable download URL for it. Exactly one call per selected file;
// retries happen only by the user selecting the file again.
type Uploader struct {
	blob BlobStore
}

func NewUploader(blob BlobStore) *Uploader {
	return &Uploader{blob: blob}
}

// Upload writes the file to the attachment's deterministic path and
// returns the presigned download URL. onProgress receives percentages
// in [0,100]; the final 100 fires before the URL is resolved. The
// caller owns throttling of redundant percentages.
func (u *Uploader) Upload(ctx context.Context, projectID, attachmentID, fileName, contentType string, reader io.Reader, size int64, onProgress func(pct int)) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("upload requires a project id")
	}

	key := ObjectKey(projectID, attachmentID, fileName)

	metrics.UploadsInFlight.Inc()
	defer metrics.UploadsInFlight.Dec()

	pr := &progressReader{reader: reader, total: size, onProgress: onProgress}
	if err := u.blob.Put(ctx, key, pr, size, contentType); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", fileName, err)
	}
	metrics.UploadBytesTotal.Add(float64(size))

	url, err := u.blob.PresignedURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to resolve download url for %s: %w", fileName, err)
	}
	return url, nil
}

// progressReader reports monotonic percentage progress as the blob
// client drains the source.
type progressReader struct {
	reader     io.Reader
	total      int64
	read       int64
	lastPct    int
	onProgress func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	if n > 0 && p.total > 0 && p.onProgress != nil {
		p.read += int64(n)
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct > p.lastPct {
			p.lastPct = pct
			p.onProgress(pct)
		}
	}
	return n, err
}
