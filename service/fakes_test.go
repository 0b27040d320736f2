package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AlirezaZareeiD/hamfounder-sub000/model"
)

const testBucket = "test-bucket"

// fakeBlob is an in-memory BlobStore. Put can be made to block on
// release so tests can observe in-flight uploads.
type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
	release chan struct{}
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (b *fakeBlob) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.objects[key] = data
	return nil
}

func (b *fakeBlob) PresignedURL(ctx context.Context, key string) (string, error) {
	return fmt.Sprintf("https://blobs.local/%s/%s?X-Amz-Signature=abc", testBucket, key), nil
}

func (b *fakeBlob) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *fakeBlob) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			delete(b.objects, key)
			b.deleted = append(b.deleted, key)
			removed++
		}
	}
	return removed, nil
}

func (b *fakeBlob) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (b *fakeBlob) deletedKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

// fakeStore is an in-memory ProjectStore recording every write.
type fakeStore struct {
	mu          sync.Mutex
	projects    map[string]*model.Project
	createCalls int
	scalarCalls []map[string]any
	docCalls    [][]model.Attachment
	deleteCalls []string
	createErr   error
	mergeErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{projects: make(map[string]*model.Project)}
}

func (s *fakeStore) Create(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.createCalls++
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	clone := *p
	s.projects[p.ID] = &clone
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *fakeStore) MergeScalars(ctx context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mergeErr != nil {
		return s.mergeErr
	}
	if _, ok := s.projects[id]; !ok {
		return ErrNotFound
	}
	s.scalarCalls = append(s.scalarCalls, fields)
	if name, ok := fields["name"].(string); ok {
		s.projects[id].Name = name
	}
	return nil
}

func (s *fakeStore) MergeDocuments(ctx context.Context, id string, docs []model.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mergeErr != nil {
		return s.mergeErr
	}
	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Documents = append([]model.Attachment(nil), docs...)
	s.docCalls = append(s.docCalls, p.Documents)
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	s.deleteCalls = append(s.deleteCalls, id)
	return nil
}

func (s *fakeStore) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Project{}
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) Watch(ctx context.Context, ownerID string) (<-chan ProjectEvent, error) {
	ch := make(chan ProjectEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *fakeStore) documents(id string) []model.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		return append([]model.Attachment(nil), p.Documents...)
	}
	return nil
}

func (s *fakeStore) docWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docCalls)
}

func (s *fakeStore) created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
