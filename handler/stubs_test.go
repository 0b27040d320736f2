package handler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/AlirezaZareeiD/hamfounder-sub000/model"
	"github.com/AlirezaZareeiD/hamfounder-sub000/service"
)

const stubBucket = "test-bucket"

// stubStore is a minimal in-memory ProjectStore for handler tests.
// watchEvents are replayed to a Watch subscriber, then the stream ends.
type stubStore struct {
	mu          sync.Mutex
	projects    map[string]*model.Project
	deleted     []string
	docs        map[string][]model.Attachment
	watchEvents []service.ProjectEvent
	calls       []string
}

func newStubStore(projects ...*model.Project) *stubStore {
	s := &stubStore{
		projects: make(map[string]*model.Project),
		docs:     make(map[string][]model.Attachment),
	}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *stubStore) Create(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *p
	s.projects[p.ID] = &clone
	return nil
}

func (s *stubStore) Get(ctx context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, service.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *stubStore) MergeScalars(ctx context.Context, id string, fields map[string]any) error {
	return nil
}

func (s *stubStore) MergeDocuments(ctx context.Context, id string, docs []model.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = docs
	return nil
}

func (s *stubStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubStore) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "list")
	out := []model.Project{}
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubStore) Watch(ctx context.Context, ownerID string) (<-chan service.ProjectEvent, error) {
	s.mu.Lock()
	events := append([]service.ProjectEvent(nil), s.watchEvents...)
	s.calls = append(s.calls, "watch")
	s.mu.Unlock()

	ch := make(chan service.ProjectEvent, len(events)+1)
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *stubStore) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// stubBlob implements BlobStore; presigned URLs carry a "fresh"
// signature so re-signing is observable.
type stubBlob struct {
	mu       sync.Mutex
	objects  map[string][]byte
	prefixes []string
}

func newStubBlob() *stubBlob {
	return &stubBlob{objects: make(map[string][]byte)}
}

func (b *stubBlob) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *stubBlob) PresignedURL(ctx context.Context, key string) (string, error) {
	return fmt.Sprintf("https://blobs.local/%s/%s?X-Amz-Signature=fresh", stubBucket, key), nil
}

func (b *stubBlob) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *stubBlob) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefixes = append(b.prefixes, prefix)
	removed := 0
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			delete(b.objects, key)
			removed++
		}
	}
	return removed, nil
}

func (b *stubBlob) deletedPrefixes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prefixes...)
}

// stubPublisher records published events.
type stubPublisher struct {
	mu     sync.Mutex
	events []any
	keys   []string
	err    error
}

func (p *stubPublisher) Publish(routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, payload)
	return nil
}

func (p *stubPublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
