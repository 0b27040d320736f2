package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AlirezaZareeiD/hamfounder-sub000/model"
	"github.com/AlirezaZareeiD/hamfounder-sub000/service"
)

var testUser = model.UserRef{ID: "user-1", DisplayName: "Demo Founder"}

// asUser injects an authenticated user the way AuthMiddleware does.
func asUser(user model.UserRef) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user", user)
		c.Next()
	}
}

// sseRecorder adds the http.CloseNotifier method gin's Context.Stream
// requires, which httptest.ResponseRecorder does not implement.
type sseRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newSSERecorder() *sseRecorder {
	return &sseRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool)}
}

func (r *sseRecorder) CloseNotify() <-chan bool { return r.closed }

func sampleProjects() []*model.Project {
	return []*model.Project{
		{
			ID: "p1", Name: "Supply Chain Radar", Description: "Logistics visibility",
			Stage: model.StageMVP, OwnerID: "user-1", Tags: []string{"logistics"},
		},
		{
			ID: "p2", Name: "Secret Fintech", Description: "Stealth mode",
			Stage: model.StageIdea, OwnerID: "user-1", IsPrivate: true,
		},
		{
			ID: "p3", Name: "Someone Else's", Description: "Owned elsewhere",
			Stage: model.StageIdea, OwnerID: "user-2",
		},
	}
}

func projectRouter(store *stubStore, blob *stubBlob, pub EventPublisher) *gin.Engine {
	h := NewProjectHandler(store, blob, stubBucket, pub)
	router := gin.New()
	router.Use(asUser(testUser))
	router.GET("/projects", h.List)
	router.GET("/projects/watch", h.Watch)
	router.GET("/projects/:id", h.Get)
	router.DELETE("/projects/:id", h.Delete)
	return router
}

func TestProjectList(t *testing.T) {
	router := projectRouter(newStubStore(sampleProjects()...), newStubBlob(), nil)

	tests := []struct {
		name      string
		url       string
		wantIDs   []string
		wantTotal int
	}{
		{"all own projects", "/projects", []string{"p1", "p2"}, 2},
		{"private only", "/projects?visibility=private", []string{"p2"}, 1},
		{"public only", "/projects?visibility=public", []string{"p1"}, 1},
		{"query filter", "/projects?q=logistics", []string{"p1"}, 1},
		{"query no match", "/projects?q=fintech+unicorn", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", tt.url, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}
			var response struct {
				Projects []model.Project `json:"projects"`
				Total    int             `json:"total"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to parse response: %v", err)
			}
			if response.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", response.Total, tt.wantTotal)
			}
			got := map[string]bool{}
			for _, p := range response.Projects {
				got[p.ID] = true
			}
			for _, id := range tt.wantIDs {
				if !got[id] {
					t.Errorf("expected project %s in response, got %v", id, got)
				}
			}
		})
	}
}

func TestProjectWatch(t *testing.T) {
	store := newStubStore(sampleProjects()...)
	store.watchEvents = []service.ProjectEvent{
		{Action: service.EventDeleted, Project: model.Project{ID: "p1", Name: "Supply Chain Radar", OwnerID: "user-1"}},
	}
	router := projectRouter(store, newStubBlob(), nil)

	w := newSSERecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/projects/watch", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "event:snapshot") {
		t.Errorf("expected snapshot frame, got %q", body)
	}
	if !strings.Contains(body, "event:change") {
		t.Errorf("expected change frame, got %q", body)
	}
	if !strings.Contains(body, `"action":"deleted"`) {
		t.Errorf("expected delete action in change frame, got %q", body)
	}
	if !strings.Contains(body, `"id":"p1"`) {
		t.Errorf("expected deleted project payload, got %q", body)
	}

	// The subscription must be live before the snapshot is read so a
	// change landing in between is not lost.
	order := store.callOrder()
	if len(order) < 2 || order[0] != "watch" || order[1] != "list" {
		t.Errorf("call order = %v, want watch before list", order)
	}
}

func TestProjectGet(t *testing.T) {
	projects := sampleProjects()
	staleURL := "https://blobs.local/test-bucket/projects/p1/documents/d1/d1_deck.pdf?X-Amz-Signature=stale"
	projects[0].Documents = []model.Attachment{{ID: "d1", Name: "Deck", URL: &staleURL}}

	router := projectRouter(newStubStore(projects...), newStubBlob(), nil)

	t.Run("re-signs document urls", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/projects/p1", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var project model.Project
		if err := json.Unmarshal(w.Body.Bytes(), &project); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if len(project.Documents) != 1 || project.Documents[0].URL == nil {
			t.Fatalf("documents missing: %+v", project.Documents)
		}
		url := *project.Documents[0].URL
		if !strings.Contains(url, "X-Amz-Signature=fresh") {
			t.Errorf("url was not re-signed: %s", url)
		}
		if !strings.Contains(url, "projects/p1/documents/d1/d1_deck.pdf") {
			t.Errorf("url lost its object key: %s", url)
		}
	})

	t.Run("unknown project", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/projects/nope", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Code)
		}
	})

	t.Run("foreign public project is readable", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/projects/p3", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("foreign private project is hidden", func(t *testing.T) {
		store := newStubStore(&model.Project{
			ID: "hidden", Name: "x", Description: "y",
			Stage: model.StageIdea, OwnerID: "user-2", IsPrivate: true,
		})
		r := projectRouter(store, newStubBlob(), nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/projects/hidden", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404 for foreign private project, got %d", w.Code)
		}
	})
}

func TestProjectDelete(t *testing.T) {
	t.Run("publishes cleanup event", func(t *testing.T) {
		store := newStubStore(sampleProjects()...)
		pub := &stubPublisher{}
		router := projectRouter(store, newStubBlob(), pub)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("DELETE", "/projects/p1", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if len(store.deleted) != 1 || store.deleted[0] != "p1" {
			t.Errorf("record not deleted: %v", store.deleted)
		}
		if pub.published() != 1 {
			t.Errorf("expected 1 cleanup event, got %d", pub.published())
		}
		event, ok := pub.events[0].(service.ProjectDeletedEvent)
		if !ok || event.ProjectID != "p1" {
			t.Errorf("unexpected event payload: %+v", pub.events[0])
		}
	})

	t.Run("inline cleanup without publisher", func(t *testing.T) {
		store := newStubStore(sampleProjects()...)
		blob := newStubBlob()
		blob.objects["projects/p1/documents/d1/d1_deck.pdf"] = []byte("a")
		router := projectRouter(store, blob, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("DELETE", "/projects/p1", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if len(blob.deletedPrefixes()) > 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		prefixes := blob.deletedPrefixes()
		if len(prefixes) != 1 || prefixes[0] != "projects/p1/" {
			t.Errorf("inline cleanup did not run: %v", prefixes)
		}
	})

	t.Run("only the owner can delete", func(t *testing.T) {
		store := newStubStore(sampleProjects()...)
		router := projectRouter(store, newStubBlob(), nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("DELETE", "/projects/p3", nil))
		if w.Code != http.StatusForbidden {
			t.Errorf("Expected status 403, got %d", w.Code)
		}
		if len(store.deleted) != 0 {
			t.Errorf("record must survive: %v", store.deleted)
		}
	})

	t.Run("unknown project", func(t *testing.T) {
		router := projectRouter(newStubStore(), newStubBlob(), nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("DELETE", "/projects/nope", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Code)
		}
	})
}
