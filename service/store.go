package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/AlirezaZareeiD/hamfounder-sub000/config"
	"github.com/AlirezaZareeiD/hamfounder-sub000/model"
)

const projectsTable = "projects"

// Project list change actions pushed to live watchers.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// ProjectEvent is one change pushed to a live project list watcher.
type ProjectEvent struct {
	Action  string        `json:"action"`
	Project model.Project `json:"project"`
}

// ProjectStore is the document store contract for project records. The
// scalar write and the documents write are separate operations so a
// submit can persist scalars even when the attachment merge fails.
type ProjectStore interface {
	Create(ctx context.Context, p *model.Project) error
	Get(ctx context.Context, id string) (*model.Project, error)
	MergeScalars(ctx context.Context, id string, fields map[string]any) error
	MergeDocuments(ctx context.Context, id string, docs []model.Attachment) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error)
	Watch(ctx context.Context, ownerID string) (<-chan ProjectEvent, error)
}

// SurrealStore implements ProjectStore on SurrealDB. The connection is
// configured with the surrealcbor codec so time.Time and RecordID
// values survive the round trip.
type SurrealStore struct {
	db *surrealdb.DB
}

func NewSurrealStore(ctx context.Context, cfg *config.SurrealConfig) (*SurrealStore, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse surrealdb endpoint: %w", err)
	}

	conf := connection.NewConfig(u)
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	conn := gorillaws.New(conf)

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to surrealdb: %w", err)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			return nil, fmt.Errorf("failed to authenticate with surrealdb: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	return &SurrealStore{db: db}, nil
}

func (s *SurrealStore) Close() error {
	return s.db.Close(context.Background())
}

func projectRID(id string) models.RecordID {
	return models.NewRecordID(projectsTable, id)
}

// projectRecord is the persisted shape of a project.
type projectRecord struct {
	ID           *models.RecordID   `json:"id,omitempty"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Stage        string             `json:"stage"`
	Progress     int                `json:"progress"`
	IsPrivate    bool               `json:"is_private"`
	FundingStage string             `json:"funding_stage,omitempty"`
	MVPStatus    string             `json:"mvp_status,omitempty"`
	Milestones   []string           `json:"milestones,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	Documents    []model.Attachment `json:"documents,omitempty"`
	Tasks        model.TaskCounts   `json:"tasks"`
	OwnerID      string             `json:"owner_id"`
	OwnerInfo    model.OwnerInfo    `json:"owner_info"`
	CreatedAt    time.Time          `json:"created_at,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at,omitempty"`
}

func toRecord(p *model.Project) projectRecord {
	return projectRecord{
		Name:         p.Name,
		Description:  p.Description,
		Stage:        string(p.Stage),
		Progress:     p.Progress,
		IsPrivate:    p.IsPrivate,
		FundingStage: p.FundingStage,
		MVPStatus:    p.MVPStatus,
		Milestones:   p.Milestones,
		Tags:         p.Tags,
		Documents:    p.Documents,
		Tasks:        p.Tasks,
		OwnerID:      p.OwnerID,
		OwnerInfo:    p.OwnerInfo,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// fromRecord maps a stored record back to the model. Every field gets a
// fallback default so a partially written record still renders.
func fromRecord(r *projectRecord) model.Project {
	p := model.Project{
		Name:         r.Name,
		Description:  r.Description,
		Stage:        model.Stage(r.Stage),
		Progress:     r.Progress,
		IsPrivate:    r.IsPrivate,
		FundingStage: r.FundingStage,
		MVPStatus:    r.MVPStatus,
		Milestones:   r.Milestones,
		Tags:         r.Tags,
		Documents:    r.Documents,
		Tasks:        r.Tasks,
		OwnerID:      r.OwnerID,
		OwnerInfo:    r.OwnerInfo,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ID != nil {
		p.ID = fmt.Sprint(r.ID.ID)
	}
	if p.Progress < 0 {
		p.Progress = 0
	}
	if p.Progress > 100 {
		p.Progress = 100
	}
	if p.Milestones == nil {
		p.Milestones = []string{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Documents == nil {
		p.Documents = []model.Attachment{}
	}
	return p
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Expected a single or multiple results but got 0") ||
		strings.Contains(msg, "cannot unmarshal array into Go value")
}

func (s *SurrealStore) Create(ctx context.Context, p *model.Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := surrealdb.Create[projectRecord](ctx, s.db, projectRID(p.ID), toRecord(p))
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *SurrealStore) Get(ctx context.Context, id string) (*model.Project, error) {
	rec, err := surrealdb.Select[projectRecord](ctx, s.db, projectRID(id))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	p := fromRecord(rec)
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

func (s *SurrealStore) MergeScalars(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	_, err := surrealdb.Merge[projectRecord](ctx, s.db, projectRID(id), fields)
	if err != nil {
		return fmt.Errorf("failed to merge project fields: %w", err)
	}
	return nil
}

func (s *SurrealStore) MergeDocuments(ctx context.Context, id string, docs []model.Attachment) error {
	_, err := surrealdb.Merge[projectRecord](ctx, s.db, projectRID(id), map[string]any{
		"documents":  docs,
		"updated_at": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to merge project documents: %w", err)
	}
	return nil
}

func (s *SurrealStore) Delete(ctx context.Context, id string) error {
	_, err := surrealdb.Delete[projectRecord](ctx, s.db, projectRID(id))
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

func (s *SurrealStore) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	res, err := surrealdb.Query[[]projectRecord](ctx, s.db,
		"SELECT * FROM type::table($tb) WHERE owner_id = $owner ORDER BY updated_at DESC",
		map[string]any{
			"tb":    projectsTable,
			"owner": ownerID,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	projects := []model.Project{}
	if res != nil && len(*res) > 0 {
		for i := range (*res)[0].Result {
			projects = append(projects, fromRecord(&(*res)[0].Result[i]))
		}
	}
	return projects, nil
}

// Watch starts a table live query and pushes changes for the owner's
// projects until ctx is canceled. The channel closes when the watch
// ends. SurrealDB live queries are table-level, so filtering by owner
// happens here rather than in the query.
func (s *SurrealStore) Watch(ctx context.Context, ownerID string) (<-chan ProjectEvent, error) {
	live, err := surrealdb.Live(ctx, s.db, projectsTable, false)
	if err != nil {
		return nil, fmt.Errorf("failed to start live query: %w", err)
	}

	notifications, err := s.db.LiveNotifications(live.String())
	if err != nil {
		if killErr := surrealdb.Kill(ctx, s.db, live.String()); killErr != nil {
			slog.Warn("failed to kill live query", "live_id", live.String(), "error", killErr)
		}
		return nil, fmt.Errorf("failed to subscribe to live notifications: %w", err)
	}

	out := make(chan ProjectEvent, 16)
	go func() {
		defer close(out)
		defer func() {
			if err := surrealdb.Kill(context.Background(), s.db, live.String()); err != nil {
				slog.Warn("failed to kill live query", "live_id", live.String(), "error", err)
			}
		}()
		relayLive(ctx, ownerID, notifications, out)
	}()

	return out, nil
}

// relayLive forwards table notifications belonging to ownerID until ctx
// is canceled or the source closes. Deletes arrive with the removed
// record as the payload and map to EventDeleted like any other change.
func relayLive(ctx context.Context, ownerID string, notifications <-chan connection.Notification, out chan<- ProjectEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			rec, ok := n.Result.(map[string]any)
			if !ok {
				continue
			}
			p := projectFromLive(rec)
			if p.OwnerID != ownerID {
				continue
			}

			var action string
			switch n.Action {
			case connection.CreateAction:
				action = EventCreated
			case connection.UpdateAction:
				action = EventUpdated
			case connection.DeleteAction:
				action = EventDeleted
			default:
				continue
			}

			select {
			case out <- ProjectEvent{Action: action, Project: p}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// projectFromLive converts a live notification payload into a project.
// Live results arrive as loosely typed maps, so every field is read
// defensively with a default.
func projectFromLive(rec map[string]any) model.Project {
	p := model.Project{
		ID:           liveRecordID(rec["id"]),
		Name:         asString(rec["name"]),
		Description:  asString(rec["description"]),
		Stage:        model.Stage(asString(rec["stage"])),
		Progress:     asInt(rec["progress"]),
		IsPrivate:    asBool(rec["is_private"]),
		FundingStage: asString(rec["funding_stage"]),
		MVPStatus:    asString(rec["mvp_status"]),
		Milestones:   asStringSlice(rec["milestones"]),
		Tags:         asStringSlice(rec["tags"]),
		Documents:    asAttachments(rec["documents"]),
		OwnerID:      asString(rec["owner_id"]),
	}
	if tasks, ok := rec["tasks"].(map[string]any); ok {
		p.Tasks = model.TaskCounts{
			Completed: asInt(tasks["completed"]),
			Total:     asInt(tasks["total"]),
		}
	}
	if owner, ok := rec["owner_info"].(map[string]any); ok {
		p.OwnerInfo = model.OwnerInfo{
			DisplayName: asString(owner["displayName"]),
			AvatarURL:   asString(owner["avatarUrl"]),
		}
	}
	if created, ok := rec["created_at"].(time.Time); ok {
		p.CreatedAt = created
	}
	if updated, ok := rec["updated_at"].(time.Time); ok {
		p.UpdatedAt = updated
	}
	if p.Progress < 0 {
		p.Progress = 0
	}
	if p.Progress > 100 {
		p.Progress = 100
	}
	return p
}

func liveRecordID(v any) string {
	switch id := v.(type) {
	case models.RecordID:
		return fmt.Sprint(id.ID)
	case *models.RecordID:
		if id != nil {
			return fmt.Sprint(id.ID)
		}
	case string:
		if _, rest, ok := strings.Cut(id, ":"); ok {
			return rest
		}
		return id
	}
	return ""
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asStringSlice(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asAttachments(v any) []model.Attachment {
	out := []model.Attachment{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		att := model.Attachment{
			ID:          asString(m["id"]),
			Name:        asString(m["name"]),
			Description: asString(m["description"]),
			UploadError: asString(m["uploadError"]),
		}
		if u, ok := m["url"].(string); ok && u != "" {
			att.URL = &u
		}
		out = append(out, att)
	}
	return out
}
