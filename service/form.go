package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AlirezaZareeiD/hamfounder-sub000/model"
)

// ProjectInput carries the editable scalar fields of a project form.
type ProjectInput struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Stage        string   `json:"stage"`
	IsPrivate    bool     `json:"isPrivate"`
	Progress     int      `json:"progress"`
	FundingStage string   `json:"fundingStage"`
	MVPStatus    string   `json:"mvpStatus"`
	Milestones   []string `json:"milestones"`
	Tags         []string `json:"tags"`
}

// FormController drives the project form lifecycle: loading an existing
// project into an edit session and submitting the session back to the
// store.
type FormController struct {
	store ProjectStore
}

func NewFormController(store ProjectStore) *FormController {
	return &FormController{store: store}
}

// Load fetches a project for editing. Only the owner may edit.
func (f *FormController) Load(ctx context.Context, projectID string, owner model.UserRef) (*model.Project, error) {
	project, err := f.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != owner.ID {
		return nil, ErrNotOwner
	}
	return project, nil
}

func (in ProjectInput) apply(p *model.Project) {
	p.Name = in.Name
	p.Description = in.Description
	p.Stage = model.Stage(in.Stage)
	p.IsPrivate = in.IsPrivate
	p.Progress = in.Progress
	p.FundingStage = in.FundingStage
	p.MVPStatus = in.MVPStatus
	p.Milestones = in.Milestones
	p.Tags = in.Tags
	if p.Milestones == nil {
		p.Milestones = []string{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
}

// Submit persists an edit session. The pipeline is ordered so that each
// failure surfaces its own distinct error and nothing later runs:
// authentication, validation, the no-uploads-in-flight gate, the scalar
// write and finally the document write. A new project reuses the
// session's pre-generated id only if the first submit already created
// the record; otherwise each submit attempt allocates one id and binds
// it on success.
func (f *FormController) Submit(ctx context.Context, session *EditSession, owner model.UserRef, in ProjectInput) (*model.Project, error) {
	if owner.ID == "" {
		return nil, ErrAuthRequired
	}

	projectID := session.Project()
	project := &model.Project{ID: projectID, OwnerID: owner.ID}
	isNew := projectID == ""
	if !isNew {
		existing, err := f.store.Get(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if existing.OwnerID != owner.ID {
			return nil, ErrNotOwner
		}
		project = existing
	}

	in.apply(project)
	if errs := project.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	if session.Tracker.AnyUploading() {
		return nil, ErrUploadInProgress
	}

	if isNew {
		project.ID = uuid.New().String()
		project.OwnerInfo = model.OwnerInfo{DisplayName: owner.DisplayName, AvatarURL: owner.AvatarURL}
		if err := f.store.Create(ctx, project); err != nil {
			return nil, fmt.Errorf("failed to create project: %w", err)
		}
		session.Bind(project.ID)
	} else {
		if err := f.store.MergeScalars(ctx, project.ID, scalarFields(project)); err != nil {
			return nil, fmt.Errorf("failed to save project: %w", err)
		}
	}

	// Armed before any upload can resolve, so a url that lands after
	// this submit still writes back to the store.
	session.OnPersist(func(projectID string, docs []model.Attachment) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := f.store.MergeDocuments(ctx, projectID, docs); err != nil {
			slog.Error("failed to persist resolved documents", "project_id", projectID, "error", err)
		}
	})
	if isNew {
		// Bind kicks off uploads for files that waited on the save
		session.Tracker.BindProject(project.ID)
	}

	// Documents are written in a second stage so attachment metadata
	// edits land even when an upload only resolves later.
	docs := session.Tracker.Finalized()
	if err := f.store.MergeDocuments(ctx, project.ID, docs); err != nil {
		return nil, fmt.Errorf("failed to save project documents: %w", err)
	}
	// An upload may have resolved between the read and the write; make
	// sure the last write holds the freshest list.
	if current := session.Tracker.Finalized(); !semanticallyEqual(current, docs) {
		if err := f.store.MergeDocuments(ctx, project.ID, current); err != nil {
			return nil, fmt.Errorf("failed to save project documents: %w", err)
		}
		docs = current
	}
	project.Documents = docs

	slog.InfoContext(ctx, "project saved",
		"project_id", project.ID, "owner_id", owner.ID, "documents", len(docs), "created", isNew)
	return project, nil
}

// scalarFields is the first-stage write: everything except documents.
func scalarFields(p *model.Project) map[string]any {
	return map[string]any{
		"name":          p.Name,
		"description":   p.Description,
		"stage":         string(p.Stage),
		"progress":      p.Progress,
		"is_private":    p.IsPrivate,
		"funding_stage": p.FundingStage,
		"mvp_status":    p.MVPStatus,
		"milestones":    p.Milestones,
		"tags":          p.Tags,
	}
}

// ValidationErrors aggregates field-level validation failures.
type ValidationErrors []model.ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s: %s", v[0].Field, v[0].Message)
}
