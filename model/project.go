package model

import (
	"fmt"
	"strings"
	"time"
)

// Stage is the lifecycle stage of a project.
type Stage string

const (
	StageIdea      Stage = "Idea"
	StagePrototype Stage = "Prototype"
	StageMVP       Stage = "MVP"
	StageEarly     Stage = "Early Stage"
	StageGrowth    Stage = "Growth Stage"
	StageMature    Stage = "Mature"
)

var validStages = map[Stage]bool{
	StageIdea:      true,
	StagePrototype: true,
	StageMVP:       true,
	StageEarly:     true,
	StageGrowth:    true,
	StageMature:    true,
}

// ValidStage reports whether s is one of the known project stages.
func ValidStage(s Stage) bool {
	return validStages[s]
}

// TaskCounts is the completed/total task summary shown on project cards.
type TaskCounts struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// OwnerInfo is a denormalized snapshot of the owner's display identity,
// written alongside the record so lists render without a user lookup.
type OwnerInfo struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// UserRef identifies the authenticated user. It is read from the
// identity token and never mutated by this service.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Attachment is a named file reference on a project. URL is a pointer so
// an unresolved attachment serializes as an explicit null, never absent.
// Ephemeral upload state (bound file, progress, flags) lives in the
// tracker and must never appear in this persisted shape.
type Attachment struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	URL         *string `json:"url"`
	UploadError string  `json:"uploadError,omitempty"`
}

// Project is a founder's project record.
type Project struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Stage        Stage        `json:"stage"`
	Progress     int          `json:"progress"`
	IsPrivate    bool         `json:"isPrivate"`
	FundingStage string       `json:"fundingStage,omitempty"`
	MVPStatus    string       `json:"mvpStatus,omitempty"`
	Milestones   []string     `json:"milestones"`
	Tags         []string     `json:"tags"`
	Documents    []Attachment `json:"documents"`
	Tasks        TaskCounts   `json:"tasks"`
	OwnerID      string       `json:"ownerId"`
	OwnerInfo    OwnerInfo    `json:"ownerInfo"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// ValidationError is a pre-persistence check failure. It is surfaced to
// the user verbatim and never results in a store write.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate checks the invariants that must hold before a project is
// persisted: name, description and stage non-empty, progress in [0,100].
// All failures are reported together so a form can mark every field.
func (p *Project) Validate() []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	}
	if strings.TrimSpace(p.Description) == "" {
		errs = append(errs, ValidationError{Field: "description", Message: "description is required"})
	}
	if p.Stage == "" {
		errs = append(errs, ValidationError{Field: "stage", Message: "stage is required"})
	} else if !ValidStage(p.Stage) {
		errs = append(errs, ValidationError{Field: "stage", Message: fmt.Sprintf("unknown stage %q", p.Stage)})
	}
	if p.Progress < 0 || p.Progress > 100 {
		errs = append(errs, ValidationError{Field: "progress", Message: "progress must be between 0 and 100"})
	}
	return errs
}

// MatchesQuery reports whether the free-text query q matches any of the
// searchable fields: name, description, tags, funding stage, mvp status,
// milestones and attachment names/descriptions. An empty query matches
// everything.
func (p *Project) MatchesQuery(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Description), q) ||
		strings.Contains(strings.ToLower(p.FundingStage), q) ||
		strings.Contains(strings.ToLower(p.MVPStatus), q) {
		return true
	}
	for _, t := range p.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	for _, m := range p.Milestones {
		if strings.Contains(strings.ToLower(m), q) {
			return true
		}
	}
	for _, d := range p.Documents {
		if strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Description), q) {
			return true
		}
	}
	return false
}

// Visibility filter values accepted by the list endpoint.
const (
	VisibilityAll     = "all"
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// MatchesVisibility reports whether the project passes the visibility
// filter. Unknown filter values behave like "all".
func (p *Project) MatchesVisibility(v string) bool {
	switch v {
	case VisibilityPublic:
		return !p.IsPrivate
	case VisibilityPrivate:
		return p.IsPrivate
	default:
		return true
	}
}
