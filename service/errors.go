package service

import "errors"

var (
	// ErrAuthRequired is returned when a submit is attempted before the
	// caller's identity is resolved
	ErrAuthRequired = errors.New("authentication not ready")

	// ErrUploadInProgress rejects a submit while any attachment is
	// still uploading
	ErrUploadInProgress = errors.New("documents are still uploading")

	// ErrNotFound is returned for a missing project record
	ErrNotFound = errors.New("project not found")

	// ErrNotOwner is returned when a project belongs to another user
	ErrNotOwner = errors.New("project belongs to another user")

	// ErrFileTooLarge rejects files over the upload size limit
	ErrFileTooLarge = errors.New("file exceeds the 50 MB limit")

	// ErrAttachmentNotFound is returned for commands against an unknown
	// attachment row
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrSessionNotFound is returned for an unknown or expired edit session
	ErrSessionNotFound = errors.New("edit session not found")
)
