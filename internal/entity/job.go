package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type JobType string

const (
	JobTypeDaily   JobType = "daily"
	JobTypeArchive JobType = "archive"
)

// RenderMode records which path owns the encode for a job.
type RenderMode string

const (
	RenderModeBackend RenderMode = "backend"
	RenderModeLocal   RenderMode = "local"
)

// CancelledByAdmin is the error message persisted on admin cancellation.
const CancelledByAdmin = "Cancelled by admin"

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type VideoJob struct {
	ID                uuid.UUID  `json:"id"`
	JobType           JobType    `json:"job_type"`
	RenderMode        RenderMode `json:"render_mode"`
	MaxFrames         int        `json:"max_frames"`
	FPS               int        `json:"fps"`
	FrameCount        int        `json:"frame_count"`
	Status            JobStatus  `json:"status"`
	ExternalJobRef    *string    `json:"external_job_ref,omitempty"`
	Progress          int        `json:"progress"`
	VideoPath         *string    `json:"video_path,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	Logs              []LogEntry `json:"logs"`
	FinalizeClaimedAt *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewVideoJob describes the row inserted by the submitter.
type NewVideoJob struct {
	JobType    JobType
	RenderMode RenderMode
	MaxFrames  int
	FPS        int
	FrameCount int
}

// ExternalRef returns the backend reference or "" before dispatch.
func (j *VideoJob) ExternalRef() string {
	if j == nil || j.ExternalJobRef == nil {
		return ""
	}
	return *j.ExternalJobRef
}

// Drawing is one approved submission read from the content table.
type Drawing struct {
	ID        uuid.UUID `json:"id"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerationStatus is the legacy single-row counter of the last local render.
// It is advisory; VideoJob rows are authoritative.
type GenerationStatus struct {
	ProcessedCount         int        `json:"processed_count"`
	LastProcessedDrawingID *uuid.UUID `json:"last_processed_drawing_id,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
