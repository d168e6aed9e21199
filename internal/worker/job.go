package worker

import (
	"context"
	"time"

	"blob-vault/internal/report"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// ReportJob is one queued inventory report request.
type ReportJob struct {
	// ID is the unique UUID v4 for the job.
	ID string
	// Format is the requested output format (csv, json, excel, pdf).
	Format string
	// Email is the recipient address for the completion notification.
	Email string
	// Timestamps for job lifecycle tracking.
	Submitted time.Time
	Started   time.Time
	Finished  time.Time
	// Status tracks the current state.
	Status JobStatus
	// Error holds any error encountered during processing.
	Error error
	// Stats contains row/byte counts and the query duration.
	Stats *report.Stats
	// ArtifactKey is where the artifact landed in storage.
	ArtifactKey string

	// Ctx bounds the lifetime of the job.
	Ctx    context.Context
	Cancel context.CancelFunc
}

func NewReportJob(format, email string, timeout time.Duration) *ReportJob {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if format == "" {
		format = "csv"
	}
	return &ReportJob{
		ID:        uuid.New().String(),
		Format:    format,
		Email:     email,
		Submitted: time.Now(),
		Status:    StatusPending,
		Ctx:       ctx,
		Cancel:    cancel,
	}
}
