// Package models defines server-side data models persisted in the database.
package models

import (
	"fmt"
	"time"
)

// UploadStatus is the processing state of an upload. It only moves forward:
// queued -> processing -> completed | failed.
type UploadStatus string

const (
	StatusQueued     UploadStatus = "queued"
	StatusProcessing UploadStatus = "processing"
	StatusCompleted  UploadStatus = "completed"
	StatusFailed     UploadStatus = "failed"
)

// ParseUploadStatus validates s against the known statuses.
func ParseUploadStatus(s string) (UploadStatus, error) {
	switch st := UploadStatus(s); st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown upload status %q", s)
	}
}

// Upload is a bulk CSV submission as stored in the uploads table.
type Upload struct {
	// ID is generated by the database and exposed to clients as uploadId.
	ID string
	// OriginalFileName is the name the client uploaded.
	OriginalFileName string
	// FileName is the stored (blob) name; processed output reuses it.
	FileName string
	// SourceURL references the raw CSV in blob storage.
	SourceURL string
	// WebhookURL is notified by the worker on completion. Empty when not requested.
	WebhookURL string

	Status   UploadStatus
	Progress int

	CreatedAt time.Time
	UpdatedAt time.Time
}
