package models

import (
	"time"

	"github.com/google/uuid"
)

// Creation status and media_type enums.
const (
	CreationStatusPending    = "pending"
	CreationStatusProcessing = "processing"
	CreationStatusDraft      = "draft"
	CreationStatusFailed     = "failed"
	CreationStatusPublished  = "published"

	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

// Creation is one user-submitted generation request and its lifecycle record.
// Created in pending state in the same transaction as the wallet debit;
// mutated afterwards only by the worker or the orphan sweeper, except for the
// owner-driven publish/delete transitions.
type Creation struct {
	ID                  uuid.UUID  `json:"id"`
	OwnerID             uuid.UUID  `json:"owner_id"`
	MediaType           string     `json:"media_type"`
	Prompt              string     `json:"prompt"`
	Cost                int        `json:"cost"`
	Status              string     `json:"status"`
	MediaRef            *string    `json:"media_ref,omitempty"`
	Caption             *string    `json:"caption,omitempty"`
	Error               *string    `json:"error,omitempty"`
	Refunded            bool       `json:"refunded"`
	CreatedAt           time.Time  `json:"created_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	PublishedAt         *time.Time `json:"published_at,omitempty"`
}

// IsTerminal reports whether the creation has reached a state the worker
// must not transition out of.
func (c *Creation) IsTerminal() bool {
	switch c.Status {
	case CreationStatusDraft, CreationStatusFailed, CreationStatusPublished:
		return true
	}
	return false
}

// ValidMediaType reports whether mt is a supported media type.
func ValidMediaType(mt string) bool {
	return mt == MediaTypeImage || mt == MediaTypeVideo
}
