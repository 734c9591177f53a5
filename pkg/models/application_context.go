package models

import (
	"time"

	"github.com/google/uuid"
)

// Application links a user to a scholarship they are actively applying to.
// Stored in stipend_applications, unique per (user_id, scholarship_id).
type Application struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	ScholarshipID uuid.UUID `json:"scholarship_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ApplicationContext is the per-(application, section) audit record written
// when a draft is accepted. Stored in stipend_application_contexts, unique
// per (application_id, section_id). ReferencedKnowledge preserves the ordered
// provenance chain of knowledge item ids behind the response.
type ApplicationContext struct {
	ID                  uuid.UUID   `json:"id"`
	ApplicationID       uuid.UUID   `json:"application_id"`
	SectionID           string      `json:"section_id"`
	ResponseDraft       string      `json:"response_draft"`
	Source              string      `json:"source"`
	ReferencedKnowledge []uuid.UUID `json:"referenced_knowledge"`
	Tone                *string     `json:"tone,omitempty"`
	StyleUsed           *string     `json:"style_used,omitempty"`
	UpdatedAt           time.Time   `json:"updated_at"`
}
