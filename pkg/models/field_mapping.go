package models

import (
	"time"

	"github.com/google/uuid"
)

// FieldMapping is the durable approved answer for one field on one
// scholarship form. Stored in stipend_field_mappings, unique per
// (scholarship_id, field_name). Written only by the acceptance flow or
// manual override.
type FieldMapping struct {
	ID            uuid.UUID  `json:"id"`
	ScholarshipID uuid.UUID  `json:"scholarship_id"`
	FieldName     string     `json:"field_name"`
	FieldLabel    string     `json:"field_label"`
	FieldType     string     `json:"field_type"`
	ApprovedValue string     `json:"approved_value"`
	Approved      bool       `json:"approved"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	Source        string     `json:"source"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
