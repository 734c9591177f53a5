package models

import (
	"encoding/json"
	"strings"

	"github.com/stipendhq/stipend-engine/pkg/jsonutil"
)

// CandidateFact is one extracted candidate value for a semantic field, as
// produced by the external text extraction service. Candidates arrive in
// batches per document or essay.
type CandidateFact struct {
	FieldKey   string  `json:"field_key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// UnmarshalJSON accepts non-string values for the value field. Extraction
// backends send what the LLM produced, so a GPA arrives as a JSON number and
// an eligibility flag as a boolean.
func (c *CandidateFact) UnmarshalJSON(data []byte) error {
	var raw struct {
		FieldKey   string          `json:"field_key"`
		Value      json.RawMessage `json:"value"`
		Confidence float64         `json:"confidence"`
		Source     string          `json:"source"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.FieldKey = raw.FieldKey
	c.Value = jsonutil.FlexibleStringValue(raw.Value)
	c.Confidence = raw.Confidence
	c.Source = raw.Source
	return nil
}

// Validate reports why a candidate is malformed, or nil if it is usable.
// Malformed candidates are skipped per-item; they never abort a batch.
func (c *CandidateFact) Validate() error {
	if strings.TrimSpace(c.FieldKey) == "" {
		return errEmptyFieldKey
	}
	if strings.TrimSpace(c.Value) == "" {
		return errEmptyValue
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return errConfidenceRange
	}
	return nil
}

var (
	errEmptyFieldKey   = validationError("candidate has empty field key")
	errEmptyValue      = validationError("candidate has empty value")
	errConfidenceRange = validationError("candidate confidence out of range [0,1]")
)

type validationError string

func (e validationError) Error() string { return string(e) }
