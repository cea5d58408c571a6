package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ReferenceCategory classifies how a prompt points back at past creations.
type ReferenceCategory string

const (
	ReferenceNone        ReferenceCategory = "none"
	ReferenceExplicit    ReferenceCategory = "explicit"
	ReferenceTemporal    ReferenceCategory = "temporal"
	ReferenceVariation   ReferenceCategory = "variation"
	ReferenceComparative ReferenceCategory = "comparative"
)

// DetectionConfidence grades how certain the detector is about a reference.
type DetectionConfidence string

const (
	ConfidenceLow    DetectionConfidence = "low"
	ConfidenceMedium DetectionConfidence = "medium"
	ConfidenceHigh   DetectionConfidence = "high"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// DetectionResult is the detector's verdict on a single prompt.
// A prompt with no reference carries ReferenceNone and an empty phrase list.
type DetectionResult struct {
	HasReference bool                `gorm:"column:has_reference" json:"has_reference"`
	Category     ReferenceCategory   `gorm:"type:text" json:"category"`
	Confidence   DetectionConfidence `gorm:"type:text" json:"confidence"`
	Phrases      StringArray         `gorm:"type:text" json:"phrases,omitempty"`
}

// ArtifactRef locates one stored artifact: the storage key for internal
// access and a URL for clients. Both are opaque to downstream code.
type ArtifactRef struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Creation is one completed generation run: the original prompt, what the
// memory loop turned it into, and where the produced artifacts live.
// Records are immutable once written; there is no update path.
type Creation struct {
	ID             string          `gorm:"type:text;primaryKey" json:"id"`
	Prompt         string          `gorm:"type:text;not null" json:"prompt"`
	EnrichedPrompt string          `gorm:"type:text" json:"enriched_prompt"`
	Analysis       string          `gorm:"type:text" json:"analysis,omitempty"`
	Detection      DetectionResult `gorm:"embedded;embeddedPrefix:detection_" json:"detection"`
	SourceIDs      StringArray     `gorm:"type:text" json:"source_ids"`
	Tags           StringArray     `gorm:"type:text" json:"tags"`
	ImageRef       string          `gorm:"type:text" json:"image_ref"`
	ModelRef       string          `gorm:"type:text" json:"model_ref"`
	CreatedAt      time.Time       `gorm:"index:idx_creations_created_at" json:"created_at"`
}

// TableName returns the database table name for Creation.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Creation) TableName() string {
	return "creations"
}

// MemoryMatch is a creation retrieved from memory with its similarity score.
type MemoryMatch struct {
	Creation
	Score float32 `json:"score"`
}
