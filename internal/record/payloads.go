package record

import (
	"encoding/json"
	"fmt"
)

// Project is the payload schema for project records.
type Project struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	PageIDs     []string `json:"page_ids,omitempty"` // ordered story ids
}

// Validate checks required project fields.
func (p *Project) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(p.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(p.Title))
	}
	return nil
}

// Story is the payload schema for story (narrative page) records.
type Story struct {
	ProjectID string   `json:"project_id"`
	Title     string   `json:"title,omitempty"`
	Text      string   `json:"text"`
	ImageIDs  []string `json:"image_ids,omitempty"`
}

// Validate checks required story fields.
func (s *Story) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	return nil
}

// Image is the payload schema for image asset records. The binary itself
// lives outside the data layer; BlobRef points at it.
type Image struct {
	ProjectID string `json:"project_id"`
	BlobRef   string `json:"blob_ref"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Validate checks required image fields.
func (i *Image) Validate() error {
	if i.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if i.BlobRef == "" {
		return fmt.Errorf("blob_ref is required")
	}
	if i.MimeType == "" {
		return fmt.Errorf("mime_type is required")
	}
	if i.SizeBytes < 0 {
		return fmt.Errorf("size_bytes must be non-negative (got %d)", i.SizeBytes)
	}
	return nil
}

// Drawing is the payload schema for canvas snapshot records. Canvas holds the
// vector document verbatim; the data layer never interprets it.
type Drawing struct {
	ProjectID string          `json:"project_id"`
	Canvas    json.RawMessage `json:"canvas"`
}

// Validate checks required drawing fields.
func (d *Drawing) Validate() error {
	if d.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if len(d.Canvas) == 0 {
		return fmt.Errorf("canvas is required")
	}
	return nil
}

// Export is the payload schema for generated-artifact records.
type Export struct {
	ProjectID   string `json:"project_id"`
	ArtifactRef string `json:"artifact_ref"`
	Format      string `json:"format"` // pdf, epub, png
}

// Validate checks required export fields.
func (e *Export) Validate() error {
	if e.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if e.ArtifactRef == "" {
		return fmt.Errorf("artifact_ref is required")
	}
	return nil
}

// ValidatePayload parses raw into the schema for the given collection and
// validates it. This is the tagged-union boundary check: unknown collections
// and malformed documents are rejected before they reach storage.
func ValidatePayload(c Collection, raw json.RawMessage) error {
	switch c {
	case CollectionProject:
		var p Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return p.Validate()
	case CollectionStory:
		var s Story
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		return s.Validate()
	case CollectionImage:
		var i Image
		if err := json.Unmarshal(raw, &i); err != nil {
			return err
		}
		return i.Validate()
	case CollectionDrawing:
		var d Drawing
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		return d.Validate()
	case CollectionExport:
		var e Export
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		return e.Validate()
	default:
		return fmt.Errorf("unknown collection %q", c)
	}
}

// ParentProjectID extracts the parent project id from a payload. Project
// payloads have no parent and return "".
func ParentProjectID(c Collection, raw json.RawMessage) (string, error) {
	if c == CollectionProject {
		return "", nil
	}
	var parent struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(raw, &parent); err != nil {
		return "", fmt.Errorf("failed to extract project_id: %w", err)
	}
	return parent.ProjectID, nil
}
