package models

import (
	"fmt"
	"time"
)

// ArtifactKind distinguishes the two document families templates produce.
type ArtifactKind string

const (
	ArtifactSpreadsheet ArtifactKind = "spreadsheet"
	ArtifactDocument    ArtifactKind = "document"
)

// Ext returns the file extension for the kind.
func (k ArtifactKind) Ext() string {
	if k == ArtifactDocument {
		return "docx"
	}
	return "xlsx"
}

// ReportArtifact is one synthesized document. The bytes live on disk under
// the configured output directory; the store keeps the reference and hash.
// Immutable once written.
type ReportArtifact struct {
	ID         string       `json:"id"`
	JobID      string       `json:"job_id" badgerhold:"index"`
	TemplateID string       `json:"template_id"`
	Locale     string       `json:"locale"`
	Kind       ArtifactKind `json:"kind"`
	Filename   string       `json:"filename"`
	Path       string       `json:"path"`
	SHA256     string       `json:"sha256"`
	SizeBytes  int64        `json:"size_bytes"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ArtifactFilename builds the deterministic output name for a synthesis.
// Identical inputs always land on the same file.
func ArtifactFilename(jobID, templateID, locale string, kind ArtifactKind) string {
	return fmt.Sprintf("%s_%s_%s.%s", jobID, templateID, locale, kind.Ext())
}
