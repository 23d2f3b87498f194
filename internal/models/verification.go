package models

import "time"

// RequirementStatus reports how one required document type contributes to
// an agency's verification outcome.
type RequirementStatus struct {
	DocumentType  DocumentType   `json:"document_type"`
	Met           bool           `json:"met"`
	LatestStatus  *VersionStatus `json:"latest_status,omitempty"`
	VersionNumber *int           `json:"version_number,omitempty"`
}

// VerificationSnapshot is the derived verification state for one agency at
// a point in time. Verified is true iff every required type is met.
type VerificationSnapshot struct {
	AgencyID     string              `json:"agency_id"`
	Verified     bool                `json:"verified"`
	Requirements []RequirementStatus `json:"requirements"`
	ComputedAt   time.Time           `json:"computed_at"`
}

// ExportFormat selects the rendering of the verification overview export.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// VerificationOverviewRow feeds the admin export: one agency with its
// verification outcome and per-type counters.
type VerificationOverviewRow struct {
	AgencyID     string    `json:"agency_id"`
	LegalName    string    `json:"legal_name"`
	Verified     bool      `json:"verified"`
	MetCount     int       `json:"met_count"`
	RequiredSize int       `json:"required_size"`
	ComputedAt   time.Time `json:"computed_at"`
}
