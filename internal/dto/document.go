package dto

import (
	"time"

	"github.com/rentora-dev/rentora-api/internal/models"
)

// UploadDocumentRequest carries the multipart form fields accompanying a
// document upload. The file itself travels separately as a stream.
type UploadDocumentRequest struct {
	DocumentType string `form:"documentType" validate:"required"`
	Note         string `form:"note"`
	// AgencyID selects the target agency when an admin uploads on an
	// agency's behalf. Agency accounts always upload to their own agency.
	AgencyID string `form:"agencyId"`
}

// DecideVersionRequest is the admin review decision payload.
type DecideVersionRequest struct {
	Status  models.VersionStatus `json:"status" validate:"required"`
	Comment string               `json:"comment"`
}

// DocumentStatusItem describes one document type in the agency-facing
// listing: the registry record (if any), its latest version, and whether
// the type belongs to the required set.
type DocumentStatusItem struct {
	DocumentType models.DocumentType     `json:"document_type"`
	Required     bool                    `json:"required"`
	Record       *models.DocumentRecord  `json:"record,omitempty"`
	Latest       *models.DocumentVersion `json:"latest_version,omitempty"`
}

// MyDocumentsResponse bundles the per-type listing with the derived
// verification snapshot.
type MyDocumentsResponse struct {
	Documents    []DocumentStatusItem        `json:"documents"`
	Verification models.VerificationSnapshot `json:"verification"`
}

// VersionDownloadResponse returns version metadata plus a signed link.
type VersionDownloadResponse struct {
	Version     models.DocumentVersion `json:"version"`
	DownloadURL string                 `json:"download_url"`
	ExpiresAt   time.Time              `json:"expires_at"`
}

// AdminDocumentItem is one registry row in the admin listing, joined with
// agency identity and its latest version.
type AdminDocumentItem struct {
	Record    models.DocumentRecord   `json:"record"`
	LegalName string                  `json:"legal_name"`
	Latest    *models.DocumentVersion `json:"latest_version,omitempty"`
}

// AdminDocumentQuery narrows the admin document listing.
type AdminDocumentQuery struct {
	AgencyID     string
	DocumentType string
	Page         int
	PageSize     int
}
