package models

import (
	"strings"
	"time"
)

// DocumentType enumerates the closed set of compliance document categories
// an agency can submit. Which of them are required for verification is
// deployment configuration, not a property of the enum.
type DocumentType string

const (
	DocumentTypeRegistrationCertificate DocumentType = "REGISTRATION_CERTIFICATE"
	DocumentTypeTaxID                   DocumentType = "TAX_ID"
	DocumentTypeInsuranceCertificate    DocumentType = "INSURANCE_CERTIFICATE"
	DocumentTypeOperatingLicense        DocumentType = "OPERATING_LICENSE"
	DocumentTypeOwnerIdentity           DocumentType = "OWNER_IDENTITY"
	DocumentTypeBankStatement           DocumentType = "BANK_STATEMENT"
)

// AllDocumentTypes lists every member of the enumeration.
var AllDocumentTypes = []DocumentType{
	DocumentTypeRegistrationCertificate,
	DocumentTypeTaxID,
	DocumentTypeInsuranceCertificate,
	DocumentTypeOperatingLicense,
	DocumentTypeOwnerIdentity,
	DocumentTypeBankStatement,
}

// ParseDocumentType normalises raw input into a DocumentType, reporting
// whether it is a member of the enumeration.
func ParseDocumentType(raw string) (DocumentType, bool) {
	candidate := DocumentType(strings.ToUpper(strings.TrimSpace(raw)))
	for _, dt := range AllDocumentTypes {
		if dt == candidate {
			return dt, true
		}
	}
	return "", false
}

// VersionStatus captures the review lifecycle of one uploaded version.
type VersionStatus string

const (
	VersionStatusSubmitted VersionStatus = "SUBMITTED"
	VersionStatusAccepted  VersionStatus = "ACCEPTED"
	VersionStatusRejected  VersionStatus = "REJECTED"
)

// DocumentRecord is the registry row for one (agency, document type) pair.
// At most one record exists per pair; versions hang off it append-only.
type DocumentRecord struct {
	ID           string       `db:"id" json:"id"`
	AgencyID     string       `db:"agency_id" json:"agency_id"`
	DocumentType DocumentType `db:"document_type" json:"document_type"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// DocumentVersion is one uploaded file instance for a document record.
// Rows are immutable after creation except for the status fields, which a
// review decision overwrites as a unit.
type DocumentVersion struct {
	ID               string        `db:"id" json:"id"`
	DocumentID       string        `db:"document_id" json:"document_id"`
	VersionNumber    int           `db:"version_number" json:"version_number"`
	OriginalFilename string        `db:"original_filename" json:"original_filename"`
	ContentType      string        `db:"content_type" json:"content_type"`
	SizeBytes        int64         `db:"size_bytes" json:"size_bytes"`
	Digest           string        `db:"digest" json:"digest"`
	FilePath         string        `db:"file_path" json:"-"`
	Status           VersionStatus `db:"status" json:"status"`
	StatusChangedBy  *string       `db:"status_changed_by" json:"status_changed_by,omitempty"`
	StatusChangedAt  *time.Time    `db:"status_changed_at" json:"status_changed_at,omitempty"`
	StatusComment    *string       `db:"status_comment" json:"status_comment,omitempty"`
	UploadedBy       string        `db:"uploaded_by" json:"uploaded_by"`
	UploadedAt       time.Time     `db:"uploaded_at" json:"uploaded_at"`
	Note             *string       `db:"note" json:"note,omitempty"`
}

// LatestVersionRow is the aggregator's read model: the newest version of
// one document record joined with its type.
type LatestVersionRow struct {
	DocumentID    string        `db:"document_id"`
	DocumentType  DocumentType  `db:"document_type"`
	VersionNumber int           `db:"version_number"`
	Status        VersionStatus `db:"status"`
}

// VersionHistoryRow is one upload in an agency's chronological history,
// carrying the document type alongside the version row.
type VersionHistoryRow struct {
	DocumentVersion
	DocumentType DocumentType `db:"document_type" json:"document_type"`
}

// DocumentAdminRow joins a registry record with the owning agency's legal
// name for admin listings.
type DocumentAdminRow struct {
	DocumentRecord
	LegalName string `db:"legal_name"`
}

// DocumentFilter narrows admin listing queries.
type DocumentFilter struct {
	AgencyID     string
	DocumentType DocumentType
	Limit        int
	Offset       int
}
