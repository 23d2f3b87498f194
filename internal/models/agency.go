package models

import "time"

// Agency represents a supplier account subject to document verification.
// The verified flag is derived state: it is written exclusively by the
// verification recompute and never edited directly.
type Agency struct {
	ID           string     `db:"id" json:"id"`
	LegalName    string     `db:"legal_name" json:"legal_name"`
	ContactEmail string     `db:"contact_email" json:"contact_email"`
	Verified     bool       `db:"verified" json:"verified"`
	VerifiedAt   *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// AgencyFilter captures filtering criteria for listing agencies.
type AgencyFilter struct {
	Verified *bool
	Search   string
	Page     int
	PageSize int
}
