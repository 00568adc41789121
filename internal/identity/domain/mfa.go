package domain

import "time"

// FactorTypeTOTP is the only supported second factor.
const FactorTypeTOTP = "totp"

// AAL2 is reported after a successful step-up verification.
const AAL2 = "aal2"

// MFAFactor is an enrolled second factor.
type MFAFactor struct {
	ID           string
	UserID       string
	FactorType   string
	FriendlyName string
	Secret       string // base32 TOTP secret, never leaves the service after enrollment
	Active       bool
	EnrolledAt   time.Time
	LastUsedAt   *time.Time
}

// MFAChallenge is ephemeral and lives in the challenge store only. It is
// consumed by exactly one verify call.
type MFAChallenge struct {
	ID        string    `json:"id"`
	FactorID  string    `json:"factor_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MFAEnrollment is returned once, at enrollment time.
type MFAEnrollment struct {
	FactorID     string
	FactorType   string
	FriendlyName string
	Secret       string // Base32 encoded secret for TOTP
	URI          string // otpauth:// URL
	QRCode       string // data:image/png;base64,...
}

// MFAStatus summarises a user's second-factor state.
type MFAStatus struct {
	Enabled bool
	Factor  *MFAFactor
}
