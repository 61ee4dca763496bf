package domain

import "time"

// EncryptionSettings never carries the password or derived key.
type EncryptionSettings struct {
	Enabled    bool      `json:"enabled"`
	Salt       string    `json:"salt"`
	Algorithm  string    `json:"algorithm"`
	KDF        string    `json:"kdf"`
	Iterations int       `json:"iterations"`
	Version    int       `json:"version"`
	Verifier   string    `json:"verifier,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type EncryptionState string

const (
	EncryptionDisabled EncryptionState = "disabled"
	EncryptionLocked   EncryptionState = "locked"
	EncryptionUnlocked EncryptionState = "unlocked"
)

type PasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

type EnablePasswordRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

// MigrationReport summarises a bulk re-encryption or decryption pass.
type MigrationReport struct {
	Attempted int      `json:"attempted"`
	Completed int      `json:"completed"`
	Failed    []int64  `json:"failed,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}
