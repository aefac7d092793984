package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// UserIDSize is the byte length of a user ID.
	UserIDSize = 32
	// FingerprintLen is the number of hex characters in a display fingerprint.
	FingerprintLen = 16
)

// UserID is the stable per-device identity, SHA256 of the Ed25519
// public key.
type UserID [UserIDSize]byte

// UserIDFromPublicKey derives a user ID from an Ed25519 public key.
func UserIDFromPublicKey(pubKey []byte) UserID {
	return UserID(sha256.Sum256(pubKey))
}

// UserIDFromHex parses a hex-encoded user ID string.
func UserIDFromHex(s string) (UserID, error) {
	var id UserID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid hex user id: %w", err)
	}
	if len(b) != UserIDSize {
		return id, fmt.Errorf("user id must be %d bytes, got %d", UserIDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the hex-encoded user ID.
func (id UserID) String() string {
	return hex.EncodeToString(id[:])
}

// Fingerprint returns the short display form: the first 16 hex
// characters of the user ID.
func (id UserID) Fingerprint() string {
	return id.String()[:FingerprintLen]
}

// IsZero returns true if the user ID is all zeros.
func (id UserID) IsZero() bool {
	return id == UserID{}
}
