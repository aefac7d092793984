// Package dmcrypto implements the cryptography for encrypted direct
// messages: deterministic channel derivation, Noise IK sessions between
// peers, and a deterministic AEAD mode for self-messages.
package dmcrypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// ChannelIDSize is the byte length of a channel ID.
const ChannelIDSize = 32

// ChannelID is a 32-byte conversation tag.
type ChannelID [ChannelIDSize]byte

// DeriveChannelID computes the DM channel ID for two Ed25519 public
// keys: SHA256(min(pubA, pubB) || max(pubA, pubB)). Both peers compute
// the same ID regardless of argument order.
func DeriveChannelID(pubA, pubB [32]byte) ChannelID {
	lo, hi := pubA, pubB
	if bytes.Compare(pubA[:], pubB[:]) > 0 {
		lo, hi = pubB, pubA
	}
	h := sha256.New()
	h.Write(lo[:])
	h.Write(hi[:])
	var id ChannelID
	copy(id[:], h.Sum(nil))
	return id
}

// ChannelIDFromHex parses a hex-encoded channel ID.
func ChannelIDFromHex(s string) (ChannelID, error) {
	var id ChannelID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != ChannelIDSize {
		return id, ErrInvalidChannelID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the hex-encoded channel ID.
func (c ChannelID) String() string {
	return hex.EncodeToString(c[:])
}
