package dmcrypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Self-messages (sender == recipient) skip Noise entirely. The key is
// derived from the channel ID and the nonce from the message ID, so
// encryption is deterministic per (channel, message, plaintext). The
// message ID is a content-derived hash, unique per distinct message,
// which keeps nonces from repeating under one key.

const selfKeyLabel = "self_msg_key"

// selfMessageKey derives the channel's self-message key:
// SHA256("self_msg_key" || channel_id).
func selfMessageKey(channelID ChannelID) [32]byte {
	h := sha256.New()
	h.Write([]byte(selfKeyLabel))
	h.Write(channelID[:])
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// selfMessageNonce is the first 12 bytes of the message ID.
func selfMessageNonce(messageID [32]byte) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce, messageID[:chacha20poly1305.NonceSize])
	return nonce
}

// EncryptSelfMessage seals plaintext for the local user's own channel.
func EncryptSelfMessage(channelID ChannelID, messageID [32]byte, plaintext []byte) ([]byte, error) {
	key := selfMessageKey(channelID)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	return aead.Seal(nil, selfMessageNonce(messageID), plaintext, nil), nil
}

// DecryptSelfMessage opens a self-message ciphertext.
func DecryptSelfMessage(channelID ChannelID, messageID [32]byte, ciphertext []byte) ([]byte, error) {
	key := selfMessageKey(channelID)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, ErrDecryptFailed
	}
	pt, err := aead.Open(nil, selfMessageNonce(messageID), ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return pt, nil
}
