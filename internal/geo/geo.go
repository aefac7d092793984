// Package geo derives channel IDs for geohash-scoped group channels.
// Geohash strings are hashed as given; computing them from coordinates
// happens outside the core.
package geo

import (
	"crypto/sha256"

	"github.com/meshapp/meshcore/internal/dmcrypto"
)

// DeriveChannelID computes SHA256(geohash || topic).
func DeriveChannelID(geohash, topic string) dmcrypto.ChannelID {
	h := sha256.New()
	h.Write([]byte(geohash))
	h.Write([]byte(topic))
	var id dmcrypto.ChannelID
	copy(id[:], h.Sum(nil))
	return id
}
