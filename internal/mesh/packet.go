// Package mesh implements the transport-agnostic store-and-forward
// layer: packets, the transport capability, duplicate suppression and
// TTL-bounded fan-out across transports.
package mesh

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// PacketIDSize is the byte length of a packet ID.
	PacketIDSize = 32
	// DefaultTTL is the hop budget assigned to locally originated packets.
	DefaultTTL = 10
)

// Packet is the routing unit: an opaque ciphertext payload addressed to
// a channel, with a hop budget. The packet ID is assigned by the
// originator and preserved end-to-end; it doubles as the stored
// message ID, which is what makes router dedup line up with store
// idempotence.
type Packet struct {
	PacketID  [PacketIDSize]byte
	ChannelID [32]byte
	TTL       uint8
	Payload   []byte
}

// Clone returns a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	cp := *p
	cp.Payload = append([]byte(nil), p.Payload...)
	return &cp
}

// String returns a short human-readable form for logging.
func (p *Packet) String() string {
	return fmt.Sprintf("Packet{id=%s ttl=%d len=%d}", hex.EncodeToString(p.PacketID[:8]), p.TTL, len(p.Payload))
}

// GeneratePacketID returns 32 cryptographically random bytes.
func GeneratePacketID() ([PacketIDSize]byte, error) {
	var id [PacketIDSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate packet id: %w", err)
	}
	return id, nil
}
