package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/meshapp/meshcore/internal/dmcrypto"
	"github.com/meshapp/meshcore/internal/identity"
	"github.com/meshapp/meshcore/internal/mesh"
)

// Every DM row must decrypt on its own: the log holds ciphertext, the
// seen-set does not survive restarts, and rows arrive in any order. So
// the wire form of a peer DM is a complete Noise IK message 1 from a
// fresh handshake — the sender writes as initiator, the receiver reads
// as responder and checks the initiator's static key against the friend
// record. The sender's own copy is stored under the channel's
// deterministic AEAD so local history stays readable.

// DMMessage is one decrypted message returned to the host.
type DMMessage struct {
	MessageID string `json:"message_id"`
	Plaintext string `json:"plaintext"`
	Timestamp int64  `json:"timestamp"`
	IsSent    bool   `json:"is_sent"`
}

// deriveMessageID computes SHA256(channel_id || big_endian_i64(now) ||
// plaintext). Content-derived, so the same bytes sent twice in one
// second collapse to one message.
func deriveMessageID(channelID dmcrypto.ChannelID, now int64, plaintext []byte) [32]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now))
	h := sha256.New()
	h.Write(channelID[:])
	h.Write(ts[:])
	h.Write(plaintext)
	var id [32]byte
	copy(id[:], h.Sum(nil))
	return id
}

// SendDM encrypts and persists a direct message, then hands it to the
// router as a packet whose packet ID is the message ID. Returns the
// message ID hex.
func (c *Core) SendDM(peer identity.UserID, plaintext string) (string, error) {
	channelID, err := c.DeriveDMChannelID(peer)
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()
	pt := []byte(plaintext)
	messageID := deriveMessageID(channelID, now, pt)

	var stored, wire []byte
	if peer == c.identity.UserID {
		stored, err = dmcrypto.EncryptSelfMessage(channelID, messageID, pt)
		if err != nil {
			return "", err
		}
		wire = stored
	} else {
		stored, wire, err = c.encryptPeerDM(peer, channelID, messageID, pt)
		if err != nil {
			return "", err
		}
	}

	if err := c.store.StoreMessage(messageID, [32]byte(channelID), stored, now, c.defaultTTL); err != nil {
		return "", err
	}
	c.routeAndStore(&mesh.Packet{
		PacketID:  messageID,
		ChannelID: [32]byte(channelID),
		TTL:       c.defaultTTL,
		Payload:   wire,
	})
	return hex.EncodeToString(messageID[:]), nil
}

// encryptPeerDM produces both ciphertext forms for a peer DM: the local
// copy under the channel AEAD, and the wire form as a one-shot Noise IK
// message 1 toward the friend's static key.
func (c *Core) encryptPeerDM(peer identity.UserID, channelID dmcrypto.ChannelID, messageID [32]byte, plaintext []byte) (stored, wire []byte, err error) {
	f, err := c.friends.Get(peer)
	if err != nil {
		return nil, nil, err
	}
	if f.X25519Public == ([32]byte{}) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoX25519Key, peer.Fingerprint())
	}

	stored, err = dmcrypto.EncryptSelfMessage(channelID, messageID, plaintext)
	if err != nil {
		return nil, nil, err
	}

	hs, err := dmcrypto.NewInitiator(c.identity.X25519Secret, c.identity.X25519Public, f.X25519Public)
	if err != nil {
		return nil, nil, err
	}
	wire, err = hs.WriteMessage1WithPayload(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return stored, wire, nil
}

// GetDMMessages fetches and decrypts the channel's rows, oldest first.
// Rows that fail every decryption attempt are logged and skipped; the
// call still returns the rest.
func (c *Core) GetDMMessages(peer identity.UserID, limit, offset int) ([]DMMessage, error) {
	channelID, err := c.DeriveDMChannelID(peer)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.store.FetchMessages([32]byte(channelID), limit, offset)
	if err != nil {
		return nil, err
	}

	isSelf := peer == c.identity.UserID
	var peerX25519 [32]byte
	if !isSelf {
		f, err := c.friends.Get(peer)
		if err != nil {
			return nil, err
		}
		peerX25519 = f.X25519Public
	}

	out := make([]DMMessage, 0, len(rows))
	for _, row := range rows {
		var messageID [32]byte
		copy(messageID[:], row.MessageID)

		plaintext, sent, err := c.decryptRow(channelID, messageID, row.Ciphertext, isSelf, peerX25519)
		if err != nil {
			c.log.Warn("skipping undecryptable message",
				"channel", channelID.String()[:16], "message", hex.EncodeToString(row.MessageID[:8]), "err", err)
			continue
		}
		out = append(out, DMMessage{
			MessageID: hex.EncodeToString(row.MessageID),
			Plaintext: string(plaintext),
			Timestamp: row.Timestamp,
			IsSent:    sent,
		})
	}
	return out, nil
}

// decryptRow tries the channel AEAD first (self rows and locally stored
// sent copies), then the Noise responder read for rows written by the
// peer.
func (c *Core) decryptRow(channelID dmcrypto.ChannelID, messageID [32]byte, ciphertext []byte, isSelf bool, peerX25519 [32]byte) ([]byte, bool, error) {
	if pt, err := dmcrypto.DecryptSelfMessage(channelID, messageID, ciphertext); err == nil {
		return pt, true, nil
	}

	hs, err := dmcrypto.NewResponder(c.identity.X25519Secret, c.identity.X25519Public)
	if err != nil {
		return nil, false, err
	}
	pt, err := hs.ReadMessage1WithPayload(ciphertext)
	if err != nil {
		return nil, false, err
	}
	if !isSelf && !bytes.Equal(hs.PeerStatic(), peerX25519[:]) {
		return nil, false, dmcrypto.ErrDecryptFailed
	}
	// A self channel can hold Noise-form rows written before the
	// deterministic AEAD existed; like every self row they read back as
	// sent.
	return pt, isSelf, nil
}

// ClearDMMessages purges the channel shared with a peer.
func (c *Core) ClearDMMessages(peer identity.UserID) error {
	channelID, err := c.DeriveDMChannelID(peer)
	if err != nil {
		return err
	}
	return c.store.DeleteChannelMessages([32]byte(channelID))
}

// TestDMEncryptDecrypt runs the full IK handshake and transport-mode
// round-trip against a throwaway peer identity, plus a self-message
// round-trip. Used by hosts as an install-time self-check.
func (c *Core) TestDMEncryptDecrypt() error {
	peer, err := identity.Generate()
	if err != nil {
		return err
	}
	channelID := dmcrypto.DeriveChannelID(c.identity.Ed25519Public, peer.Ed25519Public)

	// Role selection: the lexicographically lower user ID initiates.
	var local, remote *dmcrypto.Session
	if bytes.Compare(c.identity.UserID[:], peer.UserID[:]) < 0 {
		local, remote, err = dmcrypto.EstablishPair(
			c.identity.X25519Secret, c.identity.X25519Public,
			peer.X25519Secret, peer.X25519Public, channelID)
	} else {
		remote, local, err = dmcrypto.EstablishPair(
			peer.X25519Secret, peer.X25519Public,
			c.identity.X25519Secret, c.identity.X25519Public, channelID)
	}
	if err != nil {
		return err
	}

	probe := []byte("dm self-check")
	ct, err := local.Encrypt(probe)
	if err != nil {
		return err
	}
	pt, err := remote.Decrypt(ct)
	if err != nil || !bytes.Equal(pt, probe) {
		return ErrSelfCheckFailed
	}
	ct, err = remote.Encrypt(probe)
	if err != nil {
		return err
	}
	pt, err = local.Decrypt(ct)
	if err != nil || !bytes.Equal(pt, probe) {
		return ErrSelfCheckFailed
	}

	selfChannel := dmcrypto.DeriveChannelID(c.identity.Ed25519Public, c.identity.Ed25519Public)
	mid := deriveMessageID(selfChannel, time.Now().Unix(), probe)
	sct, err := dmcrypto.EncryptSelfMessage(selfChannel, mid, probe)
	if err != nil {
		return err
	}
	spt, err := dmcrypto.DecryptSelfMessage(selfChannel, mid, sct)
	if err != nil || !bytes.Equal(spt, probe) {
		return ErrSelfCheckFailed
	}
	return nil
}
