package dmcrypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
)

// Sessions use the Noise IK pattern: both parties know each other's
// static X25519 public key before the handshake, which completes in two
// messages (initiator -> responder, responder -> initiator).

const (
	// TagSize is the Poly1305 authentication tag length appended to
	// every transport-mode ciphertext.
	TagSize = 16
)

var (
	ErrInvalidHandshake = errors.New("invalid handshake message")
	ErrDecryptFailed    = errors.New("decrypt failed")
	ErrEncryptFailed    = errors.New("encrypt failed")
	ErrNotEstablished   = errors.New("session not in transport state")
	ErrInvalidChannelID = errors.New("invalid channel id")
)

// cipherSuite matches the protocol identifier
// "Noise_IK_25519_ChaChaPoly_SHA256".
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// Handshake wraps an in-flight Noise IK handshake.
type Handshake struct {
	state     *noise.HandshakeState
	initiator bool
}

// NewInitiator begins an IK handshake toward a peer whose static
// X25519 public key is known.
func NewInitiator(localPriv, localPub [32]byte, remotePub [32]byte) (*Handshake, error) {
	return newHandshake(localPriv, localPub, remotePub[:], true)
}

// NewResponder begins the responder side of an IK handshake. The
// initiator's static key arrives inside message 1.
func NewResponder(localPriv, localPub [32]byte) (*Handshake, error) {
	return newHandshake(localPriv, localPub, nil, false)
}

func newHandshake(localPriv, localPub [32]byte, remotePub []byte, initiator bool) (*Handshake, error) {
	cfg := noise.Config{
		CipherSuite: cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   initiator,
		StaticKeypair: noise.DHKey{
			Private: localPriv[:],
			Public:  localPub[:],
		},
	}
	if initiator {
		cfg.PeerStatic = remotePub
	}
	state, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}
	return &Handshake{state: state, initiator: initiator}, nil
}

// WriteMessage1 produces handshake message 1 with an empty payload
// (initiator only).
func (h *Handshake) WriteMessage1() ([]byte, error) {
	return h.WriteMessage1WithPayload(nil)
}

// WriteMessage1WithPayload produces handshake message 1 carrying a
// payload encrypted to the responder's static key. In IK the payload of
// message 1 is already confidential and binds the initiator's static
// key, so a one-shot message needs no second flight.
func (h *Handshake) WriteMessage1WithPayload(payload []byte) ([]byte, error) {
	if !h.initiator {
		return nil, ErrInvalidHandshake
	}
	msg, _, _, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	return msg, nil
}

// ReadMessage1 consumes handshake message 1 (responder only).
func (h *Handshake) ReadMessage1(msg []byte) error {
	_, err := h.ReadMessage1WithPayload(msg)
	return err
}

// ReadMessage1WithPayload consumes handshake message 1 and returns its
// payload (responder only). The initiator's static key is available via
// PeerStatic afterwards and must be checked by the caller.
func (h *Handshake) ReadMessage1WithPayload(msg []byte) ([]byte, error) {
	if h.initiator {
		return nil, ErrInvalidHandshake
	}
	payload, _, _, err := h.state.ReadMessage(nil, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	return payload, nil
}

// WriteMessage2 produces handshake message 2 and completes the
// responder side, returning its transport-mode session.
func (h *Handshake) WriteMessage2(channelID ChannelID) ([]byte, *Session, error) {
	if h.initiator {
		return nil, nil, ErrInvalidHandshake
	}
	msg, cs1, cs2, err := h.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if cs1 == nil || cs2 == nil {
		return nil, nil, ErrInvalidHandshake
	}
	// cs1 carries initiator->responder traffic, cs2 the reverse.
	return msg, newSession(channelID, cs2, cs1), nil
}

// ReadMessage2 consumes handshake message 2 and completes the initiator
// side, returning its transport-mode session.
func (h *Handshake) ReadMessage2(msg []byte, channelID ChannelID) (*Session, error) {
	if !h.initiator {
		return nil, ErrInvalidHandshake
	}
	_, cs1, cs2, err := h.state.ReadMessage(nil, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if cs1 == nil || cs2 == nil {
		return nil, ErrInvalidHandshake
	}
	return newSession(channelID, cs1, cs2), nil
}

// PeerStatic returns the remote static public key learned during the
// handshake (responder side, after message 1).
func (h *Handshake) PeerStatic() []byte {
	return h.state.PeerStatic()
}

// Session is an established Noise transport state bound to a channel.
// Nonces advance on every operation, so callers must preserve message
// order within a session. Sessions are not persisted.
type Session struct {
	mu        sync.Mutex
	channelID ChannelID
	send      *noise.CipherState
	recv      *noise.CipherState
}

func newSession(channelID ChannelID, send, recv *noise.CipherState) *Session {
	return &Session{channelID: channelID, send: send, recv: recv}
}

// ChannelID returns the channel this session is bound to.
func (s *Session) ChannelID() ChannelID {
	return s.channelID
}

// Encrypt seals plaintext, appending a 16-byte tag.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send == nil {
		return nil, ErrNotEstablished
	}
	out := make([]byte, 0, len(plaintext)+TagSize)
	ct, err := s.send.Encrypt(out, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	return ct, nil
}

// Decrypt opens a ciphertext produced by the peer's session.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recv == nil {
		return nil, ErrNotEstablished
	}
	if len(ciphertext) < TagSize {
		return nil, ErrDecryptFailed
	}
	pt, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return pt, nil
}

// EstablishPair runs a complete in-process IK handshake between two
// parties and returns both transport-mode sessions. The network case
// runs the same two messages through WriteMessage1/ReadMessage1/
// WriteMessage2/ReadMessage2 on separate devices.
func EstablishPair(
	initiatorPriv, initiatorPub [32]byte,
	responderPriv, responderPub [32]byte,
	channelID ChannelID,
) (initiatorSession, responderSession *Session, err error) {
	init, err := NewInitiator(initiatorPriv, initiatorPub, responderPub)
	if err != nil {
		return nil, nil, err
	}
	resp, err := NewResponder(responderPriv, responderPub)
	if err != nil {
		return nil, nil, err
	}

	msg1, err := init.WriteMessage1()
	if err != nil {
		return nil, nil, err
	}
	if err := resp.ReadMessage1(msg1); err != nil {
		return nil, nil, err
	}
	msg2, responderSession, err := resp.WriteMessage2(channelID)
	if err != nil {
		return nil, nil, err
	}
	initiatorSession, err = init.ReadMessage2(msg2, channelID)
	if err != nil {
		return nil, nil, err
	}
	return initiatorSession, responderSession, nil
}
