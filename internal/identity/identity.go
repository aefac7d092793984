// Package identity manages the device's long-lived keypairs: an
// Ed25519 key for identity and an X25519 key for Noise key exchange.
// The user ID is SHA256 of the Ed25519 public key.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/curve25519"

	"github.com/meshapp/meshcore/internal/atomicfile"
)

const (
	// SecretKeySize is the byte length of each stored secret.
	SecretKeySize = 32
	// PublicKeySize is the byte length of each public key.
	PublicKeySize = 32
)

// ErrCorruptKeyFile is returned when an existing identity file cannot
// be parsed. The file is never regenerated over.
var ErrCorruptKeyFile = errors.New("identity file exists but cannot be parsed")

// Identity holds a device's keypairs and derived user ID.
type Identity struct {
	Ed25519Secret [SecretKeySize]byte
	X25519Secret  [SecretKeySize]byte

	Ed25519Public [PublicKeySize]byte
	X25519Public  [PublicKeySize]byte
	UserID        UserID
}

// keyFile is the on-disk representation: only the two secrets.
type keyFile struct {
	Ed25519Secret string `json:"ed25519_secret"`
	X25519Secret  string `json:"x25519_secret"`
}

// Generate creates a new random identity.
func Generate() (*Identity, error) {
	id := &Identity{}
	if _, err := rand.Read(id.Ed25519Secret[:]); err != nil {
		return nil, fmt.Errorf("generate ed25519 seed: %w", err)
	}
	if _, err := rand.Read(id.X25519Secret[:]); err != nil {
		return nil, fmt.Errorf("generate x25519 secret: %w", err)
	}
	// Clamp X25519 secret per Curve25519 convention
	id.X25519Secret[0] &= 248
	id.X25519Secret[31] &= 127
	id.X25519Secret[31] |= 64

	if err := id.derive(); err != nil {
		return nil, err
	}
	return id, nil
}

// FromSecrets reconstructs an identity from its two stored secrets.
func FromSecrets(ed25519Secret, x25519Secret [SecretKeySize]byte) (*Identity, error) {
	id := &Identity{
		Ed25519Secret: ed25519Secret,
		X25519Secret:  x25519Secret,
	}
	if err := id.derive(); err != nil {
		return nil, err
	}
	return id, nil
}

func (id *Identity) derive() error {
	priv := ed25519.NewKeyFromSeed(id.Ed25519Secret[:])
	copy(id.Ed25519Public[:], priv.Public().(ed25519.PublicKey))

	pub, err := curve25519.X25519(id.X25519Secret[:], curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("derive x25519 public key: %w", err)
	}
	copy(id.X25519Public[:], pub)

	id.UserID = UserIDFromPublicKey(id.Ed25519Public[:])
	return nil
}

// Load reads an identity from path.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptKeyFile, err)
	}
	edSecret, err := decodeSecret(kf.Ed25519Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519_secret: %v", ErrCorruptKeyFile, err)
	}
	xSecret, err := decodeSecret(kf.X25519Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519_secret: %v", ErrCorruptKeyFile, err)
	}
	return FromSecrets(edSecret, xSecret)
}

// Save persists the identity's secrets to path atomically with mode 0600.
func (id *Identity) Save(path string) error {
	kf := keyFile{
		Ed25519Secret: hex.EncodeToString(id.Ed25519Secret[:]),
		X25519Secret:  hex.EncodeToString(id.X25519Secret[:]),
	}
	data, err := json.Marshal(kf)
	if err != nil {
		return fmt.Errorf("serialize identity: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// LoadOrGenerate loads an identity from path, generating and persisting
// a fresh one only when the file does not exist. A file that exists but
// cannot be parsed is surfaced as an error, never regenerated over.
func LoadOrGenerate(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat identity file: %w", err)
	}
	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}

// SigningKey returns the full Ed25519 private key.
func (id *Identity) SigningKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(id.Ed25519Secret[:])
}

// Ed25519PublicHex returns the Ed25519 public key as a hex string.
func (id *Identity) Ed25519PublicHex() string {
	return hex.EncodeToString(id.Ed25519Public[:])
}

// X25519PublicHex returns the X25519 public key as a hex string.
func (id *Identity) X25519PublicHex() string {
	return hex.EncodeToString(id.X25519Public[:])
}

// String returns a human-readable identity summary.
func (id *Identity) String() string {
	return fmt.Sprintf("Identity{user=%s, ed25519=%s...}", id.UserID.Fingerprint(), id.Ed25519PublicHex()[:16])
}

func decodeSecret(s string) ([SecretKeySize]byte, error) {
	var out [SecretKeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != SecretKeySize {
		return out, fmt.Errorf("secret must be %d bytes, got %d", SecretKeySize, len(b))
	}
	copy(out[:], b)
	return out, nil
}
