package friends

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meshapp/meshcore/internal/identity"
)

// ErrInvalidExport is returned when an exchange payload fails to parse
// or validate.
var ErrInvalidExport = errors.New("invalid friend exchange payload")

// Export is the JSON payload exchanged between devices (typically via
// QR code): the user ID and both static public keys, hex-encoded.
type Export struct {
	UserID        string `json:"user_id"`
	Ed25519Public string `json:"ed25519_public"`
	X25519Public  string `json:"x25519_public"`
}

// ExportFriend produces the exchange payload for a friend.
func ExportFriend(f *Friend) Export {
	return Export{
		UserID:        f.UserID.String(),
		Ed25519Public: hex.EncodeToString(f.Ed25519Public[:]),
		X25519Public:  hex.EncodeToString(f.X25519Public[:]),
	}
}

// ExportIdentity produces the exchange payload for the local identity.
func ExportIdentity(id *identity.Identity) Export {
	return Export{
		UserID:        id.UserID.String(),
		Ed25519Public: hex.EncodeToString(id.Ed25519Public[:]),
		X25519Public:  hex.EncodeToString(id.X25519Public[:]),
	}
}

// JSON renders the payload as a JSON string.
func (e Export) JSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("serialize export: %w", err)
	}
	return string(data), nil
}

// ParseExport parses and validates an exchange payload: hex lengths
// must match and the user ID must hash-bind to the Ed25519 key.
func ParseExport(jsonStr string) (ed25519Public, x25519Public [32]byte, err error) {
	var e Export
	if err = json.Unmarshal([]byte(jsonStr), &e); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidExport, err)
		return
	}
	ed25519Public, err = decodeKey(e.Ed25519Public, "ed25519_public")
	if err != nil {
		return
	}
	x25519Public, err = decodeKey(e.X25519Public, "x25519_public")
	if err != nil {
		return
	}
	claimed, err := identity.UserIDFromHex(e.UserID)
	if err != nil {
		err = fmt.Errorf("%w: user_id: %v", ErrInvalidExport, err)
		return
	}
	if claimed != identity.UserIDFromPublicKey(ed25519Public[:]) {
		err = ErrUserIDMismatch
		return
	}
	return
}

// ImportJSON parses an exchange payload and registers it under nickname.
func (m *Manager) ImportJSON(jsonStr, nickname string) (identity.UserID, error) {
	edPub, xPub, err := ParseExport(jsonStr)
	if err != nil {
		return identity.UserID{}, err
	}
	return m.Add(edPub, xPub, nickname)
}

func decodeKey(s, field string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrInvalidExport, field, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("%w: %s must be 32 bytes, got %d", ErrInvalidExport, field, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func (ff friendFile) toFriend() (*Friend, error) {
	userID, err := identity.UserIDFromHex(ff.UserID)
	if err != nil {
		return nil, err
	}
	edPub, err := decodeKey(ff.Ed25519Public, "ed25519_public")
	if err != nil {
		return nil, err
	}
	var xPub [32]byte
	if ff.X25519Public != "" {
		xPub, err = decodeKey(ff.X25519Public, "x25519_public")
		if err != nil {
			return nil, err
		}
	}
	if userID != identity.UserIDFromPublicKey(edPub[:]) {
		return nil, ErrUserIDMismatch
	}
	return &Friend{
		UserID:            userID,
		Ed25519Public:     edPub,
		X25519Public:      xPub,
		Nickname:          ff.Nickname,
		Notes:             ff.Notes,
		Tags:              ff.Tags,
		CustomDisplayName: ff.CustomDisplayName,
	}, nil
}

func (f *Friend) toFile() friendFile {
	ff := friendFile{
		UserID:            f.UserID.String(),
		Ed25519Public:     hex.EncodeToString(f.Ed25519Public[:]),
		Nickname:          f.Nickname,
		Notes:             f.Notes,
		Tags:              f.Tags,
		CustomDisplayName: f.CustomDisplayName,
	}
	if f.X25519Public != ([32]byte{}) {
		ff.X25519Public = hex.EncodeToString(f.X25519Public[:])
	}
	return ff
}
