// Package friends maintains the registry of verified peers: public
// keys bound to a SHA256-derived user ID plus local-only profile data.
package friends

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/meshapp/meshcore/internal/atomicfile"
	"github.com/meshapp/meshcore/internal/identity"
)

var (
	// ErrNotFound is returned when no friend matches the user ID.
	ErrNotFound = errors.New("friend not found")
	// ErrUserIDMismatch is returned when a user ID does not hash-bind
	// to the supplied Ed25519 public key.
	ErrUserIDMismatch = errors.New("user_id does not match ed25519 public key")
	// ErrNicknameTaken is returned on a case-insensitive nickname collision.
	ErrNicknameTaken = errors.New("nickname already in use")
	// ErrEmptyNickname is returned when a nickname is empty.
	ErrEmptyNickname = errors.New("nickname must not be empty")
)

// Friend is one registry entry.
type Friend struct {
	UserID            identity.UserID
	Ed25519Public     [32]byte
	X25519Public      [32]byte
	Nickname          string
	Notes             string
	Tags              []string
	CustomDisplayName string
}

// DisplayName returns the custom display name when set, the nickname
// otherwise.
func (f *Friend) DisplayName() string {
	if f.CustomDisplayName != "" {
		return f.CustomDisplayName
	}
	return f.Nickname
}

// friendFile is the persisted form; keys and IDs as hex strings.
type friendFile struct {
	UserID            string   `json:"user_id"`
	Ed25519Public     string   `json:"ed25519_public"`
	X25519Public      string   `json:"x25519_public,omitempty"`
	Nickname          string   `json:"nickname"`
	Notes             string   `json:"notes,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	CustomDisplayName string   `json:"custom_display_name,omitempty"`
}

type registryFile struct {
	Friends map[string]friendFile `json:"friends"`
}

// ProfileUpdate carries optional field updates; nil pointers leave the
// field unchanged.
type ProfileUpdate struct {
	Nickname    *string
	Notes       *string
	Tags        *[]string
	DisplayName *string
}

// Manager loads, mutates and persists the friend registry.
type Manager struct {
	mu      sync.Mutex
	path    string
	friends map[string]*Friend // keyed by hex user_id
}

// NewManager loads the registry from path, starting empty when the
// file does not exist.
func NewManager(path string) (*Manager, error) {
	m := &Manager{
		path:    path,
		friends: make(map[string]*Friend),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read friends file: %w", err)
	}
	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse friends file: %w", err)
	}
	for key, ff := range rf.Friends {
		f, err := ff.toFriend()
		if err != nil {
			return nil, fmt.Errorf("friend %s: %w", key, err)
		}
		m.friends[f.UserID.String()] = f
	}
	return m, nil
}

// Add registers a new friend from its public keys and nickname. The
// user ID is computed from the Ed25519 public key and returned.
func (m *Manager) Add(ed25519Public, x25519Public [32]byte, nickname string) (identity.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID := identity.UserIDFromPublicKey(ed25519Public[:])
	if nickname == "" {
		return userID, ErrEmptyNickname
	}
	// Add checks every existing record; only updates exclude their target.
	if m.nicknameTaken(nickname, identity.UserID{}) {
		return userID, fmt.Errorf("%w: %s", ErrNicknameTaken, nickname)
	}

	m.friends[userID.String()] = &Friend{
		UserID:        userID,
		Ed25519Public: ed25519Public,
		X25519Public:  x25519Public,
		Nickname:      nickname,
	}
	if err := m.save(); err != nil {
		delete(m.friends, userID.String())
		return userID, err
	}
	return userID, nil
}

// Remove deletes a friend. Returns ErrNotFound if absent.
func (m *Manager) Remove(userID identity.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userID.String()
	f, ok := m.friends[key]
	if !ok {
		return ErrNotFound
	}
	delete(m.friends, key)
	if err := m.save(); err != nil {
		m.friends[key] = f
		return err
	}
	return nil
}

// Get returns a copy of the friend with the given user ID.
func (m *Manager) Get(userID identity.UserID) (*Friend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.friends[userID.String()]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

// List returns all friends. Ordering is unspecified.
func (m *Manager) List() []*Friend {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Friend, 0, len(m.friends))
	for _, f := range m.friends {
		cp := *f
		out = append(out, &cp)
	}
	return out
}

// UpdateNickname changes a friend's nickname.
func (m *Manager) UpdateNickname(userID identity.UserID, nickname string) error {
	return m.UpdateProfile(userID, ProfileUpdate{Nickname: &nickname})
}

// UpdateProfile applies the non-nil fields of upd to the friend.
func (m *Manager) UpdateProfile(userID identity.UserID, upd ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.friends[userID.String()]
	if !ok {
		return ErrNotFound
	}
	prev := *f

	if upd.Nickname != nil {
		if *upd.Nickname == "" {
			return ErrEmptyNickname
		}
		if m.nicknameTaken(*upd.Nickname, userID) {
			return fmt.Errorf("%w: %s", ErrNicknameTaken, *upd.Nickname)
		}
		f.Nickname = *upd.Nickname
	}
	if upd.Notes != nil {
		f.Notes = *upd.Notes
	}
	if upd.Tags != nil {
		f.Tags = append([]string(nil), (*upd.Tags)...)
	}
	if upd.DisplayName != nil {
		f.CustomDisplayName = *upd.DisplayName
	}

	if err := m.save(); err != nil {
		*f = prev
		return err
	}
	return nil
}

// DisplayName returns the friend's display name (custom name when set,
// nickname otherwise).
func (m *Manager) DisplayName(userID identity.UserID) (string, error) {
	f, err := m.Get(userID)
	if err != nil {
		return "", err
	}
	return f.DisplayName(), nil
}

// nicknameTaken reports a case-insensitive collision with any friend
// other than exclude. Callers must hold the lock.
func (m *Manager) nicknameTaken(nickname string, exclude identity.UserID) bool {
	lower := strings.ToLower(nickname)
	for _, f := range m.friends {
		if f.UserID == exclude {
			continue
		}
		if strings.ToLower(f.Nickname) == lower {
			return true
		}
	}
	return false
}

// save persists the registry atomically. Callers must hold the lock.
func (m *Manager) save() error {
	rf := registryFile{Friends: make(map[string]friendFile, len(m.friends))}
	for key, f := range m.friends {
		rf.Friends[key] = f.toFile()
	}
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize friends: %w", err)
	}
	if err := atomicfile.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("save friends: %w", err)
	}
	return nil
}
