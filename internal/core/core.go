// Package core binds identity, friends, storage and routing into the
// high-level send/receive workflows the host consumes. A Core handle is
// passed explicitly to every entry point; each subsystem guards its own
// state, so there is no global lock ordering to get wrong.
package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshapp/meshcore/internal/config"
	"github.com/meshapp/meshcore/internal/dmcrypto"
	"github.com/meshapp/meshcore/internal/friends"
	"github.com/meshapp/meshcore/internal/geo"
	"github.com/meshapp/meshcore/internal/identity"
	"github.com/meshapp/meshcore/internal/mentions"
	"github.com/meshapp/meshcore/internal/mesh"
	"github.com/meshapp/meshcore/internal/storage"
)

var (
	// ErrNoX25519Key is returned when a friend record lacks the X25519
	// static key a Noise handshake needs.
	ErrNoX25519Key = errors.New("friend record has no x25519 public key")
	// ErrSelfCheckFailed is returned when the encrypt/decrypt self-test
	// does not round-trip.
	ErrSelfCheckFailed = errors.New("dm encrypt/decrypt self-check failed")
)

// Core owns the subsystem singletons for one device.
type Core struct {
	identity *identity.Identity
	friends  *friends.Manager
	store    *storage.Store
	router   *mesh.Router
	loopback *mesh.LoopbackTransport

	optimization mesh.OptimizationConfig
	defaultTTL   uint8
	log          *slog.Logger

	hookMu     sync.Mutex
	onNovelPkt func(*mesh.Packet)
}

// Open initializes every subsystem from the config: identity and friend
// registry from their JSON files, the message database, and a router
// over the given transports plus a loopback.
func Open(cfg *config.Config, transports []mesh.Transport, log *slog.Logger) (*Core, error) {
	id, err := identity.LoadOrGenerate(cfg.IdentityPath())
	if err != nil {
		return nil, fmt.Errorf("init identity: %w", err)
	}
	fm, err := friends.NewManager(cfg.FriendsPath())
	if err != nil {
		return nil, fmt.Errorf("init friends: %w", err)
	}
	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	mode, err := mesh.ParseBatteryMode(cfg.BatteryMode)
	if err != nil {
		return nil, err
	}
	ttl := uint8(mesh.DefaultTTL)
	if cfg.DefaultTTL > 0 && cfg.DefaultTTL <= 255 {
		ttl = uint8(cfg.DefaultTTL)
	}

	loopback := mesh.NewLoopbackTransport()
	router := mesh.NewRouter(append(transports, loopback), log)

	c := &Core{
		identity:     id,
		friends:      fm,
		store:        store,
		router:       router,
		loopback:     loopback,
		optimization: mesh.ConfigForMode(mode),
		defaultTTL:   ttl,
		log:          log.With("component", "core"),
	}
	c.log.Info("core initialized", "user", id.UserID.Fingerprint(), "battery_mode", mode.String())
	return c, nil
}

// Close releases the message database.
func (c *Core) Close() error {
	return c.store.Close()
}

// --- Identity ---

// UserID returns the local user ID.
func (c *Core) UserID() identity.UserID {
	return c.identity.UserID
}

// Fingerprint returns the short display form of the local user ID.
func (c *Core) Fingerprint() string {
	return c.identity.UserID.Fingerprint()
}

// Ed25519PublicHex returns the local Ed25519 public key, hex-encoded.
func (c *Core) Ed25519PublicHex() string {
	return c.identity.Ed25519PublicHex()
}

// X25519PublicHex returns the local X25519 public key, hex-encoded.
func (c *Core) X25519PublicHex() string {
	return c.identity.X25519PublicHex()
}

// ExportOwnIdentity produces the QR exchange payload for this device.
func (c *Core) ExportOwnIdentity() (string, error) {
	return friends.ExportIdentity(c.identity).JSON()
}

// --- Friends ---

// AddFriend registers a friend from its public keys.
func (c *Core) AddFriend(ed25519Public, x25519Public [32]byte, nickname string) (identity.UserID, error) {
	return c.friends.Add(ed25519Public, x25519Public, nickname)
}

// ImportFriendFromJSON registers a friend from a QR exchange payload.
func (c *Core) ImportFriendFromJSON(payload, nickname string) (identity.UserID, error) {
	return c.friends.ImportJSON(payload, nickname)
}

// RemoveFriend deletes a friend.
func (c *Core) RemoveFriend(userID identity.UserID) error {
	return c.friends.Remove(userID)
}

// Friends returns all registered friends.
func (c *Core) Friends() []*friends.Friend {
	return c.friends.List()
}

// UpdateFriendNickname renames a friend.
func (c *Core) UpdateFriendNickname(userID identity.UserID, nickname string) error {
	return c.friends.UpdateNickname(userID, nickname)
}

// UpdateFriendProfile applies a partial profile update.
func (c *Core) UpdateFriendProfile(userID identity.UserID, upd friends.ProfileUpdate) error {
	return c.friends.UpdateProfile(userID, upd)
}

// FriendDisplayName resolves custom display name or nickname.
func (c *Core) FriendDisplayName(userID identity.UserID) (string, error) {
	return c.friends.DisplayName(userID)
}

// --- Channels ---

// DeriveDMChannelID computes the channel shared with a peer. The peer
// must be the local user or a registered friend.
func (c *Core) DeriveDMChannelID(peer identity.UserID) (dmcrypto.ChannelID, error) {
	pub, err := c.peerEd25519(peer)
	if err != nil {
		return dmcrypto.ChannelID{}, err
	}
	return dmcrypto.DeriveChannelID(c.identity.Ed25519Public, pub), nil
}

// DeriveGeoChannelID computes the channel for a geohash-scoped topic.
func (c *Core) DeriveGeoChannelID(geohash, topic string) dmcrypto.ChannelID {
	return geo.DeriveChannelID(geohash, topic)
}

// RegisterGeoChannel records a geohash channel in the channel registry.
func (c *Core) RegisterGeoChannel(geohash, topic string) (dmcrypto.ChannelID, error) {
	id := geo.DeriveChannelID(geohash, topic)
	if err := c.store.UpsertChannel([32]byte(id), storage.ChannelTypeGeohash); err != nil {
		return id, err
	}
	return id, nil
}

// GeoChannels lists registered geohash channels.
func (c *Core) GeoChannels() ([]dmcrypto.ChannelID, error) {
	return c.store.ListChannelsByType(storage.ChannelTypeGeohash)
}

// --- Packets ---

// SendPacket originates a packet: random packet ID, routed through the
// transports; the novelty callback persists it.
func (c *Core) SendPacket(channelID dmcrypto.ChannelID, payload []byte, ttl uint8) (string, error) {
	packetID, err := mesh.GeneratePacketID()
	if err != nil {
		return "", err
	}
	p := &mesh.Packet{PacketID: packetID, ChannelID: [32]byte(channelID), TTL: ttl, Payload: payload}
	c.routeAndStore(p)
	return hex.EncodeToString(packetID[:]), nil
}

// IngestPacket feeds an inbound packet from a transport into the
// router. Duplicates are dropped by the seen-set; novel packets are
// persisted and forwarded with a decremented TTL.
func (c *Core) IngestPacket(packetID [32]byte, channelID dmcrypto.ChannelID, payload []byte, ttl uint8) {
	p := &mesh.Packet{PacketID: packetID, ChannelID: [32]byte(channelID), TTL: ttl, Payload: payload}
	c.routeAndStore(p)
}

// DrainLoopback returns packets queued on the loopback transport.
func (c *Core) DrainLoopback() []*mesh.Packet {
	return c.loopback.Drain()
}

// routeAndStore routes p with the persistence side effect: a novel
// packet's (packet_id, channel_id, payload) becomes a message row.
func (c *Core) routeAndStore(p *mesh.Packet) {
	c.router.Route(p, func(novel *mesh.Packet) {
		err := c.store.StoreMessage(novel.PacketID, novel.ChannelID, novel.Payload, time.Now().Unix(), novel.TTL)
		if err != nil {
			c.log.Error("store routed packet", "packet", novel.String(), "err", err)
		}
		c.hookMu.Lock()
		hook := c.onNovelPkt
		c.hookMu.Unlock()
		if hook != nil {
			hook(novel)
		}
	})
}

// SetNovelPacketHook registers a callback fired once per novel packet,
// after persistence. The host uses it to push message events.
func (c *Core) SetNovelPacketHook(fn func(*mesh.Packet)) {
	c.hookMu.Lock()
	c.onNovelPkt = fn
	c.hookMu.Unlock()
}

// --- Raw storage ---

// StoreMessage inserts a ciphertext row directly, bypassing routing.
// Idempotent on the message ID.
func (c *Core) StoreMessage(messageID [32]byte, channelID dmcrypto.ChannelID, ciphertext []byte, timestamp int64, ttl uint8) error {
	return c.store.StoreMessage(messageID, [32]byte(channelID), ciphertext, timestamp, ttl)
}

// Messages returns a channel's raw ciphertext rows, oldest first.
func (c *Core) Messages(channelID dmcrypto.ChannelID, limit, offset int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return c.store.FetchMessages([32]byte(channelID), limit, offset)
}

// --- Misc ---

// ExtractMentions finds @nickname references to registered friends.
func (c *Core) ExtractMentions(text string) []mentions.Mention {
	list := c.friends.List()
	infos := make([]mentions.FriendInfo, 0, len(list))
	for _, f := range list {
		infos = append(infos, mentions.FriendInfo{UserID: f.UserID.String(), Nickname: f.Nickname})
	}
	return mentions.Extract(text, infos)
}

// Optimization returns the transport tuning for the configured battery
// mode.
func (c *Core) Optimization() mesh.OptimizationConfig {
	return c.optimization
}

// peerEd25519 resolves a user ID to its Ed25519 public key: the local
// identity or a friend record.
func (c *Core) peerEd25519(peer identity.UserID) ([32]byte, error) {
	if peer == c.identity.UserID {
		return c.identity.Ed25519Public, nil
	}
	f, err := c.friends.Get(peer)
	if err != nil {
		return [32]byte{}, err
	}
	return f.Ed25519Public, nil
}
