// Package storage is the durable, channel-indexed message log over an
// embedded SQLite database.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/meshapp/meshcore/internal/dmcrypto"
)

// Channel types recorded in the channels table.
const (
	ChannelTypeGeohash = "geohash"
	ChannelTypeDM      = "dm"
)

// ErrClosed names the closed-store condition. Store's methods do not
// return it; after Close they return the database driver's error.
var ErrClosed = errors.New("storage closed")

// --- GORM Models ---

// Message is one durable ciphertext row. Rows are never mutated;
// insertion is idempotent on MessageID.
type Message struct {
	MessageID  []byte `gorm:"column:message_id;primaryKey"`
	ChannelID  []byte `gorm:"column:channel_id;not null;index"`
	Ciphertext []byte `gorm:"column:ciphertext;not null"`
	Timestamp  int64  `gorm:"column:timestamp;not null"`
	TTL        uint8  `gorm:"column:ttl;not null"`
}

// TableName keeps the on-disk schema name stable.
func (Message) TableName() string { return "messages" }

// Channel registers a known channel and its type.
type Channel struct {
	ChannelID []byte `gorm:"column:channel_id;primaryKey"`
	Type      string `gorm:"column:type;not null"`
}

// TableName keeps the on-disk schema name stable.
func (Channel) TableName() string { return "channels" }

// Store wraps the database connection.
type Store struct {
	db *gorm.DB
}

// Open initializes the database at path, creating the parent directory
// and running migrations. WAL journal mode is enabled on open.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&Message{}, &Channel{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// StoreMessage inserts a message row, ignoring duplicates on
// message_id. Idempotence matters because the router may re-present a
// packet after a restart: the seen-set is process-local, the log is not.
func (s *Store) StoreMessage(messageID, channelID [32]byte, ciphertext []byte, timestamp int64, ttl uint8) error {
	msg := Message{
		MessageID:  messageID[:],
		ChannelID:  channelID[:],
		Ciphertext: ciphertext,
		Timestamp:  timestamp,
		TTL:        ttl,
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&msg).Error
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// FetchMessages returns rows for a channel ordered by timestamp
// ascending, paginated by limit/offset.
func (s *Store) FetchMessages(channelID [32]byte, limit, offset int) ([]Message, error) {
	var rows []Message
	err := s.db.
		Where("channel_id = ?", channelID[:]).
		Order("timestamp ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return rows, nil
}

// DeleteChannelMessages purges every message in a channel.
func (s *Store) DeleteChannelMessages(channelID [32]byte) error {
	err := s.db.Where("channel_id = ?", channelID[:]).Delete(&Message{}).Error
	if err != nil {
		return fmt.Errorf("delete channel messages: %w", err)
	}
	return nil
}

// UpsertChannel records a channel, ignoring duplicates on channel_id.
func (s *Store) UpsertChannel(channelID [32]byte, channelType string) error {
	ch := Channel{ChannelID: channelID[:], Type: channelType}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&ch).Error
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

// ListChannelsByType returns the channel IDs registered with the type.
func (s *Store) ListChannelsByType(channelType string) ([]dmcrypto.ChannelID, error) {
	var rows []Channel
	err := s.db.Where("type = ?", channelType).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	out := make([]dmcrypto.ChannelID, 0, len(rows))
	for _, row := range rows {
		var id dmcrypto.ChannelID
		copy(id[:], row.ChannelID)
		out = append(out, id)
	}
	return out, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
