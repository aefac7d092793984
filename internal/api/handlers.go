package api

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/meshapp/meshcore/internal/core"
	"github.com/meshapp/meshcore/internal/dmcrypto"
	"github.com/meshapp/meshcore/internal/friends"
	"github.com/meshapp/meshcore/internal/identity"
)

// friendJSON is the wire form of a friend record.
type friendJSON struct {
	UserID        string   `json:"user_id"`
	Ed25519Public string   `json:"ed25519_public"`
	X25519Public  string   `json:"x25519_public,omitempty"`
	Nickname      string   `json:"nickname"`
	DisplayName   string   `json:"display_name"`
	Notes         string   `json:"notes,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

func toFriendJSON(f *friends.Friend) friendJSON {
	out := friendJSON{
		UserID:        f.UserID.String(),
		Ed25519Public: hex.EncodeToString(f.Ed25519Public[:]),
		Nickname:      f.Nickname,
		DisplayName:   f.DisplayName(),
		Notes:         f.Notes,
		Tags:          f.Tags,
	}
	if f.X25519Public != ([32]byte{}) {
		out.X25519Public = hex.EncodeToString(f.X25519Public[:])
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, friends.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, friends.ErrNicknameTaken),
		errors.Is(err, friends.ErrUserIDMismatch):
		return http.StatusConflict
	case errors.Is(err, friends.ErrEmptyNickname),
		errors.Is(err, friends.ErrInvalidExport),
		errors.Is(err, dmcrypto.ErrInvalidChannelID):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoX25519Key):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func userIDParam(c *gin.Context, name string) (identity.UserID, bool) {
	id, err := identity.UserIDFromHex(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return id, false
	}
	return id, true
}

// --- Identity handlers ---

func (s *Server) getIdentity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user_id":        s.core.UserID().String(),
		"fingerprint":    s.core.Fingerprint(),
		"ed25519_public": s.core.Ed25519PublicHex(),
		"x25519_public":  s.core.X25519PublicHex(),
	})
}

func (s *Server) exportIdentity(c *gin.Context) {
	payload, err := s.core.ExportOwnIdentity()
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(payload))
}

// --- Friend handlers ---

func (s *Server) listFriends(c *gin.Context) {
	list := s.core.Friends()
	out := make([]friendJSON, 0, len(list))
	for _, f := range list {
		out = append(out, toFriendJSON(f))
	}
	c.JSON(http.StatusOK, gin.H{"friends": out})
}

func (s *Server) importFriend(c *gin.Context) {
	var req struct {
		Payload  string `json:"payload" binding:"required"`
		Nickname string `json:"nickname" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := s.core.ImportFriendFromJSON(req.Payload, req.Nickname)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": userID.String()})
}

func (s *Server) updateFriend(c *gin.Context) {
	userID, ok := userIDParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Nickname    *string   `json:"nickname"`
		Notes       *string   `json:"notes"`
		Tags        *[]string `json:"tags"`
		DisplayName *string   `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.core.UpdateFriendProfile(userID, friends.ProfileUpdate{
		Nickname:    req.Nickname,
		Notes:       req.Notes,
		Tags:        req.Tags,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) removeFriend(c *gin.Context) {
	userID, ok := userIDParam(c, "id")
	if !ok {
		return
	}
	if err := s.core.RemoveFriend(userID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- DM handlers ---

func (s *Server) getDMChannel(c *gin.Context) {
	peer, ok := userIDParam(c, "peer")
	if !ok {
		return
	}
	channelID, err := s.core.DeriveDMChannelID(peer)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": channelID.String()})
}

func (s *Server) sendDM(c *gin.Context) {
	peer, ok := userIDParam(c, "peer")
	if !ok {
		return
	}
	var req struct {
		Plaintext string `json:"plaintext" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	messageID, err := s.core.SendDM(peer, req.Plaintext)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message_id": messageID})
}

func (s *Server) getDMMessages(c *gin.Context) {
	peer, ok := userIDParam(c, "peer")
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	msgs, err := s.core.GetDMMessages(peer, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) clearDMMessages(c *gin.Context) {
	peer, ok := userIDParam(c, "peer")
	if !ok {
		return
	}
	if err := s.core.ClearDMMessages(peer); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) dmSelfCheck(c *gin.Context) {
	if err := s.core.TestDMEncryptDecrypt(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// --- Raw storage handlers ---

func (s *Server) storeMessage(c *gin.Context) {
	var req struct {
		MessageID  string `json:"message_id" binding:"required"`
		ChannelID  string `json:"channel_id" binding:"required"`
		Ciphertext string `json:"ciphertext" binding:"required"`
		Timestamp  int64  `json:"timestamp"`
		TTL        uint8  `json:"ttl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	messageID, err := hex.DecodeString(req.MessageID)
	if err != nil || len(messageID) != 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id must be 32 hex bytes"})
		return
	}
	channelID, err := dmcrypto.ChannelIDFromHex(req.ChannelID)
	if err != nil {
		fail(c, err)
		return
	}
	ciphertext, err := hex.DecodeString(req.Ciphertext)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ciphertext must be hex"})
		return
	}
	var mid [32]byte
	copy(mid[:], messageID)
	if err := s.core.StoreMessage(mid, channelID, ciphertext, req.Timestamp, req.TTL); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) getChannelMessages(c *gin.Context) {
	channelID, err := dmcrypto.ChannelIDFromHex(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	rows, err := s.core.Messages(channelID, intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		fail(c, err)
		return
	}
	type rowJSON struct {
		MessageID  string `json:"message_id"`
		Ciphertext string `json:"ciphertext"`
		Timestamp  int64  `json:"timestamp"`
		TTL        uint8  `json:"ttl"`
	}
	out := make([]rowJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowJSON{
			MessageID:  hex.EncodeToString(row.MessageID),
			Ciphertext: hex.EncodeToString(row.Ciphertext),
			Timestamp:  row.Timestamp,
			TTL:        row.TTL,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// --- Packet handlers ---

type packetJSON struct {
	PacketID  string `json:"packet_id"`
	ChannelID string `json:"channel_id"`
	TTL       uint8  `json:"ttl"`
	Payload   string `json:"payload"` // hex
}

func (s *Server) sendPacket(c *gin.Context) {
	var req struct {
		ChannelID string `json:"channel_id" binding:"required"`
		Payload   string `json:"payload" binding:"required"`
		TTL       uint8  `json:"ttl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	channelID, err := dmcrypto.ChannelIDFromHex(req.ChannelID)
	if err != nil {
		fail(c, err)
		return
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be hex"})
		return
	}
	packetID, err := s.core.SendPacket(channelID, payload, req.TTL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"packet_id": packetID})
}

func (s *Server) ingestPacket(c *gin.Context) {
	var req packetJSON
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	packetID, err := hex.DecodeString(req.PacketID)
	if err != nil || len(packetID) != 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "packet_id must be 32 hex bytes"})
		return
	}
	channelID, err := dmcrypto.ChannelIDFromHex(req.ChannelID)
	if err != nil {
		fail(c, err)
		return
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be hex"})
		return
	}
	var pid [32]byte
	copy(pid[:], packetID)
	s.core.IngestPacket(pid, channelID, payload, req.TTL)
	c.Status(http.StatusAccepted)
}

func (s *Server) drainLoopback(c *gin.Context) {
	packets := s.core.DrainLoopback()
	out := make([]packetJSON, 0, len(packets))
	for _, p := range packets {
		out = append(out, packetJSON{
			PacketID:  hex.EncodeToString(p.PacketID[:]),
			ChannelID: hex.EncodeToString(p.ChannelID[:]),
			TTL:       p.TTL,
			Payload:   hex.EncodeToString(p.Payload),
		})
	}
	c.JSON(http.StatusOK, gin.H{"packets": out})
}

// --- Geo handlers ---

func (s *Server) registerGeoChannel(c *gin.Context) {
	var req struct {
		Geohash string `json:"geohash" binding:"required"`
		Topic   string `json:"topic" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.core.RegisterGeoChannel(req.Geohash, req.Topic)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"channel_id": id.String()})
}

func (s *Server) listGeoChannels(c *gin.Context) {
	channels, err := s.core.GeoChannels()
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]string, 0, len(channels))
	for _, id := range channels {
		out = append(out, id.String())
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

// --- Mentions and tuning ---

func (s *Server) extractMentions(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mentions": s.core.ExtractMentions(req.Text)})
}

func (s *Server) getOptimization(c *gin.Context) {
	opt := s.core.Optimization()
	c.JSON(http.StatusOK, gin.H{
		"battery_mode":     opt.Mode.String(),
		"scan_interval_ms": opt.ScanInterval.Milliseconds(),
		"scan_window_ms":   opt.ScanWindow().Milliseconds(),
		"batch_size":       opt.BatchSize,
		"max_batch_age_s":  int(opt.MaxBatchAge.Seconds()),
	})
}

func intQuery(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
