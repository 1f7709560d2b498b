// Package intent defines the normalized inbound message exchanged between
// channel translators and the orchestration core.
package intent

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Channel identifies the origin transport of an intent.
type Channel string

const (
	ChannelChatWidget   Channel = "chat-widget"
	ChannelMessagingApp Channel = "messaging-app"
	ChannelVoice        Channel = "voice"
)

// PayloadType classifies the intent content.
type PayloadType string

const (
	PayloadText  PayloadType = "text"
	PayloadAudio PayloadType = "audio-transcript"
)

// Payload is the message body carried by an intent.
type Payload struct {
	Type     PayloadType       `json:"type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NeuralIntent is one normalized inbound user message. It is created by a
// channel translator and treated as read-only by everything downstream.
type NeuralIntent struct {
	ID             string    `json:"id"`
	Channel        Channel   `json:"channel"`
	ExternalUserID string    `json:"external_user_id"`
	TenantID       string    `json:"tenant_id"`
	Payload        Payload   `json:"payload"`
	Timestamp      time.Time `json:"timestamp"`
	Checksum       string    `json:"checksum"`
}

// ErrChecksumMismatch signals that the intent content no longer matches the
// checksum stamped at channel ingress.
var ErrChecksumMismatch = errors.New("intent checksum mismatch")

// ComputeChecksum derives the chain-of-custody hash binding an intent's
// identity and content. Channel translators stamp it at ingress; the
// orchestrator recomputes it before doing anything else.
func ComputeChecksum(id, tenantID, content string) string {
	sum := sha256.Sum256([]byte(id + tenantID + content))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the custody checksum and compares it against the stored
// one in constant time.
func (n NeuralIntent) Verify() error {
	expected := ComputeChecksum(n.ID, n.TenantID, n.Payload.Content)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(n.Checksum)) != 1 {
		return ErrChecksumMismatch
	}
	return nil
}

// SessionKey returns the conversation key used for memory reads and writes.
func (n NeuralIntent) SessionKey() string {
	return n.TenantID + ":" + n.ExternalUserID
}

// Validate checks the structural fields a translator must populate.
func (n NeuralIntent) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return errors.New("intent id is required")
	}
	if strings.TrimSpace(n.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(n.ExternalUserID) == "" {
		return errors.New("external user id is required")
	}
	if strings.TrimSpace(n.Payload.Content) == "" {
		return errors.New("payload content is required")
	}
	if strings.TrimSpace(n.Checksum) == "" {
		return errors.New("checksum is required")
	}
	return nil
}
