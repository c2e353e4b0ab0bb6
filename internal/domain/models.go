// Package domain defines the persistence models for conversations, messages,
// and audit records. These types are mapped with GORM and form the core data
// layer of the live-chat backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Message sender types. The sender type determines widget display and whether
// the insert is eligible to page staff.
const (
	SenderVisitor = "visitor"
	SenderAgent   = "agent"
)

// Conversation is a chat thread owned by one anonymous visitor.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - VisitorID: opaque visitor identity from the long-lived widget cookie;
//     indexed, since ownership checks and reuse lookups filter on it.
//   - Status: one of "new", "active", "closed" (enforced by DB constraint).
//   - AssignedAgentID: optional staff assignment; never consulted by
//     visitor-facing logic.
//   - LastMessageAt: updated inside the same transaction as every message
//     insert; drives admin ordering and the retention sweep.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Conversation struct {
	ID              string         `json:"id"         gorm:"type:char(36);primaryKey"`
	VisitorID       string         `json:"visitor_id" gorm:"type:varchar(64);not null;index:idx_visitor_convs"`
	Status          Status         `json:"status"     gorm:"type:varchar(16);not null;default:'new';check:status IN ('new','active','closed')"`
	AssignedAgentID *string        `json:"assigned_agent_id,omitempty" gorm:"type:varchar(64)"`
	LastMessageAt   *time.Time     `json:"last_message_at,omitempty"   gorm:"index"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single utterance within a conversation, authored either by the
// owning visitor or by a staff agent.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: foreign key to the owning conversation (indexed).
//   - SenderType: "visitor" or "agent" (enforced by DB constraint).
//   - SenderID: visitor identity or agent identity, matching SenderType.
//   - Body: trimmed free text, 1–2000 runes (validated by the service layer).
//   - Conversation: FK association; messages are cascade-deleted when their
//     conversation is removed by the retention sweep.
type Message struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	SenderType     string         `json:"sender_type"     gorm:"type:varchar(16);not null;check:sender_type IN ('visitor','agent')"`
	SenderID       string         `json:"sender_id"       gorm:"type:varchar(64);not null"`
	Body           string         `json:"body"            gorm:"type:text;not null"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// AuditRecord captures one administrative mutation (agent reply, assignment,
// close). The log is append-only: nothing in this service reads it back; it
// exists for external reporting.
type AuditRecord struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	ActorID        string    `json:"actor_id"        gorm:"type:varchar(64);not null;index"`
	Action         string    `json:"action"          gorm:"type:varchar(32);not null"`
	ConversationID string    `json:"conversation_id" gorm:"type:char(36);not null;index"`
	Detail         string    `json:"detail"          gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for AuditRecord.
func (AuditRecord) TableName() string { return "audit_log" }

// Idempotency records the outcome of a previously processed visitor message
// send, keyed by (visitor_id, conversation_id, key). It lets the widget retry
// a POST over a flaky connection without duplicating the message.
type Idempotency struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	VisitorID      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_visitor_conv_key,priority:1"`
	ConversationID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_visitor_conv_key,priority:2"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_visitor_conv_key,priority:3"`
	MessageID      string    `gorm:"type:TEXT NOT NULL"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
