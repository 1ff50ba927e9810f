package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotificationTypeApprovalRequired  NotificationType = "approval_required"
	NotificationTypeApprovalApproved  NotificationType = "approval_approved"
	NotificationTypeApprovalDeclined  NotificationType = "approval_declined"
	NotificationTypeApprovalDelegated NotificationType = "approval_delegated"
	NotificationTypeRequestSubmitted  NotificationType = "request_submitted"
	NotificationTypeRequestCancelled  NotificationType = "request_cancelled"
	NotificationTypeStatusChanged     NotificationType = "status_changed"
	NotificationTypeDeliveryUpdated   NotificationType = "delivery_updated"
)

// NotificationStatus defines the status of a notification
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusRead    NotificationStatus = "read"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Notification is an in-app notification row. Delivery is best-effort and
// never blocks the transition that produced it.
type Notification struct {
	ID     uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID string           `gorm:"size:255;not null;index" json:"user_id"`
	Type   NotificationType `gorm:"size:50;not null" json:"type"`

	Title string `gorm:"size:500;not null" json:"title"`
	Body  string `gorm:"type:text" json:"body,omitempty"`

	RequestID *uuid.UUID     `gorm:"type:uuid;index" json:"request_id,omitempty"`
	Metadata  datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	Status NotificationStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	SentAt *time.Time         `json:"sent_at,omitempty"`
	ReadAt *time.Time         `json:"read_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Notification
func (Notification) TableName() string {
	return "notifications"
}

// MarkAsSent marks the notification as sent
func (n *Notification) MarkAsSent() {
	now := time.Now()
	n.Status = NotificationStatusSent
	n.SentAt = &now
}

// MarkAsRead marks the notification as read
func (n *Notification) MarkAsRead() {
	now := time.Now()
	n.Status = NotificationStatusRead
	n.ReadAt = &now
}
