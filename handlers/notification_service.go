package handlers

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"p9e.in/incubator/models"
)

// NotificationService handles notification creation and delivery
type NotificationService struct {
	db *gorm.DB
}

// NewNotificationService creates a new notification service instance
func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db}
}

// NotifyUsers creates one in-app notification per recipient. A failure for
// one recipient does not stop the others; the first error is returned so the
// dispatcher can count it.
func (ns *NotificationService) NotifyUsers(recipients []string, notifType models.NotificationType, title, body string, requestID uuid.UUID) error {
	var firstErr error
	seen := make(map[string]bool, len(recipients))

	for _, userID := range recipients {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true

		notification := models.Notification{
			UserID:    userID,
			Type:      notifType,
			Title:     title,
			Body:      body,
			RequestID: &requestID,
			Status:    models.NotificationStatusPending,
		}
		if err := ns.db.Create(&notification).Error; err != nil {
			log.Printf("❌ Failed to create notification for user %s: %v", userID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to create notification for %s: %w", userID, err)
			}
			continue
		}

		// Mark as sent; a separate delivery worker would own this in a
		// multi-channel deployment.
		notification.MarkAsSent()
		ns.db.Save(&notification)
	}

	return firstErr
}

// GetNotificationsForUser retrieves notifications for a specific user
func (ns *NotificationService) GetNotificationsForUser(userID string, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var notifications []models.Notification
	if err := ns.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	return notifications, nil
}

// GetUnreadCount gets the count of unread notifications for a user
func (ns *NotificationService) GetUnreadCount(userID string) (int64, error) {
	var count int64
	if err := ns.db.Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// MarkRead marks a single notification as read for its owner.
func (ns *NotificationService) MarkRead(notificationID uuid.UUID, userID string) error {
	var notification models.Notification
	if err := ns.db.First(&notification, "id = ? AND user_id = ?", notificationID, userID).Error; err != nil {
		return &NotFoundError{Entity: "notification", ID: notificationID.String()}
	}
	notification.MarkAsRead()
	return ns.db.Save(&notification).Error
}
