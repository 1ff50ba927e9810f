package handlers

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p9e.in/incubator/models"
	"p9e.in/incubator/testutil"
)

func TestNotifyUsers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	service := NewNotificationService(db)
	requestID := uuid.New()

	// Duplicate and empty recipients are dropped.
	err := service.NotifyUsers([]string{"user-1", "user-2", "user-1", ""},
		models.NotificationTypeRequestSubmitted, "Request awaits review", "details", requestID)
	require.NoError(t, err)

	var notifications []models.Notification
	require.NoError(t, db.Where("request_id = ?", requestID).Find(&notifications).Error)
	require.Len(t, notifications, 2)
	for _, n := range notifications {
		assert.Equal(t, models.NotificationStatusSent, n.Status)
		assert.NotNil(t, n.SentAt)
	}
}

func TestNotificationInbox(t *testing.T) {
	db := testutil.SetupTestDB(t)
	service := NewNotificationService(db)
	requestID := uuid.New()

	require.NoError(t, service.NotifyUsers([]string{"user-1"},
		models.NotificationTypeStatusChanged, "first", "", requestID))
	require.NoError(t, service.NotifyUsers([]string{"user-1"},
		models.NotificationTypeStatusChanged, "second", "", requestID))

	unread, err := service.GetUnreadCount("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	notifications, err := service.GetNotificationsForUser("user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 2)

	require.NoError(t, service.MarkRead(notifications[0].ID, "user-1"))
	unread, err = service.GetUnreadCount("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	// A user cannot mark someone else's notification.
	err = service.MarkRead(notifications[1].ID, "user-2")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
