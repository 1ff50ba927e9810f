package handlers

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"p9e.in/incubator/metrics"
	"p9e.in/incubator/models"
)

// Effect kinds
const (
	EffectHistory   = "history"
	EffectNotify    = "notify"
	EffectBroadcast = "broadcast"
)

// Effect is one best-effort side effect emitted by a core transition.
// Effects are collected during the transition and dispatched after the
// transactional write commits, so core logic never depends on external
// I/O succeeding.
type Effect struct {
	Kind string

	// history
	RequestID uuid.UUID
	Action    string
	ActorID   string
	OldValue  interface{}
	NewValue  interface{}
	Note      string

	// notify
	Recipients []string
	Type       models.NotificationType
	Title      string
	Body       string

	// broadcast
	Channel string
	Event   string
	Payload interface{}
}

// HistoryEffect builds an audit-history effect.
func HistoryEffect(requestID uuid.UUID, action, actorID string, oldValue, newValue interface{}, note string) Effect {
	return Effect{
		Kind:      EffectHistory,
		RequestID: requestID,
		Action:    action,
		ActorID:   actorID,
		OldValue:  oldValue,
		NewValue:  newValue,
		Note:      note,
	}
}

// NotifyEffect builds an in-app notification effect.
func NotifyEffect(requestID uuid.UUID, recipients []string, notifType models.NotificationType, title, body string) Effect {
	return Effect{
		Kind:       EffectNotify,
		RequestID:  requestID,
		Recipients: recipients,
		Type:       notifType,
		Title:      title,
		Body:       body,
	}
}

// BroadcastEffect builds a real-time publish effect.
func BroadcastEffect(channel, event string, payload interface{}) Effect {
	return Effect{
		Kind:    EffectBroadcast,
		Channel: channel,
		Event:   event,
		Payload: payload,
	}
}

// Dispatcher executes effects outside the transactional boundary. Every
// failure is logged and counted, never propagated to the caller of the
// transition that emitted the effect.
type Dispatcher struct {
	db            *gorm.DB
	notifications *NotificationService
	broadcaster   Broadcaster
}

// NewDispatcher creates an effect dispatcher.
func NewDispatcher(db *gorm.DB, ns *NotificationService, b Broadcaster) *Dispatcher {
	if b == nil {
		b = NoopBroadcaster{}
	}
	return &Dispatcher{db: db, notifications: ns, broadcaster: b}
}

// Dispatch runs each effect in order, best-effort.
func (d *Dispatcher) Dispatch(effects []Effect) {
	for _, e := range effects {
		switch e.Kind {
		case EffectHistory:
			if err := d.recordHistory(e); err != nil {
				metrics.EffectFailures.WithLabelValues(EffectHistory).Inc()
				log.Printf("⚠️  Failed to record history for request %s (action %s): %v", e.RequestID, e.Action, err)
			}
		case EffectNotify:
			if err := d.notifications.NotifyUsers(e.Recipients, e.Type, e.Title, e.Body, e.RequestID); err != nil {
				metrics.EffectFailures.WithLabelValues(EffectNotify).Inc()
				log.Printf("⚠️  Failed to send notifications for request %s: %v", e.RequestID, err)
			}
		case EffectBroadcast:
			if err := d.broadcaster.Publish(e.Channel, e.Event, e.Payload); err != nil {
				metrics.EffectFailures.WithLabelValues(EffectBroadcast).Inc()
				log.Printf("⚠️  Failed to broadcast %s on %s: %v", e.Event, e.Channel, err)
			}
		default:
			log.Printf("⚠️  Unknown effect kind %q dropped", e.Kind)
		}
	}
}

// recordHistory appends one immutable history row.
func (d *Dispatcher) recordHistory(e Effect) error {
	entry := models.RequestHistory{
		RequestID: e.RequestID,
		Action:    e.Action,
		ActorID:   e.ActorID,
		Note:      e.Note,
	}
	if e.OldValue != nil {
		if b, err := json.Marshal(e.OldValue); err == nil {
			entry.OldValue = b
		}
	}
	if e.NewValue != nil {
		if b, err := json.Marshal(e.NewValue); err == nil {
			entry.NewValue = b
		}
	}
	return d.db.Create(&entry).Error
}
