package services

import (
	"context"
	"time"

	"tutorhub/signaling/models"
	"tutorhub/signaling/utils"
)

type EffectKind int

const (
	// EffectEmit pushes an event to whichever connection represents UserID.
	EffectEmit EffectKind = iota
	// EffectSend pushes an event to one specific connection.
	EffectSend
	// EffectBroadcast pushes an event to every open connection.
	EffectBroadcast
	// EffectNotify persists a notification and pushes newNotification.
	EffectNotify
)

// Effect is a post-commit side effect produced by a coordinator operation.
type Effect struct {
	Kind         EffectKind
	UserID       string
	Conn         Conn
	Event        models.Event
	Notification *models.Notification
}

type Effects []Effect

func (e *Effects) emit(userID, name string, data interface{}) {
	*e = append(*e, Effect{Kind: EffectEmit, UserID: userID, Event: models.Event{Name: name, Data: data}})
}

func (e *Effects) send(conn Conn, name string, data interface{}) {
	*e = append(*e, Effect{Kind: EffectSend, Conn: conn, Event: models.Event{Name: name, Data: data}})
}

func (e *Effects) broadcast(name string, data interface{}) {
	*e = append(*e, Effect{Kind: EffectBroadcast, Event: models.Event{Name: name, Data: data}})
}

func (e *Effects) notify(n *models.Notification) {
	*e = append(*e, Effect{Kind: EffectNotify, UserID: n.RecipientID, Notification: n})
}

// Broadcaster reaches every open connection, joined or not.
type Broadcaster interface {
	Broadcast(event models.Event)
}

// Dispatcher executes effects in order. Nothing it does can fail the
// operation that produced the effects: delivery and notification problems are
// logged and dropped.
type Dispatcher struct {
	presence      Presence
	broadcaster   Broadcaster
	notifications NotificationStore
	logger        *utils.Logger
	now           func() time.Time
	ttl           time.Duration
}

func NewDispatcher(presence Presence, broadcaster Broadcaster, notifications NotificationStore, notificationTTL time.Duration, logger *utils.Logger) *Dispatcher {
	return &Dispatcher{
		presence:      presence,
		broadcaster:   broadcaster,
		notifications: notifications,
		logger:        logger.With("component", "dispatcher"),
		now:           time.Now,
		ttl:           notificationTTL,
	}
}

// SetBroadcaster wires the real-time hub once it exists.
func (d *Dispatcher) SetBroadcaster(b Broadcaster) {
	d.broadcaster = b
}

func (d *Dispatcher) Dispatch(ctx context.Context, effects Effects) {
	for _, e := range effects {
		switch e.Kind {
		case EffectEmit:
			d.emit(e.UserID, e.Event)
		case EffectSend:
			if !e.Conn.Send(e.Event) {
				d.logger.Warn("Dropped event for connection", "event", e.Event.Name, "conn_id", e.Conn.ID())
			}
		case EffectBroadcast:
			if d.broadcaster != nil {
				d.broadcaster.Broadcast(e.Event)
			}
		case EffectNotify:
			d.notify(ctx, e.Notification)
		}
	}
}

func (d *Dispatcher) emit(userID string, event models.Event) {
	conn, ok := d.presence.Lookup(userID)
	if !ok {
		d.logger.Debug("Recipient offline, event not delivered", "event", event.Name, "user_id", userID)
		return
	}
	if !conn.Send(event) {
		d.logger.Warn("Dropped event for user", "event", event.Name, "user_id", userID)
	}
}

func (d *Dispatcher) notify(ctx context.Context, n *models.Notification) {
	if d.notifications == nil {
		return
	}
	now := d.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.ExpiresAt == nil && d.ttl > 0 {
		expires := n.CreatedAt.Add(d.ttl)
		n.ExpiresAt = &expires
	}

	if err := d.notifications.Create(ctx, n); err != nil {
		d.logger.Error("Failed to create notification", "type", n.Type, "recipient_id", n.RecipientID, "error", err)
		return
	}
	d.emit(n.RecipientID, models.Event{Name: models.EventNewNotification, Data: n})
}
