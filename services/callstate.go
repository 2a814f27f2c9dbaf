package services

import (
	"fmt"
	"time"

	"tutorhub/signaling/models"
)

// SystemActor is the actor name reported for server-driven transitions. It is
// a label only; authority comes from CallEvent.System.
const SystemActor = "system"

type CallEventKind string

const (
	CallEventRing   CallEventKind = "ring"
	CallEventAnswer CallEventKind = "answer"
	CallEventReject CallEventKind = "reject"
	CallEventMiss   CallEventKind = "miss"
	CallEventEnd    CallEventKind = "end"
	CallEventFail   CallEventKind = "fail"
)

// CallEvent is a request to move a call forward. System is set only by
// server code and is never derived from client input.
type CallEvent struct {
	Kind   CallEventKind
	Actor  string
	At     time.Time
	Reason string
	System bool
}

// SystemEvent builds a server-driven event.
func SystemEvent(kind CallEventKind, at time.Time, reason string) CallEvent {
	return CallEvent{Kind: kind, Actor: SystemActor, At: at, Reason: reason, System: true}
}

// TransitionResult is the outcome of a legal transition. Call is an updated
// copy; the input is never modified.
type TransitionResult struct {
	From             models.CallStatus
	To               models.CallStatus
	Call             models.Call
	Notify           []string
	NotificationType models.NotificationType
	EventName        string
}

type role int

const (
	roleCaller role = 1 << iota
	roleReceiver
	roleSystem
)

const roleEither = roleCaller | roleReceiver

type edge struct {
	to      models.CallStatus
	allowed role
}

var transitions = map[models.CallStatus]map[CallEventKind]edge{
	models.CallStatusInitiated: {
		CallEventRing:   {models.CallStatusRinging, roleReceiver | roleSystem},
		CallEventAnswer: {models.CallStatusAnswered, roleReceiver},
		CallEventReject: {models.CallStatusRejected, roleReceiver},
		CallEventMiss:   {models.CallStatusMissed, roleCaller},
		CallEventFail:   {models.CallStatusFailed, roleEither | roleSystem},
	},
	models.CallStatusRinging: {
		CallEventAnswer: {models.CallStatusAnswered, roleReceiver},
		CallEventReject: {models.CallStatusRejected, roleReceiver},
		CallEventMiss:   {models.CallStatusMissed, roleCaller},
	},
	models.CallStatusAnswered: {
		CallEventEnd:  {models.CallStatusEnded, roleEither},
		CallEventFail: {models.CallStatusFailed, roleEither | roleSystem},
	},
}

var statusEvents = map[models.CallStatus]string{
	models.CallStatusRinging:  models.EventVideoCallRinging,
	models.CallStatusAnswered: models.EventVideoCallAccepted,
	models.CallStatusRejected: models.EventVideoCallRejected,
	models.CallStatusMissed:   models.EventVideoCallMissed,
	models.CallStatusEnded:    models.EventVideoCallEnded,
	models.CallStatusFailed:   models.EventVideoCallFailed,
}

var statusNotifications = map[models.CallStatus]models.NotificationType{
	models.CallStatusAnswered: models.NotificationCallAnswered,
	models.CallStatusRejected: models.NotificationCallRejected,
	models.CallStatusMissed:   models.NotificationCallMissed,
	models.CallStatusEnded:    models.NotificationCallEnded,
	models.CallStatusFailed:   models.NotificationCallFailed,
}

// Transition applies ev to call. It has no side effects; persisting the
// result and pushing events is up to the caller.
func Transition(call models.Call, ev CallEvent) (TransitionResult, error) {
	if call.Status.Terminal() {
		return TransitionResult{}, fmt.Errorf("call %s is %s: %w", call.ID, call.Status, ErrAlreadyTerminal)
	}

	actorRole, ok := roleOf(call, ev)
	if !ok {
		return TransitionResult{}, fmt.Errorf("%s is not a participant of call %s: %w", ev.Actor, call.ID, ErrUnauthorized)
	}

	e, ok := transitions[call.Status][ev.Kind]
	if !ok {
		return TransitionResult{}, fmt.Errorf("cannot %s a call that is %s: %w", ev.Kind, call.Status, ErrInvalidTransition)
	}
	if e.allowed&actorRole == 0 {
		return TransitionResult{}, fmt.Errorf("%s may not %s call %s: %w", ev.Actor, ev.Kind, call.ID, ErrUnauthorized)
	}

	next := call
	next.Status = e.to
	next.UpdatedAt = ev.At

	switch {
	case e.to == models.CallStatusAnswered:
		at := ev.At
		next.AnsweredAt = &at
	case e.to.Terminal():
		at := ev.At
		next.EndedAt = &at
		next.Duration = callDuration(next.AnsweredAt, at)
		next.EndReason = ev.Reason
		if next.EndReason == "" {
			next.EndReason = string(e.to)
		}
	}

	result := TransitionResult{
		From:             call.Status,
		To:               e.to,
		Call:             next,
		NotificationType: statusNotifications[e.to],
		EventName:        statusEvents[e.to],
	}
	if result.NotificationType != "" {
		if actorRole == roleSystem {
			result.Notify = []string{call.CallerID, call.ReceiverID}
		} else {
			result.Notify = []string{call.Peer(ev.Actor)}
		}
	}
	return result, nil
}

func roleOf(call models.Call, ev CallEvent) (role, bool) {
	if ev.System {
		return roleSystem, true
	}
	switch ev.Actor {
	case call.CallerID:
		return roleCaller, true
	case call.ReceiverID:
		return roleReceiver, true
	}
	return 0, false
}

// callDuration is whole seconds between answer and end, floored and never
// negative. A call that was never answered lasts zero seconds.
func callDuration(answeredAt *time.Time, endedAt time.Time) int64 {
	if answeredAt == nil {
		return 0
	}
	d := endedAt.Sub(*answeredAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
