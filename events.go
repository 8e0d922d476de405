package confclient

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Event is a typed conference notification. Events of one session are
// delivered to the handler in emission order, on a single dispatch goroutine.
type Event interface {
	Kind() string
}

type StateChangedEvent struct {
	Previous SessionState
	Current  SessionState
	Reason   string
}

func (StateChangedEvent) Kind() string { return "state-changed" }

type MemberJoinedEvent struct {
	Member Member
}

func (MemberJoinedEvent) Kind() string { return "member-joined" }

type MemberUpdatedEvent struct {
	Member Member
}

func (MemberUpdatedEvent) Kind() string { return "member-updated" }

type MemberLeftEvent struct {
	Jid string
}

func (MemberLeftEvent) Kind() string { return "member-left" }

type RoleChangedEvent struct {
	Jid  string
	Role Role
}

func (RoleChangedEvent) Kind() string { return "role-changed" }

type MembersOnlyChangedEvent struct {
	Enabled bool
}

func (MembersOnlyChangedEvent) Kind() string { return "members-only-changed" }

type LobbyJoinedEvent struct{}

func (LobbyJoinedEvent) Kind() string { return "lobby-joined" }

type LobbyLeftEvent struct{}

func (LobbyLeftEvent) Kind() string { return "lobby-left" }

type RenegotiationNeededEvent struct {
	Reason string
}

func (RenegotiationNeededEvent) Kind() string { return "renegotiation-needed" }

type ResumeExhaustedEvent struct {
	Err error
}

func (ResumeExhaustedEvent) Kind() string { return "resume-exhausted" }

// EventDispatcher serializes event delivery through one buffered channel and
// one goroutine, the ordering guarantee comes from nothing else.
type EventDispatcher struct {
	log     *logrus.Entry
	handler func(Event)
	events  chan Event
	closeCh chan Signal
	doneCh  chan Signal
}

func NewEventDispatcher(log *logrus.Entry, handler func(Event), bufferSize int) *EventDispatcher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &EventDispatcher{
		log:     log,
		handler: handler,
		events:  make(chan Event, bufferSize),
		closeCh: make(chan Signal),
		doneCh:  make(chan Signal),
	}
}

func (dispatcher *EventDispatcher) Start() {
	go func() {
		defer close(dispatcher.doneCh)
		for {
			select {
			case <-dispatcher.closeCh:
				return
			case event, ok := <-dispatcher.events:
				if !ok {
					return
				}
				dispatcher.handler(event)
			}
		}
	}()
}

func (dispatcher *EventDispatcher) Emit(event Event) {
	select {
	case dispatcher.events <- event:
	default:
		dispatcher.log.Warnf("event buffer full, dropping %s", event.Kind())
	}
}

func (dispatcher *EventDispatcher) Stop(timeout time.Duration) error {
	close(dispatcher.closeCh)
	select {
	case <-dispatcher.doneCh:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout")
	}
}
