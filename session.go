package confclient

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

type SessionState int

const (
	SessionPending SessionState = iota
	SessionActive
	SessionEnded
)

func (state SessionState) String() string {
	switch state {
	case SessionPending:
		return sessionStatePending
	case SessionActive:
		return sessionStateActive
	case SessionEnded:
		return sessionStateEnded
	}
	return "unknown"
}

const (
	sessionStatePending = "pending"
	sessionStateActive  = "active"
	sessionStateEnded   = "ended"

	sessionEventAccept    = "accept"
	sessionEventTerminate = "terminate"
)

// ResumeConfig bounds the stream resumption retry window.
type ResumeConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxAttempts         int
}

func (config ResumeConfig) withDefaults() ResumeConfig {
	if config.InitialInterval == 0 {
		config.InitialInterval = 500 * time.Millisecond
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = 10 * time.Second
	}
	if config.Multiplier == 0 {
		config.Multiplier = 2
	}
	if config.RandomizationFactor == 0 {
		config.RandomizationFactor = 0.5
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 4
	}
	return config
}

// Session tracks the signaling session lifecycle (pending → active → ended,
// terminal) and the room membership driving it. Membership and role events
// never change the primary state, they only raise side effects.
type Session struct {
	log        *logrus.Entry
	dispatcher *EventDispatcher
	metrics    *clientMetrics

	machine *fsm.FSM

	mu          sync.Mutex
	localJid    string
	focusJid    string
	localRole   Role
	membersOnly bool
	inLobby     bool
	members     map[ /*OccupantJid*/ string]Member

	resumeConfig     ResumeConfig
	resumeBackoff    *backoff.ExponentialBackOff
	resumeTimer      *time.Timer
	resumeAttempts   int
	resumeGeneration uint64
}

func NewSession(log *logrus.Entry, dispatcher *EventDispatcher, localJid string, resumeConfig ResumeConfig) *Session {
	session := &Session{
		log:          log,
		dispatcher:   dispatcher,
		localJid:     localJid,
		localRole:    RoleNone,
		members:      make(map[string]Member),
		resumeConfig: resumeConfig.withDefaults(),
	}
	session.machine = fsm.NewFSM(
		sessionStatePending,
		fsm.Events{
			{Name: sessionEventAccept, Src: []string{sessionStatePending}, Dst: sessionStateActive},
			{Name: sessionEventTerminate, Src: []string{sessionStatePending, sessionStateActive}, Dst: sessionStateEnded},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, event *fsm.Event) {
				session.afterTransition(event)
			},
		},
	)
	return session
}

func (session *Session) afterTransition(event *fsm.Event) {
	previous := stateFromString(event.Src)
	current := stateFromString(event.Dst)
	reason := ""
	if len(event.Args) > 0 {
		if text, ok := event.Args[0].(string); ok {
			reason = text
		}
	}
	session.log.Infof("session %s -> %s (%s)", event.Src, event.Dst, reason)
	session.metrics.ObserveStateTransition(previous, current)
	session.dispatcher.Emit(StateChangedEvent{Previous: previous, Current: current, Reason: reason})
}

func stateFromString(state string) SessionState {
	switch state {
	case sessionStateActive:
		return SessionActive
	case sessionStateEnded:
		return SessionEnded
	}
	return SessionPending
}

func (session *Session) State() SessionState {
	return stateFromString(session.machine.Current())
}

// Accept marks the session confirmed by the conference focus.
func (session *Session) Accept() error {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.State() == SessionEnded {
		return SessionEndedError
	}
	return session.machine.Event(context.Background(), sessionEventAccept)
}

// Terminate ends the session. Idempotent, the ended state is terminal.
func (session *Session) Terminate(reason string) {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.terminateLocked(reason)
}

func (session *Session) terminateLocked(reason string) {
	if session.State() == SessionEnded {
		return
	}
	session.cancelResumeLocked()
	if err := session.machine.Event(context.Background(), sessionEventTerminate, reason); err != nil {
		session.log.WithError(err).Warn("terminate transition rejected")
	}
}

// HandlePresence folds one room presence into the membership cache and raises
// the matching events. Presence never moves the session out of its primary
// state except when the focus or the local occupant leaves.
func (session *Session) HandlePresence(presence Presence) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.State() == SessionEnded {
		return
	}

	if !presence.Available {
		session.handleUnavailableLocked(presence)
		return
	}

	member := memberFromPresence(presence)
	if member.IsFocus {
		session.focusJid = member.Jid
	}

	if session.isSelf(presence) {
		if member.Role != session.localRole {
			session.localRole = member.Role
			session.dispatcher.Emit(RoleChangedEvent{Jid: member.Jid, Role: member.Role})
			if member.Role == RoleModerator && session.inLobby {
				// Moderators bypass the lobby.
				session.inLobby = false
				session.dispatcher.Emit(LobbyLeftEvent{})
			}
		}
		session.members[member.Jid] = member
		return
	}

	existing, known := session.members[member.Jid]
	session.members[member.Jid] = member
	if !known {
		session.dispatcher.Emit(MemberJoinedEvent{Member: member})
		session.dispatcher.Emit(RenegotiationNeededEvent{Reason: "member joined"})
		return
	}
	if existing.Role != member.Role {
		session.dispatcher.Emit(RoleChangedEvent{Jid: member.Jid, Role: member.Role})
	}
	session.dispatcher.Emit(MemberUpdatedEvent{Member: member})
}

func (session *Session) handleUnavailableLocked(presence Presence) {
	if session.isSelf(presence) {
		reason := "local leave"
		if presence.hasStatusCode(StatusCodeKicked) {
			reason = "kicked"
		} else if presence.hasStatusCode(StatusCodeMembersOnlyRemove) {
			reason = "room became members-only"
		}
		session.terminateLocked(reason)
		return
	}
	if presence.From == session.focusJid && session.focusJid != "" {
		session.terminateLocked("focus left")
		return
	}
	if _, known := session.members[presence.From]; !known {
		return
	}
	delete(session.members, presence.From)
	session.dispatcher.Emit(MemberLeftEvent{Jid: presence.From})
	session.dispatcher.Emit(RenegotiationNeededEvent{Reason: "member left"})
}

func (session *Session) isSelf(presence Presence) bool {
	return presence.From == session.localJid || presence.hasStatusCode(StatusCodeSelfPresence)
}

// SetMembersOnly toggles the room members-only flag. A self-transition: the
// primary state stays put, only the lobby sub-session follows the flag.
func (session *Session) SetMembersOnly(enabled bool) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.State() == SessionEnded || session.membersOnly == enabled {
		return
	}
	session.membersOnly = enabled
	session.dispatcher.Emit(MembersOnlyChangedEvent{Enabled: enabled})
	if enabled && session.localRole != RoleModerator && !session.inLobby {
		session.inLobby = true
		session.dispatcher.Emit(LobbyJoinedEvent{})
	} else if !enabled && session.inLobby {
		session.inLobby = false
		session.dispatcher.Emit(LobbyLeftEvent{})
	}
}

func (session *Session) LocalRole() Role {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.localRole
}

func (session *Session) InLobby() bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.inLobby
}

func (session *Session) Members() []Member {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.membersLocked()
}

func (session *Session) membersLocked() []Member {
	members := make([]Member, 0, len(session.members))
	for _, member := range session.members {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Jid < members[j].Jid })
	return members
}

// HandleSuspended starts the bounded resume retry loop after the signaling
// transport dropped. A later call supersedes an in-flight loop, its pending
// timer is stopped before the new one is armed.
func (session *Session) HandleSuspended(resume func() error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.State() != SessionActive {
		return
	}

	session.cancelResumeLocked()
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = session.resumeConfig.InitialInterval
	expBackoff.MaxInterval = session.resumeConfig.MaxInterval
	expBackoff.Multiplier = session.resumeConfig.Multiplier
	expBackoff.RandomizationFactor = session.resumeConfig.RandomizationFactor
	expBackoff.MaxElapsedTime = 0
	expBackoff.Reset()

	session.resumeBackoff = expBackoff
	session.resumeAttempts = 0
	session.resumeGeneration++
	session.scheduleResumeLocked(resume, session.resumeGeneration)
}

func (session *Session) scheduleResumeLocked(resume func() error, generation uint64) {
	if session.resumeAttempts >= session.resumeConfig.MaxAttempts {
		session.log.Errorf("%v, attempts=%d", ResumeExhaustedError, session.resumeAttempts)
		session.dispatcher.Emit(ResumeExhaustedEvent{Err: ResumeExhaustedError})
		session.terminateLocked("resume exhausted")
		return
	}
	delay := session.resumeBackoff.NextBackOff()
	if delay == backoff.Stop {
		delay = session.resumeConfig.MaxInterval
	}
	session.resumeTimer = time.AfterFunc(delay, func() {
		session.attemptResume(resume, generation)
	})
}

func (session *Session) attemptResume(resume func() error, generation uint64) {
	session.mu.Lock()
	if generation != session.resumeGeneration || session.State() != SessionActive {
		session.mu.Unlock()
		return
	}
	session.resumeAttempts++
	attempt := session.resumeAttempts
	session.mu.Unlock()

	session.metrics.IncResumeAttempts()
	err := resume()

	session.mu.Lock()
	defer session.mu.Unlock()
	if generation != session.resumeGeneration || session.State() != SessionActive {
		return
	}
	if err != nil {
		session.log.WithError(err).Warnf("resume attempt %d failed", attempt)
		session.scheduleResumeLocked(resume, generation)
		return
	}
	session.resumeResolvedLocked()
}

// HandleResumed is called when the transport reports a successful stream
// resumption on its own. The session stays active, only cached presence is
// replayed, full join negotiation never re-runs.
func (session *Session) HandleResumed() {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.State() != SessionActive {
		return
	}
	session.resumeResolvedLocked()
}

func (session *Session) resumeResolvedLocked() {
	session.cancelResumeLocked()
	session.log.Info("stream resumed, replaying cached presence")
	for _, member := range session.membersLocked() {
		session.dispatcher.Emit(MemberUpdatedEvent{Member: member})
	}
}

// CancelResume deterministically stops a pending resume attempt.
func (session *Session) CancelResume() {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.cancelResumeLocked()
}

func (session *Session) cancelResumeLocked() {
	session.resumeGeneration++
	if session.resumeTimer != nil {
		session.resumeTimer.Stop()
		session.resumeTimer = nil
	}
}
