package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	errs "github.com/techagentng/qwik/errors"
	"github.com/techagentng/qwik/logger"
	"github.com/techagentng/qwik/models"
)

type SessionState int

const (
	StateConnecting SessionState = iota
	StateJoinedPersonal
	StateJoinedRoom
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoinedPersonal:
		return "joined_personal"
	case StateJoinedRoom:
		return "joined_room"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageStore is the part of the chat repository a session writes through.
type MessageStore interface {
	PersistMessage(ctx context.Context, senderID, peerID uint, text string) (*models.Message, error)
}

var validate = validator.New()

// Session is one live client connection. It owns the connection's group
// memberships and its outbound buffer; the transport drains Outbound and
// feeds HandleInbound.
type Session struct {
	ID     string
	UserID uint
	PeerID uint

	personal string
	room     string

	bus   Bus
	store MessageStore
	log   *logger.Logger

	outbound chan []byte
	done     chan struct{}

	mu        sync.RWMutex
	state     SessionState
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSession(bus Bus, store MessageStore, log *logger.Logger, outboundBuffer int) *Session {
	if outboundBuffer <= 0 {
		outboundBuffer = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		ID:       id,
		bus:      bus,
		store:    store,
		log:      log.With("component", "Session", "session_id", id),
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
		state:    StateConnecting,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Open authenticates the session and joins its groups. A peer of 0, or the
// user's own id, gives an inbox-only session.
func (s *Session) Open(ctx context.Context, userID, peerID uint) error {
	if userID == 0 {
		SessionsRejected.Inc()
		s.Close()
		return errs.ErrUnauthenticated
	}
	if peerID == userID {
		peerID = 0
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return errs.ErrSessionClosed
	}
	s.UserID = userID
	s.PeerID = peerID
	s.log = s.log.With("user_id", userID, "peer_id", peerID)
	s.mu.Unlock()

	personal := PersonalGroup(userID)
	if err := s.bus.Join(ctx, personal, s); err != nil {
		s.Close()
		return errors.Wrap(err, "join personal group")
	}
	if !s.markJoined(personal, "", StateJoinedPersonal) {
		_ = s.bus.Leave(context.Background(), personal, s)
		return errs.ErrSessionClosed
	}
	ActiveSessions.Inc()

	if peerID != 0 {
		room := RoomGroup(userID, peerID)
		if err := s.bus.Join(ctx, room, s); err != nil {
			s.Close()
			return errors.Wrap(err, "join room")
		}
		if !s.markJoined(personal, room, StateJoinedRoom) {
			_ = s.bus.Leave(context.Background(), room, s)
			return errs.ErrSessionClosed
		}
	}

	s.log.Info("session opened", "room", s.roomGroup())
	return nil
}

// HandleInbound processes one client frame. Every returned error leaves the
// session open.
func (s *Session) HandleInbound(raw []byte) error {
	if s.State() == StateClosed {
		return errs.ErrSessionClosed
	}

	var in InboundEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		InboundEvents.WithLabelValues("unknown", "malformed").Inc()
		return errors.Wrap(errs.ErrMalformedEvent, err.Error())
	}
	if err := validate.Struct(in); err != nil {
		InboundEvents.WithLabelValues("unknown", "malformed").Inc()
		return errors.Wrap(errs.ErrMalformedEvent, err.Error())
	}

	switch in.Action {
	case ActionMessage:
		return s.handleMessage(in.Text())
	case ActionTyping:
		return s.handleTyping(in.IsTyping())
	default:
		InboundEvents.WithLabelValues("other", "ignored").Inc()
		s.log.Debug("ignoring unknown action", "action", in.Action)
		return nil
	}
}

func (s *Session) handleMessage(text string) error {
	room := s.roomGroup()
	if room == "" {
		InboundEvents.WithLabelValues(ActionMessage, "not_joined").Inc()
		return errs.ErrNotJoined
	}

	msg, err := s.store.PersistMessage(s.ctx, s.UserID, s.PeerID, text)
	if err != nil {
		InboundEvents.WithLabelValues(ActionMessage, "persist_failed").Inc()
		s.log.Error("persist message failed", "error", err)
		return errors.Wrap(errs.ErrPersistence, err.Error())
	}
	MessagesPersisted.Inc()
	InboundEvents.WithLabelValues(ActionMessage, "ok").Inc()

	s.publish(room, ChatMessage(msg.Text, s.UserID))
	s.publish(PersonalGroup(s.PeerID), InboxUpdate(msg.Text, s.UserID))
	return nil
}

func (s *Session) handleTyping(isTyping bool) error {
	room := s.roomGroup()
	if room == "" {
		InboundEvents.WithLabelValues(ActionTyping, "not_joined").Inc()
		return errs.ErrNotJoined
	}
	InboundEvents.WithLabelValues(ActionTyping, "ok").Inc()
	s.publish(room, TypingIndicator(isTyping, s.UserID))
	return nil
}

func (s *Session) publish(group string, ev Event) {
	if err := s.bus.Publish(s.ctx, group, ev); err != nil {
		PublishFailures.WithLabelValues(ev.Type).Inc()
		s.log.Warn("publish failed", "group", group, "type", ev.Type, "error", err)
	}
}

// Deliver queues ev for the client without blocking. Events are dropped
// when the buffer is full or the session is closed.
func (s *Session) Deliver(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("encode event", "type", ev.Type, "error", err)
		return
	}

	select {
	case s.outbound <- data:
	case <-s.done:
	default:
		EventsDropped.Inc()
		s.log.Warn("outbound buffer full, dropping event", "type", ev.Type)
	}
}

// Close leaves every joined group and releases the session. Safe to call
// more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasJoined := s.state == StateJoinedPersonal || s.state == StateJoinedRoom
		personal, room := s.personal, s.room
		s.state = StateClosed
		s.mu.Unlock()

		s.cancel()

		leaveCtx := context.Background()
		if room != "" {
			if err := s.bus.Leave(leaveCtx, room, s); err != nil {
				s.log.Warn("leave room failed", "group", room, "error", err)
			}
		}
		if personal != "" {
			if err := s.bus.Leave(leaveCtx, personal, s); err != nil {
				s.log.Warn("leave personal group failed", "group", personal, "error", err)
			}
		}
		if wasJoined {
			ActiveSessions.Dec()
		}
		close(s.done)
		s.log.Debug("session closed")
	})
}

func (s *Session) Outbound() <-chan []byte { return s.outbound }

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// markJoined records a completed join unless Close got there first.
func (s *Session) markJoined(personal, room string, state SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.personal = personal
	s.room = room
	s.state = state
	return true
}

func (s *Session) roomGroup() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}
