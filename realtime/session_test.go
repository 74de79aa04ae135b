package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "github.com/techagentng/qwik/errors"
	"github.com/techagentng/qwik/logger"
	"github.com/techagentng/qwik/models"
)

type persistCall struct {
	sender, peer uint
	text         string
}

type fakeStore struct {
	mu    sync.Mutex
	calls []persistCall
	err   error
}

func (f *fakeStore) PersistMessage(ctx context.Context, senderID, peerID uint, text string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, persistCall{senderID, peerID, text})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Message{ID: uint(len(f.calls)), SenderID: senderID, Text: text}, nil
}

func (f *fakeStore) persisted() []persistCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]persistCall(nil), f.calls...)
}

func openSession(t *testing.T, hub *Hub, store MessageStore, userID, peerID uint) *Session {
	t.Helper()
	s := NewSession(hub, store, logger.NewNop(), 16)
	require.NoError(t, s.Open(context.Background(), userID, peerID))
	t.Cleanup(s.Close)
	return s
}

func drain(t *testing.T, s *Session) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case raw := <-s.Outbound():
			var ev Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSessionMessageFansOutToRoomAndInbox(t *testing.T) {
	hub := NewHub(logger.NewNop())
	store := &fakeStore{}
	alice := openSession(t, hub, store, 5, 9)
	bob := openSession(t, hub, store, 9, 5)
	bobInbox := openSession(t, hub, store, 9, 0)

	assert.Equal(t, StateJoinedRoom, alice.State())
	assert.Equal(t, StateJoinedPersonal, bobInbox.State())

	require.NoError(t, alice.HandleInbound([]byte(`{"action":"message","message":"hi"}`)))

	assert.Equal(t, []persistCall{{5, 9, "hi"}}, store.persisted())
	assert.Equal(t, []Event{ChatMessage("hi", 5)}, drain(t, alice))
	assert.Equal(t, []Event{ChatMessage("hi", 5), InboxUpdate("hi", 5)}, drain(t, bob))
	assert.Equal(t, []Event{InboxUpdate("hi", 5)}, drain(t, bobInbox))
}

func TestSessionTyping(t *testing.T) {
	hub := NewHub(logger.NewNop())
	store := &fakeStore{}
	alice := openSession(t, hub, store, 5, 9)
	bob := openSession(t, hub, store, 9, 5)

	require.NoError(t, bob.HandleInbound([]byte(`{"action":"typing","typing":true}`)))

	assert.Equal(t, []Event{TypingIndicator(true, 9)}, drain(t, alice))
	assert.Equal(t, []Event{TypingIndicator(true, 9)}, drain(t, bob))
	assert.Empty(t, store.persisted())
}

func TestSessionWithoutRoomIgnoresRoomActions(t *testing.T) {
	hub := NewHub(logger.NewNop())
	store := &fakeStore{}
	inbox := openSession(t, hub, store, 5, 0)
	self := openSession(t, hub, store, 5, 5)

	for _, s := range []*Session{inbox, self} {
		assert.Equal(t, StateJoinedPersonal, s.State())
		assert.ErrorIs(t, s.HandleInbound([]byte(`{"action":"message","message":"hi"}`)), errs.ErrNotJoined)
		assert.ErrorIs(t, s.HandleInbound([]byte(`{"action":"typing","typing":true}`)), errs.ErrNotJoined)
	}
	assert.Empty(t, store.persisted())
	assert.Empty(t, drain(t, inbox))
	assert.Empty(t, drain(t, self))
}

func TestSessionPersistFailureSkipsPublish(t *testing.T) {
	hub := NewHub(logger.NewNop())
	store := &fakeStore{err: errors.New("database is down")}
	alice := openSession(t, hub, store, 5, 9)
	bob := openSession(t, hub, store, 9, 0)

	err := alice.HandleInbound([]byte(`{"action":"message","message":"hi"}`))
	assert.ErrorIs(t, err, errs.ErrPersistence)
	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, bob))
	assert.Equal(t, StateJoinedRoom, alice.State())
}

func TestSessionIgnoresUnknownAndMalformedInput(t *testing.T) {
	hub := NewHub(logger.NewNop())
	store := &fakeStore{}
	alice := openSession(t, hub, store, 5, 9)

	assert.NoError(t, alice.HandleInbound([]byte(`{"action":"dance"}`)))
	assert.ErrorIs(t, alice.HandleInbound([]byte(`{not json`)), errs.ErrMalformedEvent)
	assert.ErrorIs(t, alice.HandleInbound([]byte(`{"message":"no action"}`)), errs.ErrMalformedEvent)

	assert.Equal(t, StateJoinedRoom, alice.State())
	assert.Empty(t, store.persisted())
	assert.Empty(t, drain(t, alice))

	require.NoError(t, alice.HandleInbound([]byte(`{"action":"message","message":"still here"}`)))
	assert.Len(t, store.persisted(), 1)
}

func TestSessionMessageCapCountsRunes(t *testing.T) {
	hub := NewHub(logger.NewNop())
	store := &fakeStore{}
	alice := openSession(t, hub, store, 5, 9)

	atCap := `{"action":"message","message":"` + strings.Repeat(`\ud83d\ude00`, MaxMessageRunes) + `"}`
	require.LessOrEqual(t, len(atCap), MaxFrameBytes)
	require.NoError(t, alice.HandleInbound([]byte(atCap)))

	cjk := strings.Repeat("你", MaxMessageRunes)
	require.NoError(t, alice.HandleInbound([]byte(`{"action":"message","message":"`+cjk+`"}`)))

	assert.ErrorIs(t, alice.HandleInbound([]byte(`{"action":"message","message":"`+cjk+`x"}`)), errs.ErrMalformedEvent)
	assert.Len(t, store.persisted(), 2)
}

func TestSessionOpenRejectsMissingIdentity(t *testing.T) {
	hub := NewHub(logger.NewNop())
	s := NewSession(hub, &fakeStore{}, logger.NewNop(), 4)

	err := s.Open(context.Background(), 0, 5)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, hub.Members(PersonalGroup(0)))
	assert.Equal(t, 0, hub.Members(RoomGroup(0, 5)))

	select {
	case <-s.Done():
	default:
		t.Fatal("rejected session should be closed")
	}
}

func TestSessionOpenJoinFailureReleasesGroups(t *testing.T) {
	hub := NewHub(logger.NewNop())
	s := NewSession(hub, &fakeStore{}, logger.NewNop(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Open(ctx, 5, 9))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, hub.Members(PersonalGroup(5)))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(logger.NewNop())
	s := openSession(t, hub, &fakeStore{}, 5, 9)
	require.Equal(t, 1, hub.Members(PersonalGroup(5)))
	require.Equal(t, 1, hub.Members(RoomGroup(5, 9)))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, hub.Members(PersonalGroup(5)))
	assert.Equal(t, 0, hub.Members(RoomGroup(5, 9)))
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
	assert.ErrorIs(t, s.HandleInbound([]byte(`{"action":"typing"}`)), errs.ErrSessionClosed)
	assert.ErrorIs(t, s.Open(context.Background(), 5, 9), errs.ErrSessionClosed)
}

func TestSessionDeliverDoesNotBlock(t *testing.T) {
	hub := NewHub(logger.NewNop())
	s := NewSession(hub, &fakeStore{}, logger.NewNop(), 1)
	require.NoError(t, s.Open(context.Background(), 5, 0))

	done := make(chan struct{})
	go func() {
		s.Deliver(InboxUpdate("one", 9))
		s.Deliver(InboxUpdate("two", 9))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a full buffer")
	}
	assert.Equal(t, []Event{InboxUpdate("one", 9)}, drain(t, s))

	s.Close()
	s.Deliver(InboxUpdate("late", 9))
	assert.Empty(t, drain(t, s))
}

func TestSessionPersistUsesSessionContext(t *testing.T) {
	hub := NewHub(logger.NewNop())
	store := &ctxStore{}
	s := openSession(t, hub, store, 5, 9)
	s.Close()

	assert.ErrorIs(t, s.HandleInbound([]byte(`{"action":"message","message":"hi"}`)), errs.ErrSessionClosed)

	s2 := openSession(t, hub, store, 5, 9)
	require.NoError(t, s2.HandleInbound([]byte(`{"action":"message","message":"hi"}`)))
	assert.Same(t, s2.Context(), store.lastCtx())
}

type ctxStore struct {
	mu  sync.Mutex
	ctx context.Context
}

func (c *ctxStore) PersistMessage(ctx context.Context, senderID, peerID uint, text string) (*models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
	return &models.Message{SenderID: senderID, Text: text}, nil
}

func (c *ctxStore) lastCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}
