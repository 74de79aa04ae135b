package realtime

import (
	"context"
	"strings"
	"sync"

	errs "github.com/techagentng/qwik/errors"
	"github.com/techagentng/qwik/logger"
)

// Subscriber receives events published to the groups it joined. Deliver
// must not block.
type Subscriber interface {
	Deliver(ev Event)
}

// Bus is the group fan-out used by sessions.
type Bus interface {
	Join(ctx context.Context, group string, sub Subscriber) error
	Leave(ctx context.Context, group string, sub Subscriber) error
	Publish(ctx context.Context, group string, ev Event) error
	Close() error
}

var _ Bus = (*Hub)(nil)

// Hub is the in-process Bus.
type Hub struct {
	mu     sync.RWMutex
	pubMu  sync.Mutex
	log    *logger.Logger
	groups map[string]map[Subscriber]struct{}
	closed bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:    log.With("component", "Hub"),
		groups: make(map[string]map[Subscriber]struct{}),
	}
}

func (h *Hub) Join(ctx context.Context, group string, sub Subscriber) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	group = strings.TrimSpace(group)
	if group == "" || sub == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errs.ErrBusClosed
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[Subscriber]struct{})
		h.groups[group] = members
	}
	members[sub] = struct{}{}
	h.log.Debug("subscriber joined", "group", group, "members", len(members))
	return nil
}

// Leave is a no-op for groups the subscriber is not in.
func (h *Hub) Leave(_ context.Context, group string, sub Subscriber) error {
	group = strings.TrimSpace(group)

	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return nil
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	h.log.Debug("subscriber left", "group", group, "members", len(members))
	return nil
}

// Publish hands ev to every current member of group. Publishes are
// serialized, so each subscriber sees events in publish order.
func (h *Hub) Publish(_ context.Context, group string, ev Event) error {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return errs.ErrBusClosed
	}
	for sub := range h.groups[group] {
		sub.Deliver(ev)
	}
	return nil
}

// Members reports how many subscribers are in group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.groups = make(map[string]map[Subscriber]struct{})
	return nil
}
