package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/matheus3301/rentchat/internal/bus"
	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/logging"
	"github.com/matheus3301/rentchat/internal/presence"
	"github.com/matheus3301/rentchat/internal/relay"
	"go.uber.org/zap"
)

var (
	ErrForbidden = errors.New("room access denied")
	ErrNotJoined = errors.New("connection has not joined room")
)

// MessageStore persists messages. Implemented by store.DB.
type MessageStore interface {
	EnsureRoom(roomID, customerName string) error
	AppendMessage(m *chat.Message) error
	LastSeq(roomID string) (int64, error)
	ListMessagesAfter(roomID string, afterSeq int64, limit int) ([]chat.Message, error)
}

// Router tracks room membership and fans events out to joined connections.
//
// Each room has its own lock that is held across persistence and fanout, so
// every subscriber of a room observes that room's events in the same order
// and a message is in the store before any subscriber sees it. Messages are
// delivered strictly by sequence number; with a relay, sibling nodes write
// the same store and each node fills gaps from it. Lock order is room.mu
// before Router.mu; Router.mu is never held while taking room.mu.
type Router struct {
	store    MessageStore
	bus      *bus.Bus
	relay    relay.Relay
	presence presence.Tracker
	logger   *zap.Logger

	mu     sync.RWMutex
	rooms  map[string]*room
	conns  map[string]*membership
	admins map[string]Subscriber
}

type room struct {
	id   string
	mu   sync.Mutex
	subs map[string]Subscriber

	// seq is the last message sequence delivered here, valid once synced.
	seq    int64
	synced bool
}

type membership struct {
	sub   Subscriber
	rooms map[string]struct{}
}

// Options carries the optional collaborators of a Router.
type Options struct {
	Bus      *bus.Bus
	Relay    relay.Relay
	Presence presence.Tracker
	Logger   *zap.Logger
}

// New creates a router persisting through store.
func New(store MessageStore, opts Options) *Router {
	if opts.Relay == nil {
		opts.Relay = relay.Nop{}
	}
	if opts.Presence == nil {
		opts.Presence = presence.Nop{}
	}
	return &Router{
		store:    store,
		bus:      opts.Bus,
		relay:    opts.Relay,
		presence: opts.Presence,
		logger:   logging.OrNop(opts.Logger),
		rooms:    make(map[string]*room),
		conns:    make(map[string]*membership),
		admins:   make(map[string]Subscriber),
	}
}

// Register makes a freshly authenticated connection known to the router.
// Admin connections start receiving notifications for every room.
func (r *Router) Register(ctx context.Context, sub Subscriber) {
	id := sub.Identity()
	r.mu.Lock()
	r.conns[sub.ID()] = &membership{sub: sub, rooms: make(map[string]struct{})}
	if id.Role == chat.RoleAdmin {
		r.admins[sub.ID()] = sub
	}
	r.mu.Unlock()

	if err := r.presence.Online(ctx, sub.ID(), id.Role); err != nil {
		r.logger.Warn("presence online failed", zap.Error(err), zap.String("conn", sub.ID()))
	}
	r.bus.Publish(bus.Event{Kind: bus.KindConnOpened, Payload: sub.ID()})
}

// Join subscribes sub to roomID. Customers may only join their own room.
// Joining twice is a no-op.
func (r *Router) Join(ctx context.Context, sub Subscriber, roomID string) error {
	id := sub.Identity()
	if !id.CanAccess(roomID) {
		return fmt.Errorf("%w: %s", ErrForbidden, roomID)
	}
	if id.Role == chat.RoleCustomer {
		if err := r.store.EnsureRoom(roomID, id.Name); err != nil {
			return fmt.Errorf("ensure room: %w", err)
		}
	}

	rm := r.room(roomID)
	rm.mu.Lock()
	if !rm.synced {
		if seq, err := r.store.LastSeq(roomID); err != nil {
			r.logger.Warn("read room cursor failed", zap.Error(err), zap.String("room", roomID))
		} else {
			rm.seq, rm.synced = seq, true
		}
	}
	_, already := rm.subs[sub.ID()]
	rm.subs[sub.ID()] = sub
	r.mu.Lock()
	if m, ok := r.conns[sub.ID()]; ok {
		m.rooms[roomID] = struct{}{}
	}
	r.mu.Unlock()
	rm.mu.Unlock()

	if already {
		return nil
	}
	if err := r.presence.Joined(ctx, roomID, sub.ID()); err != nil {
		r.logger.Warn("presence join failed", zap.Error(err), zap.String("room", roomID))
	}
	r.bus.Publish(bus.Event{Kind: bus.KindRoomJoined, Room: roomID, Payload: sub.ID()})
	r.logger.Debug("room joined", zap.String("room", roomID), zap.String("conn", sub.ID()), zap.String("role", string(id.Role)))
	return nil
}

// Leave unsubscribes sub from roomID.
func (r *Router) Leave(ctx context.Context, sub Subscriber, roomID string) {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	_, joined := rm.subs[sub.ID()]
	delete(rm.subs, sub.ID())
	r.mu.Lock()
	if m, ok := r.conns[sub.ID()]; ok {
		delete(m.rooms, roomID)
	}
	r.mu.Unlock()
	rm.mu.Unlock()

	if !joined {
		return
	}
	if err := r.presence.Left(ctx, roomID, sub.ID()); err != nil {
		r.logger.Warn("presence leave failed", zap.Error(err), zap.String("room", roomID))
	}
	r.bus.Publish(bus.Event{Kind: bus.KindRoomLeft, Room: roomID, Payload: sub.ID()})
}

// Drop forgets a closed connection: it leaves every room and stops
// receiving notifications.
func (r *Router) Drop(ctx context.Context, sub Subscriber) {
	r.mu.Lock()
	m, ok := r.conns[sub.ID()]
	delete(r.conns, sub.ID())
	delete(r.admins, sub.ID())
	r.mu.Unlock()
	if !ok {
		return
	}

	for roomID := range m.rooms {
		r.mu.RLock()
		rm := r.rooms[roomID]
		r.mu.RUnlock()
		if rm != nil {
			rm.mu.Lock()
			delete(rm.subs, sub.ID())
			rm.mu.Unlock()
		}
		if err := r.presence.Left(ctx, roomID, sub.ID()); err != nil {
			r.logger.Warn("presence leave failed", zap.Error(err), zap.String("room", roomID))
		}
	}
	if err := r.presence.Offline(ctx, sub.ID(), sub.Identity().Role); err != nil {
		r.logger.Warn("presence offline failed", zap.Error(err), zap.String("conn", sub.ID()))
	}
	r.bus.Publish(bus.Event{Kind: bus.KindConnClosed, Payload: sub.ID()})
}

// SendMessage persists a message from sub and broadcasts it to every
// connection joined to the room, the sender included. Admins that are not
// joined get a notification instead.
func (r *Router) SendMessage(ctx context.Context, sub Subscriber, roomID, text, imageURL string) (*chat.Message, error) {
	id := sub.Identity()
	if !id.CanAccess(roomID) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, roomID)
	}
	msg := &chat.Message{
		Room:       roomID,
		SenderID:   id.ID,
		SenderRole: id.Role,
		SenderName: id.Name,
		Body:       strings.TrimSpace(text),
		Attachment: strings.TrimSpace(imageURL),
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	rm := r.room(roomID)
	rm.mu.Lock()
	if err := r.store.AppendMessage(msg); err != nil {
		rm.mu.Unlock()
		return nil, fmt.Errorf("persist message: %w", err)
	}
	slow := r.deliverLocked(rm, msg)
	if err := r.relay.Publish(ctx, relay.Envelope{Kind: relay.KindMessage, Room: roomID, Message: msg}); err != nil {
		r.logger.Warn("relay publish failed", zap.Error(err), zap.String("room", roomID))
	}
	rm.mu.Unlock()

	r.kick(ctx, slow)
	r.bus.Publish(bus.Event{Kind: bus.KindMessage, Room: roomID, Payload: *msg})
	r.logger.Debug("message routed", zap.String("room", roomID), zap.String("msg_id", msg.ID), zap.String("role", string(id.Role)))
	return msg, nil
}

// Broadcast delivers evt to every connection joined to roomID, in the room's
// serialised order.
func (r *Router) Broadcast(ctx context.Context, roomID string, evt Event) {
	rm := r.room(roomID)
	rm.mu.Lock()
	slow := deliverAll(rm.subs, evt, "")
	rm.mu.Unlock()
	r.kick(ctx, slow)
}

// Typing relays a typing-start or typing-stop from sub to the other
// connections in the room.
func (r *Router) Typing(ctx context.Context, sub Subscriber, roomID string, started bool) error {
	id := sub.Identity()
	if !id.CanAccess(roomID) {
		return fmt.Errorf("%w: %s", ErrForbidden, roomID)
	}
	evt := Event{Type: EventTypingStop, Room: roomID, SenderRole: id.Role}
	kind, busKind := relay.KindTypingStop, bus.KindTypingStopped
	if started {
		evt.Type, kind, busKind = EventTypingStart, relay.KindTypingStart, bus.KindTypingStarted
	}

	rm := r.room(roomID)
	rm.mu.Lock()
	slow := deliverAll(rm.subs, evt, sub.ID())
	if err := r.relay.Publish(ctx, relay.Envelope{Kind: kind, Room: roomID, ConnID: sub.ID(), SenderRole: id.Role}); err != nil {
		r.logger.Warn("relay publish failed", zap.Error(err), zap.String("room", roomID))
	}
	rm.mu.Unlock()

	r.kick(ctx, slow)
	r.bus.Publish(bus.Event{Kind: busKind, Room: roomID, Payload: id.Role})
	return nil
}

// Remote delivers an event relayed from a sibling node to local subscribers.
// The origin node already persisted the message in the shared store; a
// message this node caught up on earlier is not delivered twice.
func (r *Router) Remote(ctx context.Context, env relay.Envelope) {
	switch env.Kind {
	case relay.KindMessage:
		if env.Message == nil {
			return
		}
		rm := r.room(env.Room)
		rm.mu.Lock()
		slow := r.deliverLocked(rm, env.Message)
		rm.mu.Unlock()
		r.kick(ctx, slow)
	case relay.KindTypingStart:
		r.Broadcast(ctx, env.Room, Event{Type: EventTypingStart, Room: env.Room, SenderRole: env.SenderRole})
	case relay.KindTypingStop:
		r.Broadcast(ctx, env.Room, Event{Type: EventTypingStop, Room: env.Room, SenderRole: env.SenderRole})
	}
}

// deliverLocked hands msg to the room in sequence order. Messages with a
// lower sequence that were persisted elsewhere and not seen here yet are read
// back from the store and delivered first. Must be called with rm.mu held.
func (r *Router) deliverLocked(rm *room, msg *chat.Message) []Subscriber {
	switch {
	case rm.synced && msg.Seq <= rm.seq:
		return nil
	case !rm.synced || msg.Seq == rm.seq+1:
		rm.seq, rm.synced = msg.Seq, true
		return r.fanoutMessageLocked(rm, msg)
	}

	missed, err := r.store.ListMessagesAfter(rm.id, rm.seq, int(msg.Seq-rm.seq))
	if err != nil {
		r.logger.Warn("catch-up read failed", zap.Error(err), zap.String("room", rm.id), zap.Int64("after", rm.seq))
		missed = nil
	}
	var slow []Subscriber
	for i := range missed {
		m := &missed[i]
		if m.Seq > msg.Seq {
			break
		}
		if m.ID == msg.ID {
			m = msg
		}
		slow = append(slow, r.fanoutMessageLocked(rm, m)...)
		rm.seq = m.Seq
	}
	if rm.seq < msg.Seq {
		slow = append(slow, r.fanoutMessageLocked(rm, msg)...)
		rm.seq = msg.Seq
	}
	if len(missed) > 0 {
		r.logger.Debug("room caught up", zap.String("room", rm.id), zap.Int("messages", len(missed)))
	}
	return slow
}

// fanoutMessageLocked must be called with rm.mu held.
func (r *Router) fanoutMessageLocked(rm *room, msg *chat.Message) []Subscriber {
	slow := deliverAll(rm.subs, Event{Type: EventMessage, Room: rm.id, SenderRole: msg.SenderRole, Message: msg}, "")

	r.mu.RLock()
	admins := make([]Subscriber, 0, len(r.admins))
	for id, a := range r.admins {
		if _, joined := rm.subs[id]; !joined {
			admins = append(admins, a)
		}
	}
	r.mu.RUnlock()

	note := Event{Type: EventNotification, Room: rm.id, SenderRole: msg.SenderRole, Message: msg}
	for _, a := range admins {
		if !a.Deliver(note) {
			slow = append(slow, a)
		}
	}
	return slow
}

func deliverAll(subs map[string]Subscriber, evt Event, exceptID string) []Subscriber {
	var slow []Subscriber
	for id, s := range subs {
		if id == exceptID {
			continue
		}
		if !s.Deliver(evt) {
			slow = append(slow, s)
		}
	}
	return slow
}

func (r *Router) kick(ctx context.Context, slow []Subscriber) {
	seen := make(map[string]struct{}, len(slow))
	for _, s := range slow {
		if _, dup := seen[s.ID()]; dup {
			continue
		}
		seen[s.ID()] = struct{}{}
		r.logger.Warn("dropping slow subscriber", zap.String("conn", s.ID()))
		r.Drop(ctx, s)
		s.Kick("send queue full")
	}
}

// Shutdown drops and closes every registered connection.
func (r *Router) Shutdown(ctx context.Context) {
	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.conns))
	for _, m := range r.conns {
		subs = append(subs, m.sub)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		r.Drop(ctx, s)
		s.Kick("server shutting down")
	}
}

func (r *Router) room(roomID string) *room {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[roomID]; ok {
		return rm
	}
	rm = &room{id: roomID, subs: make(map[string]Subscriber)}
	r.rooms[roomID] = rm
	return rm
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections int
	Admins      int
	ActiveRooms int
}

// Stats returns connection and room counts.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	s := Stats{Connections: len(r.conns), Admins: len(r.admins)}
	r.mu.RUnlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		if len(rm.subs) > 0 {
			s.ActiveRooms++
		}
		rm.mu.Unlock()
	}
	return s
}

// Members returns the ids of the connections joined to roomID.
func (r *Router) Members(roomID string) []string {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	ids := make([]string, 0, len(rm.subs))
	for id := range rm.subs {
		ids = append(ids, id)
	}
	return ids
}
