package control

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/matheus3301/rentchat/internal/bus"
	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/presence"
	"github.com/matheus3301/rentchat/internal/router"
	"github.com/matheus3301/rentchat/internal/status"
	"github.com/matheus3301/rentchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service implements Server on top of the daemon's components.
type Service struct {
	instance  string
	addr      string
	startedAt time.Time
	machine   *status.Machine
	router    *router.Router
	db        *store.DB
	bus       *bus.Bus
	presence  presence.Tracker
}

// NewService creates the control service.
func NewService(instance, addr string, machine *status.Machine, r *router.Router, db *store.DB, b *bus.Bus, pres presence.Tracker) *Service {
	return &Service{
		instance:  instance,
		addr:      addr,
		startedAt: time.Now(),
		machine:   machine,
		router:    r,
		db:        db,
		bus:       b,
		presence:  pres,
	}
}

func (s *Service) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	info := map[string]any{
		"instance": s.instance,
		"addr":     s.addr,
		"state":    string(s.machine.Current()),
		"uptimeMs": time.Since(s.startedAt).Milliseconds(),
	}
	if s.router != nil {
		st := s.router.Stats()
		info["connections"] = st.Connections
		info["admins"] = st.Admins
		info["activeRooms"] = st.ActiveRooms
	}
	if s.db != nil {
		if n, err := s.db.RoomCount(); err == nil {
			info["rooms"] = n
		}
		if n, err := s.db.MessageCount(); err == nil {
			info["messages"] = n
		}
	}
	if s.bus != nil {
		info["busDropped"] = s.bus.Dropped()
	}
	out, err := structpb.NewStruct(info)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func (s *Service) ListRooms(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.db == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "store not initialized")
	}
	rooms, err := s.db.ListRooms()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list rooms: %v", err)
	}
	list := make([]any, 0, len(rooms))
	for _, r := range rooms {
		list = append(list, inboxToMap(r))
	}
	out, err := structpb.NewStruct(map[string]any{"rooms": list})
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode rooms: %v", err)
	}
	return out, nil
}

// GetRoom describes the room named by the request's "room" field: its inbox
// entry, the connections joined on this node and, when the presence backend
// can count them, the connections joined across the cluster.
func (s *Service) GetRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.db == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "store not initialized")
	}
	roomID := req.GetFields()["room"].GetStringValue()
	if !chat.ValidRoomID(roomID) {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "invalid room id %q", roomID)
	}
	entry, err := s.db.GetRoom(roomID)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "get room: %v", err)
	}
	if entry == nil {
		return nil, grpcstatus.Errorf(codes.NotFound, "room %s not found", roomID)
	}

	var members []string
	if s.router != nil {
		members = s.router.Members(roomID)
	}
	sort.Strings(members)
	list := make([]any, 0, len(members))
	for _, m := range members {
		list = append(list, m)
	}
	info := map[string]any{
		"entry":   inboxToMap(*entry),
		"members": list,
	}
	if c, ok := s.presence.(presence.Counter); ok {
		n, err := c.RoomConnections(ctx, roomID)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Unavailable, "presence: %v", err)
		}
		info["clusterConnections"] = n
	}
	out, err := structpb.NewStruct(info)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode room: %v", err)
	}
	return out, nil
}

// WatchEvents streams bus events whose kind starts with the request's
// "prefix" field (all events when empty).
func (s *Service) WatchEvents(req *structpb.Struct, stream EventStream) error {
	prefix := req.GetFields()["prefix"].GetStringValue()
	ch, unsub := s.bus.Subscribe(prefix, 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			out, err := structpb.NewStruct(eventToMap(evt))
			if err != nil {
				return grpcstatus.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func inboxToMap(e chat.InboxEntry) map[string]any {
	return map[string]any{
		"room": e.Room,
		"customer": map[string]any{
			"id":   e.Customer.ID,
			"name": e.Customer.Name,
		},
		"lastMessage":     e.LastMessage,
		"lastMessageTime": e.LastMessageTime,
		"unreadCount":     e.UnreadCount,
	}
}

func eventToMap(evt bus.Event) map[string]any {
	m := map[string]any{
		"kind":        evt.Kind,
		"room":        evt.Room,
		"timestampMs": evt.Timestamp.UnixMilli(),
	}
	switch p := evt.Payload.(type) {
	case chat.Message:
		m["summary"] = fmt.Sprintf("#%d %s: %s", p.Seq, p.SenderRole, p.Preview())
	case chat.Role:
		m["summary"] = string(p)
	case status.Change:
		m["summary"] = fmt.Sprintf("%s -> %s", p.From, p.To)
	case string:
		m["summary"] = p
	}
	return m
}
