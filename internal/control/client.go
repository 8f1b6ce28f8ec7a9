package control

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatusInfo is the decoded Status response.
type StatusInfo struct {
	Instance    string `json:"instance"`
	Addr        string `json:"addr"`
	State       string `json:"state"`
	UptimeMs    int64  `json:"uptimeMs"`
	Connections int    `json:"connections"`
	Admins      int    `json:"admins"`
	ActiveRooms int    `json:"activeRooms"`
	Rooms       int64  `json:"rooms"`
	Messages    int64  `json:"messages"`
	BusDropped  int64  `json:"busDropped"`
}

// RoomInfo is the decoded GetRoom response. ClusterConnections is nil when
// the daemon runs without a presence backend.
type RoomInfo struct {
	Entry              chat.InboxEntry `json:"entry"`
	Members            []string        `json:"members"`
	ClusterConnections *int64          `json:"clusterConnections"`
}

// WatchedEvent is one event received from WatchEvents.
type WatchedEvent struct {
	Kind        string `json:"kind"`
	Room        string `json:"room"`
	TimestampMs int64  `json:"timestampMs"`
	Summary     string `json:"summary"`
}

// Client talks to a running chatd over its control socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the unix socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var info StatusInfo
	if err := decode(out.AsMap(), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]chat.InboxEntry, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodListRooms, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var resp struct {
		Rooms []chat.InboxEntry `json:"rooms"`
	}
	if err := decode(out.AsMap(), &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (*RoomInfo, error) {
	req, err := structpb.NewStruct(map[string]any{"room": roomID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetRoom, req, out); err != nil {
		return nil, err
	}
	var info RoomInfo
	if err := decode(out.AsMap(), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// WatchEvents calls fn for every event matching prefix until ctx is done or
// the daemon closes the stream.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(WatchedEvent)) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], methodWatchEvents)
	if err != nil {
		return err
	}
	req, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var evt WatchedEvent
		if err := decode(out.AsMap(), &evt); err != nil {
			return err
		}
		fn(evt)
	}
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
