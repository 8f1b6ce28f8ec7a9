package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/redis/go-redis/v9"
)

// Tracker mirrors which connections are online and joined to which rooms.
type Tracker interface {
	Online(ctx context.Context, connID string, role chat.Role) error
	Offline(ctx context.Context, connID string, role chat.Role) error
	Joined(ctx context.Context, roomID, connID string) error
	Left(ctx context.Context, roomID, connID string) error
	Close() error
}

// Counter is implemented by trackers that can report cluster-wide room
// occupancy.
type Counter interface {
	RoomConnections(ctx context.Context, roomID string) (int64, error)
}

// Nop is the tracker used when no presence backend is configured.
type Nop struct{}

func (Nop) Online(context.Context, string, chat.Role) error  { return nil }
func (Nop) Offline(context.Context, string, chat.Role) error { return nil }
func (Nop) Joined(context.Context, string, string) error     { return nil }
func (Nop) Left(context.Context, string, string) error       { return nil }
func (Nop) Close() error                                     { return nil }

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// Redis keeps presence in Redis sets so sibling nodes and dashboards can
// see who is connected:
//
//	<prefix>:room:<id>:conns  connection ids joined to a room
//	<prefix>:online:<role>    connection ids online per role
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rentchat"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Redis{rdb: rdb, ttl: cfg.TTL, prefix: cfg.Prefix}, nil
}

// RoomKey returns the set key holding the connections joined to roomID.
func (r *Redis) RoomKey(roomID string) string {
	return r.prefix + ":room:" + roomID + ":conns"
}

// OnlineKey returns the set key holding the online connections of role.
func (r *Redis) OnlineKey(role chat.Role) string {
	return r.prefix + ":online:" + string(role)
}

func (r *Redis) add(ctx context.Context, key, member string) error {
	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, key, member)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Online(ctx context.Context, connID string, role chat.Role) error {
	return r.add(ctx, r.OnlineKey(role), connID)
}

func (r *Redis) Offline(ctx context.Context, connID string, role chat.Role) error {
	return r.rdb.SRem(ctx, r.OnlineKey(role), connID).Err()
}

func (r *Redis) Joined(ctx context.Context, roomID, connID string) error {
	return r.add(ctx, r.RoomKey(roomID), connID)
}

func (r *Redis) Left(ctx context.Context, roomID, connID string) error {
	return r.rdb.SRem(ctx, r.RoomKey(roomID), connID).Err()
}

// RoomConnections returns how many connections are joined to roomID across nodes.
func (r *Redis) RoomConnections(ctx context.Context, roomID string) (int64, error) {
	return r.rdb.SCard(ctx, r.RoomKey(roomID)).Result()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
