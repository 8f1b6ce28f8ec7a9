package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/client"
	"github.com/matheus3301/rentchat/internal/config"
	"github.com/matheus3301/rentchat/internal/instance"
	"github.com/matheus3301/rentchat/internal/logging"
	"github.com/matheus3301/rentchat/internal/tui"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	urlFlag := flag.String("url", "", "server base URL (default: [http] public_url)")
	tokenFlag := flag.String("token", "", "bearer token (default: $RENTCHAT_TOKEN)")
	levelFlag := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fail(err)
	}
	cfg, err := config.LoadOrDefault(instance.ConfigPath())
	if err != nil {
		fail(err)
	}

	base := strings.TrimRight(*urlFlag, "/")
	if base == "" {
		base = strings.TrimRight(cfg.HTTP.PublicURL, "/")
	}
	token := *tokenFlag
	if token == "" {
		token = os.Getenv("RENTCHAT_TOKEN")
	}
	id, err := auth.Peek(token)
	if err != nil {
		fail(fmt.Errorf("a bearer token is required (chatctl token -id <id>): %w", err))
	}

	level, err := zapcore.ParseLevel(*levelFlag)
	if err != nil {
		fail(err)
	}
	logger, err := logging.NewFile(filepath.Join(instance.LogDir(name), "chattui.log"), name, level)
	if err != nil {
		fail(err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("user", id.ID), zap.String("role", string(id.Role)))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	conn, err := client.Dial(ctx, client.Options{
		URL:      wsURL(base),
		Token:    token,
		AutoJoin: id.Room(),
		Logger:   logger.Named("conn"),
	})
	cancel()
	if errors.Is(err, client.ErrUnauthorized) {
		fail(errors.New("the server rejected the token"))
	}
	if err != nil {
		fail(err)
	}
	defer func() { _ = conn.Close() }()

	app := tui.NewApp(tui.Options{
		Identity: id,
		Conn:     conn,
		REST:     client.NewREST(base, token, nil),
		Logger:   logger.Named("tui"),
	})
	if err := app.Run(); err != nil {
		fail(err)
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
