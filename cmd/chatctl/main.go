package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/chat"
	"github.com/matheus3301/rentchat/internal/config"
	"github.com/matheus3301/rentchat/internal/control"
	"github.com/matheus3301/rentchat/internal/instance"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// token works offline: it only needs the shared secret.
	if args[0] == "token" {
		cmdToken(args[1:], *jsonFlag)
		return
	}

	c, err := control.Dial(instance.SocketPath(name))
	if err != nil {
		fail(fmt.Errorf("cannot connect to chatd for instance %q: %w", name, err))
	}
	defer func() { _ = c.Close() }()

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "rooms":
		cmdRooms(c, *jsonFlag)
	case "room":
		if len(args) < 2 {
			fail(errors.New("usage: chatctl room <room-id>"))
		}
		cmdRoom(c, args[1], *jsonFlag)
	case "watch":
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                     Show server status")
	fmt.Fprintln(os.Stderr, "  rooms                      List rooms, most recent first")
	fmt.Fprintln(os.Stderr, "  room <room-id>             Show one room and who is joined to it")
	fmt.Fprintln(os.Stderr, "  watch [prefix]             Stream server events (e.g. watch message.)")
	fmt.Fprintln(os.Stderr, "  token -id <id> [-name <n>] [-role customer|admin]")
	fmt.Fprintln(os.Stderr, "                             Mint a development bearer token")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(c *control.Client, jsonOut bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Instance:     %s\n", st.Instance)
	fmt.Printf("Listening:    %s\n", st.Addr)
	fmt.Printf("State:        %s\n", st.State)
	fmt.Printf("Uptime:       %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("Connections:  %d (%d admins)\n", st.Connections, st.Admins)
	fmt.Printf("Active rooms: %d\n", st.ActiveRooms)
	fmt.Printf("Stored:       %d rooms, %d messages\n", st.Rooms, st.Messages)
	if st.BusDropped > 0 {
		fmt.Printf("Dropped:      %d events\n", st.BusDropped)
	}
}

func cmdRooms(c *control.Client, jsonOut bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rooms, err := c.ListRooms(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(rooms)
		return
	}
	if len(rooms) == 0 {
		fmt.Println("No rooms yet.")
		return
	}
	for _, r := range rooms {
		when := ""
		if r.LastMessageTime > 0 {
			when = time.UnixMilli(r.LastMessageTime).Format("2006-01-02 15:04")
		}
		fmt.Printf("%-16s %-20s %3d unread  %-16s %s\n",
			r.Room, chat.Truncate(r.Customer.Name, 20), r.UnreadCount, when, chat.Truncate(r.LastMessage, 40))
	}
}

func cmdRoom(c *control.Client, roomID string, jsonOut bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := c.GetRoom(ctx, roomID)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(info)
		return
	}
	e := info.Entry
	fmt.Printf("Room:         %s\n", e.Room)
	fmt.Printf("Customer:     %s (%s)\n", e.Customer.Name, e.Customer.ID)
	fmt.Printf("Unread:       %d\n", e.UnreadCount)
	if e.LastMessageTime > 0 {
		fmt.Printf("Last message: %s %s\n",
			time.UnixMilli(e.LastMessageTime).Format("2006-01-02 15:04"), chat.Truncate(e.LastMessage, 40))
	}
	fmt.Printf("Joined here:  %d\n", len(info.Members))
	for _, m := range info.Members {
		fmt.Printf("  %s\n", m)
	}
	if info.ClusterConnections != nil {
		fmt.Printf("Cluster-wide: %d\n", *info.ClusterConnections)
	}
}

func cmdWatch(c *control.Client, prefix string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := c.WatchEvents(ctx, prefix, func(e control.WatchedEvent) {
		if jsonOut {
			outputJSON(e)
			return
		}
		fmt.Printf("%s %-18s %-12s %s\n",
			time.UnixMilli(e.TimestampMs).Format("15:04:05.000"), e.Kind, e.Room, e.Summary)
	})
	if err != nil && ctx.Err() == nil {
		fail(err)
	}
}

func cmdToken(args []string, jsonOut bool) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	id := fs.String("id", "", "subject id (customer id or admin id)")
	name := fs.String("name", "", "display name")
	role := fs.String("role", string(chat.RoleCustomer), "customer or admin")
	_ = fs.Parse(args)

	cfg, err := config.LoadOrDefault(instance.ConfigPath())
	if err != nil {
		fail(err)
	}
	v, err := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.TTL.Duration)
	if err != nil {
		fail(fmt.Errorf("%w (set [auth] secret in %s)", err, instance.ConfigPath()))
	}
	tok, exp, err := v.Issue(auth.Identity{ID: *id, Name: *name, Role: chat.Role(*role)})
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]any{"token": tok, "expiresAt": exp.Format(time.RFC3339)})
		return
	}
	fmt.Println(tok)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
