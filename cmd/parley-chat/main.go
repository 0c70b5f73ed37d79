// Command parley-chat is a terminal chat client.
//
// Usage:
//
//	parley-chat -addr localhost:8080
//
// Commands: /register <user> <pass>, /login <user> <pass>, /logout, /quit.
// Any other input is sent as a chat message.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"parley/cmd/internal/chatclient"
	v1 "parley/shared/contracts/chat/v1"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "chat server address")
	level := flag.String("log-level", "warn", "log level (debug|info|warn|error)")
	flag.Parse()

	lvl := slog.LevelWarn
	switch strings.ToLower(*level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	if err := run(*addr, log); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(addr string, log *slog.Logger) error {
	c := chatclient.NewController(log)
	if err := c.Connect(addr); err != nil {
		return err
	}
	defer c.Disconnect()

	fmt.Printf("connected to %s\n", addr)
	fmt.Println("commands: /register <user> <pass>, /login <user> <pass>, /logout, /quit")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go printIncoming(ctx, c)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			if err := c.SendMessage(line); err != nil {
				fmt.Println("!", err)
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/register":
			if len(fields) != 3 {
				fmt.Println("usage: /register <user> <pass>")
				continue
			}
			doAuth(ctx, c.Register, fields[1], fields[2])
		case "/login":
			if len(fields) != 3 {
				fmt.Println("usage: /login <user> <pass>")
				continue
			}
			doAuth(ctx, c.Login, fields[1], fields[2])
		case "/logout", "/quit":
			_ = c.Logout()
			fmt.Println("bye")
			return nil
		default:
			fmt.Println("unknown command:", fields[0])
		}

		if !c.IsConnected() {
			return fmt.Errorf("connection lost")
		}
	}
	return scanner.Err()
}

func doAuth(ctx context.Context, op func(context.Context, string, string) (bool, string, error), user, pass string) {
	ok, msg, err := op(ctx, user, pass)
	switch {
	case err != nil:
		fmt.Println("!", err)
	case ok:
		fmt.Println("*", msg)
	default:
		fmt.Println("!", msg)
	}
}

func printIncoming(ctx context.Context, c *chatclient.Controller) {
	for {
		frame, err := c.NextMessage(ctx)
		if err != nil {
			if err == context.Canceled || err == io.EOF {
				return
			}
			if err == chatclient.ErrNotConnected {
				fmt.Println("! disconnected from server")
				return
			}
			return
		}

		switch frame.Type {
		case v1.TypeChat:
			var m v1.ChatBroadcast
			if frame.Unmarshal(&m) == nil {
				ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
				fmt.Printf("[%s] %s: %s\n", ts, m.Sender, m.Message)
			}
		case v1.TypeSystem:
			var m v1.SystemNotice
			if frame.Unmarshal(&m) == nil {
				fmt.Println("*", m.Message)
			}
		case v1.TypeUserCount:
			var m v1.UserCount
			if frame.Unmarshal(&m) == nil {
				fmt.Printf("* %d user(s) online\n", m.Count)
			}
		case v1.TypeError:
			var m v1.ErrorNotice
			if frame.Unmarshal(&m) == nil {
				fmt.Println("!", m.Message)
			}
		case v1.TypeHeartbeat:
			// Keepalive ack, nothing to show.
		}
	}
}
