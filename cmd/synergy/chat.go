package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/synergy/internal/wsclient"
)

func newChatCmd() *cobra.Command {
	var (
		url     string
		aid     string
		room    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive client: stdin lines are sent to the current room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			dialCtx, dialCancel := context.WithTimeout(ctx, timeout)
			defer dialCancel()

			c, err := wsclient.DialChat(dialCtx, url)
			if err != nil {
				return err
			}
			defer c.Close()

			rooms, err := c.Authenticate(dialCtx, aid)
			if err != nil {
				return fmt.Errorf("authentication failed (unknown identifier?): %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connected to %s as %s, rooms: %s\n", url, aid, strings.Join(rooms, ", "))
			fmt.Fprintf(out, "Sending to %s. Use /room NAME to switch, Ctrl+C to exit.\n", room)

			go func() {
				defer cancel()
				readLoop(ctx, c, out)
			}()

			return writeLoop(ctx, c, cmd.InOrStdin(), out, room)
		},
	}

	f := cmd.Flags()
	f.StringVar(&url, "url", "ws://localhost:4545/ws", "client channel address")
	f.StringVar(&aid, "aid", "", "identifier to authenticate with")
	f.StringVar(&room, "room", "Global", "room to send to")
	f.DurationVar(&timeout, "timeout", 5*time.Second, "timeout for connecting and authenticating")
	_ = cmd.MarkFlagRequired("aid")
	return cmd
}

func readLoop(ctx context.Context, c *wsclient.Chat, out io.Writer) {
	for {
		env, err := c.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			fmt.Fprintf(out, "read error: %v\n", err)
			return
		}
		fmt.Fprintf(out, "[%s] %s\n", env.Author, env.Message)
	}
}

func writeLoop(ctx context.Context, c *wsclient.Chat, in io.Reader, out io.Writer, room string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if name, found := strings.CutPrefix(text, "/room "); found {
				room = strings.TrimSpace(name)
				fmt.Fprintf(out, "Sending to %s\n", room)
				continue
			}
			if err := c.Send(ctx, room, text); err != nil {
				return err
			}
		}
	}
}
