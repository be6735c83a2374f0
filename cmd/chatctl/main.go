// Command chatctl drives a running banter server from the terminal: it
// logs in, joins a channel, sends messages and tails the chat event stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/banter/chat"
	"github.com/onnwee/banter/irc"
)

const (
	appName    = "chatctl"
	appVersion = "1.0.0"
)

type options struct {
	server string
	token  string
	raw    bool
}

func (o *options) client() *apiClient { return newAPIClient(o.server, o.token) }

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Control a banter chat server",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("BANTER_URL", "http://localhost:8080"), "banter server base URL (BANTER_URL)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("API_TOKEN"), "API bearer token (API_TOKEN)")
	root.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))

	root.AddCommand(
		&cobra.Command{
			Use:   "login-url",
			Short: "Print the URL that starts the Twitch login",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(opts.server, "/")+"/auth/twitch/start")
				return nil
			},
		},
		&cobra.Command{
			Use:   "whoami",
			Short: "Show the logged-in Twitch user",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out struct {
					Username string `json:"username"`
				}
				if err := opts.client().do(cmd.Context(), http.MethodGet, "/user", nil, &out); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.Username)
				return nil
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Leave chat and forget the stored session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.client().do(cmd.Context(), http.MethodPost, "/auth/logout", nil, nil)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the chat connection state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var snap chat.Snapshot
				if err := opts.client().do(cmd.Context(), http.MethodGet, "/chat/status", nil, &snap); err != nil {
					return err
				}
				printSnapshot(cmd.OutOrStdout(), snap)
				return nil
			},
		},
		&cobra.Command{
			Use:   "connect CHANNEL",
			Short: "Join a channel",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var snap chat.Snapshot
				if err := opts.client().do(cmd.Context(), http.MethodPost, "/chat/connect", map[string]string{"channel": args[0]}, &snap); err != nil {
					return err
				}
				printSnapshot(cmd.OutOrStdout(), snap)
				return nil
			},
		},
		&cobra.Command{
			Use:   "disconnect",
			Short: "Leave the joined channel",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.client().do(cmd.Context(), http.MethodPost, "/chat/disconnect", nil, nil)
			},
		},
		&cobra.Command{
			Use:   "send MESSAGE...",
			Short: "Send a message to the joined channel",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				text := strings.Join(args, " ")
				return opts.client().do(cmd.Context(), http.MethodPost, "/chat/send", map[string]string{"text": text}, nil)
			},
		},
		newTailCmd(opts),
		newBadgesCmd(opts),
	)
	return root
}

func newTailCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print chat events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return opts.client().stream(cmd.Context(), func(ev sseEvent) error {
				if opts.raw {
					_, err := fmt.Fprintf(out, "%s %s\n", ev.Event, ev.Data)
					return err
				}
				return printEvent(out, ev)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print event names and JSON payloads")
	return cmd
}

func newBadgesCmd(opts *options) *cobra.Command {
	badges := &cobra.Command{Use: "badges", Short: "Badge metadata"}
	badges.AddCommand(&cobra.Command{
		Use:   "reload [CHANNEL]",
		Short: "Reload badge metadata for a channel (default: the joined one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			if len(args) == 1 {
				body["channel"] = args[0]
			}
			var out struct {
				BroadcasterID string `json:"broadcaster_id"`
				Badges        int    `json:"badges"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/badges/reload", body, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d badges (broadcaster %q)\n", out.Badges, out.BroadcasterID)
			return nil
		},
	})
	return badges
}

func printSnapshot(w io.Writer, s chat.Snapshot) {
	switch {
	case s.Connected:
		fmt.Fprintf(w, "connected to %s\n", s.Channel)
	case s.Running:
		fmt.Fprintf(w, "connecting to %s\n", s.Channel)
	default:
		fmt.Fprintln(w, "disconnected")
	}
	if s.LastError != "" {
		fmt.Fprintf(w, "last error: %s\n", s.LastError)
	}
}

func printEvent(w io.Writer, ev sseEvent) error {
	var err error
	switch chat.EventType(ev.Event) {
	case "snapshot":
		var s chat.Snapshot
		if err := json.Unmarshal([]byte(ev.Data), &s); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		printSnapshot(w, s)
	case chat.EventMessage:
		var m irc.ChatMessage
		if err := json.Unmarshal([]byte(ev.Data), &m); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		name := m.DisplayName
		if name == "" {
			name = m.Username
		}
		_, err = fmt.Fprintf(w, "%s <%s> %s\n", m.Channel, name, m.Text)
	case chat.EventStatus:
		var s chat.Status
		if err := json.Unmarshal([]byte(ev.Data), &s); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		_, err = fmt.Fprintf(w, "* %s\n", s)
	case chat.EventUserNotice:
		var tags irc.Tags
		if err := json.Unmarshal([]byte(ev.Data), &tags); err != nil {
			return fmt.Errorf("decode usernotice: %w", err)
		}
		_, err = fmt.Fprintf(w, "* %s\n", tags["system-msg"])
	case chat.EventClearChat:
		_, err = fmt.Fprintln(w, "* chat cleared")
	case chat.EventReady:
		_, err = fmt.Fprintln(w, "* joined")
	}
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}
