package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd, syncCmd, olderCmd, lastCmd, participantsCmd, openCmd, sendCmd, readCmd, watchCmd)
	syncCmd.Flags().StringVar(&syncUser, "user", "", "user whose chats to sync (default: linked account)")
	sendCmd.Flags().StringVar(&sendTitle, "title", "", "message title")
}

var (
	syncUser  string
	sendTitle string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return call(cmd, func(ctx context.Context, c *api.Client) (map[string]any, error) {
			return c.Status(ctx)
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [chat-id]",
	Short: "Sync every chat, or the newer messages of one chat",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, func(ctx context.Context, c *api.Client) (map[string]any, error) {
			if len(args) == 1 {
				return c.SyncChat(ctx, args[0])
			}
			return c.SyncAll(ctx, syncUser)
		})
	},
}

var olderCmd = &cobra.Command{
	Use:   "older <chat-id>",
	Short: "Fetch the page of messages before the oldest stored one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, func(ctx context.Context, c *api.Client) (map[string]any, error) {
			return c.SyncOlder(ctx, args[0])
		})
	},
}

var lastCmd = &cobra.Command{
	Use:   "last <chat-id>",
	Short: "Show the last message of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, func(ctx context.Context, c *api.Client) (map[string]any, error) {
			return c.GetLastMessage(ctx, args[0])
		})
	},
}

var participantsCmd = &cobra.Command{
	Use:   "participants <chat-id>",
	Short: "List the participants of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, func(ctx context.Context, c *api.Client) (map[string]any, error) {
			return c.GetParticipants(ctx, args[0])
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <user-id>",
	Short: "Open (or create) the private chat with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, func(ctx context.Context, c *api.Client) (map[string]any, error) {
			return c.OpenPrivateChat(ctx, args[0])
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>",
	Short: "Queue a text message for sending",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, func(ctx context.Context, c *api.Client) (map[string]any, error) {
			id, err := c.SendText(ctx, args[0], args[1], sendTitle)
			if err != nil {
				return nil, err
			}
			return map[string]any{"client_msg_id": id, "queued": true}, nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <chat-id> <message-id>",
	Short: "Mark a message as read",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, func(ctx context.Context, c *api.Client) (map[string]any, error) {
			return c.MarkRead(ctx, args[0], args[1])
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [namespace]",
	Short: "Stream daemon events, optionally filtered by namespace prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns := ""
		if len(args) == 1 {
			ns = args[0]
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		err = c.WatchEvents(cmd.Context(), ns, func(evt map[string]any) error {
			if flagJSON {
				return output(evt)
			}
			fmt.Printf("%v %v %v\n", evt["timestamp"], evt["kind"], evt["subject_id"])
			return nil
		})
		if err != nil && cmd.Context().Err() != nil {
			return nil
		}
		return err
	},
}
