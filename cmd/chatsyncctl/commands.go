package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/api"
)

func init() {
	messagesCmd.Flags().Int64("before", 0, "only messages older than this timestamp (unix ms)")
	messagesCmd.Flags().Int("limit", 50, "page size")
	messagesCmd.Flags().Bool("older", false, "fetch the next older page from the server first")
	searchCmd.Flags().Int64("conversation", 0, "restrict to one conversation")
	searchCmd.Flags().Int("limit", 20, "maximum results")
	dialogsCmd.Flags().Bool("refresh", false, "reload the chat list from the server")
	connectCmd.Flags().String("token", "", "bearer token (defaults to the stored one)")
	watchCmd.Flags().String("namespace", "", "event kind prefix, e.g. conv.42.")

	rootCmd.AddCommand(
		statusCmd,
		connectCmd,
		disconnectCmd,
		dialogsCmd,
		messagesCmd,
		sendCmd,
		editCmd,
		deleteCmd,
		readCmd,
		searchCmd,
		userCmd,
		watchCmd,
		logoutCmd,
	)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return callAndPrint(cmd, api.MethodGetStatus, nil, printStatus)
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <conversation-id>",
	Short: "Open the realtime connection of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		token, _ := cmd.Flags().GetString("token")
		return callAndPrint(cmd, api.MethodConnect, map[string]any{"conversation_id": convID, "token": token}, printState)
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <conversation-id>",
	Short: "Close the realtime connection of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		return callAndPrint(cmd, api.MethodDisconnect, map[string]any{"conversation_id": convID}, printState)
	},
}

var dialogsCmd = &cobra.Command{
	Use:   "dialogs",
	Short: "List dialogs, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		return callAndPrint(cmd, api.MethodListDialogs, map[string]any{"refresh": refresh}, printDialogs)
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a page of a conversation's timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		before, _ := cmd.Flags().GetInt64("before")
		limit, _ := cmd.Flags().GetInt("limit")
		older, _ := cmd.Flags().GetBool("older")
		return callAndPrint(cmd, api.MethodListMessages, map[string]any{
			"conversation_id": convID,
			"before":          before,
			"limit":           limit,
			"load_older":      older,
		}, printMessages)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>...",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")
		return callAndPrint(cmd, api.MethodSendText, map[string]any{"conversation_id": convID, "text": text}, printOK)
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <conversation-id> <message-id> <text>...",
	Short: "Edit a message",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, msgID, err := parseIDs(args[0], args[1])
		if err != nil {
			return err
		}
		return callAndPrint(cmd, api.MethodEditMessage, map[string]any{
			"conversation_id": convID,
			"message_id":      msgID,
			"text":            strings.Join(args[2:], " "),
		}, printOK)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id> <message-id>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, msgID, err := parseIDs(args[0], args[1])
		if err != nil {
			return err
		}
		return callAndPrint(cmd, api.MethodDeleteMessage, map[string]any{"conversation_id": convID, "message_id": msgID}, printOK)
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id> <message-id>",
	Short: "Send a read receipt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, msgID, err := parseIDs(args[0], args[1])
		if err != nil {
			return err
		}
		return callAndPrint(cmd, api.MethodMarkRead, map[string]any{"conversation_id": convID, "message_id": msgID}, printOK)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Full-text search over mirrored messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, _ := cmd.Flags().GetInt64("conversation")
		limit, _ := cmd.Flags().GetInt("limit")
		return callAndPrint(cmd, api.MethodSearchMessages, map[string]any{
			"query":           strings.Join(args, " "),
			"conversation_id": conv,
			"limit":           limit,
		}, printSearch)
	},
}

var userCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "Show a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return callAndPrint(cmd, api.MethodGetUser, map[string]any{"id": id}, printUser)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")
		return withClient(0, func(ctx context.Context, c *api.Client) error {
			err := c.Watch(ctx, namespace, func(evt map[string]any) error {
				if jsonFlag {
					return outputJSON(cmd.OutOrStdout(), evt)
				}
				printEvent(cmd.OutOrStdout(), evt)
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Disconnect everything, clear state and forget the token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return callAndPrint(cmd, api.MethodLogout, nil, printOK)
	},
}

func callAndPrint(cmd *cobra.Command, method string, fields map[string]any, render printer) error {
	return withClient(timeoutFlag, func(ctx context.Context, c *api.Client) error {
		resp, err := c.Call(ctx, method, fields)
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(cmd.OutOrStdout(), resp)
		}
		render(cmd.OutOrStdout(), resp)
		return nil
	})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(a, b string) (int64, int64, error) {
	x, err := parseID(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := parseID(b)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
