package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"yo/internal/config"
	"yo/internal/session"
	"yo/internal/ui"

	"github.com/spf13/cobra"
)

func parseChatID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chat id %q", arg)
	}
	return id, nil
}

func newAskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ask <question...>",
		Aliases: []string{"a"},
		Short:   "Ask your AI a question",
		Long: `Ask the currently configured AI model a question. The response streams in
real time when using OpenAI. The question and the answer are saved in the
current chat.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ask(cmd.Context(), args)
		},
	}
}

func newClearHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-history",
		Short: "Clear the current chat's messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bot, err := a.bot()
			if err != nil {
				return err
			}
			n, err := bot.ClearHistory(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "✅ History cleared (%d messages)\n", n)
			return nil
		},
	}
}

func newNewChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new-chat [title...]",
		Short: "Start a new chat session",
		Long:  "Begin a new chat session and set it as the current chat.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := a.bot()
			if err != nil {
				return err
			}
			title := strings.Join(args, " ")
			id, err := bot.NewChat(cmd.Context(), title)
			if err != nil {
				return err
			}
			if title == "" {
				title = session.DefaultTitle
			}
			fmt.Fprintf(a.stdout, "Started new chat %d: %s\n", id, title)
			return nil
		},
	}
}

func newListChatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-chats",
		Short: "List all chat sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bot, err := a.bot()
			if err != nil {
				return err
			}
			chats, err := bot.ListChats(cmd.Context())
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				fmt.Fprintln(a.stdout, "No chats yet. Run `yo new-chat` to start one.")
				return nil
			}
			current, ok, err := bot.CurrentID()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, ui.ChatsTable(chats, current, ok))
			return nil
		},
	}
}

func newSwitchChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-chat <id>",
		Short: "Switch to a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			bot, err := a.bot()
			if err != nil {
				return err
			}
			sess, err := bot.SwitchChat(cmd.Context(), id)
			if errors.Is(err, session.ErrSessionNotFound) {
				return fmt.Errorf("no chat with id %d", id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Switched to chat %d: %s\n", sess.ID, sess.Title)
			return nil
		},
	}
}

func newSetProfileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-profile <key=value>",
		Short: "Set a user profile key-value pair",
		Long:  "Set a key-value pair in the user profile (global memory). Format: key=value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := a.bot()
			if err != nil {
				return err
			}
			key, value, err := bot.SetProfile(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Profile updated: %s = %s\n", key, value)
			return nil
		},
	}
}

func newProfileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profile [key]",
		Short: "Show the user profile, or one entry of it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := a.bot()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				value, ok, err := bot.ProfileValue(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("profile key %q is not set", args[0])
				}
				fmt.Fprintln(a.stdout, value)
				return nil
			}
			entries, err := bot.Profile(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "Profile is empty. Use `yo set-profile key=value`.")
				return nil
			}
			fmt.Fprintln(a.stdout, ui.ProfileTable(entries))
			return nil
		},
	}
}

func newSummarizeChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize-chat <id>",
		Short: "Summarize a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			bot, err := a.bot()
			if err != nil {
				return err
			}
			p, err := a.provider(cfg, false)
			if err != nil {
				return err
			}
			summary, err := bot.Summarize(cmd.Context(), p, id)
			if errors.Is(err, session.ErrSessionNotFound) {
				return fmt.Errorf("no chat with id %d", id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Summary of chat %d:\n", id)
			fmt.Fprintln(a.stdout, a.renderer().Render(summary))
			return nil
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <keyword...>",
		Short: "Search all chats for a keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := a.bot()
			if err != nil {
				return err
			}
			keyword := strings.Join(args, " ")
			hits, err := bot.Search(cmd.Context(), keyword)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintf(a.stdout, "No messages found for %q\n", keyword)
				return nil
			}
			fmt.Fprintln(a.stdout, ui.SearchTable(hits))
			return nil
		},
	}
}

func newViewChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "view-chat",
		Short: "View the current chat's history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bot, err := a.bot()
			if err != nil {
				return err
			}
			sess, messages, err := bot.ViewChat(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, a.renderer().Transcript(sess, messages))
			return nil
		},
	}
}

func newDeleteChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-chat <id>",
		Short: "Delete a chat session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			bot, err := a.bot()
			if err != nil {
				return err
			}
			cleared, err := bot.DeleteChat(cmd.Context(), id)
			if errors.Is(err, session.ErrSessionNotFound) {
				return fmt.Errorf("no chat with id %d", id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "🗑 Deleted chat %d\n", id)
			if cleared {
				fmt.Fprintln(a.stdout, "That was the current chat. Run `yo new-chat` or `yo switch-chat <id>` to continue.")
			}
			return nil
		},
	}
}

func newClearAllChatsCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear-all-chats",
		Short: "Delete all chats and messages",
		Long:  "Delete all chat sessions and all messages. This cannot be undone.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				answer, err := a.prompter().Ask("Delete ALL chats and messages? [y/N]: ")
				if err != nil {
					return err
				}
				if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
					fmt.Fprintln(a.stdout, "Aborted.")
					return nil
				}
			}
			bot, err := a.bot()
			if err != nil {
				return err
			}
			if err := bot.ClearAllChats(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "🗑 All chats deleted")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newRenameChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-chat <id> <title...>",
		Short: "Rename a chat session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			bot, err := a.bot()
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			if err := bot.RenameChat(cmd.Context(), id, title); err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					return fmt.Errorf("no chat with id %d", id)
				}
				return err
			}
			fmt.Fprintf(a.stdout, "Renamed chat %d to %q\n", id, title)
			return nil
		},
	}
}

func newTagChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tag-chat <id> [tag...]",
		Short: "Replace the tags of a chat session",
		Long:  "Replace the tags of a chat session. Tags may be separated by spaces or commas; no tags clears them.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			bot, err := a.bot()
			if err != nil {
				return err
			}
			var tags []string
			for _, arg := range args[1:] {
				tags = append(tags, strings.Split(arg, ",")...)
			}
			if err := bot.TagChat(cmd.Context(), id, tags); err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					return fmt.Errorf("no chat with id %d", id)
				}
				return err
			}
			fmt.Fprintf(a.stdout, "Tagged chat %d\n", id)
			return nil
		},
	}
}

func newSystemPromptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "system-prompt <id> [prompt...]",
		Short: "Set the system prompt of a chat session",
		Long:  "Set the instruction sent ahead of the history to OpenAI for one chat. No prompt restores the default.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			bot, err := a.bot()
			if err != nil {
				return err
			}
			if err := bot.SetSystemPrompt(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					return fmt.Errorf("no chat with id %d", id)
				}
				return err
			}
			fmt.Fprintf(a.stdout, "Updated system prompt of chat %d\n", id)
			return nil
		},
	}
}
