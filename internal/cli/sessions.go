package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Manage chat sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions := a.ListSessions()
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions yet. Start one with: convo chat")
				return nil
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Sessions (%d)", len(sessions))))
			for _, s := range sessions {
				printSession(out, s, false)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <session-id> <title>",
		Short: "Rename a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.RenameSession(cmd.Context(), args[0], strings.Join(args[1:], " "))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>...",
		Short: "Delete sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.DeleteSession(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted "+idStyle.Render(id))
			}
			return nil
		},
	})

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all sessions without --yes")
			}
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			n := len(a.ListSessions())
			a.ClearSessions(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d sessions\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deleting all sessions")
	cmd.AddCommand(clearCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Retry saving messages that failed to sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			n := a.RetryFailed(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Retried %d messages\n", n)
			return nil
		},
	})

	return cmd
}

func newMessagesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"show"},
		Short:   "Read and manage a session's messages",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.Session(args[0])
			if err != nil {
				return err
			}
			msgs, err := a.SessionMessages(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(info.Title))
			fmt.Fprintln(out)
			for _, m := range msgs {
				printMessage(out, m)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id> <message-id>",
		Short: "Delete one message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.DeleteMessage(cmd.Context(), args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "copy <session-id> <message-id>",
		Short: "Copy one message to the clipboard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.open(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			content, err := a.CopyMessage(args[0], args[1])
			if err != nil && content == "" {
				return err
			}
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("clipboard unavailable, printing instead"))
				fmt.Fprintln(cmd.OutOrStdout(), content)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Copied")
			return nil
		},
	})

	return cmd
}
