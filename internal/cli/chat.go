package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/zjregee/convo/internal/app"
	"github.com/zjregee/convo/internal/models"
)

type turnOptions struct {
	sessionID string
	model     string
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &turnOptions{}

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			printer := newStreamPrinter(cmd.OutOrStdout())
			a, err := root.open(ctx, cmd, printer)
			if err != nil {
				return err
			}
			defer a.Close()

			done, err := a.Chat(ctx, opts.sessionID, strings.Join(args, " "), opts.model)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), idStyle.Render("session "+done.SessionID))
			if done.State == models.TurnStateFailed {
				return errors.New("turn failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Session to continue (default: new session)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model to use")
	return cmd
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &turnOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat",
		Long: `Interactive chat. Ctrl-C stops the reply that is streaming.

Commands:
  /new            start a new session
  /regen          regenerate the last reply
  /edit           reload the last message you sent
  /model <id>     switch model
  /copy           copy the last reply to the clipboard
  /history        show this session's messages
  /quit           exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer := newStreamPrinter(cmd.OutOrStdout())
			a, err := root.open(cmd.Context(), cmd, printer)
			if err != nil {
				return err
			}
			defer a.Close()

			r := &repl{
				app:       a,
				in:        bufio.NewScanner(cmd.InOrStdin()),
				out:       cmd.OutOrStdout(),
				sessionID: opts.sessionID,
				model:     opts.model,
			}
			return r.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Session to continue (default: new session)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model to use")
	return cmd
}

type repl struct {
	app       *app.App
	in        *bufio.Scanner
	out       io.Writer
	sessionID string
	model     string
	draft     string
}

func (r *repl) run(ctx context.Context) error {
	if r.sessionID != "" {
		if _, err := r.app.Session(r.sessionID); err != nil {
			return err
		}
	}
	if r.model == "" {
		r.model = r.app.DefaultModel()
	}
	fmt.Fprintln(r.out, headerStyle.Render("convo")+" "+dateStyle.Render("model "+r.model+", /quit to exit"))

	for {
		r.prompt()
		if !r.in.Scan() {
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		if r.draft != "" && line == "." {
			line, r.draft = r.draft, ""
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		r.turn(ctx, func(ctx context.Context) (models.TurnFinished, error) {
			return r.app.Chat(ctx, r.sessionID, line, r.model)
		})
	}
}

func (r *repl) prompt() {
	if r.draft != "" {
		fmt.Fprintln(r.out, dateStyle.Render("draft: "+r.draft+" (enter . to send)"))
	}
	fmt.Fprint(r.out, userStyle.Render("> "))
}

// turn runs fn with Ctrl-C bound to cancelling it.
func (r *repl) turn(ctx context.Context, fn func(ctx context.Context) (models.TurnFinished, error)) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	done, err := fn(turnCtx)
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		return
	}
	r.sessionID = done.SessionID
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/new":
		r.sessionID = ""
		fmt.Fprintln(r.out, dateStyle.Render("new session"))
	case "/model":
		if arg == "" {
			fmt.Fprintln(r.out, "model "+r.model)
			return false, nil
		}
		r.model = arg
		fmt.Fprintln(r.out, dateStyle.Render("model "+r.model))
	case "/regen":
		if r.sessionID == "" {
			return false, errors.New("nothing to regenerate")
		}
		r.turn(ctx, func(ctx context.Context) (models.TurnFinished, error) {
			return r.app.Regenerate(ctx, r.sessionID, r.model)
		})
	case "/edit":
		msg, ok := r.last(func(m models.Message) bool { return m.Role == schema.User })
		if !ok {
			return false, errors.New("no message to edit")
		}
		content, err := r.app.EditMessage(r.sessionID, msg.LocalID)
		if err != nil {
			return false, err
		}
		r.draft = content
	case "/copy":
		msg, ok := r.last(func(m models.Message) bool { return m.Role == schema.Assistant && m.Content != "" })
		if !ok {
			return false, errors.New("no reply to copy")
		}
		if _, err := r.app.CopyMessage(r.sessionID, msg.LocalID); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, dateStyle.Render("copied"))
	case "/history":
		msgs, err := r.app.SessionMessages(r.sessionID)
		if err != nil {
			return false, err
		}
		for _, m := range msgs {
			printMessage(r.out, m)
		}
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}

func (r *repl) last(match func(models.Message) bool) (models.Message, bool) {
	if r.sessionID == "" {
		return models.Message{}, false
	}
	msgs, err := r.app.SessionMessages(r.sessionID)
	if err != nil {
		return models.Message{}, false
	}
	for i := len(msgs) - 1; i >= 0; i -= 1 {
		if match(msgs[i]) {
			return msgs[i], true
		}
	}
	return models.Message{}, false
}
