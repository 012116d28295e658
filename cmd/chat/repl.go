package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/hanna4328/chat-bot/internal/chatclient"
	"github.com/hanna4328/chat-bot/internal/models"
)

type repl struct {
	conv *chatclient.Conversation
	in   io.Reader
	out  io.Writer

	user      *color.Color
	bot       *color.Color
	important *color.Color
	errColor  *color.Color
}

func newREPL(conv *chatclient.Conversation, in io.Reader, out io.Writer, noColor bool) *repl {
	r := &repl{
		conv:      conv,
		in:        in,
		out:       out,
		user:      color.New(color.FgCyan, color.Bold),
		bot:       color.New(color.FgHiWhite),
		important: color.New(color.FgHiMagenta, color.Bold),
		errColor:  color.New(color.FgRed),
	}
	if noColor {
		for _, c := range []*color.Color{r.user, r.bot, r.important, r.errColor} {
			c.DisableColor()
		}
	}
	return r
}

// Run reads lines until EOF, /quit or ctx is done.
func (r *repl) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "=== ONWARD ===")
	fmt.Fprintln(r.out, "I'm here to remind you of what you promised yourself.")
	fmt.Fprintln(r.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(r.out)

	for _, m := range r.conv.Messages() {
		r.printMessage(m)
	}

	scanner := bufio.NewScanner(r.in)
	for {
		if ctx.Err() != nil {
			break
		}
		r.user.Fprint(r.out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := r.handleCommand(input)
			if err != nil {
				r.errColor.Fprintf(r.out, "Error: %v\n", err)
			}
			if quit {
				break
			}
			continue
		}

		res, err := r.conv.AskAI(ctx, input)
		if err != nil {
			r.errColor.Fprintln(r.out, userMessage(err))
			continue
		}
		if res.Reply != nil {
			r.printMessage(*res.Reply)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	fmt.Fprintln(r.out, "Goodbye!")
	return nil
}

func (r *repl) printMessage(m models.ChatMessage) {
	if m.Role == models.RoleUser {
		return
	}
	c := r.bot
	prefix := "Bot: "
	if m.Important {
		c = r.important
		prefix = "Bot ★: "
	}
	c.Fprintf(r.out, "%s%s\n\n", prefix, m.Text)
}

// handleCommand handles special commands
func (r *repl) handleCommand(cmd string) (bool, error) {
	parts := strings.Fields(cmd)

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/reset":
		if err := r.conv.Reset(); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Started a new conversation.")
		for _, m := range r.conv.Messages() {
			r.printMessage(m)
		}
		return false, nil

	case "/model":
		if len(parts) < 2 {
			current := r.conv.Model()
			if current == "" {
				current = "(server default)"
			}
			fmt.Fprintf(r.out, "Model: %s\n", current)
			return false, nil
		}
		r.conv.SetModel(parts[1])
		fmt.Fprintf(r.out, "Model set to: %s\n", parts[1])
		return false, nil

	case "/help":
		fmt.Fprintln(r.out, "Available commands:")
		fmt.Fprintln(r.out, "  /quit, /exit   - Exit the chat")
		fmt.Fprintln(r.out, "  /reset         - Start a new conversation")
		fmt.Fprintln(r.out, "  /model [id]    - Show or set the model (e.g., gemma-3-1b-it)")
		fmt.Fprintln(r.out, "  /help          - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

func userMessage(err error) string {
	var pacing *chatclient.PacingError
	var turn *chatclient.TurnError
	switch {
	case errors.As(err, &pacing):
		return pacing.Error()
	case errors.As(err, &turn):
		return turn.Message
	case errors.Is(err, chatclient.ErrTurnInProgress):
		return "Still waiting for the previous reply."
	default:
		return err.Error()
	}
}
