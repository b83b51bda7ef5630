package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zulandar/openhouse/internal/assistant"
	"github.com/zulandar/openhouse/internal/channel"
	"github.com/zulandar/openhouse/internal/session"
	"golang.org/x/term"
)

const channelCLI = "cli"

// demoQuestions exercise search, follow-up filtering and booking.
var demoQuestions = []string{
	"What properties are available in Austin, Texas?",
	"Show me houses with at least 3 bedrooms and 2 bathrooms.",
	"Do you have any properties under $500,000?",
	"I want to book an appointment to view the first property on Sept 28 at 10 am.",
	"Change my appointment on Sept 28 to Sept 29.",
}

func newChatCmd() *cobra.Command {
	var (
		configPath string
		demo       bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Starts an interactive conversation. Calendar changes are shown first and
run only after you answer "yes"; any other answer declines with that reason.
Type "exit" to quit. With --demo a fixed set of questions is asked instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, cmd.Flags().Changed("config"), demo)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OpenHouse config file")
	cmd.Flags().BoolVar(&demo, "demo", false, "ask the predefined demo questions")
	return cmd
}

func runChat(cmd *cobra.Command, configPath string, explicit, demo bool) error {
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}
	level := "warn"
	if cfg.LogLevel == "debug" || cfg.LogLevel == "error" {
		level = cfg.LogLevel
	}
	setupLogging(level, os.Stderr)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, appOpts{})
	if err != nil {
		return err
	}

	var questions []string
	if demo {
		questions = demoQuestions
	}
	return chatLoop(ctx, chatIO{
		in:          cmd.InOrStdin(),
		out:         cmd.OutOrStdout(),
		interactive: isTerminal(cmd.InOrStdin()),
	}, a.service, uuid.NewString(), questions)
}

type chatIO struct {
	in          io.Reader
	out         io.Writer
	interactive bool
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// chatService is the part of assistant.Service the terminal uses.
type chatService interface {
	Handle(ctx context.Context, req assistant.Request) channel.Reply
	Close(ctx context.Context, threadID string, reason session.Reason) error
}

// chatLoop runs one conversation. With questions it asks those in order;
// otherwise it reads questions from the input until "exit" or EOF. Approval
// prompts always read the answer from the input.
func chatLoop(ctx context.Context, cio chatIO, svc chatService, threadID string, questions []string) error {
	out := cio.out
	scanner := bufio.NewScanner(cio.in)
	readLine := func(prompt string) (string, bool) {
		if cio.interactive {
			fmt.Fprint(out, prompt)
		}
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

	defer func() {
		_ = svc.Close(context.WithoutCancel(ctx), threadID, session.ReasonClosed)
	}()

	turn := func(in channel.Inbound) error {
		for {
			reply := svc.Handle(ctx, assistant.Request{
				ThreadID: threadID,
				Channel:  channelCLI,
				UserID:   channelCLI,
				Input:    in,
			})
			printReply(out, reply)
			if !reply.Awaiting {
				return nil
			}
			answer, ok := readLine("Approve? ")
			if !ok {
				return io.ErrUnexpectedEOF
			}
			in = channel.Inbound{Approval: &answer}
		}
	}

	if len(questions) > 0 {
		for _, q := range questions {
			fmt.Fprintf(out, "You: %s\n", q)
			if err := turn(channel.Inbound{Content: q}); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			fmt.Fprintln(out)
		}
		return nil
	}

	fmt.Fprintln(out, "Ask about homes or appointments (type 'exit' to stop).")
	for {
		q, ok := readLine("You: ")
		if !ok || strings.EqualFold(q, "exit") {
			fmt.Fprintln(out, "Goodbye.")
			return scanner.Err()
		}
		if q == "" {
			continue
		}
		if err := turn(channel.Inbound{Content: q}); err != nil {
			return fmt.Errorf("chat: %w", err)
		}
	}
}

func printReply(w io.Writer, reply channel.Reply) {
	for _, o := range reply.Outbound {
		switch o.Type {
		case channel.TypeToolCall:
			fmt.Fprintf(w, "\n[approval required]\n%s\n", o.Content)
		case channel.TypeError:
			fmt.Fprintf(w, "Error: %s\n", o.Content)
		default:
			fmt.Fprintf(w, "Assistant: %s\n", o.Content)
		}
	}
}
