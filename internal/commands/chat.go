package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dvloznov/docledger/internal/normalize"
)

type chatter interface {
	Chat(ctx context.Context, key, text string) (normalize.Result, error)
}

func newChatCommand(g *globalOptions) *cobra.Command {
	var conversation string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the accounting assistant (one line per turn, empty line or EOF to quit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if conversation == "" {
				conversation = uuid.NewString()
			}
			return runChat(ctx, a.Orchestrator, conversation, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation key (random when empty)")

	return cmd
}

func runChat(ctx context.Context, c chatter, key string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Conversation %s\n", key)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}

		reply, err := c.Chat(ctx, key, line)
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		fmt.Fprintln(out, reply.String())
	}
	fmt.Fprintln(out)
	return scanner.Err()
}
