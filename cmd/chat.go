package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reagentd/reagent/internal/agent"
	"github.com/reagentd/reagent/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		model          string
		conversationID string
		username       string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat in the terminal (no gateway needed)",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(username, conversationID, model)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model to use (default: provider default)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "resume an existing conversation")
	cmd.Flags().StringVar(&username, "user", "", "username (default: OS user)")
	return cmd
}

func runChat(username, conversationID, model string) {
	setupLogging()

	rt, err := buildRuntime()
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}
	defer rt.Close()

	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		} else {
			username = "local"
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("reagent chat — empty line or /quit to exit")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "/quit" || line == "/exit" {
			break
		}

		err := rt.orch.RunTurn(ctx, agent.RunRequest{
			Username:       username,
			ConversationID: conversationID,
			Content:        line,
			Model:          model,
		}, printEvent)
		if err != nil && ctx.Err() != nil {
			break
		}

		// Stay in the same conversation across turns.
		if conversationID == "" {
			if convs := rt.store.List(username); len(convs) > 0 {
				conversationID = convs[0].ID
			}
		}
	}
	fmt.Println()
}

func printEvent(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventNote:
		fmt.Print(ev.Delta)
	case protocol.EventThinking:
		// Reasoning deltas stay quiet; show a pulse so long thinks are visible.
		fmt.Print(".")
	case protocol.EventExec:
		switch ev.Phase {
		case protocol.ExecPhaseStart:
			fmt.Printf("\n[%s %s]\n", ev.Tool, ev.ArgsPreview)
		case protocol.ExecPhaseHeartbeat:
			fmt.Printf("[%s running, %.0fs]\n", ev.Tool, ev.ElapsedSec)
		case protocol.ExecPhaseError:
			fmt.Printf("[%s failed: %s]\n", ev.Tool, ev.Message)
		}
	case protocol.EventFilesGenerated:
		fmt.Printf("[files: %s]\n", strings.Join(ev.Files, ", "))
	case protocol.EventCompressionDone:
		fmt.Println("[context compressed]")
	case protocol.EventRetry:
		fmt.Printf("[retry %d/%d in %.1fs]\n", ev.Attempt, ev.MaxRetries, ev.Delay)
	case protocol.EventFinal:
		if ev.Result != nil && ev.Result.Status != protocol.FinalSuccess {
			fmt.Printf("\n[%s] %s\n", ev.Result.Status, ev.Result.Error)
		} else {
			fmt.Println()
		}
	}
}
