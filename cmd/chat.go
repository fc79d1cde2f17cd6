package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zbstctc/botool/internal/chat"
	"github.com/zbstctc/botool/internal/health"
	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/output"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent",
	Long: `Open an interactive chat with the agent. Assistant text is streamed as
it arrives. When the agent raises a tool call, the next line you enter is
sent as the tool response: a JSON object is sent as is, anything else as
{"answer": "<line>"}.

Commands: /reset starts a new session, /quit exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := newClient()

		ch := chat.New(client,
			chat.WithPolicy(reconnectPolicy()),
			chat.WithMode(viper.GetString("chat.mode")),
		)
		mon := health.NewMonitor(ch.Tracker(), client.Health,
			health.WithInterval(viper.GetDuration("health.interval")),
			health.WithFailureThreshold(viper.GetInt("health.failure_threshold")),
			health.WithIdleCheck(ch.Idle),
		)
		go func() { _ = mon.Run(ctx) }()

		ch.Tracker().OnChange(func(s models.ConnectionState) {
			fmt.Fprintf(os.Stderr, "\n[%s]\n", output.ConnectionColor(s))
		})
		p := &streamPrinter{}
		ch.OnChange(p.print)

		ui.Info("Connected to %s. /reset for a new session, /quit to exit.", viper.GetString("server.url"))
		in := bufio.NewScanner(os.Stdin)
		for {
			snap := ch.Snapshot()
			if snap.Pending != nil {
				fmt.Fprintf(ui.Out, "%s %s %s\n%s ", output.Yellow("tool call"), snap.Pending.Name, output.Faint(string(snap.Pending.Input)), output.Yellow("response>"))
			} else {
				fmt.Fprint(ui.Out, output.Cyan("> "))
			}
			if !in.Scan() {
				return in.Err()
			}
			line := strings.TrimSpace(in.Text())

			var err error
			switch {
			case line == "/quit":
				return nil
			case line == "/reset":
				ch.Reset()
				p.reset()
				ui.Info("New session")
				continue
			case line == "":
				continue
			case snap.Pending != nil:
				err = ch.RespondToTool(ctx, snap.Pending.ID, toolAnswer(line))
			default:
				err = ch.Send(ctx, line)
			}
			fmt.Fprintln(ui.Out)

			if ctx.Err() != nil {
				return nil
			}
			var pe *chat.ProtocolError
			switch {
			case err == nil:
			case errors.As(err, &pe):
				ui.Error("Agent error: %s", pe.Message)
			case errors.Is(err, health.ErrDisconnected):
				ui.Error("Server unreachable: %v", err)
			default:
				ui.Error("%v", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// toolAnswer turns an operator line into a tool response object.
func toolAnswer(line string) any {
	if strings.HasPrefix(line, "{") && json.Valid([]byte(line)) {
		return json.RawMessage(line)
	}
	return map[string]string{"answer": line}
}

// streamPrinter writes assistant text as it grows.
type streamPrinter struct {
	mu      sync.Mutex
	msgID   string
	printed int
}

func (p *streamPrinter) print(s chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(s.Messages) == 0 {
		return
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Role != models.RoleAssistant {
		return
	}
	if last.ID != p.msgID {
		p.msgID = last.ID
		p.printed = 0
	}
	// A reconnect restarts the message from scratch.
	if len(last.Content) < p.printed {
		fmt.Fprintln(ui.Out)
		p.printed = 0
	}
	fmt.Fprint(ui.Out, last.Content[p.printed:])
	p.printed = len(last.Content)
}

func (p *streamPrinter) reset() {
	p.mu.Lock()
	p.msgID = ""
	p.printed = 0
	p.mu.Unlock()
}
