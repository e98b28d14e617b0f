package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/everloop-ai/everloop/pkg/protocol"
)

const attachLineWidth = 100

func attachCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to a running harness: stream events, send messages",
		Long: "Connects to the gateway WebSocket, prints the live event stream, and sends\n" +
			"each stdin line as a user message. Commands: /mode <m>, /delay <d>, /step, /quit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8787", "gateway host:port")
	return cmd
}

func runAttach(ctx context.Context, addr string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, fmt.Sprintf("ws://%s/ws", addr), nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(1 << 20)

	fmt.Fprintf(os.Stderr, "attached to %s — /mode, /delay, /step, /quit\n\n", addr)

	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()
	go func() {
		for {
			var frame struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := wsjson.Read(readCtx, conn, &frame); err != nil {
				if readCtx.Err() == nil {
					fmt.Fprintf(os.Stderr, "\nconnection lost: %v\n", err)
				}
				return
			}
			printEvent(frame.Type, frame.Data)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		frame := protocol.ControlFrame{}
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/step":
			frame.Type = protocol.FrameStep
		case strings.HasPrefix(line, "/mode "):
			frame.Type = protocol.FrameSetMode
			frame.Mode = strings.TrimSpace(strings.TrimPrefix(line, "/mode "))
		case strings.HasPrefix(line, "/delay "):
			frame.Type = protocol.FrameSetDelay
			frame.Delay = strings.TrimSpace(strings.TrimPrefix(line, "/delay "))
		default:
			frame.Type = protocol.FrameUserMessage
			frame.Content = line
		}

		if err := wsjson.Write(ctx, conn, frame); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
	}
	return scanner.Err()
}

// printEvent renders one broadcast frame as a single terminal line. Token
// and reasoning fragments stream inline; everything else gets a tagged line
// truncated to the display width.
func printEvent(typ string, data json.RawMessage) {
	switch typ {
	case protocol.EventToken:
		var p protocol.TokenPayload
		if json.Unmarshal(data, &p) == nil {
			fmt.Print(p.Text)
		}
	case protocol.EventReasoning:
		// Reasoning is noisy; show it dimmed on stderr.
		var p protocol.ReasoningPayload
		if json.Unmarshal(data, &p) == nil {
			fmt.Fprint(os.Stderr, p.Text)
		}
	case protocol.EventMessage:
		var p protocol.MessagePayload
		if json.Unmarshal(data, &p) == nil {
			if p.Source == "assistant" {
				fmt.Print("\n")
				return
			}
			printLine(fmt.Sprintf("[%s] %s", p.Source, p.Content))
		}
	case protocol.EventState:
		var p protocol.StatePayload
		if json.Unmarshal(data, &p) == nil {
			printLine(fmt.Sprintf("[state] mode=%s delay=%s", p.Mode, p.Delay))
		}
	case protocol.EventFSMState:
		var p protocol.FSMStatePayload
		if json.Unmarshal(data, &p) == nil {
			printLine(fmt.Sprintf("[fsm] %s turn=%d", p.State, p.TurnNumber))
		}
	case protocol.EventContextPressure:
		var p protocol.ContextPressurePayload
		if json.Unmarshal(data, &p) == nil {
			printLine(fmt.Sprintf("[pressure] %d/%d (%.0f%%) %s", p.Tokens, p.Max, p.Ratio*100, p.Level))
		}
	case protocol.EventNotable:
		var p protocol.NotablePayload
		if json.Unmarshal(data, &p) == nil {
			printLine(fmt.Sprintf("[notable] %s: %s", p.Label, p.Content))
		}
	}
}

func printLine(s string) {
	s = strings.ReplaceAll(s, "\n", " ")
	fmt.Println(runewidth.Truncate(s, attachLineWidth, "..."))
}
