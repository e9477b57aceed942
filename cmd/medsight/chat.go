package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
)

// runChat starts a line-oriented session on stdin.
func runChat(argv []string) error {
	args, err := parseArgs(argv)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(args.Config)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.startJanitor(ctx)

	sess, err := a.session(ctx, args.Session, args.User)
	if err != nil {
		return err
	}
	fmt.Printf("medsight chat, session %s\nType /help for commands.\n\n", sess.ID())
	return chatLoop(ctx, a, sess.ID(), os.Stdin, os.Stdout, newRenderer(os.Stdout, args.Plain))
}

const chatHelp = `/image PATH    attach an image
/record PATH   attach a text record
/clear         forget the conversation and attachments
/metrics       show agent metrics
/quit          leave`

// chatLoop reads queries and slash commands from in until EOF, /quit or
// ctx cancellation.
func chatLoop(ctx context.Context, a *app, sessionID string, in io.Reader, out io.Writer, r *renderer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cmd, arg, _ := strings.Cut(line, " ")
			arg = strings.TrimSpace(arg)
			switch cmd {
			case "/quit", "/exit":
				return nil
			case "/help":
				fmt.Fprintln(out, chatHelp)
			case "/image", "/record":
				if arg == "" {
					fmt.Fprintf(out, "usage: %s PATH\n", cmd)
					continue
				}
				var err error
				if cmd == "/image" {
					err = a.attach(ctx, sessionID, []string{arg}, nil)
				} else {
					err = a.attach(ctx, sessionID, nil, []string{arg})
				}
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				fmt.Fprintf(out, "attached %s\n", arg)
			case "/clear":
				sess, err := a.assistant.Sessions().Get(sessionID)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				sess.Clear()
				fmt.Fprintln(out, "conversation cleared")
			case "/metrics":
				printMetrics(out, a)
			default:
				fmt.Fprintf(out, "unknown command %s, try /help\n", cmd)
			}
			continue
		}

		res, err := a.assistant.Ask(ctx, sessionID, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		r.Result(res)
	}
}

func printMetrics(out io.Writer, a *app) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tREQUESTS\tSUCCESS\tAVG TIME\tAVG CONFIDENCE")
	for _, m := range a.assistant.Orchestrator().AgentMetrics() {
		fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%.2fs\t%.2f\n",
			m.AgentName, m.TotalRequests, m.SuccessRate*100, m.AverageProcessingTime, m.AverageConfidence)
	}
	w.Flush()
}
