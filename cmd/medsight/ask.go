package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// runAsk answers one question, optionally over attached files or a stored
// session, and prints the session id so the conversation can be resumed.
func runAsk(argv []string) error {
	args, err := parseArgs(argv)
	if err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(args.Positional, " "))
	if query == "" {
		return fmt.Errorf("usage: medsight ask [--image PATH] [--record PATH] [--session ID] \"question\"")
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

	sess, err := a.session(ctx, args.Session, args.User)
	if err != nil {
		return err
	}
	if err := a.attach(ctx, sess.ID(), args.Images, args.Records); err != nil {
		return err
	}

	res, err := a.assistant.Ask(ctx, sess.ID(), query)
	if err != nil {
		return err
	}
	newRenderer(os.Stdout, args.Plain).Result(res)
	fmt.Fprintf(os.Stderr, "session: %s\n", sess.ID())
	return nil
}
