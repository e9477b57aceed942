package main

import (
	"context"
	"os/signal"
	"syscall"

	"medsight/internal/adapter/httpapi"
	"medsight/internal/usecase"
)

// runServe runs the HTTP API until SIGINT or SIGTERM.
func runServe(argv []string) error {
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

	srv := httpapi.NewServer(cfg.Server, httpapi.Deps{
		Assistant: a.assistant,
		Loader:    a.loader,
		Retrieval: usecase.NewConversationRetrieval(),
		Logger:    a.log,
	})
	return srv.Start(ctx)
}
