package main

import (
	"context"
	"fmt"
	"log/slog"

	"medsight/internal/adapter/document"
	"medsight/internal/domain"
	"medsight/internal/infra/config"
	"medsight/internal/infra/logger"
	"medsight/internal/infra/tracer"
	"medsight/internal/usecase"
	"medsight/internal/usecase/scheduling"
)

// app is the fully wired runtime shared by the subcommands.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	security  *SecurityComponents
	store     domain.SessionStore
	loader    *document.Loader
	assistant *usecase.Assistant
	scheduler *scheduling.Scheduler

	cleanups []func()
}

// loadConfig loads the config at path. A missing file yields the defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newApp wires logger, tracer, security, the conversation store, model
// providers, agents and the retention janitor. Close releases everything.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a, err := newBaseApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.initAssistant(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newBaseApp wires only what the offline commands need: logger, tracer,
// security and the conversation store.
func newBaseApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	// 1. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger, cfg.Guardrails.InputValidation.PIIPatterns)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.cleanups = append(a.cleanups, func() { logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.cleanups = append(a.cleanups, func() { tracerShutdown(context.Background()) })

	// 2. Security (guardrails, audit, encryption)
	sec, secCleanup, err := initSecurity(cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("security: %w", err)
	}
	a.security = sec
	a.cleanups = append(a.cleanups, secCleanup)

	// 3. Conversation store
	var enc domain.ContentEncryptor
	if sec.Encryptor != nil {
		enc = sec.Encryptor
	}
	st, err := initStore(cfg.Store, enc, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	a.store = st
	a.cleanups = append(a.cleanups, func() { st.Close() })

	a.scheduler = scheduling.NewScheduler(log)
	return a, nil
}

// initAssistant adds the model providers, agents and assistant, and
// registers the retention janitor.
func (a *app) initAssistant() error {
	cfg, log := a.cfg, a.log

	models, err := initLLM(cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	orch, err := initOrchestrator(cfg, models, a.security, log)
	if err != nil {
		return err
	}

	sessions := usecase.NewSessionManager(a.store, log)
	a.assistant = usecase.NewAssistant(sessions, orch, usecase.NewContextManager(cfg.Session.ContextWindow), true, log)
	a.loader = document.NewLoader(cfg.Agents.ImageAnalyzer.MaxDimension, cfg.Server.MaxUploadBytes, log)

	if cfg.Janitor.Enabled {
		if err := scheduling.ScheduleRetention(a.scheduler, cfg.Janitor.Schedule, a.retentionDeps()); err != nil {
			return fmt.Errorf("janitor: %w", err)
		}
	}

	log.Info("medsight ready",
		"store", cfg.Store.Backend,
		"encryption", a.security.Encryptor != nil,
		"audit", a.security.FileAuditLogger != nil,
		"reflexion", cfg.Agents.Orchestrator.EnableReflexion,
	)
	return nil
}

// retentionDeps returns the janitor targets. In-memory sessions are only
// reaped when the assistant is wired.
func (a *app) retentionDeps() scheduling.RetentionDeps {
	deps := scheduling.RetentionDeps{
		SessionMaxAge:   a.cfg.Session.MaxAge,
		Conversations:   a.store,
		ConversationTTL: a.cfg.Store.Retention,
		Logger:          a.log,
	}
	if a.assistant != nil {
		deps.Sessions = a.assistant.Sessions()
	}
	if a.security.FileAuditLogger != nil {
		deps.Audit = a.security.FileAuditLogger
	}
	return deps
}

// startJanitor runs the retention schedule until ctx is done.
func (a *app) startJanitor(ctx context.Context) {
	if !a.cfg.Janitor.Enabled {
		return
	}
	a.scheduler.Start(ctx)
	a.cleanups = append(a.cleanups, func() { a.scheduler.Stop() })
}

// Close runs the cleanups in reverse order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

// session returns the stored session id or a new one for user.
func (a *app) session(ctx context.Context, id, user string) (*usecase.Session, error) {
	if id == "" {
		return a.assistant.Sessions().Create(user), nil
	}
	return a.assistant.Sessions().GetOrRestore(ctx, id)
}

// attach loads the files at the given paths into session id.
func (a *app) attach(ctx context.Context, id string, images, records []string) error {
	for _, p := range images {
		img, err := a.loader.LoadImageFile(p)
		if err != nil {
			return fmt.Errorf("image %s: %w", p, err)
		}
		if err := a.assistant.AttachImage(ctx, id, img); err != nil {
			return err
		}
	}
	for _, p := range records {
		rec, err := a.loader.LoadRecordFile(p)
		if err != nil {
			return fmt.Errorf("record %s: %w", p, err)
		}
		if err := a.assistant.AttachRecord(ctx, id, rec); err != nil {
			return err
		}
	}
	return nil
}
