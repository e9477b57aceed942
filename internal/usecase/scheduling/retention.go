package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SessionReaper drops stale in-memory sessions.
type SessionReaper interface {
	CleanupOldSessions(maxAge time.Duration) int
}

// ConversationCleaner removes stored conversations past their retention.
type ConversationCleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// AuditRetainer trims the audit log to its retention policy.
type AuditRetainer interface {
	EnforceRetention(ctx context.Context) (int, error)
}

// RetentionDeps are the targets of the retention janitor. Nil targets are
// skipped.
type RetentionDeps struct {
	Sessions        SessionReaper
	SessionMaxAge   time.Duration
	Conversations   ConversationCleaner
	ConversationTTL time.Duration
	Audit           AuditRetainer
	Logger          *slog.Logger
}

// RegisterRetention registers the retention actions whose targets are set
// and returns the actions it registered.
func RegisterRetention(s *Scheduler, deps RetentionDeps) []Action {
	logger := deps.Logger
	if logger == nil {
		logger = s.logger
	}

	var registered []Action
	if deps.Sessions != nil {
		s.RegisterAction(ActionSessionReap, func(context.Context) error {
			n := deps.Sessions.CleanupOldSessions(deps.SessionMaxAge)
			logger.Info("stale sessions reaped", "count", n)
			return nil
		})
		registered = append(registered, ActionSessionReap)
	}
	if deps.Conversations != nil {
		s.RegisterAction(ActionConversationCleanup, func(ctx context.Context) error {
			n, err := deps.Conversations.Cleanup(ctx, deps.ConversationTTL)
			if err != nil {
				return err
			}
			logger.Info("stored conversations removed", "count", n)
			return nil
		})
		registered = append(registered, ActionConversationCleanup)
	}
	if deps.Audit != nil {
		s.RegisterAction(ActionAuditRetention, func(ctx context.Context) error {
			n, err := deps.Audit.EnforceRetention(ctx)
			if err != nil {
				return err
			}
			logger.Info("audit entries expired", "count", n)
			return nil
		})
		registered = append(registered, ActionAuditRetention)
	}
	return registered
}

// ScheduleRetention registers the retention actions and adds one task per
// action on schedule.
func ScheduleRetention(s *Scheduler, schedule string, deps RetentionDeps) error {
	var errs []error
	for _, a := range RegisterRetention(s, deps) {
		if err := s.AddTask(Task{Name: "janitor." + string(a), Schedule: schedule, Action: a}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunRetention runs every registered retention action once and joins their
// errors.
func RunRetention(ctx context.Context, s *Scheduler) error {
	var errs []error
	for _, a := range s.Actions() {
		if err := s.RunNow(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
