package scheduling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// taskTimeout bounds a single run of a scheduled action.
const taskTimeout = 5 * time.Minute

// Action identifies a kind of scheduled housekeeping.
type Action string

const (
	ActionSessionReap         Action = "session_reap"
	ActionConversationCleanup Action = "conversation_cleanup"
	ActionAuditRetention      Action = "audit_retention"
)

// Task is a recurring run of one action.
type Task struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *", descriptor "@hourly" or duration "30m"
	Action   Action
}

// Scheduler runs registered actions on cron expressions or fixed intervals.
type Scheduler struct {
	cron    *cron.Cron
	actions map[Action]func(ctx context.Context) error
	entries map[string]cron.EntryID // task name → entry
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. A nil logger discards output.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[Action]func(ctx context.Context) error),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// RegisterAction registers the handler for an action.
func (s *Scheduler) RegisterAction(action Action, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// Actions returns the registered action names, sorted.
func (s *Scheduler) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Action, 0, len(s.actions))
	for a := range s.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddTask schedules task. The action must already be registered and the
// task name must be unique.
func (s *Scheduler) AddTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	if _, exists := s.entries[task.Name]; exists {
		return fmt.Errorf("scheduler: task %q already exists", task.Name)
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	taskName := task.Name
	logger := s.logger
	s.entries[taskName] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil {
			logger.Debug("scheduler stopped, skipping task", "task", taskName)
			return
		}
		s.run(ctx, taskName, fn)
	}))

	logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// RunNow runs the handler for action once, synchronously, outside the
// schedule.
func (s *Scheduler) RunNow(ctx context.Context, action Action) error {
	s.mu.Lock()
	fn, ok := s.actions[action]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q", action)
	}
	return s.run(ctx, string(action), fn)
}

func (s *Scheduler) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	err := fn(taskCtx)
	if err != nil {
		s.logger.Warn("scheduled task failed",
			"task", name,
			"error", err,
			"duration", time.Since(start))
	} else {
		s.logger.Info("scheduled task completed",
			"task", name,
			"duration", time.Since(start))
	}
	return err
}

// NextRun returns the next run time of the named task, or nil when the task
// is unknown or the scheduler has not started.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	// Running jobs take s.mu to read the context, so wait without holding it.
	<-s.cron.Stop().Done()
	return nil
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// ParseSchedule exposes schedule parsing for config validation and callers.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return parseSchedule(schedule)
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
