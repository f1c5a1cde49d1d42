// Package scheduler runs stored prompts through the agent on cron schedules
// and delivers the answers over Discord.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/0324wy/yana/internal/agent"
	"github.com/0324wy/yana/internal/db"
)

const (
	reloadInterval = 5 * time.Minute

	// DeliveryNote names the note holding the Discord user to DM results to.
	DeliveryNote = "discord_user_id"

	defaultScheduleName   = "morning-checkin"
	defaultSchedulePrompt = "Give me a short morning check-in: today's date, anything in my notes that looks time-sensitive, and a suggested focus for the day."
)

// Runner executes one agent turn.
type Runner interface {
	RunOnce(ctx context.Context, key, input string, onEvent agent.Handler) (string, error)
}

// Store is the slice of the database the scheduler reads and writes.
type Store interface {
	ListSchedules(enabledOnly bool) ([]db.Schedule, error)
	CreateSchedule(name, cronExpr, prompt string) (int64, error)
	RecordScheduleRun(id int64) error
	GetNote(key string) (string, error)
}

// DMSender sends a direct message to a Discord user.
type DMSender func(userID, content string) error

type Scheduler struct {
	cron       *cron.Cron
	store      Store
	runner     Runner
	webhookURL string
	dmSend     DMSender
	http       *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	entryIDs map[int64]cron.EntryID // scheduleID -> cron entry
}

func New(store Store, runner Runner, webhookURL string, dmSend DMSender, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:       cron.New(),
		store:      store,
		runner:     runner,
		webhookURL: webhookURL,
		dmSend:     dmSend,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "scheduler"),
		ctx:        context.Background(),
		entryIDs:   make(map[int64]cron.EntryID),
	}
}

// Validate reports whether expr is a standard five-field cron expression or
// a descriptor such as @daily.
func Validate(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Run loads the enabled schedules and fires them until ctx is done,
// reloading periodically to pick up changes made from the CLI. Jobs still
// running when ctx ends are waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.Reload()
	s.cron.Start()
	s.logger.Info("scheduler started")

	t := time.NewTicker(reloadInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("scheduler stopped")
			return nil
		case <-t.C:
			s.Reload()
		}
	}
}

// SeedDefaultSchedule inserts a morning check-in if the schedules table is
// empty. An empty cronExpr disables seeding.
func (s *Scheduler) SeedDefaultSchedule(cronExpr string) error {
	if cronExpr == "" {
		return nil
	}
	if err := Validate(cronExpr); err != nil {
		return err
	}
	schedules, err := s.store.ListSchedules(false)
	if err != nil {
		return fmt.Errorf("checking schedules: %w", err)
	}
	if len(schedules) > 0 {
		return nil
	}
	if _, err := s.store.CreateSchedule(defaultScheduleName, cronExpr, defaultSchedulePrompt); err != nil {
		return fmt.Errorf("seeding default schedule: %w", err)
	}
	s.logger.Info("seeded default schedule", "cron", cronExpr)
	return nil
}

// Reload replaces all registered cron entries with the enabled schedules.
// It returns the number of schedules registered.
func (s *Scheduler) Reload() int {
	schedules, err := s.store.ListSchedules(true)
	if err != nil {
		s.logger.Error("loading schedules", "error", err)
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove all existing entries and re-register.
	for _, entryID := range s.entryIDs {
		s.cron.Remove(entryID)
	}
	s.entryIDs = make(map[int64]cron.EntryID)

	for _, sched := range schedules {
		entryID, err := s.cron.AddFunc(sched.CronExpr, func() {
			s.RunSchedule(s.context(), sched)
		})
		if err != nil {
			s.logger.Warn("invalid cron", "schedule", sched.Name, "cron", sched.CronExpr, "error", err)
			continue
		}
		s.entryIDs[sched.ID] = entryID
	}

	s.logger.Info("loaded schedules", "count", len(s.entryIDs))
	return len(s.entryIDs)
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// RunSchedule runs one schedule's prompt under the session key
// "schedule:<name>" and delivers the answer.
func (s *Scheduler) RunSchedule(ctx context.Context, sched db.Schedule) (string, error) {
	log := s.logger.With("schedule", sched.Name)

	reply, err := s.runner.RunOnce(ctx, "schedule:"+sched.Name, sched.Prompt, nil)
	if err != nil {
		log.Error("agent error", "error", err)
		return "", err
	}
	if err := s.store.RecordScheduleRun(sched.ID); err != nil {
		log.Warn("recording run", "error", err)
	}
	if reply == "" {
		log.Warn("empty reply, nothing delivered")
		return "", nil
	}
	s.deliver(ctx, log, reply)
	log.Info("completed")
	return reply, nil
}

func (s *Scheduler) deliver(ctx context.Context, log *slog.Logger, content string) {
	// Try DM first
	if s.dmSend != nil {
		userID, err := s.store.GetNote(DeliveryNote)
		if err == nil && userID != "" {
			if err := s.dmSend(userID, content); err != nil {
				log.Warn("DM send failed", "error", err)
			} else {
				return
			}
		}
	}
	// Fall back to webhook
	if s.webhookURL != "" {
		if err := s.postWebhook(ctx, content); err != nil {
			log.Warn("webhook failed", "error", err)
		}
		return
	}
	log.Warn("no delivery method available (no DM user and no webhook)")
}

func (s *Scheduler) postWebhook(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
