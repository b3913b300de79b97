// Package digest sends the statistics summary to a configured chat on a
// cron schedule.
package digest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gatebot/internal/stats"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string // standard 5-field cron expression
	ChatID   int64
}

type Service struct {
	adapter kit.Adapter
	src     stats.Source
	log     logx.Logger

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
	cfg   Config
}

func New(adapter kit.Adapter, src stats.Source, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		adapter: adapter,
		src:     src,
		log:     log,
		cron:    cron.New(),
	}
}

func (s *Service) Start() {
	s.cron.Start()
}

func (s *Service) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn("digest stop timed out waiting for running job")
	}
}

// Apply installs or replaces the schedule. Safe to call on config reload.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	s.cfg = cfg
	if !cfg.Enabled {
		return nil
	}

	id, err := s.cron.AddFunc(cfg.Schedule, s.send)
	if err != nil {
		return fmt.Errorf("digest schedule %q: %w", cfg.Schedule, err)
	}
	s.entry = id
	s.log.Info("digest scheduled", logx.String("schedule", cfg.Schedule), logx.Int64("chat_id", cfg.ChatID))
	return nil
}

func (s *Service) send() {
	s.mu.Lock()
	chatID := s.cfg.ChatID
	s.mu.Unlock()
	if chatID == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := stats.Collect(ctx, s.src)
	if err != nil {
		s.log.Warn("digest collect failed", logx.Err(err))
		return
	}
	opt := &kit.SendOptions{ParseMode: "HTML"}
	if _, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, stats.Render(summary), opt); err != nil {
		s.log.Warn("digest send failed", logx.Err(err))
	}
}
