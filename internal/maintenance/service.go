// Package maintenance runs cron-driven housekeeping: timestamped snapshot
// backups and a report of destinations that stopped receiving distributions.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"berealbot/internal/registry"
	logx "berealbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// Schedule is a standard 5-field cron expression.
	Schedule     string
	SnapshotPath string // empty disables backups (e.g. sqlite driver)
	BackupDir    string
	Keep         int
	StaleAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = "0 4 * * *"
	}
	if c.BackupDir == "" && c.SnapshotPath != "" {
		c.BackupDir = filepath.Join(filepath.Dir(c.SnapshotPath), "backups")
	}
	if c.Keep <= 0 {
		c.Keep = 14
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 14 * 24 * time.Hour
	}
	return c
}

type Service struct {
	cfg  Config
	reg  *registry.Registry
	log  logx.Logger
	cron *cron.Cron
	now  func() time.Time
}

func New(cfg Config, reg *registry.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), reg: reg, log: log, now: time.Now}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("maintenance schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("maintenance scheduled", logx.String("schedule", s.cfg.Schedule))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.cron = nil
}

// RunOnce executes one maintenance pass (also invoked directly by tests).
func (s *Service) RunOnce(ctx context.Context) {
	_ = ctx
	if err := s.backupSnapshot(); err != nil {
		s.log.Warn("snapshot backup failed", logx.Err(err))
	}
	s.reportStale()
}

func (s *Service) backupSnapshot() error {
	if s.cfg.SnapshotPath == "" {
		return nil
	}
	b, err := os.ReadFile(s.cfg.SnapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(s.cfg.BackupDir, 0o755); err != nil {
		return err
	}

	name := fmt.Sprintf("snapshot-%s.json", s.now().Format("20060102-150405"))
	dst := filepath.Join(s.cfg.BackupDir, name)
	if err := os.WriteFile(dst, b, 0o600); err != nil {
		return err
	}
	s.log.Info("snapshot backed up", logx.String("path", dst))

	return s.pruneBackups()
}

func (s *Service) pruneBackups() error {
	entries, err := os.ReadDir(s.cfg.BackupDir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "snapshot-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.cfg.Keep {
		return nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, n := range names[:len(names)-s.cfg.Keep] {
		if err := os.Remove(filepath.Join(s.cfg.BackupDir, n)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) reportStale() {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	for _, d := range s.reg.Destinations() {
		last := d.LastActivity
		if last.IsZero() {
			last = d.AddedAt
		}
		if last.Before(cutoff) {
			s.log.Warn("destination inactive",
				logx.Int64("destination", d.ID),
				logx.Time("last_activity", d.LastActivity),
				logx.Time("added_at", d.AddedAt))
		}
	}
}
