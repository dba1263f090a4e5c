// Package scheduler runs the periodic cycles: broadcast fan-out on one cron
// spec, the email digest on another. A cycle that is still running when its
// next tick fires is skipped, never stacked.
package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ensnotify/pkg/logx"
)

type Config struct {
	Enabled       bool
	BroadcastSpec string
	DigestSpec    string
	Timezone      string // IANA TZ, e.g. "Europe/Berlin"
}

type jobDef struct {
	name string
	spec string
	run  func(ctx context.Context) error

	mu      sync.Mutex
	running bool
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	parser cron.Parser

	jobs []*jobDef

	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Register adds a named job. Must be called before Start.
func (s *Service) Register(name, spec string, run func(ctx context.Context) error) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &jobDef{name: name, spec: spec, run: run})
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for _, j := range s.jobs {
		job := j
		if _, err := s.c.AddFunc(job.spec, func() {
			s.runJob(runCtx, job)
		}); err != nil {
			s.c = nil
			s.runCancel()
			return err
		}
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("jobs", len(s.jobs)), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) runJob(ctx context.Context, j *jobDef) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		s.log.Warn("previous run still active, tick skipped", logx.String("job", j.name))
		return
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job",
				logx.String("job", j.name), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.log.Warn("scheduled job failed",
			logx.String("job", j.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("scheduled job finished",
		logx.String("job", j.name), logx.Duration("took", time.Since(start)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	if cancel != nil {
		cancel()
	}
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}
