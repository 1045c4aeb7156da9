package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reviewpix/reviewpix/internal/apierr"
	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/reviewpix/reviewpix/internal/sources"
	"github.com/reviewpix/reviewpix/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	staggerStep     = 5 * time.Second
	minPollInterval = 15 * time.Minute
	maxPollInterval = 2 * time.Hour
	pruneSpec       = "0 15 3 * * *"
	digestSpec      = "0 30 7 * * *"
)

// Processor feeds fetched reviews into the fan-out pipeline.
type Processor interface {
	Process(ctx context.Context, reviews []models.Review) models.ProcessResult
}

// PollResult summarises one poll of one source.
type PollResult struct {
	Source  string `json:"source"`
	Skipped bool   `json:"skipped,omitempty"`
	Fetched int    `json:"fetched"`
	models.ProcessResult
}

// SourceState is the per-adapter view exposed on the status endpoint.
type SourceState struct {
	Enabled             bool      `json:"enabled"`
	Polling             bool      `json:"polling"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastPollTime        time.Time `json:"last_poll_time,omitempty"`
}

type sourceState struct {
	timer    *time.Timer
	polling  bool
	failures int
}

// Scheduler drives periodic polling of every enabled adapter with
// staggered starts, exponential backoff on failures, and a per-source
// single-flight lock shared with the manual poll endpoints. Fixed-time
// maintenance (store pruning, the email digest) runs on a cron.
type Scheduler struct {
	cfg      *config.Config
	store    *store.Store
	registry map[string]sources.Source
	pipeline Processor
	digest   func() error // nil when the digest is not configured

	mu      sync.Mutex
	states  map[string]*sourceState
	started bool
	cron    *cron.Cron
}

// New creates a scheduler over the given adapter registry.
func New(cfg *config.Config, st *store.Store, registry map[string]sources.Source, pipeline Processor, digest func() error) *Scheduler {
	states := make(map[string]*sourceState, len(registry))
	for name := range registry {
		states[name] = &sourceState{}
	}
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		registry: registry,
		pipeline: pipeline,
		digest:   digest,
		states:   states,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start schedules the first poll of each enabled adapter k*5s apart and
// registers the maintenance cron jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	k := 0
	for name, src := range s.registry {
		if !src.IsEnabled() || src.GetName() == "generic" {
			continue
		}
		delay := time.Duration(k) * staggerStep
		k++
		s.scheduleLocked(name, delay)
		logrus.Infof("Scheduled %s polling, first run in %v, interval %v", name, delay, s.baseInterval(name))
	}

	if _, err := s.cron.AddFunc(pruneSpec, s.runPrune); err != nil {
		return err
	}
	if s.digest != nil {
		if _, err := s.cron.AddFunc(digestSpec, s.runDigest); err != nil {
			return err
		}
	}
	s.cron.Start()

	logrus.Infof("Scheduler started with %d polling sources", k)
	return nil
}

// Stop cancels every timer and the cron, then flushes the store.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.started = false
	for _, state := range s.states {
		if state.timer != nil {
			state.timer.Stop()
			state.timer = nil
		}
	}
	s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}
	if err := s.store.Flush(); err != nil {
		logrus.Errorf("Store flush on scheduler stop failed: %v", err)
	}
	logrus.Info("Scheduler stopped")
}

// scheduleLocked arms the source's timer for one fire after delay.
func (s *Scheduler) scheduleLocked(name string, delay time.Duration) {
	state := s.states[name]
	state.timer = time.AfterFunc(delay, func() {
		if _, err := s.PollOnce(context.Background(), name); err != nil {
			logrus.Errorf("Scheduled poll of %s failed: %v", name, err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.started {
			return
		}
		s.scheduleLocked(name, s.nextInterval(name))
	})
}

// baseInterval is the adapter's configured interval raised to the
// global interval and the 15-minute floor.
func (s *Scheduler) baseInterval(name string) time.Duration {
	base := time.Duration(s.cfg.Ingestion.PollIntervalMinutes) * time.Minute
	if srcCfg, ok := s.cfg.Ingestion.Sources[name]; ok && srcCfg.PollIntervalMinutes > 0 {
		if adapter := time.Duration(srcCfg.PollIntervalMinutes) * time.Minute; adapter > base {
			base = adapter
		}
	}
	if base < minPollInterval {
		base = minPollInterval
	}
	return base
}

// nextInterval doubles the base per consecutive failure, capped at 2h.
// Callers hold s.mu.
func (s *Scheduler) nextInterval(name string) time.Duration {
	interval := s.baseInterval(name)
	for i := 0; i < s.states[name].failures; i++ {
		interval *= 2
		if interval >= maxPollInterval {
			return maxPollInterval
		}
	}
	return interval
}

// PollOnce polls one source immediately. Respects the single-flight
// lock: a poll already in progress returns Skipped without side-effects.
func (s *Scheduler) PollOnce(ctx context.Context, name string) (PollResult, error) {
	src, ok := s.registry[name]
	if !ok || !src.IsEnabled() {
		return PollResult{}, apierr.NotFound(fmt.Sprintf("unknown or disabled source %q", name))
	}

	s.mu.Lock()
	state := s.states[name]
	if state.polling {
		s.mu.Unlock()
		logrus.Debugf("Poll of %s skipped - already in progress", name)
		return PollResult{Source: name, Skipped: true}, nil
	}
	state.polling = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		state.polling = false
		s.mu.Unlock()
	}()

	cursor := s.store.GetCursor(name)
	logrus.Infof("Polling %s (cursor %q)", name, cursor)

	reviews, newCursor, err := src.Fetch(ctx, cursor)
	if err != nil {
		s.mu.Lock()
		state.failures++
		failures := state.failures
		s.mu.Unlock()
		logrus.Errorf("Poll of %s failed (%d consecutive): %v", name, failures, err)
		return PollResult{Source: name}, err
	}

	if newCursor != cursor {
		s.store.SetCursor(name, newCursor)
	}
	s.store.SetLastPollTime(name)

	result := PollResult{Source: name, Fetched: len(reviews)}
	if len(reviews) > 0 {
		result.ProcessResult = s.pipeline.Process(ctx, reviews)
	}

	s.mu.Lock()
	state.failures = 0
	s.mu.Unlock()

	logrus.Infof("Poll of %s done: %d fetched, %d new, %d duplicates",
		name, result.Fetched, result.New, result.Duplicates)
	return result, nil
}

// PollAll polls every enabled pollable source and returns the results
// keyed by source name.
func (s *Scheduler) PollAll(ctx context.Context) map[string]PollResult {
	results := make(map[string]PollResult)
	for name, src := range s.registry {
		if !src.IsEnabled() || src.GetName() == "generic" {
			continue
		}
		result, err := s.PollOnce(ctx, name)
		if err != nil {
			result = PollResult{Source: name}
		}
		results[name] = result
	}
	return results
}

// States returns the per-adapter status view.
func (s *Scheduler) States() map[string]SourceState {
	lastPolls := s.store.Stats().LastPollTimes

	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]SourceState, len(s.registry))
	for name, src := range s.registry {
		state := s.states[name]
		states[name] = SourceState{
			Enabled:             src.IsEnabled(),
			Polling:             state.polling,
			ConsecutiveFailures: state.failures,
			LastPollTime:        lastPolls[name],
		}
	}
	return states
}

func (s *Scheduler) runPrune() {
	days := s.cfg.Ingestion.RetentionDays
	removed := s.store.Prune(days)
	logrus.Infof("Nightly prune removed %d reviews older than %d days", removed, days)
}

func (s *Scheduler) runDigest() {
	logrus.Info("Sending daily review digest")
	if err := s.digest(); err != nil {
		logrus.Errorf("Daily digest failed: %v", err)
	}
}
