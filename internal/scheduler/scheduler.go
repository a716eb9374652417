// Package scheduler runs registered jobs on fixed intervals or at daily
// wall-clock times, one independent timer per job. A job whose previous run
// is still in progress when its next fire arrives is skipped for that fire.
// Stop drains in-flight runs before returning.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kibot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Workers        int
	DefaultTimeout time.Duration
	Timezone       string // IANA TZ, e.g. "Asia/Shanghai"
}

type runState struct {
	mu      sync.Mutex
	running bool
}

// tryClaim marks the job as running unless it already is. The claim spans
// queue wait plus execution, so a fire arriving while the previous task is
// still queued is skipped too.
func (st *runState) tryClaim() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running {
		return false
	}
	st.running = true
	return true
}

func (st *runState) clear() {
	st.mu.Lock()
	st.running = false
	st.mu.Unlock()
}

type task struct {
	id      string
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	state   *runState
}

type scheduleDef struct {
	id      string
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	state   *runState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	queue  chan task
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when
	// workers fully exit.
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to complete first
	// (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	// Fresh queue per run so a stop/start toggle cannot execute stale tasks.
	s.queue = make(chan task, 64)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for i := range s.defs {
		s.addCronLocked(&s.defs[i])
	}

	// Local captures prevent races if fields are swapped during Stop().
	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker",
						logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.c.Start()
	s.log.Info("service started",
		logx.Int("workers", workers), logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait for it.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	c := s.c
	s.c = nil
	s.mu.Unlock()

	// No new enqueues; workers finish the task they hold.
	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		// Release claims of tasks enqueued too late for any worker to run,
		// so the jobs are not stuck skipped after a restart.
		if s.queue != nil {
		drain:
			for {
				select {
				case t := <-s.queue:
					t.state.clear()
				default:
					break drain
				}
			}
		}
		if s.runCancel != nil {
			s.runCancel()
			s.runCancel = nil
		}
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		select {
		case <-stopCh:
			// Drain whatever is already queued, then exit. In-flight ticks
			// are never cancelled mid-write.
			select {
			case t := <-queue:
				s.execTask(ctx, t)
			default:
				return
			}
		case t := <-queue:
			s.execTask(ctx, t)
		}
	}
}

func (s *Service) execTask(ctx context.Context, t task) {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	// running was claimed at enqueue time; release it when the run ends.
	defer t.state.clear()

	err := t.run(runCtx)
	if err != nil {
		s.log.Warn("job failed",
			logx.String("job", t.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job finished",
		logx.String("job", t.name), logx.Duration("took", time.Since(start)))
}

func (s *Service) addCronLocked(d *scheduleDef) {
	eid, err := s.c.AddFunc(d.spec, func() {
		if !d.state.tryClaim() {
			s.log.Debug("job skipped (previous run still pending)", logx.String("job", d.name))
			return
		}

		s.mu.Lock()
		queue := s.queue
		s.mu.Unlock()
		if queue == nil {
			d.state.clear()
			return
		}
		select {
		case queue <- task{id: d.id, name: d.name, timeout: d.timeout, run: d.job, state: d.state}:
		default:
			d.state.clear()
			s.log.Warn("job dropped (queue full)", logx.String("job", d.name))
		}
	})
	if err != nil {
		s.log.Error("schedule register failed",
			logx.String("job", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = eid
	s.log.Debug("schedule registered",
		logx.String("job", d.name), logx.String("spec", d.spec), logx.Duration("timeout", d.timeout))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) resolveTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return s.cfg.DefaultTimeout
}

func nextID(prefix string) string {
	return fmt.Sprintf("%s:%d", prefix, time.Now().UnixNano())
}
