package runner

import (
	"errors"
	"strings"
	"sync"
	"time"

	"llmtester/internal/state"
)

// Timer calls a function right away and then on every tick until stopped.
type Timer struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewTimer() *Timer {
	return &Timer{}
}

// Start replaces any running schedule. The swap happens under the lock, so
// every replaced schedule is halted by exactly one caller.
func (t *Timer) Start(interval time.Duration, fn func()) {
	stop := make(chan struct{})
	done := make(chan struct{})

	t.mu.Lock()
	prevStop, prevDone := t.stop, t.done
	t.stop, t.done = stop, done
	t.mu.Unlock()
	halt(prevStop, prevDone)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		fn()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop is a no-op when nothing runs. It returns whether a schedule was
// stopped.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()
	return halt(stop, done)
}

func halt(stop, done chan struct{}) bool {
	if stop == nil {
		return false
	}
	close(stop)
	<-done
	return true
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// StartTimer runs a test now and then every TimerInterval seconds. Ticks do
// not wait for the previous test to finish.
func (r *Runner) StartTimer() error {
	s := r.settings.Get()
	if strings.TrimSpace(s.APIKey) == "" {
		r.run.Dispatch(state.SetError(ErrMissingAPIKey.Error()))
		return ErrMissingAPIKey
	}
	if s.TimerInterval < 1 {
		return errors.New("timer interval must be at least one second")
	}
	interval := time.Duration(s.TimerInterval) * time.Second

	r.timer.Start(interval, func() {
		go func() {
			if _, err := r.RunTest(r.baseCtx); err != nil {
				r.logger.Warn().Err(err).Msg("timed test not started")
			}
		}()
	})
	r.run.Dispatch(state.SetTimerRunning(true))
	r.logger.Info().Dur("interval", interval).Msg("timer started")
	return nil
}

func (r *Runner) StopTimer() {
	if r.timer.Stop() {
		r.logger.Info().Msg("timer stopped")
	}
	if r.run.Get().IsTimerRunning {
		r.run.Dispatch(state.SetTimerRunning(false))
	}
}

// TimerRunning is used by the backend status view.
func (r *Runner) TimerRunning() bool {
	return r.timer.Running()
}
