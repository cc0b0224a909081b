// Adaptive tick throttling.
// Each tick only a random subset of live agents gets a full decision
// step; the subset size follows a moving average of how much of its
// quota the previous ticks managed to finish within budget.
package engine

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/horde/internal/agents"
	"github.com/talgya/horde/internal/entropy"
)

// Budget is the host's timing for one tick.
type Budget struct {
	HostElapsed time.Duration // Already spent by the host this tick
	TargetTick  time.Duration // Nominal tick duration at speed 1
	Multiplier  float64       // Tick-rate multiplier; <= 0 is treated as 1
}

// Remaining returns the time left for agent updates.
func (b Budget) Remaining() time.Duration {
	mult := b.Multiplier
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(float64(b.TargetTick)/mult) - b.HostElapsed
}

// SchedulerConfig tunes the controller.
type SchedulerConfig struct {
	UpdateCost   time.Duration // Nominal cost of one agent update
	MinPercent   float64       // Floor for the ticking fraction
	RecoveryStep float64       // Boost applied after a nearly filled quota
	Slack        float64       // Shortfall still counted as nearly filled
	Workers      int           // 1 = sequential
}

// DefaultSchedulerConfig returns the tuning used by the simulation.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		UpdateCost:   5 * time.Microsecond,
		MinPercent:   0.05,
		RecoveryStep: 0.1,
		Slack:        0.05,
		Workers:      1,
	}
}

// sampleCount is the length of the percent-ticking ring buffer.
const sampleCount = 8

// TickStats describes one scheduler run.
type TickStats struct {
	Eligible   int           `json:"eligible"`
	MaxUpdates int           `json:"max_updates"`
	Quota      int           `json:"quota"`
	Completed  int           `json:"completed"`
	Panics     int           `json:"panics"`
	Percent    float64       `json:"percent_ticking"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// StepFunc runs one agent's decision step. rng belongs to the calling
// worker for the duration of the call.
type StepFunc func(a *agents.Agent, rng *rand.Rand)

// Scheduler owns the rolling statistics. Run must only be called from
// one goroutine at a time; Percent and Last may be read from others.
type Scheduler struct {
	cfg   SchedulerConfig
	clock func() time.Time
	rng   *rand.Rand
	rngs  []*rand.Rand

	samples [sampleCount]float64
	next    int

	percent atomic.Uint64 // float64 bits
	last    atomic.Pointer[TickStats]

	order []int
	batch []*agents.Agent
}

// NewScheduler creates a scheduler starting at 100%. clock may be nil
// for time.Now.
func NewScheduler(cfg SchedulerConfig, seed int64, clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	s := &Scheduler{
		cfg:   cfg,
		clock: clock,
		rng:   rand.New(rand.NewSource(seed + 500)),
		rngs:  entropy.Streams(seed+600, cfg.Workers),
	}
	s.SetPercent(1)
	s.last.Store(&TickStats{Percent: 1})
	return s
}

// Config returns the controller tuning.
func (s *Scheduler) Config() SchedulerConfig {
	return s.cfg
}

// SetWorkers changes the worker pool size for later runs.
func (s *Scheduler) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	if n == s.cfg.Workers {
		return
	}
	s.cfg.Workers = n
	s.rngs = entropy.Streams(s.rng.Int63(), n)
}

// Percent returns the current ticking fraction.
func (s *Scheduler) Percent() float64 {
	return math.Float64frombits(s.percent.Load())
}

// SetPercent fills the sample ring with p, clamped to [MinPercent, 1].
func (s *Scheduler) SetPercent(p float64) {
	p = clampPercent(p, s.cfg.MinPercent)
	for i := range s.samples {
		s.samples[i] = p
	}
	s.percent.Store(math.Float64bits(p))
}

// Last returns the statistics of the most recent run.
func (s *Scheduler) Last() TickStats {
	return *s.last.Load()
}

// Run selects this tick's subset of live agents and steps them until
// done or out of budget, then feeds the outcome back into the ticking
// fraction. A panicking step marks its agent MustDie and is counted but
// does not stop the rest of the batch.
func (s *Scheduler) Run(all []*agents.Agent, b Budget, step StepFunc) TickStats {
	start := s.clock()
	remaining := b.Remaining()

	s.order = s.order[:0]
	for i, a := range all {
		if a.Active() {
			s.order = append(s.order, i)
		}
	}
	st := TickStats{Eligible: len(s.order)}

	if remaining > 0 && s.cfg.UpdateCost > 0 {
		st.MaxUpdates = min(int(remaining/s.cfg.UpdateCost), st.Eligible)
	}
	p := s.Percent()
	if st.MaxUpdates > 0 {
		st.Quota = max(1, int(float64(st.MaxUpdates)*p))
	}

	// Partial Fisher-Yates: the first Quota entries become a uniform
	// random subset.
	n := len(s.order)
	for i := 0; i < st.Quota; i++ {
		j := i + s.rng.Intn(n-i)
		s.order[i], s.order[j] = s.order[j], s.order[i]
	}
	s.batch = s.batch[:0]
	for _, i := range s.order[:st.Quota] {
		s.batch = append(s.batch, all[i])
	}

	st.Completed, st.Panics = s.execute(s.batch, start.Add(remaining), step)

	if st.Eligible > 0 {
		s.record(st)
	}
	st.Percent = s.Percent()
	st.Elapsed = s.clock().Sub(start)
	s.last.Store(&st)
	return st
}

func (s *Scheduler) record(st TickStats) {
	var sample float64
	switch {
	case st.MaxUpdates == 0 || st.Quota == 0:
		sample = 0
	case float64(st.Completed) >= float64(st.Quota)*(1-s.cfg.Slack):
		sample = min(1, s.Percent()+s.cfg.RecoveryStep)
	default:
		sample = float64(st.Completed) / float64(st.Quota)
	}
	s.samples[s.next] = sample
	s.next = (s.next + 1) % sampleCount

	sum := 0.0
	for _, v := range s.samples {
		sum += v
	}
	s.percent.Store(math.Float64bits(clampPercent(sum/sampleCount, s.cfg.MinPercent)))
}

// execute runs the batch until the deadline. Workers claim items by
// atomically decrementing a shared index over the batch array.
func (s *Scheduler) execute(batch []*agents.Agent, deadline time.Time, step StepFunc) (completed, panics int) {
	workers := min(s.cfg.Workers, len(batch))
	if workers <= 1 {
		for _, a := range batch {
			if !s.clock().Before(deadline) {
				break
			}
			if !s.runOne(a, s.rngs[0], step) {
				panics++
			}
			completed++
		}
		return completed, panics
	}

	var (
		next   atomic.Int64
		done   atomic.Int64
		failed atomic.Int64
		wg     sync.WaitGroup
	)
	next.Store(int64(len(batch)))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(rng *rand.Rand) {
			defer wg.Done()
			for s.clock().Before(deadline) {
				i := next.Add(-1)
				if i < 0 {
					return
				}
				if !s.runOne(batch[i], rng, step) {
					failed.Add(1)
				}
				done.Add(1)
			}
		}(s.rngs[w])
	}
	wg.Wait()
	return int(done.Load()), int(failed.Load())
}

func (s *Scheduler) runOne(a *agents.Agent, rng *rand.Rand, step StepFunc) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent step panicked", "agent", a.ID, "state", agents.StateName(a.State), "panic", r)
			a.State = agents.StateMustDie
			ok = false
		}
	}()
	step(a, rng)
	return true
}

func clampPercent(p, lo float64) float64 {
	switch {
	case p > 1:
		return 1
	case p < lo:
		return lo
	}
	return p
}
