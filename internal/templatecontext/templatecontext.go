// Copyright Project Contour Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package templatecontext maintains a set of independently-scheduled
// "context" values (feature flags, datacenter maps, anything a template
// wants beyond the proxy's own request) and hands the current snapshot to
// the render pipeline. Each task refreshes itself on its own cron or
// fixed-interval schedule; a single min-heap drives the next-due task
// regardless of how many are registered.
package templatecontext

import (
	"container/heap"
	"context"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/sovereignproject/sovereign/internal/eventbus"
	"github.com/sovereignproject/sovereign/internal/loadable"
)

// Status reports the outcome of a task's most recent refresh.
type Status string

const (
	StatusReady   Status = "ready"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Result is the current value and state of one registered context task.
type Result struct {
	Name string
	Data any
	State Status
}

// checksum is a cheap content hash used to detect whether a refresh actually
// changed anything, mirroring the Python implementation's use of the
// result's hash to decide whether to fire a change notification at all.
func checksum(v any) uint32 {
	return crc32.ChecksumIEEE([]byte(fmt.Sprintf("%#v", v)))
}

// RetryPolicy controls how many times, and how far apart, a task retries a
// failed load before giving up and reporting StatusFailed.
type RetryPolicy struct {
	NumRetries int
	Interval   time.Duration
}

// Interval is either a fixed period or a cron expression; exactly one of
// Seconds or Cron is set.
type Interval struct {
	Seconds time.Duration
	Cron    cron.Schedule
	cronExpr string
}

// ParseInterval accepts either a plain integer (seconds) or a five-field cron
// expression, matching the legacy config's `TaskInterval.from_str`.
func ParseInterval(s string) (Interval, error) {
	if n, ok := parseSeconds(s); ok {
		return Interval{Seconds: time.Duration(n) * time.Second}, nil
	}
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return Interval{}, fmt.Errorf("templatecontext: invalid interval %q: %w", s, err)
	}
	return Interval{Cron: sched, cronExpr: s}, nil
}

func parseSeconds(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// secondsTilNextRun mirrors ContextTask.seconds_til_next_run: for a cron
// interval it asks the schedule for the next firing relative to now; for a
// fixed interval it's just the interval itself.
func (iv Interval) secondsTilNextRun(now time.Time) time.Duration {
	if iv.Cron != nil {
		next := iv.Cron.Next(now)
		d := next.Sub(now)
		if d <= 0 {
			return time.Second
		}
		return d
	}
	if iv.Seconds <= 0 {
		return time.Second
	}
	return iv.Seconds
}

// Task is one named context source: a Loadable that produces the value, on
// its own Interval, with its own optional RetryPolicy.
type Task struct {
	Name     string
	Spec     loadable.Loadable
	Interval Interval
	Retry    *RetryPolicy
}

func (t Task) retryBudget(defaults RetryPolicy) (attempts int, interval time.Duration) {
	if t.Retry != nil {
		return 1 + t.Retry.NumRetries, t.Retry.Interval
	}
	return 1 + defaults.NumRetries, defaults.Interval
}

// load runs t.Spec.Load, retrying per its (or the scheduler's default)
// RetryPolicy, and returns the Result regardless of outcome -- a
// Load that exhausts its retries still reports StatusFailed with the last
// error as Data, it is never dropped silently.
func (t Task) load(defaults RetryPolicy) Result {
	attemptsRemaining, interval := t.retryBudget(defaults)

	var data any = ""
	state := StatusPending
	for attemptsRemaining > 0 {
		v, err := t.Spec.Load()
		if err == nil {
			data, state = v, StatusReady
			break
		}
		data, state = err.Error(), StatusFailed
		attemptsRemaining--
		if attemptsRemaining > 0 && interval > 0 {
			time.Sleep(interval)
		}
	}
	return Result{Name: t.Name, Data: data, State: state}
}

// scheduled is one entry in the min-heap: a task plus the monotonic time it
// is next due to run.
type scheduled struct {
	task Task
	due  time.Time
	index int
}

type taskHeap []*scheduled

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *taskHeap) Push(x any) {
	s := x.(*scheduled)
	s.index = len(*h)
	*h = append(*h, s)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}

// Scheduler owns the set of registered tasks, the current result snapshot
// per task, and a debounced eventbus.ContextChanged publisher so bursts of
// near-simultaneous task refreshes collapse into one worker wake-up.
type Scheduler struct {
	mu      sync.RWMutex
	tasks   map[string]Task
	results map[string]Result
	hashes  map[string]uint32
	running map[string]bool

	heap taskHeap

	defaults RetryPolicy
	bus      *eventbus.Bus
	log      logrus.FieldLogger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration
}

// Config configures a Scheduler.
type Config struct {
	DefaultRetry  RetryPolicy
	Bus           *eventbus.Bus
	Log           logrus.FieldLogger
	DebounceDelay time.Duration // defaults to 3s, matching the reference implementation
}

// New returns an empty Scheduler ready to accept RegisterTask calls.
func New(cfg Config) *Scheduler {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 3 * time.Second
	}
	return &Scheduler{
		tasks:         map[string]Task{},
		results:       map[string]Result{},
		hashes:        map[string]uint32{},
		running:       map[string]bool{},
		defaults:      cfg.DefaultRetry,
		bus:           cfg.Bus,
		log:           cfg.Log,
		debounceDelay: cfg.DebounceDelay,
	}
}

// RegisterTask adds a task and schedules its first run for "now".
func (s *Scheduler) RegisterTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.Name] = t
	heap.Push(&s.heap, &scheduled{task: t, due: time.Now()})
}

// Get returns the current data for a registered context task, or def if the
// task has never completed a successful run.
func (s *Scheduler) Get(name string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[name]
	if !ok || r.State != StatusReady {
		return def
	}
	return r.Data
}

// Snapshot returns name -> data for every task with a result, regardless of
// its state, matching get_context's "whatever we have" semantics.
func (s *Scheduler) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.results))
	for name, r := range s.results {
		out[name] = r.Data
	}
	return out
}

// Results returns a copy of every task's full Result, for diagnostics
// endpoints.
func (s *Scheduler) Results() map[string]Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Result, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// RunOnce runs every registered task exactly once, synchronously, in
// ascending due order. Used at startup so the first render has a populated
// context instead of racing the scheduler loop.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.RLock()
	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	for _, t := range tasks {
		s.runTask(t)
	}
}

// runTask loads t, stores the Result, and -- only if the content actually
// changed -- schedules a debounced publish of eventbus.ContextChanged.
func (s *Scheduler) runTask(t Task) {
	s.mu.Lock()
	if s.running[t.Name] {
		s.mu.Unlock()
		return
	}
	s.running[t.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, t.Name)
		s.mu.Unlock()
	}()

	result := t.load(s.defaults)

	s.mu.Lock()
	s.results[t.Name] = result
	old, had := s.hashes[t.Name]
	newHash := checksum(result.Data)
	changed := !had || old != newHash
	s.hashes[t.Name] = newHash
	s.mu.Unlock()

	if changed {
		s.log.WithFields(logrus.Fields{"context": t.Name, "state": result.State}).Debug("context task updated")
		s.scheduleDebouncedPublish()
	}
}

// scheduleDebouncedPublish resets a single timer every time it's called:
// a burst of simultaneous task updates produces exactly one publish, fired
// debounceDelay after the last one in the burst.
func (s *Scheduler) scheduleDebouncedPublish() {
	if s.bus == nil {
		return
	}
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounceDelay, func() {
		s.bus.Publish(eventbus.ContextChanged)
	})
}

// Run drives the scheduler loop until ctx is cancelled: pop the next due
// task, sleep until it's due, fire it off, and reschedule it relative to its
// own interval. Each task's load runs in its own goroutine so a slow task
// never delays any other task's due time.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	empty := s.heap.Len() == 0
	s.mu.Unlock()
	if empty {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		s.mu.Lock()
		if s.heap.Len() == 0 {
			s.mu.Unlock()
			<-ctx.Done()
			return ctx.Err()
		}
		next := heap.Pop(&s.heap).(*scheduled)
		s.mu.Unlock()

		delay := time.Until(next.due)
		if delay < 0 {
			delay = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		next.due = time.Now().Add(next.task.Interval.secondsTilNextRun(time.Now()))
		s.mu.Lock()
		heap.Push(&s.heap, next)
		s.mu.Unlock()

		go s.runTask(next.task)
	}
}
