package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// JobType selects how a CronJob's Expression is interpreted.
type JobType string

const (
	JobAt    JobType = "at"    // Expression is an epoch-ms timestamp, runs once
	JobEvery JobType = "every" // Expression is a duration token: Ns|Nm|Nh|Nd|Nms
	JobCron  JobType = "cron"  // Expression is a standard 5-field cron expression
)

// Job is one scheduled unit of work (spec §3's CronJob entity).
type Job struct {
	ID          string
	Type        JobType
	Expression  string
	Isolated    bool
	MaxRetries  int
	BackoffMs   int64
	NextRunAt   time.Time
	Retries     int
	Running     bool
}

var everyTokenRe = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)$`)

func parseEvery(expr string) (time.Duration, error) {
	m := everyTokenRe.FindStringSubmatch(expr)
	if m == nil {
		return 0, fmt.Errorf("scheduler: invalid every-expression %q", expr)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "ms":
		return time.Duration(n) * time.Millisecond, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("scheduler: unrecognized unit in %q", expr)
}

// CronService runs Jobs of all three types, with at-most-maxConcurrentRuns
// jobs running simultaneously and exponential backoff on failure.
type CronService struct {
	maxConcurrentRuns int
	gron              gronx.Gronx

	mu       sync.Mutex
	jobs     map[string]*Job
	running  int
}

func NewCronService(maxConcurrentRuns int) *CronService {
	if maxConcurrentRuns <= 0 {
		maxConcurrentRuns = 1
	}
	return &CronService{maxConcurrentRuns: maxConcurrentRuns, gron: gronx.New(), jobs: make(map[string]*Job)}
}

// AddJob registers a job and computes its first NextRunAt.
func (s *CronService) AddJob(j *Job) error {
	next, err := s.computeNext(j, time.Now())
	if err != nil {
		return err
	}
	j.NextRunAt = next
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return nil
}

func (s *CronService) computeNext(j *Job, from time.Time) (time.Time, error) {
	switch j.Type {
	case JobAt:
		ms, err := strconv.ParseInt(j.Expression, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid at-expression %q: %w", j.Expression, err)
		}
		return time.UnixMilli(ms), nil
	case JobEvery:
		d, err := parseEvery(j.Expression)
		if err != nil {
			return time.Time{}, err
		}
		return from.Add(d), nil
	case JobCron:
		next, err := gronx.NextTickAfter(j.Expression, from, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid cron expression %q: %w", j.Expression, err)
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("scheduler: unknown job type %q", j.Type)
	}
}

// Tick iterates every job: skips if running, not due, or the global
// concurrency cap is saturated; otherwise runs fn synchronously and applies
// the success/failure transition rules.
func (s *CronService) Tick(fn func(*Job) error) {
	s.tickAt(time.Now(), fn)
}

// tickAt is Tick with an injectable clock, split out so tests can drive
// "now" directly instead of sleeping real time.
func (s *CronService) tickAt(now time.Time, fn func(*Job) error) {
	s.mu.Lock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Running {
			continue
		}
		if j.NextRunAt.IsZero() || j.NextRunAt.After(now) {
			continue
		}
		if s.running >= s.maxConcurrentRuns {
			break
		}
		j.Running = true
		s.running++
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		err := fn(j)
		s.mu.Lock()
		j.Running = false
		s.running--
		if err == nil {
			j.Retries = 0
			j.NextRunAt = s.nextRunAtAfterSettle(j, now)
		} else {
			j.Retries++
			if j.Retries > j.MaxRetries {
				j.NextRunAt = s.nextRunAtAfterSettle(j, now)
				j.Retries = 0
			} else {
				backoff := time.Duration(j.BackoffMs) * time.Millisecond * time.Duration(pow2(j.Retries-1))
				j.NextRunAt = now.Add(backoff)
			}
		}
		s.mu.Unlock()
	}
}

// nextRunAtAfterSettle computes the next due time once a job has finished a
// run (either succeeded, or exhausted its retries). A JobAt job runs exactly
// once: its NextRunAt is left unset (zero) rather than recomputed from its
// fixed timestamp, which would otherwise make it due again on every tick.
func (s *CronService) nextRunAtAfterSettle(j *Job, now time.Time) time.Time {
	if j.Type == JobAt {
		return time.Time{}
	}
	next, err := s.computeNext(j, now)
	if err != nil {
		return time.Time{}
	}
	return next
}

func pow2(n int) int64 {
	if n < 0 {
		return 1
	}
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}

// Jobs returns a snapshot of all registered jobs.
func (s *CronService) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}
