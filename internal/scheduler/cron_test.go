package scheduler

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestEveryJobRunsAndReschedules(t *testing.T) {
	s := NewCronService(1)
	j := &Job{ID: "j1", Type: JobEvery, Expression: "10ms", MaxRetries: 2, BackoffMs: 1}
	if err := s.AddJob(j); err != nil {
		t.Fatalf("add job failed: %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	ran := 0
	s.Tick(func(job *Job) error {
		ran++
		return nil
	})
	if ran != 1 {
		t.Fatalf("expected job to run once when due, got %d", ran)
	}

	jobs := s.Jobs()
	if jobs[0].Retries != 0 {
		t.Fatalf("expected retries cleared on success")
	}
	if !jobs[0].NextRunAt.After(time.Now()) {
		t.Fatalf("expected next run rescheduled into the future")
	}
}

func TestFailureAppliesExponentialBackoff(t *testing.T) {
	s := NewCronService(1)
	j := &Job{ID: "j1", Type: JobEvery, Expression: "1ms", MaxRetries: 5, BackoffMs: 100}
	if err := s.AddJob(j); err != nil {
		t.Fatalf("add job failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	s.Tick(func(job *Job) error { return errors.New("boom") })
	jobs := s.Jobs()
	if jobs[0].Retries != 1 {
		t.Fatalf("expected retries incremented to 1, got %d", jobs[0].Retries)
	}
	firstBackoff := jobs[0].NextRunAt

	// Force due again and fail a second time; backoff should double.
	s2 := NewCronService(1)
	j2 := &Job{ID: "j1", Type: JobEvery, Expression: "1ms", MaxRetries: 5, BackoffMs: 100, Retries: 1, NextRunAt: time.Now().Add(-time.Second)}
	s2.jobs[j2.ID] = j2
	s2.Tick(func(job *Job) error { return errors.New("boom again") })
	jobs2 := s2.Jobs()
	if jobs2[0].Retries != 2 {
		t.Fatalf("expected retries incremented to 2, got %d", jobs2[0].Retries)
	}
	secondDelay := time.Until(jobs2[0].NextRunAt)
	firstDelay := time.Until(firstBackoff)
	if secondDelay <= firstDelay/2 {
		t.Fatalf("expected second backoff roughly double the first: first=%v second=%v", firstDelay, secondDelay)
	}
}

func TestRetriesResetAfterExceedingMax(t *testing.T) {
	s := NewCronService(1)
	j := &Job{ID: "j1", Type: JobEvery, Expression: "1ms", MaxRetries: 1, BackoffMs: 1, Retries: 1, NextRunAt: time.Now().Add(-time.Second)}
	s.jobs[j.ID] = j

	s.Tick(func(job *Job) error { return errors.New("boom") })
	jobs := s.Jobs()
	if jobs[0].Retries != 0 {
		t.Fatalf("expected retries reset to 0 after exceeding maxRetries, got %d", jobs[0].Retries)
	}
}

func TestAtJobRunsExactlyOnce(t *testing.T) {
	s := NewCronService(1)
	now := time.Now()
	j := &Job{ID: "j1", Type: JobAt, Expression: strconv.FormatInt(now.Add(10*time.Second).UnixMilli(), 10)}
	if err := s.AddJob(j); err != nil {
		t.Fatalf("add job failed: %v", err)
	}

	ran := 0
	// tick(now+1000ms): not yet due.
	s.tickAt(now.Add(1*time.Second), func(job *Job) error { ran++; return nil })
	if ran != 0 {
		t.Fatalf("expected 0 runs before the at-time, got %d", ran)
	}

	// tick(now+10000ms): due, runs once.
	s.tickAt(now.Add(10*time.Second), func(job *Job) error { ran++; return nil })
	if ran != 1 {
		t.Fatalf("expected exactly 1 run at the at-time, got %d", ran)
	}

	jobs := s.Jobs()
	if !jobs[0].NextRunAt.IsZero() {
		t.Fatalf("expected nextRunAt to be unset after a successful at-job run, got %v", jobs[0].NextRunAt)
	}

	// tick(now+70000ms): still runs 0 more.
	s.tickAt(now.Add(70*time.Second), func(job *Job) error { ran++; return nil })
	if ran != 1 {
		t.Fatalf("expected the at-job to never run again, got %d total runs", ran)
	}
}

func TestConcurrencyCapLimitsSimultaneousRuns(t *testing.T) {
	s := NewCronService(1)
	j1 := &Job{ID: "a", Type: JobEvery, Expression: "1ms", NextRunAt: time.Now().Add(-time.Second)}
	j2 := &Job{ID: "b", Type: JobEvery, Expression: "1ms", NextRunAt: time.Now().Add(-time.Second)}
	s.jobs[j1.ID] = j1
	s.jobs[j2.ID] = j2

	started := 0
	s.Tick(func(job *Job) error {
		started++
		return nil
	})
	if started != 1 {
		t.Fatalf("expected concurrency cap of 1 to admit only one job per tick, got %d", started)
	}
}
