package autonomy

import (
	"context"
	"testing"
	"time"

	"github.com/cursorclaw/agentcore/internal/approval"
	"github.com/cursorclaw/agentcore/internal/capability"
	"github.com/cursorclaw/agentcore/internal/modeladapter"
	"github.com/cursorclaw/agentcore/internal/privacy"
	"github.com/cursorclaw/agentcore/internal/run"
	"github.com/cursorclaw/agentcore/internal/scheduler"
	"github.com/cursorclaw/agentcore/internal/tools"
	"github.com/cursorclaw/agentcore/internal/turn"
)

type countingProvider struct {
	calls int
}

func (p *countingProvider) Name() string         { return "counting" }
func (p *countingProvider) DefaultModel() string { return "test-model" }
func (p *countingProvider) Cancel(string) error  { return nil }
func (p *countingProvider) Close() error         { return nil }

func (p *countingProvider) SendTurn(req modeladapter.SendTurnRequest) (<-chan modeladapter.Event, error) {
	p.calls++
	out := make(chan modeladapter.Event, 2)
	out <- modeladapter.Event{Type: modeladapter.EventAssistantDelta, Delta: "ack"}
	out <- modeladapter.Event{Type: modeladapter.EventDone}
	close(out)
	return out, nil
}

func newTestTurnRuntime(t *testing.T, provider modeladapter.Provider) *turn.Runtime {
	t.Helper()
	dir := t.TempDir()
	reg := tools.NewRegistry()
	caps := capability.New(nil)
	appr := approval.New(caps, nil)
	router := tools.NewRouter(reg, caps, appr)
	return turn.New(turn.Config{
		Adapter:   modeladapter.New(provider),
		Router:    router,
		Scrubber:  privacy.New(false),
		Runs:      run.NewStore(dir + "/runs.json"),
		Lifecycle: run.NewLifecycleStream(),
	})
}

func testJobTurn(channel string) JobTurn {
	return JobTurn{
		Session: modeladapter.Session{ID: "sess-1", Model: "test-model"},
		Message: "check in",
		Channel: channel,
	}
}

func TestTriggerProactiveRunsTurnWhenBudgetAdmits(t *testing.T) {
	provider := &countingProvider{}
	rt := newTestTurnRuntime(t, provider)
	budget := scheduler.NewAutonomyBudget(10, 100, scheduler.QuietHours{})
	o := New(Config{Turn: rt, Budget: budget})

	if err := o.TriggerProactive(testJobTurn("dm:user1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("expected turn to run once, got %d calls", provider.calls)
	}
}

func TestTriggerProactiveDeniedByBudget(t *testing.T) {
	provider := &countingProvider{}
	rt := newTestTurnRuntime(t, provider)
	budget := scheduler.NewAutonomyBudget(1, 100, scheduler.QuietHours{})
	o := New(Config{Turn: rt, Budget: budget})

	jt := testJobTurn("dm:user1")
	if err := o.TriggerProactive(jt); err != nil {
		t.Fatalf("first call should be admitted: %v", err)
	}
	if err := o.TriggerProactive(jt); err == nil {
		t.Fatalf("expected second call within the same hour to be denied")
	}
	if provider.calls != 1 {
		t.Fatalf("expected only the admitted call to reach the turn runtime, got %d", provider.calls)
	}
}

func TestRegisterCronJobRunsBoundTurnWhenDue(t *testing.T) {
	provider := &countingProvider{}
	rt := newTestTurnRuntime(t, provider)
	cron := scheduler.NewCronService(4)
	o := New(Config{Turn: rt, Cron: cron})

	job := &scheduler.Job{ID: "job-1", Type: scheduler.JobEvery, Expression: "1ms"}
	if err := o.RegisterCronJob(job, testJobTurn("")); err != nil {
		t.Fatalf("register: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	cron.Tick(o.runCronJob)

	if provider.calls != 1 {
		t.Fatalf("expected cron tick to run the bound turn once, got %d calls", provider.calls)
	}
}

func TestRunCronJobErrorsWhenUnbound(t *testing.T) {
	rt := newTestTurnRuntime(t, &countingProvider{})
	cron := scheduler.NewCronService(1)
	o := New(Config{Turn: rt, Cron: cron})

	err := o.runCronJob(&scheduler.Job{ID: "unbound"})
	if err == nil {
		t.Fatalf("expected error for a job with no bound turn")
	}
}

func TestRunWorkflowDelegatesToWorkflowRuntime(t *testing.T) {
	dir := t.TempDir()
	ran := false
	wf := scheduler.NewWorkflowRuntime(dir, func(string, string) (bool, error) { return true, nil })
	o := New(Config{Workflows: wf})

	err := o.RunWorkflow("wf-1", "key-1", []scheduler.Step{
		{ID: "step-1", Run: func() error { ran = true; return nil }},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatalf("expected step to run")
	}
}

func TestStartAndStopHeartbeat(t *testing.T) {
	provider := &countingProvider{}
	rt := newTestTurnRuntime(t, provider)
	state := scheduler.NewHeartbeatState(5, 50, 0)
	beat := testJobTurn("")
	o := New(Config{Turn: rt, HeartbeatState: state, HeartbeatTurn: &beat})

	o.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	o.Stop()

	if provider.calls == 0 {
		t.Fatalf("expected at least one heartbeat-driven turn to run")
	}
}
