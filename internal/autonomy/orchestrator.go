// Package autonomy implements AutonomyOrchestrator (spec §4.8): it ticks the
// heartbeat, cron, and workflow loops from internal/scheduler and drives them
// into TurnRuntime, gating any non-scheduled activity through
// AutonomyBudget. Grounded on the teacher's cmd/gateway.go top-level wiring
// and cmd/gateway_cron.go's cron-lane dispatch — narrowed to scheduler +
// turn runtime only, since channel delivery is out of scope here.
package autonomy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cursorclaw/agentcore/internal/modeladapter"
	"github.com/cursorclaw/agentcore/internal/scheduler"
	"github.com/cursorclaw/agentcore/internal/turn"
)

const defaultCronTickInterval = time.Second

// JobTurn binds a scheduled unit of work to the turn it should run: which
// session/profile to run it under, what message seeds the turn, and which
// budget channel (if any) gates it.
type JobTurn struct {
	Session   modeladapter.Session
	ProfileID string
	Message   string
	// Channel, if non-empty, is checked against AutonomyBudget by
	// TriggerProactive before the turn runs. Scheduled cron runs and
	// heartbeat beats never consult the budget, whatever Channel holds,
	// the same way HeartbeatRunner's own ticks bypass it.
	Channel string
}

// Config wires an Orchestrator's collaborators. Heartbeat, Cron, and
// Workflows are each optional; a nil one simply disables that loop.
type Config struct {
	Turn *turn.Runtime

	HeartbeatState *scheduler.HeartbeatState
	HeartbeatTurn  *JobTurn

	Cron             *scheduler.CronService
	CronTickInterval time.Duration

	Budget    *scheduler.AutonomyBudget
	Workflows *scheduler.WorkflowRuntime
}

// Orchestrator is the spec's top-level autonomy loop.
type Orchestrator struct {
	turn *turn.Runtime

	heartbeat *scheduler.HeartbeatRunner

	cron             *scheduler.CronService
	cronTickInterval time.Duration

	budget    *scheduler.AutonomyBudget
	workflows *scheduler.WorkflowRuntime

	mu       sync.Mutex
	jobTurns map[string]JobTurn

	stopCh chan struct{}
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		turn:             cfg.Turn,
		cron:             cfg.Cron,
		cronTickInterval: cfg.CronTickInterval,
		budget:           cfg.Budget,
		workflows:        cfg.Workflows,
		jobTurns:         make(map[string]JobTurn),
	}
	if o.cronTickInterval <= 0 {
		o.cronTickInterval = defaultCronTickInterval
	}
	if cfg.HeartbeatState != nil && cfg.HeartbeatTurn != nil {
		beat := *cfg.HeartbeatTurn
		o.heartbeat = scheduler.NewHeartbeatRunner(cfg.HeartbeatState, func() {
			o.runTurn(beat)
		})
	}
	return o
}

// RegisterCronJob adds job to the underlying CronService and records which
// turn to run when it comes due.
func (o *Orchestrator) RegisterCronJob(job *scheduler.Job, jt JobTurn) error {
	if o.cron == nil {
		return fmt.Errorf("autonomy: no cron service configured")
	}
	if err := o.cron.AddJob(job); err != nil {
		return err
	}
	o.mu.Lock()
	o.jobTurns[job.ID] = jt
	o.mu.Unlock()
	return nil
}

// Start begins the heartbeat runner (if configured) and a goroutine that
// ticks the cron service at Config.CronTickInterval until ctx is done or
// Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.heartbeat != nil {
		o.heartbeat.Start()
	}
	o.stopCh = make(chan struct{})
	if o.cron != nil {
		go o.runCronLoop(ctx)
	}
}

// Stop halts the heartbeat and cron loops. Safe to call even if Start was
// never called.
func (o *Orchestrator) Stop() {
	if o.heartbeat != nil {
		o.heartbeat.Stop()
	}
	if o.stopCh != nil {
		close(o.stopCh)
		o.stopCh = nil
	}
}

func (o *Orchestrator) runCronLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cronTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.cron.Tick(o.runCronJob)
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) runCronJob(job *scheduler.Job) error {
	o.mu.Lock()
	jt, ok := o.jobTurns[job.ID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("autonomy: no turn bound to cron job %s", job.ID)
	}
	return o.runTurn(jt)
}

// TriggerProactive runs jt immediately, outside the heartbeat/cron
// schedules, after checking it against AutonomyBudget. Use for ad hoc
// proactive activity (e.g. an event-driven nudge) that isn't itself the
// regular heartbeat tick or a registered cron job.
func (o *Orchestrator) TriggerProactive(jt JobTurn) error {
	if jt.Channel != "" && o.budget != nil && !o.budget.Admit(jt.Channel) {
		return fmt.Errorf("autonomy: proactive turn on channel %s denied by budget", jt.Channel)
	}
	return o.runTurn(jt)
}

func (o *Orchestrator) runTurn(jt JobTurn) error {
	if o.turn == nil {
		return fmt.Errorf("autonomy: no turn runtime configured")
	}
	_, err := o.turn.RunTurn(context.Background(), turn.Input{
		Session:   jt.Session,
		Messages:  []modeladapter.Message{{Role: modeladapter.RoleUser, Content: jt.Message}},
		ProfileID: jt.ProfileID,
	})
	return err
}

// RunWorkflow delegates to the configured WorkflowRuntime.
func (o *Orchestrator) RunWorkflow(workflowID, idempotencyKey string, steps []scheduler.Step) error {
	if o.workflows == nil {
		return fmt.Errorf("autonomy: no workflow runtime configured")
	}
	return o.workflows.Run(workflowID, idempotencyKey, steps)
}
