package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cursorclaw/agentcore/internal/autonomy"
	"github.com/cursorclaw/agentcore/internal/config"
	"github.com/cursorclaw/agentcore/internal/modeladapter"
	"github.com/cursorclaw/agentcore/internal/run"
	"github.com/cursorclaw/agentcore/internal/scheduler"
	"github.com/cursorclaw/agentcore/internal/sessions"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the autonomy loop (heartbeat + cron) and the status stream",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	w, err := buildRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error wiring runtime: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.Tracer.Shutdown(shutdownCtx)
	}()

	heartbeatState := scheduler.NewHeartbeatState(
		cfg.Scheduler.HeartbeatMinMS,
		cfg.Scheduler.HeartbeatMaxMS,
		time.Duration(cfg.Scheduler.HeartbeatInactiveMin)*time.Minute,
	)
	cron := scheduler.NewCronService(cfg.Scheduler.MaxConcurrentCron)
	budget := scheduler.NewAutonomyBudget(cfg.Scheduler.BudgetMaxPerHour, cfg.Scheduler.BudgetMaxPerDay, scheduler.QuietHours{
		Enabled:      cfg.Scheduler.QuietHours.Enabled,
		StartHourUTC: cfg.Scheduler.QuietHours.StartHourUTC,
		EndHourUTC:   cfg.Scheduler.QuietHours.EndHourUTC,
	})
	workflows := scheduler.NewWorkflowRuntime(config.ExpandHome(cfg.Scheduler.WorkflowStateDir), nil)

	heartbeatSession := modeladapter.Session{ID: sessions.BuildSessionKey("default", "heartbeat", sessions.PeerDirect, "loop"), ChannelKind: "heartbeat", Model: cfg.Adapter.DefaultModel}

	orch := autonomy.New(autonomy.Config{
		Turn:           w.Runtime,
		HeartbeatState: heartbeatState,
		HeartbeatTurn: &autonomy.JobTurn{
			Session:   heartbeatSession,
			ProfileID: "default",
			Message:   "heartbeat",
		},
		Cron:             cron,
		CronTickInterval: time.Duration(cfg.Scheduler.CronTickIntervalMS) * time.Millisecond,
		Budget:           budget,
		Workflows:        workflows,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	defer orch.Stop()

	watchStop := make(chan struct{})
	defer close(watchStop)
	if cfgPath != "" {
		go func() {
			if err := config.Watch(cfgPath, watchStop, func(fresh *config.Config) {
				budget.UpdateLimits(fresh.Scheduler.BudgetMaxPerHour, fresh.Scheduler.BudgetMaxPerDay)
				fmt.Fprintf(os.Stderr, "config reloaded from %s\n", cfgPath)
			}); err != nil {
				fmt.Fprintf(os.Stderr, "config watch error: %v\n", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/status", run.NewStreamHandler(w.Lifecycle))
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Control.Host, cfg.Control.Port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "status stream server error: %v\n", err)
		}
	}()

	fmt.Printf("agentcore serving, status stream on ws://%s/status\n", server.Addr)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
