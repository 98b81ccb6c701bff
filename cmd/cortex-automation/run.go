package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/cmd"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/config"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/dedupe"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/engine"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/executor"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/log"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/otelhelper"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/scheduler"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/services"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/web"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v3"
)

const defaultPort = 9091

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the automation engine and its HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL (file://dir or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers for the kafka event bus",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for shared rate limiting and dedupe; in memory when empty",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "workflows-file",
				Usage:   "YAML or JSON workflow definitions imported at start",
				Sources: cli.EnvVars("WORKFLOWS_FILE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.DurationFlag{
				Name:    "default-step-timeout",
				Usage:   "Timeout of a single action attempt",
				Value:   executor.DefaultStepTimeout,
				Sources: cli.EnvVars("DEFAULT_STEP_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "max-retry-delay",
				Usage:   "Upper bound of the backoff between attempts",
				Value:   executor.DefaultMaxRetryDelay,
				Sources: cli.EnvVars("MAX_RETRY_DELAY"),
			},
			&cli.DurationFlag{
				Name:    "dedupe-window",
				Usage:   "Window in which repeated dedupe keys are rejected",
				Value:   dedupe.DefaultWindow,
				Sources: cli.EnvVars("DEDUPE_WINDOW"),
			},
			&cli.StringFlag{
				Name:    "recovery",
				Usage:   "What to do with runs interrupted by a restart (fail, resume)",
				Value:   string(scheduler.RecoveryFail),
				Sources: cli.EnvVars("RECOVERY_POLICY"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent-runs",
				Usage:   "Runs executing at once across all workflows; 0 is unlimited",
				Value:   0,
				Sources: cli.EnvVars("MAX_CONCURRENT_RUNS"),
			},
			&cli.DurationFlag{
				Name:    "shutdown-timeout",
				Usage:   "How long in-flight runs may finish on shutdown",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("SHUTDOWN_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "otel-endpoint",
				Usage:   "OTLP/HTTP endpoint for traces; tracing is off when empty",
				Sources: cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("cortex-automation")
			logger.InfoContext(ctx, "Initializing automation engine")

			recovery, err := scheduler.ParseRecoveryPolicy(command.String("recovery"))
			if err != nil {
				return err
			}

			clock := clockwork.NewRealClock()

			tracer := otelhelper.NoopTracer()

			if endpoint := command.String("otel-endpoint"); endpoint != "" {
				t, shutdown, err := otelhelper.NewTracer(ctx, "cortex-automation", endpoint)
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				tracer = t

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			persistence, db, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), brokers(command.String("kafka-brokers")), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			limiter, dedupeStore, closeStores, err := cmd.NewAdmissionStores(ctx, command.String("redis-url"), clock)
			if err != nil {
				return err
			}

			defer func() {
				if err := closeStores(); err != nil {
					logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger, db, clock)

			automation := engine.New(engine.Dependencies{
				Persistence: persistence,
				Registry:    registry,
				Limiter:     limiter,
				Dedupe:      dedupeStore,
				Bus:         eventBus,
				Tracer:      tracer,
				Clock:       clock,
				Logger:      logger,
			}, engine.Options{
				Scheduler: scheduler.Options{
					DedupeWindow:      command.Duration("dedupe-window"),
					MaxConcurrentRuns: int(command.Int("max-concurrent-runs")),
					Recovery:          recovery,
				},
				Executor: executor.Options{
					StepTimeout:   command.Duration("default-step-timeout"),
					MaxRetryDelay: command.Duration("max-retry-delay"),
				},
			})

			workflowService := services.NewWorkflow(persistence, clock)

			if path := command.String("workflows-file"); path != "" {
				workflows, err := config.LoadWorkflows(path)
				if err != nil {
					return err
				}

				count, err := workflowService.Import(ctx, workflows)
				if err != nil {
					return fmt.Errorf("failed to import workflows: %w", err)
				}

				logger.InfoContext(ctx, "Imported workflows", "path", path, "count", count)
			}

			workflowService.OnChange(automation.OnWorkflowChange)

			handlers := web.NewAPIHandlers(
				workflowService,
				services.NewRun(persistence),
				automation,
				models.NewValidator(),
				registry,
				clock,
			)

			server := NewServer(automation, web.NewApp(handlers), logger, command.Duration("shutdown-timeout"))

			return server.Run(ctx, int(command.Int("port")))
		},
	}
}

func brokers(list string) []string {
	var out []string

	for _, broker := range strings.Split(list, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}

	return out
}
