// Package main provides the Deskflow API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/deskflowhq/deskflow/pkg/actions"
	"github.com/deskflowhq/deskflow/pkg/conditions"
	"github.com/deskflowhq/deskflow/pkg/engine"
	"github.com/deskflowhq/deskflow/pkg/eventbus"
	"github.com/deskflowhq/deskflow/pkg/events"
	"github.com/deskflowhq/deskflow/pkg/otelhelper"
	"github.com/deskflowhq/deskflow/pkg/persistence"
	"github.com/deskflowhq/deskflow/pkg/protocol"
	"github.com/deskflowhq/deskflow/pkg/receivers/queue"
	"github.com/deskflowhq/deskflow/pkg/rules"
	"github.com/deskflowhq/deskflow/pkg/scheduler"
	"github.com/deskflowhq/deskflow/pkg/templates"
	"github.com/deskflowhq/deskflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate

	engine     *engine.Engine
	dispatcher *engine.Dispatcher
	rules      *rules.Service
	expander   *templates.Expander
	scheduler  *scheduler.Scheduler
	receiver   *queue.Receiver
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	executionTimeout time.Duration,
) *API {
	collaborators := protocol.Collaborators{
		Tickets:  newLoggingTicketStore(logger),
		Notifier: newLoggingNotificationSink(logger),
		Scripts:  newLoggingScriptRunner(logger),
	}

	evaluator := conditions.NewEvaluator(collaborators.Scripts, logger)
	executor := actions.NewExecutor(collaborators, logger)

	eng := engine.New(p, evaluator, executor, eventBus, logger, engine.Config{
		ExecutionTimeout: executionTimeout,
	})
	dispatcher := engine.NewDispatcher(eng, p, logger)
	ruleService := rules.NewService(p, logger)

	return &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		engine:      eng,
		dispatcher:  dispatcher,
		rules:       ruleService,
		expander:    templates.NewExpander(p, ruleService, logger),
		scheduler:   scheduler.New(dispatcher, p, logger),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.rules, a.dispatcher, a.engine, a.expander, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Deskflow API")
	})

	r := app.Group("/rules")
	r.Get("/", handlers.GetRules)
	r.Post("/", handlers.CreateRule)
	r.Get("/:id", handlers.GetRule)
	r.Patch("/:id", handlers.UpdateRule)
	r.Delete("/:id", handlers.DeleteRule)
	r.Post("/:id/activate", handlers.ActivateRule)
	r.Post("/:id/deactivate", handlers.DeactivateRule)
	r.Post("/:id/execute", handlers.ExecuteRule)

	e := app.Group("/executions")
	e.Get("/", handlers.GetExecutions)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	t := app.Group("/templates")
	t.Get("/", handlers.GetTemplates)
	t.Get("/:id", handlers.GetTemplate)
	t.Post("/:id/expand", handlers.ExpandTemplate)

	app.Post("/events", handlers.PublishEvent)
	app.Get("/metrics", handlers.GetMetrics)
	app.Get("/health", handlers.HealthCheck)

	return app
}

// StartTracing wires an OTLP exporter into the engine so every
// execution and action step is recorded as a span.
func (a *API) StartTracing(ctx context.Context) error {
	tracer, err := otelhelper.NewTracer(ctx, "deskflow-api")
	if err != nil {
		return err
	}

	a.engine.WithTracer(tracer)

	return nil
}

// StartEventLog subscribes to the lifecycle topic and logs every rule
// and execution event flowing through the bus.
func (a *API) StartEventLog(ctx context.Context) error {
	lifecycle := []events.EventType{
		events.RuleTriggeredEvent,
		events.ExecutionStartedEvent,
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionCancelledEvent,
		events.ExecutionTimeoutEvent,
	}

	for _, eventType := range lifecycle {
		if err := a.eventBus.Handle(eventType, a.logEvent); err != nil {
			return err
		}
	}

	return a.eventBus.Subscribe(ctx)
}

func (a *API) logEvent(ctx context.Context, event any) error {
	switch e := event.(type) {
	case *events.RuleTriggered:
		a.logger.InfoContext(ctx, "Rule triggered",
			"rule_id", e.RuleID, "triggered_by", e.TriggeredBy)
	case *events.ExecutionStarted:
		a.logger.InfoContext(ctx, "Execution started",
			"rule_id", e.RuleID, "execution_id", e.ExecutionID, "triggered_by", e.TriggeredBy)
	case *events.ExecutionFinished:
		a.logger.InfoContext(ctx, "Execution finished",
			"rule_id", e.RuleID, "execution_id", e.ExecutionID,
			"status", e.Status, "duration", e.Duration, "error", e.Error)
	}

	return nil
}

// StartScheduler primes schedules and begins polling for due rules.
func (a *API) StartScheduler(ctx context.Context) error {
	return a.scheduler.Start(ctx)
}

// StartQueueReceiver begins consuming domain events from a Redis list.
func (a *API) StartQueueReceiver(ctx context.Context, queueName, redisAddr string) error {
	receiver, err := queue.NewReceiver(queue.Config{
		Addr:  redisAddr,
		Queue: queueName,
	}, a.dispatcher, a.logger)
	if err != nil {
		return err
	}

	a.receiver = receiver

	return receiver.Start(ctx)
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
