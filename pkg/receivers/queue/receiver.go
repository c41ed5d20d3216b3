// Package queue consumes domain events from a Redis list and feeds
// them to the trigger dispatcher.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/deskflowhq/deskflow/pkg/engine"
	redis "github.com/redis/go-redis/v9"
)

// envelope is the wire format pushed onto the list by the help-desk
// application: the event name plus the context handed to matching
// rules.
type envelope struct {
	Event   string         `json:"event"`
	Context map[string]any `json:"context"`
}

type Config struct {
	Addr     string
	Password string
	DB       string
	Queue    string
}

type Receiver struct {
	config     Config
	dispatcher *engine.Dispatcher
	client     redis.UniversalClient
	logger     *slog.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewReceiver(config Config, dispatcher *engine.Dispatcher, logger *slog.Logger) (*Receiver, error) {
	if config.Queue == "" {
		return nil, errors.New("queue receiver requires a queue name")
	}

	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}

	return &Receiver{
		config:     config,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "queue_receiver",
			"queue", config.Queue,
		),
	}, nil
}

func (r *Receiver) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Starting queue receiver")

	if err := r.initializeClient(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	r.wg.Add(1)

	go r.consume(ctx)

	return nil
}

func (r *Receiver) initializeClient(ctx context.Context) error {
	db := 0

	if r.config.DB != "" {
		parsed, err := strconv.Atoi(r.config.DB)
		if err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}

		db = parsed
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:     r.config.Addr,
		Password: r.config.Password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.InfoContext(ctx, "Connected to Redis", "addr", r.config.Addr, "db", db)

	return nil
}

func (r *Receiver) consume(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			r.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			if err := r.processMessage(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (r *Receiver) processMessage(ctx context.Context) error {
	result, err := r.client.BLPop(ctx, 1*time.Second, r.config.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]

	var env envelope
	if err := json.Unmarshal([]byte(message), &env); err != nil {
		return fmt.Errorf("malformed message dropped: %w", err)
	}

	if env.Event == "" {
		return errors.New("message without an event name dropped")
	}

	if env.Context == nil {
		env.Context = make(map[string]any)
	}

	r.logger.InfoContext(ctx, "Received event from queue", "event", env.Event)

	executions, err := r.dispatcher.OnEvent(ctx, env.Event, env.Context)
	if err != nil {
		return fmt.Errorf("failed to dispatch event %q: %w", env.Event, err)
	}

	r.logger.InfoContext(ctx, "Event dispatched", "event", env.Event, "executions", len(executions))

	return nil
}

func (r *Receiver) Stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Stopping queue receiver")

	close(r.stopCh)
	r.wg.Wait()

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
