package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	requestsQueue   = "plan_requests"
	updatesExchange = "plan_updates"
)

// retry retries a function up to `attempts` times with linear backoff,
// giving up early when ctx is done.
func retry[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		wait := time.Duration(500*(i+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("after %d attempts: %w", i+1, lastErr)
		case <-time.After(wait):
		}
	}
	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// JobQueue hands plan jobs to the worker pool.
type JobQueue interface {
	Enqueue(ctx context.Context, job PlanJob) error
}

// UpdatePublisher announces plan status changes.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, update PlanUpdate) error
}

type RabbitQueue struct {
	conn *amqp.Connection
}

func NewRabbitQueue(conn *amqp.Connection) *RabbitQueue {
	return &RabbitQueue{conn: conn}
}

// declareTopology makes sure the request queue and update exchange exist.
func declareTopology(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		requestsQueue, // queue name
		true,          // durable (survives broker restarts)
		false,         // auto-delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	err = ch.ExchangeDeclare(
		updatesExchange, // name
		"topic",         // kind
		true,            // durable
		false,           // auto-delete
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

func (q *RabbitQueue) Enqueue(_ context.Context, job PlanJob) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("error connecting to rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return ch.Publish(
		"",            // default exchange
		requestsQueue, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    job.EnqueuedAt,
			Body:         body,
		},
	)
}

func (q *RabbitQueue) PublishUpdate(_ context.Context, update PlanUpdate) error {
	return publishPlanUpdate(q.conn, update)
}

type noopPublisher struct{}

func (noopPublisher) PublishUpdate(context.Context, PlanUpdate) error { return nil }

type WorkerConfig struct {
	Planner    *Planner
	Store      PlanStore
	Archive    Archive
	RabbitConn *amqp.Connection
	Updates    UpdatePublisher
	Logger     *zap.Logger
	// Location is used to parse job deadlines.
	Location *time.Location
}

// processJob fetches the archived syllabus (if any) and runs the planner
// against the already-created plan.
func (workerConfig *WorkerConfig) processJob(ctx context.Context, job PlanJob) error {
	deadline, err := ParseDeadline(job.Deadline, workerConfig.Location)
	if err != nil {
		return err
	}
	req := PlanRequest{
		ID:           job.PlanID,
		Subject:      job.Subject,
		Deadline:     deadline,
		SyllabusName: job.SyllabusName,
		SyllabusMime: job.SyllabusMime,
		SyllabusKey:  job.SyllabusKey,
	}

	if job.SyllabusKey != "" {
		if workerConfig.Archive == nil {
			return errors.New("job references an archived syllabus but no archive is configured")
		}
		data, err := workerConfig.Archive.Fetch(ctx, job.SyllabusKey)
		if err != nil {
			// The plan still goes ahead on the fallback prompt.
			workerConfig.Logger.Warn("failed to download syllabus",
				zap.String("plan_id", job.PlanID.String()),
				zap.String("key", job.SyllabusKey),
				zap.Error(err))
		} else {
			req.Syllabus = data
		}
	}

	_, err = workerConfig.Planner.Generate(ctx, req)
	return err
}

func (workerConfig *WorkerConfig) publish(ctx context.Context, job PlanJob, status PlanStatus, message string) {
	err := workerConfig.Updates.PublishUpdate(ctx, PlanUpdate{
		PlanID:    job.PlanID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		workerConfig.Logger.Warn("failed to publish update", zap.String("plan_id", job.PlanID.String()), zap.Error(err))
	}
}

func (workerConfig *WorkerConfig) handleDelivery(ctx context.Context, id int, msg amqp.Delivery) {
	log := workerConfig.Logger.With(zap.Int("worker", id+1))

	job := PlanJob{}
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		log.Error("error unmarshalling message body", zap.Error(err))
		if err := msg.Ack(false); err != nil {
			log.Warn("failed to ack message", zap.Error(err))
		}
		return
	}
	log = log.With(zap.String("plan_id", job.PlanID.String()))
	log.Info("processing plan job")

	workerConfig.publish(ctx, job, StatusProcessing, "plan generation started")

	err := workerConfig.processJob(ctx, job)
	// Writes below must land even when ctx was cancelled mid-job.
	persistCtx := context.WithoutCancel(ctx)

	if err != nil && ctx.Err() != nil {
		// Shutting down: hand the job back to the broker and leave the plan
		// for the next worker.
		log.Warn("worker stopping, requeueing plan job", zap.Error(err))
		if statusErr := workerConfig.Store.UpdateStatus(persistCtx, job.PlanID, StatusPending); statusErr != nil && !errors.Is(statusErr, ErrPlanNotFound) {
			log.Warn("failed to reset plan to pending", zap.Error(statusErr))
		}
		if err := msg.Nack(false, true); err != nil {
			log.Warn("failed to requeue message", zap.Error(err))
		}
		return
	}

	if err != nil {
		log.Error("error generating plan", zap.Error(err))
		// Validation errors stop before the planner touches the stored plan.
		if statusErr := workerConfig.Store.UpdateStatus(persistCtx, job.PlanID, StatusFailed); statusErr != nil && !errors.Is(statusErr, ErrPlanNotFound) {
			log.Warn("failed to mark plan failed", zap.Error(statusErr))
		}
		workerConfig.publish(persistCtx, job, StatusFailed, "plan generation failed")
	} else {
		workerConfig.publish(persistCtx, job, StatusCompleted, "plan generation completed")
	}

	if err := msg.Ack(false); err != nil {
		log.Warn("failed to ack message", zap.Error(err))
	}
}

// errDeliveriesClosed means the broker closed the channel while the worker
// was still meant to be running.
var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// consume handles deliveries until ctx is done, which returns nil, or the
// channel closes underneath it, which returns errDeliveriesClosed.
func (workerConfig *WorkerConfig) consume(ctx context.Context, id int, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errDeliveriesClosed
			}
			workerConfig.handleDelivery(ctx, id, msg)
		}
	}
}

func (workerConfig *WorkerConfig) worker(ctx context.Context, id int) error {
	ch, err := workerConfig.RabbitConn.Channel()
	if err != nil {
		return fmt.Errorf("error connecting to rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := ch.Consume(
		requestsQueue, // queue name
		"",            // consumer tag
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		return fmt.Errorf("error consuming rabbitmq message: %w", err)
	}

	return workerConfig.consume(ctx, id, msgs)
}

// StartConsumerWorkerPool blocks until ctx is done or a worker fails. The
// first worker error stops the rest of the pool and is returned.
func (workerConfig *WorkerConfig) StartConsumerWorkerPool(ctx context.Context, numWorkers int) error {
	if workerConfig.Updates == nil {
		workerConfig.Updates = noopPublisher{}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	wg.Add(numWorkers)
	for i := range numWorkers {
		workerConfig.Logger.Info("worker started", zap.Int("worker", i+1))
		go func(id int) {
			defer wg.Done()
			if err := workerConfig.worker(ctx, id); err != nil {
				workerConfig.Logger.Error("worker stopped", zap.Int("worker", id+1), zap.Error(err))
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				cancel()
			}
		}(i)
	}
	wg.Wait() // block until all workers finish

	return firstErr
}
