package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type fakeAcknowledger struct {
	mu       sync.Mutex
	acked    []uint64
	requeued []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeued = append(a.requeued, tag)
	}
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func (a *fakeAcknowledger) requeuedTags() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.requeued...)
}

func (a *fakeAcknowledger) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked)
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []PlanUpdate
}

func (p *recordingPublisher) PublishUpdate(_ context.Context, u PlanUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *recordingPublisher) statuses() []PlanStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlanStatus, len(p.updates))
	for i, u := range p.updates {
		out[i] = u.Status
	}
	return out
}

func newTestWorker(t *testing.T, gen Generator) (*WorkerConfig, PlanStore, *fakeArchive, *recordingPublisher) {
	t.Helper()
	store := NewMemoryStore()
	archive := newFakeArchive()
	updates := &recordingPublisher{}
	planner := newTestPlanner(t, gen, store, archive)
	return &WorkerConfig{
		Planner:  planner,
		Store:    store,
		Archive:  archive,
		Updates:  updates,
		Logger:   zap.NewNop(),
		Location: time.UTC,
	}, store, archive, updates
}

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, v any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
}

func TestRetry_SucceedsAfterFailure(t *testing.T) {
	calls := 0
	got, err := retry(context.Background(), 3, func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	_, err := retry(context.Background(), 2, func() (int, error) {
		calls++
		return 0, sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0

	start := time.Now()
	_, err := retry(ctx, 5, func() (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestHandleDelivery_GeneratesPendingPlan(t *testing.T) {
	gen := &fakeGenerator{output: sampleSchedule}
	worker, store, archive, updates := newTestWorker(t, gen)
	ctx := context.Background()

	pending, err := worker.Planner.NewPendingPlan(ctx, PlanRequest{
		Subject:      "Databases",
		Deadline:     date(t, "2026-10-21"),
		SyllabusName: "db.txt",
	})
	require.NoError(t, err)
	key, err := archive.PutSyllabus(ctx, pending.ID, "db.txt", "text/plain", []byte("Normalisation\nIndexes"))
	require.NoError(t, err)

	ack := &fakeAcknowledger{}
	worker.handleDelivery(ctx, 0, delivery(t, ack, 7, PlanJob{
		PlanID:       pending.ID,
		Subject:      "Databases",
		Deadline:     "2026-10-21",
		SyllabusName: "db.txt",
		SyllabusKey:  key,
	}))

	assert.Equal(t, []uint64{7}, ack.acked)
	assert.Equal(t, []PlanStatus{StatusProcessing, StatusCompleted}, updates.statuses())
	assert.Contains(t, gen.lastPrompt(), "Normalisation\nIndexes")

	plan, err := store.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, plan.Status)
	assert.Equal(t, key, plan.SyllabusKey)
	assert.Len(t, plan.Rows, 3)
}

func TestHandleDelivery_MalformedMessageIsAcked(t *testing.T) {
	gen := &fakeGenerator{output: sampleSchedule}
	worker, _, _, updates := newTestWorker(t, gen)
	ack := &fakeAcknowledger{}

	worker.handleDelivery(context.Background(), 0, amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("{not json")})

	assert.Equal(t, 1, ack.count())
	assert.Empty(t, updates.statuses())
	assert.Equal(t, 0, gen.calls())
}

func TestHandleDelivery_ExpiredDeadlineMarksFailed(t *testing.T) {
	gen := &fakeGenerator{output: sampleSchedule}
	worker, store, _, updates := newTestWorker(t, gen)
	ctx := context.Background()

	plan := &StudyPlan{ID: uuid.New(), Subject: "Law", Deadline: date(t, "2026-10-01"), Status: StatusPending}
	require.NoError(t, store.Create(ctx, plan))

	ack := &fakeAcknowledger{}
	worker.handleDelivery(ctx, 0, delivery(t, ack, 3, PlanJob{
		PlanID:   plan.ID,
		Subject:  "Law",
		Deadline: "2026-10-01",
	}))

	assert.Equal(t, 1, ack.count())
	assert.Equal(t, []PlanStatus{StatusProcessing, StatusFailed}, updates.statuses())
	assert.Equal(t, 0, gen.calls())

	got, err := store.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestHandleDelivery_RequeuesOnShutdown(t *testing.T) {
	gen := &fakeGenerator{output: sampleSchedule, delay: 2 * time.Second}
	worker, store, _, updates := newTestWorker(t, gen)

	pending, err := worker.Planner.NewPendingPlan(context.Background(), PlanRequest{
		Subject:  "Operating Systems",
		Deadline: date(t, "2026-10-30"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ack := &fakeAcknowledger{}
	done := make(chan struct{})
	go func() {
		worker.handleDelivery(ctx, 0, delivery(t, ack, 11, PlanJob{
			PlanID:   pending.ID,
			Subject:  "Operating Systems",
			Deadline: "2026-10-30",
		}))
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleDelivery did not return after cancel")
	}

	assert.Equal(t, 0, ack.count())
	assert.Equal(t, []uint64{11}, ack.requeuedTags())
	assert.Equal(t, []PlanStatus{StatusProcessing}, updates.statuses())

	plan, err := store.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, plan.Status)
}

func TestConsume_ReportsClosedChannel(t *testing.T) {
	defer goleak.VerifyNone(t)

	gen := &fakeGenerator{output: sampleSchedule}
	worker, _, _, _ := newTestWorker(t, gen)
	msgs := make(chan amqp.Delivery, 2)
	ack := &fakeAcknowledger{}
	msgs <- delivery(t, ack, 1, PlanJob{PlanID: uuid.New(), Subject: "Music", Deadline: "2026-10-20"})
	msgs <- delivery(t, ack, 2, PlanJob{PlanID: uuid.New(), Subject: "Drama", Deadline: "2026-10-20"})
	close(msgs)

	errCh := make(chan error, 1)
	go func() {
		errCh <- worker.consume(context.Background(), 0, msgs)
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errDeliveriesClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return after channel closed")
	}
	assert.Equal(t, 2, ack.count())
	assert.Equal(t, 2, gen.calls())
}

func TestConsume_ExitsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	worker, _, _, _ := newTestWorker(t, &fakeGenerator{})
	msgs := make(chan amqp.Delivery)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- worker.consume(ctx, 0, msgs)
	}()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return after cancel")
	}
}
