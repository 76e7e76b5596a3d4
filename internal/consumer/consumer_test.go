package consumer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manumartinm/ps3-worker/internal/consumer"
	"github.com/manumartinm/ps3-worker/internal/services"
)

type fakeDelivery struct {
	body []byte

	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
	settled chan struct{}
}

func newDelivery(body string) *fakeDelivery {
	return &fakeDelivery{body: []byte(body), settled: make(chan struct{})}
}

func (d *fakeDelivery) Body() []byte { return d.body }

func (d *fakeDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	close(d.settled)
	return nil
}

func (d *fakeDelivery) Nack(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked = true
	d.requeue = requeue
	close(d.settled)
	return nil
}

func (d *fakeDelivery) wait(t *testing.T) {
	t.Helper()
	select {
	case <-d.settled:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was never settled")
	}
}

type fakeBroker struct {
	deliveries chan consumer.Delivery
	closed     atomic.Bool
}

func (b *fakeBroker) Consume(context.Context) (<-chan consumer.Delivery, error) {
	return b.deliveries, nil
}

func (b *fakeBroker) Close() error {
	b.closed.Store(true)
	return nil
}

func dialerFor(brokers ...*fakeBroker) (consumer.Dialer, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) (consumer.Broker, error) {
		n := int(calls.Add(1)) - 1
		if n >= len(brokers) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return brokers[n], nil
	}, &calls
}

const validBody = `{"task_id":"task-1","filename":"10.1000-abc.pdf","minio_path":"task-1/pdfs/10.1000-abc.pdf"}`

func TestConsumerAcksAndNacks(t *testing.T) {
	broker := &fakeBroker{deliveries: make(chan consumer.Delivery)}
	dial, _ := dialerFor(broker)
	var seen []consumer.Descriptor
	processor := consumer.ProcessorFunc(func(_ context.Context, d consumer.Descriptor) error {
		seen = append(seen, d)
		if d.TaskID == "task-fail" {
			return services.Wrap(services.ErrSanityBound, "extraction", "discover", "found 0 variants", nil)
		}
		return nil
	})
	c := consumer.New(dial, processor, consumer.Options{ReconnectDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ok := newDelivery(validBody)
	failed := newDelivery(`{"task_id":"task-fail","filename":"a.pdf","minio_path":"task-fail/pdfs/a.pdf"}`)
	garbage := newDelivery(`not json`)
	for _, d := range []*fakeDelivery{ok, failed, garbage} {
		broker.deliveries <- d
		d.wait(t)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if !ok.acked || ok.nacked {
		t.Fatalf("expected ack for successful task, got %+v", ok)
	}
	if !failed.nacked || failed.requeue {
		t.Fatalf("expected nack without requeue for failed task, got %+v", failed)
	}
	if !garbage.nacked || garbage.requeue {
		t.Fatalf("expected nack without requeue for invalid message, got %+v", garbage)
	}
	if len(seen) != 2 || seen[0].MinioPath != "task-1/pdfs/10.1000-abc.pdf" {
		t.Fatalf("unexpected processed descriptors %+v", seen)
	}
	if !broker.closed.Load() {
		t.Fatal("broker should be closed on shutdown")
	}
}

func TestConsumerProcessesOneAtATime(t *testing.T) {
	broker := &fakeBroker{deliveries: make(chan consumer.Delivery, 3)}
	dial, _ := dialerFor(broker)
	var active, peak atomic.Int32
	processor := consumer.ProcessorFunc(func(context.Context, consumer.Descriptor) error {
		n := active.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	c := consumer.New(dial, processor, consumer.Options{ReconnectDelay: time.Millisecond})
	deliveries := []*fakeDelivery{newDelivery(validBody), newDelivery(validBody), newDelivery(validBody)}
	for _, d := range deliveries {
		broker.deliveries <- d
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	for _, d := range deliveries {
		d.wait(t)
	}
	cancel()
	<-done
	if peak.Load() != 1 {
		t.Fatalf("expected sequential processing, peak concurrency %d", peak.Load())
	}
}

func TestConsumerReconnectsAfterSessionCloses(t *testing.T) {
	first := &fakeBroker{deliveries: make(chan consumer.Delivery)}
	second := &fakeBroker{deliveries: make(chan consumer.Delivery)}
	dial, calls := dialerFor(first, second)
	c := consumer.New(dial, consumer.ProcessorFunc(func(context.Context, consumer.Descriptor) error { return nil }),
		consumer.Options{ReconnectDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	close(first.deliveries)
	d := newDelivery(validBody)
	second.deliveries <- d
	d.wait(t)
	cancel()
	<-done

	if !first.closed.Load() {
		t.Fatal("expected first broker closed after session ended")
	}
	if calls.Load() < 2 {
		t.Fatalf("expected a reconnect, dial calls=%d", calls.Load())
	}
}

func TestConsumerLeavesQueuedDeliveryOnShutdown(t *testing.T) {
	for i := 0; i < 100; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		d := newDelivery(validBody)
		broker := &fakeBroker{deliveries: make(chan consumer.Delivery, 1)}
		broker.deliveries <- d
		dial := func(context.Context) (consumer.Broker, error) {
			cancel()
			return broker, nil
		}
		var processed atomic.Bool
		c := consumer.New(dial, consumer.ProcessorFunc(func(context.Context, consumer.Descriptor) error {
			processed.Store(true)
			return nil
		}), consumer.Options{ReconnectDelay: time.Millisecond})

		if err := c.Run(ctx); err != nil {
			t.Fatalf("Run returned %v", err)
		}
		if processed.Load() {
			t.Fatalf("run %d: delivery processed after shutdown", i)
		}
		select {
		case <-d.settled:
			t.Fatalf("run %d: delivery settled after shutdown (nacked=%v)", i, d.nacked)
		default:
		}
		if !broker.closed.Load() {
			t.Fatalf("run %d: broker left open", i)
		}
	}
}

func TestConsumerFinishesTaskInHandOnShutdown(t *testing.T) {
	broker := &fakeBroker{deliveries: make(chan consumer.Delivery, 1)}
	dial, _ := dialerFor(broker)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var taskErr error
	processor := consumer.ProcessorFunc(func(taskCtx context.Context, _ consumer.Descriptor) error {
		close(started)
		cancel()
		time.Sleep(10 * time.Millisecond)
		taskErr = taskCtx.Err()
		return taskErr
	})
	c := consumer.New(dial, processor, consumer.Options{ReconnectDelay: time.Millisecond})
	d := newDelivery(validBody)
	broker.deliveries <- d

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	<-started
	if taskErr != nil {
		t.Fatalf("task context cancelled by shutdown: %v", taskErr)
	}
	if !d.acked || d.nacked {
		t.Fatalf("expected the task in hand to be acked, got %+v", d)
	}
}

func TestConsumerRetriesDialErrors(t *testing.T) {
	var calls atomic.Int32
	broker := &fakeBroker{deliveries: make(chan consumer.Delivery)}
	dial := func(ctx context.Context) (consumer.Broker, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return broker, nil
	}
	c := consumer.New(dial, consumer.ProcessorFunc(func(context.Context, consumer.Descriptor) error { return nil }),
		consumer.Options{ReconnectDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	d := newDelivery(validBody)
	broker.deliveries <- d
	d.wait(t)
	cancel()
	<-done
	if calls.Load() != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", calls.Load())
	}
}

func TestDecodeDescriptor(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{"valid", validBody, true},
		{"missing minio path", `{"task_id":"t","filename":"a.pdf"}`, false},
		{"empty task id", `{"task_id":"","filename":"a.pdf","minio_path":"p"}`, false},
		{"number task id", `{"task_id":7,"filename":"a.pdf","minio_path":"p"}`, false},
		{"path traversal task id", `{"task_id":"../etc","filename":"a.pdf","minio_path":"p"}`, false},
		{"nested filename", `{"task_id":"t","filename":"dir/a.pdf","minio_path":"p"}`, false},
		{"dot filename", `{"task_id":"t","filename":"..","minio_path":"p"}`, false},
		{"not json", `{"task_id":`, false},
		{"array", `[]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := consumer.DecodeDescriptor([]byte(tt.body))
			if tt.valid {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if d.TaskID != "task-1" || d.Filename != "10.1000-abc.pdf" {
					t.Fatalf("unexpected descriptor %+v", d)
				}
				return
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
