package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manumartinm/ps3-worker/internal/logging"
)

// Kind classifies an event.
type Kind string

const (
	KindProgress   Kind = "progress"
	KindStatus     Kind = "status"
	KindError      Kind = "error"
	KindCompletion Kind = "completion"
)

// Event is one message in a task's progress stream.
type Event struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Kind      Kind           `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Seq       uint64         `json:"seq"`
}

// Publisher accepts events for a task. Publishing never blocks and never
// fails; events for tasks nobody watches are only kept in history.
type Publisher interface {
	Publish(taskID string, kind Kind, data map[string]any) Event
}

const (
	defaultHistoryLimit     = 100
	defaultMaxTasks         = 1024
	defaultSubscriberBuffer = 64
)

// Options tunes a Broadcaster. Zero values select the defaults.
type Options struct {
	HistoryLimit     int
	MaxTasks         int
	SubscriberBuffer int
	Logger           *slog.Logger
	Now              func() time.Time
}

// Broadcaster fans task events out to subscribers and keeps a bounded
// per-task history for late joiners.
type Broadcaster struct {
	mu      sync.Mutex
	opts    Options
	logger  *slog.Logger
	streams map[string]*stream
	order   []string
	nextSub uint64
	closed  bool
}

type stream struct {
	history []Event
	nextSeq uint64
	subs    map[uint64]chan Event
}

// New constructs a Broadcaster.
func New(opts Options) *Broadcaster {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = defaultMaxTasks
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broadcaster{
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "progress"),
		streams: make(map[string]*stream),
	}
}

// Publish records an event and offers it to every current subscriber of the
// task. A subscriber whose buffer is full misses the event.
func (b *Broadcaster) Publish(taskID string, kind Kind, data map[string]any) Event {
	now := b.opts.Now()
	evt := Event{
		ID:        fmt.Sprintf("%s_%d", taskID, now.Unix()),
		TaskID:    taskID,
		Kind:      kind,
		Data:      data,
		Timestamp: now.UTC(),
	}
	if evt.Data == nil {
		evt.Data = map[string]any{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return evt
	}
	s := b.streamLocked(taskID)
	s.nextSeq++
	evt.Seq = s.nextSeq

	if len(s.history) == b.opts.HistoryLimit {
		copy(s.history, s.history[1:])
		s.history = s.history[:b.opts.HistoryLimit-1]
	}
	s.history = append(s.history, evt)

	for id, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("subscriber buffer full; event dropped",
				logging.String(logging.FieldTaskID, taskID),
				logging.Int64("subscriber", int64(id)),
				logging.Int64("seq", int64(evt.Seq)),
			)
		}
	}
	return evt
}

// Subscribe returns the retained history of taskID, a channel carrying every
// later event, and a cancel func that detaches and closes the channel.
func (b *Broadcaster) Subscribe(taskID string) ([]Event, <-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.opts.SubscriberBuffer)
	if b.closed {
		close(ch)
		return nil, ch, func() {}
	}
	s := b.streamLocked(taskID)
	history := append([]Event(nil), s.history...)
	b.nextSub++
	id := b.nextSub
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
	return history, ch, cancel
}

// History returns a copy of the retained events for taskID.
func (b *Broadcaster) History(taskID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[taskID]
	if !ok {
		return nil
	}
	return append([]Event(nil), s.history...)
}

// Tasks lists task IDs with retained history, oldest first.
func (b *Broadcaster) Tasks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

// Close detaches every subscriber. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.streams {
		for id, ch := range s.subs {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (b *Broadcaster) streamLocked(taskID string) *stream {
	if s, ok := b.streams[taskID]; ok {
		return s
	}
	if len(b.streams) >= b.opts.MaxTasks {
		b.evictLocked()
	}
	s := &stream{subs: make(map[uint64]chan Event)}
	b.streams[taskID] = s
	b.order = append(b.order, taskID)
	return s
}

// evictLocked drops the oldest task that has no subscribers. When every task
// is watched nothing is evicted and the map grows past MaxTasks.
func (b *Broadcaster) evictLocked() {
	for i, id := range b.order {
		if len(b.streams[id].subs) > 0 {
			continue
		}
		delete(b.streams, id)
		b.order = append(b.order[:i], b.order[i+1:]...)
		return
	}
}
