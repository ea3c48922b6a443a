package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pulse/internal/platform/models"
)

// Store is the durable side of the log.
type Store interface {
	InsertBatch([]*models.SystemEvent) error
	Query(Filter) ([]*models.SystemEvent, int, error)
	Aggregate(Filter) ([]Rollup, error)
	PurgeBefore(cutoff int64) (int64, error)
}

// Log is the append-only system event log. Writes are buffered: Emit hands
// the event to a bounded channel and returns; a single consumer goroutine
// owns flushing to the store, either on a timer tick or when the pending
// batch hits the batch-size ceiling. A failed batch stays at the front of
// the buffer and is retried on the next flush, so delivery is at-least-once
// and the store deduplicates by event id.
type Log struct {
	store         Store
	in            chan *models.SystemEvent
	batchSize     int
	flushInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	pending []*models.SystemEvent

	subMu  sync.Mutex
	subs   map[int]subscription
	nextID int
}

type subscription struct {
	filter Filter
	fn     func(*models.SystemEvent)
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Now           func() time.Time
}

func NewLog(store Store, opts Options) *Log {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Log{
		store:         store,
		in:            make(chan *models.SystemEvent, opts.BufferSize),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		now:           opts.Now,
		subs:          make(map[int]subscription),
	}
}

// Emit queues one event and returns its id immediately. When the buffer is
// full the send blocks, applying backpressure to the producer rather than
// growing memory without bound.
func (l *Log) Emit(ev *models.SystemEvent) string {
	if ev.ID == "" {
		ev.ID = "evt_" + uuid.New().String()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = l.now().Unix()
	}
	if ev.SecurityLevel == "" {
		ev.SecurityLevel = models.SecurityLevelInfo
	}
	l.in <- ev
	return ev.ID
}

func (l *Log) EmitBatch(evs []*models.SystemEvent) []string {
	ids := make([]string, 0, len(evs))
	for _, ev := range evs {
		ids = append(ids, l.Emit(ev))
	}
	return ids
}

// Run owns the flush loop until ctx is cancelled; a final drain and flush
// happens on the way out.
func (l *Log) Run(ctx context.Context) {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-l.in:
			if l.enqueue(ev) >= l.batchSize {
				l.Flush()
			}
		case <-ticker.C:
			l.Flush()
		case <-ctx.Done():
			l.Flush()
			return
		}
	}
}

func (l *Log) enqueue(ev *models.SystemEvent) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, ev)
	return len(l.pending)
}

// Flush drains the channel into the pending buffer and writes one batch.
// On failure the batch is kept for the next attempt.
func (l *Log) Flush() error {
	l.mu.Lock()
drain:
	for {
		select {
		case ev := <-l.in:
			l.pending = append(l.pending, ev)
		default:
			break drain
		}
	}
	batch := l.pending
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := l.store.InsertBatch(batch); err != nil {
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("event flush failed, will retry")
		return err
	}

	l.mu.Lock()
	l.pending = l.pending[len(batch):]
	l.mu.Unlock()

	l.notify(batch)
	return nil
}

func (l *Log) notify(batch []*models.SystemEvent) {
	l.subMu.Lock()
	subs := make([]subscription, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.subMu.Unlock()

	for _, ev := range batch {
		for _, s := range subs {
			if s.filter.Matches(ev) {
				s.fn(ev)
			}
		}
	}
}

// Subscribe registers a callback for committed events matching the filter.
// The returned function removes the registration.
func (l *Log) Subscribe(f Filter, fn func(*models.SystemEvent)) func() {
	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = subscription{filter: f, fn: fn}
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

// Query reads committed events newest-first.
func (l *Log) Query(f Filter) ([]*models.SystemEvent, int, bool, error) {
	evs, total, err := l.store.Query(f)
	if err != nil {
		return nil, 0, false, err
	}
	hasMore := f.Offset+len(evs) < total
	return evs, total, hasMore, err
}

func (l *Log) Aggregate(f Filter) ([]Rollup, error) {
	return l.store.Aggregate(f)
}

// PurgeOlderThan enforces the retention horizon.
func (l *Log) PurgeOlderThan(horizon time.Duration) (int64, error) {
	cutoff := l.now().Add(-horizon).Unix()
	return l.store.PurgeBefore(cutoff)
}
