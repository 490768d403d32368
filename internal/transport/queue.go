package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/groutine"
)

// Value flags
const (
	FlagDropped uint32 = 1 << iota // an older value was discarded to make room
)

// Value represents one notification payload as received from the radio.
// IMPORTANT: Value objects are pooled and reused. The Data slice is only
// valid until the value is released back to the pool; handlers MUST copy
// Data if they need to retain it beyond the handler invocation.
type Value struct {
	TsUs  int64
	Seq   uint64
	Data  []byte
	Flags uint32
}

var valuePool = sync.Pool{
	New: func() interface{} { return &Value{Data: make([]byte, 0, 256)} },
}

var globalSeq uint64

func newValue(data []byte) *Value {
	v := valuePool.Get().(*Value)
	v.TsUs = time.Now().UnixMicro()
	v.Seq = atomic.AddUint64(&globalSeq, 1)
	v.Flags = 0
	if cap(v.Data) < len(data) {
		v.Data = make([]byte, len(data))
	}
	v.Data = v.Data[:len(data)]
	copy(v.Data, data)
	return v
}

func releaseValue(v *Value) {
	v.TsUs = 0
	v.Seq = 0
	v.Flags = 0

	// Prevent keeping large buffers in the pool
	const maxPooledBufferSize = 1024
	if cap(v.Data) > maxPooledBufferSize {
		v.Data = make([]byte, 0, 256)
	} else {
		v.Data = v.Data[:0]
	}

	valuePool.Put(v)
}

// NotificationQueue is the bounded per-characteristic event queue backing
// notification delivery. Values pushed from the platform callback are drained
// by exactly one goroutine and handed to the handler synchronously, in
// arrival order. When the buffer is full the oldest value is discarded and
// the next delivered value carries FlagDropped.
//
// One queue serves one characteristic; ordering across queues is neither
// guaranteed nor required.
type NotificationQueue struct {
	updates chan *Value
	dropped atomic.Bool

	// mu serializes pushes against close; a push must never land on the
	// channel after it is closed.
	mu     sync.Mutex
	closed bool

	wg     sync.WaitGroup
	logger *logrus.Logger
	label  string
}

// NewNotificationQueue creates a queue with the given capacity and starts the
// drain goroutine invoking handler for every value in order. handler receives
// the raw payload bytes; the slice must not be retained past the call.
func NewNotificationQueue(label string, capacity int, logger *logrus.Logger, handler func(data []byte, flags uint32)) *NotificationQueue {
	if capacity <= 0 {
		capacity = 128
	}
	q := &NotificationQueue{
		updates: make(chan *Value, capacity),
		logger:  logger,
		label:   label,
	}

	q.wg.Add(1)
	groutine.Go(nil, "notify-drain-"+label, func(_ context.Context) {
		defer q.wg.Done()
		for v := range q.updates {
			flags := v.Flags
			if q.dropped.CompareAndSwap(true, false) {
				flags |= FlagDropped
			}
			handler(v.Data, flags)
			releaseValue(v)
		}
	})

	return q
}

// Push enqueues one notification payload. If the buffer is full the oldest
// pending value is dropped and the drop is flagged on the next delivery.
// Safe to call concurrently with Close; a push racing or following a close
// is discarded.
func (q *NotificationQueue) Push(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	v := newValue(data)
	select {
	case q.updates <- v:
		return
	default:
	}

	// Full: shed the oldest buffered value. The drain goroutine only ever
	// removes, so the freed slot stays free while the lock is held.
	select {
	case old := <-q.updates:
		releaseValue(old)
		q.dropped.Store(true)
		if q.logger != nil {
			q.logger.WithField("characteristic", q.label).Warn("Notification queue full, dropped oldest value")
		}
	default:
	}
	q.updates <- v
}

// Len returns the number of buffered values
func (q *NotificationQueue) Len() int {
	return len(q.updates)
}

// Close stops the drain goroutine after the pending values are delivered and
// waits for it to exit. Idempotent.
func (q *NotificationQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.updates)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
