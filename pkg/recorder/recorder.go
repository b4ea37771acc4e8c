package recorder

import (
	"context"
	"log"
	"sync"
	"time"
)

// insertTimeout bounds one persistence write independently of the request
const insertTimeout = 2 * time.Second

// Sink receives validation records. Store implements it; tests substitute
// in-memory sinks.
type Sink interface {
	Insert(ctx context.Context, r *Record) error
}

// Recorder writes records asynchronously. Persistence is best-effort: a full
// queue drops the record, a failed insert is counted, and neither affects
// the response already sent to the client.
type Recorder struct {
	sink Sink
	ch   chan *Record
	wg   sync.WaitGroup

	// OnError is invoked for failed inserts, OnDrop for records discarded
	// because the queue was full.
	OnError func(err error)
	OnDrop  func()
}

// New starts a recorder with the given queue depth
func New(sink Sink, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}

	r := &Recorder{
		sink: sink,
		ch:   make(chan *Record, queueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Enqueue hands a record to the background writer without blocking
func (r *Recorder) Enqueue(rec *Record) {
	select {
	case r.ch <- rec:
	default:
		if r.OnDrop != nil {
			r.OnDrop()
		}
	}
}

// Close stops accepting records and flushes the queue until ctx expires
func (r *Recorder) Close(ctx context.Context) error {
	close(r.ch)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for rec := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		err := r.sink.Insert(ctx, rec)
		cancel()

		if err != nil {
			if r.OnError != nil {
				r.OnError(err)
			}
			log.Printf("recorder: insert failed: %v", err)
		}
	}
}
