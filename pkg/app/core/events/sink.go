package events

import (
	"context"
	"errors"
	"sync"
)

// Sink receives committed events in sequence order. Publish is called once
// per committed engine call, after state has been applied.
type Sink interface {
	Publish(ctx context.Context, records []Record) error
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, records []Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every published record in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Events returns the recorded events without their sequence numbers.
func (r *Recorder) Events() []Event {
	records := r.Records()
	out := make([]Event, len(records))
	for i, rec := range records {
		out[i] = rec.Event
	}
	return out
}

// Closed returns every OrderClosed event recorded so far.
func (r *Recorder) Closed() []OrderClosed {
	var out []OrderClosed
	for _, ev := range r.Events() {
		if c, ok := ev.(OrderClosed); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Recorder) Fills() []Fill {
	var out []Fill
	for _, ev := range r.Events() {
		if f, ok := ev.(Fill); ok {
			out = append(out, f)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
