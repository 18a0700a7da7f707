// Package sequencer gives every state-changing request one total order.
// Requests run one at a time on a single executor goroutine, first come
// first served.
package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("sequencer stopped")

// Kind labels a request for logs and counters. It does not affect order.
type Kind int

const (
	KindOther Kind = iota
	KindCancel
	KindOrder
	KindAdmin
)

func (k Kind) String() string {
	switch k {
	case KindCancel:
		return "cancel"
	case KindOrder:
		return "order"
	case KindAdmin:
		return "admin"
	default:
		return "other"
	}
}

// ClassifyRaw labels a signed JSON envelope by its "type" field.
func ClassifyRaw(b []byte) Kind {
	if len(b) == 0 || b[0] != '{' {
		return KindOther
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return KindOther
	}
	switch envelope.Type {
	case "cancel":
		return KindCancel
	case "order":
		return KindOrder
	default:
		return KindOther
	}
}

type job struct {
	seq  uint64
	kind Kind
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

type Sequencer struct {
	queue chan job
	log   *zap.SugaredLogger

	seq     atomic.Uint64
	pending atomic.Int64
	stopped chan struct{}
	once    sync.Once
}

func New(size int, log *zap.SugaredLogger) *Sequencer {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sequencer{
		queue:   make(chan job, size),
		log:     log,
		stopped: make(chan struct{}),
	}
}

// Do enqueues fn and waits for its result. A request whose context ends
// while still queued is dropped without running; once started, fn runs
// to completion.
func (s *Sequencer) Do(ctx context.Context, kind Kind, fn func(context.Context) error) error {
	j := job{
		seq:  s.seq.Add(1),
		kind: kind,
		ctx:  ctx,
		fn:   fn,
		done: make(chan error, 1),
	}

	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}
	// counted before the send so Run never sees it negative
	s.pending.Add(1)
	select {
	case s.queue <- j:
	case <-ctx.Done():
		s.pending.Add(-1)
		return ctx.Err()
	case <-s.stopped:
		s.pending.Add(-1)
		return ErrStopped
	}

	select {
	case err := <-j.done:
		return err
	case <-s.stopped:
		return ErrStopped
	}
}

// Run executes queued requests until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) {
	defer s.once.Do(func() { close(s.stopped) })

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("sequencer_stopped", "pending", s.Len())
			return
		case j := <-s.queue:
			s.pending.Add(-1)
			s.exec(j)
		}
	}
}

func (s *Sequencer) exec(j job) {
	if err := j.ctx.Err(); err != nil {
		s.log.Debugw("request_dropped", "seq", j.seq, "kind", j.kind.String(), "err", err)
		j.done <- err
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("request_panicked", "seq", j.seq, "kind", j.kind.String(), "panic", r)
			j.done <- fmt.Errorf("request %d panicked: %v", j.seq, r)
		}
	}()
	j.done <- j.fn(j.ctx)
}

// Len returns queued requests not yet started.
func (s *Sequencer) Len() int { return int(s.pending.Load()) }
