// Package effects runs best-effort side effects (mail labels) off the
// triage path so provider hiccups never slow or fail a decision.
package effects

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/the-bills-must-flow/internal/service"
)

type opKind int

const (
	opApply opKind = iota
	opRemove
)

type op struct {
	targetID string
	label    string
	kind     opKind
}

// Worker applies label changes asynchronously. Enqueueing never blocks:
// when the buffer is full the operation is dropped and counted, since a
// missing label is cosmetic.
type Worker struct {
	mail    service.MailSource
	ops     chan op
	done    chan struct{}
	timeout time.Duration

	mu       sync.Mutex
	dropped  int
	failed   int
	stopped  bool
	stopOnce sync.Once
}

// NewWorker creates and starts a label worker. buffer <= 0 selects the
// default of 128.
func NewWorker(mail service.MailSource, buffer int) *Worker {
	if buffer <= 0 {
		buffer = 128
	}
	w := &Worker{
		mail:    mail,
		ops:     make(chan op, buffer),
		done:    make(chan struct{}),
		timeout: 15 * time.Second,
	}
	go w.run()
	return w
}

// Apply enqueues a label addition.
func (w *Worker) Apply(targetID, label string) {
	w.enqueue(op{kind: opApply, targetID: targetID, label: label})
}

// Remove enqueues a label removal.
func (w *Worker) Remove(targetID, label string) {
	w.enqueue(op{kind: opRemove, targetID: targetID, label: label})
}

// enqueue holds the mutex across the channel send so a concurrent Stop
// cannot close the channel between the stopped check and the send.
func (w *Worker) enqueue(o op) {
	w.mu.Lock()
	if !w.stopped {
		select {
		case w.ops <- o:
			w.mu.Unlock()
			return
		default:
		}
	}
	w.dropped++
	w.mu.Unlock()
	slog.Warn("Label queue full or worker stopped, dropping operation",
		"target", o.targetID,
		"label", o.label)
}

// Stop flushes pending operations and stops the worker. It returns once
// the queue drains. Operations enqueued after Stop are dropped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.ops)
	})
	<-w.done
}

// Stats reports how many operations were dropped or failed.
func (w *Worker) Stats() (dropped, failed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped, w.failed
}

func (w *Worker) run() {
	defer close(w.done)
	for o := range w.ops {
		w.execute(o)
	}
}

func (w *Worker) execute(o op) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var err error
	switch o.kind {
	case opApply:
		err = w.mail.ApplyLabel(ctx, o.targetID, o.label)
	case opRemove:
		err = w.mail.RemoveLabel(ctx, o.targetID, o.label)
	}
	if err != nil {
		w.mu.Lock()
		w.failed++
		w.mu.Unlock()
		slog.Warn("Label operation failed",
			"target", o.targetID,
			"label", o.label,
			"error", err)
	}
}
