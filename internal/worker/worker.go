// Package worker serializes index mutations on one background goroutine.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// TaskKind identifies a queued mutation.
type TaskKind string

const (
	TaskRebuild   TaskKind = "rebuild_index"
	TaskAddChunks TaskKind = "add_chunks"
)

// Task is a queued mutation. DocumentID is set for TaskAddChunks.
type Task struct {
	Kind       TaskKind
	DocumentID string
}

// Indexer performs the mutations. *index.Manager implements it.
type Indexer interface {
	Rebuild(ctx context.Context) bool
	AddChunks(ctx context.Context, documentID string) bool
}

// Worker consumes an unbounded FIFO of tasks. Enqueue never blocks.
// A rebuild is followed by dropping every rebuild queued directly behind it.
type Worker struct {
	indexer Indexer
	logger  *zap.Logger

	mu      sync.Mutex
	queue   []Task
	running bool
	signal  chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a stopped Worker.
func New(indexer Indexer, opts ...Option) *Worker {
	w := &Worker{
		indexer: indexer,
		logger:  zap.NewNop(),
		signal:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// EnqueueRebuild queues a full rebuild.
func (w *Worker) EnqueueRebuild() {
	w.enqueue(Task{Kind: TaskRebuild})
}

// EnqueueAddChunks queues an incremental add of one document's chunks.
func (w *Worker) EnqueueAddChunks(documentID string) {
	w.enqueue(Task{Kind: TaskAddChunks, DocumentID: documentID})
}

// Pending returns the number of queued tasks.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Worker) enqueue(t Task) {
	w.mu.Lock()
	w.queue = append(w.queue, t)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Start launches the consumer goroutine. Calling Start on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)
	w.logger.Info("index worker started")
}

// Stop cancels the consumer and waits for the task in progress to finish.
// Queued tasks are discarded.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	dropped := len(w.queue)
	w.queue = nil
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("index worker stopped", zap.Int("dropped_tasks", dropped))
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		t, ok := w.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		w.run(ctx, t)
	}
}

func (w *Worker) pop() (Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return Task{}, false
	}
	t := w.queue[0]
	w.queue[0] = Task{}
	w.queue = w.queue[1:]
	return t, true
}

// drainRebuilds drops the rebuild tasks at the head of the queue and stops at
// the first task of another kind.
func (w *Worker) drainRebuilds() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for n < len(w.queue) && w.queue[n].Kind == TaskRebuild {
		n++
	}
	w.queue = w.queue[n:]
	return n
}

func (w *Worker) run(ctx context.Context, t Task) {
	var ok bool
	switch t.Kind {
	case TaskRebuild:
		ok = w.indexer.Rebuild(ctx)
		if n := w.drainRebuilds(); n > 0 {
			w.logger.Debug("coalesced queued rebuilds", zap.Int("count", n))
		}
	case TaskAddChunks:
		ok = w.indexer.AddChunks(ctx, t.DocumentID)
	default:
		w.logger.Warn("unknown task kind", zap.String("kind", string(t.Kind)))
	}
	w.logger.Debug("task processed",
		zap.String("kind", string(t.Kind)),
		zap.String("document_id", t.DocumentID),
		zap.Bool("applied", ok))
}
