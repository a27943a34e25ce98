package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/groundtruth"
)

// DefaultQueueSize is the default indexing queue capacity.
const DefaultQueueSize = 256

// Indexer errors.
var (
	ErrQueueFull      = errors.New("indexing queue is full")
	ErrIndexerStopped = errors.New("indexer is not running")
)

// Indexer performs fire-and-forget vector indexing of newly accepted
// ground truth. Verdict recording enqueues examples and returns; the
// background worker writes them to the corpus on its own schedule.
//
// This makes the weaker consistency tier explicit: the UI-visible verdict
// is committed before the corpus write happens, and a full queue drops the
// write with a logged error rather than blocking the reviewer.
type Indexer struct {
	store  *groundtruth.Store
	queue  chan *groundtruth.Example
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewIndexer creates an indexer with the given queue capacity.
// Call Start to begin processing.
func NewIndexer(store *groundtruth.Store, queueSize int, logger *zap.Logger) (*Indexer, error) {
	if store == nil {
		return nil, errors.New("ground-truth store cannot be nil")
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		store:  store,
		queue:  make(chan *groundtruth.Example, queueSize),
		logger: logger,
	}, nil
}

// Start launches the background worker. Idempotent.
func (i *Indexer) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	i.done = make(chan struct{})
	i.running = true

	go i.run(ctx)
	i.logger.Info("ground-truth indexer started",
		zap.Int("queue_capacity", cap(i.queue)))
}

// Stop drains the queue and stops the worker. Idempotent.
func (i *Indexer) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	close(i.queue)
	done := i.done
	i.mu.Unlock()

	<-done
	i.cancel()
	i.logger.Info("ground-truth indexer stopped")
}

// Enqueue queues an example for indexing. Returns ErrQueueFull instead of
// blocking when the queue has no room.
func (i *Indexer) Enqueue(example *groundtruth.Example) error {
	if example == nil {
		return errors.New("example cannot be nil")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.running {
		return ErrIndexerStopped
	}

	select {
	case i.queue <- example:
		QueueDepth.Set(float64(len(i.queue)))
		return nil
	default:
		QueueDrops.Inc()
		i.logger.Error("indexing queue full, dropping example",
			zap.String("example_id", example.ID),
			zap.String("scope", example.Scope))
		return fmt.Errorf("%w: dropped example %s", ErrQueueFull, example.ID)
	}
}

func (i *Indexer) run(ctx context.Context) {
	defer close(i.done)

	for example := range i.queue {
		QueueDepth.Set(float64(len(i.queue)))

		if _, err := i.store.Add(ctx, example); err != nil {
			IndexedTotal.WithLabelValues("error").Inc()
			i.logger.Error("indexing ground-truth example failed",
				zap.String("example_id", example.ID),
				zap.String("scope", example.Scope),
				zap.String("correct_source", example.CorrectSource),
				zap.Error(err))
			continue
		}
		IndexedTotal.WithLabelValues("success").Inc()
		i.logger.Debug("ground-truth example indexed",
			zap.String("example_id", example.ID),
			zap.String("scope", example.Scope))
	}
}
