// Package download runs product transfers on a fixed pool of workers.
package download

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/timmy/tiercache/internal/logger"
)

// ErrShutdown is returned by Submit once the manager has been shut down.
var ErrShutdown = errors.New("download manager is shut down")

// ErrDuplicate is returned by Submit when the key is already queued or running.
var ErrDuplicate = errors.New("download already queued")

// OpenFunc opens the remote byte stream of a product.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// SuccessFunc consumes a fully opened stream. Returning an error counts as a failure.
type SuccessFunc func(ctx context.Context, key string, r io.Reader) error

// FailureFunc is called once when a task fails.
type FailureFunc func(ctx context.Context, key string, err error)

// Task is one product transfer.
type Task struct {
	Key       string
	Open      OpenFunc
	OnSuccess SuccessFunc
	OnFailure FailureFunc
}

type taskState int

const (
	stateQueued taskState = iota
	stateRunning
	stateCompleted
	stateFailed
)

// Stats summarizes tasks that finished since the previous CheckProductDownloads.
type Stats struct {
	Completed int
	Failed    int
	Queued    int
	Active    int
}

// Manager executes tasks with at most Workers transfers in flight. Submission never
// blocks; tasks wait in an unbounded FIFO queue.
type Manager struct {
	name string
	log  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Task
	states   map[string]taskState
	shutdown bool

	active *atomic.Int32
	queued *atomic.Int32
	wg     sync.WaitGroup
}

// NewManager starts a manager with the given number of workers.
func NewManager(name string, workers int) *Manager {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		name:   name,
		log:    logger.GetDefault().WithStore("download", name),
		ctx:    ctx,
		cancel: cancel,
		states: make(map[string]taskState),
		active: atomic.NewInt32(0),
		queued: atomic.NewInt32(0),
	}
	m.cond = sync.NewCond(&m.mu)

	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker()
	}
	return m
}

// Submit enqueues a task. A key that is already queued or running is rejected with
// ErrDuplicate so each product downloads at most once at a time.
func (m *Manager) Submit(task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return ErrShutdown
	}
	if st, ok := m.states[task.Key]; ok && (st == stateQueued || st == stateRunning) {
		return ErrDuplicate
	}
	m.states[task.Key] = stateQueued
	m.queue = append(m.queue, task)
	m.queued.Inc()
	m.cond.Signal()
	return nil
}

// IsAlreadyQueued reports whether the key is queued or being downloaded.
func (m *Manager) IsAlreadyQueued(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	return ok && (st == stateQueued || st == stateRunning)
}

// CheckProductDownloads forgets finished tasks and reports how many completed or failed.
func (m *Manager) CheckProductDownloads() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats Stats
	for key, st := range m.states {
		switch st {
		case stateCompleted:
			stats.Completed++
			delete(m.states, key)
		case stateFailed:
			stats.Failed++
			delete(m.states, key)
		}
	}
	stats.Queued = int(m.queued.Load())
	stats.Active = int(m.active.Load())
	return stats
}

// Active returns the number of transfers in flight.
func (m *Manager) Active() int { return int(m.active.Load()) }

// Queued returns the number of tasks waiting for a worker.
func (m *Manager) Queued() int { return int(m.queued.Load()) }

// ShutdownNow cancels running transfers, drops queued tasks and waits for the workers
// to exit. No callbacks fire for dropped or interrupted tasks. It returns the keys of
// the dropped tasks.
func (m *Manager) ShutdownNow() []string {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	dropped := make([]string, 0, len(m.queue))
	for _, t := range m.queue {
		dropped = append(dropped, t.Key)
		delete(m.states, t.Key)
	}
	m.queue = nil
	m.queued.Store(0)
	m.cancel()
	m.cond.Broadcast()
	m.mu.Unlock()

	m.wg.Wait()
	if len(dropped) > 0 {
		m.log.WithField(logger.FieldCount, len(dropped)).Warn("Dropped queued downloads on shutdown")
	}
	return dropped
}

func (m *Manager) next() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.shutdown {
		m.cond.Wait()
	}
	if m.shutdown {
		return nil
	}
	t := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	m.states[t.Key] = stateRunning
	m.queued.Dec()
	m.active.Inc()
	return t
}

func (m *Manager) finish(key string, st taskState) {
	m.mu.Lock()
	if !m.shutdown {
		m.states[key] = st
	} else {
		delete(m.states, key)
	}
	m.mu.Unlock()
	m.active.Dec()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		t := m.next()
		if t == nil {
			return
		}
		m.run(t)
	}
}

func (m *Manager) run(t *Task) {
	log := m.log.WithField(logger.FieldProductUUID, t.Key)

	err := m.transfer(t)
	if err == nil {
		log.Info("Download completed")
		m.finish(t.Key, stateCompleted)
		return
	}

	// interrupted by shutdown: leave the order for recovery on restart
	if m.ctx.Err() != nil {
		log.WithError(err).Warn("Download interrupted by shutdown")
		m.finish(t.Key, stateFailed)
		return
	}

	log.WithError(err).Error("Download failed")
	if t.OnFailure != nil {
		t.OnFailure(m.ctx, t.Key, err)
	}
	m.finish(t.Key, stateFailed)
}

func (m *Manager) transfer(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("download panicked: %v", r)
		}
	}()

	rc, err := t.Open(m.ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open remote stream")
	}
	defer rc.Close()

	if t.OnSuccess == nil {
		_, err = io.Copy(io.Discard, rc)
		return err
	}
	return t.OnSuccess(m.ctx, t.Key, rc)
}
