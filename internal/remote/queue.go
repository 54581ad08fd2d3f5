package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrQueueStopped is returned for commands that reach a session being deleted.
var ErrQueueStopped = errors.New("command queue stopped")

// CommandTask is one queued session command.
type CommandTask struct {
	Name     string
	Context  context.Context
	Run      func(ctx context.Context) (any, error)
	Response chan *TaskResponse
}

// TaskResponse carries the outcome of a CommandTask.
type TaskResponse struct {
	Value any
	Error error
}

// CommandQueue runs the commands of one session strictly one after another.
type CommandQueue struct {
	name    string
	tasks   chan *CommandTask
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewCommandQueue(name string) *CommandQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		name:   name,
		tasks:  make(chan *CommandTask, 32),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing commands from the queue
func (q *CommandQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return fmt.Errorf("queue %s is already running", q.name)
	}

	q.running = true
	q.wg.Add(1)

	go q.processLoop()
	log.Debugf("Command queue %s started", q.name)
	return nil
}

// Stop lets the running command finish, then stops the queue.
func (q *CommandQueue) Stop() error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue %s is not running", q.name)
	}
	q.running = false
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	log.Debugf("Command queue %s stopped", q.name)
	return nil
}

// Do queues fn and waits for its result. fn receives ctx.
func (q *CommandQueue) Do(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	task := &CommandTask{
		Name:     name,
		Context:  ctx,
		Run:      fn,
		Response: make(chan *TaskResponse, 1),
	}
	if err := q.add(ctx, task); err != nil {
		return nil, err
	}

	select {
	case response := <-task.Response:
		return response.Value, response.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.ctx.Done():
		return nil, fmt.Errorf("queue %s is shutting down: %w", q.name, ErrQueueStopped)
	}
}

func (q *CommandQueue) add(ctx context.Context, task *CommandTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.running {
		return fmt.Errorf("queue %s is not running: %w", q.name, ErrQueueStopped)
	}

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return fmt.Errorf("queue %s is shutting down: %w", q.name, ErrQueueStopped)
	}
}

// processLoop is the main processing loop that handles commands sequentially
func (q *CommandQueue) processLoop() {
	defer q.wg.Done()

	for {
		select {
		case task := <-q.tasks:
			startTime := time.Now()
			value, err := task.Run(task.Context)
			log.Debugf("Session %s command %s completed in %v", q.name, task.Name, time.Since(startTime))
			task.Response <- &TaskResponse{Value: value, Error: err}

		case <-q.ctx.Done():
			log.Debugf("Queue %s context cancelled, stopping process loop", q.name)
			return
		}
	}
}

// Length returns the number of commands waiting.
func (q *CommandQueue) Length() int {
	return len(q.tasks)
}

func (q *CommandQueue) IsRunning() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}
