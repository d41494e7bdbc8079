// Package workerpool runs verification tasks on a bounded pool of
// goroutines, adapted from pkg/rpcproxy/worker.go's WorkerPool: a fixed
// goroutine count draining a queue, cooperative shutdown via context
// cancellation plus WaitGroup drain, and atomic counters for observability.
// Generalized from RPC request/response pairs to the four verification
// task kinds named in spec.md §5 (fromJsonInput, fromMetadata,
// fromExplorerResult, similarity), and from an untyped handler error to a
// codederr.CodedError value that survives the goroutine boundary intact.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/codederr"
	"github.com/chainverify/verifyd/internal/trace"
)

// TaskKind identifies one of the four verification submission shapes.
type TaskKind string

const (
	TaskFromJSONInput       TaskKind = "fromJsonInput"
	TaskFromMetadata        TaskKind = "fromMetadata"
	TaskFromExplorerResult  TaskKind = "fromExplorerResult"
	TaskSimilarity          TaskKind = "similarity"
)

// Task is one unit of work submitted to the pool. Payload is handler
// specific (the job engine closes over the concrete submit-time request).
type Task struct {
	JobID   string
	Kind    TaskKind
	TraceID string
	Payload any

	resultCh chan Result
}

// Result is the outcome delivered back to whoever awaited the task.
type Result struct {
	JobID string
	Value any
	Err   error // a codederr.CodedError when non-nil, wrapped otherwise
}

// Handler executes one task and returns its outcome. Handlers must not
// panic across the goroutine boundary; any failure must be returned as a
// codederr.CodedError value.
type Handler func(ctx context.Context, task *Task) (any, error)

// Config tunes pool concurrency and per-task behavior.
type Config struct {
	NumWorkers int
	QueueSize  int
	TaskTimeout time.Duration
}

// DefaultConfig returns a modest default pool size.
func DefaultConfig() *Config {
	return &Config{NumWorkers: 4, QueueSize: 256, TaskTimeout: 2 * time.Minute}
}

// Pool is a bounded worker pool over verification tasks.
type Pool struct {
	config  *Config
	logger  *zap.Logger
	handler Handler
	queue   chan *Task

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	active  int32
	total   int64
	success int64
	failed  int64
}

// New constructs a Pool. The handler runs on worker goroutines and must be
// safe for concurrent invocation.
func New(config *Config, handler Handler, logger *zap.Logger) *Pool {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:  config,
		logger:  logger,
		handler: handler,
		queue:   make(chan *Task, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the configured number of worker goroutines. Idempotent.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.config.NumWorkers))
}

// Stop cancels outstanding task contexts, stops accepting new work, and
// waits for in-flight tasks to finish before returning.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	p.logger.Info("worker pool stopped")
}

// SubmitAndWait enqueues task and blocks until a worker has processed it
// or ctx is cancelled. The task's own context carries a trace id installed
// via internal/trace so logs emitted deep in the handler are correlated
// back to this submission.
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) (Result, error) {
	if task.TraceID == "" {
		task.TraceID = trace.New()
	}
	task.resultCh = make(chan Result, 1)

	select {
	case p.queue <- task:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.ctx.Done():
		return Result{}, p.ctx.Err()
	}

	select {
	case r := <-task.resultCh:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *Pool) run(task *Task) {
	atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)
	atomic.AddInt64(&p.total, 1)

	taskCtx := trace.Install(p.ctx, p.logger, task.TraceID)
	var cancel context.CancelFunc
	if p.config.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(taskCtx, p.config.TaskTimeout)
		defer cancel()
	}

	value, err := p.safeInvoke(taskCtx, task)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		var coded codederr.CodedError
		if !asCoded(err, &coded) {
			err = codederr.Wrap(codederr.CodeInternalError, err)
		}
	} else {
		atomic.AddInt64(&p.success, 1)
	}

	select {
	case task.resultCh <- Result{JobID: task.JobID, Value: value, Err: err}:
	default:
		p.logger.Warn("dropped result: receiver gone", zap.String("job_id", task.JobID))
	}
}

// safeInvoke recovers a handler panic into an internal_error CodedError so
// a single bad task can never bring down a worker goroutine.
func (p *Pool) safeInvoke(ctx context.Context, task *Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task handler panicked", zap.Any("recovered", r), zap.String("job_id", task.JobID))
			err = codederr.New(codederr.CodeInternalError, "worker panic", map[string]any{"recovered": r})
		}
	}()
	return p.handler(ctx, task)
}

func asCoded(err error, target *codederr.CodedError) bool {
	if coded, ok := err.(codederr.CodedError); ok {
		*target = coded
		return true
	}
	return false
}

// Stats reports pool counters for observability.
func (p *Pool) Stats() (total, success, failed int64, active int) {
	return atomic.LoadInt64(&p.total), atomic.LoadInt64(&p.success), atomic.LoadInt64(&p.failed), int(atomic.LoadInt32(&p.active))
}
