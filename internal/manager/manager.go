// Package manager turns the atomic submit/cancel/cleanup/query operations of
// a scheduler backend into batched, chunked, concurrently executed operations
// with index-preserving result correlation, and formats rolling status
// summaries for poll loops.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jobforge/internal/apperrors"
	"jobforge/pkg/pool"
)

// ChunkSizes holds a backend's default chunk size per operation. A value of
// 0 disables chunking for that operation entirely: items are dispatched one
// by one and an explicit chunk size on the batch call is ignored.
type ChunkSizes struct {
	Submit  int
	Cancel  int
	Cleanup int
	Query   int
}

// Scheduler is the contract a backend must satisfy. Every operation receives
// a chunk of one or more items and blocks until the external scheduler
// answered. Submit and Query must return exactly one result per input item,
// in input order; an error return stands for the whole chunk.
type Scheduler interface {
	Submit(ctx context.Context, jobFiles []string) ([]string, error)
	Cancel(ctx context.Context, jobIDs []string) error
	Cleanup(ctx context.Context, jobIDs []string) error
	Query(ctx context.Context, jobIDs []string) ([]StatusRecord, error)

	// ChunkSizes advertises the backend's default chunking per operation.
	ChunkSizes() ChunkSizes
}

// MetricsRecorder is an optional interface for recording batch metrics.
type MetricsRecorder interface {
	RecordBatchOp(ctx context.Context, op string, items, errors int, durationSeconds float64)
}

// SubmitResult is the outcome for one job file of a submit batch.
type SubmitResult struct {
	JobID string
	Err   error
}

// QueryResult is the outcome for one job id of a query batch.
type QueryResult struct {
	Record StatusRecord
	Err    error
}

// IndexedError pairs a batch error with the original index of the item that
// caused it.
type IndexedError struct {
	Index int
	Err   error
}

func (e IndexedError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e IndexedError) Unwrap() error {
	return e.Err
}

// Config holds manager construction parameters.
type Config struct {
	Threads int // default worker pool size per batch call, minimum 1
	Metrics MetricsRecorder
}

// Manager executes batch operations against one scheduler backend. It also
// keeps the rolling "last observed" count vector used by StatusLine.
type Manager struct {
	scheduler Scheduler
	threads   int
	metrics   MetricsRecorder
	logger    *slog.Logger

	mu         sync.Mutex
	lastCounts []int
}

// New creates a manager for the given scheduler.
func New(scheduler Scheduler, cfg Config) *Manager {
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	return &Manager{
		scheduler: scheduler,
		threads:   threads,
		metrics:   cfg.Metrics,
		logger:    slog.With("component", "manager"),
	}
}

// batchOptions configures a single batch call.
type batchOptions struct {
	threads   int
	chunkSize int // -1 means "use the backend default"
	submitCB  func(index int, jobID string, err error)
	doneCB    func(index int, err error)
	queryCB   func(index int, rec StatusRecord, err error)
}

// BatchOption is a functional option for batch calls.
type BatchOption func(*batchOptions)

// WithThreads overrides the worker pool size for one batch call.
func WithThreads(n int) BatchOption {
	return func(o *batchOptions) { o.threads = n }
}

// WithChunkSize overrides the backend's default chunk size for one batch
// call. It has no effect on operations whose backend default is 0.
func WithChunkSize(n int) BatchOption {
	return func(o *batchOptions) { o.chunkSize = n }
}

// OnSubmit registers a per-item callback for SubmitBatch, invoked once per
// original job file with its 0-based input index.
func OnSubmit(f func(index int, jobID string, err error)) BatchOption {
	return func(o *batchOptions) { o.submitCB = f }
}

// OnDone registers a per-item callback for CancelBatch and CleanupBatch.
func OnDone(f func(index int, err error)) BatchOption {
	return func(o *batchOptions) { o.doneCB = f }
}

// OnQuery registers a per-item callback for QueryBatch.
func OnQuery(f func(index int, rec StatusRecord, err error)) BatchOption {
	return func(o *batchOptions) { o.queryCB = f }
}

func (m *Manager) batchOptions(opts []BatchOption, defaultChunk int) batchOptions {
	o := batchOptions{threads: m.threads, chunkSize: -1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.threads < 1 {
		o.threads = 1
	}
	// a backend default of 0 disables chunking outright
	if defaultChunk <= 0 {
		o.chunkSize = 0
	} else if o.chunkSize < 0 {
		o.chunkSize = defaultChunk
	} else if o.chunkSize == 0 {
		o.chunkSize = defaultChunk
	}
	return o
}

// chunk is a contiguous half-open index range [start, end) of the input list.
type chunk struct {
	start, end int
}

// chunkRanges partitions n items into contiguous chunks of at most size
// items, preserving input order. size <= 0 yields one chunk per item.
func chunkRanges(n, size int) []chunk {
	if size <= 0 {
		size = 1
	}
	chunks := make([]chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		chunks = append(chunks, chunk{start, end})
	}
	return chunks
}

// guard runs fn, converting a panic into an error so a misbehaving backend
// cannot break the structure of a batch result.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Internal(op, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

// SubmitBatch submits job files concurrently and returns one result per
// input file, in input order. Errors never propagate out; they are captured
// in the corresponding result slots. A chunk-level error is broadcast to
// every item of that chunk.
func (m *Manager) SubmitBatch(ctx context.Context, jobFiles []string, opts ...BatchOption) []SubmitResult {
	o := m.batchOptions(opts, m.scheduler.ChunkSizes().Submit)
	results := make([]SubmitResult, len(jobFiles))

	start := time.Now()
	p := pool.New(o.threads)
	for _, c := range chunkRanges(len(jobFiles), o.chunkSize) {
		p.Go(func() {
			var ids []string
			err := guard("scheduler.submit", func() error {
				var opErr error
				ids, opErr = m.scheduler.Submit(ctx, jobFiles[c.start:c.end])
				return opErr
			})
			if err == nil && len(ids) != c.end-c.start {
				err = apperrors.Internal("scheduler.submit",
					fmt.Errorf("%d job ids expected, got %d", c.end-c.start, len(ids)))
			}
			for i := c.start; i < c.end; i++ {
				if err != nil {
					results[i] = SubmitResult{Err: err}
				} else {
					results[i] = SubmitResult{JobID: ids[i-c.start]}
				}
				if o.submitCB != nil {
					o.submitCB(i, results[i].JobID, results[i].Err)
				}
			}
		})
	}
	p.Wait()

	m.recordBatch(ctx, "submit", len(jobFiles), countSubmitErrors(results), start)
	return results
}

// CancelBatch cancels jobs concurrently. The returned slice holds one entry
// per failed item only; an empty slice means total success.
func (m *Manager) CancelBatch(ctx context.Context, jobIDs []string, opts ...BatchOption) []IndexedError {
	return m.voidBatch(ctx, "cancel", jobIDs, m.scheduler.Cancel, m.scheduler.ChunkSizes().Cancel, opts)
}

// CleanupBatch removes leftover remote state for jobs concurrently. The
// returned slice holds one entry per failed item only; an empty slice means
// total success.
func (m *Manager) CleanupBatch(ctx context.Context, jobIDs []string, opts ...BatchOption) []IndexedError {
	return m.voidBatch(ctx, "cleanup", jobIDs, m.scheduler.Cleanup, m.scheduler.ChunkSizes().Cleanup, opts)
}

// voidBatch is the shared engine for cancel and cleanup: atomic operations
// that produce no value, only success or failure per item.
func (m *Manager) voidBatch(ctx context.Context, op string, jobIDs []string,
	atomic func(context.Context, []string) error, defaultChunk int, opts []BatchOption) []IndexedError {

	o := m.batchOptions(opts, defaultChunk)
	perItem := make([]error, len(jobIDs))

	start := time.Now()
	p := pool.New(o.threads)
	for _, c := range chunkRanges(len(jobIDs), o.chunkSize) {
		p.Go(func() {
			err := guard("scheduler."+op, func() error {
				return atomic(ctx, jobIDs[c.start:c.end])
			})
			for i := c.start; i < c.end; i++ {
				perItem[i] = err
				if o.doneCB != nil {
					o.doneCB(i, err)
				}
			}
		})
	}
	p.Wait()

	var errs []IndexedError
	for i, err := range perItem {
		if err != nil {
			errs = append(errs, IndexedError{Index: i, Err: err})
		}
	}
	m.recordBatch(ctx, op, len(jobIDs), len(errs), start)
	return errs
}

// QueryBatch queries job statuses concurrently and returns a map from job id
// to either the status record or the error that hit its chunk.
func (m *Manager) QueryBatch(ctx context.Context, jobIDs []string, opts ...BatchOption) map[string]QueryResult {
	o := m.batchOptions(opts, m.scheduler.ChunkSizes().Query)
	perItem := make([]QueryResult, len(jobIDs))

	start := time.Now()
	p := pool.New(o.threads)
	for _, c := range chunkRanges(len(jobIDs), o.chunkSize) {
		p.Go(func() {
			var records []StatusRecord
			err := guard("scheduler.query", func() error {
				var opErr error
				records, opErr = m.scheduler.Query(ctx, jobIDs[c.start:c.end])
				return opErr
			})
			if err == nil && len(records) != c.end-c.start {
				err = apperrors.Internal("scheduler.query",
					fmt.Errorf("%d status records expected, got %d", c.end-c.start, len(records)))
			}
			for i := c.start; i < c.end; i++ {
				if err != nil {
					perItem[i] = QueryResult{Err: err}
				} else {
					perItem[i] = QueryResult{Record: records[i-c.start]}
				}
				if o.queryCB != nil {
					o.queryCB(i, perItem[i].Record, perItem[i].Err)
				}
			}
		})
	}
	p.Wait()

	data := make(map[string]QueryResult, len(jobIDs))
	errCount := 0
	for i, id := range jobIDs {
		data[id] = perItem[i]
		if perItem[i].Err != nil {
			errCount++
		}
	}
	m.recordBatch(ctx, "query", len(jobIDs), errCount, start)
	return data
}

func (m *Manager) recordBatch(ctx context.Context, op string, items, errs int, start time.Time) {
	if errs > 0 {
		m.logger.Warn("Batch operation finished with errors", "op", op, "items", items, "errors", errs)
	} else {
		m.logger.Debug("Batch operation finished", "op", op, "items", items)
	}
	if m.metrics != nil {
		m.metrics.RecordBatchOp(ctx, op, items, errs, time.Since(start).Seconds())
	}
}

func countSubmitErrors(results []SubmitResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
