package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// fakeScheduler is a scriptable in-memory backend. By default every job file
// "f" submits to id "id-f", every query reports running, and cancel/cleanup
// succeed.
type fakeScheduler struct {
	chunks ChunkSizes

	// failChunk makes any operation whose chunk contains the given item fail.
	failChunk string

	mu          sync.Mutex
	seenChunks  [][]string
	cancelCalls int
}

func (f *fakeScheduler) record(items []string) error {
	f.mu.Lock()
	f.seenChunks = append(f.seenChunks, append([]string(nil), items...))
	f.mu.Unlock()
	for _, it := range items {
		if f.failChunk != "" && it == f.failChunk {
			return fmt.Errorf("chunk containing %s refused", it)
		}
	}
	return nil
}

func (f *fakeScheduler) Submit(_ context.Context, jobFiles []string) ([]string, error) {
	if err := f.record(jobFiles); err != nil {
		return nil, err
	}
	ids := make([]string, len(jobFiles))
	for i, jf := range jobFiles {
		ids[i] = "id-" + jf
	}
	return ids, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, jobIDs []string) error {
	f.mu.Lock()
	f.cancelCalls++
	f.mu.Unlock()
	return f.record(jobIDs)
}

func (f *fakeScheduler) Cleanup(_ context.Context, jobIDs []string) error {
	return f.record(jobIDs)
}

func (f *fakeScheduler) Query(_ context.Context, jobIDs []string) ([]StatusRecord, error) {
	if err := f.record(jobIDs); err != nil {
		return nil, err
	}
	records := make([]StatusRecord, len(jobIDs))
	for i, id := range jobIDs {
		records[i] = StatusRecord{JobID: id, Status: StatusRunning}
	}
	return records, nil
}

func (f *fakeScheduler) ChunkSizes() ChunkSizes {
	return f.chunks
}

func jobFiles(n int) []string {
	files := make([]string, n)
	for i := range files {
		files[i] = fmt.Sprintf("job%02d.jdl", i)
	}
	return files
}

func TestSubmitBatchOrderAcrossChunkSizes(t *testing.T) {
	t.Parallel()

	const n = 7
	for _, chunkSize := range []int{1, 3, n, n + 5} {
		t.Run(fmt.Sprintf("chunk%d", chunkSize), func(t *testing.T) {
			t.Parallel()
			sched := &fakeScheduler{chunks: ChunkSizes{Submit: 25}}
			m := New(sched, Config{Threads: 4})

			files := jobFiles(n)
			results := m.SubmitBatch(context.Background(), files, WithChunkSize(chunkSize))

			if len(results) != n {
				t.Fatalf("expected %d results, got %d", n, len(results))
			}
			for i, res := range results {
				if res.Err != nil {
					t.Errorf("unexpected error at %d: %v", i, res.Err)
				}
				if res.JobID != "id-"+files[i] {
					t.Errorf("result %d = %q, does not correspond to input %q", i, res.JobID, files[i])
				}
			}
		})
	}
}

func TestSubmitBatchChunkingDisabledByBackend(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{chunks: ChunkSizes{}} // Submit: 0
	m := New(sched, Config{Threads: 2})

	m.SubmitBatch(context.Background(), jobFiles(5), WithChunkSize(3))

	for _, c := range sched.seenChunks {
		if len(c) != 1 {
			t.Errorf("backend with chunking disabled received a chunk of %d items", len(c))
		}
	}
}

func TestSubmitBatchUsesBackendDefaultChunkSize(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{chunks: ChunkSizes{Submit: 4}}
	m := New(sched, Config{Threads: 1})

	m.SubmitBatch(context.Background(), jobFiles(10))

	var sizes []int
	for _, c := range sched.seenChunks {
		sizes = append(sizes, len(c))
	}
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("expected chunk sizes [4 4 2], got %v", sizes)
	}
}

func TestSubmitBatchChunkErrorBroadcast(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{chunks: ChunkSizes{Submit: 3}, failChunk: "job04.jdl"}
	m := New(sched, Config{Threads: 2})

	results := m.SubmitBatch(context.Background(), jobFiles(9))

	// job04 falls into the second chunk [3, 6); all of it must carry the error
	for i, res := range results {
		inFailedChunk := i >= 3 && i < 6
		if inFailedChunk && res.Err == nil {
			t.Errorf("expected broadcast error at %d", i)
		}
		if !inFailedChunk && res.Err != nil {
			t.Errorf("unexpected error at %d: %v", i, res.Err)
		}
	}
}

func TestSubmitBatchShortResultIsError(t *testing.T) {
	t.Parallel()

	sched := &shortScheduler{}
	m := New(sched, Config{Threads: 1})

	results := m.SubmitBatch(context.Background(), jobFiles(3), WithChunkSize(3))
	for i, res := range results {
		if res.Err == nil {
			t.Errorf("expected id-count mismatch error at %d", i)
		}
	}
}

// shortScheduler returns fewer job ids than files, violating the contract.
type shortScheduler struct{ fakeScheduler }

func (s *shortScheduler) Submit(_ context.Context, jobFiles []string) ([]string, error) {
	return []string{"only-one"}, nil
}

func (s *shortScheduler) ChunkSizes() ChunkSizes {
	return ChunkSizes{Submit: 10}
}

func TestCancelBatchAllSuccessReturnsEmpty(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{chunks: ChunkSizes{Cancel: 5}}
	m := New(sched, Config{Threads: 3})

	errs := m.CancelBatch(context.Background(), jobFiles(12))
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestCancelBatchChunkErrorPerItem(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{chunks: ChunkSizes{Cancel: 4}, failChunk: "job01.jdl"}
	m := New(sched, Config{Threads: 2})

	errs := m.CancelBatch(context.Background(), jobFiles(8))

	// first chunk [0, 4) fails, one error entry per item
	if len(errs) != 4 {
		t.Fatalf("expected 4 error entries, got %d", len(errs))
	}
	for i, e := range errs {
		if e.Index != i {
			t.Errorf("expected error index %d, got %d", i, e.Index)
		}
		if !strings.Contains(e.Error(), "refused") {
			t.Errorf("unexpected error: %v", e)
		}
	}
}

func TestQueryBatchMapsAllIDs(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{chunks: ChunkSizes{Query: 3}, failChunk: "job05.jdl"}
	m := New(sched, Config{Threads: 4})

	ids := jobFiles(7)
	data := m.QueryBatch(context.Background(), ids)

	if len(data) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(data))
	}
	for i, id := range ids {
		res, ok := data[id]
		if !ok {
			t.Fatalf("missing result for %q", id)
		}
		inFailedChunk := i >= 3 && i < 6
		if inFailedChunk {
			if res.Err == nil {
				t.Errorf("expected broadcast query error for %q", id)
			}
			continue
		}
		if res.Err != nil {
			t.Errorf("unexpected error for %q: %v", id, res.Err)
		}
		if res.Record.JobID != id || res.Record.Status != StatusRunning {
			t.Errorf("record for %q does not correspond to its id: %+v", id, res.Record)
		}
	}
}

func TestCallbacksFirePerOriginalItem(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{chunks: ChunkSizes{Submit: 4}}
	m := New(sched, Config{Threads: 4})

	files := jobFiles(10)
	var mu sync.Mutex
	seen := make(map[int]string)

	m.SubmitBatch(context.Background(), files, OnSubmit(func(index int, jobID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[index]; dup {
			t.Errorf("callback fired twice for index %d", index)
		}
		seen[index] = jobID
	}))

	if len(seen) != len(files) {
		t.Fatalf("expected %d callback invocations, got %d", len(files), len(seen))
	}
	for i, f := range files {
		if seen[i] != "id-"+f {
			t.Errorf("callback for index %d got %q, want %q", i, seen[i], "id-"+f)
		}
	}
}

func TestPanickingBackendBecomesError(t *testing.T) {
	t.Parallel()

	m := New(&panicScheduler{}, Config{Threads: 2})

	results := m.SubmitBatch(context.Background(), jobFiles(3))
	for i, res := range results {
		if res.Err == nil {
			t.Errorf("expected recovered panic as error at %d", i)
		} else if !strings.Contains(res.Err.Error(), "panic") {
			t.Errorf("expected panic in message, got %v", res.Err)
		}
	}
}

type panicScheduler struct{ fakeScheduler }

func (p *panicScheduler) Submit(_ context.Context, _ []string) ([]string, error) {
	panic("backend exploded")
}

func TestCountStatuses(t *testing.T) {
	t.Parallel()

	data := map[string]QueryResult{
		"a": {Record: StatusRecord{Status: StatusPending}},
		"b": {Record: StatusRecord{Status: StatusRunning}},
		"c": {Record: StatusRecord{Status: StatusRunning}},
		"d": {Err: errors.New("query failed")},
	}

	counts := CountStatuses(data)
	want := []int{1, 2, 0, 0, 1}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %d, want %d (%v)", i, counts[i], want[i], counts)
		}
	}
}
