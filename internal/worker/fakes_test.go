package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meritpath/worker-service/internal/worker/domain"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store whose conditional update is serialized by a mutex
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	results   []domain.JobResult
	mutations int
	claims    int

	failInsert  bool
	panicAppend bool
	heartbeats  atomic.Int64

	// getBarrier, when set, holds the first barrierN GetJob callers until all arrive
	getBarrier *sync.WaitGroup
	barrierN   atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*domain.Job)}
}

func (s *memStore) seed(id string, status domain.Status, params string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &domain.Job{ID: id, JobType: domain.JobTypePrintNumbers, Status: status, Params: json.RawMessage(params)}
}

func (s *memStore) withBarrier(n int) {
	wg := &sync.WaitGroup{}
	wg.Add(n)
	s.getBarrier = wg
	s.barrierN.Store(int64(n))
}

func (s *memStore) GetJob(ctx context.Context, jobID string) (*domain.Job, bool) {
	if s.getBarrier != nil && s.barrierN.Add(-1) >= 0 {
		s.getBarrier.Done()
		s.getBarrier.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

func (s *memStore) InsertJob(ctx context.Context, jobID, userID, jobType string, params json.RawMessage) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert {
		return "", false
	}
	if _, ok := s.jobs[jobID]; !ok {
		s.mutations++
		s.jobs[jobID] = &domain.Job{ID: jobID, JobType: jobType, Status: domain.JobStatusPending, Params: params}
	}
	return jobID, true
}

func (s *memStore) UpdateStatusIf(ctx context.Context, jobID string, newStatus, expectedStatus domain.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != expectedStatus {
		return false
	}
	s.mutations++
	s.claims++
	job.Status = newStatus
	return true
}

func (s *memStore) UpdateStatus(ctx context.Context, jobID string, status domain.Status, result json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	s.mutations++
	job.Status = status
	if result != nil {
		job.Result = result
	}
	return true
}

func (s *memStore) AppendResult(ctx context.Context, jobID string, status domain.Status, result json.RawMessage) bool {
	if s.panicAppend {
		panic("result table unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations++
	s.results = append(s.results, domain.JobResult{ID: int64(len(s.results) + 1), JobID: jobID, Status: status, Result: result})
	return true
}

func (s *memStore) Heartbeat(ctx context.Context, jobID string) bool {
	s.heartbeats.Add(1)
	return true
}

// staleMemStore adds stale recovery to memStore. Every processing job counts
// as stale.
type staleMemStore struct {
	*memStore
	sweeps atomic.Int64
}

func (s *staleMemStore) FailStaleJobs(ctx context.Context, staleAfter time.Duration) int {
	s.sweeps.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.Status != domain.JobStatusProcessing {
			continue
		}
		result, _ := json.Marshal(domain.Failed(fmt.Errorf("no heartbeat for %s", staleAfter)))
		job.Status = domain.JobStatusFailed
		job.Result = result
		s.results = append(s.results, domain.JobResult{ID: int64(len(s.results) + 1), JobID: id, Status: domain.JobStatusFailed, Result: result})
		n++
	}
	return n
}

func (s *memStore) job(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) resultsFor(id string) []domain.JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JobResult
	for _, r := range s.results {
		if r.JobID == id {
			out = append(out, r)
		}
	}
	return out
}

func (s *memStore) mutationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// memQueue hands out pushed messages and records every delete
type memQueue struct {
	mu        sync.Mutex
	pending   []domain.QueueMessage
	deletes   map[string]int
	requested []int
	seq       int

	// capacity, when set, is checked against every requested batch size
	capacity  func() int
	overAsked atomic.Int64
}

func newMemQueue() *memQueue {
	return &memQueue{deletes: make(map[string]int)}
}

func (q *memQueue) push(body string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	receipt := fmt.Sprintf("r-%d", q.seq)
	q.pending = append(q.pending, domain.QueueMessage{
		ID:            fmt.Sprintf("m-%d", q.seq),
		Body:          []byte(body),
		ReceiptHandle: receipt,
		ReceiveCount:  1,
	})
	return receipt
}

func (q *memQueue) Receive(ctx context.Context, maxMessages int, waitTime, visibilityTimeout time.Duration) []domain.QueueMessage {
	if q.capacity != nil && maxMessages > q.capacity() {
		q.overAsked.Add(1)
	}

	q.mu.Lock()
	q.requested = append(q.requested, maxMessages)
	n := min(maxMessages, len(q.pending))
	batch := append([]domain.QueueMessage(nil), q.pending[:n]...)
	q.pending = q.pending[n:]
	q.mu.Unlock()

	if len(batch) == 0 {
		sleep(ctx, time.Millisecond)
	}
	return batch
}

func (q *memQueue) Delete(ctx context.Context, receiptHandle string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deletes[receiptHandle]++
	return true
}

func (q *memQueue) deleteCount(receipt string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deletes[receipt]
}

func (q *memQueue) requestedSizes() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.requested...)
}

// outcomeCollector gathers MessageOutcomes reported by a dispatcher
type outcomeCollector struct {
	ch chan domain.MessageOutcome
}

func newOutcomeCollector() *outcomeCollector {
	return &outcomeCollector{ch: make(chan domain.MessageOutcome, 256)}
}

func (c *outcomeCollector) observe(out domain.MessageOutcome) {
	c.ch <- out
}

func (c *outcomeCollector) wait(t *testing.T, n int) []domain.MessageOutcome {
	t.Helper()
	out := make([]domain.MessageOutcome, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case o := <-c.ch:
			out = append(out, o)
		case <-timeout:
			require.FailNowf(t, "timed out waiting for outcomes", "got %d of %d", len(out), n)
		}
	}
	return out
}

func messageBody(jobID, jobType, params string) string {
	return fmt.Sprintf(`{"job_id":%q,"job_type":%q,"job_params":%s}`, jobID, jobType, params)
}
