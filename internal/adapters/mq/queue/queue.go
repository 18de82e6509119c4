// Package queue provides the partitioned in-memory queue feeding the
// ingestion workers.
//
// Jobs hash by user to a fixed partition, so one user's files are
// processed in submission order while unrelated users proceed in
// parallel.
package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultPartitions    = 4
	defaultPartitionSize = 256
)

// Job represents the payload type flowing through the queue.
// Using the model.Job type for type safety.
type Job = model.Job

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue routes a job to its user's partition.
	// Returns false if the partition is full and the job was not enqueued.
	Enqueue(ctx context.Context, j *Job) bool

	// Dequeue returns a channel that will receive the partition's jobs
	// in enqueue order. The channel will be closed when the queue is closed.
	Dequeue(ctx context.Context, partition int) <-chan *Job

	// Partitions returns the number of partitions.
	Partitions() int

	// Len returns the current number of queued jobs across all partitions.
	Len(ctx context.Context) int

	// Close gracefully shuts down the queue.
	// After closing, no new jobs can be enqueued and the dequeue channels
	// will be closed.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// PartitionedQueue implements Queue with one buffered channel per partition.
type PartitionedQueue struct {
	partitions    []chan *Job
	numPartitions int
	partitionSize int
	mu            sync.RWMutex
	closed        bool
}

// NewPartitionedQueue creates a new partitioned queue with configuration options.
func NewPartitionedQueue(opts ...Option) *PartitionedQueue {
	q := &PartitionedQueue{
		numPartitions: defaultPartitions,
		partitionSize: defaultPartitionSize,
	}

	// Apply all options
	for _, opt := range opts {
		opt(q)
	}

	// One buffered channel per partition
	q.partitions = make([]chan *Job, q.numPartitions)
	for i := range q.partitions {
		q.partitions[i] = make(chan *Job, q.partitionSize)
	}

	// Initialize metrics
	metrics.UpdateQueueCapacity(q.numPartitions * q.partitionSize)
	metrics.UpdateQueueSize(0)

	return q
}

// PartitionFor returns the partition index a user's jobs route to.
// The FNV-1a hash keeps the mapping stable across restarts.
func (q *PartitionedQueue) PartitionFor(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(q.numPartitions))
}

// Enqueue routes a job to its user's partition.
func (q *PartitionedQueue) Enqueue(ctx context.Context, j *Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	p := q.PartitionFor(j.UserID)
	select {
	case q.partitions[p] <- j:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueuePartitionDepth(strconv.Itoa(p), len(q.partitions[p]))
		metrics.UpdateQueueSize(q.size())
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false // context cancelled
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "partition_full")
		return false // partition is full
	}
}

// Dequeue returns a channel that will receive the partition's jobs in order.
func (q *PartitionedQueue) Dequeue(ctx context.Context, partition int) <-chan *Job {
	// Wrap the channel to track dequeue metrics
	dequeueChan := make(chan *Job)
	go func() {
		defer close(dequeueChan)
		for job := range q.partitions[partition] {
			select {
			case dequeueChan <- job:
				metrics.RecordQueueDequeue()
				metrics.UpdateQueuePartitionDepth(strconv.Itoa(partition), len(q.partitions[partition]))
				metrics.UpdateQueueSize(q.size())
			case <-ctx.Done():
				return
			}
		}
	}()
	return dequeueChan
}

// Partitions returns the number of partitions.
func (q *PartitionedQueue) Partitions() int {
	return q.numPartitions
}

// Len returns the current number of queued jobs across all partitions.
func (q *PartitionedQueue) Len(ctx context.Context) int {
	size := q.size()
	metrics.UpdateQueueSize(size)
	return size
}

// size sums the partition depths.
func (q *PartitionedQueue) size() int {
	n := 0
	for _, p := range q.partitions {
		n += len(p)
	}
	return n
}

// Close gracefully shuts down the queue.
func (q *PartitionedQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil // already closed
	}

	// Close the partition channels to signal consumers to stop
	for _, p := range q.partitions {
		close(p)
	}
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *PartitionedQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
