// Package queue provides the partitioned in-memory queue feeding the
// ingestion workers.
package queue

// Option applies a configuration option to the PartitionedQueue.
type Option func(*PartitionedQueue)

// WithPartitions sets the number of partitions.
func WithPartitions(n int) Option {
	return func(q *PartitionedQueue) {
		if n > 0 {
			q.numPartitions = n
		}
	}
}

// WithPartitionSize sets the buffer size of each partition channel.
func WithPartitionSize(size int) Option {
	return func(q *PartitionedQueue) {
		if size > 0 {
			q.partitionSize = size
		}
	}
}
