package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mirek/vita/internal/domain/model"
)

func TestPartitionedQueue_BasicOperations(t *testing.T) {
	q := NewPartitionedQueue(WithPartitions(2), WithPartitionSize(4))
	ctx := context.Background()

	// Test empty queue
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if p := q.Partitions(); p != 2 {
		t.Errorf("expected 2 partitions, got %d", p)
	}

	// Test enqueue
	job := model.NewJob("user-1", "/exports/fitbit.json", model.ProviderFitbit)
	if !q.Enqueue(ctx, job) {
		t.Error("expected enqueue to succeed")
	}

	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	// Test dequeue from the user's partition
	jobChan := q.Dequeue(ctx, q.PartitionFor("user-1"))
	got := <-jobChan
	if got.ID != job.ID {
		t.Errorf("expected job %s, got %s", job.ID, got.ID)
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestPartitionedQueue_StableRouting(t *testing.T) {
	q := NewPartitionedQueue(WithPartitions(4))

	for _, userID := range []string{"user-1", "user-2", "another"} {
		p := q.PartitionFor(userID)
		if p < 0 || p >= q.Partitions() {
			t.Errorf("partition %d for %s out of range", p, userID)
		}
		for i := 0; i < 10; i++ {
			if got := q.PartitionFor(userID); got != p {
				t.Errorf("expected stable partition %d for %s, got %d", p, userID, got)
			}
		}
	}
}

func TestPartitionedQueue_PerUserOrdering(t *testing.T) {
	q := NewPartitionedQueue(WithPartitions(4), WithPartitionSize(16))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		job := model.NewJob("user-1", strconv.Itoa(i), model.ProviderGarmin)
		if !q.Enqueue(ctx, job) {
			t.Fatalf("expected enqueue %d to succeed", i)
		}
	}

	jobChan := q.Dequeue(ctx, q.PartitionFor("user-1"))
	for i := 0; i < 5; i++ {
		got := <-jobChan
		if got.FileRef != strconv.Itoa(i) {
			t.Errorf("expected job %d, got %s", i, got.FileRef)
		}
	}
}

func TestPartitionedQueue_Backpressure(t *testing.T) {
	q := NewPartitionedQueue(WithPartitions(2), WithPartitionSize(1))
	ctx := context.Background()

	// Find a second user routed to the other partition
	userA := "user-a"
	userB := ""
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("user-%d", i)
		if q.PartitionFor(candidate) != q.PartitionFor(userA) {
			userB = candidate
			break
		}
	}

	// Fill userA's partition
	if !q.Enqueue(ctx, model.NewJob(userA, "a1", model.ProviderOura)) {
		t.Error("expected enqueue to succeed")
	}

	// Same partition is full
	if q.Enqueue(ctx, model.NewJob(userA, "a2", model.ProviderOura)) {
		t.Error("expected enqueue to fail when partition is full")
	}

	// A different partition still accepts
	if !q.Enqueue(ctx, model.NewJob(userB, "b1", model.ProviderOura)) {
		t.Error("expected enqueue to another partition to succeed")
	}

	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestPartitionedQueue_ConcurrentAccess(t *testing.T) {
	q := NewPartitionedQueue(WithPartitions(4), WithPartitionSize(64))
	ctx := context.Background()
	numUsers := 8
	jobsPerUser := 25

	var (
		mu       sync.Mutex
		received = make(map[string][]string)
	)

	// One consumer per partition
	var consumers sync.WaitGroup
	for p := 0; p < q.Partitions(); p++ {
		consumers.Add(1)
		go func(partition int) {
			defer consumers.Done()
			for job := range q.Dequeue(ctx, partition) {
				mu.Lock()
				received[job.UserID] = append(received[job.UserID], job.FileRef)
				mu.Unlock()
			}
		}(p)
	}

	// One producer per user
	var producers sync.WaitGroup
	for u := 0; u < numUsers; u++ {
		producers.Add(1)
		go func(user int) {
			defer producers.Done()
			userID := fmt.Sprintf("user-%d", user)
			for j := 0; j < jobsPerUser; j++ {
				job := model.NewJob(userID, strconv.Itoa(j), model.ProviderFitbit)
				for !q.Enqueue(ctx, job) {
					time.Sleep(time.Millisecond)
				}
			}
		}(u)
	}

	producers.Wait()
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	consumers.Wait()

	// Every job arrived, and each user's jobs arrived in submission order
	for u := 0; u < numUsers; u++ {
		userID := fmt.Sprintf("user-%d", u)
		refs := received[userID]
		if len(refs) != jobsPerUser {
			t.Errorf("expected %d jobs for %s, got %d", jobsPerUser, userID, len(refs))
			continue
		}
		for j, ref := range refs {
			if ref != strconv.Itoa(j) {
				t.Errorf("expected job %d for %s, got %s", j, userID, ref)
				break
			}
		}
	}
}

func TestPartitionedQueue_GracefulShutdown(t *testing.T) {
	q := NewPartitionedQueue(WithPartitions(1), WithPartitionSize(4))
	ctx := context.Background()

	job1 := model.NewJob("user-1", "a", model.ProviderManual)
	job2 := model.NewJob("user-1", "b", model.ProviderManual)
	if !q.Enqueue(ctx, job1) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, job2) {
		t.Error("expected enqueue to succeed")
	}

	// Check initial state
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	// Close the queue
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}

	// Enqueue after closing should fail
	if q.Enqueue(ctx, model.NewJob("user-1", "c", model.ProviderManual)) {
		t.Error("expected enqueue to fail after closing")
	}

	// Buffered jobs drain, then the dequeue channel closes
	jobChan := q.Dequeue(ctx, 0)
	drained := 0
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-jobChan:
			if !ok {
				if drained != 2 {
					t.Errorf("expected 2 drained jobs, got %d", drained)
				}
				goto channelClosed
			}
			drained++
		case <-timeout:
			t.Error("expected dequeue channel to be closed within timeout")
			return
		}
	}
channelClosed:

	// Close again should not error
	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
