package model

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of an ingestion job.
type JobState string

// Job lifecycle. The pipeline moves jobs strictly forward; the three
// working states may each fall through to failed.
const (
	JobQueued         JobState = "queued"
	JobParsing        JobState = "parsing"
	JobCanonicalizing JobState = "canonicalizing"
	JobPersisting     JobState = "persisting"
	JobCompleted      JobState = "completed"
	JobFailed         JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// jobTransitions enumerates the legal state machine edges. The
// persisting -> queued edge re-queues a job whose storage attempt
// failed but may be retried.
var jobTransitions = map[JobState][]JobState{
	JobQueued:         {JobParsing},
	JobParsing:        {JobCanonicalizing, JobFailed},
	JobCanonicalizing: {JobPersisting, JobFailed},
	JobPersisting:     {JobCompleted, JobFailed, JobQueued},
}

// CanTransition reports whether from -> to is a legal edge.
func (s JobState) CanTransition(to JobState) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Job tracks one file ingestion from enqueue to terminal state. Owned
// exclusively by the ingestion pipeline; nothing else mutates it.
type Job struct {
	ID             uuid.UUID
	UserID         string
	FileRef        string   // path or reference to the raw export
	Provider       Provider // declared by the submitter; empty means detect
	State          JobState
	Attempts       int      // executions so far, including the current one
	PersistedCount int      // records upserted by the last attempt (would-be count for dry runs)
	SkippedCount   int      // records dropped at canonicalization
	WarningCount   int      // partial-ingestion warnings attached
	Warnings       []string // human-readable warning lines
	ErrorLog       string   // terminal failure description, if any
	SourceHash     string   // sha256 of the file content, hex
	DryRun         bool     // parse and canonicalize only, never persist
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewJob builds a queued job for one source file.
func NewJob(userID, fileRef string, provider Provider) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		UserID:    userID,
		FileRef:   fileRef,
		Provider:  provider,
		State:     JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
