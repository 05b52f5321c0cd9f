// Package declare implements the bulk declaration pipeline: path
// enumeration, metadata building with streaming checksums, and parallel
// submission to the catalog.
package declare

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/catalog"
)

// TaskState is the lifecycle position of a single FileTask.
type TaskState string

const (
	TaskPending    TaskState = "PENDING"
	TaskBuilding   TaskState = "BUILDING"
	TaskSubmitting TaskState = "SUBMITTING"
	TaskSucceeded  TaskState = "SUCCEEDED"
	TaskFailed     TaskState = "FAILED"
)

// IsTerminal reports whether the state is terminal.
func IsTerminal(s TaskState) bool {
	return s == TaskSucceeded || s == TaskFailed
}

// FileTask is one candidate file moving through the pipeline.
//
// Created by the enumerator in PENDING; the builder fills Size, Checksums
// and Metadata (fields are only ever added); the submitter drives it to a
// terminal state. A task is owned by exactly one worker at a time, so the
// struct itself needs no locking.
type FileTask struct {
	// Path is the absolute source path.
	Path string

	// Size in bytes, set by the builder.
	Size int64

	// Checksums maps algorithm name to its rendered digest value.
	Checksums map[string]string

	// Metadata is the fully merged declaration record.
	Metadata catalog.Metadata

	state TaskState
}

// NewFileTask returns a PENDING task for path.
func NewFileTask(path string) *FileTask {
	return &FileTask{Path: path, state: TaskPending}
}

// State returns the task's current lifecycle state.
func (t *FileTask) State() TaskState { return t.state }

// transition performs a validated state change.
//
// The caller supplies the expected prior state so that double-dispatch bugs
// surface as errors instead of silent overwrites. The only legal cycle is
// SUBMITTING -> SUBMITTING (the bounded retry loop).
func (t *FileTask) transition(from, to TaskState) error {
	if t.state != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", t.Path, from, t.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", t.Path, from, to)
	}
	t.state = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskBuilding || to == TaskFailed
	case TaskBuilding:
		return to == TaskSubmitting || to == TaskFailed
	case TaskSubmitting:
		return to == TaskSubmitting || to == TaskSucceeded || to == TaskFailed
	default:
		return false
	}
}

// MarshalZerologObject lets tasks be logged as structured objects.
func (t *FileTask) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", t.Path).Str("state", string(t.state))
	if t.Size > 0 || t.state != TaskPending {
		e.Int64("size", t.Size)
	}
}

// DeclarationResult is the immutable outcome for one FileTask.
type DeclarationResult struct {
	// Path is the source path the result refers to.
	Path string `json:"path"`

	// OK is true when the file was declared or was already declared.
	OK bool `json:"ok"`

	// Duplicate is true when the catalog reported the file as already
	// declared. Implies OK.
	Duplicate bool `json:"duplicate,omitempty"`

	// FileID is the catalog-assigned identifier. Set only on success.
	FileID catalog.FileID `json:"file_id,omitempty"`

	// Error is the failure detail. Set only on failure.
	Error string `json:"error,omitempty"`

	// Attempts is how many declare calls were made for this task.
	Attempts int `json:"attempts"`
}

// MarshalZerologObject lets results be logged as structured objects.
func (r DeclarationResult) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", r.Path).Bool("ok", r.OK).Int("attempts", r.Attempts)
	if r.Duplicate {
		e.Bool("duplicate", true)
	}
	if r.FileID != "" {
		e.Stringer("file_id", r.FileID)
	}
	if r.Error != "" {
		e.Str("error", r.Error)
	}
}

// BatchReport aggregates every DeclarationResult of one invocation.
type BatchReport struct {
	// BatchID identifies the invocation in logs and reports.
	BatchID string `json:"batch_id"`

	Attempted  int `json:"attempted"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`

	// Results holds one entry per enumerated file, sorted by path.
	Results []DeclarationResult `json:"results"`
}

// NewBatchReport builds the aggregate from collected results. Results are
// sorted by path so reports are stable across worker interleavings.
func NewBatchReport(batchID string, results []DeclarationResult) *BatchReport {
	sorted := append([]DeclarationResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	r := &BatchReport{BatchID: batchID, Attempted: len(sorted), Results: sorted}
	for _, res := range sorted {
		if res.OK {
			r.Succeeded++
			if res.Duplicate {
				r.Duplicates++
			}
		} else {
			r.Failed++
		}
	}
	return r
}

// Failures returns the results for files that permanently failed.
func (r *BatchReport) Failures() []DeclarationResult {
	var failed []DeclarationResult
	for _, res := range r.Results {
		if !res.OK {
			failed = append(failed, res)
		}
	}
	return failed
}
