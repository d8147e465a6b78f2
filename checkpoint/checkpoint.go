// Package checkpoint implements the durable superstep-snapshot store
// of spec.md §4.4: save/load/delete/list plus the graph-signature guard
// that refuses to resume a checkpoint taken against a different graph.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/agentflow/message"
)

// PendingRequestEvent is the minimal shape a checkpoint needs to
// remember an outstanding request_info suspension across resume: just
// enough to re-surface the same RequestInfoEvent to the caller.
type PendingRequestEvent struct {
	RequestID    string `json:"request_id"`
	SourceID     string `json:"source_id"`
	RequestType  string `json:"request_type"`
	Payload      any    `json:"payload"`
}

// WorkflowCheckpoint is one durable superstep snapshot, per spec.md
// §3's data model.
type WorkflowCheckpoint struct {
	CheckpointID        string                          `json:"checkpoint_id"`
	WorkflowName         string                          `json:"workflow_name"`
	GraphSignatureHash    string                          `json:"graph_signature_hash"`
	PreviousCheckpointID *string                         `json:"previous_checkpoint_id"`
	Timestamp            time.Time                       `json:"timestamp"`
	MessagesByTarget      map[string][]message.Envelope  `json:"messages_by_target"`
	State                 map[string]any                 `json:"state"`
	PendingRequestInfoEvents map[string]PendingRequestEvent `json:"pending_request_info_events"`
	IterationCount        int                             `json:"iteration_count"`
	Metadata              map[string]any                  `json:"metadata"`
	Version               int                              `json:"version"`
}

// ErrNotFound is returned by Load when the id is unknown; Delete
// reports an unknown id as (false, nil) instead.
var ErrNotFound = errors.New("checkpoint: not found")

// GraphSignatureMismatchError is WorkflowCheckpointException's
// graph-changed variant (spec.md §4.4, §7).
type GraphSignatureMismatchError struct {
	Expected string
	Got      string
}

func (e *GraphSignatureMismatchError) Error() string {
	return fmt.Sprintf("workflow graph has changed: checkpoint signature %s does not match current graph signature %s", e.Got, e.Expected)
}

// CorruptedError wraps a checkpoint that failed to decode; list
// operations log and skip these rather than failing the whole list
// per spec.md §7's propagation policy.
type CorruptedError struct {
	CheckpointID string
	Cause        error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("checkpoint %s is corrupted: %v", e.CheckpointID, e.Cause)
}
func (e *CorruptedError) Unwrap() error { return e.Cause }

// Store is the checkpoint persistence interface of spec.md §4.4.
type Store interface {
	Save(ctx context.Context, cp *WorkflowCheckpoint) (string, error)
	Load(ctx context.Context, id string) (*WorkflowCheckpoint, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListCheckpoints(ctx context.Context, workflowName string) ([]*WorkflowCheckpoint, error)
	ListCheckpointIDs(ctx context.Context, workflowName string) ([]string, error)
	GetLatest(ctx context.Context, workflowName string) (*WorkflowCheckpoint, error)
}

// VerifySignature implements spec.md §4.4's graph-signature guard: a
// loaded checkpoint whose graph_signature_hash disagrees with the
// freshly rebuilt workflow's signature cannot be resumed.
func VerifySignature(cp *WorkflowCheckpoint, currentSignature string) error {
	if cp.GraphSignatureHash != currentSignature {
		return &GraphSignatureMismatchError{Expected: currentSignature, Got: cp.GraphSignatureHash}
	}
	return nil
}
