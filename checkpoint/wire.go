package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/lyzr/agentflow/message"
)

// wireCheckpoint mirrors WorkflowCheckpoint with each State value,
// message payload and pending-request payload run through encodeValue,
// so json.Marshal produces the {"$type","$value"} envelopes spec.md
// §4.4 requires for non-JSON types. encodeValue descends into Tuple,
// Set and FrozenSet elements but writes plain map[string]any and []any
// values as they are, so a non-JSON value nested inside one of those
// is not enveloped; Metadata is written as is. Every store, MemoryStore
// included, persists checkpoints in this format.
type wireCheckpoint struct {
	CheckpointID             string                     `json:"checkpoint_id"`
	WorkflowName             string                     `json:"workflow_name"`
	GraphSignatureHash       string                     `json:"graph_signature_hash"`
	PreviousCheckpointID     *string                    `json:"previous_checkpoint_id"`
	Timestamp                string                     `json:"timestamp"`
	MessagesByTarget         map[string][]wireEnvelope  `json:"messages_by_target"`
	State                    map[string]any             `json:"state"`
	PendingRequestInfoEvents map[string]wirePendingEvent `json:"pending_request_info_events"`
	IterationCount           int                        `json:"iteration_count"`
	Metadata                 map[string]any             `json:"metadata"`
	Version                  int                        `json:"version"`
}

type wireEnvelope struct {
	Payload       any                    `json:"payload"`
	SourceID      string                 `json:"source_id"`
	TargetID      string                 `json:"target_id"`
	TraceContexts []message.TraceContext `json:"trace_contexts,omitempty"`
	SourceSpanIDs []string               `json:"source_span_ids,omitempty"`
}

type wirePendingEvent struct {
	RequestID   string `json:"request_id"`
	SourceID    string `json:"source_id"`
	RequestType string `json:"request_type"`
	Payload     any    `json:"payload"`
}

// EncodeCheckpointJSON serializes a checkpoint to the file format of
// spec.md §4.4: one JSON document, opaque-enveloped where needed.
func EncodeCheckpointJSON(cp *WorkflowCheckpoint) ([]byte, error) {
	wire := wireCheckpoint{
		CheckpointID:         cp.CheckpointID,
		WorkflowName:         cp.WorkflowName,
		GraphSignatureHash:   cp.GraphSignatureHash,
		PreviousCheckpointID: cp.PreviousCheckpointID,
		Timestamp:            cp.Timestamp.Format(time.RFC3339Nano),
		IterationCount:       cp.IterationCount,
		Metadata:             cp.Metadata,
		Version:              cp.Version,
	}

	if cp.State != nil {
		state := make(map[string]any, len(cp.State))
		for k, v := range cp.State {
			ev, err := encodeValue(v)
			if err != nil {
				return nil, err
			}
			state[k] = ev
		}
		wire.State = state
	}

	if cp.MessagesByTarget != nil {
		wire.MessagesByTarget = make(map[string][]wireEnvelope, len(cp.MessagesByTarget))
		for target, envs := range cp.MessagesByTarget {
			wireEnvs := make([]wireEnvelope, 0, len(envs))
			for _, e := range envs {
				payload, err := encodeValue(e.Payload)
				if err != nil {
					return nil, err
				}
				wireEnvs = append(wireEnvs, wireEnvelope{
					Payload:       payload,
					SourceID:      e.SourceID,
					TargetID:      e.TargetID,
					TraceContexts: e.TraceContexts,
					SourceSpanIDs: e.SourceSpanIDs,
				})
			}
			wire.MessagesByTarget[target] = wireEnvs
		}
	}

	if cp.PendingRequestInfoEvents != nil {
		wire.PendingRequestInfoEvents = make(map[string]wirePendingEvent, len(cp.PendingRequestInfoEvents))
		for id, ev := range cp.PendingRequestInfoEvents {
			payload, err := encodeValue(ev.Payload)
			if err != nil {
				return nil, err
			}
			wire.PendingRequestInfoEvents[id] = wirePendingEvent{
				RequestID:   ev.RequestID,
				SourceID:    ev.SourceID,
				RequestType: ev.RequestType,
				Payload:     payload,
			}
		}
	}

	return json.Marshal(wire)
}

// DecodeCheckpointJSON is the inverse of EncodeCheckpointJSON.
func DecodeCheckpointJSON(data []byte) (*WorkflowCheckpoint, error) {
	var wire wireCheckpoint
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return nil, err
	}

	cp := &WorkflowCheckpoint{
		CheckpointID:         wire.CheckpointID,
		WorkflowName:         wire.WorkflowName,
		GraphSignatureHash:   wire.GraphSignatureHash,
		PreviousCheckpointID: wire.PreviousCheckpointID,
		Timestamp:            ts,
		IterationCount:       wire.IterationCount,
		Metadata:             wire.Metadata,
		Version:              wire.Version,
	}

	if wire.State != nil {
		cp.State = make(map[string]any, len(wire.State))
		for k, v := range wire.State {
			dv, err := decodeValue(v)
			if err != nil {
				return nil, err
			}
			cp.State[k] = dv
		}
	}

	if wire.MessagesByTarget != nil {
		cp.MessagesByTarget = make(map[string][]message.Envelope, len(wire.MessagesByTarget))
		for target, envs := range wire.MessagesByTarget {
			native := make([]message.Envelope, 0, len(envs))
			for _, e := range envs {
				payload, err := decodeValue(e.Payload)
				if err != nil {
					return nil, err
				}
				native = append(native, message.Envelope{
					Payload:       payload,
					SourceID:      e.SourceID,
					TargetID:      e.TargetID,
					TraceContexts: e.TraceContexts,
					SourceSpanIDs: e.SourceSpanIDs,
				})
			}
			cp.MessagesByTarget[target] = native
		}
	}

	if wire.PendingRequestInfoEvents != nil {
		cp.PendingRequestInfoEvents = make(map[string]PendingRequestEvent, len(wire.PendingRequestInfoEvents))
		for id, ev := range wire.PendingRequestInfoEvents {
			payload, err := decodeValue(ev.Payload)
			if err != nil {
				return nil, err
			}
			cp.PendingRequestInfoEvents[id] = PendingRequestEvent{
				RequestID:   ev.RequestID,
				SourceID:    ev.SourceID,
				RequestType: ev.RequestType,
				Payload:     payload,
			}
		}
	}

	return cp, nil
}
