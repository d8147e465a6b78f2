// Package worker implements the HITL approval worker: it consumes
// pending request_info approvals the fanout server pushed to a Redis
// stream and resolves them by calling back into the fanout HTTP API,
// the way the teacher's HITLWorker drains a request stream and
// forwards a decision through its own SDK.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/logger"
	redisw "github.com/lyzr/agentflow/common/redis"
)

const (
	requestStream = "agentflow:hitl:requests"
	consumerGroup = "hitl_workers"
)

// Decider resolves a pending approval request, given its opaque
// payload data, into an approval decision. The default is
// AutoApprove; a real deployment would prompt a human instead.
type Decider func(data string) (approved bool, comment string)

// AutoApprove approves every request, useful for demos and tests.
func AutoApprove(data string) (bool, string) {
	return true, "auto-approved by hitl-worker"
}

// HITLWorker drains requestStream and POSTs a decision back to the
// fanout server for each pending request.
type HITLWorker struct {
	redis        *redisw.Client
	log          *logger.Logger
	fanoutURL    string
	consumerName string
	decide       Decider
	httpClient   *http.Client
}

// NewHITLWorker creates a worker that resolves approvals against
// fanoutBaseURL (e.g. "http://localhost:8088") using decide.
func NewHITLWorker(redisClient *redisw.Client, fanoutBaseURL string, log *logger.Logger, decide Decider) *HITLWorker {
	if decide == nil {
		decide = AutoApprove
	}
	return &HITLWorker{
		redis:        redisClient,
		log:          log,
		fanoutURL:    fanoutBaseURL,
		consumerName: "hitl_worker_" + uuid.NewString()[:8],
		decide:       decide,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Start blocks, processing requests until ctx is cancelled.
func (w *HITLWorker) Start(ctx context.Context) error {
	if err := w.redis.CreateStreamGroup(ctx, requestStream, consumerGroup); err != nil {
		return fmt.Errorf("hitl worker: create consumer group: %w", err)
	}
	w.log.Info("hitl worker started", "stream", requestStream, "consumer", w.consumerName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := w.redis.ReadFromStreamGroup(ctx, consumerGroup, w.consumerName, requestStream, 10, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("read from stream failed", "error", err)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.handleMessage(ctx, msg.ID, msg.Values)
			}
		}
	}
}

func (w *HITLWorker) handleMessage(ctx context.Context, messageID string, values map[string]interface{}) {
	runID, _ := values["run_id"].(string)
	requestID, _ := values["request_id"].(string)
	data, _ := values["data"].(string)

	approved, comment := w.decide(data)
	if err := w.respond(ctx, runID, requestID, approved, comment); err != nil {
		w.log.Error("hitl response failed", "run_id", runID, "request_id", requestID, "error", err)
		return
	}

	if err := w.redis.AckStreamMessage(ctx, requestStream, consumerGroup, messageID); err != nil {
		w.log.Warn("ack failed", "message_id", messageID, "error", err)
	}
}

func (w *HITLWorker) respond(ctx context.Context, runID, requestID string, approved bool, comment string) error {
	body, err := json.Marshal(map[string]any{
		"responses": map[string]any{
			requestID: map[string]any{"approved": approved, "comment": comment},
		},
	})
	if err != nil {
		return err
	}

	url := w.fanoutURL + "/api/runs/" + runID + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fanout responded %d", resp.StatusCode)
	}
	return nil
}
