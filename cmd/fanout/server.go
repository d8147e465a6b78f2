package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/common/logger"
	redisw "github.com/lyzr/agentflow/common/redis"
	"github.com/lyzr/agentflow/events"
	"github.com/lyzr/agentflow/workflow"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // demo server; lock this down behind a real origin allowlist in production
	},
}

const eventChannelPrefix = "agentflow:events:"

// hitlRequestStream is the durable Redis stream a hitl-worker consumes
// from to resolve pending approval requests, distinct from the
// best-effort pubsub channel the websocket hub watches.
const hitlRequestStream = "agentflow:hitl:requests"

// Server fronts the websocket hub with an echo HTTP control plane:
// submit a run, list runs, post responses to a run's pending
// request_info, and stream that run's events over /ws.
type Server struct {
	hub   *Hub
	redis *redisw.Client
	log   *logger.Logger
	wf    *workflow.Workflow

	mu   sync.Mutex
	runs map[string]*workflow.Run
}

// NewServer creates a new Server instance.
func NewServer(hub *Hub, redisClient *redisw.Client, log *logger.Logger, wf *workflow.Workflow) *Server {
	return &Server{
		hub:   hub,
		redis: redisClient,
		log:   log,
		wf:    wf,
		runs:  make(map[string]*workflow.Run),
	}
}

// HandleWebSocket upgrades GET /ws?run_id=<id> and registers the
// connection with the hub under that run id.
func (s *Server) HandleWebSocket(c echo.Context) error {
	runID := c.QueryParam("run_id")
	if runID == "" {
		return c.String(http.StatusBadRequest, "run_id query parameter required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return nil
	}

	client := NewClient(s.hub, conn, runID)
	s.hub.register <- client
	s.log.Info("websocket connected", "run_id", runID, "remote", c.Request().RemoteAddr)

	go client.writePump()
	go client.readPump()
	return nil
}

// submitRunRequest is the POST /api/runs body.
type submitRunRequest struct {
	Input string `json:"input"`
}

// HandleSubmitRun starts a fresh run from the configured demo workflow
// and streams its events to Redis (and from there to the hub) as they
// occur.
func (s *Server) HandleSubmitRun(c echo.Context) error {
	var req submitRunRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "invalid request body")
	}

	runID := uuid.NewString()
	run := s.wf.RunStream(c.Request().Context(), req.Input)

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	go s.pumpEvents(runID, run.Events)

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// HandleListRuns lists the run ids this process knows about.
func (s *Server) HandleListRuns(c echo.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"runs": ids})
}

// respondRequest is the POST /api/runs/:id/responses body: request_id
// -> the decoded response value, matching spec.md §4.4's send_responses.
type respondRequest struct {
	Responses map[string]json.RawMessage `json:"responses"`
}

// HandleRespond resolves one or more pending request_info suspensions
// on a run and streams the continuation's events the same way.
func (s *Server) HandleRespond(c echo.Context) error {
	runID := c.Param("id")

	s.mu.Lock()
	run, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return c.String(http.StatusNotFound, "unknown run_id")
	}

	var req respondRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "invalid request body")
	}

	responses := make(map[string]any, len(req.Responses))
	for id, raw := range req.Responses {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return c.String(http.StatusBadRequest, "invalid response for "+id)
		}
		responses[id] = v
	}

	continuation := run.SendResponsesStreaming(c.Request().Context(), responses)
	go s.pumpEvents(runID, continuation)

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// pumpEvents marshals each event the run yields and publishes it to
// the run's Redis channel; the subscriber forwards it to the hub. This
// round-trips through Redis even in-process so the same code path
// works when the fanout server and the process running the workflow
// are split across machines.
func (s *Server) pumpEvents(runID string, ch <-chan events.Event) {
	ctx := context.Background()
	for ev := range ch {
		payload := map[string]any{"kind": string(ev.Kind()), "event": ev}
		data, err := json.Marshal(payload)
		if err != nil {
			s.log.Warn("event marshal failed", "run_id", runID, "error", err)
			continue
		}
		if err := s.redis.PublishEvent(ctx, eventChannelPrefix+runID, string(data)); err != nil {
			s.log.Warn("event publish failed", "run_id", runID, "error", err)
		}

		if reqEv, ok := ev.(events.RequestInfoEvent); ok {
			reqData, _ := json.Marshal(reqEv.Data)
			if _, err := s.redis.AddToStream(ctx, hitlRequestStream, map[string]interface{}{
				"run_id":      runID,
				"request_id":  reqEv.RequestID,
				"executor_id": reqEv.SourceExecutorID,
				"data":        string(reqData),
			}); err != nil {
				s.log.Warn("hitl stream publish failed", "run_id", runID, "error", err)
			}
		}
	}
}
