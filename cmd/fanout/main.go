// Command fanout is a thin websocket front-end over one in-process
// scheduler's event stream (spec.md §5 Non-goals): it is not a
// distribution mechanism, it just lets a browser or CLI client watch
// a run and post request_info responses over HTTP instead of an SDK
// call.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/logger"
	redisw "github.com/lyzr/agentflow/common/redis"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/state"
	"github.com/lyzr/agentflow/wfcontext"
	"github.com/lyzr/agentflow/workflow"
)

func main() {
	opts, err := config.Load("fanout")
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(opts.LogLevel, opts.LogFormat)
	tel := telemetry.New(telemetry.Options{ServiceName: opts.ServiceName}, log)

	redisAddr := opts.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rawRedis := goredis.NewClient(&goredis.Options{Addr: redisAddr})
	ctx := context.Background()
	if err := rawRedis.Ping(ctx).Err(); err != nil {
		log.Error("redis connect failed", "addr", redisAddr, "error", err)
		os.Exit(1)
	}
	redisClient := redisw.NewClient(rawRedis, log)
	log.Info("connected to redis", "addr", redisAddr)

	hub := NewHub()
	go hub.Run()

	subscriber := NewRedisSubscriber(redisClient, hub, log)
	go subscriber.Start(ctx)

	wf, err := buildDemoWorkflow(tel, log)
	if err != nil {
		log.Error("workflow build failed", "error", err)
		os.Exit(1)
	}

	server := NewServer(hub, redisClient, log, wf)

	e := echo.New()
	e.HideBanner = true
	e.GET("/ws", server.HandleWebSocket)
	e.POST("/api/runs", server.HandleSubmitRun)
	e.GET("/api/runs", server.HandleListRuns)
	e.POST("/api/runs/:id/responses", server.HandleRespond)
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "OK") })

	addr := ":" + itoa(opts.FanoutPort)
	go func() {
		log.Info("fanout service listening", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down fanout service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", "error", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// approvalGateExecutor pauses for human approval via request_info and,
// once answered, yields "approved: <comment>" or "rejected: <comment>"
// as the run's output; it does not forward its input onward. This is
// the minimal HITL shape the fanout demo streams.
type approvalGateExecutor struct{ *executor.Base }

// ApprovalResponse is the response type the demo's approval_gate
// requests; the fanout HTTP API's /responses endpoint supplies one of
// these per pending request_id.
type ApprovalResponse struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

func newApprovalGateExecutor() *approvalGateExecutor {
	e := &approvalGateExecutor{Base: executor.NewBase("approval_gate")}
	e.DeclareOutput(reflect.TypeOf(""))
	e.DeclareRequestType(reflect.TypeOf(ApprovalResponse{}))
	e.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sources []string, shared *state.SharedState, wctx wfcontext.Context) error {
		reqID := wctx.RequestInfo(in, reflect.TypeOf(ApprovalResponse{}))
		shared.Set("approval_gate:pending:"+reqID, in)
		return nil
	}))
	e.On(executor.HandlerFunc[ApprovalResponse](func(ctx context.Context, resp ApprovalResponse, sources []string, shared *state.SharedState, wctx wfcontext.Context) error {
		if resp.Approved {
			wctx.YieldOutput("approved: " + resp.Comment)
		} else {
			wctx.YieldOutput("rejected: " + resp.Comment)
		}
		return nil
	}))
	return e
}

func buildDemoWorkflow(tel *telemetry.Telemetry, log *logger.Logger) (*workflow.Workflow, error) {
	b := workflow.NewBuilder("fanout-demo", tel, log)
	b.AddExecutor(newApprovalGateExecutor())
	b.Start("approval_gate")
	return b.Build()
}
