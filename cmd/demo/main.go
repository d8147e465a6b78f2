// Command demo runs a tiny two-executor workflow end to end and
// prints every event the scheduler emits, the way the teacher's
// service mains print their startup log lines — except here the
// "service" is a single workflow run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"reflect"

	"github.com/lyzr/agentflow/checkpoint"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/events"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/state"
	"github.com/lyzr/agentflow/wfcontext"
	"github.com/lyzr/agentflow/workflow"
)

// upperExecutor uppercases a string and forwards it.
type upperExecutor struct{ *executor.Base }

func newUpperExecutor() *upperExecutor {
	e := &upperExecutor{Base: executor.NewBase("upper")}
	e.DeclareOutput(reflect.TypeOf(""))
	e.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sources []string, shared *state.SharedState, wctx wfcontext.Context) error {
		return wctx.SendMessage(upperCase(in))
	}))
	return e
}

func upperCase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// exclaimExecutor appends "!" and yields the final output.
type exclaimExecutor struct{ *executor.Base }

func newExclaimExecutor() *exclaimExecutor {
	e := &exclaimExecutor{Base: executor.NewBase("exclaim")}
	e.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sources []string, shared *state.SharedState, wctx wfcontext.Context) error {
		wctx.YieldOutput(in + "!")
		return nil
	}))
	return e
}

func main() {
	input := flag.String("input", "hello from agentflow", "the string to run through the demo workflow")
	checkpointDir := flag.String("checkpoint-dir", "", "if set, checkpoint each superstep to this directory")
	flag.Parse()

	log := logger.New("info", "text")
	tel := telemetry.New(telemetry.Options{ServiceName: "agentflow-demo"}, log)

	var store checkpoint.Store
	if *checkpointDir != "" {
		fs, err := checkpoint.NewFileStore(*checkpointDir, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "checkpoint store: %v\n", err)
			os.Exit(1)
		}
		store = fs
	}

	b := workflow.NewBuilder("demo", tel, log)
	b.AddExecutor(newUpperExecutor())
	b.AddExecutor(newExclaimExecutor())
	b.AddEdge("upper", "exclaim", nil)
	b.Start("upper")
	if store != nil {
		b.WithCheckpointing(store)
	}

	wf, err := b.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build: %v\n", err)
		os.Exit(1)
	}

	run := wf.RunStream(context.Background(), *input)
	for ev := range run.Events {
		printEvent(ev)
	}
}

func printEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.WorkflowOutputEvent:
		fmt.Printf("[output] data=%v\n", e.Data)
	case events.WorkflowStatusEvent:
		fmt.Printf("[status] state=%s err=%v\n", e.State, e.Err)
	case events.RequestInfoEvent:
		data, _ := json.Marshal(e.Data)
		fmt.Printf("[request_info] id=%s executor=%s data=%s\n", e.RequestID, e.SourceExecutorID, data)
	default:
		fmt.Printf("[event] kind=%s\n", ev.Kind())
	}
}
