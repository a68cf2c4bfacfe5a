package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/workflow"
)

type greetInput struct {
	Name string `json:"name"`
}

type greetOutput struct {
	Greeting string `json:"greeting"`
}

func TestExecuteRaw_UnknownWorkflow(t *testing.T) {
	runner, _, _ := newTestRunner()

	_, err := runner.ExecuteRaw(context.Background(), "nope", nil, "corr")
	if !errors.Is(err, conduct.ErrWorkflowNotFound) {
		t.Fatalf("err = %v, want ErrWorkflowNotFound", err)
	}
	if conduct.KindOf(err) != conduct.KindNotFound {
		t.Errorf("kind = %v, want KindNotFound", conduct.KindOf(err))
	}
}

func TestExecuteRaw_SealsCompletedRun(t *testing.T) {
	runner, reg, store := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("greet", func(_ *workflow.Context, in greetInput) (greetOutput, error) {
		return greetOutput{Greeting: "hello " + in.Name}, nil
	}))

	input, _ := json.Marshal(greetInput{Name: "world"})
	run, err := runner.ExecuteRaw(context.Background(), "greet", input, "corr-seal")
	if err != nil {
		t.Fatalf("ExecuteRaw: %v", err)
	}

	if run.State != workflow.RunStateCompleted {
		t.Errorf("state = %q, want %q", run.State, workflow.RunStateCompleted)
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	var out greetOutput
	if err := json.Unmarshal(run.Output, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Greeting != "hello world" {
		t.Errorf("greeting = %q, want %q", out.Greeting, "hello world")
	}

	// The sealed run is persisted.
	stored, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.State != workflow.RunStateCompleted {
		t.Errorf("stored state = %q, want %q", stored.State, workflow.RunStateCompleted)
	}
	if stored.CorrelationID != "corr-seal" {
		t.Errorf("stored correlation = %q, want %q", stored.CorrelationID, "corr-seal")
	}
}

func TestExecuteRaw_SealsFailedRun(t *testing.T) {
	runner, reg, store := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("doomed", func(_ *workflow.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("boom")
	}))

	run, err := runner.ExecuteRaw(context.Background(), "doomed", nil, "corr-fail")
	if err == nil {
		t.Fatal("expected handler error")
	}
	if run.State != workflow.RunStateFailed {
		t.Errorf("state = %q, want %q", run.State, workflow.RunStateFailed)
	}
	if run.Error == "" {
		t.Error("run.Error empty, want failure message")
	}

	stored, getErr := store.GetRun(context.Background(), run.ID)
	if getErr != nil {
		t.Fatalf("GetRun: %v", getErr)
	}
	if stored.State != workflow.RunStateFailed {
		t.Errorf("stored state = %q, want %q", stored.State, workflow.RunStateFailed)
	}
}

func TestExecuteRaw_CorrelationIDInContext(t *testing.T) {
	runner, reg, _ := newTestRunner()

	var seen string
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("corr-check", func(wf *workflow.Context, _ struct{}) (struct{}, error) {
		seen = conduct.CorrelationIDFromContext(wf.Context())
		return struct{}{}, nil
	}))

	if _, err := runner.ExecuteRaw(context.Background(), "corr-check", nil, "corr-ctx"); err != nil {
		t.Fatalf("ExecuteRaw: %v", err)
	}
	if seen != "corr-ctx" {
		t.Errorf("correlation in context = %q, want %q", seen, "corr-ctx")
	}
}

func TestRegistry_ReplacesOnReRegister(t *testing.T) {
	runner, reg, _ := newTestRunner()

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("dup", func(_ *workflow.Context, _ struct{}) (string, error) {
		return "first", nil
	}))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("dup", func(_ *workflow.Context, _ struct{}) (string, error) {
		return "second", nil
	}))

	run, err := runner.ExecuteRaw(context.Background(), "dup", nil, "corr-dup")
	if err != nil {
		t.Fatalf("ExecuteRaw: %v", err)
	}

	var out string
	if err := json.Unmarshal(run.Output, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out != "second" {
		t.Errorf("output = %q, want the replacing registration", out)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := workflow.NewRegistry()
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("a", func(_ *workflow.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	}))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("b", func(_ *workflow.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	}))

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("names = %v, want 2 entries", names)
	}
}
