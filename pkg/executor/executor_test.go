package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jllopis/switchboard/pkg/audit"
	"github.com/jllopis/switchboard/pkg/core"
	swerrors "github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/enginetest"
	"github.com/jllopis/switchboard/pkg/registry"
)

var caller = core.CallerContext{ID: "user-1", SessionID: "s-1", Location: "Lisbon"}

func modes() map[string][]Option {
	return map[string][]Option{
		"sequential": nil,
		"parallel":   {WithParallel(0)},
		"bounded":    {WithParallel(1)},
	}
}

func newRegistry(t *testing.T, descs ...registry.Descriptor) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, d := range descs {
		reg.MustRegister(d)
	}
	reg.Seal()
	return reg
}

func assertSettled(t *testing.T, plan *core.ExecutionPlan) {
	t.Helper()
	for _, task := range plan.Tasks {
		switch task.Status {
		case core.TaskStatusCompleted:
			if task.Result == nil || task.Error != nil {
				t.Errorf("task %s completed with result=%v error=%v", task.ID, task.Result, task.Error)
			}
		case core.TaskStatusFailed:
			if task.Result != nil || task.Error == nil {
				t.Errorf("task %s failed with result=%v error=%v", task.ID, task.Result, task.Error)
			}
		default:
			t.Errorf("task %s left in %s", task.ID, task.Status)
		}
	}
}

func TestExecutePartialFailureKeepsOrder(t *testing.T) {
	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			rec := &enginetest.RecordingExecutor{
				Results: map[string]any{"b": "ok"},
				Errors:  map[string]error{"a": errors.New("upstream 500")},
			}
			reg := newRegistry(t, enginetest.Descriptor("svc", rec, "a", "b"))
			a := core.NewTask("svc", "a", nil)
			b := core.NewTask("svc", "b", nil)
			plan := core.NewExecutionPlan("run", nil, a, b)

			got := New(reg, opts...).Execute(context.Background(), plan, caller)

			if got != plan || got.Len() != 2 || got.Tasks[0] != a || got.Tasks[1] != b {
				t.Fatalf("plan order or identity changed")
			}
			assertSettled(t, got)
			if a.Status != core.TaskStatusFailed || a.Error.Code != swerrors.CodeExecution || a.Error.Message != "upstream 500" {
				t.Errorf("unexpected first task %+v / %+v", a, a.Error)
			}
			if b.Status != core.TaskStatusCompleted || b.Result.Value != "ok" {
				t.Errorf("unexpected second task %+v", b)
			}
		})
	}
}

func TestExecuteUnresolvableTasksFailWithoutInvocation(t *testing.T) {
	rec := &enginetest.RecordingExecutor{Results: map[string]any{"get_balance": 10}}
	reg := newRegistry(t, enginetest.Descriptor("billing", rec, "get_balance"))
	ghost := core.NewTask("ghost", "x", nil)
	denied := core.NewTask("billing", "send_money", nil)
	ok := core.NewTask("billing", "get_balance", nil)

	plan := New(reg).Execute(context.Background(), core.NewExecutionPlan("run", nil, ghost, denied, ok), caller)

	assertSettled(t, plan)
	if ghost.Error.Code != swerrors.CodeUnknownAgent {
		t.Errorf("expected unknown agent, got %v", ghost.Error)
	}
	if denied.Error.Code != swerrors.CodeActionNotAllowed {
		t.Errorf("expected action not allowed, got %v", denied.Error)
	}
	if ok.Status != core.TaskStatusCompleted {
		t.Errorf("expected valid task to complete")
	}
	if rec.CallCount("") != 1 {
		t.Errorf("expected exactly one invocation, got %d", rec.CallCount(""))
	}
}

func TestExecuteMergesCallerContext(t *testing.T) {
	rec := &enginetest.RecordingExecutor{}
	reg := newRegistry(t, enginetest.Descriptor("svc", rec, "do"))
	task := core.NewTask("svc", "do", map[string]any{"q": 1, "caller_id": "spoofed"})

	New(reg).Execute(context.Background(), core.NewExecutionPlan("run", nil, task), caller)

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one call")
	}
	params := calls[0].Params
	if params["caller_id"] != "user-1" || params["session_id"] != "s-1" || params["caller_location"] != "Lisbon" || params["q"] != 1 {
		t.Errorf("unexpected params %v", params)
	}
	if calls[0].Caller.ID != "user-1" {
		t.Errorf("caller not passed through")
	}
	if task.Params["caller_id"] != "spoofed" {
		t.Errorf("task params must not be mutated")
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	rec := &enginetest.RecordingExecutor{Panics: map[string]any{"boom": "nil map"}}
	reg := newRegistry(t, enginetest.Descriptor("svc", rec, "boom", "fine"))
	boom := core.NewTask("svc", "boom", nil)
	fine := core.NewTask("svc", "fine", nil)

	New(reg).Execute(context.Background(), core.NewExecutionPlan("run", nil, boom, fine), caller)

	if boom.Status != core.TaskStatusFailed || boom.Error.Code != swerrors.CodeExecution {
		t.Errorf("expected panic to fail task, got %+v", boom.Error)
	}
	if fine.Status != core.TaskStatusCompleted {
		t.Errorf("expected following task to complete")
	}
}

func TestExecuteValidatesParams(t *testing.T) {
	rec := &enginetest.RecordingExecutor{}
	reg := newRegistry(t, registry.Descriptor{
		Key:      "billing",
		Name:     "Billing",
		Actions:  []registry.ActionSpec{{Name: "get_balance", Params: []registry.ParamSpec{{Name: "account", Type: registry.TypeString, Required: true}}}},
		Executor: rec,
	})
	task := core.NewTask("billing", "get_balance", map[string]any{})

	New(reg).Execute(context.Background(), core.NewExecutionPlan("run", nil, task), caller)

	if task.Error == nil || task.Error.Code != swerrors.CodeInvalidInput {
		t.Fatalf("expected invalid input, got %+v", task.Error)
	}
	if rec.CallCount("") != 0 {
		t.Errorf("executor must not be called with invalid params")
	}
}

func TestExecuteCancelledBeforeDispatch(t *testing.T) {
	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			rec := &enginetest.RecordingExecutor{}
			reg := newRegistry(t, enginetest.Descriptor("svc", rec, "a", "b"))
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			plan := New(reg, opts...).Execute(ctx, core.NewExecutionPlan("run", nil,
				core.NewTask("svc", "a", nil), core.NewTask("svc", "b", nil)), caller)

			assertSettled(t, plan)
			for _, task := range plan.Tasks {
				if task.Error == nil || task.Error.Code != swerrors.CodeTimeout {
					t.Errorf("expected timeout, got %+v", task.Error)
				}
			}
			if rec.CallCount("") != 0 {
				t.Errorf("no task may be invoked after cancellation")
			}
		})
	}
}

func TestExecuteStopsDispatchAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &enginetest.RecordingExecutor{
		Hook: func(context.Context, string, map[string]any) (any, error) {
			cancel()
			return "done", nil
		},
	}
	reg := newRegistry(t, enginetest.Descriptor("svc", rec, "a", "b"))
	first := core.NewTask("svc", "a", nil)
	second := core.NewTask("svc", "b", nil)

	New(reg).Execute(ctx, core.NewExecutionPlan("run", nil, first, second), caller)

	if first.Status != core.TaskStatusCompleted {
		t.Errorf("in-flight task should finish, got %s", first.Status)
	}
	if second.Status != core.TaskStatusFailed || second.Error.Code != swerrors.CodeTimeout {
		t.Errorf("expected pending task to time out, got %+v", second.Error)
	}
	if rec.CallCount("b") != 0 {
		t.Errorf("second task must not be invoked")
	}
}

func TestExecuteTaskTimeout(t *testing.T) {
	rec := &enginetest.RecordingExecutor{Delay: time.Second}
	reg := newRegistry(t, enginetest.Descriptor("svc", rec, "slow"))
	task := core.NewTask("svc", "slow", nil)

	New(reg, WithTaskTimeout(10*time.Millisecond)).Execute(context.Background(), core.NewExecutionPlan("run", nil, task), caller)

	if task.Error == nil || task.Error.Code != swerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %+v", task.Error)
	}
}

func TestExecuteResolvesResultRefs(t *testing.T) {
	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			rec := &enginetest.RecordingExecutor{
				Delay:   5 * time.Millisecond,
				Results: map[string]any{"get_balance": map[string]any{"balance": 42.5}},
			}
			reg := newRegistry(t, enginetest.Descriptor("billing", rec, "get_balance", "notify"))
			up := core.NewTask("billing", "get_balance", nil)
			down := core.NewTask("billing", "notify", map[string]any{
				"amount": core.ResultRef{TaskID: up.ID, Field: "balance"},
			})
			down.DependsOn = []string{up.ID}

			New(reg, opts...).Execute(context.Background(), core.NewExecutionPlan("run", nil, up, down), caller)

			if down.Status != core.TaskStatusCompleted {
				t.Fatalf("expected dependent task to complete, got %+v", down.Error)
			}
			var got any
			for _, c := range rec.Calls() {
				if c.Action == "notify" {
					got = c.Params["amount"]
				}
			}
			if got != 42.5 {
				t.Errorf("expected resolved amount, got %v", got)
			}
			if _, ok := down.Params["amount"].(core.ResultRef); !ok {
				t.Errorf("task params must keep the reference")
			}
		})
	}
}

func TestExecuteFailedDependencyFailsDependent(t *testing.T) {
	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			rec := &enginetest.RecordingExecutor{Errors: map[string]error{"get_balance": errors.New("down")}}
			reg := newRegistry(t, enginetest.Descriptor("billing", rec, "get_balance", "notify"))
			up := core.NewTask("billing", "get_balance", nil)
			down := core.NewTask("billing", "notify", map[string]any{
				"amount": core.ResultRef{TaskID: up.ID, Field: "balance"},
			})

			New(reg, opts...).Execute(context.Background(), core.NewExecutionPlan("run", nil, up, down), caller)

			assertSettled(t, core.NewExecutionPlan("run", nil, up, down))
			if down.Status != core.TaskStatusFailed || down.Error.Code != swerrors.CodeExecution {
				t.Fatalf("expected dependent failure, got %+v", down.Error)
			}
			if rec.CallCount("notify") != 0 {
				t.Errorf("dependent must not be invoked")
			}
		})
	}
}

func TestExecuteTreatsReferenceShapedMapsAsValues(t *testing.T) {
	for name, opts := range modes() {
		t.Run(name, func(t *testing.T) {
			rec := &enginetest.RecordingExecutor{Results: map[string]any{"tag": "ok"}}
			reg := newRegistry(t, enginetest.Descriptor("crm", rec, "tag"))
			meta := map[string]any{"$task": "onboarding", "$field": "id"}
			task := core.NewTask("crm", "tag", map[string]any{"meta": meta})

			New(reg, opts...).Execute(context.Background(), core.NewExecutionPlan("run", nil, task), caller)

			if task.Status != core.TaskStatusCompleted {
				t.Fatalf("expected completed task, got %+v", task.Error)
			}
			calls := rec.Calls()
			if len(calls) != 1 {
				t.Fatalf("expected one call, got %d", len(calls))
			}
			got, ok := calls[0].Params["meta"].(map[string]any)
			if !ok || got["$task"] != "onboarding" {
				t.Errorf("map param must pass through unchanged, got %#v", calls[0].Params["meta"])
			}
		})
	}
}

// settledView is the observable outcome of one task, comparable across modes.
type settledView struct {
	Agent  string
	Action string
	Status core.TaskStatus
	Code   string
	Value  any
}

func TestExecuteParallelMatchesSequential(t *testing.T) {
	tests := []struct {
		name  string
		build func() *core.ExecutionPlan
	}{
		{"independent with failure", func() *core.ExecutionPlan {
			return core.NewExecutionPlan("run", nil,
				core.NewTask("svc", "fail", nil),
				core.NewTask("svc", "balance", nil),
				core.NewTask("svc", "echo", map[string]any{"msg": "hi"}))
		}},
		{"chain through refs", func() *core.ExecutionPlan {
			a := core.NewTask("svc", "balance", nil)
			b := core.NewTask("svc", "echo", map[string]any{"msg": core.ResultRef{TaskID: a.ID, Field: "balance"}})
			c := core.NewTask("svc", "echo", map[string]any{"msg": core.ResultRef{TaskID: b.ID}})
			return core.NewExecutionPlan("run", nil, a, b, c)
		}},
		{"refs mixed with failures", func() *core.ExecutionPlan {
			ok := core.NewTask("svc", "balance", nil)
			bad := core.NewTask("svc", "fail", nil)
			fromOK := core.NewTask("svc", "echo", map[string]any{"msg": core.ResultRef{TaskID: ok.ID, Field: "balance"}})
			fromBad := core.NewTask("svc", "echo", map[string]any{"msg": core.ResultRef{TaskID: bad.ID}})
			fromBad.DependsOn = []string{bad.ID}
			missingField := core.NewTask("svc", "echo", map[string]any{"msg": core.ResultRef{TaskID: ok.ID, Field: "nope"}})
			tail := core.NewTask("svc", "echo", map[string]any{"msg": "last"})
			return core.NewExecutionPlan("run", nil, ok, bad, fromBad, fromOK, missingField, tail)
		}},
		{"unknown action mid plan", func() *core.ExecutionPlan {
			a := core.NewTask("svc", "balance", nil)
			b := core.NewTask("svc", "transfer", nil)
			c := core.NewTask("svc", "echo", map[string]any{"msg": core.ResultRef{TaskID: a.ID}})
			return core.NewExecutionPlan("run", nil, a, b, c)
		}},
	}

	run := func(t *testing.T, plan *core.ExecutionPlan, opts ...Option) []settledView {
		t.Helper()
		rec := &enginetest.RecordingExecutor{
			Delay: time.Millisecond,
			Hook: func(_ context.Context, action string, params map[string]any) (any, error) {
				switch action {
				case "balance":
					return map[string]any{"balance": 42.5}, nil
				case "fail":
					return nil, errors.New("ledger locked")
				default:
					return params["msg"], nil
				}
			},
		}
		reg := newRegistry(t, enginetest.Descriptor("svc", rec, "balance", "fail", "echo"))
		New(reg, opts...).Execute(context.Background(), plan, caller)
		assertSettled(t, plan)

		out := make([]settledView, 0, plan.Len())
		for _, task := range plan.Tasks {
			v := settledView{Agent: task.AgentKey, Action: task.Action, Status: task.Status}
			if task.Error != nil {
				v.Code = string(task.Error.Code)
			}
			if task.Result != nil {
				v.Value = task.Result.Value
			}
			out = append(out, v)
		}
		return out
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := run(t, tt.build())
			for name, opts := range map[string][]Option{
				"parallel": {WithParallel(0)},
				"bounded":  {WithParallel(2)},
			} {
				got := run(t, tt.build(), opts...)
				if len(got) != len(want) {
					t.Fatalf("%s: %d tasks, want %d", name, len(got), len(want))
				}
				for i := range want {
					if fmt.Sprint(got[i]) != fmt.Sprint(want[i]) {
						t.Errorf("%s: task %d = %+v, sequential %+v", name, i, got[i], want[i])
					}
				}
			}
		})
	}
}

func TestExecuteParallelRunsConcurrently(t *testing.T) {
	rec := &enginetest.RecordingExecutor{Delay: 50 * time.Millisecond}
	reg := newRegistry(t, enginetest.Descriptor("svc", rec, "a", "b", "c", "d"))
	plan := core.NewExecutionPlan("run", nil,
		core.NewTask("svc", "a", nil), core.NewTask("svc", "b", nil),
		core.NewTask("svc", "c", nil), core.NewTask("svc", "d", nil))

	New(reg, WithParallel(0)).Execute(context.Background(), plan, caller)

	assertSettled(t, plan)
	if rec.MaxInFlight() < 2 {
		t.Errorf("expected concurrent calls, max in flight %d", rec.MaxInFlight())
	}
	for i, action := range []string{"a", "b", "c", "d"} {
		if plan.Tasks[i].Action != action {
			t.Errorf("order changed at %d", i)
		}
	}
}

func TestExecuteParallelRespectsLimit(t *testing.T) {
	rec := &enginetest.RecordingExecutor{Delay: 20 * time.Millisecond}
	reg := newRegistry(t, enginetest.Descriptor("svc", rec, "a", "b", "c", "d"))
	plan := core.NewExecutionPlan("run", nil,
		core.NewTask("svc", "a", nil), core.NewTask("svc", "b", nil),
		core.NewTask("svc", "c", nil), core.NewTask("svc", "d", nil))

	New(reg, WithParallel(2)).Execute(context.Background(), plan, caller)

	if rec.MaxInFlight() > 2 {
		t.Errorf("limit exceeded: %d", rec.MaxInFlight())
	}
}

func TestExecuteRecordsAuditAndEvents(t *testing.T) {
	rec := &enginetest.RecordingExecutor{Errors: map[string]error{"b": errors.New("nope")}}
	reg := newRegistry(t, enginetest.Descriptor("svc", rec, "a", "b"))
	store := audit.NewMemoryStore()
	events := &core.EventRecorder{}
	ctx := core.WithPath(core.WithRunID(context.Background(), "run-7"), core.PathDirect)

	New(reg, WithAuditStore(store), WithEventEmitter(events)).Execute(ctx,
		core.NewExecutionPlan("run-7", nil, core.NewTask("svc", "a", nil), core.NewTask("svc", "b", nil)), caller)

	records, err := store.List(context.Background(), audit.Filter{RunID: "run-7"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two audit records, got %d", len(records))
	}
	if records[0].Path != core.PathDirect || records[0].CallerID != "user-1" {
		t.Errorf("unexpected record %+v", records[0])
	}
	if records[1].Status != string(core.TaskStatusFailed) || records[1].Error != "nope" {
		t.Errorf("unexpected failed record %+v", records[1])
	}

	var types []core.EventType
	for _, e := range events.Events() {
		types = append(types, e.Type)
		if e.RunID != "run-7" {
			t.Errorf("event without run id: %+v", e)
		}
	}
	want := []core.EventType{core.EventTaskStarted, core.EventTaskCompleted, core.EventTaskStarted, core.EventTaskFailed}
	if len(types) != len(want) {
		t.Fatalf("unexpected events %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: got %s want %s", i, types[i], want[i])
		}
	}
}

func TestExecuteNilPlan(t *testing.T) {
	if New(registry.New()).Execute(context.Background(), nil, caller) != nil {
		t.Fatalf("expected nil for nil plan")
	}
}
