package playbook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// DefaultGuardTimeout bounds one guard evaluation.
const DefaultGuardTimeout = 30 * time.Second

// StarlarkGuard evaluates task guard expressions with Starlark. The
// runner binds "host", "vars", and "facts" into the environment; maps
// are exposed as dicts, so guards index them (facts["os"] == "linux").
// A guard must evaluate to a bool.
type StarlarkGuard struct {
	timeout time.Duration
}

var _ engine.GuardEvaluator = (*StarlarkGuard)(nil)

// NewStarlarkGuard creates a guard evaluator with the default timeout.
func NewStarlarkGuard() *StarlarkGuard {
	return &StarlarkGuard{timeout: DefaultGuardTimeout}
}

// NewStarlarkGuardWithTimeout creates a guard evaluator with a custom
// evaluation timeout.
func NewStarlarkGuardWithTimeout(timeout time.Duration) *StarlarkGuard {
	if timeout <= 0 {
		timeout = DefaultGuardTimeout
	}
	return &StarlarkGuard{timeout: timeout}
}

// EvaluateGuard evaluates a guard expression against the given
// environment. An empty expression is true.
func (g *StarlarkGuard) EvaluateGuard(ctx context.Context, expr string, env map[string]interface{}) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	evalCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type evalResult struct {
		ok  bool
		err error
	}
	resultCh := make(chan evalResult, 1)

	go func() {
		ok, err := g.evaluateSync(expr, env)
		resultCh <- evalResult{ok: ok, err: err}
	}()

	select {
	case <-evalCtx.Done():
		if ctx.Err() != nil {
			return false, fmt.Errorf("guard evaluation cancelled: %w", ctx.Err())
		}
		return false, fmt.Errorf("guard evaluation timed out after %s", g.timeout)
	case res := <-resultCh:
		return res.ok, res.err
	}
}

func (g *StarlarkGuard) evaluateSync(expr string, env map[string]interface{}) (bool, error) {
	thread := &starlark.Thread{
		Name: "guard",
		Print: func(_ *starlark.Thread, _ string) {
			// Guard expressions have no output channel.
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for key, value := range env {
		sv, err := toStarlarkValue(value)
		if err != nil {
			return false, fmt.Errorf("failed to convert guard binding %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	val, err := starlark.Eval(thread, "guard.star", expr, predeclared)
	if err != nil {
		return false, fmt.Errorf("guard evaluation failed: %w", err)
	}

	b, ok := val.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("guard must evaluate to a bool, got %s", val.Type())
	}
	return bool(b), nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch tv := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(tv), nil
	case int:
		return starlark.MakeInt(tv), nil
	case int64:
		return starlark.MakeInt64(tv), nil
	case float64:
		return starlark.Float(tv), nil
	case string:
		return starlark.String(tv), nil
	case []interface{}:
		elems := make([]starlark.Value, 0, len(tv))
		for _, e := range tv {
			se, err := toStarlarkValue(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, se)
		}
		return starlark.NewList(elems), nil
	case []string:
		elems := make([]starlark.Value, 0, len(tv))
		for _, e := range tv {
			elems = append(elems, starlark.String(e))
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(tv))
		for k, inner := range tv {
			sv, err := toStarlarkValue(inner)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]string:
		dict := starlark.NewDict(len(tv))
		for k, inner := range tv {
			if err := dict.SetKey(starlark.String(k), starlark.String(inner)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported guard value type %T", v)
	}
}
