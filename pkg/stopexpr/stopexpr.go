// Package stopexpr compiles Starlark expressions into walk stop
// predicates.
//
// The expression sees the progress of the walk as the integers visited,
// queued, depth, unreadable and unsupported, and the float elapsed, the
// number of seconds since the walk started. The walk stops when the
// expression is true, for example:
//
//	visited > 10000 or elapsed > 2.5
package stopexpr

import (
	"fmt"
	"sync"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/go-delve/pywalk/pkg/logflags"
	"github.com/go-delve/pywalk/pkg/walker"
)

func init() {
	resolve.AllowFloat = true
}

// Expr is a compiled stop expression. Evaluations of one Expr are
// serialized.
type Expr struct {
	src string
	fn  *starlark.Function

	mu  sync.Mutex
	env starlark.StringDict
}

func setEnv(env starlark.StringDict, p walker.Progress, elapsed time.Duration) {
	env["visited"] = starlark.MakeInt(p.Visited)
	env["queued"] = starlark.MakeInt(p.Queued)
	env["depth"] = starlark.MakeInt(p.Depth)
	env["unreadable"] = starlark.MakeInt(p.Unreadable)
	env["unsupported"] = starlark.MakeInt(p.Unsupported)
	env["elapsed"] = starlark.Float(elapsed.Seconds())
}

// Compile parses and resolves src. Syntax errors and unknown names are
// reported here, errors that depend on the progress only by Eval.
func Compile(src string) (*Expr, error) {
	env := starlark.StringDict{}
	setEnv(env, walker.Progress{}, 0)
	fn, err := starlark.ExprFunc("stop", src, env)
	if err != nil {
		return nil, fmt.Errorf("stop expression: %v", err)
	}
	return &Expr{src: src, fn: fn, env: env}, nil
}

// String returns the source of the expression.
func (e *Expr) String() string {
	return e.src
}

// Eval evaluates the expression and returns its truth value.
func (e *Expr) Eval(p walker.Progress, elapsed time.Duration) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// fn reads its predeclared names from env on every call
	setEnv(e.env, p, elapsed)
	thread := &starlark.Thread{Name: "stop"}
	v, err := starlark.Call(thread, e.fn, nil, nil)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return false, fmt.Errorf("stop expression: %s", evalErr.Backtrace())
		}
		return false, fmt.Errorf("stop expression: %v", err)
	}
	return bool(v.Truth()), nil
}

// Predicate returns a function suitable for walker.Config.Stop. The clock
// for elapsed starts when Predicate is called. An expression that fails
// to evaluate stops the walk.
func (e *Expr) Predicate() func(walker.Progress) bool {
	start := time.Now()
	return func(p walker.Progress) bool {
		stop, err := e.Eval(p, time.Since(start))
		if err != nil {
			logflags.WalkerLogger().Errorf("%v", err)
			return true
		}
		return stop
	}
}

// Any combines stop predicates, nil ones are skipped. The result is nil
// if every predicate is nil.
func Any(preds ...func(walker.Progress) bool) func(walker.Progress) bool {
	var r []func(walker.Progress) bool
	for _, p := range preds {
		if p != nil {
			r = append(r, p)
		}
	}
	switch len(r) {
	case 0:
		return nil
	case 1:
		return r[0]
	}
	return func(p walker.Progress) bool {
		for _, pred := range r {
			if pred(p) {
				return true
			}
		}
		return false
	}
}
