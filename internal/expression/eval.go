package expression

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"factor-lab/internal/table"
)

// ErrFieldNotFound is returned when a formula references a missing column.
var ErrFieldNotFound = errors.New("field not found")

// value is a resolved node: a column, or a scalar broadcast on demand.
type value struct {
	col    []float64
	scalar float64
	isCol  bool
}

func (v value) at(i int) float64 {
	if v.isCol {
		return v.col[i]
	}
	return v.scalar
}

func (v value) column(n int) []float64 {
	if v.isCol {
		return v.col
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = v.scalar
	}
	return out
}

// evaluation holds the per-call memo; it is never shared between calls.
type evaluation struct {
	tbl  *table.Table
	memo map[string]value
}

// Evaluate computes e over tbl and returns a new column of tbl.Len() rows.
//
// Children are resolved before their parent. Each distinct sub-expression
// is computed once per call; a sub-expression whose canonical form names a
// column of tbl is read from the table instead. Neither e nor tbl is modified.
func Evaluate(tbl *table.Table, e *Expr) ([]float64, error) {
	ev := &evaluation{tbl: tbl, memo: make(map[string]value)}
	v, err := ev.eval(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, tbl.Len())
	if v.isCol {
		copy(out, v.col)
		return out, nil
	}
	for i := range out {
		out[i] = v.scalar
	}
	return out, nil
}

// EvaluateField parses formula and evaluates it over tbl.
func EvaluateField(tbl *table.Table, formula string) ([]float64, error) {
	e, err := Parse(formula)
	if err != nil {
		return nil, err
	}
	return Evaluate(tbl, e)
}

// EvaluateAll evaluates independent expressions concurrently with at most
// workers goroutines (unbounded when workers <= 0). Results are in input order.
func EvaluateAll(ctx context.Context, tbl *table.Table, exprs []*Expr, workers int) ([][]float64, error) {
	out := make([][]float64, len(exprs))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, e := range exprs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			col, err := Evaluate(tbl, e)
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", e, err)
			}
			out[i] = col
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (ev *evaluation) eval(e *Expr) (value, error) {
	switch e.kind {
	case KindLiteral:
		return value{scalar: e.value}, nil
	case KindFeature:
		col, ok := ev.tbl.Column(e.name)
		if !ok {
			return value{}, fmt.Errorf("%w: $%s", ErrFieldNotFound, e.name)
		}
		return value{col: col, isCol: true}, nil
	}

	if v, ok := ev.memo[e.key]; ok {
		return v, nil
	}
	if col, ok := ev.tbl.Column(e.key); ok {
		v := value{col: col, isCol: true}
		ev.memo[e.key] = v
		return v, nil
	}

	args := make([]value, len(e.args))
	for i, c := range e.args {
		v, err := ev.eval(c)
		if err != nil {
			return value{}, err
		}
		args[i] = v
	}

	v := ev.apply(e, args)
	ev.memo[e.key] = v
	return v, nil
}

func (ev *evaluation) apply(e *Expr, args []value) value {
	n := ev.tbl.Len()
	switch e.kind {
	case KindElementWise:
		f := e.op.Unary
		if !args[0].isCol {
			return value{scalar: f(args[0].scalar)}
		}
		out := make([]float64, n)
		for i, x := range args[0].col {
			out[i] = f(x)
		}
		return value{col: out, isCol: true}

	case KindPairWise:
		f := e.op.Binary
		l, r := args[0], args[1]
		if !l.isCol && !r.isCol {
			return value{scalar: f(l.scalar, r.scalar)}
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = f(l.at(i), r.at(i))
		}
		return value{col: out, isCol: true}

	case KindConditional:
		cond, l, r := args[0], args[1], args[2]
		if !cond.isCol && !l.isCol && !r.isCol {
			if truthy(cond.scalar) {
				return l
			}
			return r
		}
		out := make([]float64, n)
		for i := range out {
			if truthy(cond.at(i)) {
				out[i] = l.at(i)
			} else {
				out[i] = r.at(i)
			}
		}
		return value{col: out, isCol: true}

	case KindWindow:
		return value{col: e.op.Window(args[0].column(n), e.window), isCol: true}

	case KindPairWindow:
		return value{col: e.op.PairWindow(args[0].column(n), args[1].column(n), e.window), isCol: true}
	}
	panic(fmt.Sprintf("expression: cannot apply %s node", e.kind))
}
