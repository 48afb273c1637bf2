package expression

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrOperatorNotRegistered is returned when looking up an unknown operator.
	ErrOperatorNotRegistered = errors.New("operator not registered")

	// ErrDuplicateOperator is returned when registering a name twice.
	ErrDuplicateOperator = errors.New("operator already registered")

	// ErrInvalidOperator is returned when an operator lacks the kernel its kind requires.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrArity is returned when an operator is applied to the wrong number of arguments.
	ErrArity = errors.New("wrong number of arguments")

	// ErrInvalidWindow is returned for window parameters an operator cannot accept.
	ErrInvalidWindow = errors.New("invalid window")
)

// WindowFunc computes a window statistic over x. The output has len(x).
type WindowFunc func(x []float64, w Window) []float64

// PairWindowFunc computes a window statistic over aligned x and y.
type PairWindowFunc func(x, y []float64, w Window) []float64

// Operator describes a named node constructor together with its kernel.
// Exactly the kernel matching Kind must be set.
type Operator struct {
	Name string
	Kind Kind

	Unary      func(v float64) float64
	Binary     func(a, b float64) float64
	Window     WindowFunc
	PairWindow PairWindowFunc

	// Window constraints.
	MinWindow     int  // non-zero windows below this are rejected
	AllowNegative bool // negative sizes lead instead of lag
	Fractional    bool // size may be a non-integer
	HasParam      bool // takes a fraction in [0, 1] after the size
}

// Operands returns the number of expression arguments.
func (op *Operator) Operands() int {
	switch op.Kind {
	case KindElementWise, KindWindow:
		return 1
	case KindPairWise, KindPairWindow:
		return 2
	case KindConditional:
		return 3
	}
	return 0
}

// Arity returns the number of call arguments including numeric parameters.
func (op *Operator) Arity() int {
	n := op.Operands()
	if op.Kind == KindWindow || op.Kind == KindPairWindow {
		n++
		if op.HasParam {
			n++
		}
	}
	return n
}

func (op *Operator) validate() error {
	if op == nil {
		return fmt.Errorf("%w: nil", ErrInvalidOperator)
	}
	if op.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidOperator)
	}
	var ok bool
	switch op.Kind {
	case KindElementWise:
		ok = op.Unary != nil
	case KindPairWise:
		ok = op.Binary != nil
	case KindConditional:
		ok = true
	case KindWindow:
		ok = op.Window != nil
	case KindPairWindow:
		ok = op.PairWindow != nil
	}
	if !ok {
		return fmt.Errorf("%w: %s has no %s kernel", ErrInvalidOperator, op.Name, op.Kind)
	}
	return nil
}

// Build applies op to args. For window kinds the trailing arguments must be
// numeric literals: the size, then the fraction when HasParam is set.
func (op *Operator) Build(args ...*Expr) (*Expr, error) {
	if len(args) != op.Arity() {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArity, op.Name, op.Arity(), len(args))
	}
	k := op.Operands()
	for _, a := range args[:k] {
		if a == nil {
			return nil, fmt.Errorf("%w: %s has a nil operand", ErrArity, op.Name)
		}
	}
	e := &Expr{kind: op.Kind, op: op, args: append([]*Expr(nil), args[:k]...)}
	if op.Kind != KindWindow && op.Kind != KindPairWindow {
		return seal(e), nil
	}

	size := args[k]
	if size == nil || size.kind != KindLiteral {
		return nil, fmt.Errorf("%w: %s size must be a number", ErrInvalidWindow, op.Name)
	}
	w := Window{N: size.value, NIsInt: size.isInt}
	if op.HasParam {
		q := args[k+1]
		if q == nil || q.kind != KindLiteral {
			return nil, fmt.Errorf("%w: %s parameter must be a number", ErrInvalidWindow, op.Name)
		}
		w.Q = q.value
	}
	if err := op.checkWindow(w); err != nil {
		return nil, err
	}
	e.window = w
	return seal(e), nil
}

// MaxWindow bounds the absolute window size so it always fits an int index.
const MaxWindow = math.MaxInt32

func (op *Operator) checkWindow(w Window) error {
	switch {
	case math.IsNaN(w.N) || math.IsInf(w.N, 0):
		return fmt.Errorf("%w: %s size %v", ErrInvalidWindow, op.Name, w.N)
	case math.Abs(w.N) > MaxWindow:
		return fmt.Errorf("%w: %s size %v exceeds %d", ErrInvalidWindow, op.Name, w.N, MaxWindow)
	case w.N < 0 && !op.AllowNegative:
		return fmt.Errorf("%w: %s size must not be negative", ErrInvalidWindow, op.Name)
	case !op.Fractional && w.N != math.Trunc(w.N):
		return fmt.Errorf("%w: %s size must be an integer", ErrInvalidWindow, op.Name)
	case op.MinWindow > 0 && w.N != 0 && w.N < float64(op.MinWindow):
		return fmt.Errorf("%w: %s size must be 0 or >= %d", ErrInvalidWindow, op.Name, op.MinWindow)
	case op.HasParam && (w.Q < 0 || w.Q > 1 || math.IsNaN(w.Q)):
		return fmt.Errorf("%w: %s fraction %v outside [0, 1]", ErrInvalidWindow, op.Name, w.Q)
	}
	return nil
}

// Registry maps operator names to operators. Lookups are safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]*Operator
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operator)}
}

// Register adds ops. Nothing is added if any operator is invalid or its
// name is already taken.
func (r *Registry) Register(ops ...*Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]bool, len(ops))
	for _, op := range ops {
		if err := op.validate(); err != nil {
			return err
		}
		if _, ok := r.ops[op.Name]; ok || batch[op.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateOperator, op.Name)
		}
		batch[op.Name] = true
	}
	for _, op := range ops {
		r.ops[op.Name] = op
	}
	return nil
}

func (r *Registry) Lookup(name string) (*Operator, error) {
	r.mu.RLock()
	op, ok := r.ops[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperatorNotRegistered, name)
	}
	return op, nil
}

// Call looks up name and builds a node from args.
func (r *Registry) Call(name string, args ...*Expr) (*Expr, error) {
	op, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return op.Build(args...)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ops))
	for name := range r.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builtins returns the standard operator set.
func Builtins() []*Operator {
	var out []*Operator
	out = append(out, elementWiseOps...)
	out = append(out, pairWiseOps...)
	out = append(out, conditionalOps...)
	out = append(out, windowOps...)
	out = append(out, pairWindowOps...)
	return out
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the process-wide registry holding Builtins.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		if err := defaultRegistry.Register(Builtins()...); err != nil {
			panic(err)
		}
	})
	return defaultRegistry
}

// Call builds a node from the default registry.
func Call(name string, args ...*Expr) (*Expr, error) {
	return DefaultRegistry().Call(name, args...)
}
