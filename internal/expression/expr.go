// Package expression parses factor formulas such as "Mean($close, 10)/$close"
// into immutable expression trees and evaluates them against a table.
package expression

import (
	"math"
	"strconv"
	"strings"
)

// Kind tags the node variants.
type Kind int

const (
	KindFeature Kind = iota
	KindLiteral
	KindElementWise
	KindPairWise
	KindConditional
	KindWindow
	KindPairWindow
)

func (k Kind) String() string {
	switch k {
	case KindFeature:
		return "feature"
	case KindLiteral:
		return "literal"
	case KindElementWise:
		return "elementwise"
	case KindPairWise:
		return "pairwise"
	case KindConditional:
		return "conditional"
	case KindWindow:
		return "window"
	case KindPairWindow:
		return "pairwindow"
	default:
		return "unknown"
	}
}

// Expr is a node of an expression tree. Trees are built by the parser or
// by an Operator's constructor and are never modified afterwards, so a tree
// may be evaluated from several goroutines at once.
type Expr struct {
	kind Kind
	op   *Operator

	name  string  // feature name, without "$"
	value float64 // literal value
	isInt bool    // literal was written as an integer

	window Window
	args   []*Expr

	key string // canonical form, computed once at construction
}

// Window holds the size and optional extra parameter of a window node.
type Window struct {
	N      float64 // 0 = expanding
	Q      float64 // quantile fraction, Quantile only
	NIsInt bool
}

// Size returns N as a row count.
func (w Window) Size() int { return int(w.N) }

// Expanding reports whether the window covers the whole prefix.
func (w Window) Expanding() bool { return w.N == 0 }

func Feature(name string) *Expr {
	return seal(&Expr{kind: KindFeature, name: strings.TrimPrefix(name, "$")})
}

func Int(v int64) *Expr {
	return seal(&Expr{kind: KindLiteral, value: float64(v), isInt: true})
}

func Float(v float64) *Expr {
	return seal(&Expr{kind: KindLiteral, value: v})
}

// seal fixes the canonical key; e must not change afterwards.
func seal(e *Expr) *Expr {
	var sb strings.Builder
	e.write(&sb)
	e.key = sb.String()
	return e
}

func (e *Expr) Kind() Kind { return e.kind }

// Op returns the operator name, empty for leaves.
func (e *Expr) Op() string {
	if e.op == nil {
		return ""
	}
	return e.op.Name
}

// Name returns the referenced field of a feature node.
func (e *Expr) Name() string { return e.name }

// Value returns a literal's value.
func (e *Expr) Value() float64 { return e.value }

// IsInt reports whether a literal holds an integer.
func (e *Expr) IsInt() bool { return e.isInt }

func (e *Expr) Window() Window { return e.window }

// Children returns the sub-expressions in evaluation order: the condition
// first for If, left before right for binary nodes.
func (e *Expr) Children() []*Expr {
	out := make([]*Expr, len(e.args))
	copy(out, e.args)
	return out
}

// IsLeaf reports whether e is a feature or literal.
func (e *Expr) IsLeaf() bool {
	return e.kind == KindFeature || e.kind == KindLiteral
}

// IsRoot reports whether every child of e is a leaf, i.e. e can be computed
// directly from the table.
func (e *Expr) IsRoot() bool {
	for _, c := range e.args {
		if !c.IsLeaf() {
			return false
		}
	}
	return !e.IsLeaf()
}

// Fields returns the distinct feature names referenced by e, in first-seen order.
func (e *Expr) Fields() []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*Expr)
	walk = func(n *Expr) {
		if n.kind == KindFeature && !seen[n.name] {
			seen[n.name] = true
			out = append(out, n.name)
		}
		for _, c := range n.args {
			walk(c)
		}
	}
	walk(e)
	return out
}

// MaxLookback returns how many trailing rows e needs to produce its final
// value exactly, summing nested windows. It is -1 when the whole history
// matters (expanding windows and EMA).
func (e *Expr) MaxLookback() int {
	best := 0
	for _, c := range e.args {
		lb := c.MaxLookback()
		if lb < 0 {
			return -1
		}
		if lb > best {
			best = lb
		}
	}
	switch e.kind {
	case KindWindow, KindPairWindow:
		switch {
		case e.op.Name == "Ref" && e.window.Expanding():
			return best
		case e.window.Expanding(), e.op.Name == "EMA":
			return -1
		}
		return best + int(math.Ceil(math.Abs(e.window.N)))
	}
	return best
}

// String returns the canonical form: no spaces, features as "$name",
// operators in call form. It doubles as the column key during evaluation.
func (e *Expr) String() string {
	return e.key
}

func (e *Expr) write(sb *strings.Builder) {
	switch e.kind {
	case KindFeature:
		sb.WriteByte('$')
		sb.WriteString(e.name)
		return
	case KindLiteral:
		sb.WriteString(formatNumber(e.value, e.isInt))
		return
	}
	sb.WriteString(e.op.Name)
	sb.WriteByte('(')
	for i, c := range e.args {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(c.key)
	}
	if e.kind == KindWindow || e.kind == KindPairWindow {
		sb.WriteByte(',')
		sb.WriteString(formatNumber(e.window.N, e.window.NIsInt))
		if e.op.Name == "Quantile" {
			sb.WriteByte(',')
			sb.WriteString(formatNumber(e.window.Q, false))
		}
	}
	sb.WriteByte(')')
}

// formatNumber renders integers without a fraction and floats in their
// shortest round-trip form, switching to exponent notation outside
// [1e-4, 1e16).
func formatNumber(v float64, isInt bool) string {
	if isInt {
		return strconv.FormatInt(int64(v), 10)
	}
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsInf(v, -1) {
		return "-inf"
	}
	if math.IsNaN(v) {
		return "nan"
	}
	if v == 0 {
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}
	s := strconv.FormatFloat(v, 'e', -1, 64)
	exp, _ := strconv.Atoi(s[strings.IndexByte(s, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return s
	}
	s = strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
