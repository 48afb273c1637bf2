package expression

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode"
)

// ErrParse is matched by every error returned from Parse.
var ErrParse = errors.New("parse error")

// ParseError reports where a formula failed to parse. It wraps the
// underlying cause, e.g. ErrOperatorNotRegistered.
type ParseError struct {
	Formula string
	Pos     int
	Msg     string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q at %d: %s", e.Formula, e.Pos, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokField
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind  tokenKind
	text  string
	pos   int
	num   float64
	isInt bool
}

// Infix operators and the nodes they build.
var infixOps = map[string]string{
	"+":  "Add",
	"-":  "Sub",
	"*":  "Mul",
	"/":  "Div",
	"**": "Power",
	"&":  "And",
	"|":  "Or",
	">":  "Gt",
	">=": "Ge",
	"<":  "Lt",
	"<=": "Le",
	"==": "Eq",
	"!=": "Ne",
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func lex(src string) ([]token, *ParseError) {
	var toks []token
	rs := []rune(src)
	fail := func(pos int, format string, args ...any) *ParseError {
		return &ParseError{Formula: src, Pos: pos, Msg: fmt.Sprintf(format, args...), Err: ErrParse}
	}
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '$':
			j := i + 1
			for j < len(rs) && isWordRune(rs[j]) {
				j++
			}
			if j == i+1 {
				return nil, fail(i, "expected field name after $")
			}
			toks = append(toks, token{kind: tokField, text: string(rs[i+1 : j]), pos: i})
			i = j
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			j := i
			isInt := true
			for j < len(rs) && unicode.IsDigit(rs[j]) {
				j++
			}
			if j < len(rs) && rs[j] == '.' {
				isInt = false
				j++
				for j < len(rs) && unicode.IsDigit(rs[j]) {
					j++
				}
			}
			if j < len(rs) && (rs[j] == 'e' || rs[j] == 'E') {
				k := j + 1
				if k < len(rs) && (rs[k] == '+' || rs[k] == '-') {
					k++
				}
				if k < len(rs) && unicode.IsDigit(rs[k]) {
					isInt = false
					for k < len(rs) && unicode.IsDigit(rs[k]) {
						k++
					}
					j = k
				}
			}
			text := string(rs[i:j])
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fail(i, "bad number %q", text)
			}
			toks = append(toks, token{kind: tokNumber, text: text, pos: i, num: num, isInt: isInt})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(rs) && isWordRune(rs[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:j]), pos: i})
			i = j
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			var op string
			if i+1 < len(rs) {
				if _, ok := infixOps[string(rs[i:i+2])]; ok {
					op = string(rs[i : i+2])
				}
			}
			if op == "" {
				if _, ok := infixOps[string(r)]; ok {
					op = string(r)
				}
			}
			if op == "" {
				return nil, fail(i, "unexpected character %q", r)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len([]rune(op))
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(rs)})
	return toks, nil
}

// Parser turns formulas into expression trees using a registry.
type Parser struct {
	reg *Registry
}

func NewParser(reg *Registry) *Parser {
	return &Parser{reg: reg}
}

// Parse parses formula with the default registry.
//
// Infix operators follow Python precedence, loosest first: comparisons
// (which do not chain), |, &, + -, * /, unary - +, and ** (right
// associative). Arithmetic between numeric literals is folded.
func Parse(formula string) (*Expr, error) {
	return NewParser(DefaultRegistry()).Parse(formula)
}

// MustParse is like Parse but panics on error.
func MustParse(formula string) *Expr {
	e, err := Parse(formula)
	if err != nil {
		panic(err)
	}
	return e
}

func (p *Parser) Parse(formula string) (*Expr, error) {
	toks, perr := lex(formula)
	if perr != nil {
		return nil, perr
	}
	st := &parseState{reg: p.reg, src: formula, toks: toks}
	if st.peek().kind == tokEOF {
		return nil, st.fail(st.peek(), ErrParse, "empty formula")
	}
	e, err := st.comparison()
	if err != nil {
		return nil, err
	}
	if t := st.peek(); t.kind != tokEOF {
		return nil, st.fail(t, ErrParse, "unexpected %q", t.text)
	}
	return e, nil
}

type parseState struct {
	reg  *Registry
	src  string
	toks []token
	pos  int
}

func (s *parseState) peek() token { return s.toks[s.pos] }

func (s *parseState) next() token {
	t := s.toks[s.pos]
	if t.kind != tokEOF {
		s.pos++
	}
	return t
}

func (s *parseState) fail(t token, cause error, format string, args ...any) *ParseError {
	msg := fmt.Sprintf(format, args...)
	if cause != ErrParse {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &ParseError{Formula: s.src, Pos: t.pos, Msg: msg, Err: cause}
}

func (s *parseState) isOp(ops ...string) bool {
	t := s.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

var comparisonOps = []string{">", ">=", "<", "<=", "==", "!="}

func (s *parseState) comparison() (*Expr, error) {
	left, err := s.or()
	if err != nil {
		return nil, err
	}
	if !s.isOp(comparisonOps...) {
		return left, nil
	}
	t := s.next()
	right, err := s.or()
	if err != nil {
		return nil, err
	}
	if s.isOp(comparisonOps...) {
		return nil, s.fail(s.peek(), ErrParse, "chained comparison")
	}
	return s.binary(t, left, right)
}

// leftAssoc parses operand (op operand)*.
func (s *parseState) leftAssoc(operand func() (*Expr, error), ops ...string) (*Expr, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for s.isOp(ops...) {
		t := s.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		if left, err = s.binary(t, left, right); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (s *parseState) or() (*Expr, error) {
	return s.leftAssoc(s.and, "|")
}

func (s *parseState) and() (*Expr, error) {
	return s.leftAssoc(s.arith, "&")
}

func (s *parseState) arith() (*Expr, error) {
	return s.leftAssoc(s.term, "+", "-")
}

func (s *parseState) term() (*Expr, error) {
	return s.leftAssoc(s.unary, "*", "/")
}

func (s *parseState) unary() (*Expr, error) {
	if !s.isOp("-", "+") {
		return s.power()
	}
	t := s.next()
	operand, err := s.unary()
	if err != nil {
		return nil, err
	}
	if t.text == "+" {
		return operand, nil
	}
	if operand.kind == KindLiteral {
		return literal(-operand.value, operand.isInt), nil
	}
	return s.build(t, "Mul", Int(-1), operand)
}

func (s *parseState) power() (*Expr, error) {
	base, err := s.primary()
	if err != nil {
		return nil, err
	}
	if !s.isOp("**") {
		return base, nil
	}
	t := s.next()
	exp, err := s.unary()
	if err != nil {
		return nil, err
	}
	return s.binary(t, base, exp)
}

func (s *parseState) primary() (*Expr, error) {
	t := s.next()
	switch t.kind {
	case tokNumber:
		return literal(t.num, t.isInt), nil
	case tokField:
		return Feature(t.text), nil
	case tokLParen:
		e, err := s.comparison()
		if err != nil {
			return nil, err
		}
		if c := s.next(); c.kind != tokRParen {
			return nil, s.fail(c, ErrParse, "expected )")
		}
		return e, nil
	case tokIdent:
		return s.call(t)
	case tokEOF:
		return nil, s.fail(t, ErrParse, "unexpected end of formula")
	}
	return nil, s.fail(t, ErrParse, "unexpected %q", t.text)
}

func (s *parseState) call(name token) (*Expr, error) {
	if lp := s.next(); lp.kind != tokLParen {
		return nil, s.fail(name, ErrParse, "expected ( after %s", name.text)
	}
	var args []*Expr
	if s.peek().kind == tokRParen {
		s.next()
	} else {
		for {
			arg, err := s.comparison()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			t := s.next()
			if t.kind == tokRParen {
				break
			}
			if t.kind != tokComma {
				return nil, s.fail(t, ErrParse, "expected , or ) in %s", name.text)
			}
		}
	}
	return s.build(name, name.text, args...)
}

func (s *parseState) build(at token, name string, args ...*Expr) (*Expr, error) {
	op, err := s.reg.Lookup(name)
	if err != nil {
		return nil, s.fail(at, err, "unknown operator %s", name)
	}
	e, err := op.Build(args...)
	if err != nil {
		return nil, s.fail(at, err, "cannot build %s", name)
	}
	return e, nil
}

func (s *parseState) binary(t token, left, right *Expr) (*Expr, error) {
	if folded, ok := fold(t.text, left, right); ok {
		return folded, nil
	}
	return s.build(t, infixOps[t.text], left, right)
}

// literal keeps integer form only while v fits an int64.
func literal(v float64, isInt bool) *Expr {
	if isInt && math.Abs(v) < 1<<63 {
		return Int(int64(v))
	}
	return Float(v)
}

// fold evaluates arithmetic between two literals. Integers stay integers
// except under division and negative powers.
func fold(op string, a, b *Expr) (*Expr, bool) {
	if a.kind != KindLiteral || b.kind != KindLiteral {
		return nil, false
	}
	x, y := a.value, b.value
	ints := a.isInt && b.isInt
	switch op {
	case "+":
		return literal(x+y, ints), true
	case "-":
		return literal(x-y, ints), true
	case "*":
		return literal(x*y, ints), true
	case "/":
		if y == 0 {
			return nil, false
		}
		return Float(x / y), true
	case "**":
		r := math.Pow(x, y)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, false
		}
		return literal(r, ints && y >= 0), true
	}
	return nil, false
}

// Canonical parses formula and returns its canonical form.
func Canonical(formula string) (string, error) {
	e, err := Parse(formula)
	if err != nil {
		return "", err
	}
	return e.String(), nil
}
