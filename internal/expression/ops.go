package expression

import "math"

func truthy(v float64) bool {
	return v != 0 && !math.IsNaN(v)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sign(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return v
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// maximum and minimum propagate NaN from either side.
func maximum(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return math.Max(a, b)
}

func minimum(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return math.Min(a, b)
}

var elementWiseOps = []*Operator{
	{Name: "Abs", Kind: KindElementWise, Unary: math.Abs},
	{Name: "Sign", Kind: KindElementWise, Unary: sign},
	{Name: "Log", Kind: KindElementWise, Unary: math.Log},
}

// Comparisons yield 1 or 0; NaN compares false except under Ne.
var pairWiseOps = []*Operator{
	{Name: "Power", Kind: KindPairWise, Binary: math.Pow},
	{Name: "Add", Kind: KindPairWise, Binary: func(a, b float64) float64 { return a + b }},
	{Name: "Sub", Kind: KindPairWise, Binary: func(a, b float64) float64 { return a - b }},
	{Name: "Mul", Kind: KindPairWise, Binary: func(a, b float64) float64 { return a * b }},
	{Name: "Div", Kind: KindPairWise, Binary: func(a, b float64) float64 { return a / b }},
	{Name: "Greater", Kind: KindPairWise, Binary: maximum},
	{Name: "Less", Kind: KindPairWise, Binary: minimum},
	{Name: "Gt", Kind: KindPairWise, Binary: func(a, b float64) float64 { return boolFloat(a > b) }},
	{Name: "Ge", Kind: KindPairWise, Binary: func(a, b float64) float64 { return boolFloat(a >= b) }},
	{Name: "Lt", Kind: KindPairWise, Binary: func(a, b float64) float64 { return boolFloat(a < b) }},
	{Name: "Le", Kind: KindPairWise, Binary: func(a, b float64) float64 { return boolFloat(a <= b) }},
	{Name: "Eq", Kind: KindPairWise, Binary: func(a, b float64) float64 { return boolFloat(a == b) }},
	{Name: "Ne", Kind: KindPairWise, Binary: func(a, b float64) float64 { return boolFloat(a != b) }},
	{Name: "And", Kind: KindPairWise, Binary: func(a, b float64) float64 { return boolFloat(truthy(a) && truthy(b)) }},
	{Name: "Or", Kind: KindPairWise, Binary: func(a, b float64) float64 { return boolFloat(truthy(a) || truthy(b)) }},
}

var conditionalOps = []*Operator{
	{Name: "If", Kind: KindConditional},
}
