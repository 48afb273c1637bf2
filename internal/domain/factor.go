package domain

// FactorPoint is one computed factor value.
// Corresponds to factor_values table in ClickHouse.
type FactorPoint struct {
	Symbol      string   // instrument identifier
	Interval    string   // bar interval the factor was computed on
	Factor      string   // factor name, e.g. "MA5"
	TimestampMs int64    // bar open time, Unix milliseconds
	Value       *float64 // nil when the factor is undefined (NaN)
}

// FactorDefinition names a formula.
// Corresponds to factor_definitions table in PostgreSQL.
type FactorDefinition struct {
	Name        string // unique factor name
	Formula     string // expression text, e.g. "Mean($close, 5)/$close"
	Canonical   string // canonical form of the parsed expression
	Group       string // factor group, e.g. "kbar", "rolling"
	Description string
	CreatedAt   int64 // Unix milliseconds
}
