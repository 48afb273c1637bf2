package reporting

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// FactorSummary describes the distribution of one factor column.
// Statistics cover defined values only and are NaN when there are none.
type FactorSummary struct {
	Name    string
	Rows    int
	Defined int // non-NaN values
	Mean    float64
	Std     float64 // sample standard deviation, NaN below two values
	Min     float64
	P10     float64
	Median  float64
	P90     float64
	Max     float64
}

// Coverage returns the share of defined values.
func (s FactorSummary) Coverage() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.Defined) / float64(s.Rows)
}

// Summarize computes per-factor statistics over every frame, in name order
// of the first frame.
func Summarize(frames ...*Frame) []FactorSummary {
	if len(frames) == 0 {
		return nil
	}
	out := make([]FactorSummary, len(frames[0].Names))
	for i, name := range frames[0].Names {
		s := FactorSummary{Name: name}
		var values []float64
		for _, f := range frames {
			if i >= len(f.Columns) {
				continue
			}
			s.Rows += len(f.Columns[i])
			for _, v := range f.Columns[i] {
				if !math.IsNaN(v) {
					values = append(values, v)
				}
			}
		}
		s.Defined = len(values)
		nan := math.NaN()
		s.Mean, s.Std, s.Min, s.P10, s.Median, s.P90, s.Max = nan, nan, nan, nan, nan, nan, nan
		if len(values) > 0 {
			sort.Float64s(values)
			s.Mean = computeMean(values)
			if len(values) > 1 {
				s.Std = computeStddev(values, s.Mean)
			}
			s.Min = values[0]
			s.P10 = computePercentile(values, 0.10)
			s.Median = computePercentile(values, 0.50)
			s.P90 = computePercentile(values, 0.90)
			s.Max = values[len(values)-1]
		}
		out[i] = s
	}
	return out
}

// computeMean calculates arithmetic mean of values.
func computeMean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC and non-empty.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}

	// Index for percentile (0-based, continuous)
	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// RenderMarkdown renders a factor coverage report.
func RenderMarkdown(generatedAt time.Time, frames []*Frame, summaries []FactorSummary) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Factor Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", generatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Series: %d | Factors: %d\n\n", len(frames), len(summaries)))

	// Series
	sb.WriteString("## Series\n\n")
	sb.WriteString("| Symbol | Interval | Rows | First (ms) | Last (ms) |\n")
	sb.WriteString("|--------|----------|------|------------|-----------|\n")
	for _, f := range frames {
		var first, last int64
		if len(f.Index) > 0 {
			first, last = f.Index[0], f.Index[len(f.Index)-1]
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d |\n", f.Key.Symbol, f.Key.Interval, len(f.Index), first, last))
	}
	sb.WriteString("\n")

	// Factors
	sb.WriteString("## Factors\n\n")
	if len(summaries) == 0 {
		sb.WriteString("No factors computed.\n")
		return sb.String()
	}
	sb.WriteString("| Factor | Coverage | Mean | Std | Min | P10 | Median | P90 | Max |\n")
	sb.WriteString("|--------|----------|------|-----|-----|-----|--------|-----|-----|\n")
	for _, s := range summaries {
		sb.WriteString(fmt.Sprintf("| %s | %.2f%% | %s | %s | %s | %s | %s | %s | %s |\n",
			s.Name,
			100*s.Coverage(),
			formatStat(s.Mean),
			formatStat(s.Std),
			formatStat(s.Min),
			formatStat(s.P10),
			formatStat(s.Median),
			formatStat(s.P90),
			formatStat(s.Max),
		))
	}
	return sb.String()
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.6f", v)
}
