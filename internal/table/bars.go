package table

import (
	"math"
	"sort"

	"factor-lab/internal/domain"
)

// FromBars builds a table with the standard bar fields. Bars are sorted by
// timestamp; vwap is NaN for bars without volume.
func FromBars(bars []*domain.Bar) (*Table, error) {
	sorted := make([]*domain.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	n := len(sorted)
	index := make([]int64, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	turnover := make([]float64, n)
	oi := make([]float64, n)
	vwap := make([]float64, n)

	for i, b := range sorted {
		index[i] = b.TimestampMs
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
		volume[i] = b.Volume
		turnover[i] = b.Turnover
		oi[i] = b.OpenInterest
		if v, ok := b.VWAP(); ok {
			vwap[i] = v
		} else {
			vwap[i] = math.NaN()
		}
	}

	t, err := New(index)
	if err != nil {
		return nil, err
	}
	for _, c := range []struct {
		name string
		col  []float64
	}{
		{ColOpen, open},
		{ColHigh, high},
		{ColLow, low},
		{ColClose, closes},
		{ColVolume, volume},
		{ColTurnover, turnover},
		{ColOpenInterest, oi},
		{ColVWAP, vwap},
	} {
		if err := t.AddColumn(c.name, c.col); err != nil {
			return nil, err
		}
	}
	return t, nil
}
