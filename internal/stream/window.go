package stream

import (
	"errors"
	"fmt"

	"github.com/gammazero/deque"

	"factor-lab/internal/domain"
	"factor-lab/internal/table"
)

// ErrOutOfOrder is returned when a bar is not newer than the last one of its series.
var ErrOutOfOrder = errors.New("bar out of order")

// Window keeps the last Size bars of one series, oldest first.
type Window struct {
	size int
	bars deque.Deque[*domain.Bar]
	seen int
}

// NewWindow panics if size < 1.
func NewWindow(size int) *Window {
	if size < 1 {
		panic("stream: window size must be positive")
	}
	return &Window{size: size}
}

// Push appends a copy of b, evicting the oldest bar once the window is full.
func (w *Window) Push(b *domain.Bar) error {
	if w.bars.Len() > 0 {
		if last := w.bars.Back(); b.TimestampMs <= last.TimestampMs {
			return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, b.TimestampMs, last.TimestampMs)
		}
	}
	barCopy := *b
	if w.bars.Len() == w.size {
		w.bars.PopFront()
	}
	w.bars.PushBack(&barCopy)
	w.seen++
	return nil
}

func (w *Window) Size() int { return w.size }

func (w *Window) Len() int { return w.bars.Len() }

// Seen is the number of bars pushed since creation.
func (w *Window) Seen() int { return w.seen }

// Ready reports whether the window has filled once.
func (w *Window) Ready() bool { return w.seen >= w.size }

// Last returns the newest bar, or nil when empty.
func (w *Window) Last() *domain.Bar {
	if w.bars.Len() == 0 {
		return nil
	}
	return w.bars.Back()
}

// Bars returns the held bars, oldest first.
func (w *Window) Bars() []*domain.Bar {
	out := make([]*domain.Bar, w.bars.Len())
	for i := range out {
		out[i] = w.bars.At(i)
	}
	return out
}

// Table builds the evaluation table over the held bars.
func (w *Window) Table() (*table.Table, error) {
	return table.FromBars(w.Bars())
}
