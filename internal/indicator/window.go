package indicator

import (
	"github.com/oakmont-labs/trendline/pkg/errors"
)

// Window is a fixed-size circular buffer over float64 samples with a running
// sum, giving O(1) mean updates regardless of the window length. The buffer
// never grows; once full, each push evicts the oldest sample.
type Window struct {
	values []float64
	size   int
	index  int
	count  int
	sum    float64
}

// NewWindow creates a window spanning the given number of samples.
func NewWindow(size int) (*Window, error) {
	if size <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "window size must be positive, got %d", size)
	}

	return &Window{
		values: make([]float64, size),
		size:   size,
		index:  0,
		count:  0,
		sum:    0,
	}, nil
}

// Push appends a sample, evicting the oldest when the window is full.
func (w *Window) Push(value float64) {
	if w.count == w.size {
		w.sum -= w.values[w.index]
	} else {
		w.count++
	}

	w.values[w.index] = value
	w.sum += value
	w.index = (w.index + 1) % w.size
}

// Full reports whether the window holds size samples.
func (w *Window) Full() bool {
	return w.count == w.size
}

// Count returns the number of samples currently held.
func (w *Window) Count() int {
	return w.count
}

// Size returns the configured window length.
func (w *Window) Size() int {
	return w.size
}

// Mean returns the arithmetic mean of the held samples, zero when empty.
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return 0
	}

	return w.sum / float64(w.count)
}

// Oldest returns the oldest held sample, zero when empty.
func (w *Window) Oldest() float64 {
	if w.count == 0 {
		return 0
	}

	if w.count < w.size {
		return w.values[0]
	}

	return w.values[w.index]
}

// Values returns the held samples oldest first. The returned slice is a copy.
func (w *Window) Values() []float64 {
	result := make([]float64, 0, w.count)
	if w.count == 0 {
		return result
	}

	if w.count < w.size {
		result = append(result, w.values[:w.count]...)

		return result
	}

	result = append(result, w.values[w.index:]...)
	result = append(result, w.values[:w.index]...)

	return result
}
