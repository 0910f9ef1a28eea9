package oracle

import (
	"errors"
	"sort"

	"github.com/holiman/uint256"

	"delphor/native/common"
)

const (
	// WindowSize is the number of adjacent sorted samples averaged together.
	WindowSize = 3
	// MinSources is the smallest sample set the windowed mode accepts.
	MinSources = WindowSize
	// MaxSources bounds the sample set for one update.
	MaxSources = 5
	// CVScale is the fixed-point scale of a coefficient of variation.
	CVScale = 1000
	// MaxCoefficientOfVariation is the largest accepted CV, in CVScale units (0.5%).
	MaxCoefficientOfVariation = 5
)

var (
	ErrPricesTooDivergent  = errors.New("oracle: prices too divergent")
	ErrZeroAverage         = errors.New("oracle: window average is zero")
	ErrInsufficientSources = errors.New("oracle: not enough trading sources")
	ErrTooManySources      = errors.New("oracle: too many sources")
)

// WindowStats describes one candidate window of the sorted sample.
type WindowStats struct {
	Start   int
	Average uint64
	StdDev  uint64
	CV      uint64
}

// WindowResult is the outcome of a windowed aggregation.
type WindowResult struct {
	Price   uint64
	Window  int
	CV      uint64
	Windows []WindowStats
}

// AggregateWindows sorts prices and averages the run of WindowSize adjacent
// samples with the lowest coefficient of variation. Ties keep the lower window.
// With five inputs that is the low, mid and high window of the sorted set.
func AggregateWindows(prices []uint64) (WindowResult, error) {
	if len(prices) < MinSources {
		return WindowResult{}, ErrInsufficientSources
	}
	if len(prices) > MaxSources {
		return WindowResult{}, ErrTooManySources
	}
	sorted := append([]uint64(nil), prices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	windows := make([]WindowStats, 0, len(sorted)-WindowSize+1)
	best := -1
	for start := 0; start+WindowSize <= len(sorted); start++ {
		stats, err := windowStats(sorted[start : start+WindowSize])
		if err != nil {
			return WindowResult{}, err
		}
		stats.Start = start
		windows = append(windows, stats)
		if best < 0 || stats.CV < windows[best].CV {
			best = len(windows) - 1
		}
	}
	chosen := windows[best]
	if chosen.CV > MaxCoefficientOfVariation {
		return WindowResult{Windows: windows, Window: best, CV: chosen.CV}, ErrPricesTooDivergent
	}
	return WindowResult{
		Price:   chosen.Average,
		Window:  best,
		CV:      chosen.CV,
		Windows: windows,
	}, nil
}

// windowStats computes avg = sum/n, the sample standard deviation with an
// n-1 denominator, and cv = stddev*CVScale/avg.
func windowStats(window []uint64) (WindowStats, error) {
	n := uint64(len(window))
	sum := new(uint256.Int)
	for _, p := range window {
		sum.Add(sum, common.Wide(p))
	}
	avgWide := new(uint256.Int).Div(sum, common.Wide(n))
	avg, err := common.Narrow(avgWide)
	if err != nil {
		return WindowStats{}, err
	}
	if avg == 0 {
		return WindowStats{}, ErrZeroAverage
	}

	squares := new(uint256.Int)
	for _, p := range window {
		var diff uint64
		if p > avg {
			diff = p - avg
		} else {
			diff = avg - p
		}
		d := common.Wide(diff)
		squares.Add(squares, d.Mul(d, d))
	}
	variance := squares.Div(squares, common.Wide(n-1))
	stddev, err := common.Narrow(common.Sqrt(variance))
	if err != nil {
		return WindowStats{}, err
	}
	cvWide, err := common.WideMulDiv(common.Wide(stddev), common.Wide(CVScale), avgWide)
	if err != nil {
		return WindowStats{}, err
	}
	cv, err := common.Narrow(cvWide)
	if err != nil {
		return WindowStats{}, err
	}
	return WindowStats{Average: avg, StdDev: stddev, CV: cv}, nil
}

// AggregateThree keeps the two prices that agree most closely and returns
// their floored mean. Ties prefer (a,b), then (b,c), then (c,a). It never fails.
func AggregateThree(a, b, c uint64) uint64 {
	ab, bc, ca := absDiff(a, b), absDiff(b, c), absDiff(c, a)
	switch {
	case ab <= bc && ab <= ca:
		return floorMean(a, b)
	case bc <= ca:
		return floorMean(b, c)
	default:
		return floorMean(c, a)
	}
}

func absDiff(x, y uint64) uint64 {
	if x > y {
		return x - y
	}
	return y - x
}

func floorMean(x, y uint64) uint64 {
	return x/2 + y/2 + (x & y & 1)
}
