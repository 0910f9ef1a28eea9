package oracle

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"delphor/native/common"
)

// Status is the trading state a feed reports alongside its price.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusTrading
	StatusHalted
	StatusAuction
)

func (s Status) String() string {
	switch s {
	case StatusTrading:
		return "trading"
	case StatusHalted:
		return "halted"
	case StatusAuction:
		return "auction"
	default:
		return "unknown"
	}
}

// ParseStatus maps a feed's textual status. Unrecognised values are unknown.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trading":
		return StatusTrading
	case "halted":
		return StatusHalted
	case "auction":
		return StatusAuction
	default:
		return StatusUnknown
	}
}

// Well-known source names.
const (
	SourcePyth        = "pyth"
	SourceSwitchboard = "switchboard"
	SourceCoinGecko   = "coingecko"
	SourceOrca        = "orca"
	SourceSerum       = "serum"
)

// SwitchboardDecimals is the fixed scale applied to switchboard results.
const SwitchboardDecimals = 9

var ErrInvalidReading = errors.New("oracle: invalid reading")

// Reading is the decoded (price, decimals, status) tuple one feed produced.
type Reading struct {
	Source   string
	Price    uint64
	Decimals uint8
	Status   Status
}

// Available reports whether the reading may enter an aggregation.
func (r Reading) Available() bool {
	return r.Status == StatusTrading && r.Price > 0
}

// FromExponent converts a signed mantissa and base-10 exponent, the layout
// pyth-style feeds publish, into a Reading. Negative prices clamp to zero and
// so become unavailable.
func FromExponent(source string, mantissa int64, expo int32, status Status) (Reading, error) {
	reading := Reading{Source: source, Status: status}
	if mantissa <= 0 {
		return reading, nil
	}
	price := uint64(mantissa)
	switch {
	case expo <= 0:
		// Compare before negating: -math.MinInt32 does not fit an int32.
		if expo < -common.MaxDecimals {
			return Reading{}, fmt.Errorf("%w: exponent %d", ErrInvalidReading, expo)
		}
		reading.Decimals = uint8(-expo)
	default:
		scaled, err := common.Rescale(price, 0, uint8(min(expo, common.MaxDecimals+1)))
		if err != nil {
			return Reading{}, fmt.Errorf("%w: %v", ErrInvalidReading, err)
		}
		price = scaled
	}
	reading.Price = price
	return reading, nil
}

// FromDecimalResult converts a floating aggregator result, the layout
// switchboard-style feeds publish, to a SwitchboardDecimals fixed-point reading.
func FromDecimalResult(source string, value float64, status Status) (Reading, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return Reading{}, fmt.Errorf("%w: %v", ErrInvalidReading, value)
	}
	scaled := value * math.Pow10(SwitchboardDecimals)
	if scaled >= math.MaxUint64 {
		return Reading{}, fmt.Errorf("%w: %v overflows", ErrInvalidReading, value)
	}
	return Reading{
		Source:   source,
		Price:    uint64(scaled),
		Decimals: SwitchboardDecimals,
		Status:   status,
	}, nil
}
