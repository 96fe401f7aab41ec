package strategy

import "signal-engine/internal/marketdata"

func body(b marketdata.Bar) float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

func lowerWick(b marketdata.Bar) float64 {
	if b.Close >= b.Open {
		return b.Open - b.Low
	}
	return b.Close - b.Low
}

func upperWick(b marketdata.Bar) float64 {
	if b.Close >= b.Open {
		return b.High - b.Close
	}
	return b.High - b.Open
}

func isBullish(b marketdata.Bar) bool { return b.Close > b.Open }
func isBearish(b marketdata.Bar) bool { return b.Close < b.Open }

// degenerate bars (high == low) carry no wick information; wick-based logic
// must skip them.
func degenerate(b marketdata.Bar) bool { return b.High == b.Low }

// bullishRejection reports a bar that probed lower and closed strong: the
// lower wick at least half the range with a close in the upper half.
func bullishRejection(b marketdata.Bar) bool {
	if degenerate(b) {
		return false
	}
	rng := b.High - b.Low
	return lowerWick(b) >= rng*0.5 && b.Close >= b.Low+rng*0.5
}

// bearishRejection mirrors bullishRejection on the upper wick.
func bearishRejection(b marketdata.Bar) bool {
	if degenerate(b) {
		return false
	}
	rng := b.High - b.Low
	return upperWick(b) >= rng*0.5 && b.Close <= b.High-rng*0.5
}
