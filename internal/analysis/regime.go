package analysis

import (
	"math"
	"sort"

	"signal-engine/internal/indicators"
	"signal-engine/internal/instruments"
)

// VolLevel classifies the current ATR against its trailing average.
type VolLevel string

const (
	VolExtremeLow VolLevel = "extreme-low"
	VolLow        VolLevel = "low"
	VolNormal     VolLevel = "normal"
	VolHigh       VolLevel = "high"
	VolExtreme    VolLevel = "extreme"
)

// Regime classifies the ATR percentile over a trailing window.
type Regime string

const (
	RegimeCompression Regime = "compression"
	RegimeNormal      Regime = "normal"
	RegimeExpansion   Regime = "expansion"
)

// Volatility is the regime read gating decisions and scaling exits.
type Volatility struct {
	ATR        float64
	Ratio      float64 // ATR over its trailing 20-period average
	Level      VolLevel
	Percentile float64
	Regime     Regime
	Blocked    bool // extreme levels veto the decision outright
}

const (
	volAvgWindow        = 20
	volPercentileWindow = 100

	ratioExtremeLow = 0.15
	ratioLow        = 0.30
	ratioHigh       = 2.0
	ratioExtreme    = 3.0

	pctCompression = 25.0
	pctExpansion   = 75.0
	pctMRBlock     = 90.0
)

// classMultiplier widens the high-side ratio thresholds for naturally
// volatile asset classes so they are not flagged extreme in routine moves.
func classMultiplier(class instruments.AssetClass) float64 {
	switch class {
	case instruments.ClassCrypto:
		return 1.5
	case instruments.ClassMetal:
		return 1.2
	case instruments.ClassIndex:
		return 1.3
	case instruments.ClassJPYForex:
		return 1.1
	default:
		return 1.0
	}
}

// AssessVolatility reads the bundle's ATR at the signal bar against its
// trailing context. Insufficient or undefined ATR yields a normal,
// non-blocking assessment so data gaps degrade to no-op rather than veto.
func AssessVolatility(b *Bundle) Volatility {
	v := Volatility{Level: VolNormal, Regime: RegimeNormal, Ratio: 1.0, Percentile: 50}
	i := b.SignalIndex()
	if i < volAvgWindow {
		return v
	}
	atr := b.ATR[i]
	if !indicators.Defined(atr) || atr <= 0 {
		return v
	}
	v.ATR = atr

	sum, n := 0.0, 0
	for j := i - volAvgWindow; j < i; j++ {
		if indicators.Defined(b.ATR[j]) {
			sum += b.ATR[j]
			n++
		}
	}
	if n == 0 || sum <= 0 {
		return v
	}
	v.Ratio = atr / (sum / float64(n))

	spec, _ := instruments.Lookup(b.Symbol)
	mult := classMultiplier(spec.Class)
	switch {
	case v.Ratio < ratioExtremeLow:
		v.Level = VolExtremeLow
		v.Blocked = true
	case v.Ratio < ratioLow:
		v.Level = VolLow
	case v.Ratio > ratioExtreme*mult:
		v.Level = VolExtreme
		v.Blocked = true
	case v.Ratio > ratioHigh*mult:
		v.Level = VolHigh
	}

	v.Percentile = atrPercentile(b.ATR, i)
	switch {
	case v.Percentile <= pctCompression:
		v.Regime = RegimeCompression
	case v.Percentile >= pctExpansion:
		v.Regime = RegimeExpansion
	}
	return v
}

// AllowsMeanReversion reports whether a mean-reversion entry is permitted:
// blocked at extreme levels and in the top volatility decile.
func (v Volatility) AllowsMeanReversion() bool {
	return !v.Blocked && v.Percentile < pctMRBlock
}

// StopScale returns the ATR-stop multiplier adjustment for the regime.
func (v Volatility) StopScale() float64 {
	switch v.Regime {
	case RegimeCompression:
		return 0.8
	case RegimeExpansion:
		return 1.3
	default:
		return 1.0
	}
}

// RRScale returns the reward-target adjustment for the regime. Compressed
// markets get shorter targets.
func (v Volatility) RRScale() float64 {
	if v.Regime == RegimeCompression {
		return 0.8
	}
	return 1.0
}

// atrPercentile ranks the current ATR within its trailing window.
func atrPercentile(atr []float64, i int) float64 {
	start := i - volPercentileWindow
	if start < 0 {
		start = 0
	}
	window := make([]float64, 0, i-start)
	for j := start; j < i; j++ {
		if indicators.Defined(atr[j]) {
			window = append(window, atr[j])
		}
	}
	if len(window) == 0 {
		return 50
	}
	sort.Float64s(window)
	idx := sort.SearchFloat64s(window, atr[i])
	return math.Min(100, 100*float64(idx)/float64(len(window)))
}
