// Package indicators computes full technical-indicator series over bar data.
// Every function returns a slice the same length as its input bars; warmup
// positions are NaN, never zero. Consumers must check Defined before use.
package indicators

import (
	"math"

	"signal-engine/internal/marketdata"
)

// Defined reports whether an indicator value is usable (finite, not warmup).
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LastDefined reports whether the trailing n values of the series are all
// defined.
func LastDefined(series []float64, n int) bool {
	if len(series) < n {
		return false
	}
	for i := len(series) - n; i < len(series); i++ {
		if !Defined(series[i]) {
			return false
		}
	}
	return true
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func closes(bars []marketdata.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA returns the simple moving average series.
func SMA(bars []marketdata.Bar, period int) []float64 {
	return smaOf(closes(bars), period)
}

func smaOf(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average series, seeded with the SMA of
// the first period values.
func EMA(bars []marketdata.Bar, period int) []float64 {
	return emaOf(closes(bars), period)
}

func emaOf(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[period-1] = prev

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		prev = values[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// RSI returns the Wilder-smoothed relative strength index series.
func RSI(bars []marketdata.Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// trueRanges returns the TR series (index 0 is NaN).
func trueRanges(bars []marketdata.Bar) []float64 {
	out := nanSeries(len(bars))
	for i := 1; i < len(bars); i++ {
		out[i] = math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-bars[i-1].Close), math.Abs(bars[i].Low-bars[i-1].Close)))
	}
	return out
}

// ATR returns the Wilder-smoothed average true range series.
func ATR(bars []marketdata.Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}
	tr := trueRanges(bars)

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	prev := sum / float64(period)
	out[period] = prev

	for i := period + 1; i < len(bars); i++ {
		prev = (prev*float64(period-1) + tr[i]) / float64(period)
		out[i] = prev
	}
	return out
}

// ADX returns the average directional index series (Wilder).
func ADX(bars []marketdata.Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < 2*period+1 {
		return out
	}

	n := len(bars)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := trueRanges(bars)
	for i := 1; i < n; i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	// Wilder smoothing of TR, +DM, -DM.
	var trS, plusS, minusS float64
	for i := 1; i <= period; i++ {
		trS += tr[i]
		plusS += plusDM[i]
		minusS += minusDM[i]
	}

	dx := nanSeries(n)
	dx[period] = dxValue(plusS, minusS, trS)
	for i := period + 1; i < n; i++ {
		trS = trS - trS/float64(period) + tr[i]
		plusS = plusS - plusS/float64(period) + plusDM[i]
		minusS = minusS - minusS/float64(period) + minusDM[i]
		dx[i] = dxValue(plusS, minusS, trS)
	}

	// ADX is the Wilder average of DX.
	sum := 0.0
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	prev := sum / float64(period)
	out[2*period-1] = prev
	for i := 2 * period; i < n; i++ {
		prev = (prev*float64(period-1) + dx[i]) / float64(period)
		out[i] = prev
	}
	return out
}

func dxValue(plusS, minusS, trS float64) float64 {
	if trS == 0 {
		return 0
	}
	plusDI := 100 * plusS / trS
	minusDI := 100 * minusS / trS
	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}

// CCI returns the commodity channel index series.
func CCI(bars []marketdata.Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period {
		return out
	}
	tp := make([]float64, len(bars))
	for i, b := range bars {
		tp[i] = (b.High + b.Low + b.Close) / 3
	}
	for i := period - 1; i < len(bars); i++ {
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += tp[j]
		}
		mean := sum / float64(period)
		dev := 0.0
		for j := i - period + 1; j <= i; j++ {
			dev += math.Abs(tp[j] - mean)
		}
		dev /= float64(period)
		if dev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (tp[i] - mean) / (0.015 * dev)
	}
	return out
}

// WilliamsR returns the Williams %R series (range -100..0).
func WilliamsR(bars []marketdata.Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period {
		return out
	}
	for i := period - 1; i < len(bars); i++ {
		hh, ll := windowHighLow(bars, i, period)
		if hh == ll {
			out[i] = -50
			continue
		}
		out[i] = -100 * (hh - bars[i].Close) / (hh - ll)
	}
	return out
}

func windowHighLow(bars []marketdata.Bar, end, period int) (hh, ll float64) {
	hh, ll = bars[end-period+1].High, bars[end-period+1].Low
	for j := end - period + 2; j <= end; j++ {
		if bars[j].High > hh {
			hh = bars[j].High
		}
		if bars[j].Low < ll {
			ll = bars[j].Low
		}
	}
	return hh, ll
}

// Stochastic returns the %K/%D series. %K is the raw stochastic smoothed by
// smoothK; %D is the smaOf(%K, dPeriod). Warmup positions hold NaN in both.
func Stochastic(bars []marketdata.Bar, kPeriod, smoothK, dPeriod int) []marketdata.StochPoint {
	n := len(bars)
	out := make([]marketdata.StochPoint, n)
	raw := nanSeries(n)
	for i := range out {
		out[i] = marketdata.StochPoint{K: math.NaN(), D: math.NaN()}
	}
	if kPeriod <= 0 || n < kPeriod {
		return out
	}
	for i := kPeriod - 1; i < n; i++ {
		hh, ll := windowHighLow(bars, i, kPeriod)
		if hh == ll {
			raw[i] = 50
			continue
		}
		raw[i] = 100 * (bars[i].Close - ll) / (hh - ll)
	}
	k := rollingMeanIgnoringLeadingNaN(raw, smoothK)
	d := rollingMeanIgnoringLeadingNaN(k, dPeriod)
	for i := 0; i < n; i++ {
		out[i] = marketdata.StochPoint{K: k[i], D: d[i]}
	}
	return out
}

// rollingMeanIgnoringLeadingNaN averages the last period values, producing
// NaN until the window is fully defined.
func rollingMeanIgnoringLeadingNaN(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 1 {
		copy(out, values)
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		ok := true
		for j := i - period + 1; j <= i; j++ {
			if !Defined(values[j]) {
				ok = false
				break
			}
			sum += values[j]
		}
		if ok {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// Bollinger returns the Bollinger band series over period with stdDev mult.
func Bollinger(bars []marketdata.Bar, period int, mult float64) []marketdata.BollingerPoint {
	n := len(bars)
	out := make([]marketdata.BollingerPoint, n)
	for i := range out {
		out[i] = marketdata.BollingerPoint{Upper: math.NaN(), Middle: math.NaN(), Lower: math.NaN()}
	}
	if period <= 0 || n < period {
		return out
	}
	cl := closes(bars)
	mid := smaOf(cl, period)
	for i := period - 1; i < n; i++ {
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			diff := cl[j] - mid[i]
			variance += diff * diff
		}
		sd := math.Sqrt(variance / float64(period))
		out[i] = marketdata.BollingerPoint{
			Upper:  mid[i] + mult*sd,
			Middle: mid[i],
			Lower:  mid[i] - mult*sd,
		}
	}
	return out
}

// MACD returns the MACD line, signal line, and histogram series.
func MACD(bars []marketdata.Bar, fast, slow, signal int) []marketdata.MACDPoint {
	n := len(bars)
	out := make([]marketdata.MACDPoint, n)
	for i := range out {
		out[i] = marketdata.MACDPoint{MACD: math.NaN(), Signal: math.NaN(), Histogram: math.NaN()}
	}
	if n < slow+signal {
		return out
	}
	cl := closes(bars)
	fastEMA := emaOf(cl, fast)
	slowEMA := emaOf(cl, slow)

	macdLine := nanSeries(n)
	for i := slow - 1; i < n; i++ {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}

	// Signal is the EMA of the MACD line, seeded where MACD becomes defined.
	signalLine := nanSeries(n)
	start := slow - 1
	if start+signal <= n {
		sum := 0.0
		for i := start; i < start+signal; i++ {
			sum += macdLine[i]
		}
		prev := sum / float64(signal)
		signalLine[start+signal-1] = prev
		k := 2.0 / float64(signal+1)
		for i := start + signal; i < n; i++ {
			prev = macdLine[i]*k + prev*(1-k)
			signalLine[i] = prev
		}
	}

	for i := 0; i < n; i++ {
		if Defined(macdLine[i]) && Defined(signalLine[i]) {
			out[i] = marketdata.MACDPoint{
				MACD:      macdLine[i],
				Signal:    signalLine[i],
				Histogram: macdLine[i] - signalLine[i],
			}
		} else if Defined(macdLine[i]) {
			out[i] = marketdata.MACDPoint{MACD: macdLine[i], Signal: math.NaN(), Histogram: math.NaN()}
		}
	}
	return out
}

// OBV returns the on-balance volume series. The first position is 0 by
// convention (no prior close to compare), all others accumulate.
func OBV(bars []marketdata.Bar) []float64 {
	out := nanSeries(len(bars))
	if len(bars) == 0 {
		return out
	}
	out[0] = 0
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - bars[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}
