package marketdata

import (
	"math"
	"time"
)

// Bar is one OHLCV sample. Sequences are ordered oldest-first.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Valid checks the bar invariant: low <= open,close <= high, volume >= 0.
func (b Bar) Valid() bool {
	if math.IsNaN(b.Open) || math.IsNaN(b.High) || math.IsNaN(b.Low) || math.IsNaN(b.Close) {
		return false
	}
	return b.Low <= b.Open && b.Open <= b.High &&
		b.Low <= b.Close && b.Close <= b.High &&
		b.Volume >= 0
}

// Internal interval codes and their provider forms.
const (
	IntervalH1 = "60min"
	IntervalH4 = "4h"
	IntervalD1 = "daily"
)

// StochPoint is one stochastic oscillator sample.
type StochPoint struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// BollingerPoint is one Bollinger band sample.
type BollingerPoint struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// MACDPoint is one MACD sample.
type MACDPoint struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}
