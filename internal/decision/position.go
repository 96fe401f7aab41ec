package decision

import (
	"fmt"
	"math"

	"signal-engine/internal/instruments"
)

// SizeInput is everything position sizing needs.
type SizeInput struct {
	Symbol             string
	Entry              float64
	Stop               float64
	AccountSize        float64
	RiskPercent        float64
	MaxPositionPercent float64 // default 10
}

// SizeResult is the sized position plus validity and warnings.
type SizeResult struct {
	Valid         bool
	Reason        string
	Lots          float64
	Units         float64
	RiskAmount    float64
	StopPips      float64
	IsApproximate bool
	Warnings      []string
}

// effectiveLeverage approximates the margin available per asset class, used
// only for the max-position exposure cap.
func effectiveLeverage(class instruments.AssetClass) float64 {
	switch class {
	case instruments.ClassForex, instruments.ClassJPYForex:
		return 100
	case instruments.ClassMetal, instruments.ClassIndex, instruments.ClassEnergy:
		return 20
	default:
		return 1
	}
}

// CalculateSize derives lots and units from account risk. Lots are rounded
// to two decimals with a 0.01 floor; units use the instrument contract size.
func CalculateSize(in SizeInput) SizeResult {
	r := SizeResult{}
	for name, v := range map[string]float64{
		"entry": in.Entry, "stop": in.Stop,
		"account size": in.AccountSize, "risk percent": in.RiskPercent,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			r.Reason = fmt.Sprintf("invalid %s: %v", name, v)
			return r
		}
	}
	if in.Entry == in.Stop {
		r.Reason = "entry equals stop"
		return r
	}
	if in.MaxPositionPercent <= 0 {
		in.MaxPositionPercent = 10
	}

	spec, known := instruments.Lookup(in.Symbol)
	r.IsApproximate = !known

	stopDistance := math.Abs(in.Entry - in.Stop)
	r.StopPips = stopDistance / spec.PipSize
	r.RiskAmount = in.AccountSize * in.RiskPercent / 100

	lots := r.RiskAmount / (r.StopPips * spec.PipValue)

	// Exposure cap, margin-adjusted per asset class.
	maxUnits := in.MaxPositionPercent / 100 * in.AccountSize * effectiveLeverage(spec.Class) / in.Entry
	if lots*spec.ContractSize > maxUnits {
		lots = maxUnits / spec.ContractSize
		r.IsApproximate = true
		r.Warnings = append(r.Warnings, "position capped by max exposure")
	}

	lots = math.Round(lots*100) / 100
	if lots < 0.01 {
		lots = 0.01
		r.Warnings = append(r.Warnings, "position floored at minimum lot")
	}
	r.Lots = lots

	switch spec.Class {
	case instruments.ClassForex, instruments.ClassJPYForex:
		r.Units = math.Floor(lots * 100000)
	default:
		r.Units = lots * spec.ContractSize
	}

	if stopDistance/in.Entry > 0.10 {
		r.Warnings = append(r.Warnings, "stop is more than 10% from entry")
	}
	r.Valid = true
	return r
}
