// Package instruments holds static per-symbol metadata: pip size, pip value,
// display digits, contract size, and asset class. It drives pip distances and
// dollar P&L in position sizing.
package instruments

import "strings"

// AssetClass buckets symbols for pip math and volatility multipliers.
type AssetClass string

const (
	ClassForex    AssetClass = "forex"
	ClassJPYForex AssetClass = "jpy-forex"
	ClassCrypto   AssetClass = "crypto"
	ClassMetal    AssetClass = "metal"
	ClassIndex    AssetClass = "index"
	ClassEnergy   AssetClass = "energy"
)

// Spec is static instrument metadata.
type Spec struct {
	Symbol       string     `json:"symbol"`
	Class        AssetClass `json:"class"`
	PipSize      float64    `json:"pip_size"`      // price increment of one pip
	PipValue     float64    `json:"pip_value"`     // USD value of one pip per standard lot
	Digits       int        `json:"digits"`        // display precision
	ContractSize float64    `json:"contract_size"` // units per lot
}

var specs = map[string]Spec{
	// Majors
	"EURUSD": {Symbol: "EURUSD", Class: ClassForex, PipSize: 0.0001, PipValue: 10, Digits: 5, ContractSize: 100000},
	"GBPUSD": {Symbol: "GBPUSD", Class: ClassForex, PipSize: 0.0001, PipValue: 10, Digits: 5, ContractSize: 100000},
	"AUDUSD": {Symbol: "AUDUSD", Class: ClassForex, PipSize: 0.0001, PipValue: 10, Digits: 5, ContractSize: 100000},
	"NZDUSD": {Symbol: "NZDUSD", Class: ClassForex, PipSize: 0.0001, PipValue: 10, Digits: 5, ContractSize: 100000},
	"USDCAD": {Symbol: "USDCAD", Class: ClassForex, PipSize: 0.0001, PipValue: 7.5, Digits: 5, ContractSize: 100000},
	"USDCHF": {Symbol: "USDCHF", Class: ClassForex, PipSize: 0.0001, PipValue: 11, Digits: 5, ContractSize: 100000},

	// JPY crosses
	"USDJPY": {Symbol: "USDJPY", Class: ClassJPYForex, PipSize: 0.01, PipValue: 6.7, Digits: 3, ContractSize: 100000},
	"EURJPY": {Symbol: "EURJPY", Class: ClassJPYForex, PipSize: 0.01, PipValue: 6.7, Digits: 3, ContractSize: 100000},
	"GBPJPY": {Symbol: "GBPJPY", Class: ClassJPYForex, PipSize: 0.01, PipValue: 6.7, Digits: 3, ContractSize: 100000},

	// Crypto
	"BTCUSD": {Symbol: "BTCUSD", Class: ClassCrypto, PipSize: 1, PipValue: 1, Digits: 2, ContractSize: 1},
	"ETHUSD": {Symbol: "ETHUSD", Class: ClassCrypto, PipSize: 0.1, PipValue: 0.1, Digits: 2, ContractSize: 1},
	"SOLUSD": {Symbol: "SOLUSD", Class: ClassCrypto, PipSize: 0.01, PipValue: 0.01, Digits: 3, ContractSize: 1},

	// Metals
	"XAUUSD": {Symbol: "XAUUSD", Class: ClassMetal, PipSize: 0.1, PipValue: 10, Digits: 2, ContractSize: 100},
	"XAGUSD": {Symbol: "XAGUSD", Class: ClassMetal, PipSize: 0.01, PipValue: 50, Digits: 3, ContractSize: 5000},

	// Indices
	"SPX500": {Symbol: "SPX500", Class: ClassIndex, PipSize: 0.1, PipValue: 1, Digits: 1, ContractSize: 10},
	"NAS100": {Symbol: "NAS100", Class: ClassIndex, PipSize: 0.1, PipValue: 1, Digits: 1, ContractSize: 10},

	// Energy
	"USOIL": {Symbol: "USOIL", Class: ClassEnergy, PipSize: 0.01, PipValue: 10, Digits: 2, ContractSize: 1000},
}

// Lookup returns the spec for a symbol. Unknown symbols get a generic spec
// inferred from naming so sizing still produces an approximate answer.
func Lookup(symbol string) (Spec, bool) {
	if s, ok := specs[symbol]; ok {
		return s, true
	}
	return inferSpec(symbol), false
}

// inferSpec guesses a spec for symbols outside the static table.
func inferSpec(symbol string) Spec {
	s := Spec{Symbol: symbol, PipSize: 0.0001, PipValue: 10, Digits: 5, ContractSize: 100000, Class: ClassForex}
	switch {
	case strings.HasSuffix(symbol, "JPY"):
		s.Class = ClassJPYForex
		s.PipSize = 0.01
		s.PipValue = 6.7
		s.Digits = 3
	case strings.HasPrefix(symbol, "BTC"), strings.HasPrefix(symbol, "ETH"),
		strings.HasPrefix(symbol, "SOL"), strings.HasPrefix(symbol, "XRP"):
		s.Class = ClassCrypto
		s.PipSize = 0.01
		s.PipValue = 0.01
		s.Digits = 2
		s.ContractSize = 1
	case strings.HasPrefix(symbol, "XAU"), strings.HasPrefix(symbol, "XAG"):
		s.Class = ClassMetal
		s.PipSize = 0.1
		s.PipValue = 10
		s.Digits = 2
		s.ContractSize = 100
	}
	return s
}

// Symbols returns the symbols in the static table.
func Symbols() []string {
	out := make([]string, 0, len(specs))
	for s := range specs {
		out = append(out, s)
	}
	return out
}

// IsCrypto reports whether the symbol is a crypto pair.
func IsCrypto(symbol string) bool {
	s, _ := Lookup(symbol)
	return s.Class == ClassCrypto
}
