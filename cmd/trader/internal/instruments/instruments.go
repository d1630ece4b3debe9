// Package instruments holds the broker's instrument table: the mapping
// between canonical symbol names used at the API boundary and the "ric"
// codes, display names, asset ids and price precisions the broker speaks.
package instruments

import "strings"

type Instrument struct {
	Symbol    string // canonical, e.g. "EURUSD"
	Ric       string // broker wire code, e.g. "EURO"
	Name      string // broker display name, e.g. "EUR/USD"
	AssetID   int
	Precision int
}

var table = []Instrument{
	{"ZCRYIDX", "Z-CRY/IDX", "Crypto IDX", 347, 9},
	{"AUDNZD", "AUD/NZD-HSFX", "AUD/NZD", 337, 6},
	{"GBPNZD", "GBP/NZD-HSFX", "GBP/NZD", 340, 6},
	{"EURNZD", "EUR/NZD-HSFX", "EUR/NZD", 339, 6},
	{"EURMXN", "EUR/MXN-HSFX", "EUR/MXN", 342, 6},
	{"EURIDX", "EURX-DXF", "EUR IDX", 335, 8},
	{"JPYIDX", "JPYX-DXF", "JPY IDX", 336, 6},
	{"EURUSD", "EURO", "EUR/USD", 187, 6},
	{"CRYIDX", "CRY/IDX", "CRY IDX", 282, 6},
	{"BTCLTC", "BTC/LTC", "BTC/LTC", 323, 7},
	{"AUDUSD", "AUD/USD", "AUD/USD", 205, 6},
	{"AUDCAD", "AUD/CAD", "AUD/CAD", 206, 6},
	{"EURJPY", "EUR/JPY", "EUR/JPY", 223, 4},
	{"AUDJPY", "AUD/JPY", "AUD/JPY", 210, 4},
	{"USDJPY", "USD/JPY", "USD/JPY", 209, 4},
	{"USDCAD", "USD/CAD", "USD/CAD", 224, 6},
	{"EURCAD(OTC)", "Z-EUR/CAD", "EUR/CAD (OTC)", 302, 6},
	{"NZDUSD", "NZD/USD", "NZD/USD", 208, 6},
	{"GBPUSD", "GBP/USD", "GBP/USD", 202, 6},
	{"XAUUSD", "XAU/USD-HSFX", "Gold", 232, 6},
	{"USDJPY(OTC)", "Z-USD/JPY", "USD/JPY (OTC)", 299, 4},
	{"GBPUSD(OTC)", "Z-GBP/USD", "GBP/USD (OTC)", 241, 6},
	{"EURUSD(OTC)", "Z-EUR/USD", "EUR/USD (OTC)", 235, 6},
	{"USDCHF", "USD/CHF", "USD/CHF", 217, 6},
	{"AUDCAD(OTC)", "Z-AUD/CAD", "AUD/CAD (OTC)", 244, 6},
	{"BTCUSD", "BTC/USD", "Bitcoin", 276, 5},
	{"GBPJPY(OTC)", "Z-GBP/JPY", "GBP/JPY (OTC)", 237, 4},
	{"CHFJPY", "CHF/JPY", "CHF/JPY", 212, 4},
	{"NZDJPY", "NZD/JPY", "NZD/JPY", 94, 4},
}

var (
	bySymbol = make(map[string]Instrument, len(table))
	byRic    = make(map[string]Instrument, len(table))
)

func init() {
	for _, ins := range table {
		bySymbol[ins.Symbol] = ins
		byRic[ins.Ric] = ins
	}
}

// Normalize strips separators and upper-cases a user-supplied symbol so
// "eur/usd" and "EURUSD" name the same instrument.
func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// BySymbol looks up an instrument by canonical symbol (normalized first).
func BySymbol(symbol string) (Instrument, bool) {
	ins, ok := bySymbol[Normalize(symbol)]
	return ins, ok
}

// ByRic looks up an instrument by broker wire code. Unknown rics have no
// canonical mapping and their ticks must be dropped.
func ByRic(ric string) (Instrument, bool) {
	ins, ok := byRic[ric]
	return ins, ok
}

// Symbols returns all canonical symbols.
func Symbols() []string {
	out := make([]string, 0, len(table))
	for _, ins := range table {
		out = append(out, ins.Symbol)
	}
	return out
}
