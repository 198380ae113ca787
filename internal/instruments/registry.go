// Package instruments is the symbol metadata registry. Every symbol flows
// through here to determine which broker handles it and what pip/lot
// characteristics it has.
package instruments

import (
	"strings"

	"github.com/quantfold/divergent/internal/models"
)

// Broker ids
const (
	BrokerBinance = "binance"
	BrokerOanda   = "oanda"
	BrokerIG      = "ig"
)

// Instrument holds static metadata for one tradable symbol
type Instrument struct {
	Symbol          string
	BrokerID        string
	DisplayName     string
	AssetClass      models.AssetClass
	PipSize         float64
	PipValuePerUnit float64 // quote currency per pip per 1 unit
	MinUnits        float64
	MaxLeverage     float64
	FeeRate         float64 // 0 for spread-based venues
	BaseCurrency    string
	QuoteCurrency   string
}

// forexInstruments uses OANDA canonical format (underscore-separated)
var forexInstruments = map[string]Instrument{
	"EUR_USD": {
		Symbol: "EUR_USD", BrokerID: BrokerOanda, DisplayName: "EUR/USD",
		AssetClass: models.AssetForex, PipSize: 0.0001, PipValuePerUnit: 0.0001,
		MinUnits: 1, MaxLeverage: 30, FeeRate: 0,
		BaseCurrency: "EUR", QuoteCurrency: "USD",
	},
	"GBP_USD": {
		Symbol: "GBP_USD", BrokerID: BrokerOanda, DisplayName: "GBP/USD",
		AssetClass: models.AssetForex, PipSize: 0.0001, PipValuePerUnit: 0.0001,
		MinUnits: 1, MaxLeverage: 30, FeeRate: 0,
		BaseCurrency: "GBP", QuoteCurrency: "USD",
	},
	"AUD_USD": {
		Symbol: "AUD_USD", BrokerID: BrokerOanda, DisplayName: "AUD/USD",
		AssetClass: models.AssetForex, PipSize: 0.0001, PipValuePerUnit: 0.0001,
		MinUnits: 1, MaxLeverage: 30, FeeRate: 0,
		BaseCurrency: "AUD", QuoteCurrency: "USD",
	},
	"USD_JPY": {
		Symbol: "USD_JPY", BrokerID: BrokerOanda, DisplayName: "USD/JPY",
		AssetClass: models.AssetForex, PipSize: 0.01, PipValuePerUnit: 0.01,
		MinUnits: 1, MaxLeverage: 30, FeeRate: 0,
		BaseCurrency: "USD", QuoteCurrency: "JPY",
	},
	"EUR_GBP": {
		Symbol: "EUR_GBP", BrokerID: BrokerOanda, DisplayName: "EUR/GBP",
		AssetClass: models.AssetForex, PipSize: 0.0001, PipValuePerUnit: 0.0001,
		MinUnits: 1, MaxLeverage: 30, FeeRate: 0,
		BaseCurrency: "EUR", QuoteCurrency: "GBP",
	},
	"AUD_NZD": {
		Symbol: "AUD_NZD", BrokerID: BrokerOanda, DisplayName: "AUD/NZD",
		AssetClass: models.AssetForex, PipSize: 0.0001, PipValuePerUnit: 0.0001,
		MinUnits: 1, MaxLeverage: 30, FeeRate: 0,
		BaseCurrency: "AUD", QuoteCurrency: "NZD",
	},
}

// igInstruments keys are IG epic codes. Spread-based, fee_rate 0.
var igInstruments = map[string]Instrument{
	"IX.D.ASX.IFM.IP": {
		Symbol: "IX.D.ASX.IFM.IP", BrokerID: BrokerIG, DisplayName: "Australia 200",
		AssetClass: models.AssetIndex, PipSize: 1, PipValuePerUnit: 1,
		MinUnits: 0.1, MaxLeverage: 20, FeeRate: 0,
		BaseCurrency: "AU200", QuoteCurrency: "AUD",
	},
	"IX.D.SPTRD.IFM.IP": {
		Symbol: "IX.D.SPTRD.IFM.IP", BrokerID: BrokerIG, DisplayName: "US 500",
		AssetClass: models.AssetIndex, PipSize: 1, PipValuePerUnit: 1,
		MinUnits: 0.1, MaxLeverage: 20, FeeRate: 0,
		BaseCurrency: "US500", QuoteCurrency: "USD",
	},
	"CS.D.USCGC.TODAY.IP": {
		Symbol: "CS.D.USCGC.TODAY.IP", BrokerID: BrokerIG, DisplayName: "Spot Gold",
		AssetClass: models.AssetCommodity, PipSize: 0.1, PipValuePerUnit: 0.1,
		MinUnits: 0.1, MaxLeverage: 20, FeeRate: 0,
		BaseCurrency: "XAU", QuoteCurrency: "USD",
	},
	"CC.D.CL.UMP.IP": {
		Symbol: "CC.D.CL.UMP.IP", BrokerID: BrokerIG, DisplayName: "Oil - US Crude",
		AssetClass: models.AssetCommodity, PipSize: 0.01, PipValuePerUnit: 0.01,
		MinUnits: 1, MaxLeverage: 10, FeeRate: 0,
		BaseCurrency: "WTI", QuoteCurrency: "USD",
	},
	"IR.D.10YEAR100.FWM2.IP": {
		Symbol: "IR.D.10YEAR100.FWM2.IP", BrokerID: BrokerIG, DisplayName: "US T-Note 10Y",
		AssetClass: models.AssetBond, PipSize: 0.01, PipValuePerUnit: 0.01,
		MinUnits: 1, MaxLeverage: 5, FeeRate: 0,
		BaseCurrency: "USTN10", QuoteCurrency: "USD",
	},
	"UA.D.AAPL.CASH.IP": {
		Symbol: "UA.D.AAPL.CASH.IP", BrokerID: BrokerIG, DisplayName: "Apple Inc",
		AssetClass: models.AssetStock, PipSize: 0.01, PipValuePerUnit: 0.01,
		MinUnits: 1, MaxLeverage: 5, FeeRate: 0,
		BaseCurrency: "AAPL", QuoteCurrency: "USD",
	},
	"UA.D.MSFT.CASH.IP": {
		Symbol: "UA.D.MSFT.CASH.IP", BrokerID: BrokerIG, DisplayName: "Microsoft Corp",
		AssetClass: models.AssetStock, PipSize: 0.01, PipValuePerUnit: 0.01,
		MinUnits: 1, MaxLeverage: 5, FeeRate: 0,
		BaseCurrency: "MSFT", QuoteCurrency: "USD",
	},
}

// EpicToTicker maps IG stock-CFD epics to the external data-provider
// ticker. IG blocks historical OHLCV for share CFDs, so candles for these
// come from the fallback data source instead.
var EpicToTicker = map[string]string{
	"UA.D.AAPL.CASH.IP": "AAPL",
	"UA.D.MSFT.CASH.IP": "MSFT",
}

// IsForex reports whether the symbol is a known forex pair
func IsForex(symbol string) bool {
	_, ok := forexInstruments[symbol]
	return ok
}

// Route determines which broker handles a given symbol
func Route(symbol string) string {
	if _, ok := forexInstruments[symbol]; ok {
		return BrokerOanda
	}
	if _, ok := igInstruments[symbol]; ok {
		return BrokerIG
	}
	return BrokerBinance
}

// Get returns instrument metadata, auto-generating a crypto entry for
// unknown symbols of the default broker
func Get(symbol string) Instrument {
	if inst, ok := forexInstruments[symbol]; ok {
		return inst
	}
	if inst, ok := igInstruments[symbol]; ok {
		return inst
	}

	base, quote := symbol, "USDT"
	if i := strings.Index(symbol, "/"); i >= 0 {
		base = symbol[:i]
		if i+1 < len(symbol) {
			quote = symbol[i+1:]
		}
	}

	return Instrument{
		Symbol:          symbol,
		BrokerID:        BrokerBinance,
		DisplayName:     symbol,
		AssetClass:      models.AssetCrypto,
		PipSize:         0.01, // not used for crypto sizing
		PipValuePerUnit: 0.01,
		MinUnits:        0,
		MaxLeverage:     1,
		FeeRate:         0.001, // 0.1% per side
		BaseCurrency:    base,
		QuoteCurrency:   quote,
	}
}

// AssetClassOf returns the asset class for a symbol
func AssetClassOf(symbol string) models.AssetClass {
	return Get(symbol).AssetClass
}
