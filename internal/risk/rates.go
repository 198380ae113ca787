package risk

// Approximate quote-currency-to-USD rates for position sizing.
// Precision is sufficient for paper-trading sizing; live sizing errors
// are bounded by the leverage cap.
var quoteToUSD = map[string]float64{
	"USD": 1.0,
	"GBP": 1.26,
	"EUR": 1.08,
	"AUD": 0.65,
	"NZD": 0.58,
	"CAD": 0.74,
	"CHF": 1.13,
	"JPY": 0.0067,
}

// Derived quote-currency-to-AUD rates. Margin accounts are
// AUD-denominated, so sizing converts through AUD.
var quoteToAUD = func() map[string]float64 {
	aud := quoteToUSD["AUD"]
	out := make(map[string]float64, len(quoteToUSD))
	for k, v := range quoteToUSD {
		out[k] = v / aud
	}
	return out
}()

var usdToAUD = quoteToAUD["USD"]

// QuoteToAUDRate converts a quote currency to AUD. Dollar-pegged
// stablecoins are treated as USD; unknown currencies fall back to the
// USD rate.
func QuoteToAUDRate(quoteCurrency string) float64 {
	switch quoteCurrency {
	case "USDT", "BUSD", "USDC":
		return usdToAUD
	}
	if rate, ok := quoteToAUD[quoteCurrency]; ok {
		return rate
	}
	return usdToAUD
}
