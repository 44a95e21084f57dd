package domain

import "strings"

// Exposure is a named weight (holding, region or sector).
// Weight may be a fraction (0.12) or a percentage (12); see NormalizeWeightPct.
type Exposure struct {
	Name   string   `json:"name" msgpack:"name"`
	Weight *float64 `json:"weight,omitempty" msgpack:"weight,omitempty"`
}

// EPSPoint is one year of earnings-per-share history
type EPSPoint struct {
	Year int     `json:"year" msgpack:"year"`
	EPS  float64 `json:"eps" msgpack:"eps"`
}

// Valuation holds the valuation ratios extracted for an instrument
type Valuation struct {
	PECurrent              *float64   `json:"pe_current,omitempty" msgpack:"pe_current,omitempty"`
	PELongTerm             *float64   `json:"pe_longterm,omitempty" msgpack:"pe_longterm,omitempty"`
	PEHoldings             *float64   `json:"pe_holdings,omitempty" msgpack:"pe_holdings,omitempty"`
	EVToEBITDA             *float64   `json:"ev_to_ebitda,omitempty" msgpack:"ev_to_ebitda,omitempty"`
	PriceToBook            *float64   `json:"pb_current,omitempty" msgpack:"pb_current,omitempty"`
	EarningsYieldLongTerm  *float64   `json:"earnings_yield_longterm,omitempty" msgpack:"earnings_yield_longterm,omitempty"`
	EarningsYieldHoldings  *float64   `json:"earnings_yield_holdings,omitempty" msgpack:"earnings_yield_holdings,omitempty"`
	DividendYield          *float64   `json:"dividend_yield,omitempty" msgpack:"dividend_yield,omitempty"`
	EBITDAEur              *float64   `json:"ebitda_eur,omitempty" msgpack:"ebitda_eur,omitempty"`
	EPSHistory             []EPSPoint `json:"eps_history,omitempty" msgpack:"eps_history,omitempty"`
	PEMethod               string     `json:"pe_method,omitempty" msgpack:"pe_method,omitempty"`
	PEHorizon              string     `json:"pe_horizon,omitempty" msgpack:"pe_horizon,omitempty"`
	NegativeEarningsPolicy string     `json:"neg_earnings_handling,omitempty" msgpack:"neg_earnings_handling,omitempty"`
}

// Financials holds reported financial figures in EUR
type Financials struct {
	NetIncomeEur *float64 `json:"net_income_eur,omitempty" msgpack:"net_income_eur,omitempty"`
	RevenueEur   *float64 `json:"revenue_eur,omitempty" msgpack:"revenue_eur,omitempty"`
}

// InstrumentFacts are the signals extracted for one ISIN by the knowledge-base
// pipeline. Every field is optional; consumers must degrade gracefully.
type InstrumentFacts struct {
	ISIN           string         `json:"isin" msgpack:"isin"`
	Name           string         `json:"name,omitempty" msgpack:"name,omitempty"`
	Layer          LayerID        `json:"layer,omitempty" msgpack:"layer,omitempty"`
	InstrumentType InstrumentType `json:"instrument_type,omitempty" msgpack:"instrument_type,omitempty"`
	AssetClass     string         `json:"asset_class,omitempty" msgpack:"asset_class,omitempty"`
	SubClass       string         `json:"sub_class,omitempty" msgpack:"sub_class,omitempty"`
	TERPct         *float64       `json:"ter_pct,omitempty" msgpack:"ter_pct,omitempty"`
	BenchmarkIndex string         `json:"benchmark_index,omitempty" msgpack:"benchmark_index,omitempty"`
	RiskIndicator  *int           `json:"risk_indicator,omitempty" msgpack:"risk_indicator,omitempty"`
	Valuation      *Valuation     `json:"valuation,omitempty" msgpack:"valuation,omitempty"`
	Financials     *Financials    `json:"financials,omitempty" msgpack:"financials,omitempty"`
	TopHoldings    []Exposure     `json:"top_holdings,omitempty" msgpack:"top_holdings,omitempty"`
	Regions        []Exposure     `json:"regions,omitempty" msgpack:"regions,omitempty"`
	Sectors        []Exposure     `json:"sectors,omitempty" msgpack:"sectors,omitempty"`
	MissingFields  int            `json:"missing_fields" msgpack:"missing_fields"`
	Warnings       int            `json:"warnings" msgpack:"warnings"`
	Complete       bool           `json:"complete" msgpack:"complete"`
}

// IsFund reports whether the instrument is an ETF/UCITS or a fund
func (f *InstrumentFacts) IsFund() bool {
	if f == nil {
		return false
	}
	t := NormalizeLabel(string(f.InstrumentType))
	asset := NormalizeLabel(f.AssetClass)
	return strings.Contains(t, "etf") || strings.Contains(t, "ucits") || strings.Contains(t, "fund") ||
		strings.Contains(asset, "fund")
}

// IsREIT reports whether the instrument is a real-estate investment trust
func (f *InstrumentFacts) IsREIT() bool {
	if f == nil {
		return false
	}
	return strings.Contains(NormalizeLabel(string(f.InstrumentType)), "reit") ||
		strings.Contains(NormalizeLabel(f.SubClass), "reit")
}

// IsSingleStock reports whether the instrument is an individual equity
func (f *InstrumentFacts) IsSingleStock() bool {
	if f == nil || f.IsFund() || f.IsREIT() {
		return false
	}
	t := NormalizeLabel(string(f.InstrumentType))
	return strings.Contains(t, "stock") || strings.Contains(t, "equity") || strings.Contains(t, "share")
}

// NormalizeWeightPct converts a weight into a fraction.
// Values above 1 are treated as percentages; non-positive values are unavailable.
func NormalizeWeightPct(weight *float64) (float64, bool) {
	if weight == nil || *weight <= 0 {
		return 0, false
	}
	if *weight > 1 {
		return *weight / 100, true
	}
	return *weight, true
}

// FactsIndex maps a normalized ISIN to its facts
type FactsIndex map[string]*InstrumentFacts

// Lookup returns the facts for an ISIN, or nil when none were extracted
func (idx FactsIndex) Lookup(isin string) *InstrumentFacts {
	if idx == nil {
		return nil
	}
	return idx[NormalizeISIN(isin)]
}

// Float returns a pointer to v. Convenient for building facts in code.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v
func Int(v int) *int {
	return &v
}
