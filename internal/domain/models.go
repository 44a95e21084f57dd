// Package domain provides core domain models and types.
package domain

import (
	"strings"
	"time"
)

// LayerCount is the number of diversification layers. Every per-layer value
// in the engine has exactly this many slots.
const LayerCount = 5

// LayerID identifies a diversification layer (1..5)
type LayerID int

const (
	// LayerGlobalCore holds broad, low-cost world index funds
	LayerGlobalCore LayerID = 1
	// LayerCorePlus holds regional and factor tilts
	LayerCorePlus LayerID = 2
	// LayerThemes holds sector and thematic funds
	LayerThemes LayerID = 3
	// LayerIndividualStocks holds single equities
	LayerIndividualStocks LayerID = 4
	// LayerUnclassified is the catch-all for anything without a known classification
	LayerUnclassified LayerID = 5
)

// DefaultLayerNames are used when a profile does not name its layers
var DefaultLayerNames = [LayerCount]string{
	"Global Core",
	"Core-Plus",
	"Themes",
	"Individual Stocks",
	"Unclassified",
}

// Index returns the zero-based slot of the layer.
func (l LayerID) Index() int {
	return int(l) - 1
}

// Valid reports whether the id is one of the five layers.
func (l LayerID) Valid() bool {
	return l >= LayerGlobalCore && l <= LayerUnclassified
}

// ClassifyLayer maps a raw layer value to a LayerID.
// Missing or unknown classifications map to LayerUnclassified.
func ClassifyLayer(raw int) LayerID {
	id := LayerID(raw)
	if !id.Valid() {
		return LayerUnclassified
	}
	return id
}

// LayerFromIndex converts a zero-based slot back into a LayerID
func LayerFromIndex(i int) LayerID {
	return LayerID(i + 1)
}

// InstrumentType represents the kind of instrument behind an ISIN
type InstrumentType string

const (
	InstrumentTypeETF     InstrumentType = "ETF"
	InstrumentTypeFund    InstrumentType = "FUND"
	InstrumentTypeREIT    InstrumentType = "REIT"
	InstrumentTypeStock   InstrumentType = "STOCK"
	InstrumentTypeUnknown InstrumentType = "UNKNOWN"
)

// HoldingsSnapshot is the current market value per layer at a point in time
type HoldingsSnapshot struct {
	AsOf   time.Time           `json:"as_of"`
	Values [LayerCount]float64 `json:"values"`
}

// Total returns the summed market value across all layers
func (h HoldingsSnapshot) Total() float64 {
	total := 0.0
	for _, v := range h.Values {
		total += v
	}
	return total
}

// ContributionItem is a recurring monthly investment instruction.
// Uniqueness key is (ISIN, DepotID).
type ContributionItem struct {
	ISIN          string  `json:"isin" msgpack:"isin"`
	DepotID       string  `json:"depot_id" msgpack:"depot_id"`
	Name          string  `json:"name" msgpack:"name"`
	Layer         LayerID `json:"layer" msgpack:"layer"`
	MonthlyAmount float64 `json:"monthly_amount" msgpack:"monthly_amount"`
}

// Key returns the uniqueness key of the item
func (c ContributionItem) Key() string {
	return NormalizeISIN(c.ISIN) + "|" + strings.TrimSpace(c.DepotID)
}

// NormalizeISIN trims and upper-cases an ISIN. Blank input yields "".
func NormalizeISIN(isin string) string {
	return strings.ToUpper(strings.TrimSpace(isin))
}

// NormalizeLabel trims and lower-cases a free-text label. Blank input yields "".
func NormalizeLabel(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
