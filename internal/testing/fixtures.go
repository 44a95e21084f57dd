package testing

import (
	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/layers"
)

// NewHoldingsFixture returns layer holdings close to the balanced 70/20/8/2 profile
func NewHoldingsFixture() layers.Amounts {
	return layers.Amounts{7000, 2000, 800, 200, 0}
}

// NewContributionFixtures returns a saving plan of 1000 EUR spread over the
// first four layers, with the world fund split across two depots
func NewContributionFixtures() []domain.ContributionItem {
	return []domain.ContributionItem{
		{ISIN: "IE00B4L5Y983", DepotID: "tr", Name: "iShares Core MSCI World", Layer: domain.LayerGlobalCore, MonthlyAmount: 400},
		{ISIN: "IE00B4L5Y983", DepotID: "sc", Name: "iShares Core MSCI World", Layer: domain.LayerGlobalCore, MonthlyAmount: 300},
		{ISIN: "IE00BKM4GZ66", DepotID: "tr", Name: "iShares Core MSCI EM IMI", Layer: domain.LayerCorePlus, MonthlyAmount: 200},
		{ISIN: "IE00BM67HT60", DepotID: "tr", Name: "Xtrackers MSCI World Information Technology", Layer: domain.LayerThemes, MonthlyAmount: 80},
		{ISIN: "US0378331005", DepotID: "tr", Name: "Apple Inc.", Layer: domain.LayerIndividualStocks, MonthlyAmount: 20},
	}
}

// NewFactsFixtures returns complete facts for the contribution fixtures
func NewFactsFixtures() []*domain.InstrumentFacts {
	return []*domain.InstrumentFacts{
		{
			ISIN:           "IE00B4L5Y983",
			Name:           "iShares Core MSCI World",
			Layer:          domain.LayerGlobalCore,
			InstrumentType: domain.InstrumentTypeETF,
			SubClass:       "Developed Markets",
			TERPct:         domain.Float(0.20),
			BenchmarkIndex: "MSCI World",
			RiskIndicator:  domain.Int(4),
			Regions:        []domain.Exposure{{Name: "North America", Weight: domain.Float(72)}, {Name: "Europe", Weight: domain.Float(16)}},
			Complete:       true,
		},
		{
			ISIN:           "IE00BKM4GZ66",
			Name:           "iShares Core MSCI EM IMI",
			Layer:          domain.LayerCorePlus,
			InstrumentType: domain.InstrumentTypeETF,
			SubClass:       "Emerging Markets",
			TERPct:         domain.Float(0.18),
			BenchmarkIndex: "MSCI Emerging Markets IMI",
			RiskIndicator:  domain.Int(4),
			Regions:        []domain.Exposure{{Name: "Asia", Weight: domain.Float(78)}},
			Complete:       true,
		},
		{
			ISIN:           "IE00BM67HT60",
			Name:           "Xtrackers MSCI World Information Technology",
			Layer:          domain.LayerThemes,
			InstrumentType: domain.InstrumentTypeETF,
			SubClass:       "Sector",
			TERPct:         domain.Float(0.25),
			RiskIndicator:  domain.Int(5),
			Sectors:        []domain.Exposure{{Name: "Information Technology", Weight: domain.Float(99)}},
			Complete:       true,
		},
	}
}

// NewCandidateFixtures returns complete facts for instruments outside the saving plan
func NewCandidateFixtures() []*domain.InstrumentFacts {
	return []*domain.InstrumentFacts{
		{
			ISIN:           "IE00BFY0GT14",
			Name:           "SPDR MSCI World Small Cap",
			Layer:          domain.LayerCorePlus,
			InstrumentType: domain.InstrumentTypeETF,
			SubClass:       "Small Cap",
			TERPct:         domain.Float(0.45),
			Regions:        []domain.Exposure{{Name: "North America", Weight: domain.Float(60)}},
			Complete:       true,
		},
		{
			ISIN:           "IE00BYZK4552",
			Name:           "iShares Automation & Robotics",
			Layer:          domain.LayerThemes,
			InstrumentType: domain.InstrumentTypeETF,
			SubClass:       "Thematic",
			TERPct:         domain.Float(0.40),
			Sectors:        []domain.Exposure{{Name: "Industrials", Weight: domain.Float(45)}},
			Complete:       true,
		},
	}
}
