package rebalancing

import (
	"time"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/layers"
	"github.com/aristath/layerwise/internal/modules/projection"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/aristath/layerwise/internal/modules/weighting"
)

// Default policy values
const (
	DefaultVariancePct        = 3.0
	DefaultMinimumSavingPlan  = 15.0
	DefaultMinimumRebalancing = 10.0
	DefaultMinimumInstrument  = 25.0
	DefaultLowRiskMax         = 30.0
	DefaultHighRiskMin        = 51.0
	DefaultMaxInstruments     = 3
)

// DefaultTargetWeights is the balanced layer split used when no profile is loaded
var DefaultTargetWeights = layers.Amounts{0.70, 0.20, 0.08, 0.02, 0}

// RiskCutoffs bound the low- and high-risk score bands of a layer
type RiskCutoffs struct {
	LowMax  float64 `json:"low_max" msgpack:"low_max"`
	HighMin float64 `json:"high_min" msgpack:"high_min"`
}

// LayerSettings is the fully resolved configuration of one layer
type LayerSettings struct {
	ID             domain.LayerID `json:"id" msgpack:"id"`
	Name           string         `json:"name" msgpack:"name"`
	TargetWeight   float64        `json:"target_weight" msgpack:"target_weight"`
	Risk           RiskCutoffs    `json:"risk" msgpack:"risk"`
	MaxInstruments int            `json:"max_instruments" msgpack:"max_instruments"`
}

// Settings holds every policy value the engine needs. All defaults are
// resolved before a Settings value reaches the engine.
type Settings struct {
	Layers             [domain.LayerCount]LayerSettings `json:"layers" msgpack:"layers"`
	VariancePct        float64                          `json:"variance_pct" msgpack:"variance_pct"`
	MinimumSavingPlan  float64                          `json:"minimum_saving_plan" msgpack:"minimum_saving_plan"`
	MinimumRebalancing float64                          `json:"minimum_rebalancing" msgpack:"minimum_rebalancing"`
	MinimumInstrument  float64                          `json:"minimum_instrument" msgpack:"minimum_instrument"`
	HorizonMonths      int                              `json:"horizon_months" msgpack:"horizon_months"`
	BlendMin           float64                          `json:"blend_min" msgpack:"blend_min"`
	BlendMax           float64                          `json:"blend_max" msgpack:"blend_max"`
	GapPolicy          suggestions.GapPolicy            `json:"gap_policy" msgpack:"gap_policy"`
}

// DefaultSettings returns the balanced profile with default policy values
func DefaultSettings() Settings {
	s := Settings{
		VariancePct:        DefaultVariancePct,
		MinimumSavingPlan:  DefaultMinimumSavingPlan,
		MinimumRebalancing: DefaultMinimumRebalancing,
		MinimumInstrument:  DefaultMinimumInstrument,
		HorizonMonths:      projection.DefaultHorizonMonths,
		BlendMin:           projection.DefaultBlendMin,
		BlendMax:           projection.DefaultBlendMax,
		GapPolicy:          suggestions.SavingPlanGaps,
	}
	for i := range s.Layers {
		s.Layers[i] = LayerSettings{
			ID:             domain.LayerFromIndex(i),
			Name:           domain.DefaultLayerNames[i],
			TargetWeight:   DefaultTargetWeights[i],
			Risk:           RiskCutoffs{LowMax: DefaultLowRiskMax, HighMin: DefaultHighRiskMin},
			MaxInstruments: DefaultMaxInstruments,
		}
	}
	return s
}

// TargetWeights returns the raw per-layer target weights
func (s Settings) TargetWeights() layers.Amounts {
	var out layers.Amounts
	for i, l := range s.Layers {
		out[i] = l.TargetWeight
	}
	return out
}

// Layer returns the settings for id
func (s Settings) Layer(id domain.LayerID) LayerSettings {
	return s.Layers[domain.ClassifyLayer(int(id)).Index()]
}

// Request is one advisory request. Holdings and contribution items are
// resolved by the caller before the engine runs.
type Request struct {
	AsOf     time.Time                 `json:"as_of"`
	Holdings layers.Amounts            `json:"holdings"`
	Items    []domain.ContributionItem `json:"items"`
	Facts    domain.FactsIndex         `json:"facts,omitempty"`
	// Candidates are instruments that may be suggested for empty layers
	Candidates []*domain.InstrumentFacts `json:"candidates,omitempty"`
	// HeldISINs are instruments in the portfolio, with or without a saving plan
	HeldISINs []string `json:"held_isins,omitempty"`
	// SavingPlanDelta, when set, grows the monthly total by that amount
	SavingPlanDelta *float64 `json:"saving_plan_delta,omitempty"`
}

// LayerProposal is the proposed monthly contribution for one layer
type LayerProposal struct {
	Layer                 domain.LayerID `json:"layer" msgpack:"layer"`
	Name                  string         `json:"name" msgpack:"name"`
	CurrentAmount         float64        `json:"current_amount" msgpack:"current_amount"`
	CurrentWeight         float64        `json:"current_weight" msgpack:"current_weight"`
	TargetWeight          float64        `json:"target_weight" msgpack:"target_weight"`
	ProposedAmount        float64        `json:"proposed_amount" msgpack:"proposed_amount"`
	Delta                 float64        `json:"delta" msgpack:"delta"`
	ProjectedTargetTotal  float64        `json:"projected_target_total" msgpack:"projected_target_total"`
	ProjectedTargetWeight float64        `json:"projected_target_weight" msgpack:"projected_target_weight"`
}

// InstrumentProposal is the proposed monthly amount for one instrument
type InstrumentProposal struct {
	ISIN           string             `json:"isin" msgpack:"isin"`
	Name           string             `json:"name" msgpack:"name"`
	Layer          domain.LayerID     `json:"layer" msgpack:"layer"`
	CurrentAmount  float64            `json:"current_amount" msgpack:"current_amount"`
	ProposedAmount float64            `json:"proposed_amount" msgpack:"proposed_amount"`
	Delta          float64            `json:"delta" msgpack:"delta"`
	Weight         float64            `json:"weight,omitempty" msgpack:"weight,omitempty"`
	New            bool               `json:"new,omitempty" msgpack:"new,omitempty"`
	Reasons        domain.ReasonCodes `json:"reason_codes" msgpack:"reason_codes"`
}

// Diagnostics explain how the gates shaped the proposal
type Diagnostics struct {
	WithinTolerance       bool             `json:"within_tolerance" msgpack:"within_tolerance"`
	SuppressedDeltaCount  int              `json:"suppressed_delta_count" msgpack:"suppressed_delta_count"`
	SuppressedAmountTotal float64          `json:"suppressed_amount_total" msgpack:"suppressed_amount_total"`
	Residual              float64          `json:"residual" msgpack:"residual"`
	Iterations            int              `json:"iterations" msgpack:"iterations"`
	RedistributionNotes   []string         `json:"redistribution_notes" msgpack:"redistribution_notes"`
	SavingPlanRebalanced  bool             `json:"saving_plan_rebalanced" msgpack:"saving_plan_rebalanced"`
	ZeroedLayers          []domain.LayerID `json:"zeroed_layers" msgpack:"zeroed_layers"`
	RaisedLayerOne        bool             `json:"raised_layer_one" msgpack:"raised_layer_one"`
	SkippedLayers         []domain.LayerID `json:"skipped_layers" msgpack:"skipped_layers"`
	BlendFactor           float64          `json:"blend_factor" msgpack:"blend_factor"`
	HorizonMonths         int              `json:"horizon_months" msgpack:"horizon_months"`
	ProjectedTotal        float64          `json:"projected_total" msgpack:"projected_total"`
	Fallback              bool             `json:"fallback" msgpack:"fallback"`
}

// Proposal sources
const (
	SourceActual  = "actual"
	SourceTargets = "targets"
)

// Proposal is the complete engine output for one request
type Proposal struct {
	AsOf         time.Time       `json:"as_of" msgpack:"as_of"`
	MonthlyTotal float64         `json:"monthly_total" msgpack:"monthly_total"`
	// Source is "actual" when the current plan is kept, "targets" otherwise
	Source      string                   `json:"source" msgpack:"source"`
	Layers      []LayerProposal          `json:"layers" msgpack:"layers"`
	Instruments []InstrumentProposal     `json:"instruments" msgpack:"instruments"`
	Suggestions []suggestions.Suggestion `json:"suggestions" msgpack:"suggestions"`
	Weighting   []weighting.Summary      `json:"weighting" msgpack:"weighting"`
	Warnings    []domain.Warning         `json:"warnings" msgpack:"warnings"`
	Notes       []string                 `json:"notes" msgpack:"notes"`
	Diagnostics Diagnostics              `json:"diagnostics" msgpack:"diagnostics"`
}

// ProposedAmounts returns the per-layer proposed amounts
func (p *Proposal) ProposedAmounts() layers.Amounts {
	var out layers.Amounts
	for _, l := range p.Layers {
		if l.Layer.Valid() {
			out[l.Layer.Index()] = l.ProposedAmount
		}
	}
	return out
}

// ProposedTotal returns the sum of proposed layer amounts
func (p *Proposal) ProposedTotal() float64 {
	return p.ProposedAmounts().Sum()
}

// OneTimeRequest asks how to split a single lump sum across layers
type OneTimeRequest struct {
	Amount   float64        `json:"amount"`
	Holdings layers.Amounts `json:"holdings"`
}

// OneTimeAllocation is the per-layer split of a lump sum
type OneTimeAllocation struct {
	Amount float64          `json:"amount" msgpack:"amount"`
	Layers layers.Amounts   `json:"layers" msgpack:"layers"`
	Gap    bool             `json:"gap_based" msgpack:"gap_based"`
	Merged []domain.LayerID `json:"merged_layers" msgpack:"merged_layers"`
}

// WarningLayerNoEligible flags a layer whose instruments are all above the risk cutoff
const WarningLayerNoEligible = "LAYER_NO_ELIGIBLE_INSTRUMENTS"
