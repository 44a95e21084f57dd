// Package rebalancing turns holdings, the current saving plan and a layer
// target profile into a proposed monthly contribution per layer and per
// instrument.
package rebalancing

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/gating"
	"github.com/aristath/layerwise/internal/modules/layers"
	"github.com/aristath/layerwise/internal/modules/projection"
	"github.com/aristath/layerwise/internal/modules/scoring"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/aristath/layerwise/internal/modules/weighting"
)

// Service orchestrates the rebalancing engine
type Service struct {
	settings  Settings
	blender   *projection.Blender
	allocator *weighting.Allocator
	suggester *suggestions.Suggester
	log       zerolog.Logger
}

// NewService creates a new rebalancing service
func NewService(settings Settings, log zerolog.Logger) *Service {
	return &Service{
		settings: settings,
		blender: projection.NewBlender(projection.Params{
			HorizonMonths: settings.HorizonMonths,
			VariancePct:   settings.VariancePct,
			BlendMin:      settings.BlendMin,
			BlendMax:      settings.BlendMax,
		}),
		allocator: weighting.NewAllocator(log),
		suggester: suggestions.NewSuggester(log),
		log:       log.With().Str("service", "rebalancing").Logger(),
	}
}

// Settings returns the policy the service runs with
func (s *Service) Settings() Settings {
	return s.settings
}

// plan is the per-request working state
type plan struct {
	req          Request
	current      layers.Amounts
	monthlyTotal float64
	targets      layers.Amounts
	byLayer      [domain.LayerCount][]domain.ContributionItem
}

// Propose computes the layer and instrument proposal for req.
//
// Precondition errors are returned before any allocation work starts; every
// other input produces a proposal.
func (s *Service) Propose(ctx context.Context, req Request) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	blend := s.blender.Blend(projection.Input{
		Holdings:       p.req.Holdings,
		CurrentMonthly: p.current,
		MonthlyTotal:   p.monthlyTotal,
		TargetWeights:  p.targets,
	})
	savingPlan := gating.ApplySavingPlanMinimum(blend.Desired, s.settings.MinimumSavingPlan)

	withinTolerance := layers.WithinTolerance(layers.Distribution(p.current, p.current.Sum()), p.targets, s.settings.VariancePct) &&
		!savingPlan.Rebalanced &&
		p.delta() == 0 &&
		p.current.Sum() > 0

	baseline := savingPlan.Amounts
	source := SourceTargets
	if withinTolerance {
		baseline = p.current
		source = SourceActual
	}
	gate := gating.ApplyRebalancingMinimum(p.current, baseline, s.settings.MinimumRebalancing)

	s.log.Debug().
		Float64("monthly_total", p.monthlyTotal).
		Bool("within_tolerance", withinTolerance).
		Bool("saving_plan_rebalanced", savingPlan.Rebalanced).
		Int("suppressed", gate.SuppressedCount).
		Float64("residual", gate.Residual).
		Msg("Layer amounts gated")

	proposal := &Proposal{
		AsOf:         p.req.AsOf,
		MonthlyTotal: p.monthlyTotal,
		Source:       source,
		Suggestions:  []suggestions.Suggestion{},
		Weighting:    []weighting.Summary{},
		Warnings:     []domain.Warning{},
		Notes:        []string{},
		Diagnostics: Diagnostics{
			WithinTolerance:       withinTolerance,
			SuppressedDeltaCount:  gate.SuppressedCount,
			SuppressedAmountTotal: gate.SuppressedAmount,
			Residual:              gate.Residual,
			Iterations:            gate.Iterations,
			RedistributionNotes:   nonNil(gate.Notes),
			SavingPlanRebalanced:  savingPlan.Rebalanced,
			ZeroedLayers:          savingPlan.ZeroedLayers,
			RaisedLayerOne:        savingPlan.RaisedLayerOne,
			SkippedLayers:         gate.SkippedLayers,
			BlendFactor:           blend.BlendFactor,
			HorizonMonths:         blend.HorizonMonths,
			ProjectedTotal:        blend.ProjectedTotal,
			Fallback:              blend.Fallback,
		},
	}

	budgets := gate.Amounts
	if withinTolerance {
		proposal.Instruments = keepCurrent(p)
	} else {
		proposal.Instruments = s.allocateInstruments(p, budgets, skippedSet(gate.SkippedLayers), proposal)
	}
	budgets = reconcile(budgets, proposal.Instruments)

	// Residual covers the gate and the whole-euro instrument split
	proposal.Diagnostics.Residual = snap(budgets.Sum() - savingPlan.Amounts.Sum())
	if drift := snap(budgets.Sum() - gate.Amounts.Sum()); drift != 0 {
		proposal.Diagnostics.RedistributionNotes = append(proposal.Diagnostics.RedistributionNotes,
			fmt.Sprintf("Instrument rounding moved the total by %s EUR", gating.FormatEUR(drift)))
	}
	proposal.Layers = s.layerProposals(p, budgets, blend)
	proposal.Notes = s.notes(proposal, gate)

	return proposal, nil
}

// prepare validates req and resolves the per-layer view of the saving plan
func (s *Service) prepare(req Request) (*plan, error) {
	if len(req.Items) == 0 && req.Holdings.Sum() <= 0 {
		return nil, domain.ErrNoHoldings
	}
	if req.SavingPlanDelta != nil {
		delta := *req.SavingPlanDelta
		if delta < 0 {
			return nil, domain.ErrNegativeDelta
		}
		if delta > 0 && delta < s.settings.MinimumSavingPlan {
			return nil, fmt.Errorf("%w: %s < %s", domain.ErrDeltaBelowMinimum,
				gating.FormatEUR(delta), gating.FormatEUR(s.settings.MinimumSavingPlan))
		}
	}

	p := &plan{req: req, targets: layers.NormalizeWeights(s.settings.TargetWeights())}
	for i := range p.req.Holdings {
		p.req.Holdings[i] = math.Max(0, p.req.Holdings[i])
	}
	for _, item := range req.Items {
		layer := domain.ClassifyLayer(int(item.Layer))
		item.Layer = layer
		item.ISIN = domain.NormalizeISIN(item.ISIN)
		item.MonthlyAmount = math.Max(0, item.MonthlyAmount)
		if item.ISIN == "" {
			continue
		}
		p.byLayer[layer.Index()] = append(p.byLayer[layer.Index()], item)
		p.current[layer.Index()] += item.MonthlyAmount
	}
	p.monthlyTotal = p.current.Sum() + p.delta()
	return p, nil
}

func (p *plan) delta() float64 {
	if p.req.SavingPlanDelta == nil {
		return 0
	}
	return *p.req.SavingPlanDelta
}

// heldIn returns the held ISINs whose facts place them in layer
func (p *plan) heldIn(layer domain.LayerID) []string {
	var out []string
	for _, isin := range p.req.HeldISINs {
		if f := p.req.Facts.Lookup(isin); f != nil && domain.ClassifyLayer(int(f.Layer)) == layer {
			out = append(out, isin)
		}
	}
	return out
}

// keepCurrent proposes every instrument at its current amount
func keepCurrent(p *plan) []InstrumentProposal {
	var out []InstrumentProposal
	for i := range p.byLayer {
		for _, inst := range mergeItems(p.byLayer[i]) {
			out = append(out, InstrumentProposal{
				ISIN:           inst.ISIN,
				Name:           inst.Name,
				Layer:          domain.LayerFromIndex(i),
				CurrentAmount:  inst.CurrentAmount,
				ProposedAmount: inst.CurrentAmount,
				Reasons:        domain.ReasonCodes{domain.ReasonNoChangeWithinTolerance},
			})
		}
	}
	return nonNilInstruments(out)
}

// keepLayer proposes the instruments of a layer whose change the rebalancing
// gate suppressed at their current amounts
func keepLayer(layer domain.LayerID, items []domain.ContributionItem) []InstrumentProposal {
	var out []InstrumentProposal
	for _, inst := range mergeItems(items) {
		out = append(out, InstrumentProposal{
			ISIN:           inst.ISIN,
			Name:           inst.Name,
			Layer:          layer,
			CurrentAmount:  inst.CurrentAmount,
			ProposedAmount: inst.CurrentAmount,
			Reasons:        domain.ReasonCodes{domain.ReasonMinRebalanceAmount},
		})
	}
	return out
}

// allocateInstruments reserves gap suggestions and splits each layer budget.
// Layers in skipped keep their instruments unchanged.
func (s *Service) allocateInstruments(p *plan, budgets layers.Amounts, skipped map[domain.LayerID]bool, proposal *Proposal) []InstrumentProposal {
	var out []InstrumentProposal
	for i, budget := range budgets {
		layer := domain.LayerFromIndex(i)
		cfg := s.settings.Layer(layer)
		items := p.byLayer[i]

		if skipped[layer] && len(items) > 0 && math.Abs(budget-p.current[i]) < residualEpsilon {
			out = append(out, keepLayer(layer, items)...)
			continue
		}

		var reserved float64
		if budget > 0 && p.current[i] == 0 {
			result := s.suggester.SuggestLayer(suggestions.LayerRequest{
				Layer:          layer,
				Budget:         budget,
				SavingPlan:     isinsOf(items),
				Held:           p.heldIn(layer),
				Candidates:     p.req.Candidates,
				Facts:          p.req.Facts,
				Policy:         s.settings.GapPolicy,
				MinimumAmount:  s.settings.MinimumInstrument,
				MaxInstruments: cfg.MaxInstruments,
				RequireGap:     len(items) > 0,
			})
			reserved = result.Reserved()
			proposal.Suggestions = append(proposal.Suggestions, result.Suggestions...)
			for _, sg := range result.Suggestions {
				out = append(out, InstrumentProposal{
					ISIN:           sg.ISIN,
					Name:           sg.Name,
					Layer:          layer,
					ProposedAmount: sg.Amount,
					Delta:          sg.Amount,
					New:            true,
					Reasons:        sg.Reasons,
				})
			}
		}

		if len(items) == 0 {
			if budget > 0 && reserved == 0 {
				proposal.Warnings = append(proposal.Warnings, domain.Warning{
					Code:    domain.WarningLayerNoInstruments,
					Message: fmt.Sprintf("Layer %d has a budget of %s EUR but no instruments", int(layer), gating.FormatEUR(budget)),
					Layer:   layer,
				})
			}
			continue
		}

		instruments := mergeItems(items)
		result := s.allocator.Allocate(weighting.Request{
			Layer:       layer,
			Budget:      budget,
			Reserved:    reserved,
			Instruments: instruments,
			Facts:       p.req.Facts,
			Scores:      s.score(instruments, p.req.Facts, cfg.Risk.HighMin),
			Cutoff:      cfg.Risk.HighMin,
			Minimums: weighting.Minimums{
				SavingPlan:  s.settings.MinimumSavingPlan,
				Rebalancing: s.settings.MinimumRebalancing,
			},
		})
		if result.Summary != nil {
			proposal.Weighting = append(proposal.Weighting, *result.Summary)
		}
		if budget-reserved > 0 && result.Total() == 0 {
			proposal.Warnings = append(proposal.Warnings, domain.Warning{
				Code:    WarningLayerNoEligible,
				Message: fmt.Sprintf("Layer %d has no instrument below the risk cutoff %s", int(layer), decimal.NewFromFloat(cfg.Risk.HighMin).String()),
				Layer:   layer,
			})
		}
		for _, a := range result.Allocations {
			out = append(out, InstrumentProposal{
				ISIN:           a.ISIN,
				Name:           a.Name,
				Layer:          layer,
				CurrentAmount:  a.CurrentAmount,
				ProposedAmount: a.ProposedAmount,
				Delta:          a.Delta,
				Weight:         a.Weight,
				Reasons:        a.Reasons,
			})
		}
	}
	sortInstruments(out)
	return nonNilInstruments(out)
}

// score rates the instruments that have facts. Instruments without facts stay
// unscored and the allocator treats them as eligible.
func (s *Service) score(instruments []weighting.Instrument, facts domain.FactsIndex, cutoff float64) map[string]scoring.Score {
	var isins []string
	for _, inst := range instruments {
		if facts.Lookup(inst.ISIN) != nil {
			isins = append(isins, inst.ISIN)
		}
	}
	if len(isins) == 0 {
		return nil
	}
	return scoring.NewInstrumentScorer(cutoff).CalculateAll(isins, facts)
}

// reconcile replaces a layer amount with the sum of its instrument amounts
// whenever at least one instrument received money
func reconcile(budgets layers.Amounts, instruments []InstrumentProposal) layers.Amounts {
	var totals layers.Amounts
	for _, inst := range instruments {
		if inst.Layer.Valid() && inst.ProposedAmount > 0 {
			totals[inst.Layer.Index()] += inst.ProposedAmount
		}
	}
	for i, total := range totals {
		if total > 0 {
			budgets[i] = total
		}
	}
	return budgets
}

// residualEpsilon absorbs float noise left by summing amounts
const residualEpsilon = 1e-9

func snap(v float64) float64 {
	if math.Abs(v) < residualEpsilon {
		return 0
	}
	return v
}

func skippedSet(ids []domain.LayerID) map[domain.LayerID]bool {
	out := make(map[domain.LayerID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func (s *Service) layerProposals(p *plan, budgets layers.Amounts, blend projection.Result) []LayerProposal {
	currentWeights := layers.Distribution(p.current, p.current.Sum())
	out := make([]LayerProposal, domain.LayerCount)
	for i := range out {
		cfg := s.settings.Layers[i]
		out[i] = LayerProposal{
			Layer:                 domain.LayerFromIndex(i),
			Name:                  cfg.Name,
			CurrentAmount:         p.current[i],
			CurrentWeight:         currentWeights[i],
			TargetWeight:          p.targets[i],
			ProposedAmount:        budgets[i],
			Delta:                 budgets[i] - p.current[i],
			ProjectedTargetTotal:  blend.ProjectedTargetTotals[i],
			ProjectedTargetWeight: blend.ProjectedTargetWeights[i],
		}
	}
	return out
}

func (s *Service) notes(proposal *Proposal, gate gating.RebalancingResult) []string {
	notes := []string{}
	d := proposal.Diagnostics
	if d.WithinTolerance {
		notes = append(notes, fmt.Sprintf("Existing saving plan distribution is within tolerance (<= %s%%) and does not need adjustment.",
			decimal.NewFromFloat(s.settings.VariancePct).String()))
	}
	if d.RaisedLayerOne {
		notes = append(notes, fmt.Sprintf("Total saving plan amount is below the minimum saving plan size; increase Layer 1 to %s EUR.",
			decimal.NewFromFloat(s.settings.MinimumSavingPlan).String()))
	}
	if gate.SuppressedCount > 0 || hasReason(proposal.Instruments, domain.ReasonMinRebalanceAmount) {
		notes = append(notes, fmt.Sprintf("Adjustments below %s EUR are not proposed due to the minimum rebalancing amount.",
			decimal.NewFromFloat(s.settings.MinimumRebalancing).String()))
	}
	return notes
}

// mergeItems aggregates contribution items per ISIN across depots
func mergeItems(items []domain.ContributionItem) []weighting.Instrument {
	merged := map[string]*weighting.Instrument{}
	var order []string
	for _, item := range items {
		if inst, ok := merged[item.ISIN]; ok {
			inst.CurrentAmount += item.MonthlyAmount
			if inst.Name == "" {
				inst.Name = item.Name
			}
			continue
		}
		merged[item.ISIN] = &weighting.Instrument{ISIN: item.ISIN, Name: item.Name, CurrentAmount: item.MonthlyAmount}
		order = append(order, item.ISIN)
	}
	sort.Strings(order)
	out := make([]weighting.Instrument, len(order))
	for i, isin := range order {
		out[i] = *merged[isin]
	}
	return out
}

func isinsOf(items []domain.ContributionItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ISIN
	}
	return out
}

func sortInstruments(out []InstrumentProposal) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		if out[i].New != out[j].New {
			return !out[i].New
		}
		return out[i].ISIN < out[j].ISIN
	})
}

func hasReason(instruments []InstrumentProposal, code domain.ReasonCode) bool {
	for _, inst := range instruments {
		if inst.Reasons.Has(code) {
			return true
		}
	}
	return false
}

func nonNil(notes []string) []string {
	if notes == nil {
		return []string{}
	}
	return notes
}

func nonNilInstruments(in []InstrumentProposal) []InstrumentProposal {
	if in == nil {
		return []InstrumentProposal{}
	}
	return in
}
