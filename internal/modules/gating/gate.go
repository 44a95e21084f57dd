// Package gating enforces the minimum saving plan size and the minimum
// rebalancing amount on per-layer contribution amounts.
//
// Both gates run as small state machines: Evaluate decides whether there is
// anything to do, Adjust applies the rule, Reconverge repairs the total and
// Done freezes the result. Reconvergence is bounded by MaxIterations.
package gating

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aristath/layerwise/internal/domain"
)

// MaxIterations bounds the residual repair loop
const MaxIterations = 12

// epsilon below which a residual counts as resolved
const epsilon = 1e-9

type state int

const (
	stateEvaluate state = iota
	stateAdjust
	stateReconverge
	stateDone
)

func (s state) String() string {
	switch s {
	case stateEvaluate:
		return "evaluate"
	case stateAdjust:
		return "adjust"
	case stateReconverge:
		return "reconverge"
	default:
		return "done"
	}
}

// machine is implemented by each gate
type machine interface {
	evaluate() state
	adjust() state
	reconverge() state
}

// run drives m until it reaches stateDone
func run(m machine) {
	for st := stateEvaluate; st != stateDone; {
		switch st {
		case stateEvaluate:
			st = m.evaluate()
		case stateAdjust:
			st = m.adjust()
		case stateReconverge:
			st = m.reconverge()
		default:
			panic(fmt.Sprintf("gating: unknown state %v", st))
		}
	}
}

// layerSet collects layer ids in ascending order without duplicates
type layerSet map[domain.LayerID]struct{}

func (s layerSet) add(id domain.LayerID) {
	s[id] = struct{}{}
}

func (s layerSet) sorted() []domain.LayerID {
	out := make([]domain.LayerID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FormatLayers renders layer ids as "[1, 3]"
func FormatLayers(ids []domain.LayerID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", int(id))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// FormatEUR renders an amount with two decimals
func FormatEUR(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
