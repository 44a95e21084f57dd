package domain

import (
	"encoding/json"
	"fmt"
)

// ReasonCode explains why an instrument proposal has its amount.
// The set is closed: ParseReasonCode rejects anything not listed here.
type ReasonCode int

const (
	ReasonKBGapSuggestion ReasonCode = iota + 1
	ReasonRiskNotAcceptable
	ReasonMinAmountDropped
	ReasonLayerBudgetZero
	ReasonNoChangeWithinTolerance
	ReasonMinRebalanceAmount
	ReasonKBWeighted
	ReasonScoreWeighted
	ReasonEqualWeight
)

var reasonNames = map[ReasonCode]string{
	ReasonKBGapSuggestion:         "KB_GAP_SUGGESTION",
	ReasonRiskNotAcceptable:       "RISK_NOT_ACCEPTABLE",
	ReasonMinAmountDropped:        "MIN_AMOUNT_DROPPED",
	ReasonLayerBudgetZero:         "LAYER_BUDGET_ZERO",
	ReasonNoChangeWithinTolerance: "NO_CHANGE_WITHIN_TOLERANCE",
	ReasonMinRebalanceAmount:      "MIN_REBALANCE_AMOUNT",
	ReasonKBWeighted:              "KB_WEIGHTED",
	ReasonScoreWeighted:           "SCORE_WEIGHTED",
	ReasonEqualWeight:             "EQUAL_WEIGHT",
}

// AllReasonCodes lists every reason code in declaration order
func AllReasonCodes() []ReasonCode {
	codes := make([]ReasonCode, 0, len(reasonNames))
	for c := ReasonKBGapSuggestion; c <= ReasonEqualWeight; c++ {
		codes = append(codes, c)
	}
	return codes
}

func (r ReasonCode) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ReasonCode(%d)", int(r))
}

// ParseReasonCode converts a wire name back into a ReasonCode
func ParseReasonCode(s string) (ReasonCode, error) {
	for code, name := range reasonNames {
		if name == s {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown reason code %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (r ReasonCode) MarshalText() ([]byte, error) {
	name, ok := reasonNames[r]
	if !ok {
		return nil, fmt.Errorf("unknown reason code %d", int(r))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *ReasonCode) UnmarshalText(text []byte) error {
	code, err := ParseReasonCode(string(text))
	if err != nil {
		return err
	}
	*r = code
	return nil
}

// ReasonCodes is an ordered, duplicate-free list of reason codes
type ReasonCodes []ReasonCode

// Add appends code unless it is already present
func (rc ReasonCodes) Add(code ReasonCode) ReasonCodes {
	for _, existing := range rc {
		if existing == code {
			return rc
		}
	}
	return append(rc, code)
}

// Has reports whether code is present
func (rc ReasonCodes) Has(code ReasonCode) bool {
	for _, existing := range rc {
		if existing == code {
			return true
		}
	}
	return false
}

// MarshalJSON always emits an array, never null
func (rc ReasonCodes) MarshalJSON() ([]byte, error) {
	if rc == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]ReasonCode(rc))
}

// Warning is a non-fatal condition reported alongside a proposal
type Warning struct {
	Code    string  `json:"code" msgpack:"code"`
	Message string  `json:"message" msgpack:"message"`
	Layer   LayerID `json:"layer" msgpack:"layer"`
}

// WarningLayerNoInstruments flags a layer that has a budget but nothing to invest in
const WarningLayerNoInstruments = "LAYER_NO_INSTRUMENTS"
